package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"entitlement-engine-go/internal/api"
	"entitlement-engine-go/internal/billing"
	"entitlement-engine-go/internal/catalog"
	"entitlement-engine-go/internal/database"
	"entitlement-engine-go/internal/entitlement"
	"entitlement-engine-go/internal/gateway"
	"entitlement-engine-go/internal/metrics"
	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/notify"
	"entitlement-engine-go/internal/ownership"
	"entitlement-engine-go/internal/referral"
	"entitlement-engine-go/internal/subscription"
	"entitlement-engine-go/internal/usage"
	"entitlement-engine-go/internal/withdrawal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also come from the shell or the container
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	} else {
		log.Println("Loaded environment variables from .env file")
	}
}

// Services is the fully wired engine shared by the server and the CLI.
// Counter is only set when usage counters live in Redis.
type Services struct {
	DbService     *database.Service
	Catalog       *catalog.Catalog
	Registry      *prometheus.Registry
	Metrics       *metrics.Metrics
	Notifications *notify.Dispatcher
	Counter       *usage.RedisCounter
	Resolver      *ownership.Resolver
	Directory     *ownership.Directory
	Subscriptions *subscription.Service
	Usage         *usage.Service
	Evaluator     *entitlement.Evaluator
	Ledger        *referral.Ledger
	Gateway       *gateway.Client
	Withdrawals   *withdrawal.Workflow
	Billing       *billing.Service
}

func InitializeLogger(development bool) (*zap.Logger, func()) {
	var logger *zap.Logger
	var err error
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	c, err := catalog.Load(cfg.Billing.PlansFile)
	if err != nil {
		return nil, err
	}
	zap.L().Info("Plan catalog loaded",
		zap.String("currency", c.Currency()),
		zap.String("file", cfg.Billing.PlansFile))

	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	s := &Services{
		DbService: dbService,
		Catalog:   c,
		Registry:  prometheus.NewRegistry(),
	}
	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.Metrics = metrics.NewMetrics(s.Registry)
	s.Notifications = notify.NewDispatcher(notify.LogNotifier{}, 0, s.Metrics)

	var backend usage.Backend = dbService
	if cfg.Redis.URL != "" {
		counter, err := usage.NewRedisCounterFromURL(ctx, cfg.Redis.URL)
		if err != nil {
			s.Close()
			return nil, err
		}
		zap.L().Info("Usage counters stored in Redis")
		s.Counter = counter
		backend = counter
	}

	s.Gateway, err = gateway.NewClient(cfg.Gateway, c.Currency())
	if err != nil {
		s.Close()
		return nil, err
	}
	if cfg.Gateway.SecretKey == "" {
		zap.L().Warn("GATEWAY_SECRET_KEY is not set, checkout and payouts will be rejected by the gateway")
	}

	s.Resolver = ownership.NewResolver(dbService, cfg.Ownership, s.Metrics)
	s.Directory = ownership.NewDirectory(dbService, s.Resolver, cfg.Billing.TrialDuration)
	s.Subscriptions = subscription.NewService(dbService, s.Notifications, s.Metrics)
	s.Usage = usage.NewService(backend, c)
	s.Evaluator = entitlement.NewEvaluator(s.Resolver, s.Subscriptions, s.Usage, s.Notifications, s.Metrics)
	s.Ledger = referral.NewLedger(dbService, dbService, dbService, c, cfg.Referral, s.Notifications, s.Metrics)
	s.Withdrawals = withdrawal.NewWorkflow(dbService, s.Gateway, cfg.Withdrawal, s.Notifications, s.Metrics)

	opts := billing.Options{
		Checkouts: s.Gateway,
	}
	if cfg.Gateway.VerifyPayments {
		opts.Verifier = s.Gateway
	}
	s.Billing = billing.NewService(s.Subscriptions, s.Ledger, s.Withdrawals, dbService, c, opts, s.Metrics)

	return s, nil
}

// InitializeDatabaseOnly initializes just the database service without the
// payment gateway. Useful for read-only operations like querying balances
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	return dbService, nil
}

// HealthChecks lists the dependencies /healthz probes.
func (cs *Services) HealthChecks() map[string]api.Pinger {
	checks := map[string]api.Pinger{
		"database": cs.DbService,
	}
	if cs.Counter != nil {
		checks["redis"] = cs.Counter
	}
	return checks
}

func (cs *Services) Close() {
	if cs.Notifications != nil {
		cs.Notifications.Close()
	}
	if cs.Counter != nil {
		if err := cs.Counter.Close(); err != nil {
			zap.L().Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stderr: invalid argument")
}
