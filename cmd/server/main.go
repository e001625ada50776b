/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"entitlement-engine-go/internal/api"
	"entitlement-engine-go/internal/common"
	"entitlement-engine-go/internal/config"
	"entitlement-engine-go/internal/jobs"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	addrFlag := flag.String("addr", "", "Listen address (overrides HTTP_ADDR)")
	noJobs := flag.Bool("no-jobs", false, "Serve HTTP only; do not run scheduled jobs")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger, _ := common.InitializeLogger(false)
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if *addrFlag != "" {
		cfg.Server.Addr = *addrFlag
	}

	_, loggerCleanup := common.InitializeLogger(cfg.LogDevelopment)
	defer loggerCleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zap.L().Info("Starting entitlement engine", zap.String("addr", cfg.Server.Addr))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	apiService, err := api.NewService(api.Config{
		Entitlements:  services.Evaluator,
		Subscriptions: services.Subscriptions,
		Billing:       services.Billing,
		Withdrawals:   services.Withdrawals,
		Commissions:   services.Ledger,
		HealthChecks:  services.HealthChecks(),
		WebhookSecret: cfg.Gateway.WebhookSecret,
		Metrics:       services.Metrics,
		Registry:      services.Registry,
	})
	if err != nil {
		zap.L().Fatal("Failed to build API", zap.Error(err))
	}
	if cfg.Gateway.WebhookSecret == "" {
		zap.L().Warn("GATEWAY_WEBHOOK_SECRET is not set, every webhook will be rejected")
	}

	var scheduler *jobs.Scheduler
	if !*noJobs {
		scheduler, err = jobs.NewScheduler(services.Subscriptions, services.Ledger, cfg.Jobs, services.Metrics)
		if err != nil {
			zap.L().Fatal("Failed to schedule jobs", zap.Error(err))
		}
		scheduler.Start()
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      apiService.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("Shutdown signal received, stopping server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if scheduler != nil {
			if err := scheduler.Stop(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("Forced shutdown", zap.Error(err))
		return
	}
	zap.L().Info("Stopped gracefully")
}
