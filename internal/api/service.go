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

// Package api exposes the engine over HTTP: entitlement checks, subscription
// and upgrade management, referral payouts and the gateway webhook.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"entitlement-engine-go/internal/billing"
	"entitlement-engine-go/internal/metrics"
	"entitlement-engine-go/internal/models"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

type Entitlements interface {
	CanPerform(ctx context.Context, accountId string, feature models.Feature) (models.Decision, error)
	Entitlements(ctx context.Context, accountId string) (*models.EntitlementSummary, error)
}

type Subscriptions interface {
	GetState(ctx context.Context, ownerId string) (*models.SubscriptionState, error)
	Cancel(ctx context.Context, ownerId string) (*models.SubscriptionState, error)
}

type Billing interface {
	HandleEvent(ctx context.Context, evt billing.WebhookEvent) error
	QuoteUpgrade(ctx context.Context, ownerId string, newPlan models.Plan) (*models.UpgradeQuote, error)
	StartCheckout(ctx context.Context, ownerId string, newPlan models.Plan) (*models.CheckoutSession, error)
}

type Withdrawals interface {
	Balance(ctx context.Context, ownerId string) (*models.CommissionBalance, error)
	RequestWithdrawal(ctx context.Context, ownerId string, amount int64, bank models.BankDetails) (*models.WithdrawalRequest, error)
	Approve(ctx context.Context, requestId string) (*models.WithdrawalRequest, error)
	Reject(ctx context.Context, requestId, reason string) (*models.WithdrawalRequest, error)
}

type Commissions interface {
	Confirm(ctx context.Context, entryId string) (*models.CommissionEntry, error)
	Void(ctx context.Context, entryId string) (*models.CommissionEntry, error)
}

// Pinger is anything /healthz should probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config wires the handlers to the services behind them.
type Config struct {
	Entitlements  Entitlements
	Subscriptions Subscriptions
	Billing       Billing
	Withdrawals   Withdrawals
	Commissions   Commissions
	HealthChecks  map[string]Pinger
	WebhookSecret string
	Metrics       *metrics.Metrics
	Registry      *prometheus.Registry
}

type Service struct {
	entitlements  Entitlements
	subscriptions Subscriptions
	billing       Billing
	withdrawals   Withdrawals
	commissions   Commissions
	healthChecks  map[string]Pinger
	webhookSecret string
	metrics       *metrics.Metrics
	registry      *prometheus.Registry
}

func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Entitlements == nil:
		return nil, fmt.Errorf("entitlement service is required")
	case cfg.Subscriptions == nil:
		return nil, fmt.Errorf("subscription service is required")
	case cfg.Billing == nil:
		return nil, fmt.Errorf("billing service is required")
	case cfg.Withdrawals == nil:
		return nil, fmt.Errorf("withdrawal workflow is required")
	case cfg.Commissions == nil:
		return nil, fmt.Errorf("commission ledger is required")
	}
	return &Service{
		entitlements:  cfg.Entitlements,
		subscriptions: cfg.Subscriptions,
		billing:       cfg.Billing,
		withdrawals:   cfg.Withdrawals,
		commissions:   cfg.Commissions,
		healthChecks:  cfg.HealthChecks,
		webhookSecret: cfg.WebhookSecret,
		metrics:       cfg.Metrics,
		registry:      cfg.Registry,
	}, nil
}

// RegisterRoutes registers every route on router.
func (s *Service) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/gateway", s.handleWebhook).Methods(http.MethodPost)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/accounts/{id}/entitlements/{feature}", s.canPerform).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id}/entitlements", s.getEntitlements).Methods(http.MethodGet)

	v1.HandleFunc("/owners/{id}/subscription", s.getSubscription).Methods(http.MethodGet)
	v1.HandleFunc("/owners/{id}/cancel", s.cancelSubscription).Methods(http.MethodPost)
	v1.HandleFunc("/owners/{id}/upgrade-quote", s.quoteUpgrade).Methods(http.MethodGet)
	v1.HandleFunc("/owners/{id}/checkout", s.startCheckout).Methods(http.MethodPost)

	v1.HandleFunc("/owners/{id}/balance", s.getBalance).Methods(http.MethodGet)
	v1.HandleFunc("/owners/{id}/withdrawals", s.requestWithdrawal).Methods(http.MethodPost)
	v1.HandleFunc("/withdrawals/{id}/approve", s.approveWithdrawal).Methods(http.MethodPost)
	v1.HandleFunc("/withdrawals/{id}/reject", s.rejectWithdrawal).Methods(http.MethodPost)

	v1.HandleFunc("/commissions/{id}/confirm", s.confirmCommission).Methods(http.MethodPost)
	v1.HandleFunc("/commissions/{id}/void", s.voidCommission).Methods(http.MethodPost)

	router.HandleFunc("/healthz", s.healthCheck).Methods(http.MethodGet)
	if s.registry != nil {
		router.Handle("/metrics", metrics.Handler(s.registry)).Methods(http.MethodGet)
	}
}

// Router returns a router with every route registered and instrumented.
func (s *Service) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.metrics.Middleware)
	s.RegisterRoutes(router)
	return router
}

// HealthCheck pings every registered dependency.
func (s *Service) HealthCheck(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	results := make(map[string]error, len(s.healthChecks))
	for name, p := range s.healthChecks {
		if err := p.Ping(ctx); err != nil {
			results[name] = fmt.Errorf("%s health check failed: %w", name, err)
			continue
		}
		results[name] = nil
	}
	return results
}

func (s *Service) healthCheck(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := http.StatusOK
	for name, err := range s.HealthCheck(r.Context()) {
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": checks,
	})
}
