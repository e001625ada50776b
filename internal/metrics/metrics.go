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

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so services can be built without a registry in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Entitlement metrics
	EntitlementChecksTotal *prometheus.CounterVec
	OwnerCacheLookupsTotal *prometheus.CounterVec

	// Billing metrics
	BillingEventsTotal     *prometheus.CounterVec
	CommissionsCredited    prometheus.Counter
	CommissionAmountTotal  prometheus.Counter
	WithdrawalsTotal       *prometheus.CounterVec
	SubscriptionsExpired   prometheus.Counter
	NotificationsDropped   prometheus.Counter
	NotificationsDelivered *prometheus.CounterVec

	// Job metrics
	JobRunsTotal   *prometheus.CounterVec
	JobRunDuration *prometheus.HistogramVec
	JobItemsTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitlements_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		EntitlementChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_checks_total",
				Help: "Entitlement checks by feature, effective plan and outcome",
			},
			[]string{"feature", "plan", "outcome"},
		),
		OwnerCacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_owner_cache_lookups_total",
				Help: "Ownership resolver cache lookups",
			},
			[]string{"result"},
		),

		BillingEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_billing_events_total",
				Help: "Gateway events processed by type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		CommissionsCredited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "entitlements_commissions_credited_total",
				Help: "Commission entries created",
			},
		),
		CommissionAmountTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "entitlements_commission_amount_minor_total",
				Help: "Commission credited in minor currency units",
			},
		),
		WithdrawalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_withdrawals_total",
				Help: "Withdrawal requests by resulting status",
			},
			[]string{"status"},
		),
		SubscriptionsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "entitlements_subscriptions_expired_total",
				Help: "Subscriptions moved to expired by the sweep",
			},
		),
		NotificationsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "entitlements_notifications_dropped_total",
				Help: "Notifications dropped because the dispatch queue was full",
			},
		),
		NotificationsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_notifications_total",
				Help: "Notifications handed to the notifier by type",
			},
			[]string{"type"},
		),

		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_job_runs_total",
				Help: "Scheduled job runs by job and outcome",
			},
			[]string{"job", "outcome"},
		),
		JobRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitlements_job_run_duration_seconds",
				Help:    "Scheduled job duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		JobItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_job_items_total",
				Help: "Rows affected by scheduled jobs",
			},
			[]string{"job"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EntitlementChecksTotal,
		m.OwnerCacheLookupsTotal,
		m.BillingEventsTotal,
		m.CommissionsCredited,
		m.CommissionAmountTotal,
		m.WithdrawalsTotal,
		m.SubscriptionsExpired,
		m.NotificationsDropped,
		m.NotificationsDelivered,
		m.JobRunsTotal,
		m.JobRunDuration,
		m.JobItemsTotal,
	)

	return m
}

func (m *Metrics) ObserveEntitlement(feature, plan string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.EntitlementChecksTotal.WithLabelValues(feature, plan, outcome).Inc()
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.OwnerCacheLookupsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveBillingEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.BillingEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) ObserveCommission(amount int64) {
	if m == nil {
		return
	}
	m.CommissionsCredited.Inc()
	m.CommissionAmountTotal.Add(float64(amount))
}

func (m *Metrics) ObserveWithdrawal(status string) {
	if m == nil {
		return
	}
	m.WithdrawalsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveExpired(n int) {
	if m == nil {
		return
	}
	m.SubscriptionsExpired.Add(float64(n))
}

func (m *Metrics) ObserveNotification(eventType string, dropped bool) {
	if m == nil {
		return
	}
	if dropped {
		m.NotificationsDropped.Inc()
		return
	}
	m.NotificationsDelivered.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveJob(job string, started time.Time, items int64, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.JobRunsTotal.WithLabelValues(job, outcome).Inc()
	m.JobRunDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
	m.JobItemsTotal.WithLabelValues(job).Add(float64(items))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware instruments requests, labelled by route template rather than raw
// path to keep label cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry on /metrics
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
