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

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/store"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

type Service struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	d, err := parseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if d == dialectSQLite && cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if d == dialectPostgres && cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty for postgres")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	var db *sql.DB
	switch d {
	case dialectPostgres:
		zap.L().Info("Opening PostgreSQL database")
		db, err = sql.Open("postgres", cfg.DSN)
	default:
		zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
		db, err = sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	if d == dialectSQLite && cfg.Path == ":memory:" {
		// every pooled connection would see its own empty database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after ping failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := newService(db, d)
	if err := service.initSchema(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after schema failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully", zap.String("driver", d.String()))
	return service, nil
}

func newService(db *sql.DB, d dialect) *Service {
	return &Service{
		db:      db,
		dialect: d,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema(ctx context.Context) error {
	schema := `
	-- Accounts: owners and their team members
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		owner_ref TEXT REFERENCES accounts(id),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_owner_ref ON accounts(owner_ref);

	-- One subscription row per owner
	CREATE TABLE IF NOT EXISTS subscription_states (
		owner_id TEXT PRIMARY KEY REFERENCES accounts(id),
		plan TEXT NOT NULL,
		status TEXT NOT NULL,
		trial_end TIMESTAMP,
		period_start TIMESTAMP,
		period_end TIMESTAMP,
		cancelled_at TIMESTAMP,
		trial_reminded_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_subscription_states_status ON subscription_states(status);

	-- Applied payments, unique per gateway reference
	CREATE TABLE IF NOT EXISTS subscription_payments (
		reference TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		plan TEXT NOT NULL,
		amount BIGINT NOT NULL,
		paid_through TIMESTAMP NOT NULL,
		paid_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_subscription_payments_owner ON subscription_payments(owner_id, paid_at);

	-- Usage counters, period bounds in unix seconds
	CREATE TABLE IF NOT EXISTS usage_counters (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		feature TEXT NOT NULL,
		period_start BIGINT NOT NULL,
		period_end BIGINT NOT NULL,
		count BIGINT NOT NULL DEFAULT 0,
		limit_value BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (owner_id, feature, period_start)
	);

	CREATE TABLE IF NOT EXISTS referral_edges (
		id TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL REFERENCES accounts(id),
		referred_id TEXT NOT NULL UNIQUE REFERENCES accounts(id),
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_referral_edges_referrer ON referral_edges(referrer_id);

	CREATE TABLE IF NOT EXISTS commission_entries (
		id TEXT PRIMARY KEY,
		referral_edge_id TEXT NOT NULL REFERENCES referral_edges(id),
		referrer_id TEXT NOT NULL,
		referred_id TEXT NOT NULL,
		billing_event_id TEXT NOT NULL,
		plan TEXT NOT NULL,
		payment_amount BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		status TEXT NOT NULL,
		period_index INTEGER NOT NULL,
		withdrawal_id TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (referral_edge_id, billing_event_id)
	);

	CREATE INDEX IF NOT EXISTS idx_commission_entries_referrer ON commission_entries(referrer_id, status);
	CREATE INDEX IF NOT EXISTS idx_commission_entries_event ON commission_entries(billing_event_id);

	CREATE TABLE IF NOT EXISTS withdrawal_requests (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES accounts(id),
		amount BIGINT NOT NULL,
		status TEXT NOT NULL,
		bank_code TEXT NOT NULL,
		account_number TEXT NOT NULL,
		account_name TEXT NOT NULL,
		bank_ref TEXT,
		failure_reason TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_owner ON withdrawal_requests(owner_id, status);
	-- At most one non-terminal request per owner
	CREATE UNIQUE INDEX IF NOT EXISTS idx_withdrawal_requests_open
		ON withdrawal_requests(owner_id) WHERE status IN ('pending', 'processing');
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	zap.L().Info("Database schema initialized")
	return nil
}

// InitSchema exposes schema creation for tests and setup tooling.
func (s *Service) InitSchema(ctx context.Context) error {
	return s.initSchema(ctx)
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		zap.L().Warn("Failed to close rows", zap.Error(err))
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}
