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
	"errors"
	"regexp"
	"testing"
	"time"

	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDb(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newService(db, dialectPostgres), mock
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		driver   string
		expected dialect
		wantErr  bool
	}{
		{"", dialectSQLite, false},
		{"sqlite3", dialectSQLite, false},
		{"SQLite", dialectSQLite, false},
		{"postgres", dialectPostgres, false},
		{"postgresql", dialectPostgres, false},
		{"mysql", 0, true},
	}

	for _, tt := range tests {
		d, err := parseDialect(tt.driver)
		if tt.wantErr {
			assert.Error(t, err, tt.driver)
			continue
		}
		assert.NoError(t, err, tt.driver)
		assert.Equal(t, tt.expected, d, tt.driver)
	}
}

func TestPlaceholderRebinding(t *testing.T) {
	pg := newService(nil, dialectPostgres)
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)",
		pg.q("SELECT a FROM t WHERE x = ? AND y IN (?, ?)"))

	lite := newService(nil, dialectSQLite)
	assert.Equal(t, "WHERE x = ?", lite.q("WHERE x = ?"))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}

func TestPostgresGetWithdrawalUsesNumberedPlaceholders(t *testing.T) {
	s, mock := setupMockDb(t)
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "owner_id", "amount", "status", "bank_code", "account_number",
		"account_name", "bank_ref", "failure_reason", "created_at", "updated_at"}).
		AddRow("w1", "alice", int64(1000), "pending", "058", "0123456789", "Alice", nil, nil, now, now)
	mock.ExpectQuery(`FROM withdrawal_requests\s+WHERE id = \$1`).
		WithArgs("w1").
		WillReturnRows(rows)

	w, err := s.GetWithdrawal(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPending, w.Status)
	assert.Equal(t, int64(1000), w.Amount)
	assert.Empty(t, w.BankRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUniqueViolationMapsToDuplicate(t *testing.T) {
	s, mock := setupMockDb(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO referral_edges")).
		WithArgs(sqlmock.AnyArg(), "alice", "bob", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := s.CreateReferralEdge(context.Background(), "alice", "bob", time.Now())
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIncrementUsageDenied(t *testing.T) {
	s, mock := setupMockDb(t)
	key := models.CounterKey{
		OwnerId:     "alice",
		Feature:     models.FeatureInvoices,
		PeriodStart: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2030, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO usage_counters")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("AND ($6 < 0 OR count < $7)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count FROM usage_counters")).
		WithArgs("alice", "invoices", key.PeriodStart.Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))

	allowed, count, err := s.IncrementUsage(context.Background(), key, 5)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(5), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresErrorPropagates(t *testing.T) {
	s, mock := setupMockDb(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE commission_entries")).
		WillReturnError(errors.New("connection reset by peer"))

	_, err := s.ConfirmCommissionsBefore(context.Background(), time.Now(), time.Now())
	require.Error(t, err)
	assert.True(t, models.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
