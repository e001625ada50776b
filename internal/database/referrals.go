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
	"errors"
	"fmt"
	"time"

	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Service) CreateReferralEdge(ctx context.Context, referrerId, referredId string, at time.Time) (*models.ReferralEdge, error) {
	edge := &models.ReferralEdge{
		Id:         uuid.New().String(),
		ReferrerId: referrerId,
		ReferredId: referredId,
		CreatedAt:  at.UTC(),
	}

	_, err := s.db.ExecContext(ctx, s.q(queryInsertReferralEdge), edge.Id, referrerId, referredId, edge.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: account %s already has a referrer", store.ErrDuplicate, referredId)
		}
		return nil, fmt.Errorf("unable to insert referral edge: %w", err)
	}

	zap.L().Info("Referral recorded",
		zap.String("referrer_id", referrerId),
		zap.String("referred_id", referredId))
	return edge, nil
}

func (s *Service) GetReferralEdgeByReferred(ctx context.Context, referredId string) (*models.ReferralEdge, error) {
	var edge models.ReferralEdge
	err := s.db.QueryRowContext(ctx, s.q(queryGetReferralEdgeByReferred), referredId).
		Scan(&edge.Id, &edge.ReferrerId, &edge.ReferredId, &edge.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no referral for account %s", store.ErrNotFound, referredId)
		}
		return nil, fmt.Errorf("unable to query referral edge: %w", err)
	}
	return &edge, nil
}

func (s *Service) ListReferrals(ctx context.Context, referrerId string) ([]models.ReferralEdge, error) {
	rows, err := s.db.QueryContext(ctx, s.q(queryListReferrals), referrerId)
	if err != nil {
		return nil, fmt.Errorf("unable to query referrals: %w", err)
	}
	defer closeRows(rows)

	var edges []models.ReferralEdge
	for rows.Next() {
		var edge models.ReferralEdge
		if err := rows.Scan(&edge.Id, &edge.ReferrerId, &edge.ReferredId, &edge.CreatedAt); err != nil {
			return nil, fmt.Errorf("unable to scan referral row: %w", err)
		}
		edges = append(edges, edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating referral rows: %w", err)
	}
	return edges, nil
}

func scanCommission(row rowScanner) (*models.CommissionEntry, error) {
	var entry models.CommissionEntry
	var plan, status string
	var withdrawalId sql.NullString
	err := row.Scan(&entry.Id, &entry.ReferralEdgeId, &entry.ReferrerId, &entry.ReferredId,
		&entry.BillingEventId, &plan, &entry.PaymentAmount, &entry.Amount, &status,
		&entry.PeriodIndex, &withdrawalId, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	entry.Plan = models.Plan(plan)
	entry.Status = models.CommissionStatus(status)
	entry.WithdrawalId = withdrawalId.String
	return &entry, nil
}

// CreditCommission is an idempotent upsert keyed by (edge, billing event):
// concurrent deliveries of the same event produce one row.
func (s *Service) CreditCommission(ctx context.Context, params store.CreditCommissionParams) (*models.CommissionEntry, bool, error) {
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	result, err := s.db.ExecContext(ctx, s.q(queryInsertCommission),
		uuid.New().String(), params.ReferralEdgeId, params.ReferrerId, params.ReferredId,
		params.BillingEventId, string(params.Plan), params.PaymentAmount, params.Amount,
		params.PeriodIndex, createdAt.UTC(), createdAt.UTC())
	if err != nil {
		zap.L().Error("Failed to insert commission entry",
			zap.String("billing_event_id", params.BillingEventId),
			zap.Error(err))
		return nil, false, fmt.Errorf("unable to insert commission entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("unable to get rows affected: %w", err)
	}

	entry, err := scanCommission(s.db.QueryRowContext(ctx, s.q(queryGetCommissionByEvent),
		params.ReferralEdgeId, params.BillingEventId))
	if err != nil {
		return nil, false, fmt.Errorf("unable to read commission entry: %w", err)
	}

	return entry, rowsAffected == 1, nil
}

func (s *Service) GetCommissionEntry(ctx context.Context, entryId string) (*models.CommissionEntry, error) {
	entry, err := scanCommission(s.db.QueryRowContext(ctx, s.q(queryGetCommission), entryId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: commission entry %s", store.ErrNotFound, entryId)
		}
		return nil, fmt.Errorf("unable to query commission entry: %w", err)
	}
	return entry, nil
}

func (s *Service) ConfirmCommission(ctx context.Context, entryId string, at time.Time) (*models.CommissionEntry, error) {
	return s.transitionCommission(ctx, queryConfirmCommission, entryId, at, models.CommissionConfirmed)
}

func (s *Service) VoidCommission(ctx context.Context, entryId string, at time.Time) (*models.CommissionEntry, error) {
	return s.transitionCommission(ctx, queryVoidCommission, entryId, at, models.CommissionVoided)
}

// transitionCommission applies a guarded status update. Repeating a
// transition that already happened is a no-op.
func (s *Service) transitionCommission(ctx context.Context, query, entryId string, at time.Time, target models.CommissionStatus) (*models.CommissionEntry, error) {
	result, err := s.db.ExecContext(ctx, s.q(query), at.UTC(), entryId)
	if err != nil {
		return nil, fmt.Errorf("unable to update commission entry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("unable to get rows affected: %w", err)
	}

	entry, err := s.GetCommissionEntry(ctx, entryId)
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 && entry.Status != target {
		return nil, fmt.Errorf("%w: commission entry %s is %s, cannot become %s",
			store.ErrInvalidTransition, entryId, entry.Status, target)
	}

	zap.L().Info("Commission entry transitioned",
		zap.String("entry_id", entryId),
		zap.String("status", string(entry.Status)))
	return entry, nil
}

func (s *Service) VoidCommissionsForBillingEvent(ctx context.Context, billingEventId string, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.q(queryVoidCommissionsForEvent), at.UTC(), billingEventId)
	if err != nil {
		return 0, fmt.Errorf("unable to void commission entries: %w", err)
	}
	return result.RowsAffected()
}

func (s *Service) ConfirmCommissionsBefore(ctx context.Context, cutoff, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.q(queryConfirmMatured), at.UTC(), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("unable to confirm matured commission entries: %w", err)
	}
	return result.RowsAffected()
}

func (s *Service) ListCommissionEntries(ctx context.Context, referrerId string) ([]models.CommissionEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.q(queryListCommissions), referrerId)
	if err != nil {
		return nil, fmt.Errorf("unable to query commission entries: %w", err)
	}
	defer closeRows(rows)

	var entries []models.CommissionEntry
	for rows.Next() {
		entry, err := scanCommission(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan commission row: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commission rows: %w", err)
	}
	return entries, nil
}

func (s *Service) GetCommissionBalance(ctx context.Context, ownerId string) (*models.CommissionBalance, error) {
	return s.commissionBalance(ctx, s.db, ownerId)
}

// commissionBalance derives the withdrawable amount from the ledger:
// confirmed and paid credits, minus completed payouts, minus open locks.
func (s *Service) commissionBalance(ctx context.Context, q queryer, ownerId string) (*models.CommissionBalance, error) {
	balance := &models.CommissionBalance{OwnerId: ownerId}

	err := q.QueryRowContext(ctx, s.q(queryCommissionTotals), ownerId).Scan(&balance.Pending, &balance.Earned)
	if err != nil {
		return nil, fmt.Errorf("unable to sum commission entries: %w", err)
	}

	err = q.QueryRowContext(ctx, s.q(queryWithdrawalTotals), ownerId).Scan(&balance.Withdrawn, &balance.Locked)
	if err != nil {
		return nil, fmt.Errorf("unable to sum withdrawals: %w", err)
	}

	balance.Available = balance.Earned - balance.Withdrawn - balance.Locked
	if balance.Available < 0 {
		balance.Available = 0
	}
	return balance, nil
}
