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

	"go.uber.org/zap"
)

func scanSubscription(row rowScanner) (*models.SubscriptionState, error) {
	var state models.SubscriptionState
	var plan, status string
	var trialEnd, periodStart, periodEnd, cancelledAt, remindedAt sql.NullTime
	err := row.Scan(&state.OwnerId, &plan, &status, &trialEnd, &periodStart, &periodEnd,
		&cancelledAt, &remindedAt, &state.UpdatedAt)
	if err != nil {
		return nil, err
	}
	state.Plan = models.Plan(plan)
	state.Status = models.SubscriptionStatus(status)
	state.TrialEnd = fromNullTime(trialEnd)
	state.PeriodStart = fromNullTime(periodStart)
	state.PeriodEnd = fromNullTime(periodEnd)
	state.CancelledAt = fromNullTime(cancelledAt)
	state.TrialRemindedAt = fromNullTime(remindedAt)
	return &state, nil
}

func (s *Service) GetSubscriptionState(ctx context.Context, ownerId string) (*models.SubscriptionState, error) {
	return s.getSubscriptionState(ctx, s.db, ownerId)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Service) getSubscriptionState(ctx context.Context, q queryer, ownerId string) (*models.SubscriptionState, error) {
	state, err := scanSubscription(q.QueryRowContext(ctx, s.q(queryGetSubscriptionState), ownerId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: subscription for owner %s", store.ErrNotFound, ownerId)
		}
		zap.L().Error("Failed to query subscription", zap.String("owner_id", ownerId), zap.Error(err))
		return nil, fmt.Errorf("unable to query subscription: %w", err)
	}
	return state, nil
}

// ApplyPurchase records the payment reference and activates the plan in one
// transaction. A reference seen before leaves the row untouched.
func (s *Service) ApplyPurchase(ctx context.Context, params store.ApplyPurchaseParams) (*models.SubscriptionState, bool, error) {
	zap.L().Info("Applying purchase",
		zap.String("owner_id", params.OwnerId),
		zap.String("plan", string(params.Plan)),
		zap.String("reference", params.Reference),
		zap.Time("paid_through", params.PaidThrough))

	now := s.now()
	paidAt := params.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, s.q(queryInsertPayment),
		params.Reference, params.OwnerId, string(params.Plan), params.Amount, params.PaidThrough.UTC(), paidAt.UTC())
	if err != nil {
		return nil, false, fmt.Errorf("failed to record payment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		zap.L().Info("Payment reference already applied, skipping",
			zap.String("owner_id", params.OwnerId),
			zap.String("reference", params.Reference))
		state, err := s.getSubscriptionState(ctx, tx, params.OwnerId)
		if err != nil {
			return nil, true, err
		}
		return state, true, nil
	}

	_, err = tx.ExecContext(ctx, s.q(queryActivateSubscription),
		params.OwnerId, string(params.Plan), paidAt.UTC(), params.PaidThrough.UTC(), now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to activate subscription: %w", err)
	}

	state, err := s.getSubscriptionState(ctx, tx, params.OwnerId)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Purchase applied successfully",
		zap.String("owner_id", params.OwnerId),
		zap.String("plan", string(state.Plan)),
		zap.Time("period_end", state.PeriodEnd))

	return state, false, nil
}

func (s *Service) CancelSubscription(ctx context.Context, ownerId string, at time.Time) (*models.SubscriptionState, error) {
	zap.L().Info("Cancelling subscription", zap.String("owner_id", ownerId))

	if _, err := s.db.ExecContext(ctx, s.q(queryCancelSubscription), ownerId, at.UTC(), s.now()); err != nil {
		return nil, fmt.Errorf("unable to cancel subscription: %w", err)
	}
	return s.GetSubscriptionState(ctx, ownerId)
}

func (s *Service) ExpireSubscriptions(ctx context.Context, now time.Time) ([]string, error) {
	now = now.UTC()
	rows, err := s.db.QueryContext(ctx, s.q(queryExpireSubscriptions), s.now(), now, now)
	if err != nil {
		return nil, fmt.Errorf("unable to expire subscriptions: %w", err)
	}
	defer closeRows(rows)

	var owners []string
	for rows.Next() {
		var ownerId string
		if err := rows.Scan(&ownerId); err != nil {
			return nil, fmt.Errorf("unable to scan expired owner: %w", err)
		}
		owners = append(owners, ownerId)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expired owners: %w", err)
	}

	return owners, nil
}

func (s *Service) ListTrialsEnding(ctx context.Context, from, to time.Time) ([]models.SubscriptionState, error) {
	rows, err := s.db.QueryContext(ctx, s.q(queryListTrialsEnding), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("unable to query ending trials: %w", err)
	}
	defer closeRows(rows)

	var states []models.SubscriptionState
	for rows.Next() {
		state, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan subscription row: %w", err)
		}
		states = append(states, *state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription rows: %w", err)
	}

	return states, nil
}

// MarkTrialReminded returns false if another run already marked the owner.
func (s *Service) MarkTrialReminded(ctx context.Context, ownerId string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.q(queryMarkTrialReminded), at.UTC(), ownerId)
	if err != nil {
		return false, fmt.Errorf("unable to mark trial reminded: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unable to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

func (s *Service) PaymentOrdinal(ctx context.Context, ownerId, reference string) (int, error) {
	var paidAt time.Time
	err := s.db.QueryRowContext(ctx, s.q(queryGetPayment), reference, ownerId).Scan(&paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		var count int
		if err := s.db.QueryRowContext(ctx, s.q(queryCountPayments), ownerId).Scan(&count); err != nil {
			return 0, fmt.Errorf("unable to count payments: %w", err)
		}
		return count + 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("unable to query payment: %w", err)
	}

	var ordinal int
	err = s.db.QueryRowContext(ctx, s.q(queryPaymentOrdinal), ownerId, paidAt.UTC(), paidAt.UTC(), reference).Scan(&ordinal)
	if err != nil {
		return 0, fmt.Errorf("unable to compute payment ordinal: %w", err)
	}
	return ordinal, nil
}
