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

package referral

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"entitlement-engine-go/internal/catalog"
	"entitlement-engine-go/internal/metrics"
	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/notify"
	"entitlement-engine-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultMaxPeriods = 3

// PaymentHistory reports where a payment sits in an owner's paid history.
type PaymentHistory interface {
	PaymentOrdinal(ctx context.Context, ownerId, reference string) (int, error)
}

// AccountReader is the slice of the account store the ledger needs.
type AccountReader interface {
	GetAccount(ctx context.Context, accountId string) (*models.Account, error)
}

// Ledger records who referred whom and credits referrers a share of the first
// paid periods of the accounts they brought in.
type Ledger struct {
	store     store.ReferralStore
	accounts  AccountReader
	payments  PaymentHistory
	catalog   *catalog.Catalog
	cfg       models.ReferralConfig
	publisher notify.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewLedger(s store.ReferralStore, accounts AccountReader, payments PaymentHistory, c *catalog.Catalog, cfg models.ReferralConfig, publisher notify.Publisher, m *metrics.Metrics) *Ledger {
	if cfg.MaxPeriods <= 0 {
		cfg.MaxPeriods = defaultMaxPeriods
	}
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Ledger{
		store:     s,
		accounts:  accounts,
		payments:  payments,
		catalog:   c,
		cfg:       cfg,
		publisher: publisher,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RecordReferral links referredId to referrerId. An account can be referred
// once; the link never changes afterwards.
func (l *Ledger) RecordReferral(ctx context.Context, referrerId, referredId string) (*models.ReferralEdge, error) {
	if referrerId == "" || referredId == "" {
		return nil, fmt.Errorf("%w: referrer and referred account are required", models.ErrInvalidArgument)
	}
	if referrerId == referredId {
		return nil, fmt.Errorf("%w: an account cannot refer itself", models.ErrInvalidArgument)
	}
	for _, id := range []string{referrerId, referredId} {
		if _, err := l.accounts.GetAccount(ctx, id); err != nil {
			return nil, fmt.Errorf("unable to record referral: %w", err)
		}
	}

	edge, err := l.store.CreateReferralEdge(ctx, referrerId, referredId, l.now())
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			zap.L().Info("Referral already recorded", zap.String("referred_id", referredId))
		}
		return nil, err
	}
	return edge, nil
}

// CreditIfEligible credits the referrer of evt.OwnerId, if any, with the
// plan's commission on this payment. It returns nil when the payment earns
// nothing and the existing entry when the event was already credited.
func (l *Ledger) CreditIfEligible(ctx context.Context, evt models.BillingEvent) (*models.CommissionEntry, error) {
	if evt.Id == "" || evt.OwnerId == "" {
		return nil, fmt.Errorf("%w: billing event id and owner are required", models.ErrInvalidArgument)
	}

	params, err := l.eligibility(ctx, evt)
	if err != nil {
		if errors.Is(err, models.ErrIneligible) {
			zap.L().Debug("Payment earns no commission",
				zap.String("billing_event_id", evt.Id),
				zap.String("reason", err.Error()))
			return nil, nil
		}
		return nil, err
	}

	entry, created, err := l.store.CreditCommission(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("failed to credit commission for %s: %w", evt.Id, err)
	}
	if !created {
		zap.L().Info("Commission already credited",
			zap.String("billing_event_id", evt.Id),
			zap.String("entry_id", entry.Id))
		return entry, nil
	}

	l.metrics.ObserveCommission(entry.Amount)
	zap.L().Info("Commission credited",
		zap.String("entry_id", entry.Id),
		zap.String("referrer_id", entry.ReferrerId),
		zap.String("referred_id", entry.ReferredId),
		zap.Int64("amount", entry.Amount),
		zap.Int("period_index", entry.PeriodIndex))

	l.publisher.Publish(notify.Event{
		Type:       notify.CommissionEarned,
		OwnerId:    entry.ReferrerId,
		OccurredAt: entry.CreatedAt,
		Data: map[string]string{
			"entry_id": entry.Id,
			"amount":   strconv.FormatInt(entry.Amount, 10),
		},
	})
	return entry, nil
}

func (l *Ledger) eligibility(ctx context.Context, evt models.BillingEvent) (*store.CreditCommissionParams, error) {
	edge, err := l.store.GetReferralEdgeByReferred(ctx, evt.OwnerId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s was not referred", models.ErrIneligible, evt.OwnerId)
		}
		return nil, fmt.Errorf("failed to load referral of %s: %w", evt.OwnerId, err)
	}

	rate := l.catalog.CommissionRate(evt.Plan)
	if !evt.Plan.Paid() || !rate.IsPositive() {
		return nil, fmt.Errorf("%w: plan %s pays no commission", models.ErrIneligible, evt.Plan)
	}

	periodIndex := evt.PeriodIndex
	if periodIndex == 0 {
		periodIndex, err = l.payments.PaymentOrdinal(ctx, evt.OwnerId, evt.Id)
		if err != nil {
			return nil, fmt.Errorf("failed to locate payment %s: %w", evt.Id, err)
		}
	}
	if periodIndex < 1 || periodIndex > l.cfg.MaxPeriods {
		return nil, fmt.Errorf("%w: payment %d is outside the first %d periods", models.ErrIneligible, periodIndex, l.cfg.MaxPeriods)
	}

	amount := Commission(evt.Amount, rate)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: commission rounds to zero", models.ErrIneligible)
	}

	createdAt := evt.PaidAt
	if createdAt.IsZero() {
		createdAt = l.now()
	}
	return &store.CreditCommissionParams{
		ReferralEdgeId: edge.Id,
		ReferrerId:     edge.ReferrerId,
		ReferredId:     edge.ReferredId,
		BillingEventId: evt.Id,
		Plan:           evt.Plan,
		PaymentAmount:  evt.Amount,
		Amount:         amount,
		PeriodIndex:    periodIndex,
		CreatedAt:      createdAt,
	}, nil
}

// Commission is rate x payment rounded half-up to a whole minor unit.
func Commission(payment int64, rate decimal.Decimal) int64 {
	if payment <= 0 || !rate.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(payment).Mul(rate).Round(0).IntPart()
}

func (l *Ledger) Confirm(ctx context.Context, entryId string) (*models.CommissionEntry, error) {
	entry, err := l.store.ConfirmCommission(ctx, entryId, l.now())
	if err != nil {
		return nil, fmt.Errorf("failed to confirm commission %s: %w", entryId, err)
	}
	zap.L().Info("Commission confirmed", zap.String("entry_id", entryId))
	return entry, nil
}

func (l *Ledger) Void(ctx context.Context, entryId string) (*models.CommissionEntry, error) {
	entry, err := l.store.VoidCommission(ctx, entryId, l.now())
	if err != nil {
		return nil, fmt.Errorf("failed to void commission %s: %w", entryId, err)
	}
	zap.L().Info("Commission voided", zap.String("entry_id", entryId))
	return entry, nil
}

// VoidForBillingEvent voids every unpaid entry credited from a refunded or
// charged-back payment.
func (l *Ledger) VoidForBillingEvent(ctx context.Context, billingEventId string) (int64, error) {
	n, err := l.store.VoidCommissionsForBillingEvent(ctx, billingEventId, l.now())
	if err != nil {
		return 0, fmt.Errorf("failed to void commissions of %s: %w", billingEventId, err)
	}
	if n > 0 {
		zap.L().Info("Commissions voided for billing event",
			zap.String("billing_event_id", billingEventId),
			zap.Int64("count", n))
	}
	return n, nil
}

// ConfirmMatured confirms pending entries older than the clearance window.
func (l *Ledger) ConfirmMatured(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-l.cfg.ClearanceWindow)
	n, err := l.store.ConfirmCommissionsBefore(ctx, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("failed to confirm matured commissions: %w", err)
	}
	if n > 0 {
		zap.L().Info("Matured commissions confirmed",
			zap.Int64("count", n),
			zap.Time("cutoff", cutoff))
	}
	return n, nil
}

func (l *Ledger) Entries(ctx context.Context, referrerId string) ([]models.CommissionEntry, error) {
	return l.store.ListCommissionEntries(ctx, referrerId)
}

func (l *Ledger) Referrals(ctx context.Context, referrerId string) ([]models.ReferralEdge, error) {
	return l.store.ListReferrals(ctx, referrerId)
}
