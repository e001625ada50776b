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

package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"entitlement-engine-go/internal/metrics"
	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/notify"
	"entitlement-engine-go/internal/store"

	"go.uber.org/zap"
)

// PurchaseParams describes one successful subscription payment.
type PurchaseParams = store.ApplyPurchaseParams

// Service owns the subscription lifecycle of every owner:
// trial -> active -> expired, with cancelled reachable from any state and
// active reachable again from any state through a purchase.
type Service struct {
	store     store.SubscriptionStore
	publisher notify.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(s store.SubscriptionStore, publisher notify.Publisher, m *metrics.Metrics) *Service {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Service{
		store:     s,
		publisher: publisher,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetState returns the stored subscription, or an implicit free trial when
// the owner has no row yet.
func (s *Service) GetState(ctx context.Context, ownerId string) (*models.SubscriptionState, error) {
	state, err := s.store.GetSubscriptionState(ctx, ownerId)
	if err == nil {
		return state, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return &models.SubscriptionState{
			OwnerId:  ownerId,
			Plan:     models.PlanFree,
			Status:   models.StatusTrial,
			Implicit: true,
		}, nil
	}
	return nil, fmt.Errorf("failed to read subscription of %s: %w", ownerId, err)
}

// ApplyPurchase activates a paid plan. Replaying a payment reference returns
// the current state with Duplicate set and changes nothing.
func (s *Service) ApplyPurchase(ctx context.Context, params PurchaseParams) (*models.PurchaseResult, error) {
	if params.OwnerId == "" || params.Reference == "" {
		return nil, fmt.Errorf("%w: owner and payment reference are required", models.ErrInvalidArgument)
	}
	if !params.Plan.Paid() {
		return nil, fmt.Errorf("%w: %q is not a purchasable plan", models.ErrInvalidArgument, params.Plan)
	}
	if params.PaidAt.IsZero() {
		params.PaidAt = s.now()
	}
	if !params.PaidThrough.After(params.PaidAt) {
		return nil, fmt.Errorf("%w: paid_through %s is not after payment time %s",
			models.ErrInvalidArgument, params.PaidThrough.Format(time.RFC3339), params.PaidAt.Format(time.RFC3339))
	}

	state, duplicate, err := s.store.ApplyPurchase(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to apply purchase %s: %w", params.Reference, err)
	}

	if duplicate {
		zap.L().Info("Purchase already applied",
			zap.String("owner_id", params.OwnerId),
			zap.String("reference", params.Reference))
	} else {
		zap.L().Info("Purchase applied",
			zap.String("owner_id", params.OwnerId),
			zap.String("plan", string(params.Plan)),
			zap.Time("paid_through", params.PaidThrough),
			zap.String("reference", params.Reference))
	}
	return &models.PurchaseResult{State: state, Duplicate: duplicate}, nil
}

func (s *Service) Cancel(ctx context.Context, ownerId string) (*models.SubscriptionState, error) {
	state, err := s.store.CancelSubscription(ctx, ownerId, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to cancel subscription of %s: %w", ownerId, err)
	}
	zap.L().Info("Subscription cancelled",
		zap.String("owner_id", ownerId),
		zap.String("plan", string(state.Plan)))
	return state, nil
}

// SweepExpirations expires lapsed trials and paid periods. Safe to re-run.
func (s *Service) SweepExpirations(ctx context.Context, now time.Time) ([]string, error) {
	expired, err := s.store.ExpireSubscriptions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep expirations: %w", err)
	}

	for _, ownerId := range expired {
		s.publisher.Publish(notify.Event{
			Type:       notify.SubscriptionExpired,
			OwnerId:    ownerId,
			OccurredAt: now,
		})
	}
	s.metrics.ObserveExpired(len(expired))

	if len(expired) > 0 {
		zap.L().Info("Subscriptions expired", zap.Int("count", len(expired)))
	}
	return expired, nil
}

// TrialsEndingWithin lists trials ending in [now, now+lead) that have not been
// reminded yet.
func (s *Service) TrialsEndingWithin(ctx context.Context, now time.Time, lead time.Duration) ([]models.SubscriptionState, error) {
	states, err := s.store.ListTrialsEnding(ctx, now, now.Add(lead))
	if err != nil {
		return nil, fmt.Errorf("failed to list ending trials: %w", err)
	}
	return states, nil
}

// RemindEndingTrials emits one trial_ending event per owner.
func (s *Service) RemindEndingTrials(ctx context.Context, now time.Time, lead time.Duration) (int, error) {
	states, err := s.TrialsEndingWithin(ctx, now, lead)
	if err != nil {
		return 0, err
	}

	reminded := 0
	for _, state := range states {
		marked, err := s.store.MarkTrialReminded(ctx, state.OwnerId, now)
		if err != nil {
			return reminded, fmt.Errorf("failed to mark trial reminder for %s: %w", state.OwnerId, err)
		}
		if !marked {
			continue
		}
		s.publisher.Publish(notify.Event{
			Type:       notify.TrialEnding,
			OwnerId:    state.OwnerId,
			OccurredAt: now,
			Data:       map[string]string{"trial_end": state.TrialEnd.Format(time.RFC3339)},
		})
		reminded++
	}
	return reminded, nil
}

// EffectivePlan is the plan whose limits apply at now. Expired, cancelled and
// lapsed-but-not-yet-swept subscriptions get free limits.
func EffectivePlan(state *models.SubscriptionState, now time.Time) models.Plan {
	if state == nil {
		return models.PlanFree
	}
	switch state.Status {
	case models.StatusExpired, models.StatusCancelled:
		return models.PlanFree
	case models.StatusActive:
		if !state.PeriodEnd.IsZero() && state.PeriodEnd.Before(now) {
			return models.PlanFree
		}
	case models.StatusTrial:
		if !state.TrialEnd.IsZero() && state.TrialEnd.Before(now) {
			return models.PlanFree
		}
	}
	if !state.Plan.Valid() {
		return models.PlanFree
	}
	return state.Plan
}
