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

// Package entitlement answers "may this account create one more X right now?"
// for every account of a team against its owner's plan.
package entitlement

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"entitlement-engine-go/internal/metrics"
	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/notify"
	"entitlement-engine-go/internal/subscription"
	"entitlement-engine-go/internal/usage"

	"go.uber.org/zap"
)

type OwnerResolver interface {
	Resolve(ctx context.Context, accountId string) (string, error)
}

type StateReader interface {
	GetState(ctx context.Context, ownerId string) (*models.SubscriptionState, error)
}

type Meter interface {
	CheckAndIncrement(ctx context.Context, ownerId string, state *models.SubscriptionState, feature models.Feature, now time.Time) (usage.Result, error)
	Snapshot(ctx context.Context, ownerId string, state *models.SubscriptionState, now time.Time) ([]models.FeatureUsage, error)
}

type Evaluator struct {
	resolver  OwnerResolver
	states    StateReader
	meter     Meter
	publisher notify.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewEvaluator(resolver OwnerResolver, states StateReader, meter Meter, publisher notify.Publisher, m *metrics.Metrics) *Evaluator {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Evaluator{
		resolver:  resolver,
		states:    states,
		meter:     meter,
		publisher: publisher,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CanPerform consumes one unit of feature on behalf of accountId if the
// owner's effective plan allows it. A denial is returned as a Decision with
// Allowed false; errors are reserved for unknown accounts, broken ownership
// and storage failures.
func (e *Evaluator) CanPerform(ctx context.Context, accountId string, feature models.Feature) (models.Decision, error) {
	if _, err := models.ParseFeature(string(feature)); err != nil {
		return models.Decision{}, fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}

	ownerId, err := e.resolver.Resolve(ctx, accountId)
	if err != nil {
		return models.Decision{}, fmt.Errorf("unable to resolve owner of %s: %w", accountId, err)
	}

	state, err := e.states.GetState(ctx, ownerId)
	if err != nil {
		return models.Decision{}, err
	}

	now := e.now()
	result, err := e.meter.CheckAndIncrement(ctx, ownerId, state, feature, now)
	if err != nil {
		return models.Decision{}, err
	}

	decision := models.Decision{
		Allowed:     result.Allowed,
		OwnerId:     ownerId,
		Feature:     feature,
		Plan:        result.Plan,
		Used:        result.Used,
		Limit:       result.Limit,
		Remaining:   result.Remaining,
		PeriodStart: result.PeriodStart,
		PeriodEnd:   result.PeriodEnd,
	}
	e.metrics.ObserveEntitlement(string(feature), string(result.Plan), result.Allowed)

	if result.Allowed {
		return decision, nil
	}

	decision.Reason = models.ReasonLimitExceeded
	decision.Message = limitMessage(feature, result)

	zap.L().Info("Entitlement denied",
		zap.String("account_id", accountId),
		zap.String("owner_id", ownerId),
		zap.String("feature", string(feature)),
		zap.String("plan", string(result.Plan)),
		zap.Int64("used", result.Used),
		zap.Int64("limit", result.Limit))

	e.publisher.Publish(notify.Event{
		Type:       notify.LimitReached,
		OwnerId:    ownerId,
		AccountId:  accountId,
		OccurredAt: now,
		Data: map[string]string{
			"feature":    string(feature),
			"plan":       string(result.Plan),
			"limit":      strconv.FormatInt(result.Limit, 10),
			"period_end": result.PeriodEnd.Format(time.RFC3339),
		},
	})
	return decision, nil
}

// Entitlements reports the current usage of every feature without consuming
// anything.
func (e *Evaluator) Entitlements(ctx context.Context, accountId string) (*models.EntitlementSummary, error) {
	ownerId, err := e.resolver.Resolve(ctx, accountId)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve owner of %s: %w", accountId, err)
	}

	state, err := e.states.GetState(ctx, ownerId)
	if err != nil {
		return nil, err
	}

	now := e.now()
	snapshot, err := e.meter.Snapshot(ctx, ownerId, state, now)
	if err != nil {
		return nil, err
	}

	return &models.EntitlementSummary{
		AccountId:     accountId,
		OwnerId:       ownerId,
		Status:        state.Status,
		StoredPlan:    state.Plan,
		EffectivePlan: subscription.EffectivePlan(state, now),
		Usage:         snapshot,
	}, nil
}

// LimitError converts a denied decision into a typed error for callers that
// prefer error returns.
func LimitError(d models.Decision) error {
	if d.Allowed {
		return nil
	}
	return &models.LimitExceededError{
		Feature: d.Feature,
		Used:    d.Used,
		Limit:   d.Limit,
		Period:  periodWord(d.PeriodStart, d.PeriodEnd),
	}
}

func limitMessage(feature models.Feature, result usage.Result) string {
	return fmt.Sprintf("You've used all %d %s this %s. Upgrade to continue.",
		result.Limit, feature, result.Cycle)
}

func periodWord(start, end time.Time) string {
	switch days := end.Sub(start).Hours() / 24; {
	case days <= 7:
		return "week"
	case days <= 31:
		return "month"
	default:
		return "year"
	}
}
