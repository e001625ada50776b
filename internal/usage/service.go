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

package usage

import (
	"context"
	"fmt"
	"time"

	"entitlement-engine-go/internal/catalog"
	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/subscription"

	"go.uber.org/zap"
)

const week = 7 * 24 * time.Hour

// Backend performs the atomic compare-and-increment on a counter.
type Backend interface {
	IncrementUsage(ctx context.Context, key models.CounterKey, limit int64) (allowed bool, count int64, err error)
	GetUsage(ctx context.Context, key models.CounterKey) (int64, error)
}

// Result is the outcome of one metered creation attempt.
type Result struct {
	Allowed     bool
	Plan        models.Plan
	Used        int64
	Limit       int64
	Remaining   int64
	PeriodStart time.Time
	PeriodEnd   time.Time
	Cycle       catalog.Cycle
}

type Service struct {
	backend Backend
	catalog *catalog.Catalog
}

func NewService(backend Backend, c *catalog.Catalog) *Service {
	return &Service{backend: backend, catalog: c}
}

func (s *Service) LimitFor(plan models.Plan, feature models.Feature) int64 {
	return s.catalog.LimitFor(plan, feature)
}

// CheckAndIncrement consumes one unit of feature for ownerId if the effective
// plan still allows it. A rejected attempt leaves the counter unchanged.
func (s *Service) CheckAndIncrement(ctx context.Context, ownerId string, state *models.SubscriptionState, feature models.Feature, now time.Time) (Result, error) {
	plan := subscription.EffectivePlan(state, now)
	limit := s.LimitFor(plan, feature)
	start, end := s.PeriodFor(plan, state, now)

	result := Result{
		Plan:        plan,
		Limit:       limit,
		PeriodStart: start,
		PeriodEnd:   end,
		Cycle:       s.catalog.Cycle(plan),
	}

	key := models.CounterKey{OwnerId: ownerId, Feature: feature, PeriodStart: start, PeriodEnd: end}
	allowed, count, err := s.backend.IncrementUsage(ctx, key, limit)
	if err != nil {
		return result, fmt.Errorf("failed to increment %s usage for %s: %w", feature, ownerId, err)
	}

	result.Allowed = allowed
	result.Used = count
	result.Remaining = remaining(limit, count)

	zap.L().Debug("Usage checked",
		zap.String("owner_id", ownerId),
		zap.String("feature", string(feature)),
		zap.String("plan", string(plan)),
		zap.Bool("allowed", allowed),
		zap.Int64("used", count),
		zap.Int64("limit", limit))
	return result, nil
}

// Snapshot reads every feature's counter for the current period without
// consuming anything.
func (s *Service) Snapshot(ctx context.Context, ownerId string, state *models.SubscriptionState, now time.Time) ([]models.FeatureUsage, error) {
	plan := subscription.EffectivePlan(state, now)
	start, end := s.PeriodFor(plan, state, now)

	usage := make([]models.FeatureUsage, 0, len(models.Features))
	for _, feature := range models.Features {
		key := models.CounterKey{OwnerId: ownerId, Feature: feature, PeriodStart: start, PeriodEnd: end}
		used, err := s.backend.GetUsage(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s usage for %s: %w", feature, ownerId, err)
		}
		limit := s.LimitFor(plan, feature)
		usage = append(usage, models.FeatureUsage{
			Feature:     feature,
			Used:        used,
			Limit:       limit,
			Remaining:   remaining(limit, used),
			PeriodStart: start,
			PeriodEnd:   end,
		})
	}
	return usage, nil
}

// PeriodFor returns the usage window [start, end) containing now. Weekly
// windows are anchored on the subscription's period end so they line up with
// billing; the other cycles follow the calendar. All bounds are UTC.
func (s *Service) PeriodFor(plan models.Plan, state *models.SubscriptionState, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	switch s.catalog.Cycle(plan) {
	case catalog.CycleWeek:
		if state != nil && !state.PeriodEnd.IsZero() {
			return anchoredWeek(state.PeriodEnd.UTC(), now)
		}
		return isoWeek(now)
	case catalog.CycleYear:
		start := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0)
	default:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	}
}

func anchoredWeek(anchor, now time.Time) (time.Time, time.Time) {
	offset := now.Sub(anchor)
	n := offset / week
	if offset%week < 0 {
		n--
	}
	start := anchor.Add(n * week)
	return start, start.Add(week)
}

func isoWeek(now time.Time) (time.Time, time.Time) {
	// Monday = 0
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	start := time.Date(now.Year(), now.Month(), now.Day()-daysSinceMonday, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 7)
}

func remaining(limit, used int64) int64 {
	if limit == models.Unlimited {
		return models.Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
