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
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"entitlement-engine-go/internal/catalog"
	"entitlement-engine-go/internal/database"
	"entitlement-engine-go/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqlBackend(t *testing.T) Backend {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Driver:       "sqlite3",
		Path:         filepath.Join(t.TempDir(), "usage.db"),
		MaxOpenConns: 8,
		MaxIdleConns: 4,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func redisBackend(t *testing.T) (*RedisCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCounter(client), mr
}

func backends(t *testing.T) map[string]Backend {
	r, _ := redisBackend(t)
	return map[string]Backend{"sql": sqlBackend(t), "redis": r}
}

var (
	freeTrial = &models.SubscriptionState{Plan: models.PlanFree, Status: models.StatusTrial}
	mid       = time.Date(2030, 5, 15, 10, 0, 0, 0, time.UTC)
)

func TestFreePlanAllowsFiveInvoices(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			svc := NewService(backend, catalog.Default())
			ctx := context.Background()

			for i := 1; i <= 5; i++ {
				result, err := svc.CheckAndIncrement(ctx, "owner1", freeTrial, models.FeatureInvoices, mid)
				require.NoError(t, err)
				assert.True(t, result.Allowed, "attempt %d", i)
				assert.Equal(t, int64(5-i), result.Remaining)
			}

			result, err := svc.CheckAndIncrement(ctx, "owner1", freeTrial, models.FeatureInvoices, mid)
			require.NoError(t, err)
			assert.False(t, result.Allowed)
			assert.Equal(t, int64(5), result.Used)
			assert.Equal(t, int64(0), result.Remaining)
			assert.Equal(t, catalog.CycleMonth, result.Cycle)

			// next calendar month starts over
			result, err = svc.CheckAndIncrement(ctx, "owner1", freeTrial, models.FeatureInvoices, mid.AddDate(0, 1, 0))
			require.NoError(t, err)
			assert.True(t, result.Allowed)
			assert.Equal(t, int64(1), result.Used)
		})
	}
}

func TestConcurrentAttemptsNeverExceedLimit(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			svc := NewService(backend, catalog.Default())
			const limit = 20 // free sales limit

			var wg sync.WaitGroup
			var allowed atomic.Int64
			for i := 0; i < limit+5; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					result, err := svc.CheckAndIncrement(context.Background(), "owner1", freeTrial, models.FeatureSales, mid)
					if assert.NoError(t, err) && result.Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int64(limit), allowed.Load())
		})
	}
}

func TestExpiredPaidPlanUsesFreeLimits(t *testing.T) {
	svc := NewService(sqlBackend(t), catalog.Default())
	expired := &models.SubscriptionState{Plan: models.PlanYearly, Status: models.StatusExpired}

	for i := 0; i < 5; i++ {
		_, err := svc.CheckAndIncrement(context.Background(), "owner1", expired, models.FeatureInvoices, mid)
		require.NoError(t, err)
	}
	result, err := svc.CheckAndIncrement(context.Background(), "owner1", expired, models.FeatureInvoices, mid)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, models.PlanFree, result.Plan)
}

func TestUnlimitedFeature(t *testing.T) {
	svc := NewService(sqlBackend(t), catalog.Default())
	yearly := &models.SubscriptionState{Plan: models.PlanYearly, Status: models.StatusActive, PeriodEnd: mid.AddDate(1, 0, 0)}

	for i := 0; i < 300; i++ {
		result, err := svc.CheckAndIncrement(context.Background(), "owner1", yearly, models.FeatureInvoices, mid)
		require.NoError(t, err)
		require.True(t, result.Allowed)
		require.Equal(t, models.Unlimited, result.Remaining)
	}
}

func TestUpgradeMidPeriodKeepsCount(t *testing.T) {
	svc := NewService(sqlBackend(t), catalog.Default())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.CheckAndIncrement(ctx, "owner1", freeTrial, models.FeatureInvoices, mid)
		require.NoError(t, err)
	}

	monthly := &models.SubscriptionState{Plan: models.PlanMonthly, Status: models.StatusActive, PeriodEnd: mid.AddDate(0, 1, 0)}
	result, err := svc.CheckAndIncrement(ctx, "owner1", monthly, models.FeatureInvoices, mid)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, int64(6), result.Used)
	assert.Equal(t, int64(194), result.Remaining)
}

func TestSnapshotDoesNotConsume(t *testing.T) {
	svc := NewService(sqlBackend(t), catalog.Default())
	ctx := context.Background()

	_, err := svc.CheckAndIncrement(ctx, "owner1", freeTrial, models.FeatureExpenses, mid)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		snapshot, err := svc.Snapshot(ctx, "owner1", freeTrial, mid)
		require.NoError(t, err)
		require.Len(t, snapshot, len(models.Features))
		for _, u := range snapshot {
			if u.Feature == models.FeatureExpenses {
				assert.Equal(t, int64(1), u.Used)
				assert.Equal(t, int64(4), u.Remaining)
			} else {
				assert.Equal(t, int64(0), u.Used)
			}
		}
	}
}

func TestPeriodFor(t *testing.T) {
	svc := NewService(nil, catalog.Default())
	anchor := time.Date(2030, 5, 20, 12, 0, 0, 0, time.UTC) // Monday noon
	weekly := &models.SubscriptionState{Plan: models.PlanWeekly, Status: models.StatusActive, PeriodEnd: anchor}

	tests := []struct {
		name          string
		plan          models.Plan
		state         *models.SubscriptionState
		now           time.Time
		expectedStart time.Time
		expectedEnd   time.Time
	}{
		{
			name: "monthly", plan: models.PlanMonthly, now: mid,
			expectedStart: time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC),
			expectedEnd:   time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "free follows calendar month", plan: models.PlanFree, now: time.Date(2030, 12, 31, 23, 59, 0, 0, time.UTC),
			expectedStart: time.Date(2030, 12, 1, 0, 0, 0, 0, time.UTC),
			expectedEnd:   time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "yearly", plan: models.PlanYearly, now: mid,
			expectedStart: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
			expectedEnd:   time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "weekly before anchor", plan: models.PlanWeekly, state: weekly, now: mid,
			expectedStart: anchor.AddDate(0, 0, -7),
			expectedEnd:   anchor,
		},
		{
			name: "weekly exactly at anchor", plan: models.PlanWeekly, state: weekly, now: anchor,
			expectedStart: anchor,
			expectedEnd:   anchor.AddDate(0, 0, 7),
		},
		{
			name: "weekly two windows back", plan: models.PlanWeekly, state: weekly, now: anchor.AddDate(0, 0, -10),
			expectedStart: anchor.AddDate(0, 0, -14),
			expectedEnd:   anchor.AddDate(0, 0, -7),
		},
		{
			name: "weekly without anchor uses iso week", plan: models.PlanWeekly, now: mid, // Wednesday
			expectedStart: time.Date(2030, 5, 13, 0, 0, 0, 0, time.UTC),
			expectedEnd:   time.Date(2030, 5, 20, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := svc.PeriodFor(tt.plan, tt.state, tt.now)
			assert.True(t, tt.expectedStart.Equal(start), "start: expected %v, got %v", tt.expectedStart, start)
			assert.True(t, tt.expectedEnd.Equal(end), "end: expected %v, got %v", tt.expectedEnd, end)
		})
	}
}

func TestRedisCounterExpiresAfterPeriod(t *testing.T) {
	counter, mr := redisBackend(t)
	key := models.CounterKey{
		OwnerId:     "owner1",
		Feature:     models.FeatureInvoices,
		PeriodStart: time.Now().Add(-time.Hour),
		PeriodEnd:   time.Now().Add(time.Hour),
	}

	allowed, count, err := counter.IncrementUsage(context.Background(), key, 3)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(1), count)

	redisKey := counter.key(key)
	assert.True(t, mr.Exists(redisKey))
	assert.Greater(t, mr.TTL(redisKey), time.Hour)

	mr.FastForward(3 * 24 * time.Hour)
	used, err := counter.GetUsage(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)
}
