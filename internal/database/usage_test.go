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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"entitlement-engine-go/internal/models"
)

func januaryKey(owner string, feature models.Feature) models.CounterKey {
	return models.CounterKey{
		OwnerId:     owner,
		Feature:     feature,
		PeriodStart: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2030, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestIncrementUsageStopsAtLimit(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	key := januaryKey("owner1", models.FeatureInvoices)

	for i := int64(1); i <= 5; i++ {
		allowed, count, err := s.IncrementUsage(ctx, key, 5)
		if err != nil {
			t.Fatalf("IncrementUsage failed: %v", err)
		}
		if !allowed || count != i {
			t.Fatalf("Expected increment %d to be allowed, got allowed=%v count=%d", i, allowed, count)
		}
	}

	allowed, count, err := s.IncrementUsage(ctx, key, 5)
	if err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}
	if allowed {
		t.Errorf("Expected sixth increment to be denied")
	}
	if count != 5 {
		t.Errorf("Expected count to stay at 5, got %d", count)
	}
}

func TestIncrementUsageConcurrentCallersNeverExceedLimit(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	key := januaryKey("owner1", models.FeatureSales)
	const limit = 10

	var wg sync.WaitGroup
	var successes atomic.Int64
	errs := make(chan error, limit+5)

	for i := 0; i < limit+5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _, err := s.IncrementUsage(ctx, key, limit)
			if err != nil {
				errs <- err
				return
			}
			if allowed {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("IncrementUsage failed: %v", err)
	}
	if successes.Load() != limit {
		t.Errorf("Expected exactly %d successes, got %d", limit, successes.Load())
	}

	count, err := s.GetUsage(ctx, key)
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if count != limit {
		t.Errorf("Expected stored count %d, got %d", limit, count)
	}
}

func TestIncrementUsageBoundaries(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("unlimited", func(t *testing.T) {
		key := januaryKey("owner1", models.FeatureProducts)
		for i := 0; i < 50; i++ {
			allowed, _, err := s.IncrementUsage(ctx, key, models.Unlimited)
			if err != nil || !allowed {
				t.Fatalf("Expected unlimited increment to succeed, got %v, %v", allowed, err)
			}
		}
	})

	t.Run("zero limit", func(t *testing.T) {
		key := januaryKey("owner2", models.FeatureExpenses)
		allowed, count, err := s.IncrementUsage(ctx, key, 0)
		if err != nil {
			t.Fatalf("IncrementUsage failed: %v", err)
		}
		if allowed || count != 0 {
			t.Errorf("Expected denial at zero, got allowed=%v count=%d", allowed, count)
		}
	})

	t.Run("new period starts from zero", func(t *testing.T) {
		key := januaryKey("owner3", models.FeatureInvoices)
		for i := 0; i < 2; i++ {
			if _, _, err := s.IncrementUsage(ctx, key, 2); err != nil {
				t.Fatalf("IncrementUsage failed: %v", err)
			}
		}

		next := key
		next.PeriodStart = key.PeriodEnd
		next.PeriodEnd = key.PeriodEnd.AddDate(0, 1, 0)
		allowed, count, err := s.IncrementUsage(ctx, next, 2)
		if err != nil {
			t.Fatalf("IncrementUsage failed: %v", err)
		}
		if !allowed || count != 1 {
			t.Errorf("Expected fresh counter in next period, got allowed=%v count=%d", allowed, count)
		}
	})

	t.Run("raised limit carries count over", func(t *testing.T) {
		key := januaryKey("owner4", models.FeatureInvoices)
		for i := 0; i < 5; i++ {
			if _, _, err := s.IncrementUsage(ctx, key, 5); err != nil {
				t.Fatalf("IncrementUsage failed: %v", err)
			}
		}
		allowed, count, err := s.IncrementUsage(ctx, key, 200)
		if err != nil {
			t.Fatalf("IncrementUsage failed: %v", err)
		}
		if !allowed || count != 6 {
			t.Errorf("Expected count 6 after upgrade, got allowed=%v count=%d", allowed, count)
		}
	})
}

func TestGetUsageWithoutCounter(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	count, err := s.GetUsage(context.Background(), januaryKey("nobody", models.FeatureInvoices))
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0, got %d", count)
	}
}
