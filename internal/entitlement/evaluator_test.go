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

package entitlement

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"entitlement-engine-go/internal/catalog"
	"entitlement-engine-go/internal/database"
	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/notify"
	"entitlement-engine-go/internal/ownership"
	"entitlement-engine-go/internal/store"
	"entitlement-engine-go/internal/subscription"
	"entitlement-engine-go/internal/usage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingPublisher) Publish(evt notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingPublisher) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

type fixture struct {
	db        *database.Service
	directory *ownership.Directory
	subs      *subscription.Service
	publisher *recordingPublisher
	evaluator *Evaluator
}

func setupEvaluator(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Driver:       "sqlite3",
		Path:         filepath.Join(t.TempDir(), "entitlement.db"),
		MaxOpenConns: 8,
		MaxIdleConns: 4,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	resolver := ownership.NewResolver(db, models.OwnershipConfig{CacheSize: 128, CacheTTL: time.Minute}, nil)
	pub := &recordingPublisher{}
	subs := subscription.NewService(db, pub, nil)
	meter := usage.NewService(db, catalog.Default())

	return &fixture{
		db:        db,
		directory: ownership.NewDirectory(db, resolver, 14*24*time.Hour),
		subs:      subs,
		publisher: pub,
		evaluator: NewEvaluator(resolver, subs, meter, pub, nil),
	}
}

func TestTeamSharesOwnerAllowance(t *testing.T) {
	ctx := context.Background()
	f := setupEvaluator(t)

	owner, err := f.directory.CreateOwner(ctx, "Ada", "ada@example.com")
	require.NoError(t, err)
	admin, err := f.directory.AddMember(ctx, owner.Id, "Ben", "ben@example.com", models.RoleAdmin)
	require.NoError(t, err)
	sales, err := f.directory.AddMember(ctx, owner.Id, "Cy", "cy@example.com", models.RoleSalesperson)
	require.NoError(t, err)

	// free invoices limit is 5, spread across the team
	for i, accountId := range []string{owner.Id, admin.Id, sales.Id, admin.Id, sales.Id} {
		decision, err := f.evaluator.CanPerform(ctx, accountId, models.FeatureInvoices)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "attempt %d", i+1)
		assert.Equal(t, owner.Id, decision.OwnerId)
	}

	decision, err := f.evaluator.CanPerform(ctx, owner.Id, models.FeatureInvoices)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.ReasonLimitExceeded, decision.Reason)
	assert.Equal(t, "You've used all 5 invoices this month. Upgrade to continue.", decision.Message)
	assert.Equal(t, int64(5), decision.Used)
	assert.Equal(t, int64(0), decision.Remaining)

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.LimitReached, events[0].Type)
	assert.Equal(t, owner.Id, events[0].OwnerId)
	assert.Equal(t, "invoices", events[0].Data["feature"])

	var limitErr *models.LimitExceededError
	err = LimitError(decision)
	require.ErrorAs(t, err, &limitErr)
	assert.True(t, errors.Is(err, models.ErrLimitExceeded))
	assert.Equal(t, "month", limitErr.Period)

	// other features have their own counters
	decision, err = f.evaluator.CanPerform(ctx, sales.Id, models.FeatureSales)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.NoError(t, LimitError(decision))
}

func TestConcurrentTeamAttempts(t *testing.T) {
	ctx := context.Background()
	f := setupEvaluator(t)

	owner, err := f.directory.CreateOwner(ctx, "Ada", "ada@example.com")
	require.NoError(t, err)
	member, err := f.directory.AddMember(ctx, owner.Id, "Ben", "ben@example.com", models.RoleSalesperson)
	require.NoError(t, err)

	const limit = 5
	var wg sync.WaitGroup
	var allowed atomic.Int64
	for i := 0; i < limit+5; i++ {
		accountId := owner.Id
		if i%2 == 1 {
			accountId = member.Id
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := f.evaluator.CanPerform(ctx, accountId, models.FeatureExpenses)
			if assert.NoError(t, err) && decision.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), allowed.Load())
}

func TestPaidPlanLimitsApply(t *testing.T) {
	ctx := context.Background()
	f := setupEvaluator(t)

	owner, err := f.directory.CreateOwner(ctx, "Ada", "ada@example.com")
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = f.subs.ApplyPurchase(ctx, subscription.PurchaseParams{
		OwnerId: owner.Id, Plan: models.PlanYearly, Amount: 50000, Reference: "y1",
		PaidAt: now, PaidThrough: now.AddDate(1, 0, 0),
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		decision, err := f.evaluator.CanPerform(ctx, owner.Id, models.FeatureInvoices)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
		assert.Equal(t, models.PlanYearly, decision.Plan)
		assert.Equal(t, models.Unlimited, decision.Limit)
	}
}

func TestCancelledOwnerFallsBackToFree(t *testing.T) {
	ctx := context.Background()
	f := setupEvaluator(t)

	owner, err := f.directory.CreateOwner(ctx, "Ada", "ada@example.com")
	require.NoError(t, err)
	now := time.Now().UTC()
	_, err = f.subs.ApplyPurchase(ctx, subscription.PurchaseParams{
		OwnerId: owner.Id, Plan: models.PlanMonthly, Amount: 4500, Reference: "m1",
		PaidAt: now, PaidThrough: now.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	_, err = f.subs.Cancel(ctx, owner.Id)
	require.NoError(t, err)

	decision, err := f.evaluator.CanPerform(ctx, owner.Id, models.FeatureInvoices)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, models.PlanFree, decision.Plan)
	assert.Equal(t, int64(5), decision.Limit)

	summary, err := f.evaluator.Entitlements(ctx, owner.Id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, summary.Status)
	assert.Equal(t, models.PlanMonthly, summary.StoredPlan)
	assert.Equal(t, models.PlanFree, summary.EffectivePlan)
}

func TestCanPerformErrors(t *testing.T) {
	ctx := context.Background()
	f := setupEvaluator(t)

	_, err := f.evaluator.CanPerform(ctx, "ghost", models.FeatureInvoices)
	assert.ErrorIs(t, err, models.ErrNotFound)

	owner, err := f.directory.CreateOwner(ctx, "Ada", "ada@example.com")
	require.NoError(t, err)
	_, err = f.evaluator.CanPerform(ctx, owner.Id, "widgets")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	// a member whose owner_ref points nowhere is an integrity fault, not a denial
	_, err = f.db.CreateMember(ctx, store.CreateAccountParams{
		Id: "orphan", Name: "Orphan", Email: "orphan@example.com", Role: models.RoleAdmin, OwnerRef: owner.Id,
	})
	require.NoError(t, err)
	require.NoError(t, f.directory.Deactivate(ctx, owner.Id))

	decision, err := f.evaluator.CanPerform(ctx, "orphan", models.FeatureInvoices)
	assert.ErrorIs(t, err, models.ErrBrokenReference)
	assert.False(t, decision.Allowed)
}

func TestEntitlementsDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	f := setupEvaluator(t)

	owner, err := f.directory.CreateOwner(ctx, "Ada", "ada@example.com")
	require.NoError(t, err)
	_, err = f.evaluator.CanPerform(ctx, owner.Id, models.FeatureProducts)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		summary, err := f.evaluator.Entitlements(ctx, owner.Id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusTrial, summary.Status)
		for _, u := range summary.Usage {
			if u.Feature == models.FeatureProducts {
				assert.Equal(t, int64(1), u.Used)
				assert.Equal(t, int64(19), u.Remaining)
			}
		}
	}
}
