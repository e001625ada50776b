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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"entitlement-engine-go/internal/database"
	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/notify"
	"entitlement-engine-go/internal/store"

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

func setupService(t *testing.T) (*database.Service, *recordingPublisher, *Service) {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Driver:       "sqlite3",
		Path:         filepath.Join(t.TempDir(), "subscriptions.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	pub := &recordingPublisher{}
	return db, pub, NewService(db, pub, nil)
}

func createOwner(t *testing.T, db *database.Service, id string, trialEnd time.Time) {
	t.Helper()
	_, err := db.CreateOwner(context.Background(), store.CreateAccountParams{
		Id: id, Name: id, Email: id + "@example.com",
	}, trialEnd)
	require.NoError(t, err)
}

func TestGetStateSynthesizesDefault(t *testing.T) {
	_, _, svc := setupService(t)

	state, err := svc.GetState(context.Background(), "no-row")
	require.NoError(t, err)
	assert.True(t, state.Implicit)
	assert.Equal(t, models.PlanFree, state.Plan)
	assert.Equal(t, models.StatusTrial, state.Status)
}

func TestApplyPurchaseFromEveryState(t *testing.T) {
	ctx := context.Background()
	db, _, svc := setupService(t)
	now := time.Now().UTC()

	createOwner(t, db, "trialing", now.Add(time.Hour))
	createOwner(t, db, "expired", now.Add(-time.Hour))
	createOwner(t, db, "cancelled", now.Add(time.Hour))

	_, err := svc.SweepExpirations(ctx, now)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, "cancelled")
	require.NoError(t, err)

	for _, owner := range []string{"trialing", "expired", "cancelled"} {
		result, err := svc.ApplyPurchase(ctx, PurchaseParams{
			OwnerId:     owner,
			Plan:        models.PlanMonthly,
			Amount:      4500,
			Reference:   "pay-" + owner,
			PaidAt:      now,
			PaidThrough: now.AddDate(0, 1, 0),
		})
		require.NoError(t, err, owner)
		assert.False(t, result.Duplicate, owner)
		assert.Equal(t, models.StatusActive, result.State.Status, owner)
		assert.Equal(t, models.PlanMonthly, result.State.Plan, owner)
	}
}

func TestApplyPurchaseReplay(t *testing.T) {
	ctx := context.Background()
	db, _, svc := setupService(t)
	now := time.Now().UTC()
	createOwner(t, db, "owner1", now.Add(time.Hour))

	params := PurchaseParams{
		OwnerId: "owner1", Plan: models.PlanYearly, Amount: 50000, Reference: "pay-1",
		PaidAt: now, PaidThrough: now.AddDate(1, 0, 0),
	}
	first, err := svc.ApplyPurchase(ctx, params)
	require.NoError(t, err)
	second, err := svc.ApplyPurchase(ctx, params)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.True(t, first.State.PeriodEnd.Equal(second.State.PeriodEnd))
}

func TestApplyPurchaseValidation(t *testing.T) {
	_, _, svc := setupService(t)
	now := time.Now().UTC()

	tests := []struct {
		name   string
		params PurchaseParams
	}{
		{"free plan", PurchaseParams{OwnerId: "o", Plan: models.PlanFree, Reference: "r", PaidThrough: now.Add(time.Hour)}},
		{"unknown plan", PurchaseParams{OwnerId: "o", Plan: "platinum", Reference: "r", PaidThrough: now.Add(time.Hour)}},
		{"missing reference", PurchaseParams{OwnerId: "o", Plan: models.PlanMonthly, PaidThrough: now.Add(time.Hour)}},
		{"paid through in the past", PurchaseParams{OwnerId: "o", Plan: models.PlanMonthly, Reference: "r", PaidAt: now, PaidThrough: now.Add(-time.Hour)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ApplyPurchase(context.Background(), tt.params)
			assert.ErrorIs(t, err, models.ErrInvalidArgument)
		})
	}
}

func TestSweepExpirationsEmitsEvents(t *testing.T) {
	ctx := context.Background()
	db, pub, svc := setupService(t)
	now := time.Now().UTC()

	createOwner(t, db, "lapsed", now.Add(time.Hour))
	_, err := svc.ApplyPurchase(ctx, PurchaseParams{
		OwnerId: "lapsed", Plan: models.PlanWeekly, Amount: 1500, Reference: "w1",
		PaidAt: now.AddDate(0, 0, -8), PaidThrough: now.AddDate(0, 0, -1),
	})
	require.NoError(t, err)

	expired, err := svc.SweepExpirations(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"lapsed"}, expired)

	require.Len(t, pub.events, 1)
	assert.Equal(t, notify.SubscriptionExpired, pub.events[0].Type)

	state, err := svc.GetState(ctx, "lapsed")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, state.Status)
	assert.Equal(t, models.PlanWeekly, state.Plan)
	assert.Equal(t, models.PlanFree, EffectivePlan(state, now))

	expired, err = svc.SweepExpirations(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, expired)
	assert.Len(t, pub.events, 1)
}

func TestRemindEndingTrials(t *testing.T) {
	ctx := context.Background()
	db, pub, svc := setupService(t)
	now := time.Now().UTC()

	createOwner(t, db, "soon", now.Add(24*time.Hour))
	createOwner(t, db, "later", now.Add(10*24*time.Hour))

	n, err := svc.RemindEndingTrials(ctx, now, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.events, 1)
	assert.Equal(t, notify.TrialEnding, pub.events[0].Type)
	assert.Equal(t, "soon", pub.events[0].OwnerId)

	n, err = svc.RemindEndingTrials(ctx, now, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEffectivePlan(t *testing.T) {
	now := time.Date(2030, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		state    *models.SubscriptionState
		expected models.Plan
	}{
		{"nil", nil, models.PlanFree},
		{"active monthly", &models.SubscriptionState{Plan: models.PlanMonthly, Status: models.StatusActive, PeriodEnd: now.Add(time.Hour)}, models.PlanMonthly},
		{"lapsed but unswept", &models.SubscriptionState{Plan: models.PlanMonthly, Status: models.StatusActive, PeriodEnd: now.Add(-time.Hour)}, models.PlanFree},
		{"expired yearly", &models.SubscriptionState{Plan: models.PlanYearly, Status: models.StatusExpired}, models.PlanFree},
		{"cancelled weekly", &models.SubscriptionState{Plan: models.PlanWeekly, Status: models.StatusCancelled, PeriodEnd: now.Add(time.Hour)}, models.PlanFree},
		{"trial", &models.SubscriptionState{Plan: models.PlanFree, Status: models.StatusTrial, TrialEnd: now.Add(time.Hour)}, models.PlanFree},
	}

	for _, tt := range tests {
		if got := EffectivePlan(tt.state, now); got != tt.expected {
			t.Errorf("%s: expected %s, got %s", tt.name, tt.expected, got)
		}
	}
}
