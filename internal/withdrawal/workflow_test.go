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

package withdrawal

import (
	"context"
	"errors"
	"fmt"
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

var bank = models.BankDetails{BankCode: "058", AccountNumber: "0123456789", AccountName: "Alice"}

type fakePayouts struct {
	mu        sync.Mutex
	fail      error
	transfers []string
}

func (f *fakePayouts) InitiateTransfer(_ context.Context, _ models.BankDetails, amount int64, reference string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.transfers = append(f.transfers, reference)
	return fmt.Sprintf("TRF_%s_%d", reference, amount), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingPublisher) Publish(evt notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func setupWorkflow(t *testing.T, minimum int64) (*database.Service, *fakePayouts, *recordingPublisher, *Workflow) {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Driver:       "sqlite3",
		Path:         filepath.Join(t.TempDir(), "withdrawals.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	payouts := &fakePayouts{}
	pub := &recordingPublisher{}
	return db, payouts, pub, NewWorkflow(db, payouts, models.WithdrawalConfig{MinimumAmount: minimum}, pub, nil)
}

// fund gives alice confirmed commission entries of the given amounts.
func fund(t *testing.T, db *database.Service, amounts ...int64) {
	t.Helper()
	ctx := context.Background()
	trialEnd := time.Now().UTC().Add(24 * time.Hour)
	for _, id := range []string{"alice", "bob"} {
		_, err := db.CreateOwner(ctx, store.CreateAccountParams{Id: id, Name: id, Email: id + "@example.com", Role: models.RoleOwner}, trialEnd)
		require.NoError(t, err)
	}
	edge, err := db.CreateReferralEdge(ctx, "alice", "bob", time.Now().UTC())
	require.NoError(t, err)

	for i, amount := range amounts {
		entry, _, err := db.CreditCommission(ctx, store.CreditCommissionParams{
			ReferralEdgeId: edge.Id, ReferrerId: "alice", ReferredId: "bob",
			BillingEventId: fmt.Sprintf("evt-%d", i), Plan: models.PlanMonthly,
			PaymentAmount: amount * 5, Amount: amount, PeriodIndex: i + 1,
			CreatedAt: time.Now().UTC().AddDate(0, 0, -30+i),
		})
		require.NoError(t, err)
		_, err = db.ConfirmCommission(ctx, entry.Id, time.Now().UTC())
		require.NoError(t, err)
	}
}

func TestRequestWithdrawalValidation(t *testing.T) {
	ctx := context.Background()
	db, _, _, wf := setupWorkflow(t, 500)
	fund(t, db, 900)

	_, err := wf.RequestWithdrawal(ctx, "alice", 100, bank)
	assert.ErrorIs(t, err, models.ErrBelowMinimum)

	_, err = wf.RequestWithdrawal(ctx, "alice", -5, bank)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = wf.RequestWithdrawal(ctx, "alice", 600, models.BankDetails{BankCode: "058", AccountNumber: "12ab", AccountName: "Alice"})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = wf.RequestWithdrawal(ctx, "alice", 1000, bank)
	var insufficient *models.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(900), insufficient.Available)
	assert.ErrorIs(t, err, models.ErrInsufficientBalance)

	request, err := wf.RequestWithdrawal(ctx, "alice", 600, bank)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPending, request.Status)

	_, err = wf.RequestWithdrawal(ctx, "alice", 500, bank)
	assert.ErrorIs(t, err, models.ErrConflictingRequest)

	balance, err := wf.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(600), balance.Locked)
	assert.Equal(t, int64(300), balance.Available)
}

func TestApproveAndComplete(t *testing.T) {
	ctx := context.Background()
	db, payouts, pub, wf := setupWorkflow(t, 100)
	fund(t, db, 600, 400)

	request, err := wf.RequestWithdrawal(ctx, "alice", 600, bank)
	require.NoError(t, err)

	approved, err := wf.Approve(ctx, request.Id)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalProcessing, approved.Status)
	assert.Equal(t, []string{request.Id}, payouts.transfers)

	_, err = wf.Approve(ctx, request.Id)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	completed, err := wf.HandleTransferResult(ctx, request.Id, true, "BANK-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalCompleted, completed.Status)

	// duplicate delivery
	again, err := wf.HandleTransferResult(ctx, request.Id, true, "BANK-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalCompleted, again.Status)

	_, err = wf.HandleTransferResult(ctx, request.Id, false, "", "reversed")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	require.Len(t, pub.events, 1)
	assert.Equal(t, notify.WithdrawalCompleted, pub.events[0].Type)
	assert.Equal(t, "alice", pub.events[0].OwnerId)

	balance, err := wf.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.Earned)
	assert.Equal(t, int64(600), balance.Withdrawn)
	assert.Equal(t, int64(0), balance.Locked)
	assert.Equal(t, int64(400), balance.Available)

	entries, err := db.ListCommissionEntries(ctx, "alice")
	require.NoError(t, err)
	statuses := map[int64]models.CommissionStatus{}
	for _, e := range entries {
		statuses[e.Amount] = e.Status
	}
	assert.Equal(t, models.CommissionPaid, statuses[600])
	assert.Equal(t, models.CommissionConfirmed, statuses[400])
}

func TestFailedTransferReleasesLock(t *testing.T) {
	ctx := context.Background()
	db, _, pub, wf := setupWorkflow(t, 100)
	fund(t, db, 900)

	request, err := wf.RequestWithdrawal(ctx, "alice", 900, bank)
	require.NoError(t, err)
	_, err = wf.Approve(ctx, request.Id)
	require.NoError(t, err)

	failed, err := wf.HandleTransferResult(ctx, request.Id, false, "", "account closed")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalFailed, failed.Status)
	assert.Equal(t, "account closed", failed.FailureReason)
	assert.Empty(t, pub.events)

	balance, err := wf.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(900), balance.Available)

	// a new request is allowed once the old one is terminal
	_, err = wf.RequestWithdrawal(ctx, "alice", 900, bank)
	require.NoError(t, err)
}

func TestInitiationFailureFailsRequest(t *testing.T) {
	ctx := context.Background()
	db, payouts, _, wf := setupWorkflow(t, 100)
	fund(t, db, 900)
	payouts.fail = errors.New("gateway unavailable")

	request, err := wf.RequestWithdrawal(ctx, "alice", 500, bank)
	require.NoError(t, err)

	failed, err := wf.Approve(ctx, request.Id)
	require.Error(t, err)
	require.NotNil(t, failed)
	assert.Equal(t, models.WithdrawalFailed, failed.Status)

	balance, err := wf.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(900), balance.Available)
}

func TestRejectPending(t *testing.T) {
	ctx := context.Background()
	db, payouts, _, wf := setupWorkflow(t, 100)
	fund(t, db, 900)

	request, err := wf.RequestWithdrawal(ctx, "alice", 500, bank)
	require.NoError(t, err)

	rejected, err := wf.Reject(ctx, request.Id, "suspicious referral pattern")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalFailed, rejected.Status)
	assert.Empty(t, payouts.transfers)

	_, err = wf.Approve(ctx, request.Id)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	requests, err := wf.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, requests, 1)
}

func TestConcurrentRequestsOneSucceeds(t *testing.T) {
	ctx := context.Background()
	db, _, _, wf := setupWorkflow(t, 100)
	fund(t, db, 1000)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := wf.RequestWithdrawal(ctx, "alice", 800, bank)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, models.ErrConflictingRequest) || errors.Is(err, models.ErrInsufficientBalance), err)
	}
	assert.Equal(t, 1, succeeded)
}
