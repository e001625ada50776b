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

package store

import (
	"context"
	"errors"
	"time"

	"entitlement-engine-go/internal/models"
)

// Sentinel errors shared across all backend implementations. They wrap the
// domain taxonomy so callers can match either.
var (
	ErrNotFound               = models.ErrNotFound
	ErrDuplicate              = models.ErrDuplicateEvent
	ErrInvalidTransition      = models.ErrInvalidTransition
	ErrConflict               = models.ErrConflictingRequest
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// CreateAccountParams contains the parameters for creating an account.
type CreateAccountParams struct {
	Id       string
	Name     string
	Email    string
	Role     models.Role
	OwnerRef string
}

// ApplyPurchaseParams captures one successful subscription payment.
type ApplyPurchaseParams struct {
	OwnerId     string
	Plan        models.Plan
	Amount      int64
	Reference   string
	PaidThrough time.Time
	PaidAt      time.Time
}

// CreditCommissionParams captures one commission credit. The pair
// (ReferralEdgeId, BillingEventId) is unique.
type CreditCommissionParams struct {
	ReferralEdgeId string
	ReferrerId     string
	ReferredId     string
	BillingEventId string
	Plan           models.Plan
	PaymentAmount  int64
	Amount         int64
	PeriodIndex    int
	CreatedAt      time.Time
}

// CreateWithdrawalParams captures a payout request.
type CreateWithdrawalParams struct {
	OwnerId   string
	Amount    int64
	Bank      models.BankDetails
	CreatedAt time.Time
}

// AccountStore persists accounts and their ownership links.
type AccountStore interface {
	// CreateOwner inserts an Owner account and its free/trial subscription row
	// atomically.
	CreateOwner(ctx context.Context, params CreateAccountParams, trialEnd time.Time) (*models.Account, error)
	CreateMember(ctx context.Context, params CreateAccountParams) (*models.Account, error)
	GetAccount(ctx context.Context, accountId string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	UpdateAccountRole(ctx context.Context, accountId string, role models.Role, ownerRef string) error
	DeactivateAccount(ctx context.Context, accountId string) error
	ListMembers(ctx context.Context, ownerId string) ([]models.Account, error)
}

// SubscriptionStore persists subscription rows and applied payments.
type SubscriptionStore interface {
	GetSubscriptionState(ctx context.Context, ownerId string) (*models.SubscriptionState, error)
	// ApplyPurchase records the payment and activates the plan in one
	// transaction. duplicate is true when the reference was already applied.
	ApplyPurchase(ctx context.Context, params ApplyPurchaseParams) (state *models.SubscriptionState, duplicate bool, err error)
	CancelSubscription(ctx context.Context, ownerId string, at time.Time) (*models.SubscriptionState, error)
	// ExpireSubscriptions moves lapsed trial and active rows to expired and
	// returns the affected owners.
	ExpireSubscriptions(ctx context.Context, now time.Time) ([]string, error)
	ListTrialsEnding(ctx context.Context, from, to time.Time) ([]models.SubscriptionState, error)
	MarkTrialReminded(ctx context.Context, ownerId string, at time.Time) (bool, error)
	// PaymentOrdinal is the 1-based position of reference in the owner's
	// payment history, or count+1 if the reference is not recorded yet.
	PaymentOrdinal(ctx context.Context, ownerId, reference string) (int, error)
}

// UsageStore persists usage counters.
type UsageStore interface {
	// IncrementUsage creates the counter if needed and increments it only
	// while count < limit (any count when limit is models.Unlimited).
	IncrementUsage(ctx context.Context, key models.CounterKey, limit int64) (allowed bool, count int64, err error)
	GetUsage(ctx context.Context, key models.CounterKey) (int64, error)
}

// ReferralStore persists referral edges and the commission ledger.
type ReferralStore interface {
	CreateReferralEdge(ctx context.Context, referrerId, referredId string, at time.Time) (*models.ReferralEdge, error)
	GetReferralEdgeByReferred(ctx context.Context, referredId string) (*models.ReferralEdge, error)
	ListReferrals(ctx context.Context, referrerId string) ([]models.ReferralEdge, error)

	// CreditCommission inserts the entry unless one exists for the same edge
	// and billing event; either way the stored entry is returned.
	CreditCommission(ctx context.Context, params CreditCommissionParams) (entry *models.CommissionEntry, created bool, err error)
	GetCommissionEntry(ctx context.Context, entryId string) (*models.CommissionEntry, error)
	ConfirmCommission(ctx context.Context, entryId string, at time.Time) (*models.CommissionEntry, error)
	VoidCommission(ctx context.Context, entryId string, at time.Time) (*models.CommissionEntry, error)
	VoidCommissionsForBillingEvent(ctx context.Context, billingEventId string, at time.Time) (int64, error)
	ConfirmCommissionsBefore(ctx context.Context, cutoff, at time.Time) (int64, error)
	ListCommissionEntries(ctx context.Context, referrerId string) ([]models.CommissionEntry, error)
	GetCommissionBalance(ctx context.Context, ownerId string) (*models.CommissionBalance, error)
}

// WithdrawalStore persists payout requests.
type WithdrawalStore interface {
	// CreateWithdrawal checks the available balance and locks the amount in
	// one transaction. Fails with ErrConflict if the owner already has a
	// non-terminal request, or *models.InsufficientBalanceError.
	CreateWithdrawal(ctx context.Context, params CreateWithdrawalParams) (*models.WithdrawalRequest, error)
	GetWithdrawal(ctx context.Context, withdrawalId string) (*models.WithdrawalRequest, error)
	// TransitionWithdrawal moves a request from one status to another if it is
	// still in the expected status.
	TransitionWithdrawal(ctx context.Context, withdrawalId string, from, to models.WithdrawalStatus, bankRef, reason string, at time.Time) (*models.WithdrawalRequest, error)
	// CompleteWithdrawal settles a processing request and marks the commission
	// entries it consumed as paid.
	CompleteWithdrawal(ctx context.Context, withdrawalId, bankRef string, at time.Time) (*models.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, ownerId string) ([]models.WithdrawalRequest, error)
}

// Store defines the contract that every backend (SQLite, PostgreSQL) must satisfy.
type Store interface {
	AccountStore
	SubscriptionStore
	UsageStore
	ReferralStore
	WithdrawalStore

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close()
}
