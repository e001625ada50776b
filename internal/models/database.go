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

package models

import (
	"time"
)

// Account is a user of the suite. Owners are billed; Admins and Salespeople
// inherit their owner's entitlements through OwnerRef.
type Account struct {
	Id        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Role      Role      `db:"role" json:"role"`
	OwnerRef  string    `db:"owner_ref" json:"owner_ref,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SubscriptionState is the single subscription row of an owner.
type SubscriptionState struct {
	OwnerId         string             `db:"owner_id" json:"owner_id"`
	Plan            Plan               `db:"plan" json:"plan"`
	Status          SubscriptionStatus `db:"status" json:"status"`
	TrialEnd        time.Time          `db:"trial_end" json:"trial_end,omitempty"`
	PeriodStart     time.Time          `db:"period_start" json:"period_start,omitempty"`
	PeriodEnd       time.Time          `db:"period_end" json:"period_end,omitempty"`
	CancelledAt     time.Time          `db:"cancelled_at" json:"cancelled_at,omitempty"`
	TrialRemindedAt time.Time          `db:"trial_reminded_at" json:"-"`
	UpdatedAt       time.Time          `db:"updated_at" json:"updated_at"`

	// Implicit is set when no row exists and the state was synthesized.
	Implicit bool `db:"-" json:"implicit,omitempty"`
}

// SubscriptionPayment records one applied purchase. Reference is the gateway's
// payment reference and is unique.
type SubscriptionPayment struct {
	Reference   string    `db:"reference" json:"reference"`
	OwnerId     string    `db:"owner_id" json:"owner_id"`
	Plan        Plan      `db:"plan" json:"plan"`
	Amount      int64     `db:"amount" json:"amount"`
	PaidThrough time.Time `db:"paid_through" json:"paid_through"`
	PaidAt      time.Time `db:"paid_at" json:"paid_at"`
}

// UsageCounter counts creations of one feature by one owner within one period.
type UsageCounter struct {
	Id          string    `db:"id" json:"id"`
	OwnerId     string    `db:"owner_id" json:"owner_id"`
	Feature     Feature   `db:"feature" json:"feature"`
	PeriodStart time.Time `db:"period_start" json:"period_start"`
	PeriodEnd   time.Time `db:"period_end" json:"period_end"`
	Count       int64     `db:"count" json:"count"`
	Limit       int64     `db:"limit_value" json:"limit"`
}

// ReferralEdge links a referred account to the account that referred it.
type ReferralEdge struct {
	Id         string    `db:"id" json:"id"`
	ReferrerId string    `db:"referrer_id" json:"referrer_id"`
	ReferredId string    `db:"referred_id" json:"referred_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// CommissionStatus is the lifecycle state of a commission ledger entry.
type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "pending"
	CommissionConfirmed CommissionStatus = "confirmed"
	CommissionPaid      CommissionStatus = "paid"
	CommissionVoided    CommissionStatus = "voided"
)

// CommissionEntry is one commission credit earned by a referrer from one
// billing event of a referred account.
type CommissionEntry struct {
	Id             string           `db:"id" json:"id"`
	ReferralEdgeId string           `db:"referral_edge_id" json:"referral_edge_id"`
	ReferrerId     string           `db:"referrer_id" json:"referrer_id"`
	ReferredId     string           `db:"referred_id" json:"referred_id"`
	BillingEventId string           `db:"billing_event_id" json:"billing_event_id"`
	Plan           Plan             `db:"plan" json:"plan"`
	PaymentAmount  int64            `db:"payment_amount" json:"payment_amount"`
	Amount         int64            `db:"amount" json:"amount"`
	Status         CommissionStatus `db:"status" json:"status"`
	PeriodIndex    int              `db:"period_index" json:"period_index"`
	WithdrawalId   string           `db:"withdrawal_id" json:"withdrawal_id,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// WithdrawalStatus is the lifecycle state of a payout request.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalFailed
}

// BankDetails identifies the destination account of a payout.
type BankDetails struct {
	BankCode      string `json:"bank_code" validate:"required,max=16"`
	AccountNumber string `json:"account_number" validate:"required,numeric,min=6,max=20"`
	AccountName   string `json:"account_name" validate:"required,max=128"`
}

// WithdrawalRequest is a referrer's request to pay out confirmed commission.
type WithdrawalRequest struct {
	Id            string           `db:"id" json:"id"`
	OwnerId       string           `db:"owner_id" json:"owner_id"`
	Amount        int64            `db:"amount" json:"amount"`
	Status        WithdrawalStatus `db:"status" json:"status"`
	Bank          BankDetails      `db:"-" json:"bank"`
	BankRef       string           `db:"bank_ref" json:"bank_ref,omitempty"`
	FailureReason string           `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// CounterKey addresses one usage counter.
type CounterKey struct {
	OwnerId     string
	Feature     Feature
	PeriodStart time.Time
	PeriodEnd   time.Time
}
