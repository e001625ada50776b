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

// Deny reason codes carried by a Decision.
const (
	ReasonLimitExceeded = "limit_exceeded"
)

// Decision is the outcome of an entitlement check. A denial is a normal
// result, not an error.
type Decision struct {
	Allowed     bool      `json:"allowed"`
	Reason      string    `json:"reason,omitempty"`
	Message     string    `json:"message,omitempty"`
	OwnerId     string    `json:"owner_id"`
	Feature     Feature   `json:"feature"`
	Plan        Plan      `json:"plan"`
	Used        int64     `json:"used"`
	Limit       int64     `json:"limit"`
	Remaining   int64     `json:"remaining"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// FeatureUsage is a read-only view of one counter.
type FeatureUsage struct {
	Feature     Feature   `json:"feature"`
	Used        int64     `json:"used"`
	Limit       int64     `json:"limit"`
	Remaining   int64     `json:"remaining"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// EntitlementSummary is what an account may still do under its owner's plan.
type EntitlementSummary struct {
	AccountId     string             `json:"account_id"`
	OwnerId       string             `json:"owner_id"`
	Status        SubscriptionStatus `json:"status"`
	StoredPlan    Plan               `json:"stored_plan"`
	EffectivePlan Plan               `json:"effective_plan"`
	Usage         []FeatureUsage     `json:"usage"`
}

// BillingEvent is a successful payment reported by the gateway.
type BillingEvent struct {
	Id          string    `json:"id" validate:"required"`
	OwnerId     string    `json:"owner_id" validate:"required"`
	Plan        Plan      `json:"plan" validate:"required"`
	Amount      int64     `json:"amount" validate:"gte=0"`
	PaidThrough time.Time `json:"paid_through"`
	PaidAt      time.Time `json:"paid_at"`
	// PeriodIndex is the 1-based ordinal of this payment in the owner's paid
	// history. Zero means it is looked up from recorded payments.
	PeriodIndex int `json:"period_index,omitempty"`
}

// PurchaseResult is returned by ApplyPurchase.
type PurchaseResult struct {
	State     *SubscriptionState `json:"state"`
	Duplicate bool               `json:"duplicate"`
}

// CommissionBalance summarises a referrer's withdrawable funds.
type CommissionBalance struct {
	OwnerId   string `json:"owner_id"`
	Pending   int64  `json:"pending"`
	Earned    int64  `json:"earned"`
	Withdrawn int64  `json:"withdrawn"`
	Locked    int64  `json:"locked"`
	Available int64  `json:"available"`
}

// UpgradeQuote is the amount due to move an owner onto a new plan now.
type UpgradeQuote struct {
	OwnerId       string    `json:"owner_id"`
	CurrentPlan   Plan      `json:"current_plan"`
	NewPlan       Plan      `json:"new_plan"`
	DaysRemaining int       `json:"days_remaining"`
	CycleDays     int       `json:"cycle_days"`
	Credit        int64     `json:"credit"`
	Charge        int64     `json:"charge"`
	PaidThrough   time.Time `json:"paid_through"`
}

// CheckoutSession is a gateway payment page prepared for an upgrade.
type CheckoutSession struct {
	Quote            UpgradeQuote `json:"quote"`
	Reference        string       `json:"reference"`
	AuthorizationURL string       `json:"authorization_url"`
}
