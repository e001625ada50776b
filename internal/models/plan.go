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

import "fmt"

// Plan is a subscription tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanWeekly  Plan = "weekly"
	PlanMonthly Plan = "monthly"
	PlanYearly  Plan = "yearly"
)

// Plans lists every tier in ascending order of price.
var Plans = []Plan{PlanFree, PlanWeekly, PlanMonthly, PlanYearly}

func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanWeekly, PlanMonthly, PlanYearly:
		return true
	}
	return false
}

// Paid reports whether the plan is billed.
func (p Plan) Paid() bool {
	return p != PlanFree && p.Valid()
}

func ParsePlan(s string) (Plan, error) {
	p := Plan(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown plan %q", s)
	}
	return p, nil
}

// SubscriptionStatus is the lifecycle state of an owner's subscription.
type SubscriptionStatus string

const (
	StatusTrial     SubscriptionStatus = "trial"
	StatusActive    SubscriptionStatus = "active"
	StatusExpired   SubscriptionStatus = "expired"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Feature is a metered capability.
type Feature string

const (
	FeatureInvoices Feature = "invoices"
	FeatureExpenses Feature = "expenses"
	FeatureSales    Feature = "sales"
	FeatureProducts Feature = "products"
)

// Features lists every metered feature.
var Features = []Feature{FeatureInvoices, FeatureExpenses, FeatureSales, FeatureProducts}

func ParseFeature(s string) (Feature, error) {
	switch f := Feature(s); f {
	case FeatureInvoices, FeatureExpenses, FeatureSales, FeatureProducts:
		return f, nil
	}
	return "", fmt.Errorf("unknown feature %q", s)
}

// Role is an account's position within an owner's team.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleAdmin       Role = "admin"
	RoleSalesperson Role = "salesperson"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleOwner, RoleAdmin, RoleSalesperson:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Unlimited marks a feature without a usage cap.
const Unlimited int64 = -1
