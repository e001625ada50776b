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

package proration

import (
	"math"
	"time"

	"entitlement-engine-go/internal/models"

	"github.com/shopspring/decimal"
)

// PriceTable is the subset of the plan catalog the calculator needs.
type PriceTable interface {
	Price(plan models.Plan) int64
	CycleDays(plan models.Plan) int
}

// Prorate returns the amount due, in minor units, to switch from a plan
// priced oldPrice to one priced newPrice with daysRemaining of a cycle of
// cycleLength days left. Unused days of the old plan are credited at a daily
// rate. The charge never goes negative and is rounded half-up.
func Prorate(oldPrice, newPrice int64, daysRemaining, cycleLength int) int64 {
	credit := decimal.Zero
	if cycleLength > 0 && oldPrice > 0 {
		days := daysRemaining
		if days < 0 {
			days = 0
		}
		if days > cycleLength {
			days = cycleLength
		}
		credit = decimal.NewFromInt(oldPrice).
			Mul(decimal.NewFromInt(int64(days))).
			Div(decimal.NewFromInt(int64(cycleLength)))
	}

	charge := decimal.NewFromInt(newPrice).Sub(credit)
	if charge.IsNegative() {
		return 0
	}
	// Round is half away from zero, which is half-up for a non-negative charge.
	return charge.Round(0).IntPart()
}

// Credit is the unused value of the old plan, rounded half-up.
func Credit(oldPrice int64, daysRemaining, cycleLength int) int64 {
	if cycleLength <= 0 || oldPrice <= 0 {
		return 0
	}
	return oldPrice - Prorate(oldPrice, oldPrice, daysRemaining, cycleLength)
}

// ProratePlans prices a switch between two catalog plans. cycleLength is the
// length in days of the old plan's running cycle; zero or less uses the
// catalog's nominal cycle. Moving off the free plan never earns credit.
func ProratePlans(table PriceTable, oldPlan, newPlan models.Plan, daysRemaining, cycleLength int) int64 {
	if !oldPlan.Paid() {
		return Prorate(0, table.Price(newPlan), 0, 0)
	}
	if cycleLength <= 0 {
		cycleLength = table.CycleDays(oldPlan)
	}
	return Prorate(table.Price(oldPlan), table.Price(newPlan), daysRemaining, cycleLength)
}

// DaysRemaining counts whole or partial days left until periodEnd.
func DaysRemaining(periodEnd, now time.Time) int {
	if periodEnd.IsZero() || !periodEnd.After(now) {
		return 0
	}
	return int(math.Ceil(periodEnd.Sub(now).Hours() / 24))
}
