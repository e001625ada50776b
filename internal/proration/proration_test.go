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
	"testing"
	"time"

	"entitlement-engine-go/internal/catalog"
	"entitlement-engine-go/internal/models"
)

func TestProrate(t *testing.T) {
	tests := []struct {
		name          string
		oldPrice      int64
		newPrice      int64
		daysRemaining int
		cycleLength   int
		expected      int64
	}{
		{"monthly to yearly half way", 4500, 50000, 15, 30, 47750},
		{"free to monthly", 0, 4500, 0, 0, 4500},
		{"no days remaining", 4500, 50000, 0, 30, 50000},
		{"full cycle remaining", 4500, 50000, 30, 30, 45500},
		{"days clamped to cycle", 4500, 50000, 45, 30, 45500},
		{"negative days clamped to zero", 4500, 50000, -3, 30, 50000},
		{"credit exceeds new price", 50000, 4500, 300, 365, 0},
		{"rounds half up", 1, 10, 1, 2, 10},
		{"rounds fractional charge", 1000, 2000, 1, 3, 1667},
		{"zero cycle ignores old price", 4500, 50000, 15, 0, 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Prorate(tt.oldPrice, tt.newPrice, tt.daysRemaining, tt.cycleLength)
			if got != tt.expected {
				t.Errorf("Prorate(%d, %d, %d, %d) = %d, expected %d",
					tt.oldPrice, tt.newPrice, tt.daysRemaining, tt.cycleLength, got, tt.expected)
			}
		})
	}
}

func TestProrateNeverNegative(t *testing.T) {
	for days := -5; days <= 40; days++ {
		if got := Prorate(50000, 1500, days, 30); got < 0 {
			t.Fatalf("Expected non-negative charge for %d days, got %d", days, got)
		}
	}
}

func TestCredit(t *testing.T) {
	if got := Credit(4500, 15, 30); got != 2250 {
		t.Errorf("Expected credit 2250, got %d", got)
	}
	if got := Credit(4500, 15, 0); got != 0 {
		t.Errorf("Expected zero credit for free cycle, got %d", got)
	}
}

func TestProratePlans(t *testing.T) {
	c := catalog.Default()

	if got := ProratePlans(c, models.PlanMonthly, models.PlanYearly, 15, 0); got != 47750 {
		t.Errorf("Expected 47750, got %d", got)
	}
	// 4500 * 15 / 31 = 2177.4 credit
	if got := ProratePlans(c, models.PlanMonthly, models.PlanYearly, 15, 31); got != 47823 {
		t.Errorf("Expected 47823 over a 31 day cycle, got %d", got)
	}
	if got := ProratePlans(c, models.PlanFree, models.PlanMonthly, 20, 30); got != 4500 {
		t.Errorf("Expected free upgrade to cost full price 4500, got %d", got)
	}
}

func TestDaysRemaining(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		periodEnd time.Time
		expected  int
	}{
		{"zero period end", time.Time{}, 0},
		{"already ended", now.Add(-time.Hour), 0},
		{"ends now", now, 0},
		{"partial day counts", now.Add(time.Hour), 1},
		{"exact days", now.Add(15 * 24 * time.Hour), 15},
		{"fifteen and a bit", now.Add(15*24*time.Hour + time.Minute), 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysRemaining(tt.periodEnd, now); got != tt.expected {
				t.Errorf("Expected %d days, got %d", tt.expected, got)
			}
		})
	}
}
