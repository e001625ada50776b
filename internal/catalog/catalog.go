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

// Package catalog holds the plan table: prices, billing cycles, usage limits
// and referral commission rates. It is loaded from YAML so that limits can be
// tuned without a deploy.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"entitlement-engine-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// Cycle is the length of a plan's billing and usage period.
type Cycle string

const (
	CycleWeek  Cycle = "week"
	CycleMonth Cycle = "month"
	CycleYear  Cycle = "year"
)

// PlanConfig is one row of the plan table. Prices are minor currency units.
type PlanConfig struct {
	Name           models.Plan      `yaml:"name"`
	Price          int64            `yaml:"price"`
	Cycle          Cycle            `yaml:"cycle"`
	CycleDays      int              `yaml:"cycle_days"`
	CommissionRate string           `yaml:"commission_rate"`
	Limits         map[string]int64 `yaml:"limits"`
}

type catalogFile struct {
	Currency string       `yaml:"currency"`
	Plans    []PlanConfig `yaml:"plans"`
}

// Catalog is an immutable, validated plan table.
type Catalog struct {
	currency string
	plans    map[models.Plan]PlanConfig
	rates    map[models.Plan]decimal.Decimal
}

// Default returns the built-in plan table used when no file is configured.
func Default() *Catalog {
	c, err := build(catalogFile{
		Currency: "NGN",
		Plans: []PlanConfig{
			{
				Name: models.PlanFree, Price: 0, Cycle: CycleMonth, CycleDays: 0, CommissionRate: "0",
				Limits: map[string]int64{"invoices": 5, "expenses": 5, "sales": 20, "products": 20},
			},
			{
				Name: models.PlanWeekly, Price: 1500, Cycle: CycleWeek, CycleDays: 7, CommissionRate: "0",
				Limits: map[string]int64{"invoices": 30, "expenses": 30, "sales": 100, "products": 50},
			},
			{
				Name: models.PlanMonthly, Price: 4500, Cycle: CycleMonth, CycleDays: 30, CommissionRate: "0.20",
				Limits: map[string]int64{"invoices": 200, "expenses": 200, "sales": -1, "products": 500},
			},
			{
				Name: models.PlanYearly, Price: 50000, Cycle: CycleYear, CycleDays: 365, CommissionRate: "0.20",
				Limits: map[string]int64{"invoices": -1, "expenses": -1, "sales": -1, "products": -1},
			},
		},
	})
	if err != nil {
		panic(fmt.Sprintf("invalid built-in catalog: %v", err))
	}
	return c
}

// Load reads a plan table from a YAML file. Relative paths are resolved
// against the working directory. An empty path returns Default().
func Load(plansFile string) (*Catalog, error) {
	if plansFile == "" {
		return Default(), nil
	}

	var plansPath string
	if filepath.IsAbs(plansFile) {
		plansPath = plansFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		plansPath = filepath.Join(wd, plansFile)
	}

	data, err := os.ReadFile(plansPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", plansFile, err)
	}

	return Parse(data)
}

// Parse validates a YAML plan table.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse plan catalog: %w", err)
	}
	return build(file)
}

func build(file catalogFile) (*Catalog, error) {
	c := &Catalog{
		currency: file.Currency,
		plans:    make(map[models.Plan]PlanConfig, len(file.Plans)),
		rates:    make(map[models.Plan]decimal.Decimal, len(file.Plans)),
	}

	for i, plan := range file.Plans {
		if !plan.Name.Valid() {
			return nil, fmt.Errorf("plan at index %d has unknown name %q", i, plan.Name)
		}
		if _, dup := c.plans[plan.Name]; dup {
			return nil, fmt.Errorf("plan %s defined twice", plan.Name)
		}
		if plan.Price < 0 {
			return nil, fmt.Errorf("plan %s has negative price", plan.Name)
		}
		switch plan.Cycle {
		case CycleWeek, CycleMonth, CycleYear:
		default:
			return nil, fmt.Errorf("plan %s has unknown cycle %q", plan.Name, plan.Cycle)
		}
		if plan.Name.Paid() && plan.CycleDays <= 0 {
			return nil, fmt.Errorf("paid plan %s needs positive cycle_days", plan.Name)
		}

		rate := decimal.Zero
		if plan.CommissionRate != "" {
			r, err := decimal.NewFromString(plan.CommissionRate)
			if err != nil {
				return nil, fmt.Errorf("plan %s has invalid commission_rate: %w", plan.Name, err)
			}
			rate = r
		}
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("plan %s commission_rate must be within [0, 1], got %s", plan.Name, rate)
		}

		for feature, limit := range plan.Limits {
			if _, err := models.ParseFeature(feature); err != nil {
				return nil, fmt.Errorf("plan %s: %w", plan.Name, err)
			}
			if limit < models.Unlimited {
				return nil, fmt.Errorf("plan %s limit for %s must be -1 or greater", plan.Name, feature)
			}
		}

		c.plans[plan.Name] = plan
		c.rates[plan.Name] = rate
	}

	for _, p := range models.Plans {
		if _, ok := c.plans[p]; !ok {
			return nil, fmt.Errorf("plan catalog is missing plan %s", p)
		}
	}

	return c, nil
}

func (c *Catalog) Currency() string { return c.currency }

// Plan returns the configuration row for p.
func (c *Catalog) Plan(p models.Plan) (PlanConfig, bool) {
	cfg, ok := c.plans[p]
	return cfg, ok
}

// LimitFor returns the per-period cap on feature under plan, or
// models.Unlimited. A feature missing from the table is not permitted at all.
func (c *Catalog) LimitFor(plan models.Plan, feature models.Feature) int64 {
	cfg, ok := c.plans[plan]
	if !ok {
		cfg = c.plans[models.PlanFree]
	}
	limit, ok := cfg.Limits[string(feature)]
	if !ok {
		return 0
	}
	return limit
}

// Price is the price of one billing cycle in minor units.
func (c *Catalog) Price(plan models.Plan) int64 {
	return c.plans[plan].Price
}

// CycleDays is the nominal cycle length used for pro-rata credit. Zero for free.
func (c *Catalog) CycleDays(plan models.Plan) int {
	if !plan.Paid() {
		return 0
	}
	return c.plans[plan].CycleDays
}

func (c *Catalog) Cycle(plan models.Plan) Cycle {
	cfg, ok := c.plans[plan]
	if !ok {
		return CycleMonth
	}
	return cfg.Cycle
}

// CommissionRate is the fraction of a payment credited to the referrer.
func (c *Catalog) CommissionRate(plan models.Plan) decimal.Decimal {
	rate, ok := c.rates[plan]
	if !ok {
		return decimal.Zero
	}
	return rate
}

// PaidThrough is the end of one billing cycle of plan starting at from.
func (c *Catalog) PaidThrough(plan models.Plan, from time.Time) time.Time {
	from = from.UTC()
	switch c.Cycle(plan) {
	case CycleWeek:
		return from.AddDate(0, 0, 7)
	case CycleYear:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}

// CycleStart is the start of the billing cycle of plan that ends at end.
func (c *Catalog) CycleStart(plan models.Plan, end time.Time) time.Time {
	end = end.UTC()
	switch c.Cycle(plan) {
	case CycleWeek:
		return end.AddDate(0, 0, -7)
	case CycleYear:
		return end.AddDate(-1, 0, 0)
	default:
		return end.AddDate(0, -1, 0)
	}
}
