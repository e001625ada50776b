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

// Package cli implements bizctl, the operator console for the engine.
package cli

import (
	"context"
	"fmt"

	"entitlement-engine-go/internal/common"
	"entitlement-engine-go/internal/config"
	"entitlement-engine-go/internal/jobs"
	"entitlement-engine-go/internal/models"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type app struct {
	cfg       *models.Config
	services  *common.Services
	scheduler *jobs.Scheduler
	cleanup   []func()
}

func Execute() error {
	return NewRootCmd(nil).Execute()
}

// NewRootCmd builds the command tree. When services is nil they are wired
// from the environment before the first command runs.
func NewRootCmd(services *common.Services) *cobra.Command {
	a := &app{services: services}

	rootCmd := &cobra.Command{
		Use:           "bizctl",
		Short:         "Operate subscriptions, usage limits and referral payouts",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context())
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			a.close()
		},
	}

	rootCmd.AddCommand(
		newAddUserCmd(a),
		newSeedCmd(a),
		newReferCmd(a),
		newStatusCmd(a),
		newCheckCmd(a),
		newQuoteCmd(a),
		newCancelCmd(a),
		newMemberCmd(a),
		newSweepCmd(a),
		newRemindCmd(a),
		newConfirmCmd(a),
		newBalancesCmd(a),
		newWithdrawCmd(a),
		newApproveCmd(a),
	)

	return rootCmd
}

func (a *app) init(ctx context.Context) error {
	if a.services == nil {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		a.cfg = cfg

		_, loggerCleanup := common.InitializeLogger(cfg.LogDevelopment)
		a.cleanup = append(a.cleanup, loggerCleanup)

		services, err := common.InitializeServices(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize services: %w", err)
		}
		a.services = services
		a.cleanup = append(a.cleanup, services.Close)
	}

	jobsCfg := models.JobsConfig{}
	if a.cfg != nil {
		jobsCfg = a.cfg.Jobs
	}
	// Jobs only run on demand here, so no schedule is registered.
	jobsCfg.SweepSchedule, jobsCfg.ClearanceSchedule, jobsCfg.TrialReminderSchedule = "", "", ""

	scheduler, err := jobs.NewScheduler(a.services.Subscriptions, a.services.Ledger, jobsCfg, a.services.Metrics)
	if err != nil {
		return err
	}
	a.scheduler = scheduler
	return nil
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

func (a *app) currency() string {
	return a.services.Catalog.Currency()
}

// account resolves an id-or-email argument.
func (a *app) account(ctx context.Context, ref string) (*models.Account, error) {
	return common.FindAccount(ctx, a.services.Directory, ref)
}

// owner resolves an id-or-email argument to the billed owner behind it.
func (a *app) owner(ctx context.Context, ref string) (*models.Account, error) {
	account, err := a.account(ctx, ref)
	if err != nil {
		return nil, err
	}
	if account.Role == models.RoleOwner {
		return account, nil
	}
	ownerId, err := a.services.Resolver.Resolve(ctx, account.Id)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("Resolved member to owner",
		zap.String("account_id", account.Id),
		zap.String("owner_id", ownerId))
	return a.services.Directory.Account(ctx, ownerId)
}
