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

package cli

import (
	"fmt"
	"time"

	"entitlement-engine-go/internal/common"
	"entitlement-engine-go/internal/jobs"
	"entitlement-engine-go/internal/models"

	"github.com/spf13/cobra"
)

func newQuoteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "quote <owner> <plan>",
		Short: "Price moving an owner onto a plan today",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			plan, err := models.ParsePlan(args[1])
			if err != nil {
				return fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
			}
			owner, err := a.owner(ctx, args[0])
			if err != nil {
				return err
			}
			quote, err := a.services.Billing.QuoteUpgrade(ctx, owner.Id, plan)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			currency := a.currency()
			common.PrintHeader(out, "UPGRADE QUOTE", common.DefaultWidth)
			fmt.Fprintf(out, "Owner:        %s\n", owner.Email)
			fmt.Fprintf(out, "Change:       %s -> %s\n", quote.CurrentPlan, quote.NewPlan)
			if quote.DaysRemaining > 0 {
				fmt.Fprintf(out, "Unused days:  %d of %d\n", quote.DaysRemaining, quote.CycleDays)
			}
			fmt.Fprintf(out, "Credit:       %s\n", common.FormatAmount(quote.Credit, currency))
			fmt.Fprintf(out, "Charge:       %s\n", common.FormatAmount(quote.Charge, currency))
			fmt.Fprintf(out, "Paid through: %s\n", quote.PaidThrough.Format(time.DateOnly))
			common.PrintSeparator(out, "=", common.DefaultWidth)
			return nil
		},
	}
}

func runJob(a *app, cmd *cobra.Command, name, noun string) error {
	n, err := a.scheduler.Run(cmd.Context(), name)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d %s\n", name, n, noun)
	return nil
}

func newSweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire subscriptions whose paid period has ended",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(a, cmd, jobs.JobSweep, "subscriptions expired")
		},
	}
}

func newRemindCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remind",
		Short: "Notify owners whose trial ends soon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(a, cmd, jobs.JobTrialReminders, "owners reminded")
		},
	}
}

func newConfirmCmd(a *app) *cobra.Command {
	var void bool

	cmd := &cobra.Command{
		Use:   "confirm [commission-id...]",
		Short: "Confirm the given commissions, or every one past the clearance window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if void {
					return fmt.Errorf("%w: --void needs commission ids", models.ErrInvalidArgument)
				}
				return runJob(a, cmd, jobs.JobClearance, "commissions confirmed")
			}

			transition := a.services.Ledger.Confirm
			if void {
				transition = a.services.Ledger.Void
			}
			for _, id := range args {
				entry, err := transition(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s\n",
					entry.Id, entry.Status, common.FormatAmount(entry.Amount, a.currency()))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&void, "void", false, "Void instead of confirm")
	return cmd
}
