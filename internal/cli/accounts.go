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
	"io"
	"time"

	"entitlement-engine-go/internal/common"
	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/subscription"

	"github.com/spf13/cobra"
)

func newAddUserCmd(a *app) *cobra.Command {
	var name, email, ownerRef, role, referredBy string

	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create an owner, or a team member with --owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			var account *models.Account
			if ownerRef == "" {
				created, err := a.services.Directory.CreateOwner(ctx, name, email)
				if err != nil {
					return err
				}
				account = created
			} else {
				r, err := models.ParseRole(role)
				if err != nil {
					return fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
				}
				owner, err := a.account(ctx, ownerRef)
				if err != nil {
					return err
				}
				created, err := a.services.Directory.AddMember(ctx, owner.Id, name, email, r)
				if err != nil {
					return err
				}
				account = created
			}

			if referredBy != "" {
				referrer, err := a.account(ctx, referredBy)
				if err != nil {
					return err
				}
				if _, err := a.services.Ledger.RecordReferral(ctx, referrer.Id, account.Id); err != nil {
					return err
				}
			}

			common.PrintHeader(out, "ACCOUNT CREATED", common.DefaultWidth)
			fmt.Fprintf(out, "ID:    %s\n", account.Id)
			fmt.Fprintf(out, "Name:  %s\n", account.Name)
			fmt.Fprintf(out, "Email: %s\n", account.Email)
			fmt.Fprintf(out, "Role:  %s\n", account.Role)
			if account.OwnerRef != "" {
				fmt.Fprintf(out, "Owner: %s\n", account.OwnerRef)
			}
			common.PrintSeparator(out, "=", common.DefaultWidth)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&ownerRef, "owner", "", "Owner id or email; creates a team member")
	cmd.Flags().StringVar(&role, "role", string(models.RoleSalesperson), "Member role: admin or salesperson")
	cmd.Flags().StringVar(&referredBy, "referred-by", "", "Referrer id or email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Create owners, members and referrals from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owners, err := common.LoadSeedConfig(args[0])
			if err != nil {
				return err
			}
			result, err := common.ApplySeed(cmd.Context(), a.services.Directory, a.services.Ledger, owners)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "owners: %d, members: %d, referrals: %d, skipped: %d\n",
				result.Owners, result.Members, result.Referrals, result.Skipped)
			return nil
		},
	}
}

func newReferCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refer <referrer> <referred>",
		Short: "Record that one account referred another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			referrer, err := a.account(ctx, args[0])
			if err != nil {
				return err
			}
			referred, err := a.account(ctx, args[1])
			if err != nil {
				return err
			}
			edge, err := a.services.Ledger.RecordReferral(ctx, referrer.Id, referred.Id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s referred %s (%s)\n", referrer.Email, referred.Email, edge.Id)
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <account>",
		Short: "Show an account's subscription and remaining allowance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			account, err := a.account(ctx, args[0])
			if err != nil {
				return err
			}
			summary, err := a.services.Evaluator.Entitlements(ctx, account.Id)
			if err != nil {
				return err
			}
			state, err := a.services.Subscriptions.GetState(ctx, summary.OwnerId)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), account, state, summary)
			return nil
		},
	}
}

func printStatus(out io.Writer, account *models.Account, state *models.SubscriptionState, summary *models.EntitlementSummary) {
	common.PrintHeader(out, "ACCOUNT STATUS", common.DefaultWidth)
	fmt.Fprintf(out, "Account: %s (%s, %s)\n", account.Name, account.Email, account.Role)
	fmt.Fprintf(out, "Owner:   %s\n", summary.OwnerId)
	fmt.Fprintf(out, "Plan:    %s (%s)", summary.StoredPlan, summary.Status)
	if summary.EffectivePlan != summary.StoredPlan {
		fmt.Fprintf(out, ", limits of %s apply", summary.EffectivePlan)
	}
	fmt.Fprintln(out)
	switch {
	case state.Status == models.StatusTrial && !state.TrialEnd.IsZero():
		fmt.Fprintf(out, "Trial:   ends %s\n", state.TrialEnd.Format(time.DateOnly))
	case !state.PeriodEnd.IsZero():
		fmt.Fprintf(out, "Period:  %s to %s\n", state.PeriodStart.Format(time.DateOnly), state.PeriodEnd.Format(time.DateOnly))
	}

	fmt.Fprintf(out, "\n┌─ Usage\n")
	common.PrintBoxSeparator(out, 78)
	for i, u := range summary.Usage {
		fmt.Fprintf(out, "%s %-10s: %6d of %-9s resets %s\n",
			common.BoxPrefix(i == len(summary.Usage)-1),
			u.Feature,
			u.Used,
			common.FormatLimit(u.Limit),
			u.PeriodEnd.Format(time.DateOnly))
	}
	common.PrintSeparator(out, "=", common.DefaultWidth)
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <account> <feature>",
		Short: "Record one metered creation, as the application would",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			feature, err := models.ParseFeature(args[1])
			if err != nil {
				return fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
			}
			account, err := a.account(ctx, args[0])
			if err != nil {
				return err
			}
			decision, err := a.services.Evaluator.CanPerform(ctx, account.Id, feature)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !decision.Allowed {
				fmt.Fprintln(out, decision.Message)
				return nil
			}
			fmt.Fprintf(out, "allowed: %s %d of %s used on %s\n",
				feature, decision.Used, common.FormatLimit(decision.Limit), decision.Plan)
			return nil
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <owner>",
		Short: "Cancel an owner's subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			owner, err := a.owner(ctx, args[0])
			if err != nil {
				return err
			}
			state, err := a.services.Subscriptions.Cancel(ctx, owner.Id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (now on %s limits)\n",
				owner.Email, state.Status, subscription.EffectivePlan(state, time.Now().UTC()))
			return nil
		},
	}
}

func newMemberCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Move team members between owners or change their role",
	}
	cmd.AddCommand(newMemberReassignCmd(a), newMemberRoleCmd(a))
	return cmd
}

func newMemberReassignCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reassign <account> <new-owner>",
		Short: "Move an account under another owner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			account, err := a.account(ctx, args[0])
			if err != nil {
				return err
			}
			owner, err := a.account(ctx, args[1])
			if err != nil {
				return err
			}
			if err := a.services.Directory.Reassign(ctx, account.Id, owner.Id); err != nil {
				return err
			}
			updated, err := a.services.Directory.Account(ctx, account.Id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s of %s\n", updated.Email, updated.Role, owner.Email)
			return nil
		},
	}
}

func newMemberRoleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "role <account> <role>",
		Short: "Change an account's role (owner, admin or salesperson)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			role, err := models.ParseRole(args[1])
			if err != nil {
				return fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
			}
			account, err := a.account(ctx, args[0])
			if err != nil {
				return err
			}
			if err := a.services.Directory.ChangeRole(ctx, account.Id, role); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", account.Email, account.Role, role)
			return nil
		},
	}
}
