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

	"entitlement-engine-go/internal/common"
	"entitlement-engine-go/internal/models"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type balanceStats struct {
	totalOwners      int
	ownersWithFunds  int
	totalAvailable   int64
	totalOutstanding int64
}

func printBalance(out io.Writer, info common.AccountInfo, balance *models.CommissionBalance, currency string) {
	fmt.Fprintf(out, "\n┌─ Owner: %s (%s)\n", info.Name, info.Email)
	fmt.Fprintf(out, "│  ID: %s\n", info.Id)
	common.PrintBoxSeparator(out, 78)
	rows := []struct {
		label  string
		amount int64
	}{
		{"pending", balance.Pending},
		{"earned", balance.Earned},
		{"withdrawn", balance.Withdrawn},
		{"locked", balance.Locked},
		{"available", balance.Available},
	}
	for i, row := range rows {
		fmt.Fprintf(out, "%s %-10s: %20s\n", common.BoxPrefix(i == len(rows)-1), row.label, common.FormatAmount(row.amount, currency))
	}
}

func newBalancesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balances <owner...>",
		Short: "Report referral commission balances",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			infos, err := common.InitializeAccounts(ctx, a.services.Directory, args)
			if err != nil {
				return err
			}

			common.PrintHeader(out, "COMMISSION BALANCE REPORT", common.DefaultWidth)
			stats := balanceStats{}
			for _, info := range infos {
				stats.totalOwners++
				balance, err := a.services.Withdrawals.Balance(ctx, info.OwnerId)
				if err != nil {
					zap.L().Error("Failed to load balance",
						zap.String("owner_id", info.OwnerId),
						zap.Error(err))
					continue
				}
				if balance.Available > 0 {
					stats.ownersWithFunds++
				}
				stats.totalAvailable += balance.Available
				stats.totalOutstanding += balance.Pending + balance.Locked
				printBalance(out, info, balance, a.currency())
			}

			summary := fmt.Sprintf("SUMMARY: %d of %d owners can withdraw, %s available, %s pending or locked",
				stats.ownersWithFunds, stats.totalOwners,
				common.FormatAmount(stats.totalAvailable, a.currency()),
				common.FormatAmount(stats.totalOutstanding, a.currency()))
			common.PrintFooter(out, summary, common.DefaultWidth)
			return nil
		},
	}
}

func newWithdrawCmd(a *app) *cobra.Command {
	var amount int64
	var bank models.BankDetails

	cmd := &cobra.Command{
		Use:   "withdraw <owner>",
		Short: "Request a payout of available commission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			owner, err := a.owner(ctx, args[0])
			if err != nil {
				return err
			}
			request, err := a.services.Withdrawals.RequestWithdrawal(ctx, owner.Id, amount, bank)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			common.PrintHeader(out, "WITHDRAWAL REQUEST", common.DefaultWidth)
			fmt.Fprintf(out, "ID:      %s\n", request.Id)
			fmt.Fprintf(out, "Owner:   %s\n", owner.Email)
			fmt.Fprintf(out, "Amount:  %s\n", common.FormatAmount(request.Amount, a.currency()))
			fmt.Fprintf(out, "Account: %s %s (%s)\n", bank.BankCode, bank.AccountNumber, bank.AccountName)
			fmt.Fprintf(out, "Status:  %s\n", request.Status)
			common.PrintSeparator(out, "=", common.DefaultWidth)
			return nil
		},
	}

	cmd.Flags().Int64Var(&amount, "amount", 0, "Amount in minor units")
	cmd.Flags().StringVar(&bank.BankCode, "bank-code", "", "Destination bank code")
	cmd.Flags().StringVar(&bank.AccountNumber, "account-number", "", "Destination account number")
	cmd.Flags().StringVar(&bank.AccountName, "account-name", "", "Destination account name")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newApproveCmd(a *app) *cobra.Command {
	var reject bool
	var reason string

	cmd := &cobra.Command{
		Use:   "approve <withdrawal-id>",
		Short: "Approve a pending withdrawal and send the transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if reject {
				request, err := a.services.Withdrawals.Reject(ctx, args[0], reason)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %s (%s)\n", request.Id, request.Status, request.FailureReason)
				return nil
			}

			request, err := a.services.Withdrawals.Approve(ctx, args[0])
			if err != nil {
				if request != nil {
					fmt.Fprintf(out, "%s: %s (%s)\n", request.Id, request.Status, request.FailureReason)
				}
				return err
			}
			fmt.Fprintf(out, "%s: %s, awaiting transfer confirmation\n", request.Id, request.Status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reject, "reject", false, "Reject instead of approve")
	cmd.Flags().StringVar(&reason, "reason", "rejected by operator", "Rejection reason")
	return cmd
}
