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

package database

const (
	// Account queries
	accountColumns = `id, name, email, role, owner_ref, active, created_at, updated_at`

	queryInsertAccount = `
		INSERT INTO accounts (id, name, email, role, owner_ref, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, TRUE, ?, ?)`

	queryGetAccountById = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = ? AND active = TRUE`

	queryGetAccountByEmail = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE email = ? AND active = TRUE`

	queryListMembers = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE owner_ref = ? AND active = TRUE
		ORDER BY created_at`

	queryUpdateAccountRole = `
		UPDATE accounts SET role = ?, owner_ref = ?, updated_at = ?
		WHERE id = ? AND active = TRUE`

	queryDeactivateAccount = `
		UPDATE accounts SET active = FALSE, updated_at = ?
		WHERE id = ? AND active = TRUE`

	// Subscription queries
	subscriptionColumns = `owner_id, plan, status, trial_end, period_start, period_end, cancelled_at, trial_reminded_at, updated_at`

	queryInsertTrialSubscription = `
		INSERT INTO subscription_states (owner_id, plan, status, trial_end, updated_at)
		VALUES (?, 'free', 'trial', ?, ?)
		ON CONFLICT (owner_id) DO NOTHING`

	queryGetSubscriptionState = `
		SELECT ` + subscriptionColumns + `
		FROM subscription_states
		WHERE owner_id = ?`

	queryInsertPayment = `
		INSERT INTO subscription_payments (reference, owner_id, plan, amount, paid_through, paid_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (reference) DO NOTHING`

	queryActivateSubscription = `
		INSERT INTO subscription_states (owner_id, plan, status, period_start, period_end, updated_at)
		VALUES (?, ?, 'active', ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			plan = excluded.plan,
			status = 'active',
			period_start = excluded.period_start,
			period_end = excluded.period_end,
			cancelled_at = NULL,
			updated_at = excluded.updated_at`

	queryCancelSubscription = `
		INSERT INTO subscription_states (owner_id, plan, status, cancelled_at, updated_at)
		VALUES (?, 'free', 'cancelled', ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			status = 'cancelled',
			cancelled_at = excluded.cancelled_at,
			updated_at = excluded.updated_at`

	queryExpireSubscriptions = `
		UPDATE subscription_states SET status = 'expired', updated_at = ?
		WHERE (status = 'active' AND period_end < ?)
		   OR (status = 'trial' AND trial_end < ?)
		RETURNING owner_id`

	queryListTrialsEnding = `
		SELECT ` + subscriptionColumns + `
		FROM subscription_states
		WHERE status = 'trial' AND trial_end >= ? AND trial_end < ? AND trial_reminded_at IS NULL
		ORDER BY trial_end`

	queryMarkTrialReminded = `
		UPDATE subscription_states SET trial_reminded_at = ?
		WHERE owner_id = ? AND trial_reminded_at IS NULL`

	queryGetPayment = `
		SELECT paid_at FROM subscription_payments
		WHERE reference = ? AND owner_id = ?`

	queryPaymentOrdinal = `
		SELECT COUNT(*) FROM subscription_payments
		WHERE owner_id = ? AND (paid_at < ? OR (paid_at = ? AND reference <= ?))`

	queryCountPayments = `
		SELECT COUNT(*) FROM subscription_payments
		WHERE owner_id = ?`

	// Usage queries
	queryEnsureCounter = `
		INSERT INTO usage_counters (id, owner_id, feature, period_start, period_end, count, limit_value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT (owner_id, feature, period_start) DO NOTHING`

	// Single conditional write; a rejected increment changes nothing.
	queryIncrementCounter = `
		UPDATE usage_counters SET count = count + 1, limit_value = ?, updated_at = ?
		WHERE owner_id = ? AND feature = ? AND period_start = ? AND (? < 0 OR count < ?)
		RETURNING count`

	queryGetCounter = `
		SELECT count FROM usage_counters
		WHERE owner_id = ? AND feature = ? AND period_start = ?`

	// Referral queries
	queryInsertReferralEdge = `
		INSERT INTO referral_edges (id, referrer_id, referred_id, created_at)
		VALUES (?, ?, ?, ?)`

	queryGetReferralEdgeByReferred = `
		SELECT id, referrer_id, referred_id, created_at
		FROM referral_edges
		WHERE referred_id = ?`

	queryListReferrals = `
		SELECT id, referrer_id, referred_id, created_at
		FROM referral_edges
		WHERE referrer_id = ?
		ORDER BY created_at`

	// Commission queries
	commissionColumns = `id, referral_edge_id, referrer_id, referred_id, billing_event_id, plan, payment_amount, amount, status, period_index, withdrawal_id, created_at, updated_at`

	queryInsertCommission = `
		INSERT INTO commission_entries (id, referral_edge_id, referrer_id, referred_id, billing_event_id, plan, payment_amount, amount, status, period_index, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?, ?)
		ON CONFLICT (referral_edge_id, billing_event_id) DO NOTHING`

	queryGetCommissionByEvent = `
		SELECT ` + commissionColumns + `
		FROM commission_entries
		WHERE referral_edge_id = ? AND billing_event_id = ?`

	queryGetCommission = `
		SELECT ` + commissionColumns + `
		FROM commission_entries
		WHERE id = ?`

	queryConfirmCommission = `
		UPDATE commission_entries SET status = 'confirmed', updated_at = ?
		WHERE id = ? AND status = 'pending'`

	queryVoidCommission = `
		UPDATE commission_entries SET status = 'voided', updated_at = ?
		WHERE id = ? AND status IN ('pending', 'confirmed')`

	queryVoidCommissionsForEvent = `
		UPDATE commission_entries SET status = 'voided', updated_at = ?
		WHERE billing_event_id = ? AND status IN ('pending', 'confirmed')`

	queryConfirmMatured = `
		UPDATE commission_entries SET status = 'confirmed', updated_at = ?
		WHERE status = 'pending' AND created_at < ?`

	queryListCommissions = `
		SELECT ` + commissionColumns + `
		FROM commission_entries
		WHERE referrer_id = ?
		ORDER BY created_at, id`

	queryListConfirmedCommissions = `
		SELECT id, amount
		FROM commission_entries
		WHERE referrer_id = ? AND status = 'confirmed'
		ORDER BY created_at, id`

	queryMarkCommissionPaid = `
		UPDATE commission_entries SET status = 'paid', withdrawal_id = ?, updated_at = ?
		WHERE id = ? AND status = 'confirmed'`

	queryPaidCommissionTotal = `
		SELECT COALESCE(SUM(amount), 0) FROM commission_entries
		WHERE referrer_id = ? AND status = 'paid'`

	queryCommissionTotals = `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('confirmed', 'paid') THEN amount ELSE 0 END), 0)
		FROM commission_entries
		WHERE referrer_id = ?`

	// Withdrawal queries
	withdrawalColumns = `id, owner_id, amount, status, bank_code, account_number, account_name, bank_ref, failure_reason, created_at, updated_at`

	queryWithdrawalTotals = `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'completed' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('pending', 'processing') THEN amount ELSE 0 END), 0)
		FROM withdrawal_requests
		WHERE owner_id = ?`

	queryOpenWithdrawalExists = `
		SELECT id FROM withdrawal_requests
		WHERE owner_id = ? AND status IN ('pending', 'processing')`

	queryInsertWithdrawal = `
		INSERT INTO withdrawal_requests (id, owner_id, amount, status, bank_code, account_number, account_name, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, ?, ?, ?, ?)`

	queryGetWithdrawal = `
		SELECT ` + withdrawalColumns + `
		FROM withdrawal_requests
		WHERE id = ?`

	queryTransitionWithdrawal = `
		UPDATE withdrawal_requests
		SET status = ?, bank_ref = COALESCE(?, bank_ref), failure_reason = COALESCE(?, failure_reason), updated_at = ?
		WHERE id = ? AND status = ?`

	queryListWithdrawals = `
		SELECT ` + withdrawalColumns + `
		FROM withdrawal_requests
		WHERE owner_id = ?
		ORDER BY created_at DESC`
)
