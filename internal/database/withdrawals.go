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

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanWithdrawal(row rowScanner) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	var status string
	var bankRef, reason sql.NullString
	err := row.Scan(&w.Id, &w.OwnerId, &w.Amount, &status, &w.Bank.BankCode, &w.Bank.AccountNumber,
		&w.Bank.AccountName, &bankRef, &reason, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.Status = models.WithdrawalStatus(status)
	w.BankRef = bankRef.String
	w.FailureReason = reason.String
	return &w, nil
}

// CreateWithdrawal checks the balance and locks the amount in one
// transaction. The partial unique index on open requests turns a concurrent
// second request into a constraint failure.
func (s *Service) CreateWithdrawal(ctx context.Context, params store.CreateWithdrawalParams) (*models.WithdrawalRequest, error) {
	zap.L().Info("Creating withdrawal request",
		zap.String("owner_id", params.OwnerId),
		zap.Int64("amount", params.Amount))

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var openId string
	err = tx.QueryRowContext(ctx, s.q(queryOpenWithdrawalExists), params.OwnerId).Scan(&openId)
	if err == nil {
		return nil, fmt.Errorf("%w: request %s is still open", store.ErrConflict, openId)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check open withdrawals: %w", err)
	}

	balance, err := s.commissionBalance(ctx, tx, params.OwnerId)
	if err != nil {
		return nil, err
	}
	if params.Amount > balance.Available {
		return nil, &models.InsufficientBalanceError{Requested: params.Amount, Available: balance.Available}
	}

	id := uuid.New().String()
	_, err = tx.ExecContext(ctx, s.q(queryInsertWithdrawal), id, params.OwnerId, params.Amount,
		params.Bank.BankCode, params.Bank.AccountNumber, params.Bank.AccountName, createdAt.UTC(), createdAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: owner %s has an open request", store.ErrConflict, params.OwnerId)
		}
		return nil, fmt.Errorf("failed to insert withdrawal: %w", err)
	}

	w, err := scanWithdrawal(tx.QueryRowContext(ctx, s.q(queryGetWithdrawal), id))
	if err != nil {
		return nil, fmt.Errorf("failed to read withdrawal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: owner %s has an open request", store.ErrConflict, params.OwnerId)
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Withdrawal request created",
		zap.String("withdrawal_id", id),
		zap.String("owner_id", params.OwnerId),
		zap.Int64("amount", params.Amount),
		zap.Int64("available_before", balance.Available))
	return w, nil
}

func (s *Service) GetWithdrawal(ctx context.Context, withdrawalId string) (*models.WithdrawalRequest, error) {
	w, err := scanWithdrawal(s.db.QueryRowContext(ctx, s.q(queryGetWithdrawal), withdrawalId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: withdrawal %s", store.ErrNotFound, withdrawalId)
		}
		return nil, fmt.Errorf("unable to query withdrawal: %w", err)
	}
	return w, nil
}

func (s *Service) TransitionWithdrawal(ctx context.Context, withdrawalId string, from, to models.WithdrawalStatus, bankRef, reason string, at time.Time) (*models.WithdrawalRequest, error) {
	result, err := s.db.ExecContext(ctx, s.q(queryTransitionWithdrawal),
		string(to), nullString(bankRef), nullString(reason), at.UTC(), withdrawalId, string(from))
	if err != nil {
		return nil, fmt.Errorf("unable to update withdrawal: %w", err)
	}
	if err := s.checkWithdrawalTransition(ctx, s.db, result, withdrawalId, from, to); err != nil {
		return nil, err
	}

	zap.L().Info("Withdrawal transitioned",
		zap.String("withdrawal_id", withdrawalId),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return s.GetWithdrawal(ctx, withdrawalId)
}

// CompleteWithdrawal settles the request and converts its lock into a
// permanent debit: confirmed entries, oldest first, are marked paid while
// completed payouts cover them in full.
func (s *Service) CompleteWithdrawal(ctx context.Context, withdrawalId, bankRef string, at time.Time) (*models.WithdrawalRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, s.q(queryTransitionWithdrawal),
		string(models.WithdrawalCompleted), nullString(bankRef), nullString(""), at.UTC(),
		withdrawalId, string(models.WithdrawalProcessing))
	if err != nil {
		return nil, fmt.Errorf("unable to complete withdrawal: %w", err)
	}
	if err := s.checkWithdrawalTransition(ctx, tx, result, withdrawalId, models.WithdrawalProcessing, models.WithdrawalCompleted); err != nil {
		return nil, err
	}

	w, err := scanWithdrawal(tx.QueryRowContext(ctx, s.q(queryGetWithdrawal), withdrawalId))
	if err != nil {
		return nil, fmt.Errorf("failed to read withdrawal: %w", err)
	}

	paid, err := s.markConsumedEntries(ctx, tx, w.OwnerId, withdrawalId, at)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Withdrawal completed",
		zap.String("withdrawal_id", withdrawalId),
		zap.String("owner_id", w.OwnerId),
		zap.Int64("amount", w.Amount),
		zap.Int("entries_paid", paid))
	return w, nil
}

func (s *Service) markConsumedEntries(ctx context.Context, tx *sql.Tx, ownerId, withdrawalId string, at time.Time) (int, error) {
	var withdrawn, locked int64
	if err := tx.QueryRowContext(ctx, s.q(queryWithdrawalTotals), ownerId).Scan(&withdrawn, &locked); err != nil {
		return 0, fmt.Errorf("unable to sum withdrawals: %w", err)
	}

	var paidTotal int64
	err := tx.QueryRowContext(ctx, s.q(queryPaidCommissionTotal), ownerId).Scan(&paidTotal)
	if err != nil {
		return 0, fmt.Errorf("unable to sum paid entries: %w", err)
	}

	rows, err := tx.QueryContext(ctx, s.q(queryListConfirmedCommissions), ownerId)
	if err != nil {
		return 0, fmt.Errorf("unable to query confirmed entries: %w", err)
	}

	type candidate struct {
		id     string
		amount int64
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.amount); err != nil {
			closeRows(rows)
			return 0, fmt.Errorf("unable to scan confirmed entry: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		closeRows(rows)
		return 0, fmt.Errorf("error iterating confirmed entries: %w", err)
	}
	closeRows(rows)

	uncovered := withdrawn - paidTotal
	count := 0
	for _, c := range candidates {
		if c.amount > uncovered {
			break
		}
		if _, err := tx.ExecContext(ctx, s.q(queryMarkCommissionPaid), withdrawalId, at.UTC(), c.id); err != nil {
			return 0, fmt.Errorf("unable to mark entry paid: %w", err)
		}
		uncovered -= c.amount
		count++
	}
	return count, nil
}

func (s *Service) checkWithdrawalTransition(ctx context.Context, q queryer, result sql.Result, withdrawalId string, from, to models.WithdrawalStatus) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return nil
	}

	current, err := scanWithdrawal(q.QueryRowContext(ctx, s.q(queryGetWithdrawal), withdrawalId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: withdrawal %s", store.ErrNotFound, withdrawalId)
		}
		return fmt.Errorf("unable to query withdrawal: %w", err)
	}
	return fmt.Errorf("%w: withdrawal %s is %s, expected %s before %s",
		store.ErrInvalidTransition, withdrawalId, current.Status, from, to)
}

func (s *Service) ListWithdrawals(ctx context.Context, ownerId string) ([]models.WithdrawalRequest, error) {
	rows, err := s.db.QueryContext(ctx, s.q(queryListWithdrawals), ownerId)
	if err != nil {
		return nil, fmt.Errorf("unable to query withdrawals: %w", err)
	}
	defer closeRows(rows)

	var requests []models.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan withdrawal row: %w", err)
		}
		requests = append(requests, *w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating withdrawal rows: %w", err)
	}
	return requests, nil
}
