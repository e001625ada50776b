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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var account models.Account
	var role string
	var ownerRef sql.NullString
	err := row.Scan(&account.Id, &account.Name, &account.Email, &role, &ownerRef,
		&account.Active, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	account.Role = models.Role(role)
	account.OwnerRef = ownerRef.String
	return &account, nil
}

func (s *Service) CreateOwner(ctx context.Context, params store.CreateAccountParams, trialEnd time.Time) (*models.Account, error) {
	if params.Id == "" {
		params.Id = uuid.New().String()
	}
	zap.L().Info("Creating owner account",
		zap.String("id", params.Id),
		zap.String("email", params.Email),
		zap.Time("trial_end", trialEnd))

	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(queryInsertAccount),
		params.Id, params.Name, params.Email, string(models.RoleOwner), nullString(""), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: account with email %s already exists", store.ErrDuplicate, params.Email)
		}
		zap.L().Error("Failed to insert owner", zap.String("email", params.Email), zap.Error(err))
		return nil, fmt.Errorf("unable to insert owner: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.q(queryInsertTrialSubscription), params.Id, nullTime(trialEnd), now)
	if err != nil {
		return nil, fmt.Errorf("unable to create trial subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Owner created successfully", zap.String("id", params.Id))
	return s.GetAccount(ctx, params.Id)
}

func (s *Service) CreateMember(ctx context.Context, params store.CreateAccountParams) (*models.Account, error) {
	if params.Id == "" {
		params.Id = uuid.New().String()
	}
	zap.L().Info("Creating member account",
		zap.String("id", params.Id),
		zap.String("role", string(params.Role)),
		zap.String("owner_ref", params.OwnerRef))

	now := s.now()
	_, err := s.db.ExecContext(ctx, s.q(queryInsertAccount),
		params.Id, params.Name, params.Email, string(params.Role), nullString(params.OwnerRef), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: account with email %s already exists", store.ErrDuplicate, params.Email)
		}
		zap.L().Error("Failed to insert member", zap.String("email", params.Email), zap.Error(err))
		return nil, fmt.Errorf("unable to insert member: %w", err)
	}

	return s.GetAccount(ctx, params.Id)
}

func (s *Service) GetAccount(ctx context.Context, accountId string) (*models.Account, error) {
	zap.L().Debug("Querying account by ID", zap.String("account_id", accountId))

	account, err := scanAccount(s.db.QueryRowContext(ctx, s.q(queryGetAccountById), accountId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: account %s", store.ErrNotFound, accountId)
		}
		zap.L().Error("Failed to query account by ID", zap.String("account_id", accountId), zap.Error(err))
		return nil, fmt.Errorf("unable to query account by ID: %w", err)
	}
	return account, nil
}

func (s *Service) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	zap.L().Debug("Querying account by email", zap.String("email", email))

	account, err := scanAccount(s.db.QueryRowContext(ctx, s.q(queryGetAccountByEmail), email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: account with email %s", store.ErrNotFound, email)
		}
		zap.L().Error("Failed to query account by email", zap.String("email", email), zap.Error(err))
		return nil, fmt.Errorf("unable to query account by email: %w", err)
	}
	return account, nil
}

func (s *Service) UpdateAccountRole(ctx context.Context, accountId string, role models.Role, ownerRef string) error {
	zap.L().Info("Updating account role",
		zap.String("account_id", accountId),
		zap.String("role", string(role)),
		zap.String("owner_ref", ownerRef))

	result, err := s.db.ExecContext(ctx, s.q(queryUpdateAccountRole), string(role), nullString(ownerRef), s.now(), accountId)
	if err != nil {
		return fmt.Errorf("unable to update account role: %w", err)
	}
	return expectOneRow(result, "account", accountId)
}

func (s *Service) DeactivateAccount(ctx context.Context, accountId string) error {
	zap.L().Info("Deactivating account", zap.String("account_id", accountId))

	result, err := s.db.ExecContext(ctx, s.q(queryDeactivateAccount), s.now(), accountId)
	if err != nil {
		return fmt.Errorf("unable to deactivate account: %w", err)
	}
	return expectOneRow(result, "account", accountId)
}

func (s *Service) ListMembers(ctx context.Context, ownerId string) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, s.q(queryListMembers), ownerId)
	if err != nil {
		zap.L().Error("Failed to query members", zap.String("owner_id", ownerId), zap.Error(err))
		return nil, fmt.Errorf("unable to query members: %w", err)
	}
	defer closeRows(rows)

	var members []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan account row: %w", err)
		}
		members = append(members, *account)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}

	return members, nil
}

func expectOneRow(result sql.Result, kind, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s %s", store.ErrNotFound, kind, id)
	}
	return nil
}
