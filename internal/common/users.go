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

package common

import (
	"context"
	"fmt"
	"strings"

	"entitlement-engine-go/internal/models"

	"go.uber.org/zap"
)

// AccountFinder is the lookup surface the command-line utilities need.
type AccountFinder interface {
	Account(ctx context.Context, accountId string) (*models.Account, error)
	AccountByEmail(ctx context.Context, email string) (*models.Account, error)
}

// AccountInfo represents simplified account information for command-line utilities
type AccountInfo struct {
	Id      string
	Name    string
	Email   string
	Role    models.Role
	OwnerId string
}

// FindAccount looks ref up by email when it contains an @, otherwise by id.
func FindAccount(ctx context.Context, accounts AccountFinder, ref string) (*models.Account, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: account id or email is required", models.ErrInvalidArgument)
	}
	if strings.Contains(ref, "@") {
		account, err := accounts.AccountByEmail(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("account %s not found: %w", ref, err)
		}
		return account, nil
	}
	account, err := accounts.Account(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("account %s not found: %w", ref, err)
	}
	return account, nil
}

// InitializeAccounts resolves every ref, failing on the first unknown one.
func InitializeAccounts(ctx context.Context, accounts AccountFinder, refs []string) ([]AccountInfo, error) {
	infos := make([]AccountInfo, 0, len(refs))
	for _, ref := range refs {
		account, err := FindAccount(ctx, accounts, ref)
		if err != nil {
			return nil, err
		}
		owner := account.Id
		if account.Role != models.RoleOwner {
			owner = account.OwnerRef
		}
		infos = append(infos, AccountInfo{
			Id:      account.Id,
			Name:    account.Name,
			Email:   account.Email,
			Role:    account.Role,
			OwnerId: owner,
		})
	}

	zap.L().Debug("Resolved accounts", zap.Int("count", len(infos)))
	return infos, nil
}
