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

package ownership

import (
	"context"
	"fmt"
	"strings"
	"time"

	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Directory manages accounts and keeps the resolver cache coherent with
// every change to an ownership link.
type Directory struct {
	accounts      store.AccountStore
	resolver      *Resolver
	trialDuration time.Duration
	now           func() time.Time
}

func NewDirectory(accounts store.AccountStore, resolver *Resolver, trialDuration time.Duration) *Directory {
	return &Directory{
		accounts:      accounts,
		resolver:      resolver,
		trialDuration: trialDuration,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateOwner registers a billed account. Its free trial subscription is
// created in the same transaction.
func (d *Directory) CreateOwner(ctx context.Context, name, email string) (*models.Account, error) {
	if err := validateIdentity(name, email); err != nil {
		return nil, err
	}

	trialEnd := d.now().Add(d.trialDuration)
	account, err := d.accounts.CreateOwner(ctx, store.CreateAccountParams{
		Id:    uuid.New().String(),
		Name:  strings.TrimSpace(name),
		Email: strings.ToLower(strings.TrimSpace(email)),
		Role:  models.RoleOwner,
	}, trialEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to create owner: %w", err)
	}

	zap.L().Info("Owner created",
		zap.String("account_id", account.Id),
		zap.Time("trial_end", trialEnd))
	return account, nil
}

// AddMember attaches an admin or salesperson to an existing owner.
func (d *Directory) AddMember(ctx context.Context, ownerId, name, email string, role models.Role) (*models.Account, error) {
	if err := validateIdentity(name, email); err != nil {
		return nil, err
	}
	if role == models.RoleOwner {
		return nil, fmt.Errorf("%w: members cannot have the owner role", models.ErrInvalidArgument)
	}
	if err := d.requireOwner(ctx, ownerId); err != nil {
		return nil, err
	}

	account, err := d.accounts.CreateMember(ctx, store.CreateAccountParams{
		Id:       uuid.New().String(),
		Name:     strings.TrimSpace(name),
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Role:     role,
		OwnerRef: ownerId,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	zap.L().Info("Member added",
		zap.String("account_id", account.Id),
		zap.String("owner_id", ownerId),
		zap.String("role", string(role)))
	return account, nil
}

// ChangeRole switches a member between admin and salesperson. Promoting a
// member to owner clears its owner reference; demoting an owner requires
// Reassign so the new owner is explicit.
func (d *Directory) ChangeRole(ctx context.Context, accountId string, role models.Role) error {
	account, err := d.accounts.GetAccount(ctx, accountId)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	ownerRef := account.OwnerRef
	switch {
	case role == models.RoleOwner:
		ownerRef = ""
	case account.Role == models.RoleOwner:
		return fmt.Errorf("%w: use reassign to move owner %s under another owner", models.ErrInvalidArgument, accountId)
	}

	if err := d.accounts.UpdateAccountRole(ctx, accountId, role, ownerRef); err != nil {
		return fmt.Errorf("failed to change role: %w", err)
	}
	d.invalidateAfter(account)

	zap.L().Info("Account role changed",
		zap.String("account_id", accountId),
		zap.String("from", string(account.Role)),
		zap.String("to", string(role)))
	return nil
}

// Reassign moves an account under a different owner. An owner being
// reassigned becomes an admin of the new owner, and must have no active
// members left: their owner reference would point at a non-owner.
func (d *Directory) Reassign(ctx context.Context, accountId, newOwnerId string) error {
	if accountId == newOwnerId {
		return fmt.Errorf("%w: account cannot own itself", models.ErrInvalidArgument)
	}
	account, err := d.accounts.GetAccount(ctx, accountId)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if err := d.requireOwner(ctx, newOwnerId); err != nil {
		return err
	}

	role := account.Role
	if role == models.RoleOwner {
		members, err := d.accounts.ListMembers(ctx, accountId)
		if err != nil {
			return fmt.Errorf("failed to list members of %s: %w", accountId, err)
		}
		if len(members) > 0 {
			return fmt.Errorf("%w: owner %s still has %d members; reassign them first",
				models.ErrInvalidArgument, accountId, len(members))
		}
		role = models.RoleAdmin
	}
	if err := d.accounts.UpdateAccountRole(ctx, accountId, role, newOwnerId); err != nil {
		return fmt.Errorf("failed to reassign account: %w", err)
	}
	d.invalidateAfter(account)

	zap.L().Info("Account reassigned",
		zap.String("account_id", accountId),
		zap.String("owner_id", newOwnerId))
	return nil
}

// Deactivate removes an account from resolution. Members of a deactivated
// owner resolve to BrokenReference from then on.
func (d *Directory) Deactivate(ctx context.Context, accountId string) error {
	account, err := d.accounts.GetAccount(ctx, accountId)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if err := d.accounts.DeactivateAccount(ctx, accountId); err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	d.invalidateAfter(account)

	zap.L().Info("Account deactivated", zap.String("account_id", accountId))
	return nil
}

func (d *Directory) Members(ctx context.Context, ownerId string) ([]models.Account, error) {
	return d.accounts.ListMembers(ctx, ownerId)
}

func (d *Directory) Account(ctx context.Context, accountId string) (*models.Account, error) {
	return d.accounts.GetAccount(ctx, accountId)
}

func (d *Directory) AccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return d.accounts.GetAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// invalidateAfter drops the changed account, and every cached member when
// the account was an owner.
func (d *Directory) invalidateAfter(account *models.Account) {
	if account.Role == models.RoleOwner {
		d.resolver.Purge()
		return
	}
	d.resolver.Invalidate(account.Id)
}

func (d *Directory) requireOwner(ctx context.Context, ownerId string) error {
	owner, err := d.accounts.GetAccount(ctx, ownerId)
	if err != nil {
		return fmt.Errorf("failed to load owner %s: %w", ownerId, err)
	}
	if owner.Role != models.RoleOwner {
		return fmt.Errorf("%w: account %s is not an owner", models.ErrInvalidArgument, ownerId)
	}
	return nil
}

func validateIdentity(name, email string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", models.ErrInvalidArgument)
	}
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: invalid email %q", models.ErrInvalidArgument, email)
	}
	return nil
}
