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
	"errors"
	"fmt"

	"entitlement-engine-go/internal/metrics"
	"entitlement-engine-go/internal/models"
	"entitlement-engine-go/internal/store"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Resolver maps any account to the owner whose subscription governs it.
type Resolver struct {
	accounts store.AccountStore
	cache    *lru.LRU[string, string]
	group    singleflight.Group
	metrics  *metrics.Metrics
}

func NewResolver(accounts store.AccountStore, cfg models.OwnershipConfig, m *metrics.Metrics) *Resolver {
	size := cfg.CacheSize
	if size <= 0 {
		size = 1000
	}
	return &Resolver{
		accounts: accounts,
		cache:    lru.NewLRU[string, string](size, nil, cfg.CacheTTL),
		metrics:  m,
	}
}

// Resolve returns the owner id for accountId. Owners resolve to themselves;
// admins and salespeople resolve through their owner reference.
func (r *Resolver) Resolve(ctx context.Context, accountId string) (string, error) {
	if ownerId, ok := r.cache.Get(accountId); ok {
		r.metrics.ObserveCacheLookup(true)
		return ownerId, nil
	}
	r.metrics.ObserveCacheLookup(false)

	v, err, _ := r.group.Do(accountId, func() (interface{}, error) {
		ownerId, err := r.lookup(ctx, accountId)
		if err != nil {
			return "", err
		}
		r.cache.Add(accountId, ownerId)
		return ownerId, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) lookup(ctx context.Context, accountId string) (string, error) {
	account, err := r.accounts.GetAccount(ctx, accountId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: account %s", models.ErrNotFound, accountId)
		}
		return "", fmt.Errorf("failed to load account %s: %w", accountId, err)
	}

	if account.Role == models.RoleOwner {
		if account.OwnerRef != "" {
			return "", brokenReference(account, "owner carries an owner reference")
		}
		return account.Id, nil
	}

	if account.OwnerRef == "" {
		return "", brokenReference(account, "member has no owner reference")
	}

	owner, err := r.accounts.GetAccount(ctx, account.OwnerRef)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", brokenReference(account, "owner reference points to a missing or deactivated account")
		}
		return "", fmt.Errorf("failed to load owner %s: %w", account.OwnerRef, err)
	}
	if owner.Role != models.RoleOwner {
		return "", brokenReference(account, "owner reference points to a non-owner account")
	}
	return owner.Id, nil
}

func brokenReference(account *models.Account, reason string) error {
	zap.L().Error("Broken ownership reference",
		zap.String("account_id", account.Id),
		zap.String("role", string(account.Role)),
		zap.String("owner_ref", account.OwnerRef),
		zap.String("reason", reason))
	return fmt.Errorf("%w: account %s: %s", models.ErrBrokenReference, account.Id, reason)
}

// Invalidate drops cached resolutions for the given accounts.
func (r *Resolver) Invalidate(accountIds ...string) {
	for _, id := range accountIds {
		r.cache.Remove(id)
	}
}

// Purge drops every cached resolution.
func (r *Resolver) Purge() {
	r.cache.Purge()
}
