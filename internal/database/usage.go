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

	"entitlement-engine-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IncrementUsage lazily creates the period's counter, then increments it with
// a single conditional UPDATE. When the guard rejects the increment the
// current count is returned with allowed=false.
func (s *Service) IncrementUsage(ctx context.Context, key models.CounterKey, limit int64) (bool, int64, error) {
	now := s.now()
	periodStart := key.PeriodStart.Unix()

	_, err := s.db.ExecContext(ctx, s.q(queryEnsureCounter),
		uuid.New().String(), key.OwnerId, string(key.Feature), periodStart, key.PeriodEnd.Unix(), limit, now, now)
	if err != nil {
		zap.L().Error("Failed to create usage counter",
			zap.String("owner_id", key.OwnerId),
			zap.String("feature", string(key.Feature)),
			zap.Error(err))
		return false, 0, fmt.Errorf("unable to create usage counter: %w", err)
	}

	var count int64
	err = s.db.QueryRowContext(ctx, s.q(queryIncrementCounter),
		limit, now, key.OwnerId, string(key.Feature), periodStart, limit, limit).Scan(&count)
	if err == nil {
		return true, count, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		zap.L().Error("Failed to increment usage counter",
			zap.String("owner_id", key.OwnerId),
			zap.String("feature", string(key.Feature)),
			zap.Error(err))
		return false, 0, fmt.Errorf("unable to increment usage counter: %w", err)
	}

	count, err = s.GetUsage(ctx, key)
	if err != nil {
		return false, 0, err
	}
	return false, count, nil
}

func (s *Service) GetUsage(ctx context.Context, key models.CounterKey) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, s.q(queryGetCounter),
		key.OwnerId, string(key.Feature), key.PeriodStart.Unix()).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("unable to read usage counter: %w", err)
	}
	return count, nil
}
