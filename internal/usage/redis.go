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

package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"entitlement-engine-go/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Counters outlive their period by a day so late reads still see the total.
const counterGrace = 24 * time.Hour

// incrementScript compares and increments in one server-side step.
// KEYS[1] counter key, ARGV[1] limit (-1 unlimited), ARGV[2] expiry in unix ms.
var incrementScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if limit >= 0 and current >= limit then
	return {0, current}
end
current = redis.call('INCR', KEYS[1])
redis.call('PEXPIREAT', KEYS[1], ARGV[2])
return {1, current}
`)

// RedisCounter keeps usage counters in Redis instead of the SQL store.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
}

var _ Backend = (*RedisCounter)(nil)

func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{client: client, prefix: "usage"}
}

// NewRedisCounterFromURL connects using a redis:// URL and verifies the
// connection.
func NewRedisCounterFromURL(ctx context.Context, url string) (*RedisCounter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			zap.L().Warn("Failed to close redis client", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}
	zap.L().Info("Redis usage counters enabled", zap.String("addr", opts.Addr))
	return NewRedisCounter(client), nil
}

func (r *RedisCounter) key(key models.CounterKey) string {
	return fmt.Sprintf("%s:%s:%s:%d", r.prefix, key.OwnerId, key.Feature, key.PeriodStart.Unix())
}

func (r *RedisCounter) IncrementUsage(ctx context.Context, key models.CounterKey, limit int64) (bool, int64, error) {
	expireAt := key.PeriodEnd.Add(counterGrace).UnixMilli()
	values, err := incrementScript.Run(ctx, r.client, []string{r.key(key)}, limit, expireAt).Int64Slice()
	if err != nil {
		zap.L().Error("Failed to increment redis usage counter",
			zap.String("owner_id", key.OwnerId),
			zap.String("feature", string(key.Feature)),
			zap.Error(err))
		return false, 0, fmt.Errorf("unable to increment usage counter: %w", err)
	}
	if len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected increment script reply %v", values)
	}
	return values[0] == 1, values[1], nil
}

func (r *RedisCounter) GetUsage(ctx context.Context, key models.CounterKey) (int64, error) {
	count, err := r.client.Get(ctx, r.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("unable to read usage counter: %w", err)
	}
	return count, nil
}

func (r *RedisCounter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCounter) Close() error {
	return r.client.Close()
}
