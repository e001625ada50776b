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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"entitlement-engine-go/internal/models"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	readTimeout, err := getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	writeTimeout, err := getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	trialDuration, err := getEnvDuration("TRIAL_DURATION", 14*24*time.Hour)
	if err != nil {
		return nil, err
	}

	clearanceWindow, err := getEnvDuration("COMMISSION_CLEARANCE_WINDOW", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	cacheTTL, err := getEnvDuration("OWNER_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	reminderLead, err := getEnvDuration("TRIAL_REMINDER_LEAD", 72*time.Hour)
	if err != nil {
		return nil, err
	}

	gatewayTimeout, err := getEnvDuration("GATEWAY_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Driver:          getEnvString("DATABASE_DRIVER", "sqlite3"),
			Path:            getEnvString("DATABASE_PATH", "entitlements.db"),
			DSN:             getEnvString("DATABASE_DSN", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Redis: models.RedisConfig{
			URL: getEnvString("REDIS_URL", ""),
		},
		Server: models.ServerConfig{
			Addr:            getEnvString("HTTP_ADDR", ":8080"),
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
		Billing: models.BillingConfig{
			PlansFile:     getEnvString("PLANS_FILE", ""),
			TrialDuration: trialDuration,
		},
		Referral: models.ReferralConfig{
			MaxPeriods:      getEnvInt("REFERRAL_MAX_PERIODS", 3),
			ClearanceWindow: clearanceWindow,
		},
		Withdrawal: models.WithdrawalConfig{
			MinimumAmount: getEnvInt64("MIN_WITHDRAWAL_AMOUNT", 100000),
		},
		Ownership: models.OwnershipConfig{
			CacheSize: getEnvInt("OWNER_CACHE_SIZE", 10000),
			CacheTTL:  cacheTTL,
		},
		Jobs: models.JobsConfig{
			SweepSchedule:         getEnvString("SWEEP_SCHEDULE", "*/15 * * * *"),
			ClearanceSchedule:     getEnvString("CLEARANCE_SCHEDULE", "0 * * * *"),
			TrialReminderSchedule: getEnvString("TRIAL_REMINDER_SCHEDULE", "0 9 * * *"),
			TrialReminderLead:     reminderLead,
		},
		Gateway: models.GatewayConfig{
			BaseURL:        getEnvString("GATEWAY_BASE_URL", "https://api.paystack.co"),
			SecretKey:      getEnvString("GATEWAY_SECRET_KEY", ""),
			WebhookSecret:  getEnvString("GATEWAY_WEBHOOK_SECRET", ""),
			VerifyPayments: getEnvBool("GATEWAY_VERIFY_PAYMENTS", true),
			Timeout:        gatewayTimeout,
		},
		LogDevelopment: getEnvBool("LOG_DEVELOPMENT", false),
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
