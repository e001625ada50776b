package models

import "time"

// Config represents the application configuration
type Config struct {
	Database       DatabaseConfig
	Redis          RedisConfig
	Server         ServerConfig
	Billing        BillingConfig
	Referral       ReferralConfig
	Withdrawal     WithdrawalConfig
	Ownership      OwnershipConfig
	Jobs           JobsConfig
	Gateway        GatewayConfig
	LogDevelopment bool
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // sqlite3 or postgres
	Path            string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// RedisConfig switches usage counters to Redis when URL is set
type RedisConfig struct {
	URL string
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// BillingConfig holds plan and trial settings
type BillingConfig struct {
	PlansFile     string
	TrialDuration time.Duration
}

// ReferralConfig holds commission settings
type ReferralConfig struct {
	MaxPeriods      int
	ClearanceWindow time.Duration
}

// WithdrawalConfig holds payout settings
type WithdrawalConfig struct {
	MinimumAmount int64
}

// OwnershipConfig holds resolver cache settings
type OwnershipConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// JobsConfig holds cron schedules for batch jobs
type JobsConfig struct {
	SweepSchedule         string
	ClearanceSchedule     string
	TrialReminderSchedule string
	TrialReminderLead     time.Duration
}

// GatewayConfig holds payment gateway settings
type GatewayConfig struct {
	BaseURL        string
	SecretKey      string
	WebhookSecret  string
	VerifyPayments bool
	Timeout        time.Duration
}
