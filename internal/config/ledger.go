package config

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

const (
	DefaultLockTimeout = 5 * time.Second
	// MinLockTimeout is the smallest wait PostgreSQL can express; lock_timeout = 0 disables it.
	MinLockTimeout = time.Millisecond

	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

type LedgerConfig struct {
	Backend             string
	LockTimeout         time.Duration
	HistoryDefaultLimit int
	HistoryMaxLimit     int
}

type RewardConfig struct {
	TierBonuses    map[string]decimal.Decimal
	IdempotencyTTL time.Duration
	MintQueueKey   string
	IdempotencyKey string
}

// LoadLedgerConfig reads ledger.* from viper. Each key is also bound to its LEDGER_* variable.
func LoadLedgerConfig() *LedgerConfig {
	viper.SetDefault("ledger.backend", BackendPostgres)
	viper.SetDefault("ledger.lock_timeout", DefaultLockTimeout)
	viper.SetDefault("ledger.history_default_limit", DefaultHistoryLimit)
	viper.SetDefault("ledger.history_max_limit", MaxHistoryLimit)

	viper.BindEnv("ledger.backend", "LEDGER_BACKEND")
	viper.BindEnv("ledger.lock_timeout", "LEDGER_LOCK_TIMEOUT")
	viper.BindEnv("ledger.history_default_limit", "LEDGER_HISTORY_DEFAULT_LIMIT")
	viper.BindEnv("ledger.history_max_limit", "LEDGER_HISTORY_MAX_LIMIT")

	cfg := &LedgerConfig{
		Backend:             strings.ToLower(viper.GetString("ledger.backend")),
		LockTimeout:         viper.GetDuration("ledger.lock_timeout"),
		HistoryDefaultLimit: viper.GetInt("ledger.history_default_limit"),
		HistoryMaxLimit:     viper.GetInt("ledger.history_max_limit"),
	}
	cfg.Sanitize()
	return cfg
}

// Sanitize replaces values the ledger cannot honour. An unparseable or non-positive lock
// timeout falls back to the default; anything shorter than MinLockTimeout is raised to it.
// Non-positive history limits fall back to their defaults.
func (c *LedgerConfig) Sanitize() {
	if c.Backend != BackendMemory {
		c.Backend = BackendPostgres
	}
	switch {
	case c.LockTimeout <= 0:
		c.LockTimeout = DefaultLockTimeout
	case c.LockTimeout < MinLockTimeout:
		c.LockTimeout = MinLockTimeout
	}
	if c.HistoryMaxLimit <= 0 {
		c.HistoryMaxLimit = MaxHistoryLimit
	}
	if c.HistoryDefaultLimit <= 0 {
		c.HistoryDefaultLimit = DefaultHistoryLimit
	}
	if c.HistoryDefaultLimit > c.HistoryMaxLimit {
		c.HistoryDefaultLimit = c.HistoryMaxLimit
	}
}

// LoadRewardConfig reads reward.* from viper, bound to the REWARD_* variables.
func LoadRewardConfig() *RewardConfig {
	viper.SetDefault("reward.bonus_bronze", "0")
	viper.SetDefault("reward.bonus_silver", "2")
	viper.SetDefault("reward.bonus_gold", "5")
	viper.SetDefault("reward.idempotency_ttl", 24*time.Hour)
	viper.SetDefault("reward.mint_queue", "rcn_mint_queue")
	viper.SetDefault("reward.idempotency_prefix", "reward:idempotency:")

	viper.BindEnv("reward.bonus_bronze", "REWARD_BONUS_BRONZE")
	viper.BindEnv("reward.bonus_silver", "REWARD_BONUS_SILVER")
	viper.BindEnv("reward.bonus_gold", "REWARD_BONUS_GOLD")
	viper.BindEnv("reward.idempotency_ttl", "REWARD_IDEMPOTENCY_TTL")
	viper.BindEnv("reward.mint_queue", "REWARD_MINT_QUEUE")
	viper.BindEnv("reward.idempotency_prefix", "REWARD_IDEMPOTENCY_PREFIX")

	ttl := viper.GetDuration("reward.idempotency_ttl")
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RewardConfig{
		TierBonuses: map[string]decimal.Decimal{
			"BRONZE": getDecimal("reward.bonus_bronze", decimal.Zero),
			"SILVER": getDecimal("reward.bonus_silver", decimal.NewFromInt(2)),
			"GOLD":   getDecimal("reward.bonus_gold", decimal.NewFromInt(5)),
		},
		IdempotencyTTL: ttl,
		MintQueueKey:   viper.GetString("reward.mint_queue"),
		IdempotencyKey: viper.GetString("reward.idempotency_prefix"),
	}
}

// Negative or malformed bonuses are ignored; a bonus can only add tokens.
func getDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if d, err := decimal.NewFromString(viper.GetString(key)); err == nil && !d.IsNegative() {
		return d
	}
	return defaultVal
}
