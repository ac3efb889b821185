// Package config loads keeper settings from a config file, environment
// variables, and flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// QuoteConfig holds external liquidity venue settings.
type QuoteConfig struct {
	OneInchURL    string        `mapstructure:"oneinch-url"`
	OneInchAPIKey string        `mapstructure:"oneinch-api-key"`
	OnchainQuoter string        `mapstructure:"onchain-quoter"`
	FeeTier       uint32        `mapstructure:"fee-tier"`
	CFMMFactory   string        `mapstructure:"cfmm-factory"`
	CFMMFeeBps    uint64        `mapstructure:"cfmm-fee-bps"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxAttempts   int           `mapstructure:"max-attempts"`
	BaseDelay     time.Duration `mapstructure:"base-delay"`
}

// SettlementConfig holds per-pool settlement settings.
type SettlementConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MinAuctionAge     time.Duration `mapstructure:"min-auction-age"`
	MaxIterations     int           `mapstructure:"max-iterations"`
	MaxBucketsPerCall int           `mapstructure:"max-buckets-per-call"`
	CheckBotIncentive bool          `mapstructure:"check-bot-incentive"`
}

// PoolConfig holds one pool's address and decision thresholds.
type PoolConfig struct {
	Address           string           `mapstructure:"address"`
	MinDebt           float64          `mapstructure:"min-debt"`
	KickPriceFactor   float64          `mapstructure:"kick-price-factor"`
	MinCollateral     float64          `mapstructure:"min-collateral"`
	MarketPriceFactor float64          `mapstructure:"market-price-factor"`
	HPBPriceFactor    float64          `mapstructure:"hpb-price-factor"`
	MinBucketDeposit  float64          `mapstructure:"min-bucket-deposit"`
	Settlement        SettlementConfig `mapstructure:"settlement"`
}

// Config holds every keeper setting.
type Config struct {
	RPCURL         string
	SubgraphURL    string
	InfoUtils      string
	ChainID        uint64
	KeystoreKey    string
	DryRun         bool
	SweepInterval  time.Duration
	ActionDelay    time.Duration
	GasPriceMult   float64
	GasLimitPadPct uint64
	TxTimeout      time.Duration
	AuditLog       string
	PGDSN          string
	MaxRetries     int
	RetryBackoff   time.Duration
	LogLevel       string
	Quote          QuoteConfig
	Pools          []PoolConfig
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("sweep-interval", time.Minute)
	v.SetDefault("action-delay", 5*time.Second)
	v.SetDefault("gas-price-multiplier", 1.1)
	v.SetDefault("gas-limit-pad-pct", uint64(25))
	v.SetDefault("tx-timeout", 3*time.Minute)
	v.SetDefault("audit-log", "./data/actions.jsonl")
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")
	v.SetDefault("quote.fee-tier", uint32(3000))
	v.SetDefault("quote.cfmm-fee-bps", uint64(30))
	v.SetDefault("quote.timeout", 5*time.Second)
	v.SetDefault("quote.max-attempts", 4)
	v.SetDefault("quote.base-delay", 250*time.Millisecond)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:         v.GetString("rpc"),
		SubgraphURL:    v.GetString("subgraph-url"),
		InfoUtils:      v.GetString("info-utils"),
		ChainID:        v.GetUint64("chain-id"),
		KeystoreKey:    v.GetString("keystore-key"),
		DryRun:         v.GetBool("dry-run"),
		SweepInterval:  v.GetDuration("sweep-interval"),
		ActionDelay:    v.GetDuration("action-delay"),
		GasPriceMult:   v.GetFloat64("gas-price-multiplier"),
		GasLimitPadPct: v.GetUint64("gas-limit-pad-pct"),
		TxTimeout:      v.GetDuration("tx-timeout"),
		AuditLog:       v.GetString("audit-log"),
		PGDSN:          v.GetString("pg-dsn"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		LogLevel:       v.GetString("log-level"),
		Quote: QuoteConfig{
			OneInchURL:    v.GetString("quote.oneinch-url"),
			OneInchAPIKey: v.GetString("quote.oneinch-api-key"),
			OnchainQuoter: v.GetString("quote.onchain-quoter"),
			FeeTier:       uint32(v.GetUint64("quote.fee-tier")),
			CFMMFactory:   v.GetString("quote.cfmm-factory"),
			CFMMFeeBps:    v.GetUint64("quote.cfmm-fee-bps"),
			Timeout:       v.GetDuration("quote.timeout"),
			MaxAttempts:   v.GetInt("quote.max-attempts"),
			BaseDelay:     v.GetDuration("quote.base-delay"),
		},
	}
	if err := v.UnmarshalKey("pools", &cfg.Pools); err != nil {
		return Config{}, fmt.Errorf("parse pools: %w", err)
	}

	applyPoolDefaults(cfg.Pools)
	return cfg, nil
}

func applyPoolDefaults(pools []PoolConfig) {
	for i := range pools {
		p := &pools[i]
		if p.KickPriceFactor <= 0 {
			p.KickPriceFactor = 0.99
		}
		if p.MarketPriceFactor <= 0 {
			p.MarketPriceFactor = 0.98
		}
		if p.HPBPriceFactor <= 0 {
			p.HPBPriceFactor = 0.98
		}
		if p.Settlement.MaxIterations <= 0 {
			p.Settlement.MaxIterations = 10
		}
		if p.Settlement.MaxBucketsPerCall <= 0 {
			p.Settlement.MaxBucketsPerCall = 50
		}
	}
}

// Validate checks every required field and reports all problems at once.
func (c Config) Validate() error {
	var problems []string
	if c.RPCURL == "" {
		problems = append(problems, "rpc is required")
	}
	if c.SubgraphURL == "" {
		problems = append(problems, "subgraph-url is required")
	}
	if c.InfoUtils == "" {
		problems = append(problems, "info-utils is required")
	} else if !common.IsHexAddress(c.InfoUtils) {
		problems = append(problems, fmt.Sprintf("info-utils %q is not an address", c.InfoUtils))
	}
	if c.ChainID == 0 {
		problems = append(problems, "chain-id is required")
	}
	if c.KeystoreKey == "" && !c.DryRun {
		problems = append(problems, "keystore-key is required unless dry-run is set")
	}
	if len(c.Pools) == 0 {
		problems = append(problems, "at least one pool is required")
	}
	for i, pool := range c.Pools {
		if !common.IsHexAddress(pool.Address) {
			problems = append(problems, fmt.Sprintf("pools[%d].address %q is not an address", i, pool.Address))
		}
		if pool.MinDebt <= 0 {
			problems = append(problems, fmt.Sprintf("pools[%d].min-debt must be positive", i))
		}
	}
	if c.Quote.OneInchURL == "" && c.Quote.OnchainQuoter == "" && c.Quote.CFMMFactory == "" {
		problems = append(problems, "at least one quote venue is required")
	}
	if c.Quote.OnchainQuoter != "" && !common.IsHexAddress(c.Quote.OnchainQuoter) {
		problems = append(problems, fmt.Sprintf("quote.onchain-quoter %q is not an address", c.Quote.OnchainQuoter))
	}
	if c.Quote.CFMMFactory != "" && !common.IsHexAddress(c.Quote.CFMMFactory) {
		problems = append(problems, fmt.Sprintf("quote.cfmm-factory %q is not an address", c.Quote.CFMMFactory))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}
