package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `rpc: https://rpc.example.org
subgraph-url: https://subgraph.example.org/ajna
info-utils: "0x30c5eF2997d6a882DE52c4ec01B6D0a5e5B4fAAE"
chain-id: 43114
keystore-key: "0123456789012345678901234567890123456789012345678901234567890123"
sweep-interval: 30s
action-delay: 2s
quote:
  oneinch-url: https://api.1inch.dev/swap/v6.0/43114
  timeout: 3s
pools:
  - address: "0x50FdF4ed3b52b4d7769a280b3e1c6ed1047c06b7"
    min-debt: 25
    kick-price-factor: 0.95
    settlement:
      enabled: true
      min-auction-age: 72h
  - address: "0x0bAcB0b64BbC85E572bd80D6b8196C7a366EFb7b"
    min-debt: 10
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadReadsFileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.RPCURL != "https://rpc.example.org" {
		t.Errorf("rpc = %q", cfg.RPCURL)
	}
	if cfg.ChainID != 43114 {
		t.Errorf("chain-id = %d", cfg.ChainID)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Errorf("sweep-interval = %v", cfg.SweepInterval)
	}
	if cfg.GasPriceMult != 1.1 {
		t.Errorf("default gas-price-multiplier = %v", cfg.GasPriceMult)
	}
	if cfg.GasLimitPadPct != 25 {
		t.Errorf("default gas-limit-pad-pct = %v", cfg.GasLimitPadPct)
	}
	if cfg.TxTimeout != 3*time.Minute {
		t.Errorf("default tx-timeout = %v", cfg.TxTimeout)
	}
	if cfg.Quote.Timeout != 3*time.Second {
		t.Errorf("quote timeout = %v", cfg.Quote.Timeout)
	}

	if len(cfg.Pools) != 2 {
		t.Fatalf("pools = %d, want 2", len(cfg.Pools))
	}
	first := cfg.Pools[0]
	if first.KickPriceFactor != 0.95 {
		t.Errorf("kick-price-factor = %v", first.KickPriceFactor)
	}
	if !first.Settlement.Enabled || first.Settlement.MinAuctionAge != 72*time.Hour {
		t.Errorf("settlement = %+v", first.Settlement)
	}
	if first.Settlement.MaxIterations != 10 {
		t.Errorf("default settlement max-iterations = %d", first.Settlement.MaxIterations)
	}

	second := cfg.Pools[1]
	if second.MarketPriceFactor != 0.98 {
		t.Errorf("default market-price-factor = %v", second.MarketPriceFactor)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KEEPER_DRY_RUN", "true")
	t.Setenv("KEEPER_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, sampleConfig), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.DryRun {
		t.Error("expected env var to enable dry-run")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log-level = %q", cfg.LogLevel)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Config{
		Pools: []PoolConfig{{Address: "not-an-address"}},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}

	msg := err.Error()
	for _, want := range []string{
		"rpc is required",
		"subgraph-url is required",
		"info-utils is required",
		"chain-id is required",
		"keystore-key is required",
		"pools[0].address",
		"pools[0].min-debt",
		"quote venue",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q: %s", want, msg)
		}
	}
}
