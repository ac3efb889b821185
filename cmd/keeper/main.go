package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mitakash/ajna-keeper-sub001/internal/chain"
	"github.com/mitakash/ajna-keeper-sub001/internal/config"
	"github.com/mitakash/ajna-keeper-sub001/internal/engine"
	"github.com/mitakash/ajna-keeper-sub001/internal/executor"
	"github.com/mitakash/ajna-keeper-sub001/internal/nonce"
	"github.com/mitakash/ajna-keeper-sub001/internal/protocol"
	"github.com/mitakash/ajna-keeper-sub001/internal/quote"
	"github.com/mitakash/ajna-keeper-sub001/internal/settlement"
	"github.com/mitakash/ajna-keeper-sub001/internal/storage"
	"github.com/mitakash/ajna-keeper-sub001/internal/storage/postgres"
	"github.com/mitakash/ajna-keeper-sub001/internal/subgraph"
	"github.com/mitakash/ajna-keeper-sub001/internal/tokens"
)

func main() {
	root := &cobra.Command{
		Use:          "keeper",
		Short:        "Ajna liquidation keeper",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the keeper",
		RunE:  runKeeper,
	}

	runCmd.Flags().String("rpc", "", "chain RPC URL")
	runCmd.Flags().String("subgraph-url", "", "Ajna subgraph URL")
	runCmd.Flags().String("info-utils", "", "PoolInfoUtils contract address")
	runCmd.Flags().Uint64("chain-id", 0, "chain id")
	runCmd.Flags().String("keystore-key", "", "signer private key (hex)")
	runCmd.Flags().Bool("dry-run", false, "decide and log without sending transactions")
	runCmd.Flags().Duration("sweep-interval", time.Minute, "time between pool sweeps")
	runCmd.Flags().Duration("action-delay", 5*time.Second, "delay between dispatched actions")
	runCmd.Flags().Float64("gas-price-multiplier", 1.1, "multiplier over the suggested gas price")
	runCmd.Flags().Uint64("gas-limit-pad-pct", 25, "percentage added to the gas estimate")
	runCmd.Flags().Duration("tx-timeout", 3*time.Minute, "how long to wait for a sent transaction to be mined")
	runCmd.Flags().String("audit-log", "./data/actions.jsonl", "action audit JSONL path")
	runCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for the audit trail")
	runCmd.Flags().Int("max-retries", 5, "maximum subgraph retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial subgraph retry backoff")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runKeeper(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	nodeChainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	if nodeChainID.Uint64() != cfg.ChainID {
		return fmt.Errorf("node reports chain id %s, config says %d", nodeChainID, cfg.ChainID)
	}

	signer, err := newSigner(cfg, logger)
	if err != nil {
		return err
	}
	sequencer := nonce.NewSequencer(chainClient, logger)

	sinks := storage.MultiSink{storage.NewJsonlSink(cfg.AuditLog)}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	dispatcher := executor.NewDispatcher(executor.Config{
		DryRun:             cfg.DryRun,
		GasLimitPadPct:     cfg.GasLimitPadPct,
		GasPriceMultiplier: cfg.GasPriceMult,
		WaitTimeout:        cfg.TxTimeout,
		ChainID:            cfg.ChainID,
	}, chainClient, sequencer, signer, sinks, logger)

	indexerClient := subgraph.NewClient(cfg.SubgraphURL, cfg.MaxRetries, cfg.RetryBackoff, nil, logger)
	aggregator := quote.NewAggregator(buildVenues(cfg.Quote, chainClient), cfg.Quote.Timeout, logger)
	swapper, _ := aggregator.VenueByName("1inch").(quote.SwapVenue)
	tokenClient := tokens.NewClient(chainClient, tokens.NewDecimalsCache(chainClient))

	infoUtils := common.HexToAddress(cfg.InfoUtils)
	engines := make([]*engine.Engine, 0, len(cfg.Pools))
	for _, poolCfg := range cfg.Pools {
		pool, err := protocol.NewPool(ctx, chainClient, common.HexToAddress(poolCfg.Address), infoUtils)
		if err != nil {
			return fmt.Errorf("bind pool %s: %w", poolCfg.Address, err)
		}

		var settler engine.Settler
		if poolCfg.Settlement.Enabled {
			settler = settlement.NewEngine(settlement.Config{
				Enabled:           true,
				MinAuctionAge:     poolCfg.Settlement.MinAuctionAge,
				MaxIterations:     poolCfg.Settlement.MaxIterations,
				MaxBucketsPerCall: uint64(poolCfg.Settlement.MaxBucketsPerCall),
				CheckBotIncentive: poolCfg.Settlement.CheckBotIncentive,
			}, pool, indexerClient, dispatcher, logger)
		}

		engines = append(engines, engine.NewEngine(engine.PoolConfig{
			MinDebt:           poolCfg.MinDebt,
			KickPriceFactor:   poolCfg.KickPriceFactor,
			MinCollateral:     poolCfg.MinCollateral,
			MarketPriceFactor: poolCfg.MarketPriceFactor,
			HPBPriceFactor:    poolCfg.HPBPriceFactor,
			MinBucketDeposit:  poolCfg.MinBucketDeposit,
		}, cfg.ActionDelay, pool, indexerClient, aggregator, swapper, dispatcher, tokenClient, settler, logger))
	}

	logger.Info("keeper start",
		zap.Uint64("chain_id", cfg.ChainID),
		zap.String("signer", signer.Address().Hex()),
		zap.Int("pools", len(engines)),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Duration("sweep_interval", cfg.SweepInterval),
	)

	err = engine.NewRunner(engines, cfg.SweepInterval, logger).Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("keeper stopped")
		return nil
	}
	return err
}

// newSigner loads the configured key. In dry-run mode with no key an
// ephemeral one is generated so decisions can still be simulated.
func newSigner(cfg config.Config, logger *zap.Logger) (*executor.KeySigner, error) {
	chainID := new(big.Int).SetUint64(cfg.ChainID)

	hexKey := cfg.KeystoreKey
	if hexKey == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral key: %w", err)
		}
		hexKey = hex.EncodeToString(crypto.FromECDSA(key))
		logger.Warn("no keystore key configured, using ephemeral signer")
	}

	signer, err := executor.NewKeySigner(hexKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("load signer key: %w", err)
	}
	return signer, nil
}

func buildVenues(cfg config.QuoteConfig, chainClient *chain.Client) []quote.Venue {
	retry := quote.DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		retry.BaseDelay = cfg.BaseDelay
	}

	var venues []quote.Venue
	if cfg.OneInchURL != "" {
		venues = append(venues, quote.NewOneInchVenue(cfg.OneInchURL, cfg.OneInchAPIKey, retry, nil))
	}
	if cfg.OnchainQuoter != "" {
		venues = append(venues, quote.NewQuoterVenue(chainClient, common.HexToAddress(cfg.OnchainQuoter), cfg.FeeTier))
	}
	if cfg.CFMMFactory != "" {
		venues = append(venues, quote.NewCFMMVenue(chainClient, common.HexToAddress(cfg.CFMMFactory), cfg.CFMMFeeBps))
	}
	return venues
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
