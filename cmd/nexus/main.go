// NEXUS - Autonomous Crash-Shorting Agent
//
// Watches trad-fi, on-chain and social feeds for early crash signals on
// correlated crypto assets, aggregates them into per-asset confidence
// scores, and shorts through the NexusVault contract on Arbitrum.
// Collateral on other chains is bridged in via LI.FI routes, with every
// transfer monitored to settlement.
//
// Pipeline:
// 1. Scan all signal sources in parallel (earnings, Form 4s, TVL,
//    liquidity, whale flows, sentiment)
// 2. Aggregate additively per (asset, chain) over a sliding window
// 3. Publish high scores on-chain, gate entries at the confidence
//    threshold
// 4. Plan + validate bridge routes, execute shorts via the vault
// 5. Manage the book: take profit, stop loss, age out, dip buy
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/0xnexus/nexus/internal/bot"
	"github.com/0xnexus/nexus/internal/bridge"
	"github.com/0xnexus/nexus/internal/chainlink"
	"github.com/0xnexus/nexus/internal/config"
	"github.com/0xnexus/nexus/internal/database"
	"github.com/0xnexus/nexus/internal/engine"
	"github.com/0xnexus/nexus/internal/feeds"
	sig "github.com/0xnexus/nexus/internal/signal"
	"github.com/0xnexus/nexus/internal/vault"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	mode := "DRY RUN"
	if !cfg.DryRun {
		mode = "LIVE"
	}
	log.Info().
		Str("version", version).
		Str("mode", mode).
		Str("settlement_chain", cfg.SettlementChain).
		Float64("min_confidence", cfg.ConfidenceThreshold).
		Int("max_positions", cfg.MaxPositions).
		Msg("🚀 NEXUS agent starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Correlation mappings (equity ticker -> crypto assets)
	corr, err := sig.LoadCorrelations(cfg.CorrelationsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.CorrelationsPath).Msg("Failed to load correlations")
	}

	// ====== DATA FEEDS ======

	marks := chainlink.NewClient(cfg.RPCURL)
	if err := marks.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start Chainlink client")
	}
	defer marks.Stop()

	var whales sig.WhaleSource
	if cfg.WhaleWSURL != "" {
		whaleClient := feeds.NewWhaleClient(cfg.WhaleWSURL)
		if err := whaleClient.Start(); err != nil {
			log.Warn().Err(err).Msg("⚠️ Whale stream unavailable, continuing without it")
		} else {
			defer whaleClient.Stop()
			whales = whaleClient
		}
	}

	// ====== SCANNERS ======

	scanners := []sig.Scanner{
		sig.NewTradFiScanner(feeds.NewEarningsClient(cfg.EarningsAPIURL), corr, cfg.CacheTTL),
		sig.NewOnChainScanner(feeds.NewMetricsClient(cfg.MetricsAPIURL), whales, cfg.CacheTTL),
		sig.NewSocialScanner(feeds.NewTweetClient(cfg.TweetAPIURL), cfg.CacheTTL),
	}
	agg := sig.NewAggregator(cfg.SignalWindow)

	// ====== VAULT ======

	var contract vault.Contract
	receiver := vault.TokenAddresses["USDC"] // placeholder receiver in dry run
	if !cfg.DryRun {
		client, err := vault.NewClient(cfg.RPCURL, cfg.VaultAddress, cfg.AgentKey, cfg.ChainID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect vault client")
		}
		contract = client
		receiver = client.AgentAddress()
	}

	manager := vault.NewManager(contract, receiver, agg.Confidence, vault.ManagerConfig{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		PublishThreshold:    cfg.PublishThreshold,
		PositionCapFraction: cfg.PositionCapFraction,
		MaxPositions:        cfg.MaxPositions,
		SettlementChain:     cfg.SettlementChain,
		DryRun:              cfg.DryRun,
		CanPublish:          cfg.PublisherKey != "" || cfg.DryRun,
		DryRunVaultValue:    decimal.NewFromInt(100_000),
	})

	// ====== BRIDGE ======

	lifi := bridge.NewLiFiClient(cfg.RouteAPIURL)
	planner := bridge.NewPlanner(lifi, cfg.MaxSlippagePct)
	monitor := bridge.NewMonitor(bridge.NewLiFiClient(cfg.StatusAPIURL))

	// ====== TELEGRAM ======

	var notify engine.Notifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := bot.New(cfg.TelegramToken, cfg.TelegramChatID, manager)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram unavailable, continuing without alerts")
		} else {
			tg.Start()
			defer tg.Stop()
			notify = tg
		}
	}

	// ====== ENGINE ======

	eng := engine.New(engine.Config{
		CycleInterval:     cfg.CycleInterval,
		SettlementChain:   cfg.SettlementChain,
		DefaultCollateral: cfg.DefaultCollateral,
		DefaultLeverage:   int64(cfg.DefaultLeverage),
		MaxPositionAge:    cfg.MaxPositionAge,
		TakeProfitPct:     cfg.TakeProfitPct,
		StopLossPct:       cfg.StopLossPct,
		DipBuyEnabled:     cfg.DipBuyEnabled,
		DipBuyFraction:    cfg.DipBuyFraction,
	}, scanners, agg, manager, planner, monitor, marks, db, notify)

	go eng.Run(ctx)

	log.Info().Msg("🚀 All systems running...")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("🛑 Shutting down...")
	cancel()
	log.Info().Msg("👋 Goodbye!")
}
