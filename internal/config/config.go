package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the agent
type Config struct {
	// Mode
	DryRun bool
	Debug  bool

	// Chain / vault
	RPCURL          string
	VaultAddress    string
	AgentKey        string // hex private key of the trading agent
	PublisherKey    string // hex private key of the signal publisher
	ChainID         int64
	SettlementChain string // chain where the vault + perp venue live

	// Routing oracle (LI.FI-style)
	RouteAPIURL    string
	StatusAPIURL   string
	MaxSlippagePct decimal.Decimal // e.g. 0.01 = 1%

	// Decision thresholds
	ConfidenceThreshold float64         // min aggregated score to open
	PublishThreshold    float64         // min single-signal score to publish on-chain
	PositionCapFraction decimal.Decimal // max collateral as fraction of free vault value
	MaxPositions        int
	DefaultCollateral   decimal.Decimal // USDC
	DefaultLeverage     int
	MaxPositionAge      time.Duration
	TakeProfitPct       decimal.Decimal // close short at this gain fraction
	StopLossPct         decimal.Decimal // close short at this loss fraction
	DipBuyEnabled       bool            // bounce trade after hard crashes
	DipBuyFraction      decimal.Decimal // of the closed position's collateral

	// Signal pipeline
	CycleInterval time.Duration
	SignalWindow  time.Duration
	CacheTTL      time.Duration

	// Upstream data services
	MetricsAPIURL  string // token metrics (TVL, liquidity, holders)
	TweetAPIURL    string // scraped tweet store
	EarningsAPIURL string // earnings + insider filings
	WhaleWSURL     string // large-transfer stream

	// Correlation mappings (ticker -> crypto assets)
	CorrelationsPath string

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Database
	DatabasePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		RPCURL:          getEnv("RPC_URL", "https://arb1.arbitrum.io/rpc"),
		VaultAddress:    os.Getenv("NEXUS_VAULT_ADDRESS"),
		AgentKey:        os.Getenv("AGENT_PRIVATE_KEY"),
		PublisherKey:    os.Getenv("PUBLISHER_PRIVATE_KEY"),
		ChainID:         int64(getEnvInt("CHAIN_ID", 42161)),
		SettlementChain: getEnv("SETTLEMENT_CHAIN", "arbitrum"),

		RouteAPIURL:    getEnv("ROUTE_API_URL", "https://li.quest/v1"),
		StatusAPIURL:   getEnv("STATUS_API_URL", "https://li.quest/v1"),
		MaxSlippagePct: getEnvDecimal("MAX_SLIPPAGE_PCT", decimal.NewFromFloat(0.01)),

		ConfidenceThreshold: getEnvFloat("MIN_CONFIDENCE", 70),
		PublishThreshold:    getEnvFloat("MIN_PUBLISH_SCORE", 60),
		PositionCapFraction: getEnvDecimal("POSITION_CAP_FRACTION", decimal.NewFromFloat(0.20)),
		MaxPositions:        getEnvInt("MAX_POSITIONS", 5),
		DefaultCollateral:   getEnvDecimal("DEFAULT_COLLATERAL_USDC", decimal.NewFromInt(5000)),
		DefaultLeverage:     getEnvInt("DEFAULT_LEVERAGE", 2),
		MaxPositionAge:      getEnvDuration("MAX_POSITION_AGE", 24*time.Hour),
		TakeProfitPct:       getEnvDecimal("TAKE_PROFIT_PCT", decimal.NewFromFloat(0.20)),
		StopLossPct:         getEnvDecimal("STOP_LOSS_PCT", decimal.NewFromFloat(0.10)),
		DipBuyEnabled:       getEnvBool("DIP_BUY_ENABLED", false),
		DipBuyFraction:      getEnvDecimal("DIP_BUY_FRACTION", decimal.NewFromFloat(0.25)),

		CycleInterval: getEnvDuration("CYCLE_INTERVAL", 5*time.Minute),
		SignalWindow:  getEnvDuration("SIGNAL_WINDOW", time.Hour),
		CacheTTL:      getEnvDuration("SCANNER_CACHE_TTL", time.Hour),

		MetricsAPIURL:  getEnv("METRICS_API_URL", "http://localhost:8010"),
		TweetAPIURL:    getEnv("TWEET_API_URL", "http://localhost:8011"),
		EarningsAPIURL: getEnv("EARNINGS_API_URL", "http://localhost:8012"),
		WhaleWSURL:     getEnv("WHALE_WS_URL", ""),

		CorrelationsPath: getEnv("CORRELATIONS_PATH", "config/correlations.yaml"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		DatabasePath: getEnv("DATABASE_PATH", "data/nexus.db"),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	// Live trading needs signing material and a vault to talk to
	if !cfg.DryRun {
		if cfg.AgentKey == "" {
			return nil, fmt.Errorf("AGENT_PRIVATE_KEY is required for live trading")
		}
		if cfg.VaultAddress == "" {
			return nil, fmt.Errorf("NEXUS_VAULT_ADDRESS is required for live trading")
		}
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
