package signal

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ON-CHAIN SCANNER - TVL, liquidity, insider wallets, whale outflows
// ═══════════════════════════════════════════════════════════════════════════════

const (
	tvlDropThresholdPct       = -30.0
	liquidityDropThresholdPct = -40.0
	insiderSellThreshold      = 3
	holderConcThresholdPct    = 70.0
	whaleExodusMinTransfers   = 3
)

// TokenMetrics is the per-token snapshot handed over by the metrics service
type TokenMetrics struct {
	Symbol                   string  `json:"token_symbol"`
	Address                  string  `json:"token_address"`
	Chain                    string  `json:"chain"`
	TVLUSD                   float64 `json:"tvl_usd"`
	TVLChange24h             float64 `json:"tvl_change_24h"`
	LiquidityChange24h       float64 `json:"liquidity_change_24h"`
	HolderConcentrationTop10 float64 `json:"holder_concentration_top10"`
	InsiderSells24h          int     `json:"insider_sells_24h"`
	InsiderSellVolumeUSD     float64 `json:"insider_sell_volume_usd"`
	PriceChange24h           float64 `json:"price_change_24h"`
}

// WhaleTransfer is one large transfer from the whale stream
type WhaleTransfer struct {
	Asset      string    `json:"asset"`
	Chain      string    `json:"chain"`
	AmountUSD  float64   `json:"amount_usd"`
	ToExchange bool      `json:"to_exchange"`
	At         time.Time `json:"at"`
}

// MetricsSource provides token metric snapshots
type MetricsSource interface {
	TokenMetrics(ctx context.Context) ([]TokenMetrics, error)
}

// WhaleSource provides recent large transfers for an asset. Backed by a
// websocket stream, so reads are local and never fail.
type WhaleSource interface {
	RecentTransfers(asset, chain string) []WhaleTransfer
}

// OnChainScanner turns token metrics and whale flows into signals
type OnChainScanner struct {
	metrics MetricsSource
	whales  WhaleSource // optional
	cache   *Cache
	enabled bool
	now     func() time.Time
}

// NewOnChainScanner creates the scanner. whales may be nil.
func NewOnChainScanner(metrics MetricsSource, whales WhaleSource, cacheTTL time.Duration) *OnChainScanner {
	return &OnChainScanner{
		metrics: metrics,
		whales:  whales,
		cache:   NewCache(cacheTTL),
		enabled: true,
		now:     time.Now,
	}
}

func (s *OnChainScanner) Name() string  { return "onchain" }
func (s *OnChainScanner) Enabled() bool { return s.enabled }

// Scan evaluates every token snapshot against the rug-pull heuristics
func (s *OnChainScanner) Scan(ctx context.Context) []Signal {
	tokens, err := s.cachedMetrics(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Token metrics fetch failed, skipping on-chain scan")
		return nil
	}

	var out []Signal
	for _, tm := range tokens {
		out = append(out, s.scanToken(tm)...)
	}
	return out
}

func (s *OnChainScanner) scanToken(tm TokenMetrics) []Signal {
	var out []Signal

	emit := func(t Type, score float64, meta map[string]any) {
		out = append(out, Signal{
			Type:      t,
			Asset:     tm.Symbol,
			Chain:     tm.Chain,
			Score:     capScore(score),
			Metadata:  meta,
			Timestamp: s.now(),
			Source:    s.Name(),
		})
	}

	if tm.TVLChange24h < tvlDropThresholdPct {
		emit(TypeTVLDrop, -tm.TVLChange24h, map[string]any{
			"tvl_change_24h": tm.TVLChange24h,
			"tvl_usd":        tm.TVLUSD,
		})
	}

	if tm.LiquidityChange24h < liquidityDropThresholdPct {
		emit(TypeLiquidityRemoval, -tm.LiquidityChange24h, map[string]any{
			"liquidity_change_24h": tm.LiquidityChange24h,
		})
	}

	if tm.InsiderSells24h > insiderSellThreshold {
		emit(TypeInsiderDump, 15*float64(tm.InsiderSells24h), map[string]any{
			"insider_sells_24h":  tm.InsiderSells24h,
			"insider_volume_usd": tm.InsiderSellVolumeUSD,
		})
	}

	if tm.HolderConcentrationTop10 > holderConcThresholdPct {
		emit(TypeHolderConcentration, tm.HolderConcentrationTop10, map[string]any{
			"holder_concentration_top10": tm.HolderConcentrationTop10,
		})
	}

	if s.whales != nil {
		exchangeBound := 0
		total := 0.0
		for _, wt := range s.whales.RecentTransfers(tm.Symbol, tm.Chain) {
			if wt.ToExchange {
				exchangeBound++
				total += wt.AmountUSD
			}
		}
		if exchangeBound >= whaleExodusMinTransfers {
			emit(TypeWhaleExodus, 20*float64(exchangeBound), map[string]any{
				"exchange_transfers": exchangeBound,
				"total_usd":          total,
			})
		}
	}

	return out
}

func (s *OnChainScanner) cachedMetrics(ctx context.Context) ([]TokenMetrics, error) {
	const key = "token-metrics"
	if v, ok := s.cache.Get(key); ok {
		return v.([]TokenMetrics), nil
	}
	tokens, err := s.metrics.TokenMetrics(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, tokens)
	return tokens, nil
}
