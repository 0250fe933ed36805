package signal

import (
	"context"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNAL MODEL - Normalized bearish observations from all scanners
// ═══════════════════════════════════════════════════════════════════════════════

// Type identifies the kind of observation a scanner produced
type Type string

const (
	// Trad-fi correlation signals
	TypeEarningsMiss   Type = "EARNINGS_MISS"
	TypeRevenueMiss    Type = "REVENUE_MISS"
	TypeInsiderSelling Type = "INSIDER_SELLING"

	// On-chain signals
	TypeTVLDrop             Type = "TVL_DROP"
	TypeLiquidityRemoval    Type = "LIQUIDITY_REMOVAL"
	TypeInsiderDump         Type = "INSIDER_DUMP"
	TypeHolderConcentration Type = "HOLDER_CONCENTRATION"
	TypeWhaleExodus         Type = "WHALE_EXODUS"

	// Social signals
	TypeNegativeSentiment Type = "NEGATIVE_SENTIMENT"
	TypeEngagementCrash   Type = "ENGAGEMENT_CRASH"
	TypeInfluencerSilence Type = "INFLUENCER_SILENCE"
)

// Signal is a single normalized observation suggesting bearish pressure
// on an asset. Immutable once emitted: scanners create them, the
// Aggregator consumes them, nobody edits them in between.
type Signal struct {
	Type      Type
	Asset     string // token symbol or contract address
	Chain     string
	Score     float64 // 0-100
	Metadata  map[string]any
	Timestamp time.Time
	Source    string // scanner name
}

// Scanner is implemented by each independent signal detector.
//
// Scan never returns an error: upstream fetch failures are logged inside
// the scanner and it returns whatever signals it managed to compute.
type Scanner interface {
	Name() string
	Scan(ctx context.Context) []Signal
	Enabled() bool
}
