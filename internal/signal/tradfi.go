package signal

import (
	"context"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRAD-FI SCANNER - Equity earnings / insider activity -> correlated crypto
// ═══════════════════════════════════════════════════════════════════════════════
//
// Watches traditional-finance events on equities that are mapped to crypto
// assets (e.g. COIN -> ETH ecosystem tokens). A miss or insider dump on the
// equity becomes a bearish signal on every mapped asset, scaled by that
// asset's correlation strength.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	earningsMissThresholdPct = 10.0
	revenueMissThresholdPct  = 5.0
	largeSellNotionalUSD     = 5_000_000.0
	coordinatedWindow        = 7 * 24 * time.Hour
)

// C-level / senior officer titles count as executives for the large-sell rule
var executiveRole = regexp.MustCompile(`(?i)(chief|officer|ceo|cfo|coo|cto|president)`)

// EarningsReport is a quarterly result handed over by the filings service
type EarningsReport struct {
	Ticker          string    `json:"ticker"`
	EstimateEPS     float64   `json:"estimate_eps"`
	ActualEPS       float64   `json:"actual_eps"`
	EstimateRevenue float64   `json:"estimate_revenue"`
	ActualRevenue   float64   `json:"actual_revenue"`
	ReportedAt      time.Time `json:"reported_at"`
}

// InsiderSale is one Form 4 sale record
type InsiderSale struct {
	Ticker      string    `json:"ticker"`
	Insider     string    `json:"insider"`
	Title       string    `json:"title"`
	NotionalUSD float64   `json:"notional_usd"`
	FiledAt     time.Time `json:"filed_at"`
}

// TradFiSource provides equity data. Implementations live in feeds; the
// scanner only cares about the record shapes.
type TradFiSource interface {
	LatestEarnings(ctx context.Context, ticker string) (*EarningsReport, error)
	InsiderSales(ctx context.Context, ticker string, since time.Time) ([]InsiderSale, error)
}

// TradFiScanner detects earnings misses, revenue misses and insider
// selling on correlated equities
type TradFiScanner struct {
	src     TradFiSource
	corr    *CorrelationMap
	cache   *Cache
	enabled bool
	now     func() time.Time
}

// NewTradFiScanner creates the scanner
func NewTradFiScanner(src TradFiSource, corr *CorrelationMap, cacheTTL time.Duration) *TradFiScanner {
	return &TradFiScanner{
		src:     src,
		corr:    corr,
		cache:   NewCache(cacheTTL),
		enabled: true,
		now:     time.Now,
	}
}

func (s *TradFiScanner) Name() string  { return "tradfi" }
func (s *TradFiScanner) Enabled() bool { return s.enabled }

// Scan checks every mapped ticker. Upstream errors are logged and the
// remaining sub-checks continue; a failed fetch just means no signal.
func (s *TradFiScanner) Scan(ctx context.Context) []Signal {
	var out []Signal

	for _, ticker := range s.corr.Tickers() {
		out = append(out, s.scanEarnings(ctx, ticker)...)
		out = append(out, s.scanInsiders(ctx, ticker)...)
	}

	return out
}

func (s *TradFiScanner) scanEarnings(ctx context.Context, ticker string) []Signal {
	report, err := s.cachedEarnings(ctx, ticker)
	if err != nil {
		log.Warn().Err(err).Str("ticker", ticker).Msg("Earnings fetch failed, skipping")
		return nil
	}
	if report == nil {
		return nil
	}

	var out []Signal

	if miss := missPercent(report.EstimateEPS, report.ActualEPS); miss > earningsMissThresholdPct {
		for _, ca := range s.corr.Get(ticker) {
			out = append(out, Signal{
				Type:  TypeEarningsMiss,
				Asset: ca.Asset,
				Chain: ca.Chain,
				Score: capScore(miss * ca.Strength / 100),
				Metadata: map[string]any{
					"ticker":   ticker,
					"miss_pct": miss,
				},
				Timestamp: s.now(),
				Source:    s.Name(),
			})
		}
	}

	if miss := missPercent(report.EstimateRevenue, report.ActualRevenue); miss > revenueMissThresholdPct {
		for _, ca := range s.corr.Get(ticker) {
			out = append(out, Signal{
				Type:  TypeRevenueMiss,
				Asset: ca.Asset,
				Chain: ca.Chain,
				Score: capScore(miss * 1.5 * ca.Strength / 100),
				Metadata: map[string]any{
					"ticker":   ticker,
					"miss_pct": miss,
				},
				Timestamp: s.now(),
				Source:    s.Name(),
			})
		}
	}

	return out
}

func (s *TradFiScanner) scanInsiders(ctx context.Context, ticker string) []Signal {
	sales, err := s.cachedSales(ctx, ticker)
	if err != nil {
		log.Warn().Err(err).Str("ticker", ticker).Msg("Insider sales fetch failed, skipping")
		return nil
	}

	largeSells := 0
	for _, sale := range sales {
		if executiveRole.MatchString(sale.Title) && sale.NotionalUSD > largeSellNotionalUSD {
			largeSells++
		}
	}

	coordinated := CoordinatedSelling(sales)

	if largeSells == 0 && !coordinated {
		return nil
	}

	coordFlag := 0.0
	if coordinated {
		coordFlag = 1
	}
	base := 20*float64(largeSells) + 30*coordFlag

	var out []Signal
	for _, ca := range s.corr.Get(ticker) {
		out = append(out, Signal{
			Type:  TypeInsiderSelling,
			Asset: ca.Asset,
			Chain: ca.Chain,
			Score: capScore(base * ca.Strength / 100),
			Metadata: map[string]any{
				"ticker":      ticker,
				"large_sells": largeSells,
				"coordinated": coordinated,
			},
			Timestamp: s.now(),
			Source:    s.Name(),
		})
	}
	return out
}

// CoordinatedSelling reports whether at least two distinct insiders sold
// within seven days of each other
func CoordinatedSelling(sales []InsiderSale) bool {
	for i := range sales {
		for j := i + 1; j < len(sales); j++ {
			if sales[i].Insider == sales[j].Insider {
				continue
			}
			gap := sales[i].FiledAt.Sub(sales[j].FiledAt)
			if gap < 0 {
				gap = -gap
			}
			if gap <= coordinatedWindow {
				return true
			}
		}
	}
	return false
}

func (s *TradFiScanner) cachedEarnings(ctx context.Context, ticker string) (*EarningsReport, error) {
	key := "earnings:" + ticker
	if v, ok := s.cache.Get(key); ok {
		return v.(*EarningsReport), nil
	}
	report, err := s.src.LatestEarnings(ctx, ticker)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, report)
	return report, nil
}

func (s *TradFiScanner) cachedSales(ctx context.Context, ticker string) ([]InsiderSale, error) {
	key := "insiders:" + ticker
	if v, ok := s.cache.Get(key); ok {
		return v.([]InsiderSale), nil
	}
	sales, err := s.src.InsiderSales(ctx, ticker, s.now().Add(-coordinatedWindow))
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, sales)
	return sales, nil
}

// missPercent returns how far actual fell short of estimate, in percent.
// Zero or negative estimates never fire.
func missPercent(estimate, actual float64) float64 {
	if estimate <= 0 {
		return 0
	}
	return (estimate - actual) / estimate * 100
}

func capScore(s float64) float64 {
	if s > 100 {
		return 100
	}
	if s < 0 {
		return 0
	}
	return s
}
