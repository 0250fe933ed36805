package engine

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xnexus/nexus/internal/bridge"
	"github.com/0xnexus/nexus/internal/signal"
	"github.com/0xnexus/nexus/internal/vault"
)

// fakeVault implements vault.Contract
type fakeVault struct {
	mu         sync.Mutex
	vaultValue *big.Int
	shorts     int
	closes     int
	dips       int
	pubScores  []*big.Int
}

func (f *fakeVault) ExecuteShort(_ context.Context, _ common.Address, _, _, _ *big.Int, _ string, _ vault.BridgeData) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shorts++
	return "0xopen", nil
}

func (f *fakeVault) ClosePosition(_ context.Context, _, _ *big.Int, _ bool, _ string, _ common.Address, _ vault.BridgeData) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return "0xclose", nil
}

func (f *fakeVault) ExecuteDipBuy(_ context.Context, _ common.Address, _, _, _ *big.Int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dips++
	return "0xdip", nil
}

func (f *fakeVault) TotalVaultValue(_ context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.vaultValue), nil
}

func (f *fakeVault) OpenPositions(_ context.Context) ([]vault.ChainPosition, error) {
	return nil, nil
}

func (f *fakeVault) PublishSignalBatch(_ context.Context, _ []common.Address, scores []*big.Int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubScores = scores
	return "0xpub", nil
}

func (f *fakeVault) ConfidenceScore(_ context.Context, _ common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeVault) SetPaused(_ context.Context, _ bool) (string, error) {
	return "0xpause", nil
}

func (f *fakeVault) EmergencyWithdraw(_ context.Context, _ common.Address, _ *big.Int) (string, error) {
	return "0xwithdraw", nil
}

// oneShotScanner emits its signals exactly once
type oneShotScanner struct {
	mu      sync.Mutex
	signals []signal.Signal
}

func (s *oneShotScanner) Name() string  { return "fake" }
func (s *oneShotScanner) Enabled() bool { return true }
func (s *oneShotScanner) Scan(_ context.Context) []signal.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.signals
	s.signals = nil
	return out
}

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func (f *fakePrices) Price(asset string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prices[asset], nil
}

func (f *fakePrices) set(asset string, p int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = decimal.NewFromInt(p)
}

type fakeRouteOracle struct {
	routes []bridge.Route
}

func (f *fakeRouteOracle) Routes(_ context.Context, _ bridge.Request) ([]bridge.Route, error) {
	return f.routes, nil
}

type idleStatusOracle struct{}

func (idleStatusOracle) TransferStatus(_ context.Context, _, _, _, _ string) (*bridge.TransferStatus, error) {
	return &bridge.TransferStatus{Status: "DONE"}, nil
}

func testEngine(t *testing.T, fv *fakeVault, capFraction float64, collateral int64, routes []bridge.Route) (*Engine, *signal.Aggregator, *vault.Manager, *fakePrices) {
	t.Helper()

	agg := signal.NewAggregator(time.Hour)
	manager := vault.NewManager(fv, common.HexToAddress("0x1"), agg.Confidence, vault.ManagerConfig{
		ConfidenceThreshold: 70,
		PublishThreshold:    60,
		PositionCapFraction: decimal.NewFromFloat(capFraction),
		MaxPositions:        5,
		SettlementChain:     "arbitrum",
		CanPublish:          true,
	})
	prices := &fakePrices{prices: map[string]decimal.Decimal{
		"WETH": decimal.NewFromInt(2000),
		"WBTC": decimal.NewFromInt(60000),
		"ARB":  decimal.NewFromInt(1),
	}}

	planner := bridge.NewPlanner(&fakeRouteOracle{routes: routes}, decimal.NewFromFloat(0.01))
	monitor := bridge.NewMonitor(idleStatusOracle{})

	eng := New(Config{
		CycleInterval:     time.Minute,
		SettlementChain:   "arbitrum",
		DefaultCollateral: decimal.NewFromInt(collateral),
		DefaultLeverage:   2,
		MaxPositionAge:    24 * time.Hour,
		TakeProfitPct:     decimal.NewFromFloat(0.20),
		StopLossPct:       decimal.NewFromFloat(0.10),
		DipBuyEnabled:     true,
		DipBuyFraction:    decimal.NewFromFloat(0.25),
	}, nil, agg, manager, planner, monitor, prices, nil, nil)

	return eng, agg, manager, prices
}

func vaultUSD(usd int64) *fakeVault {
	return &fakeVault{vaultValue: new(big.Int).Mul(big.NewInt(usd), big.NewInt(1_000_000))}
}

func TestCycleOpensHighConfidencePosition(t *testing.T) {
	fv := vaultUSD(100_000)
	eng, _, manager, _ := testEngine(t, fv, 0.20, 5000, nil)

	eng.scanners = []signal.Scanner{&oneShotScanner{signals: []signal.Signal{
		{Type: signal.TypeEarningsMiss, Asset: "WETH", Chain: "arbitrum", Score: 85},
		{Type: signal.TypeNegativeSentiment, Asset: "WETH", Chain: "arbitrum", Score: 70},
	}}}

	eng.RunCycle(context.Background())

	positions := manager.OpenPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "WETH", positions[0].Asset)
	assert.InDelta(t, 155.0, positions[0].Confidence, 1e-9)
	assert.True(t, positions[0].Collateral.Equal(decimal.NewFromInt(5000)))
	assert.True(t, positions[0].EntryPrice.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, 1, fv.shorts)
}

func TestLowConfidencePublishedButNotTraded(t *testing.T) {
	fv := vaultUSD(100_000)
	eng, _, manager, _ := testEngine(t, fv, 0.20, 5000, nil)

	// 65 is publishable (>= 60) but below the 70 entry threshold
	eng.scanners = []signal.Scanner{&oneShotScanner{signals: []signal.Signal{
		{Type: signal.TypeTVLDrop, Asset: "ARB", Chain: "arbitrum", Score: 65},
	}}}

	eng.RunCycle(context.Background())

	assert.Empty(t, manager.OpenPositions())
	require.Len(t, fv.pubScores, 1)
	assert.Equal(t, int64(65), fv.pubScores[0].Int64())
	assert.Zero(t, fv.shorts)
}

func TestVaultCapScenario(t *testing.T) {
	// $10k vault, cap 0.5: the first $5k entry opens, then a $3k entry
	// against the remaining $5k free value is rejected.
	fv := vaultUSD(10_000)
	eng, agg, manager, _ := testEngine(t, fv, 0.5, 5000, nil)

	eng.scanners = []signal.Scanner{&oneShotScanner{signals: []signal.Signal{
		{Type: signal.TypeEarningsMiss, Asset: "WETH", Chain: "arbitrum", Score: 85},
		{Type: signal.TypeNegativeSentiment, Asset: "WETH", Chain: "arbitrum", Score: 70},
	}}}
	eng.RunCycle(context.Background())
	require.Len(t, manager.OpenPositions(), 1)

	// Second candidate arrives; engine now sized at $3k
	eng.cfg.DefaultCollateral = decimal.NewFromInt(3000)
	agg.Record(signal.Signal{Type: signal.TypeLiquidityRemoval, Asset: "ARB", Chain: "arbitrum", Score: 90})
	eng.scanners = nil
	eng.RunCycle(context.Background())

	positions := manager.OpenPositions()
	require.Len(t, positions, 1, "the $3k entry must be rejected")
	assert.Equal(t, "WETH", positions[0].Asset)
	assert.Equal(t, 1, fv.shorts)
}

func TestNoDuplicatePositionPerAsset(t *testing.T) {
	fv := vaultUSD(100_000)
	eng, _, manager, _ := testEngine(t, fv, 0.20, 5000, nil)

	eng.scanners = []signal.Scanner{&oneShotScanner{signals: []signal.Signal{
		{Type: signal.TypeEarningsMiss, Asset: "WETH", Chain: "arbitrum", Score: 90},
	}}}
	eng.RunCycle(context.Background())
	require.Len(t, manager.OpenPositions(), 1)

	// Confidence is still in the window next cycle, but the asset
	// already has an open short
	eng.RunCycle(context.Background())
	assert.Len(t, manager.OpenPositions(), 1)
	assert.Equal(t, 1, fv.shorts)
}

func TestCrossChainEntryNeedsValidRoute(t *testing.T) {
	fv := vaultUSD(100_000)
	eng, _, manager, _ := testEngine(t, fv, 0.20, 5000, nil) // oracle has no routes

	eng.scanners = []signal.Scanner{&oneShotScanner{signals: []signal.Signal{
		{Type: signal.TypeTVLDrop, Asset: "WETH", Chain: "ethereum", Score: 90},
	}}}

	eng.RunCycle(context.Background())
	assert.Empty(t, manager.OpenPositions(), "no route means no entry")
	assert.Zero(t, fv.shorts)
}

func TestCrossChainEntryWithRoute(t *testing.T) {
	inUSD, _ := decimal.NewFromString("5000")
	outUSD, _ := decimal.NewFromString("4980")
	route := bridge.Route{
		ID:           "r1",
		FromChain:    "ethereum",
		ToChain:      "arbitrum",
		AmountIn:     big.NewInt(5_000_000_000),
		MinAmountOut: big.NewInt(4_980_000_000),
		InUSD:        inUSD,
		OutUSD:       outUSD,
		Tool:         "stargate",
	}

	fv := vaultUSD(100_000)
	eng, _, manager, _ := testEngine(t, fv, 0.20, 5000, []bridge.Route{route})

	eng.scanners = []signal.Scanner{&oneShotScanner{signals: []signal.Signal{
		{Type: signal.TypeTVLDrop, Asset: "WETH", Chain: "ethereum", Score: 90},
	}}}

	eng.RunCycle(context.Background())
	positions := manager.OpenPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "ethereum", positions[0].SourceChain)
	assert.Equal(t, 1, fv.shorts)
}

func TestManageClosesAgedPosition(t *testing.T) {
	fv := vaultUSD(100_000)
	eng, _, manager, _ := testEngine(t, fv, 0.20, 5000, nil)

	eng.scanners = []signal.Scanner{&oneShotScanner{signals: []signal.Signal{
		{Type: signal.TypeEarningsMiss, Asset: "WETH", Chain: "arbitrum", Score: 90},
	}}}
	eng.RunCycle(context.Background())
	require.Len(t, manager.OpenPositions(), 1)

	// Jump the engine clock past the max age
	eng.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	eng.scanners = nil
	eng.RunCycle(context.Background())

	assert.Empty(t, manager.OpenPositions())
	assert.Equal(t, 1, fv.closes)
}

func TestManageTakeProfitAndDipBuy(t *testing.T) {
	fv := vaultUSD(100_000)
	eng, _, manager, prices := testEngine(t, fv, 0.20, 5000, nil)

	eng.scanners = []signal.Scanner{&oneShotScanner{signals: []signal.Signal{
		{Type: signal.TypeLiquidityRemoval, Asset: "WETH", Chain: "arbitrum", Score: 90},
	}}}
	eng.RunCycle(context.Background())
	require.Len(t, manager.OpenPositions(), 1)

	// 40% crash: take profit fires and the drop is deep enough for a
	// bounce entry
	prices.set("WETH", 1200)
	eng.scanners = nil
	eng.RunCycle(context.Background())

	assert.Empty(t, manager.OpenPositions())
	assert.Equal(t, 1, fv.closes)
	assert.Equal(t, 1, fv.dips)

	mt := manager.Metrics()
	assert.Equal(t, 1, mt.Profitable)
}

type dailySummary struct {
	signals, opened, closed int
	pnl                     decimal.Decimal
}

// fakeNotify implements Notifier plus the optional DailySummary hook
type fakeNotify struct {
	mu        sync.Mutex
	summaries []dailySummary
}

func (f *fakeNotify) SignalAlert(signal.Candidate)    {}
func (f *fakeNotify) PositionOpened(*vault.Position)  {}
func (f *fakeNotify) PositionClosed(*vault.Position)  {}
func (f *fakeNotify) BridgeAlert(txHash, state string) {}
func (f *fakeNotify) DailySummary(signals, opened, closed int, pnl decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, dailySummary{signals, opened, closed, pnl})
}

func TestDailyRollupFlushesAtDayBoundary(t *testing.T) {
	fv := vaultUSD(100_000)
	eng, _, manager, _ := testEngine(t, fv, 0.20, 5000, nil)

	notify := &fakeNotify{}
	eng.notify = notify

	t0 := time.Now()
	eng.now = func() time.Time { return t0 }

	eng.scanners = []signal.Scanner{&oneShotScanner{signals: []signal.Signal{
		{Type: signal.TypeEarningsMiss, Asset: "WETH", Chain: "arbitrum", Score: 90},
	}}}
	eng.RunCycle(context.Background())
	require.Len(t, manager.OpenPositions(), 1)
	assert.Empty(t, notify.summaries, "no flush inside the first day")

	// Next day: the day-1 rollup flushes, then the aged position closes
	eng.now = func() time.Time { return t0.Add(25 * time.Hour) }
	eng.scanners = nil
	eng.RunCycle(context.Background())

	require.Len(t, notify.summaries, 1)
	assert.Equal(t, 1, notify.summaries[0].signals)
	assert.Equal(t, 1, notify.summaries[0].opened)
	assert.Equal(t, 0, notify.summaries[0].closed)
	assert.True(t, notify.summaries[0].pnl.IsZero())

	// Day after: the close lands in day 2's rollup
	eng.now = func() time.Time { return t0.Add(49 * time.Hour) }
	eng.RunCycle(context.Background())

	require.Len(t, notify.summaries, 2)
	assert.Equal(t, 1, notify.summaries[1].closed)
}

func TestManageStopLoss(t *testing.T) {
	fv := vaultUSD(100_000)
	eng, _, manager, prices := testEngine(t, fv, 0.20, 5000, nil)

	eng.scanners = []signal.Scanner{&oneShotScanner{signals: []signal.Signal{
		{Type: signal.TypeNegativeSentiment, Asset: "WETH", Chain: "arbitrum", Score: 90},
	}}}
	eng.RunCycle(context.Background())
	require.Len(t, manager.OpenPositions(), 1)

	// 15% rally against the short trips the 10% stop
	prices.set("WETH", 2300)
	eng.scanners = nil
	eng.RunCycle(context.Background())

	assert.Empty(t, manager.OpenPositions())
	assert.Equal(t, 0, fv.dips, "losing close never dip-buys")

	mt := manager.Metrics()
	assert.Equal(t, 1, mt.Closed)
	assert.True(t, mt.TotalPnL.IsNegative())
}
