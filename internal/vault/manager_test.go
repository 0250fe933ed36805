package vault

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
)

type fakeContract struct {
	mu         sync.Mutex
	vaultValue *big.Int
	shorts     int
	closes     int
	withdraws  int
	pauses     []bool
	pubAssets  []common.Address
	pubScores  []*big.Int
	execErr    error
}

func (f *fakeContract) ExecuteShort(_ context.Context, _ common.Address, _, _, _ *big.Int, _ string, _ BridgeData) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return "", f.execErr
	}
	f.shorts++
	return "0xopen", nil
}

func (f *fakeContract) ClosePosition(_ context.Context, _, _ *big.Int, _ bool, _ string, _ common.Address, _ BridgeData) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return "0xclose", nil
}

func (f *fakeContract) ExecuteDipBuy(_ context.Context, _ common.Address, _, _, _ *big.Int) (string, error) {
	return "0xdip", nil
}

func (f *fakeContract) TotalVaultValue(_ context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.vaultValue), nil
}

func (f *fakeContract) OpenPositions(_ context.Context) ([]ChainPosition, error) {
	return nil, nil
}

func (f *fakeContract) PublishSignalBatch(_ context.Context, assets []common.Address, scores []*big.Int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubAssets = assets
	f.pubScores = scores
	return "0xpub", nil
}

func (f *fakeContract) ConfidenceScore(_ context.Context, _ common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeContract) SetPaused(_ context.Context, paused bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses = append(f.pauses, paused)
	return "0xpause", nil
}

func (f *fakeContract) EmergencyWithdraw(_ context.Context, _ common.Address, _ *big.Int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdraws++
	return "0xwithdraw", nil
}

// confidenceBook is the test stand-in for the aggregator's live scores
type confidenceBook struct {
	mu     sync.Mutex
	scores map[string]float64
}

func (b *confidenceBook) set(asset string, score float64) {
	b.mu.Lock()
	b.scores[asset] = score
	b.mu.Unlock()
}

func (b *confidenceBook) confidence(asset, _ string) (float64, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	score, ok := b.scores[asset]
	if !ok {
		return 0, 0
	}
	return score, 1
}

func newTestManager(vaultUSD int64, cfg ManagerConfig) (*Manager, *fakeContract, *confidenceBook) {
	fc := &fakeContract{vaultValue: new(big.Int).Mul(big.NewInt(vaultUSD), big.NewInt(1_000_000))}
	book := &confidenceBook{scores: make(map[string]float64)}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 70
	}
	if cfg.PublishThreshold == 0 {
		cfg.PublishThreshold = 60
	}
	if cfg.PositionCapFraction.IsZero() {
		cfg.PositionCapFraction = decimal.NewFromFloat(0.20)
	}
	if cfg.MaxPositions == 0 {
		cfg.MaxPositions = 5
	}
	if cfg.SettlementChain == "" {
		cfg.SettlementChain = "arbitrum"
	}
	cfg.CanPublish = true
	return NewManager(fc, common.HexToAddress("0x1"), book.confidence, cfg), fc, book
}

func openReq(asset string, collateral int64) OpenRequest {
	return OpenRequest{
		Asset:      asset,
		Chain:      "arbitrum",
		EntryPrice: decimal.NewFromInt(2000),
		Collateral: decimal.NewFromInt(collateral),
		Leverage:   2,
	}
}

func TestOpenRejectsLowConfidence(t *testing.T) {
	m, fc, book := newTestManager(100_000, ManagerConfig{})

	book.set("WETH", 69.9)
	_, err := m.Open(context.Background(), openReq("WETH", 5000))
	assert.ErrorIs(t, err, ErrConfidenceTooLow)
	assert.Zero(t, fc.shorts, "gated request must never reach the chain")
}

func TestOpenAcceptsConfidenceAtThreshold(t *testing.T) {
	m, _, book := newTestManager(100_000, ManagerConfig{})

	book.set("WETH", 70)
	pos, err := m.Open(context.Background(), openReq("WETH", 5000))
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, pos.Status)
	assert.Equal(t, "0xopen", pos.TxHash)
	assert.True(t, pos.SizeUSD.Equal(decimal.NewFromInt(10000)), "size = collateral * leverage")
}

func TestOpenWithoutSignalStateRejected(t *testing.T) {
	// The manager reads confidence from its own source at execution
	// time; an asset with no recorded signals cannot be opened no
	// matter what the caller believed.
	m, fc, _ := newTestManager(100_000, ManagerConfig{})

	_, err := m.Open(context.Background(), openReq("WETH", 5000))
	assert.ErrorIs(t, err, ErrConfidenceTooLow)
	assert.Zero(t, fc.shorts)
}

func TestOpenRejectsDecayedConfidence(t *testing.T) {
	// The score was above threshold when the caller decided, but the
	// window rolled off before Open ran. The gate re-reads and rejects.
	m, fc, book := newTestManager(100_000, ManagerConfig{})

	book.set("WETH", 90)
	book.set("WETH", 40)
	_, err := m.Open(context.Background(), openReq("WETH", 5000))
	assert.ErrorIs(t, err, ErrConfidenceTooLow)
	assert.Zero(t, fc.shorts)
}

func TestOpenRecordsLiveConfidence(t *testing.T) {
	m, _, book := newTestManager(100_000, ManagerConfig{})

	book.set("WETH", 85)
	pos, err := m.Open(context.Background(), openReq("WETH", 5000))
	require.NoError(t, err)
	assert.InDelta(t, 85.0, pos.Confidence, 1e-9)
}

func TestOpenRejectsWhenPaused(t *testing.T) {
	m, fc, book := newTestManager(100_000, ManagerConfig{})

	book.set("WETH", 90)
	book.set("ARB", 90)
	_, err := m.Open(context.Background(), openReq("WETH", 5000))
	require.NoError(t, err)

	require.NoError(t, m.Pause(context.Background()))
	_, err = m.Open(context.Background(), openReq("ARB", 5000))
	assert.ErrorIs(t, err, ErrVaultPaused)
	assert.Equal(t, []bool{true}, fc.pauses)

	// Existing positions can still be closed while paused
	_, err = m.Close(context.Background(), 1, decimal.NewFromInt(1800))
	assert.NoError(t, err)

	require.NoError(t, m.Resume(context.Background()))
	_, err = m.Open(context.Background(), openReq("ARB", 5000))
	assert.NoError(t, err)
}

func TestEmergencyWithdrawWorksWhilePaused(t *testing.T) {
	m, fc, _ := newTestManager(100_000, ManagerConfig{})

	require.NoError(t, m.Pause(context.Background()))

	tx, err := m.EmergencyWithdraw(context.Background(), decimal.NewFromInt(50_000))
	require.NoError(t, err)
	assert.Equal(t, "0xwithdraw", tx)
	assert.Equal(t, 1, fc.withdraws, "pause blocks entries, never the escape hatch")
}

func TestOpenRejectsOverMaxPositions(t *testing.T) {
	m, _, book := newTestManager(1_000_000, ManagerConfig{MaxPositions: 2})

	book.set("WETH", 90)
	book.set("ARB", 90)
	book.set("WBTC", 90)
	_, err := m.Open(context.Background(), openReq("WETH", 1000))
	require.NoError(t, err)
	_, err = m.Open(context.Background(), openReq("ARB", 1000))
	require.NoError(t, err)

	_, err = m.Open(context.Background(), openReq("WBTC", 1000))
	assert.ErrorIs(t, err, ErrPositionExceedsMaxSize)
}

func TestPositionCapAgainstFreeValue(t *testing.T) {
	// $10k vault with a 0.5 cap: a $5k short fits, then only $5k of
	// free value remains so a $3k short exceeds 0.5 * $5k.
	m, _, book := newTestManager(10_000, ManagerConfig{
		PositionCapFraction: decimal.NewFromFloat(0.5),
	})

	book.set("WETH", 85)
	book.set("ARB", 85)
	pos, err := m.Open(context.Background(), openReq("WETH", 5000))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos.ID)

	_, err = m.Open(context.Background(), openReq("ARB", 3000))
	assert.ErrorIs(t, err, ErrPositionExceedsMaxSize)

	// $2.5k is exactly at the cap and passes
	_, err = m.Open(context.Background(), openReq("ARB", 2500))
	assert.NoError(t, err)
}

func TestClosedPositionsReleaseCapacity(t *testing.T) {
	m, _, book := newTestManager(10_000, ManagerConfig{
		PositionCapFraction: decimal.NewFromFloat(0.5),
	})

	book.set("WETH", 85)
	book.set("ARB", 85)
	pos, err := m.Open(context.Background(), openReq("WETH", 5000))
	require.NoError(t, err)
	_, err = m.Close(context.Background(), pos.ID, decimal.NewFromInt(2000))
	require.NoError(t, err)

	_, err = m.Open(context.Background(), openReq("ARB", 5000))
	assert.NoError(t, err)
}

func TestConcurrentOpensRespectCap(t *testing.T) {
	// Ten racing $5k entries against $10k free value at cap 0.5:
	// exactly one may pass.
	m, fc, book := newTestManager(10_000, ManagerConfig{
		PositionCapFraction: decimal.NewFromFloat(0.5),
		MaxPositions:        10,
	})
	book.set("WETH", 90)

	var wg sync.WaitGroup
	var mu sync.Mutex
	opened := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Open(context.Background(), openReq("WETH", 5000)); err == nil {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, fc.shorts)
}

func TestShortPnL(t *testing.T) {
	cases := []struct {
		name    string
		entry   int64
		exit    int64
		size    int64
		wantPnL string
	}{
		{"profit_on_drop", 2000, 1600, 10000, "2000"}, // -20% move on $10k
		{"loss_on_rally", 2000, 2200, 10000, "-1000"}, // +10% move
		{"flat", 2000, 2000, 10000, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := shortPnL(decimal.NewFromInt(tc.entry), decimal.NewFromInt(tc.exit), decimal.NewFromInt(tc.size))
			want, _ := decimal.NewFromString(tc.wantPnL)
			assert.True(t, got.Equal(want), "got %s want %s", got, want)
		})
	}
}

func TestCloseBooksPnL(t *testing.T) {
	m, fc, book := newTestManager(100_000, ManagerConfig{})

	book.set("WETH", 85)
	pos, err := m.Open(context.Background(), openReq("WETH", 5000))
	require.NoError(t, err)

	closed, err := m.Close(context.Background(), pos.ID, decimal.NewFromInt(1800))
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	// Entry 2000 -> exit 1800 is a 10% drop on $10k size
	assert.True(t, closed.PnL.Equal(decimal.NewFromInt(1000)), "got %s", closed.PnL)
	assert.Equal(t, 1, fc.closes)

	_, err = m.Close(context.Background(), pos.ID, decimal.NewFromInt(1700))
	assert.Error(t, err, "double close must fail")
}

func TestCloseUnknownPosition(t *testing.T) {
	m, _, _ := newTestManager(100_000, ManagerConfig{})
	_, err := m.Close(context.Background(), 42, decimal.NewFromInt(1800))
	assert.Error(t, err)
}

func TestPositionIDsMonotonic(t *testing.T) {
	m, _, book := newTestManager(1_000_000, ManagerConfig{})

	book.set("WETH", 90)
	book.set("ARB", 90)
	a, err := m.Open(context.Background(), openReq("WETH", 1000))
	require.NoError(t, err)
	_, err = m.Close(context.Background(), a.ID, decimal.NewFromInt(1900))
	require.NoError(t, err)

	b, err := m.Open(context.Background(), openReq("ARB", 1000))
	require.NoError(t, err)
	assert.Greater(t, b.ID, a.ID, "ids never reused")
}

func TestPublishSignalsFiltersBelowThreshold(t *testing.T) {
	m, fc, _ := newTestManager(100_000, ManagerConfig{})

	_, err := m.PublishSignals(context.Background(), []PublishScore{
		{Asset: "WETH", Score: 85},
		{Asset: "ARB", Score: 59.9}, // below publish threshold
		{Asset: "WBTC", Score: 120}, // capped to 100
	})
	require.NoError(t, err)
	require.Len(t, fc.pubAssets, 2)
	assert.Equal(t, TokenAddresses["WETH"], fc.pubAssets[0])
	assert.Equal(t, int64(100), fc.pubScores[1].Int64())
}

func TestPublishSignalsCapsBatchSize(t *testing.T) {
	m, fc, _ := newTestManager(100_000, ManagerConfig{})

	scores := make([]PublishScore, 120)
	for i := range scores {
		scores[i] = PublishScore{Asset: "WETH", Score: 80}
	}

	_, err := m.PublishSignals(context.Background(), scores)
	require.NoError(t, err)
	assert.Len(t, fc.pubAssets, 100, "one batch carries at most 100 scores")
	assert.Len(t, fc.pubScores, 100)
}

func TestPublishSignalsUnauthorized(t *testing.T) {
	fc := &fakeContract{vaultValue: big.NewInt(0)}
	m := NewManager(fc, common.HexToAddress("0x1"), nil, ManagerConfig{
		PublishThreshold: 60,
	})

	_, err := m.PublishSignals(context.Background(), []PublishScore{{Asset: "WETH", Score: 90}})
	assert.ErrorIs(t, err, ErrNotAuthorizedPublisher)
}

func TestOpenUnknownAsset(t *testing.T) {
	m, _, _ := newTestManager(100_000, ManagerConfig{})
	_, err := m.Open(context.Background(), openReq("DOGE", 1000))
	assert.Error(t, err)
}

func TestMetrics(t *testing.T) {
	m, _, book := newTestManager(1_000_000, ManagerConfig{})

	book.set("WETH", 90)
	book.set("ARB", 90)
	book.set("WBTC", 90)
	a, _ := m.Open(context.Background(), openReq("WETH", 1000)) // size 2000
	b, _ := m.Open(context.Background(), openReq("ARB", 1000))
	_, err := m.Open(context.Background(), openReq("WBTC", 1000))
	require.NoError(t, err)

	// a: 2000 -> 1800, +10% of 2000 = +200
	_, err = m.Close(context.Background(), a.ID, decimal.NewFromInt(1800))
	require.NoError(t, err)
	// b: 2000 -> 2100, -5% of 2000 = -100
	_, err = m.Close(context.Background(), b.ID, decimal.NewFromInt(2100))
	require.NoError(t, err)

	mt := m.Metrics()
	assert.Equal(t, 3, mt.Total)
	assert.Equal(t, 1, mt.Open)
	assert.Equal(t, 2, mt.Closed)
	assert.Equal(t, 1, mt.Profitable)
	assert.True(t, mt.WinRate.Equal(decimal.NewFromInt(50)), "got %s", mt.WinRate)
	assert.True(t, mt.TotalPnL.Equal(decimal.NewFromInt(100)), "got %s", mt.TotalPnL)
	assert.True(t, mt.AvgPnL.Equal(decimal.NewFromInt(50)), "got %s", mt.AvgPnL)
}

func TestHasOpenPosition(t *testing.T) {
	m, _, book := newTestManager(100_000, ManagerConfig{})

	book.set("WETH", 90)
	pos, err := m.Open(context.Background(), openReq("WETH", 1000))
	require.NoError(t, err)
	assert.True(t, m.HasOpenPosition("WETH"))
	assert.False(t, m.HasOpenPosition("ARB"))

	_, err = m.Close(context.Background(), pos.ID, decimal.NewFromInt(1900))
	require.NoError(t, err)
	assert.False(t, m.HasOpenPosition("WETH"))
}

func TestPositionAge(t *testing.T) {
	opened := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := Position{OpenedAt: opened}
	assert.Equal(t, 25*time.Hour, p.Age(opened.Add(25*time.Hour)))
}

func TestUnitConversions(t *testing.T) {
	assert.Equal(t, "5000000000", USDCToRaw(decimal.NewFromInt(5000)).String())
	assert.True(t, RawToUSDC(big.NewInt(5_000_000_000)).Equal(decimal.NewFromInt(5000)))

	raw := PriceToRaw(decimal.NewFromInt(2000))
	want, _ := new(big.Int).SetString("2000"+"000000000000000000000000000000", 10)
	assert.Equal(t, 0, raw.Cmp(want))
	assert.True(t, RawToPrice(raw).Equal(decimal.NewFromInt(2000)))
}
