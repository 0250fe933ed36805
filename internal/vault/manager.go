package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/0xnexus/nexus/internal/bridge"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION MANAGER - Gating, lifecycle and risk accounting
// ═══════════════════════════════════════════════════════════════════════════════

var (
	// ErrConfidenceTooLow means aggregate confidence is below the entry threshold
	ErrConfidenceTooLow = errors.New("confidence below threshold")
	// ErrPositionExceedsMaxSize means collateral would exceed the cap on free vault value
	ErrPositionExceedsMaxSize = errors.New("position exceeds max size")
	// ErrNotAuthorizedAgent means no trading key is wired for execution
	ErrNotAuthorizedAgent = errors.New("not authorized agent")
	// ErrNotAuthorizedPublisher means no publisher key is wired for signal publishing
	ErrNotAuthorizedPublisher = errors.New("not authorized publisher")
	// ErrVaultPaused means the circuit breaker is engaged; no new entries
	ErrVaultPaused = errors.New("vault paused")
)

// Position statuses
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

var (
	usdcUnit  = decimal.New(1, 6)  // 10^6
	priceUnit = decimal.New(1, 30) // 10^30
)

// USDCToRaw converts a USD amount to smallest-unit USDC (6 decimals)
func USDCToRaw(usd decimal.Decimal) *big.Int {
	return usd.Mul(usdcUnit).BigInt()
}

// RawToUSDC converts smallest-unit USDC back to a USD amount
func RawToUSDC(raw *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).Div(usdcUnit)
}

// PriceToRaw converts a USD price to the contract's 30-decimal fixed point
func PriceToRaw(price decimal.Decimal) *big.Int {
	return price.Mul(priceUnit).BigInt()
}

// RawToPrice converts a 30-decimal fixed-point price back to USD
func RawToPrice(raw *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).Div(priceUnit)
}

// Position is the manager's local book entry for one short
type Position struct {
	ID          int64
	Asset       string
	Token       common.Address
	SourceChain string
	Collateral  decimal.Decimal // USD
	SizeUSD     decimal.Decimal // collateral * leverage
	Leverage    int64
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	PnL         decimal.Decimal
	Confidence  float64
	Status      string
	TxHash      string
	CloseTxHash string
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// Age returns how long the position has been open
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// OpenRequest carries everything needed to enter a short. Confidence is
// never part of the request: the manager reads it from its source at
// execution time.
type OpenRequest struct {
	Asset      string
	Chain      string // collateral source chain
	EntryPrice decimal.Decimal
	Collateral decimal.Decimal
	Leverage   int64
	Route      *bridge.Route // nil when collateral is already on the settlement chain
}

// ConfidenceSource returns the live aggregate score and contributing
// signal count for an (asset, chain) key
type ConfidenceSource func(asset, chain string) (float64, int)

// Metrics summarizes the book's performance
type Metrics struct {
	Total      int
	Open       int
	Closed     int
	Profitable int
	WinRate    decimal.Decimal
	TotalPnL   decimal.Decimal
	AvgPnL     decimal.Decimal
}

// ManagerConfig holds the risk parameters the manager enforces
type ManagerConfig struct {
	ConfidenceThreshold float64
	PublishThreshold    float64
	PositionCapFraction decimal.Decimal
	MaxPositions        int
	SettlementChain     string
	DryRun              bool
	CanPublish          bool
	// Simulated vault value used when no contract is wired (dry run)
	DryRunVaultValue decimal.Decimal
}

// Manager owns the local position book and performs every entry/exit
// through the vault contract. All gating happens under one lock so
// concurrent entries cannot both pass the size check.
type Manager struct {
	mu         sync.Mutex
	contract   Contract
	cfg        ManagerConfig
	receiver   common.Address
	confidence ConfidenceSource
	positions  map[int64]*Position
	nextID     int64
	paused     bool
	now        func() time.Time
}

// NewManager creates a manager over the given contract. confidence is
// the live score source; a nil source means every entry is rejected.
func NewManager(contract Contract, receiver common.Address, confidence ConfidenceSource, cfg ManagerConfig) *Manager {
	return &Manager{
		contract:   contract,
		cfg:        cfg,
		receiver:   receiver,
		confidence: confidence,
		positions:  make(map[int64]*Position),
		nextID:     1,
		now:        time.Now,
	}
}

// Open gates and executes a new short. The confidence read, pause,
// count and size checks all happen under one lock; a request that fails
// any of them never reaches the chain, and a score that decayed between
// the caller's decision and this call is caught here.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Position, error) {
	if m.contract == nil && !m.cfg.DryRun {
		return nil, ErrNotAuthorizedAgent
	}

	token, ok := TokenAddresses[req.Asset]
	if !ok {
		return nil, fmt.Errorf("unknown asset %s", req.Asset)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused {
		return nil, ErrVaultPaused
	}

	confidence := 0.0
	if m.confidence != nil {
		confidence, _ = m.confidence(req.Asset, req.Chain)
	}
	if confidence < m.cfg.ConfidenceThreshold {
		return nil, fmt.Errorf("%w: %.1f < %.1f (%s)", ErrConfidenceTooLow, confidence, m.cfg.ConfidenceThreshold, req.Asset)
	}
	if m.openCountLocked() >= m.cfg.MaxPositions {
		return nil, fmt.Errorf("%w: %d positions already open", ErrPositionExceedsMaxSize, m.cfg.MaxPositions)
	}

	free, err := m.freeValueLocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault value: %w", err)
	}
	maxCollateral := m.cfg.PositionCapFraction.Mul(free)
	if req.Collateral.GreaterThan(maxCollateral) {
		return nil, fmt.Errorf("%w: collateral %s > cap %s (free value %s)",
			ErrPositionExceedsMaxSize, req.Collateral.StringFixed(2), maxCollateral.StringFixed(2), free.StringFixed(2))
	}

	data := m.bridgeData(req.Route)
	txHash, err := m.executeShort(ctx, token, req, data)
	if err != nil {
		return nil, err
	}

	pos := &Position{
		ID:          m.nextID,
		Asset:       req.Asset,
		Token:       token,
		SourceChain: req.Chain,
		Collateral:  req.Collateral,
		SizeUSD:     req.Collateral.Mul(decimal.NewFromInt(req.Leverage)),
		Leverage:    req.Leverage,
		EntryPrice:  req.EntryPrice,
		Confidence:  confidence,
		Status:      StatusOpen,
		TxHash:      txHash,
		OpenedAt:    m.now(),
	}
	m.nextID++
	m.positions[pos.ID] = pos

	log.Info().
		Int64("position", pos.ID).
		Str("asset", pos.Asset).
		Str("collateral", pos.Collateral.StringFixed(2)).
		Int64("leverage", pos.Leverage).
		Str("entry", pos.EntryPrice.StringFixed(2)).
		Float64("confidence", pos.Confidence).
		Str("tx", txHash).
		Msg("📉 Short opened")

	return pos, nil
}

func (m *Manager) executeShort(ctx context.Context, token common.Address, req OpenRequest, data BridgeData) (string, error) {
	if m.cfg.DryRun {
		txHash := fmt.Sprintf("DRY_%d", m.now().UnixNano())
		log.Info().
			Str("asset", req.Asset).
			Str("collateral", req.Collateral.StringFixed(2)).
			Msg("📝 DRY RUN: Short would be executed")
		return txHash, nil
	}
	return m.contract.ExecuteShort(ctx, token, USDCToRaw(req.Collateral),
		big.NewInt(req.Leverage), PriceToRaw(req.EntryPrice), req.Chain, data)
}

// Close exits a position at the given mark price and books PnL. A short
// profits when the exit is below the entry.
func (m *Manager) Close(ctx context.Context, id int64, exitPrice decimal.Decimal) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %d not found", id)
	}
	if pos.Status != StatusOpen {
		return nil, fmt.Errorf("position %d already closed", id)
	}

	bridgeBack := pos.SourceChain != m.cfg.SettlementChain
	var txHash string
	if m.cfg.DryRun {
		txHash = fmt.Sprintf("DRY_%d", m.now().UnixNano())
	} else {
		var err error
		txHash, err = m.contract.ClosePosition(ctx, big.NewInt(id), PriceToRaw(exitPrice),
			bridgeBack, pos.SourceChain, m.receiver, EmptyBridgeData(m.receiver))
		if err != nil {
			return nil, err
		}
	}

	pos.Status = StatusClosed
	pos.ExitPrice = exitPrice
	pos.PnL = shortPnL(pos.EntryPrice, exitPrice, pos.SizeUSD)
	pos.CloseTxHash = txHash
	pos.ClosedAt = m.now()

	log.Info().
		Int64("position", id).
		Str("asset", pos.Asset).
		Str("exit", exitPrice.StringFixed(2)).
		Str("pnl", pos.PnL.StringFixed(2)).
		Str("tx", txHash).
		Msg("🔚 Position closed")

	return pos, nil
}

// shortPnL is (entry - exit) / entry * size
func shortPnL(entry, exit, sizeUSD decimal.Decimal) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	return entry.Sub(exit).Div(entry).Mul(sizeUSD)
}

// DipBuy buys a crashed token expecting a bounce, with on-chain
// take-profit and stop-loss marks. Gated like Open but tracked by the
// contract, not the short book.
func (m *Manager) DipBuy(ctx context.Context, asset string, amount, takeProfit, stopLoss decimal.Decimal) (string, error) {
	token, ok := TokenAddresses[asset]
	if !ok {
		return "", fmt.Errorf("unknown asset %s", asset)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused {
		return "", ErrVaultPaused
	}

	free, err := m.freeValueLocked(ctx)
	if err != nil {
		return "", fmt.Errorf("vault value: %w", err)
	}
	maxAmount := m.cfg.PositionCapFraction.Mul(free)
	if amount.GreaterThan(maxAmount) {
		return "", fmt.Errorf("%w: dip buy %s > cap %s", ErrPositionExceedsMaxSize, amount.StringFixed(2), maxAmount.StringFixed(2))
	}

	var txHash string
	if m.cfg.DryRun {
		txHash = fmt.Sprintf("DRY_%d", m.now().UnixNano())
	} else {
		txHash, err = m.contract.ExecuteDipBuy(ctx, token, USDCToRaw(amount), PriceToRaw(takeProfit), PriceToRaw(stopLoss))
		if err != nil {
			return "", err
		}
	}

	log.Info().
		Str("asset", asset).
		Str("amount", amount.StringFixed(2)).
		Str("take_profit", takeProfit.StringFixed(4)).
		Str("stop_loss", stopLoss.StringFixed(4)).
		Str("tx", txHash).
		Msg("🎯 Dip buy executed")

	return txHash, nil
}

// Pause engages the circuit breaker. Open positions stay managed; new
// entries are rejected until Resume.
func (m *Manager) Pause(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cfg.DryRun && m.contract != nil {
		if _, err := m.contract.SetPaused(ctx, true); err != nil {
			return err
		}
	}
	m.paused = true
	log.Warn().Msg("⏸️  Vault paused")
	return nil
}

// Resume lifts the circuit breaker
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cfg.DryRun && m.contract != nil {
		if _, err := m.contract.SetPaused(ctx, false); err != nil {
			return err
		}
	}
	m.paused = false
	log.Info().Msg("▶️  Vault resumed")
	return nil
}

// Paused reports whether the circuit breaker is engaged
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// EmergencyWithdraw pulls the vault's USDC out to the owner
func (m *Manager) EmergencyWithdraw(ctx context.Context, amount decimal.Decimal) (string, error) {
	if m.contract == nil {
		return "", ErrNotAuthorizedAgent
	}
	return m.contract.EmergencyWithdraw(ctx, TokenAddresses["USDC"], USDCToRaw(amount))
}

// PublishScore is one asset's aggregate confidence bound for the chain
type PublishScore struct {
	Asset string
	Score float64
}

// One publishSignalBatch call carries at most this many scores
const maxPublishBatch = 100

// PublishSignals writes aggregate scores at or above the publish
// threshold on-chain in one batch. Scores below it stay off-chain;
// overflow beyond the batch limit is dropped until the next cycle.
func (m *Manager) PublishSignals(ctx context.Context, scores []PublishScore) (string, error) {
	if !m.cfg.CanPublish {
		return "", ErrNotAuthorizedPublisher
	}

	var assets []common.Address
	var values []*big.Int
	for _, s := range scores {
		if len(assets) == maxPublishBatch {
			break
		}
		if s.Score < m.cfg.PublishThreshold {
			continue
		}
		token, ok := TokenAddresses[s.Asset]
		if !ok {
			continue
		}
		capped := s.Score
		if capped > 100 {
			capped = 100
		}
		assets = append(assets, token)
		values = append(values, big.NewInt(int64(capped)))
	}
	if len(assets) == 0 {
		return "", nil
	}

	if m.cfg.DryRun {
		log.Info().Int("count", len(assets)).Msg("📝 DRY RUN: Signal batch would be published")
		return fmt.Sprintf("DRY_%d", m.now().UnixNano()), nil
	}

	txHash, err := m.contract.PublishSignalBatch(ctx, assets, values)
	if err != nil {
		return "", fmt.Errorf("publish batch: %w", err)
	}
	log.Info().Int("count", len(assets)).Str("tx", txHash).Msg("📡 Signal batch published")
	return txHash, nil
}

// Get returns one position by id
func (m *Manager) Get(id int64) (*Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	if !ok {
		return nil, false
	}
	cp := *pos
	return &cp, true
}

// OpenPositions returns a snapshot of the open book, oldest first
func (m *Manager) OpenPositions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Position
	for _, pos := range m.positions {
		if pos.Status == StatusOpen {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasOpenPosition reports whether the asset already has an open short
func (m *Manager) HasOpenPosition(asset string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range m.positions {
		if pos.Status == StatusOpen && pos.Asset == asset {
			return true
		}
	}
	return false
}

// Metrics computes book-level performance numbers
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var mt Metrics
	for _, pos := range m.positions {
		mt.Total++
		if pos.Status == StatusOpen {
			mt.Open++
			continue
		}
		mt.Closed++
		mt.TotalPnL = mt.TotalPnL.Add(pos.PnL)
		if pos.PnL.IsPositive() {
			mt.Profitable++
		}
	}
	if mt.Closed > 0 {
		closed := decimal.NewFromInt(int64(mt.Closed))
		mt.WinRate = decimal.NewFromInt(int64(mt.Profitable)).Div(closed).Mul(decimal.NewFromInt(100))
		mt.AvgPnL = mt.TotalPnL.Div(closed)
	}
	return mt
}

func (m *Manager) openCountLocked() int {
	n := 0
	for _, pos := range m.positions {
		if pos.Status == StatusOpen {
			n++
		}
	}
	return n
}

// freeValueLocked is the vault value not already committed as collateral
func (m *Manager) freeValueLocked(ctx context.Context) (decimal.Decimal, error) {
	total, err := m.vaultValue(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	committed := decimal.Zero
	for _, pos := range m.positions {
		if pos.Status == StatusOpen {
			committed = committed.Add(pos.Collateral)
		}
	}
	free := total.Sub(committed)
	if free.IsNegative() {
		free = decimal.Zero
	}
	return free, nil
}

func (m *Manager) vaultValue(ctx context.Context) (decimal.Decimal, error) {
	if m.contract == nil {
		return m.cfg.DryRunVaultValue, nil
	}
	raw, err := m.contract.TotalVaultValue(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return RawToUSDC(raw), nil
}

// bridgeData converts a planned route to the contract's tuple. No route
// means collateral is already on the settlement chain.
func (m *Manager) bridgeData(route *bridge.Route) BridgeData {
	if route == nil {
		return EmptyBridgeData(m.receiver)
	}
	data := BridgeData{
		Bridge:             route.Tool,
		Receiver:           m.receiver,
		DestinationChainId: big.NewInt(bridge.ChainIDs[route.ToChain]),
		MinAmount:          route.MinAmountOut,
	}
	copy(data.TransactionId[:], common.FromHex(route.ID))
	return data
}
