package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/0xnexus/nexus/internal/bridge"
	"github.com/0xnexus/nexus/internal/database"
	"github.com/0xnexus/nexus/internal/signal"
	"github.com/0xnexus/nexus/internal/vault"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STRATEGY ENGINE - scan → decide → act → manage
// ═══════════════════════════════════════════════════════════════════════════════

// PriceSource provides current USD marks for tradable assets
type PriceSource interface {
	Price(asset string) (decimal.Decimal, error)
}

// Notifier pushes operator alerts. All methods are fire-and-forget.
type Notifier interface {
	SignalAlert(c signal.Candidate)
	PositionOpened(p *vault.Position)
	PositionClosed(p *vault.Position)
	BridgeAlert(txHash, state string)
}

// Config holds the engine's strategy parameters
type Config struct {
	CycleInterval     time.Duration
	SettlementChain   string
	DefaultCollateral decimal.Decimal
	DefaultLeverage   int64
	MaxPositionAge    time.Duration
	TakeProfitPct     decimal.Decimal // close when short gains this fraction
	StopLossPct       decimal.Decimal // close when short loses this fraction
	DipBuyEnabled     bool
	DipBuyFraction    decimal.Decimal // of the closed position's collateral
}

// Engine drives the trading cycle. One cycle runs all scanners in
// parallel, aggregates, publishes scores, gates entries, and manages the
// open book. Bridge monitoring never blocks the cycle.
type Engine struct {
	cfg      Config
	scanners []signal.Scanner
	agg      *signal.Aggregator
	manager  *vault.Manager
	planner  *bridge.Planner
	monitor  *bridge.Monitor
	prices   PriceSource
	db       *database.Database // optional
	notify   Notifier           // optional

	wg     sync.WaitGroup
	cycles int
	now    func() time.Time

	// Current trading day rollup, flushed at the day boundary
	day        string
	daySignals int64
	dayOpened  int64
	dayClosed  int64
	dayPnL     decimal.Decimal
}

// New creates the engine. db and notify may be nil.
func New(cfg Config, scanners []signal.Scanner, agg *signal.Aggregator, manager *vault.Manager,
	planner *bridge.Planner, monitor *bridge.Monitor, prices PriceSource,
	db *database.Database, notify Notifier) *Engine {
	return &Engine{
		cfg:      cfg,
		scanners: scanners,
		agg:      agg,
		manager:  manager,
		planner:  planner,
		monitor:  monitor,
		prices:   prices,
		db:       db,
		notify:   notify,
		now:      time.Now,
	}
}

// Run blocks, executing cycles until the context is cancelled
func (e *Engine) Run(ctx context.Context) {
	log.Info().
		Dur("interval", e.cfg.CycleInterval).
		Int("scanners", len(e.scanners)).
		Msg("🔄 Strategy engine started")

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	e.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("🛑 Strategy engine stopping")
			e.wg.Wait()
			return
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full scan/decide/act/manage pass
func (e *Engine) RunCycle(ctx context.Context) {
	e.cycles++
	start := e.now()
	log.Info().Int("cycle", e.cycles).Msg("📊 Cycle started")

	e.rollDay()
	detected := e.scanPhase(ctx)
	e.publishPhase(ctx)
	e.actPhase(ctx)
	e.managePhase(ctx)

	log.Info().
		Int("cycle", e.cycles).
		Int("signals", detected).
		Dur("took", e.now().Sub(start)).
		Msg("✅ Cycle complete")
}

// scanPhase runs every enabled scanner concurrently and feeds the
// aggregator. Scanners have independent upstreams, so one slow feed
// never delays the rest.
func (e *Engine) scanPhase(ctx context.Context) int {
	results := make(chan []signal.Signal, len(e.scanners))

	var wg sync.WaitGroup
	for _, sc := range e.scanners {
		if !sc.Enabled() {
			continue
		}
		wg.Add(1)
		go func(sc signal.Scanner) {
			defer wg.Done()
			results <- sc.Scan(ctx)
		}(sc)
	}
	wg.Wait()
	close(results)

	total := 0
	for batch := range results {
		for _, sig := range batch {
			e.agg.Record(sig)
			e.auditSignal(sig)
			total++
		}
	}
	if total > 0 {
		log.Info().Int("count", total).Msg("📡 Signals detected")
	}
	e.daySignals += int64(total)
	return total
}

// rollDay flushes the previous day's rollup once the date changes
func (e *Engine) rollDay() {
	today := e.now().Format("2006-01-02")
	if e.day == "" {
		e.day = today
		return
	}
	if today == e.day {
		return
	}

	if e.db != nil {
		if err := e.db.BumpDailyStats(e.day, e.daySignals, e.dayOpened, e.dayClosed, e.dayPnL); err != nil {
			log.Warn().Err(err).Str("date", e.day).Msg("Daily stats write failed")
		}
	}
	if ds, ok := e.notify.(interface {
		DailySummary(signals, opened, closed int, pnl decimal.Decimal)
	}); ok {
		ds.DailySummary(int(e.daySignals), int(e.dayOpened), int(e.dayClosed), e.dayPnL)
	}

	e.day = today
	e.daySignals, e.dayOpened, e.dayClosed = 0, 0, 0
	e.dayPnL = decimal.Zero
}

func (e *Engine) auditSignal(sig signal.Signal) {
	if e.db == nil {
		return
	}
	detail, _ := json.Marshal(sig.Metadata)
	rec := &database.SignalRecord{
		Type:   string(sig.Type),
		Asset:  sig.Asset,
		Chain:  sig.Chain,
		Score:  sig.Score,
		Source: sig.Source,
		Detail: string(detail),
	}
	if err := e.db.SaveSignal(rec); err != nil {
		log.Warn().Err(err).Msg("Signal audit write failed")
	}
}

// publishPhase writes the current aggregate scores on-chain
func (e *Engine) publishPhase(ctx context.Context) {
	candidates := e.agg.Candidates()
	if len(candidates) == 0 {
		return
	}

	scores := make([]vault.PublishScore, 0, len(candidates))
	for _, c := range candidates {
		scores = append(scores, vault.PublishScore{Asset: c.Asset, Score: c.Confidence})
	}

	if _, err := e.manager.PublishSignals(ctx, scores); err != nil {
		if errors.Is(err, vault.ErrNotAuthorizedPublisher) {
			log.Debug().Msg("Signal publishing disabled, skipping")
			return
		}
		log.Warn().Err(err).Msg("Signal publish failed")
	}
}

// actPhase attempts entries for every candidate. The manager's gate is
// authoritative; rejections here are expected and logged only.
func (e *Engine) actPhase(ctx context.Context) {
	for _, c := range e.agg.Candidates() {
		if e.manager.HasOpenPosition(c.Asset) {
			continue
		}

		entry, err := e.prices.Price(c.Asset)
		if err != nil {
			log.Warn().Err(err).Str("asset", c.Asset).Msg("No mark price, skipping entry")
			continue
		}

		if e.notify != nil {
			e.notify.SignalAlert(c)
		}

		var route *bridge.Route
		if c.Chain != "" && c.Chain != e.cfg.SettlementChain {
			route, err = e.planner.Plan(ctx, c.Chain, e.cfg.SettlementChain,
				vault.USDCToRaw(e.cfg.DefaultCollateral), bridge.OrderFastest)
			if err != nil {
				log.Warn().Err(err).
					Str("asset", c.Asset).
					Str("chain", c.Chain).
					Msg("Route planning failed, skipping entry")
				continue
			}
		}

		pos, err := e.manager.Open(ctx, vault.OpenRequest{
			Asset:      c.Asset,
			Chain:      orDefault(c.Chain, e.cfg.SettlementChain),
			EntryPrice: entry,
			Collateral: e.cfg.DefaultCollateral,
			Leverage:   e.cfg.DefaultLeverage,
			Route:      route,
		})
		if err != nil {
			switch {
			case errors.Is(err, vault.ErrConfidenceTooLow):
				log.Debug().Str("asset", c.Asset).Float64("confidence", c.Confidence).Msg("Below entry threshold")
			case errors.Is(err, vault.ErrPositionExceedsMaxSize), errors.Is(err, vault.ErrVaultPaused):
				log.Info().Err(err).Str("asset", c.Asset).Msg("Entry rejected")
			default:
				log.Error().Err(err).Str("asset", c.Asset).Msg("Entry failed")
			}
			continue
		}

		e.dayOpened++
		e.recordPosition(pos)
		if e.notify != nil {
			e.notify.PositionOpened(pos)
		}
		if route != nil {
			e.watchTransfer(ctx, pos.TxHash, route)
		}
	}
}

// watchTransfer follows a bridged entry's transfer in its own goroutine
func (e *Engine) watchTransfer(ctx context.Context, txHash string, route *bridge.Route) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		res, err := e.monitor.Await(ctx, txHash, route.Tool, route.FromChain, route.ToChain)
		if e.db != nil {
			rec := &database.BridgeRecord{
				TxHash:      txHash,
				Tool:        route.Tool,
				FromChain:   route.FromChain,
				ToChain:     route.ToChain,
				AmountUSD:   route.InUSD,
				SlippagePct: route.Slippage(),
				State:       res.State,
				ReceivingTx: res.ReceivingTx,
				Polls:       res.Polls,
			}
			if dbErr := e.db.SaveBridge(rec); dbErr != nil {
				log.Warn().Err(dbErr).Msg("Bridge record write failed")
			}
		}
		if err != nil && e.notify != nil {
			e.notify.BridgeAlert(txHash, res.State)
		}
	}()
}

// managePhase closes aged positions and those hitting take-profit or
// stop-loss against the mark price
func (e *Engine) managePhase(ctx context.Context) {
	for _, pos := range e.manager.OpenPositions() {
		mark, err := e.prices.Price(pos.Asset)
		if err != nil {
			log.Warn().Err(err).Str("asset", pos.Asset).Int64("position", pos.ID).Msg("No mark price, position unmanaged this cycle")
			continue
		}

		// Short gain fraction: positive when price dropped
		gain := pos.EntryPrice.Sub(mark).Div(pos.EntryPrice)
		age := pos.Age(e.now())

		var reason string
		switch {
		case age > e.cfg.MaxPositionAge:
			reason = "aged out"
		case gain.GreaterThanOrEqual(e.cfg.TakeProfitPct):
			reason = "take profit"
		case gain.LessThanOrEqual(e.cfg.StopLossPct.Neg()):
			reason = "stop loss"
		default:
			continue
		}

		log.Info().
			Int64("position", pos.ID).
			Str("asset", pos.Asset).
			Str("reason", reason).
			Str("gain", gain.Mul(decimal.NewFromInt(100)).StringFixed(2)+"%").
			Msg("💼 Closing position")

		closed, err := e.manager.Close(ctx, pos.ID, mark)
		if err != nil {
			log.Error().Err(err).Int64("position", pos.ID).Msg("Close failed")
			continue
		}

		e.dayClosed++
		e.dayPnL = e.dayPnL.Add(closed.PnL)
		e.recordPosition(closed)
		if e.notify != nil {
			e.notify.PositionClosed(closed)
		}

		e.maybeDipBuy(ctx, closed, mark)
	}
}

// maybeDipBuy enters a bounce trade after a hard crash: only when the
// short took profit on a drop of 30% or more
func (e *Engine) maybeDipBuy(ctx context.Context, closed *vault.Position, mark decimal.Decimal) {
	if !e.cfg.DipBuyEnabled || !closed.PnL.IsPositive() {
		return
	}
	drop := closed.EntryPrice.Sub(mark).Div(closed.EntryPrice)
	if drop.LessThan(decimal.NewFromFloat(0.30)) {
		return
	}

	amount := closed.Collateral.Mul(e.cfg.DipBuyFraction)
	takeProfit := mark.Mul(decimal.NewFromFloat(1.2))
	stopLoss := mark.Mul(decimal.NewFromFloat(0.9))

	if _, err := e.manager.DipBuy(ctx, closed.Asset, amount, takeProfit, stopLoss); err != nil {
		log.Warn().Err(err).Str("asset", closed.Asset).Msg("Dip buy skipped")
	}
}

func (e *Engine) recordPosition(pos *vault.Position) {
	if e.db == nil {
		return
	}
	rec := &database.PositionRecord{
		ID:          pos.ID,
		Asset:       pos.Asset,
		TokenAddr:   pos.Token.Hex(),
		SourceChain: pos.SourceChain,
		Collateral:  pos.Collateral,
		SizeUSD:     pos.SizeUSD,
		Leverage:    pos.Leverage,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   pos.ExitPrice,
		PnL:         pos.PnL,
		Confidence:  pos.Confidence,
		Status:      pos.Status,
		TxHash:      pos.TxHash,
		CloseTxHash: pos.CloseTxHash,
		OpenedAt:    pos.OpenedAt,
	}
	if !pos.ClosedAt.IsZero() {
		t := pos.ClosedAt
		rec.ClosedAt = &t
	}
	if err := e.db.SavePosition(rec); err != nil {
		log.Warn().Err(err).Int64("position", pos.ID).Msg("Position record write failed")
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
