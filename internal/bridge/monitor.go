package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION MONITOR - Watch in-flight transfers to settlement
// ═══════════════════════════════════════════════════════════════════════════════

// Transfer states as the monitor sees them
const (
	StateSubmitted = "SUBMITTED"
	StatePending   = "PENDING"
	StateDone      = "DONE"
	StateFailed    = "FAILED"
	StateTimedOut  = "TIMED_OUT"
)

// Result is the terminal outcome of one monitored transfer
type Result struct {
	State       string
	SendingTx   string
	ReceivingTx string
	Polls       int
	Elapsed     time.Duration
}

// Monitor polls the status oracle until a transfer settles or the poll
// budget runs out. One Await call per transfer, run in its own goroutine.
type Monitor struct {
	status       StatusOracle
	pollInterval time.Duration
	maxPolls     int
	logEvery     int
}

// NewMonitor creates a monitor with production polling parameters:
// a status check every 5s, giving up after 5 minutes.
func NewMonitor(status StatusOracle) *Monitor {
	return &Monitor{
		status:       status,
		pollInterval: 5 * time.Second,
		maxPolls:     60,
		logEvery:     6,
	}
}

// Await watches the transfer identified by its source-chain tx hash until
// it reaches a terminal state. Oracle errors and NOT_FOUND responses are
// treated as not-yet-indexed and consume a poll. On timeout the transfer
// may still settle out-of-band; the caller must reconcile manually.
func (m *Monitor) Await(ctx context.Context, txHash, tool, fromChain, toChain string) (*Result, error) {
	start := time.Now()
	res := &Result{State: StateSubmitted, SendingTx: txHash}

	log.Info().
		Str("tx", txHash).
		Str("tool", tool).
		Str("from", fromChain).
		Str("to", toChain).
		Msg("🌉 Watching bridge transfer")

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for res.Polls < m.maxPolls {
		select {
		case <-ctx.Done():
			res.Elapsed = time.Since(start)
			return res, ctx.Err()
		case <-ticker.C:
		}
		res.Polls++

		st, err := m.status.TransferStatus(ctx, txHash, tool, fromChain, toChain)
		if err != nil {
			// Transient: the indexer may not have seen the tx yet
			log.Debug().Err(err).Str("tx", txHash).Int("poll", res.Polls).Msg("Status check failed")
			continue
		}

		switch st.Status {
		case "DONE":
			res.State = StateDone
			res.ReceivingTx = st.ReceivingTx
			res.Elapsed = time.Since(start)
			log.Info().
				Str("tx", txHash).
				Str("receiving_tx", st.ReceivingTx).
				Dur("elapsed", res.Elapsed).
				Msg("✅ Bridge transfer settled")
			return res, nil

		case "FAILED":
			res.State = StateFailed
			res.Elapsed = time.Since(start)
			log.Error().Str("tx", txHash).Int("polls", res.Polls).Msg("❌ Bridge transfer failed")
			return res, fmt.Errorf("%w: tx %s via %s", ErrBridgeFailed, txHash, tool)

		case "PENDING":
			res.State = StatePending
		}

		if res.Polls%m.logEvery == 0 {
			log.Info().
				Str("tx", txHash).
				Str("state", res.State).
				Int("poll", res.Polls).
				Int("max_polls", m.maxPolls).
				Msg("⏳ Bridge transfer in flight")
		}
	}

	res.State = StateTimedOut
	res.Elapsed = time.Since(start)
	log.Error().
		Str("tx", txHash).
		Dur("elapsed", res.Elapsed).
		Msg("⏰ Bridge transfer timed out, manual reconciliation required")
	return res, fmt.Errorf("%w: tx %s after %d polls", ErrBridgeTimeout, txHash, res.Polls)
}
