package signal

import (
	"sort"
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// AGGREGATOR - Rolling-window confidence per (asset, chain)
// ═══════════════════════════════════════════════════════════════════════════════
//
// Confidence is the plain sum of every signal score inside the rolling
// window for that key. Deliberately no de-duplication by type: three
// insider-selling signals are worse than one, and they all count.
//
// ═══════════════════════════════════════════════════════════════════════════════

type aggKey struct {
	asset string
	chain string
}

type scoreEntry struct {
	score float64
	at    time.Time
}

// Candidate is one (asset, chain) pair with its current confidence
type Candidate struct {
	Asset      string
	Chain      string
	Confidence float64
	Signals    int
}

// Aggregator owns all confidence state. Nothing outside Record/window
// expiry ever changes a score.
type Aggregator struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[aggKey][]scoreEntry
	now     func() time.Time
}

// NewAggregator creates an aggregator with the given rolling window
func NewAggregator(window time.Duration) *Aggregator {
	return &Aggregator{
		window:  window,
		entries: make(map[aggKey][]scoreEntry),
		now:     time.Now,
	}
}

// Record adds a signal's score to its (asset, chain) key
func (a *Aggregator) Record(sig Signal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := aggKey{asset: sig.Asset, chain: sig.Chain}
	ts := sig.Timestamp
	if ts.IsZero() {
		ts = a.now()
	}
	a.entries[k] = a.pruned(append(a.entries[k], scoreEntry{score: sig.Score, at: ts}))
}

// Confidence returns the aggregated score and contributing signal count
// for an (asset, chain) pair
func (a *Aggregator) Confidence(asset, chain string) (float64, int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := aggKey{asset: asset, chain: chain}
	entries := a.pruned(a.entries[k])
	if len(entries) == 0 {
		delete(a.entries, k)
		return 0, 0
	}
	a.entries[k] = entries

	sum := 0.0
	for _, e := range entries {
		sum += e.score
	}
	return sum, len(entries)
}

// Candidates returns every key that still has live signals, strongest first
func (a *Aggregator) Candidates() []Candidate {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Candidate
	for k, entries := range a.entries {
		live := a.pruned(entries)
		if len(live) == 0 {
			delete(a.entries, k)
			continue
		}
		a.entries[k] = live

		sum := 0.0
		for _, e := range live {
			sum += e.score
		}
		out = append(out, Candidate{Asset: k.asset, Chain: k.chain, Confidence: sum, Signals: len(live)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// pruned drops entries older than the window. Caller holds the lock.
func (a *Aggregator) pruned(entries []scoreEntry) []scoreEntry {
	cutoff := a.now().Add(-a.window)
	live := entries[:0]
	for _, e := range entries {
		if !e.at.Before(cutoff) {
			live = append(live, e)
		}
	}
	return live
}
