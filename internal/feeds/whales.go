package feeds

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/0xnexus/nexus/internal/signal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WHALE TRANSFER STREAM
// ═══════════════════════════════════════════════════════════════════════════════
//
// Streams large-transfer events over websocket and keeps a rolling
// in-memory window. Reads are local, so the scanner never blocks on the
// network. Implements signal.WhaleSource.
//
// ═══════════════════════════════════════════════════════════════════════════════

const whaleRetention = 24 * time.Hour

// WhaleClient maintains the websocket connection and transfer buffer
type WhaleClient struct {
	wsURL string

	mu        sync.RWMutex
	conn      *websocket.Conn
	transfers []signal.WhaleTransfer

	running atomic.Bool
	stopCh  chan struct{}
}

// NewWhaleClient creates a client for the whale alert stream
func NewWhaleClient(wsURL string) *WhaleClient {
	return &WhaleClient{
		wsURL:     wsURL,
		transfers: make([]signal.WhaleTransfer, 0, 1000),
		stopCh:    make(chan struct{}),
	}
}

// Start connects and begins streaming
func (c *WhaleClient) Start() error {
	c.running.Store(true)
	go c.runWebSocket()
	log.Info().Str("url", c.wsURL).Msg("🐋 Whale stream started")
	return nil
}

// Stop closes the connection
func (c *WhaleClient) Stop() {
	c.running.Store(false)
	close(c.stopCh)

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
}

func (c *WhaleClient) runWebSocket() {
	for c.running.Load() {
		conn, err := c.connect()
		if err != nil {
			log.Error().Err(err).Msg("Whale stream connection failed")
			time.Sleep(5 * time.Second)
			continue
		}

		c.readMessages(conn)

		if c.running.Load() {
			log.Warn().Msg("Whale stream disconnected, reconnecting...")
			time.Sleep(1 * time.Second)
		}
	}
}

func (c *WhaleClient) connect() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(c.wsURL, nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	log.Info().Str("url", c.wsURL).Msg("🔌 WebSocket connected to whale stream")
	return conn, nil
}

func (c *WhaleClient) readMessages(conn *websocket.Conn) {
	for c.running.Load() {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.running.Load() {
				log.Error().Err(err).Msg("Whale stream read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *WhaleClient) handleMessage(data []byte) {
	var wt signal.WhaleTransfer
	if err := json.Unmarshal(data, &wt); err != nil {
		return
	}
	if wt.Asset == "" {
		return
	}
	if wt.At.IsZero() {
		wt.At = time.Now()
	}

	c.mu.Lock()
	c.transfers = append(c.transfers, wt)
	c.pruneLocked()
	c.mu.Unlock()

	if wt.ToExchange {
		log.Debug().
			Str("asset", wt.Asset).
			Float64("amount_usd", wt.AmountUSD).
			Msg("🐋 Exchange-bound whale transfer")
	}
}

// RecentTransfers returns buffered transfers for one asset/chain pair
func (c *WhaleClient) RecentTransfers(asset, chain string) []signal.WhaleTransfer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []signal.WhaleTransfer
	for _, wt := range c.transfers {
		if wt.Asset == asset && (chain == "" || wt.Chain == chain) {
			out = append(out, wt)
		}
	}
	return out
}

func (c *WhaleClient) pruneLocked() {
	cutoff := time.Now().Add(-whaleRetention)
	for len(c.transfers) > 0 && c.transfers[0].At.Before(cutoff) {
		c.transfers = c.transfers[1:]
	}
}
