package chainlink

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Chainlink price feed addresses on Arbitrum One
const (
	ETHUSDFeedAddress = "0x639Fe6ab55C921f74e7fac1ee960C0B6293ba612"
	BTCUSDFeedAddress = "0x6ce185860a4963106506C203335A2910413708e9"
	ARBUSDFeedAddress = "0xb2A824043730FE05F3DA2efaFa1CBbe83fa548D6"

	// ABI function selectors
	LatestRoundDataSelector = "feaf968c" // latestRoundData()
	LatestAnswerSelector    = "50d25bcd" // latestAnswer()
)

// Feeds maps tradable assets to their USD price feeds
var Feeds = map[string]string{
	"WETH": ETHUSDFeedAddress,
	"WBTC": BTCUSDFeedAddress,
	"ARB":  ARBUSDFeedAddress,
}

// PricePoint for tracking price history
type PricePoint struct {
	Price     decimal.Decimal
	Timestamp time.Time
	RoundID   uint64
}

type feedState struct {
	price     decimal.Decimal
	updatedAt time.Time
	roundID   uint64
}

// Client polls Chainlink USD feeds for every tradable asset. Entry and
// exit marks for shorts come from here, never from the venue itself.
type Client struct {
	rpcURL   string
	feeds    map[string]string
	decimals int

	mu     sync.RWMutex
	states map[string]*feedState

	running      bool
	stopCh       chan struct{}
	pollInterval time.Duration

	// Feeds older than this are considered stale
	maxStaleness time.Duration
}

// NewClient creates a client over the given RPC endpoint
func NewClient(rpcURL string) *Client {
	return &Client{
		rpcURL:       rpcURL,
		feeds:        Feeds,
		decimals:     8, // Chainlink USD feeds use 8 decimals
		states:       make(map[string]*feedState),
		stopCh:       make(chan struct{}),
		pollInterval: 30 * time.Second,
		maxStaleness: 5 * time.Minute,
	}
}

// SetPollInterval sets how often to poll the price feeds
func (c *Client) SetPollInterval(d time.Duration) {
	c.pollInterval = d
}

// Start begins polling all feeds
func (c *Client) Start() error {
	c.running = true

	// Initial fetch so prices are available immediately
	c.fetchAll()

	go c.pollLoop()

	log.Info().
		Int("feeds", len(c.feeds)).
		Str("network", "Arbitrum").
		Msg("⛓️ Chainlink client started")
	return nil
}

// Stop stops the client
func (c *Client) Stop() {
	c.running = false
	close(c.stopCh)
}

func (c *Client) pollLoop() {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.fetchAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) fetchAll() {
	for asset := range c.feeds {
		if err := c.fetchPrice(asset); err != nil {
			log.Debug().Err(err).Str("asset", asset).Msg("Chainlink price fetch failed")
		}
	}
}

// fetchPrice fetches the latest round for one asset's feed
func (c *Client) fetchPrice(asset string) error {
	result, err := c.ethCall(c.feeds[asset], LatestRoundDataSelector)
	if err != nil {
		return err
	}

	// latestRoundData returns:
	// (uint80 roundId, int256 answer, uint256 startedAt, uint256 updatedAt, uint80 answeredInRound)
	if len(result) < 160 { // 5 * 32 bytes
		return fmt.Errorf("short round data: %d bytes", len(result))
	}

	roundID := new(big.Int).SetBytes(result[0:32]).Uint64()
	answer := new(big.Int).SetBytes(result[32:64])
	updatedAt := new(big.Int).SetBytes(result[96:128]).Int64()

	price := decimal.NewFromBigInt(answer, -int32(c.decimals))

	c.mu.Lock()
	prev := c.states[asset]
	c.states[asset] = &feedState{
		price:     price,
		updatedAt: time.Unix(updatedAt, 0),
		roundID:   roundID,
	}
	c.mu.Unlock()

	if prev == nil || !price.Equal(prev.price) {
		log.Debug().
			Str("asset", asset).
			Str("price", price.StringFixed(2)).
			Uint64("round", roundID).
			Msg("⛓️ Chainlink price update")
	}

	return nil
}

// Price returns the current mark for an asset, refusing stale feeds
func (c *Client) Price(asset string) (decimal.Decimal, error) {
	c.mu.RLock()
	state, ok := c.states[asset]
	c.mu.RUnlock()

	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", asset)
	}
	if time.Since(state.updatedAt) > c.maxStaleness {
		return decimal.Zero, fmt.Errorf("stale price for %s (round %d, updated %s)",
			asset, state.roundID, state.updatedAt.Format(time.RFC3339))
	}
	return state.price, nil
}

// Prices returns a snapshot of all current marks
func (c *Client) Prices() map[string]decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(c.states))
	for asset, state := range c.states {
		out[asset] = state.price
	}
	return out
}

// ethCall performs an eth_call RPC request against a feed contract
func (c *Client) ethCall(feedAddress, selector string) ([]byte, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_call",
		"params": []interface{}{
			map[string]string{
				"to":   feedAddress,
				"data": "0x" + selector,
			},
			"latest",
		},
		"id": 1,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(c.rpcURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("RPC request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Result string `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if result.Error != nil {
		return nil, fmt.Errorf("RPC error: %s", result.Error.Message)
	}

	if len(result.Result) < 2 {
		return nil, fmt.Errorf("empty result")
	}

	return hex.DecodeString(result.Result[2:])
}
