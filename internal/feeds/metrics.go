package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/0xnexus/nexus/internal/signal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TOKEN METRICS FEED
// ═══════════════════════════════════════════════════════════════════════════════

// MetricsClient fetches per-token health snapshots (TVL, liquidity,
// holder concentration, insider wallet activity) from the metrics
// service. Implements signal.MetricsSource; the scanner handles caching.
type MetricsClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewMetricsClient creates a client for the metrics API
func NewMetricsClient(baseURL string) *MetricsClient {
	return &MetricsClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// TokenMetrics fetches the latest snapshot for every tracked token
func (c *MetricsClient) TokenMetrics(ctx context.Context) ([]signal.TokenMetrics, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/metrics/tokens", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metrics fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics fetch: status %d", resp.StatusCode)
	}

	var body struct {
		Tokens []signal.TokenMetrics `json:"tokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("metrics parse: %w", err)
	}
	return body.Tokens, nil
}
