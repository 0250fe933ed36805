package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/0xnexus/nexus/internal/signal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EARNINGS / FILINGS FEED
// ═══════════════════════════════════════════════════════════════════════════════

// EarningsClient fetches quarterly results and Form 4 insider sales from
// the filings service. Implements signal.TradFiSource. The service does
// the filing parsing; this client only consumes its JSON.
type EarningsClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewEarningsClient creates a client for the filings API
func NewEarningsClient(baseURL string) *EarningsClient {
	return &EarningsClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Filings APIs are aggressively rate-limited
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// LatestEarnings fetches the most recent quarterly report for a ticker.
// A 404 means no report yet, which is not an error.
func (c *EarningsClient) LatestEarnings(ctx context.Context, ticker string) (*signal.EarningsReport, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/earnings/"+url.PathEscape(ticker), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("earnings fetch %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("earnings fetch %s: status %d", ticker, resp.StatusCode)
	}

	var report signal.EarningsReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("earnings parse %s: %w", ticker, err)
	}
	return &report, nil
}

// InsiderSales fetches Form 4 sale records filed since the given time
func (c *EarningsClient) InsiderSales(ctx context.Context, ticker string, since time.Time) ([]signal.InsiderSale, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/insider-sales/"+url.PathEscape(ticker)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("insider sales fetch %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("insider sales fetch %s: status %d", ticker, resp.StatusCode)
	}

	var body struct {
		Sales []signal.InsiderSale `json:"sales"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("insider sales parse %s: %w", ticker, err)
	}
	return body.Sales, nil
}
