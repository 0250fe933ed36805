package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/0xnexus/nexus/internal/signal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TWEET STORE FEED
// ═══════════════════════════════════════════════════════════════════════════════

// TweetClient fetches scraped crypto tweets and per-asset engagement
// trends from the tweet store. Implements signal.TweetSource.
type TweetClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewTweetClient creates a client for the tweet store API
func NewTweetClient(baseURL string) *TweetClient {
	return &TweetClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Scraped counts arrive as display strings ("1.2K", "3M")
type wireTweet struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Text     string    `json:"text"`
	Likes    string    `json:"likes"`
	Retweets string    `json:"retweets"`
	Replies  string    `json:"replies"`
	PostedAt time.Time `json:"posted_at"`
}

// RecentTweets fetches the latest scraped posts
func (c *TweetClient) RecentTweets(ctx context.Context) ([]signal.Tweet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tweets/recent", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tweet fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tweet fetch: status %d", resp.StatusCode)
	}

	var body struct {
		Tweets []wireTweet `json:"tweets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("tweet parse: %w", err)
	}

	out := make([]signal.Tweet, 0, len(body.Tweets))
	for _, wt := range body.Tweets {
		out = append(out, signal.Tweet{
			ID:       wt.ID,
			Username: wt.Username,
			Text:     wt.Text,
			Likes:    parseCount(wt.Likes),
			Retweets: parseCount(wt.Retweets),
			Replies:  parseCount(wt.Replies),
			PostedAt: wt.PostedAt,
		})
	}
	return out, nil
}

// Stats fetches engagement trend data the store computes over its history
func (c *TweetClient) Stats(ctx context.Context) ([]signal.SocialStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tweets/stats", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stats fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats fetch: status %d", resp.StatusCode)
	}

	var body struct {
		Stats []signal.SocialStats `json:"stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("stats parse: %w", err)
	}
	return body.Stats, nil
}

// parseCount converts scraped display counts to integers: "1.2K" -> 1200,
// "3M" -> 3000000, "842" -> 842. Unparseable values count as zero.
func parseCount(s string) int {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}

	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"), strings.HasSuffix(s, "k"):
		mult = 1_000
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		mult = 1_000_000
		s = s[:len(s)-1]
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(v * mult)
}
