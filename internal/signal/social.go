package signal

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SOCIAL SCANNER - Twitter/X sentiment, engagement and influencer silence
// ═══════════════════════════════════════════════════════════════════════════════

const (
	engagementCrashThresholdPct = -50.0
	influencerSilenceHours      = 48.0
	minBearishMentions          = 2
)

var tokenTag = regexp.MustCompile(`[$#]([A-Z]{2,10})\b`)

var bearishWords = []string{
	"rug", "rugpull", "dump", "dumping", "crash", "scam", "exit scam",
	"exploit", "hack", "hacked", "drained", "insolvent", "ponzi",
	"sell", "selling", "bearish", "dead", "abandoned",
}

var bullishWords = []string{
	"pump", "moon", "bullish", "buy", "rally", "breakout", "surge",
	"ath", "adoption", "undervalued",
}

// Tweet is one scraped post handed over by the tweet store. Engagement
// counts are already parsed (the store normalizes "1.2K" style values).
type Tweet struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Text     string    `json:"text"`
	Likes    int       `json:"likes"`
	Retweets int       `json:"retweets"`
	Replies  int       `json:"replies"`
	PostedAt time.Time `json:"posted_at"`
}

// SocialStats carries per-asset engagement trend data the tweet store
// computes over its own history
type SocialStats struct {
	Asset               string  `json:"asset"`
	Chain               string  `json:"chain"`
	EngagementChange48h float64 `json:"engagement_change_48h"`
	InfluencerSilenceHr float64 `json:"influencer_silence_hours"`
}

// TweetSource provides recent crypto tweets and engagement stats
type TweetSource interface {
	RecentTweets(ctx context.Context) ([]Tweet, error)
	Stats(ctx context.Context) ([]SocialStats, error)
}

// SocialScanner scores bearish chatter per mentioned asset
type SocialScanner struct {
	src     TweetSource
	cache   *Cache
	enabled bool
	now     func() time.Time
}

// NewSocialScanner creates the scanner
func NewSocialScanner(src TweetSource, cacheTTL time.Duration) *SocialScanner {
	return &SocialScanner{
		src:     src,
		cache:   NewCache(cacheTTL),
		enabled: true,
		now:     time.Now,
	}
}

func (s *SocialScanner) Name() string  { return "social" }
func (s *SocialScanner) Enabled() bool { return s.enabled }

// Scan runs both sub-checks; each recovers from its own fetch errors
func (s *SocialScanner) Scan(ctx context.Context) []Signal {
	var out []Signal
	out = append(out, s.scanSentiment(ctx)...)
	out = append(out, s.scanStats(ctx)...)
	return out
}

func (s *SocialScanner) scanSentiment(ctx context.Context) []Signal {
	tweets, err := s.cachedTweets(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Tweet fetch failed, skipping sentiment scan")
		return nil
	}

	type tally struct {
		bearish    int
		bullish    int
		engagement float64
	}
	byAsset := make(map[string]*tally)

	for _, tw := range tweets {
		assets := extractAssets(tw.Text)
		if len(assets) == 0 {
			continue
		}
		bear, bull := sentimentHits(tw.Text)
		eng := float64(tw.Likes) + 3*float64(tw.Retweets) + 2*float64(tw.Replies)
		for _, a := range assets {
			t := byAsset[a]
			if t == nil {
				t = &tally{}
				byAsset[a] = t
			}
			if bear > bull {
				t.bearish++
			} else if bull > bear {
				t.bullish++
			}
			t.engagement += eng
		}
	}

	var out []Signal
	for asset, t := range byAsset {
		if t.bearish < minBearishMentions || t.bearish <= t.bullish {
			continue
		}
		ratio := float64(t.bearish) / float64(t.bearish+t.bullish)
		out = append(out, Signal{
			Type:  TypeNegativeSentiment,
			Asset: asset,
			Score: capScore(virality(t.engagement) * ratio),
			Metadata: map[string]any{
				"bearish_mentions": t.bearish,
				"bullish_mentions": t.bullish,
			},
			Timestamp: s.now(),
			Source:    s.Name(),
		})
	}
	return out
}

func (s *SocialScanner) scanStats(ctx context.Context) []Signal {
	stats, err := s.cachedStats(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Social stats fetch failed, skipping trend scan")
		return nil
	}

	var out []Signal
	for _, st := range stats {
		if st.EngagementChange48h < engagementCrashThresholdPct {
			out = append(out, Signal{
				Type:  TypeEngagementCrash,
				Asset: st.Asset,
				Chain: st.Chain,
				Score: capScore(-st.EngagementChange48h),
				Metadata: map[string]any{
					"engagement_change_48h": st.EngagementChange48h,
				},
				Timestamp: s.now(),
				Source:    s.Name(),
			})
		}
		if st.InfluencerSilenceHr > influencerSilenceHours {
			out = append(out, Signal{
				Type:  TypeInfluencerSilence,
				Asset: st.Asset,
				Chain: st.Chain,
				Score: capScore(st.InfluencerSilenceHr),
				Metadata: map[string]any{
					"silence_hours": st.InfluencerSilenceHr,
				},
				Timestamp: s.now(),
				Source:    s.Name(),
			})
		}
	}
	return out
}

func (s *SocialScanner) cachedTweets(ctx context.Context) ([]Tweet, error) {
	const key = "tweets"
	if v, ok := s.cache.Get(key); ok {
		return v.([]Tweet), nil
	}
	tweets, err := s.src.RecentTweets(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, tweets)
	return tweets, nil
}

func (s *SocialScanner) cachedStats(ctx context.Context) ([]SocialStats, error) {
	const key = "stats"
	if v, ok := s.cache.Get(key); ok {
		return v.([]SocialStats), nil
	}
	stats, err := s.src.Stats(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, stats)
	return stats, nil
}

// virality maps raw weighted engagement onto a 0-100 log scale
func virality(engagement float64) float64 {
	if engagement <= 0 {
		return 0
	}
	return math.Min(100, math.Log10(engagement+1)*20)
}

func extractAssets(text string) []string {
	matches := tokenTag.FindAllStringSubmatch(strings.ToUpper(text), -1)
	seen := make(map[string]bool)
	var out []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

func sentimentHits(text string) (bearish, bullish int) {
	lower := strings.ToLower(text)
	for _, w := range bearishWords {
		if strings.Contains(lower, w) {
			bearish++
		}
	}
	for _, w := range bullishWords {
		if strings.Contains(lower, w) {
			bullish++
		}
	}
	return bearish, bullish
}
