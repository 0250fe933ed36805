package signal

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// CorrelatedAsset links an equity ticker to one crypto asset with a
// correlation strength in [0,100]
type CorrelatedAsset struct {
	Asset    string  `yaml:"asset"`
	Chain    string  `yaml:"chain"`
	Strength float64 `yaml:"strength"`
}

// CorrelationMap holds ticker -> crypto asset mappings. At most one
// mapping per ticker: Set replaces, it never duplicates.
type CorrelationMap struct {
	mu sync.RWMutex
	m  map[string][]CorrelatedAsset
}

// NewCorrelationMap creates an empty map
func NewCorrelationMap() *CorrelationMap {
	return &CorrelationMap{m: make(map[string][]CorrelatedAsset)}
}

// LoadCorrelations reads ticker mappings from a YAML file:
//
//	COIN:
//	  - asset: WETH
//	    chain: arbitrum
//	    strength: 80
func LoadCorrelations(path string) (*CorrelationMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read correlations: %w", err)
	}

	raw := make(map[string][]CorrelatedAsset)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse correlations: %w", err)
	}

	cm := NewCorrelationMap()
	for ticker, assets := range raw {
		cm.Set(ticker, assets)
	}
	return cm, nil
}

// Set adds or replaces the mapping for a ticker
func (c *CorrelationMap) Set(ticker string, assets []CorrelatedAsset) {
	c.mu.Lock()
	c.m[ticker] = assets
	c.mu.Unlock()
}

// Get returns the mapped crypto assets for a ticker
func (c *CorrelationMap) Get(ticker string) []CorrelatedAsset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m[ticker]
}

// Tickers returns all mapped tickers in stable order
func (c *CorrelationMap) Tickers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.m))
	for t := range c.m {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
