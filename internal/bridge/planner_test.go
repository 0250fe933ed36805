package bridge

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOracle struct {
	routes []Route
	err    error
	lastReq Request
}

func (f *fakeOracle) Routes(_ context.Context, req Request) ([]Route, error) {
	f.lastReq = req
	return f.routes, f.err
}

func usd(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func goodRoute() Route {
	return Route{
		ID:           "r1",
		FromChain:    "ethereum",
		ToChain:      "arbitrum",
		AmountIn:     big.NewInt(5_000_000_000),
		MinAmountOut: big.NewInt(4_975_000_000),
		InUSD:        usd("5000"),
		OutUSD:       usd("4975"),
		Tool:         "stargate",
	}
}

func TestPlanAcceptsTopCandidateWithinSlippage(t *testing.T) {
	oracle := &fakeOracle{routes: []Route{goodRoute()}}
	p := NewPlanner(oracle, usd("0.01"))

	route, err := p.Plan(context.Background(), "ethereum", "arbitrum", big.NewInt(5_000_000_000), OrderFastest)
	require.NoError(t, err)
	assert.Equal(t, "r1", route.ID)
	assert.Equal(t, OrderFastest, oracle.lastReq.Order)
}

func TestPlanRejectsExcessiveSlippage(t *testing.T) {
	// 2% slippage against a 1% cap: must never reach execution
	r := goodRoute()
	r.OutUSD = usd("4900")
	oracle := &fakeOracle{routes: []Route{r}}
	p := NewPlanner(oracle, usd("0.01"))

	route, err := p.Plan(context.Background(), "ethereum", "arbitrum", big.NewInt(5_000_000_000), OrderFastest)
	assert.Nil(t, route)
	assert.ErrorIs(t, err, ErrRouteRejected)
}

func TestPlanRejectsSlippageJustOverCap(t *testing.T) {
	r := goodRoute()
	r.OutUSD = usd("4949.99") // 1.0002% slippage
	oracle := &fakeOracle{routes: []Route{r}}
	p := NewPlanner(oracle, usd("0.01"))

	_, err := p.Plan(context.Background(), "ethereum", "arbitrum", big.NewInt(5_000_000_000), OrderFastest)
	assert.ErrorIs(t, err, ErrRouteRejected)
}

func TestPlanAcceptsSlippageExactlyAtCap(t *testing.T) {
	r := goodRoute()
	r.OutUSD = usd("4950") // exactly 1%
	oracle := &fakeOracle{routes: []Route{r}}
	p := NewPlanner(oracle, usd("0.01"))

	route, err := p.Plan(context.Background(), "ethereum", "arbitrum", big.NewInt(5_000_000_000), OrderFastest)
	require.NoError(t, err)
	assert.Equal(t, "r1", route.ID)
}

func TestPlanRejectsZeroGuaranteedOutput(t *testing.T) {
	r := goodRoute()
	r.MinAmountOut = big.NewInt(0)
	oracle := &fakeOracle{routes: []Route{r}}
	p := NewPlanner(oracle, usd("0.01"))

	_, err := p.Plan(context.Background(), "ethereum", "arbitrum", big.NewInt(5_000_000_000), OrderFastest)
	assert.ErrorIs(t, err, ErrRouteRejected)
}

func TestPlanNoCandidates(t *testing.T) {
	oracle := &fakeOracle{}
	p := NewPlanner(oracle, usd("0.01"))

	_, err := p.Plan(context.Background(), "ethereum", "arbitrum", big.NewInt(5_000_000_000), OrderFastest)
	assert.ErrorIs(t, err, ErrNoRouteFound)
}

func TestPlanDoesNotRerank(t *testing.T) {
	// A cheaper second candidate must not displace the oracle's first pick
	first := goodRoute()
	second := goodRoute()
	second.ID = "r2"
	second.OutUSD = usd("4999")
	oracle := &fakeOracle{routes: []Route{first, second}}
	p := NewPlanner(oracle, usd("0.01"))

	route, err := p.Plan(context.Background(), "ethereum", "arbitrum", big.NewInt(5_000_000_000), OrderCheapest)
	require.NoError(t, err)
	assert.Equal(t, "r1", route.ID)
}

func TestPlanUnsupportedChain(t *testing.T) {
	p := NewPlanner(&fakeOracle{}, usd("0.01"))

	_, err := p.Plan(context.Background(), "solana", "arbitrum", big.NewInt(1), OrderFastest)
	assert.ErrorIs(t, err, ErrNoRouteFound)
}

func TestPlanOraclePropagatesError(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("rate limited")}
	p := NewPlanner(oracle, usd("0.01"))

	_, err := p.Plan(context.Background(), "ethereum", "arbitrum", big.NewInt(1), OrderFastest)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoRouteFound)
}

func TestSlippageZeroInput(t *testing.T) {
	r := Route{InUSD: decimal.Zero, OutUSD: decimal.Zero}
	assert.True(t, r.Slippage().IsZero())
}
