package bridge

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ROUTE PLANNER - Pick and validate the oracle's best candidate
// ═══════════════════════════════════════════════════════════════════════════════

// USDC contract addresses per chain (settlement stablecoin, 6 decimals)
var usdcAddresses = map[string]common.Address{
	"ethereum": common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
	"arbitrum": common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
	"base":     common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
	"optimism": common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"),
	"polygon":  common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
}

// USDCAddress returns the USDC contract for a chain
func USDCAddress(chain string) (common.Address, bool) {
	addr, ok := usdcAddresses[chain]
	return addr, ok
}

// Planner validates the routing oracle's top candidate. It never
// re-ranks: the oracle already ordered candidates by the requested
// criterion.
type Planner struct {
	oracle      RouteOracle
	maxSlippage decimal.Decimal
}

// NewPlanner creates a planner with the given slippage cap (e.g. 0.01)
func NewPlanner(oracle RouteOracle, maxSlippage decimal.Decimal) *Planner {
	return &Planner{oracle: oracle, maxSlippage: maxSlippage}
}

// Plan asks the oracle for routes moving amount USDC between chains and
// returns the validated top candidate. A route that fails validation is
// never handed to the execution monitor.
func (p *Planner) Plan(ctx context.Context, fromChain, toChain string, amount *big.Int, order Order) (*Route, error) {
	fromToken, ok := USDCAddress(fromChain)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported source chain %s", ErrNoRouteFound, fromChain)
	}
	toToken, ok := USDCAddress(toChain)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported destination chain %s", ErrNoRouteFound, toChain)
	}

	routes, err := p.oracle.Routes(ctx, Request{
		FromChain: fromChain,
		ToChain:   toChain,
		FromToken: fromToken,
		ToToken:   toToken,
		Amount:    amount,
		Order:     order,
	})
	if err != nil {
		return nil, fmt.Errorf("route oracle: %w", err)
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: %s -> %s amount %s", ErrNoRouteFound, fromChain, toChain, amount)
	}

	best := routes[0]

	if best.MinAmountOut == nil || best.MinAmountOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: zero guaranteed output (%s -> %s)", ErrRouteRejected, fromChain, toChain)
	}

	if slip := best.Slippage(); slip.GreaterThan(p.maxSlippage) {
		return nil, fmt.Errorf("%w: slippage %s exceeds cap %s (%s -> %s amount %s)",
			ErrRouteRejected, slip.StringFixed(4), p.maxSlippage.StringFixed(4), fromChain, toChain, amount)
	}

	log.Debug().
		Str("from", fromChain).
		Str("to", toChain).
		Str("tool", best.Tool).
		Str("slippage", best.Slippage().StringFixed(4)).
		Msg("Route planned")

	return &best, nil
}
