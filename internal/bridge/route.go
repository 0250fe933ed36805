package bridge

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ROUTE MODEL - Planned cross-chain transfers
// ═══════════════════════════════════════════════════════════════════════════════

var (
	// ErrNoRouteFound means the routing oracle returned zero candidates
	ErrNoRouteFound = errors.New("no bridge route found")
	// ErrRouteRejected means the top candidate violated output/slippage limits
	ErrRouteRejected = errors.New("route rejected")
	// ErrBridgeFailed means the transfer reached a terminal failure
	ErrBridgeFailed = errors.New("bridge transfer failed")
	// ErrBridgeTimeout means polling gave up; the transfer may still settle
	// out-of-band and needs manual reconciliation
	ErrBridgeTimeout = errors.New("bridge transfer timed out")
)

// Order is the ranking criterion the routing oracle applies
type Order string

const (
	// OrderFastest gets collateral onto the execution chain quickly (open)
	OrderFastest Order = "FASTEST"
	// OrderCheapest minimizes fees when returning profits (close)
	OrderCheapest Order = "CHEAPEST"
)

// Step is one executable leg of a route: target contract plus calldata
type Step struct {
	Tool     string
	ChainID  int64
	Target   common.Address
	CallData []byte
	Value    *big.Int
}

// Route is a planned cross-chain transfer. Amounts are smallest-unit
// USDC (6 decimals).
type Route struct {
	ID           string
	FromChain    string
	ToChain      string
	FromToken    common.Address
	ToToken      common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	InUSD        decimal.Decimal
	OutUSD       decimal.Decimal
	GasCostUSD   decimal.Decimal
	Tool         string // bridge provider, e.g. "stargate"
	Steps        []Step
}

// Slippage returns (inUSD - outUSD) / inUSD
func (r *Route) Slippage() decimal.Decimal {
	if r.InUSD.IsZero() {
		return decimal.Zero
	}
	return r.InUSD.Sub(r.OutUSD).Div(r.InUSD)
}

// Request describes what the caller wants bridged
type Request struct {
	FromChain string
	ToChain   string
	FromToken common.Address
	ToToken   common.Address
	Amount    *big.Int
	Order     Order
}

// RouteOracle returns ranked route candidates for a request
type RouteOracle interface {
	Routes(ctx context.Context, req Request) ([]Route, error)
}

// TransferStatus is the status oracle's view of one in-flight transfer
type TransferStatus struct {
	Status      string // "NOT_FOUND", "PENDING", "DONE", "FAILED"
	SendingTx   string
	ReceivingTx string
	AmountOut   *big.Int
}

// StatusOracle reports transfer status by source tx and bridge tool
type StatusOracle interface {
	TransferStatus(ctx context.Context, txHash, tool, fromChain, toChain string) (*TransferStatus, error)
}
