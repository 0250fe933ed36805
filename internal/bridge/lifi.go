package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LI.FI CLIENT - Routing + transfer status oracle
// ═══════════════════════════════════════════════════════════════════════════════

// ChainIDs maps chain names to EVM chain ids
var ChainIDs = map[string]int64{
	"ethereum": 1,
	"optimism": 10,
	"polygon":  137,
	"base":     8453,
	"arbitrum": 42161,
}

// LiFiClient talks to a LI.FI-compatible routing service
type LiFiClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewLiFiClient creates a client for the given API base URL
func NewLiFiClient(baseURL string) *LiFiClient {
	return &LiFiClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		// LI.FI allows ~2 rps on the free tier
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
	}
}

type lifiStep struct {
	Tool               string `json:"tool"`
	TransactionRequest struct {
		To      string `json:"to"`
		Data    string `json:"data"`
		Value   string `json:"value"`
		ChainID int64  `json:"chainId"`
	} `json:"transactionRequest"`
}

type lifiRoute struct {
	ID            string     `json:"id"`
	FromChainID   int64      `json:"fromChainId"`
	ToChainID     int64      `json:"toChainId"`
	FromToken     string     `json:"fromTokenAddress"`
	ToToken       string     `json:"toTokenAddress"`
	FromAmount    string     `json:"fromAmount"`
	ToAmountMin   string     `json:"toAmountMin"`
	FromAmountUSD string     `json:"fromAmountUSD"`
	ToAmountUSD   string     `json:"toAmountUSD"`
	GasCostUSD    string     `json:"gasCostUSD"`
	Steps         []lifiStep `json:"steps"`
}

type lifiRoutesResponse struct {
	Routes []lifiRoute `json:"routes"`
}

// Routes queries the routing oracle. Candidates come back already ranked
// by the requested order criterion.
func (c *LiFiClient) Routes(ctx context.Context, req Request) ([]Route, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("fromChainId", fmt.Sprintf("%d", ChainIDs[req.FromChain]))
	q.Set("toChainId", fmt.Sprintf("%d", ChainIDs[req.ToChain]))
	q.Set("fromTokenAddress", req.FromToken.Hex())
	q.Set("toTokenAddress", req.ToToken.Hex())
	q.Set("fromAmount", req.Amount.String())
	q.Set("order", string(req.Order))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/routes?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("route query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("route query: status %d", resp.StatusCode)
	}

	var body lifiRoutesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("route query: %w", err)
	}

	routes := make([]Route, 0, len(body.Routes))
	for _, lr := range body.Routes {
		r, err := parseRoute(lr, req)
		if err != nil {
			continue // malformed candidate, skip
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func parseRoute(lr lifiRoute, req Request) (Route, error) {
	amountIn, ok := new(big.Int).SetString(lr.FromAmount, 10)
	if !ok {
		return Route{}, fmt.Errorf("bad fromAmount %q", lr.FromAmount)
	}
	minOut, ok := new(big.Int).SetString(lr.ToAmountMin, 10)
	if !ok {
		return Route{}, fmt.Errorf("bad toAmountMin %q", lr.ToAmountMin)
	}
	inUSD, err := decimal.NewFromString(lr.FromAmountUSD)
	if err != nil {
		return Route{}, err
	}
	outUSD, err := decimal.NewFromString(lr.ToAmountUSD)
	if err != nil {
		return Route{}, err
	}
	gasUSD, _ := decimal.NewFromString(lr.GasCostUSD)

	route := Route{
		ID:           lr.ID,
		FromChain:    req.FromChain,
		ToChain:      req.ToChain,
		FromToken:    common.HexToAddress(lr.FromToken),
		ToToken:      common.HexToAddress(lr.ToToken),
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		InUSD:        inUSD,
		OutUSD:       outUSD,
		GasCostUSD:   gasUSD,
	}

	for _, st := range lr.Steps {
		data, err := hexutil.Decode(st.TransactionRequest.Data)
		if err != nil {
			return Route{}, fmt.Errorf("bad step calldata: %w", err)
		}
		value := big.NewInt(0)
		if st.TransactionRequest.Value != "" {
			if v, err := hexutil.DecodeBig(st.TransactionRequest.Value); err == nil {
				value = v
			}
		}
		route.Steps = append(route.Steps, Step{
			Tool:     st.Tool,
			ChainID:  st.TransactionRequest.ChainID,
			Target:   common.HexToAddress(st.TransactionRequest.To),
			CallData: data,
			Value:    value,
		})
	}
	if len(route.Steps) > 0 {
		route.Tool = route.Steps[0].Tool
	}
	return route, nil
}

type lifiStatusResponse struct {
	Status  string `json:"status"`
	Sending struct {
		TxHash string `json:"txHash"`
	} `json:"sending"`
	Receiving struct {
		TxHash string `json:"txHash"`
		Amount string `json:"amount"`
	} `json:"receiving"`
}

// TransferStatus queries settlement status for one transfer
func (c *LiFiClient) TransferStatus(ctx context.Context, txHash, tool, fromChain, toChain string) (*TransferStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("txHash", txHash)
	q.Set("bridge", tool)
	q.Set("fromChain", fmt.Sprintf("%d", ChainIDs[fromChain]))
	q.Set("toChain", fmt.Sprintf("%d", ChainIDs[toChain]))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("status query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status query: status %d", resp.StatusCode)
	}

	var body lifiStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("status query: %w", err)
	}

	st := &TransferStatus{
		Status:      body.Status,
		SendingTx:   body.Sending.TxHash,
		ReceivingTx: body.Receiving.TxHash,
	}
	if body.Receiving.Amount != "" {
		if amt, ok := new(big.Int).SetString(body.Receiving.Amount, 10); ok {
			st.AmountOut = amt
		}
	}
	return st, nil
}
