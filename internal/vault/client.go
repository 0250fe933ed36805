package vault

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// NEXUS VAULT CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Builds, signs and submits transactions to the NexusVault contract on
// Arbitrum. USDC amounts carry 6 decimals, prices carry 30 decimals.
//
// ═══════════════════════════════════════════════════════════════════════════════

const vaultABI = `[
	{"inputs":[{"name":"indexToken","type":"address"},{"name":"amountUSDC","type":"uint256"},{"name":"leverage","type":"uint256"},{"name":"acceptablePrice","type":"uint256"},{"name":"sourceChain","type":"string"},{"name":"bridgeData","type":"tuple","components":[{"name":"transactionId","type":"bytes32"},{"name":"bridge","type":"string"},{"name":"receiver","type":"address"},{"name":"destinationChainId","type":"uint256"},{"name":"minAmount","type":"uint256"}]}],"name":"executeShort","outputs":[{"name":"positionId","type":"uint256"}],"stateMutability":"payable","type":"function"},
	{"inputs":[{"name":"positionId","type":"uint256"},{"name":"minExitPrice","type":"uint256"},{"name":"bridgeBack","type":"bool"},{"name":"destinationChain","type":"string"},{"name":"recipient","type":"address"},{"name":"bridgeData","type":"tuple","components":[{"name":"transactionId","type":"bytes32"},{"name":"bridge","type":"string"},{"name":"receiver","type":"address"},{"name":"destinationChainId","type":"uint256"},{"name":"minAmount","type":"uint256"}]}],"name":"closePosition","outputs":[],"stateMutability":"payable","type":"function"},
	{"inputs":[{"name":"token","type":"address"},{"name":"amountUSDC","type":"uint256"},{"name":"takeProfitPrice","type":"uint256"},{"name":"stopLossPrice","type":"uint256"}],"name":"executeDipBuy","outputs":[{"name":"positionId","type":"uint256"}],"stateMutability":"payable","type":"function"},
	{"inputs":[],"name":"getTotalVaultValue","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getOpenPositions","outputs":[{"name":"","type":"tuple[]","components":[{"name":"id","type":"uint256"},{"name":"indexToken","type":"address"},{"name":"collateralUSDC","type":"uint256"},{"name":"positionSizeUSD","type":"uint256"},{"name":"leverage","type":"uint256"},{"name":"entryPrice","type":"uint256"},{"name":"entryTimestamp","type":"uint256"},{"name":"gmxPositionKey","type":"bytes32"},{"name":"isOpen","type":"bool"},{"name":"sourceChain","type":"string"}]}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"assets","type":"address[]"},{"name":"scores","type":"uint256[]"}],"name":"publishSignalBatch","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"asset","type":"address"}],"name":"getConfidenceScore","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"paused","type":"bool"}],"name":"setPaused","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"name":"emergencyWithdraw","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"token","type":"address"},{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approveToken","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// Token addresses on Arbitrum
var TokenAddresses = map[string]common.Address{
	"WETH": common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"),
	"WBTC": common.HexToAddress("0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f"),
	"ARB":  common.HexToAddress("0x912CE59144191C1204E64559FE8253a0e49E6548"),
	"USDC": common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
	"USDT": common.HexToAddress("0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9"),
}

// BridgeData mirrors the Solidity bridge tuple the vault consumes
type BridgeData struct {
	TransactionId      [32]byte
	Bridge             string
	Receiver           common.Address
	DestinationChainId *big.Int
	MinAmount          *big.Int
}

// EmptyBridgeData builds the tuple used when no bridging is needed
func EmptyBridgeData(receiver common.Address) BridgeData {
	return BridgeData{
		Receiver:           receiver,
		DestinationChainId: big.NewInt(42161),
		MinAmount:          big.NewInt(0),
	}
}

// ChainPosition is a position as the contract reports it
type ChainPosition struct {
	Id              *big.Int
	IndexToken      common.Address
	CollateralUSDC  *big.Int
	PositionSizeUSD *big.Int
	Leverage        *big.Int
	EntryPrice      *big.Int
	EntryTimestamp  *big.Int
	GmxPositionKey  [32]byte
	IsOpen          bool
	SourceChain     string
}

// Contract is the on-chain surface the manager needs. Narrow so tests
// can substitute a fake.
type Contract interface {
	ExecuteShort(ctx context.Context, indexToken common.Address, amountUSDC, leverage, acceptablePrice *big.Int, sourceChain string, data BridgeData) (string, error)
	ClosePosition(ctx context.Context, positionID, minExitPrice *big.Int, bridgeBack bool, destinationChain string, recipient common.Address, data BridgeData) (string, error)
	ExecuteDipBuy(ctx context.Context, token common.Address, amountUSDC, takeProfitPrice, stopLossPrice *big.Int) (string, error)
	TotalVaultValue(ctx context.Context) (*big.Int, error)
	OpenPositions(ctx context.Context) ([]ChainPosition, error)
	PublishSignalBatch(ctx context.Context, assets []common.Address, scores []*big.Int) (string, error)
	ConfidenceScore(ctx context.Context, asset common.Address) (*big.Int, error)
	SetPaused(ctx context.Context, paused bool) (string, error)
	EmergencyWithdraw(ctx context.Context, token common.Address, amount *big.Int) (string, error)
}

// Client is the live Contract implementation
type Client struct {
	eth          *ethclient.Client
	contract     *bind.BoundContract
	vaultAddress common.Address
	agentKey     *ecdsa.PrivateKey
	agentAddress common.Address
	chainID      *big.Int
	execFee      *big.Int // GMX keeper fee, paid with every short/close
}

// NewClient connects to the RPC endpoint and binds the vault contract
func NewClient(rpcURL, vaultAddress, agentKeyHex string, chainID int64) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("rpc dial: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(agentKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid agent key: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		return nil, fmt.Errorf("parse vault abi: %w", err)
	}

	addr := common.HexToAddress(vaultAddress)
	c := &Client{
		eth:          eth,
		contract:     bind.NewBoundContract(addr, parsed, eth, eth, eth),
		vaultAddress: addr,
		agentKey:     key,
		agentAddress: crypto.PubkeyToAddress(key.PublicKey),
		chainID:      big.NewInt(chainID),
		execFee:      big.NewInt(100_000_000_000_000), // 0.0001 ETH
	}

	log.Info().
		Str("agent", c.agentAddress.Hex()).
		Str("vault", addr.Hex()).
		Int64("chain_id", chainID).
		Msg("🔗 Vault client connected")

	return c, nil
}

// AgentAddress returns the signing account's address
func (c *Client) AgentAddress() common.Address {
	return c.agentAddress
}

func (c *Client) txOpts(ctx context.Context, value *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.agentKey, c.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	opts.Value = value
	return opts, nil
}

func callOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx}
}

// ExecuteShort opens a short via the vault, waiting for the tx receipt
func (c *Client) ExecuteShort(ctx context.Context, indexToken common.Address, amountUSDC, leverage, acceptablePrice *big.Int, sourceChain string, data BridgeData) (string, error) {
	opts, err := c.txOpts(ctx, c.execFee)
	if err != nil {
		return "", err
	}

	tx, err := c.contract.Transact(opts, "executeShort", indexToken, amountUSDC, leverage, acceptablePrice, sourceChain, data)
	if err != nil {
		return "", fmt.Errorf("executeShort: %w", err)
	}

	if err := c.awaitReceipt(ctx, tx.Hash()); err != nil {
		return tx.Hash().Hex(), err
	}
	return tx.Hash().Hex(), nil
}

// ClosePosition closes a short, optionally bridging proceeds back
func (c *Client) ClosePosition(ctx context.Context, positionID, minExitPrice *big.Int, bridgeBack bool, destinationChain string, recipient common.Address, data BridgeData) (string, error) {
	opts, err := c.txOpts(ctx, c.execFee)
	if err != nil {
		return "", err
	}

	tx, err := c.contract.Transact(opts, "closePosition", positionID, minExitPrice, bridgeBack, destinationChain, recipient, data)
	if err != nil {
		return "", fmt.Errorf("closePosition: %w", err)
	}

	if err := c.awaitReceipt(ctx, tx.Hash()); err != nil {
		return tx.Hash().Hex(), err
	}
	return tx.Hash().Hex(), nil
}

// ExecuteDipBuy buys a crashed token expecting a bounce, with on-chain
// take-profit and stop-loss marks
func (c *Client) ExecuteDipBuy(ctx context.Context, token common.Address, amountUSDC, takeProfitPrice, stopLossPrice *big.Int) (string, error) {
	opts, err := c.txOpts(ctx, c.execFee)
	if err != nil {
		return "", err
	}

	tx, err := c.contract.Transact(opts, "executeDipBuy", token, amountUSDC, takeProfitPrice, stopLossPrice)
	if err != nil {
		return "", fmt.Errorf("executeDipBuy: %w", err)
	}

	if err := c.awaitReceipt(ctx, tx.Hash()); err != nil {
		return tx.Hash().Hex(), err
	}
	return tx.Hash().Hex(), nil
}

// ApproveToken grants a spender allowance over vault-held tokens
func (c *Client) ApproveToken(ctx context.Context, token, spender common.Address, amount *big.Int) (string, error) {
	opts, err := c.txOpts(ctx, nil)
	if err != nil {
		return "", err
	}

	tx, err := c.contract.Transact(opts, "approveToken", token, spender, amount)
	if err != nil {
		return "", fmt.Errorf("approveToken: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// TotalVaultValue returns the vault's USDC value (6 decimals)
func (c *Client) TotalVaultValue(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := c.contract.Call(callOpts(ctx), &out, "getTotalVaultValue"); err != nil {
		return nil, fmt.Errorf("getTotalVaultValue: %w", err)
	}
	return out[0].(*big.Int), nil
}

// OpenPositions returns all positions the contract has open
func (c *Client) OpenPositions(ctx context.Context) ([]ChainPosition, error) {
	var out []interface{}
	if err := c.contract.Call(callOpts(ctx), &out, "getOpenPositions"); err != nil {
		return nil, fmt.Errorf("getOpenPositions: %w", err)
	}
	positions := *abi.ConvertType(out[0], new([]ChainPosition)).(*[]ChainPosition)
	return positions, nil
}

// PublishSignalBatch writes aggregated confidence scores on-chain
func (c *Client) PublishSignalBatch(ctx context.Context, assets []common.Address, scores []*big.Int) (string, error) {
	opts, err := c.txOpts(ctx, nil)
	if err != nil {
		return "", err
	}

	tx, err := c.contract.Transact(opts, "publishSignalBatch", assets, scores)
	if err != nil {
		return "", fmt.Errorf("publishSignalBatch: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// ConfidenceScore reads the published score for one asset
func (c *Client) ConfidenceScore(ctx context.Context, asset common.Address) (*big.Int, error) {
	var out []interface{}
	if err := c.contract.Call(callOpts(ctx), &out, "getConfidenceScore", asset); err != nil {
		return nil, fmt.Errorf("getConfidenceScore: %w", err)
	}
	return out[0].(*big.Int), nil
}

// SetPaused flips the vault's circuit breaker
func (c *Client) SetPaused(ctx context.Context, paused bool) (string, error) {
	opts, err := c.txOpts(ctx, nil)
	if err != nil {
		return "", err
	}

	tx, err := c.contract.Transact(opts, "setPaused", paused)
	if err != nil {
		return "", fmt.Errorf("setPaused: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// EmergencyWithdraw pulls tokens out of the vault to the owner
func (c *Client) EmergencyWithdraw(ctx context.Context, token common.Address, amount *big.Int) (string, error) {
	opts, err := c.txOpts(ctx, nil)
	if err != nil {
		return "", err
	}

	tx, err := c.contract.Transact(opts, "emergencyWithdraw", token, amount)
	if err != nil {
		return "", fmt.Errorf("emergencyWithdraw: %w", err)
	}
	return tx.Hash().Hex(), nil
}

func (c *Client) awaitReceipt(ctx context.Context, txHash common.Hash) error {
	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status == 1 {
				log.Info().
					Str("tx", txHash.Hex()).
					Uint64("block", receipt.BlockNumber.Uint64()).
					Msg("✅ Transaction confirmed")
				return nil
			}
			return fmt.Errorf("transaction %s reverted", txHash.Hex())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("transaction %s not confirmed within 2m", txHash.Hex())
}
