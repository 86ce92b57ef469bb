package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// PendingTx is the chain's view of a transaction looked up by hash,
// reduced to the fields a replacement needs
type PendingTx struct {
	Hash     string
	Nonce    uint64
	To       *string
	Value    *big.Int
	GasPrice *big.Int
	Gas      uint64
	Data     []byte
	Pending  bool
}

// Provider is the chain surface consumed by services.
// *Client satisfies it; tests substitute stubs.
type Provider interface {
	ChainIDBig() *big.Int
	GetBalance(ctx context.Context, address string) (*big.Int, error)
	GetNonce(ctx context.Context, address string) (uint64, error)
	EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	TransactionByHash(ctx context.Context, hash string) (*PendingTx, error)
	SendRawTransaction(ctx context.Context, signedTx *types.Transaction) (string, error)
	WaitMined(ctx context.Context, hash string) (*types.Receipt, error)
}

// receiptPollInterval bounds how often WaitMined asks the node for a receipt
const receiptPollInterval = 2 * time.Second

// Client wraps an Ethereum RPC client
type Client struct {
	client  *ethclient.Client
	chainID *big.Int
}

// NewClient creates a new EVM client and auto-detects chain ID
func NewClient(rpcURL string) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	chainID, err := client.ChainID(context.Background())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &Client{
		client:  client,
		chainID: chainID,
	}, nil
}

// ChainIDBig returns the chain ID
func (c *Client) ChainIDBig() *big.Int {
	return c.chainID
}

// GetBalance returns the balance of an address in wei
func (c *Client) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	addr := common.HexToAddress(address)
	balance, err := c.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// GetNonce returns the next nonce for an address, including pending transactions
func (c *Client) GetNonce(ctx context.Context, address string) (uint64, error) {
	addr := common.HexToAddress(address)
	nonce, err := c.client.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	return nonce, nil
}

// EstimateGas estimates the gas needed for a transaction
func (c *Client) EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error) {
	msg := ethereum.CallMsg{
		From:  common.HexToAddress(from),
		Value: value,
		Data:  data,
	}
	if to != "" {
		toAddr := common.HexToAddress(to)
		msg.To = &toAddr
	}

	gas, err := c.client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}

	// 20% buffer over the node's estimate
	return gas * 120 / 100, nil
}

// SuggestGasPrice returns the suggested gas price
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return gasPrice, nil
}

// TransactionByHash looks up a transaction by hash. Returns nil when the
// node has no view of the hash; a confirmed-and-pruned transaction is
// indistinguishable from one that never existed.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*PendingTx, error) {
	tx, pending, err := c.client.TransactionByHash(ctx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	out := &PendingTx{
		Hash:     tx.Hash().Hex(),
		Nonce:    tx.Nonce(),
		Value:    tx.Value(),
		GasPrice: tx.GasPrice(),
		Gas:      tx.Gas(),
		Data:     tx.Data(),
		Pending:  pending,
	}
	if to := tx.To(); to != nil {
		s := to.Hex()
		out.To = &s
	}
	return out, nil
}

// SendRawTransaction broadcasts a signed transaction to the network
func (c *Client) SendRawTransaction(ctx context.Context, signedTx *types.Transaction) (string, error) {
	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

// WaitMined polls for the receipt of hash until it appears or ctx is done.
// The caller bounds the wait with a context deadline.
func (c *Client) WaitMined(ctx context.Context, hash string) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	h := common.HexToHash(hash)
	for {
		receipt, err := c.client.TransactionReceipt(ctx, h)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to get receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.client.Close()
}
