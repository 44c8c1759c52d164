package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Transaction is the subset of a block transaction the monitor filters on.
// To is nil for contract creations.
type Transaction struct {
	Hash common.Hash
	From common.Address
	To   *common.Address
}

// Block is the latest-block view returned by LatestBlock.
type Block struct {
	Number       uint64
	Hash         common.Hash
	Time         uint64
	GasUsed      uint64
	GasLimit     uint64
	Transactions []Transaction
}

// Client wraps go-ethereum RPC and provides helper methods.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

var (
	errInvalidEndpoint = errors.New("invalid rpc endpoint")
	errNilBlock        = errors.New("nil block")
)

// checkEndpoint rejects URLs rpc.DialContext can never connect to.
// An empty scheme is an IPC socket path.
func checkEndpoint(rpcURL string) error {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidEndpoint, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss", "stdio", "":
		return nil
	default:
		return fmt.Errorf("%w: unsupported scheme %q", errInvalidEndpoint, u.Scheme)
	}
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	if err := checkEndpoint(rpcURL); err != nil {
		return nil, err
	}
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
	}, nil
}

// DialOptions controls Dial.
type DialOptions struct {
	Retries int
	Backoff time.Duration
	Logger  *zap.Logger
}

// Dial connects to rpcURL and verifies the endpoint answers eth_chainId,
// retrying with exponential backoff. A malformed URL fails without retrying.
func Dial(ctx context.Context, rpcURL string, opts DialOptions) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "chain"))

	var client *Client
	policy := retryPolicy{Op: "rpc connect", Retries: opts.Retries, Backoff: opts.Backoff, Logger: logger}
	err := withRetry(ctx, policy, func(ctx context.Context) error {
		c, err := NewClient(ctx, rpcURL)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		chainID, err := c.ChainID(ctx)
		if err != nil {
			c.Close()
			return fmt.Errorf("chain id: %w", err)
		}
		client = c
		logger.Info("rpc connected", zap.String("chain_id", chainID.String()))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// rpcBlock is the subset of eth_getBlockByNumber the monitor reads.
// Transactions are not decoded by type.
type rpcBlock struct {
	Number       hexutil.Uint64   `json:"number"`
	Hash         common.Hash      `json:"hash"`
	Timestamp    hexutil.Uint64   `json:"timestamp"`
	GasUsed      hexutil.Uint64   `json:"gasUsed"`
	GasLimit     hexutil.Uint64   `json:"gasLimit"`
	Transactions []rpcTransaction `json:"transactions"`
}

type rpcTransaction struct {
	Hash common.Hash     `json:"hash"`
	From common.Address  `json:"from"`
	To   *common.Address `json:"to"`
}

// LatestBlock fetches the head block with its transactions.
func (c *Client) LatestBlock(ctx context.Context) (*Block, error) {
	var raw *rpcBlock
	if err := c.rpcClient.CallContext(ctx, &raw, "eth_getBlockByNumber", "latest", true); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errNilBlock
	}
	return raw.toBlock(), nil
}

func (b *rpcBlock) toBlock() *Block {
	out := &Block{
		Number:       uint64(b.Number),
		Hash:         b.Hash,
		Time:         uint64(b.Timestamp),
		GasUsed:      uint64(b.GasUsed),
		GasLimit:     uint64(b.GasLimit),
		Transactions: make([]Transaction, 0, len(b.Transactions)),
	}
	for _, tx := range b.Transactions {
		out.Transactions = append(out.Transactions, Transaction{Hash: tx.Hash, From: tx.From, To: tx.To})
	}
	return out
}

// TransactionReceipt returns the receipt for a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return c.ethClient.TransactionReceipt(ctx, hash)
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}
