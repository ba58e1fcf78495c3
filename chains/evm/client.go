// Package evm speaks JSON-RPC to EVM nodes: a pool-routed client with
// failover, a block source that hydrates full blocks with receipts,
// and a chain head watcher.
package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	scoperr "github.com/mevscope/mevscope/errors"
	"github.com/mevscope/mevscope/rpcpool"
	"github.com/mevscope/mevscope/telemetry"
)

// clientAdapter satisfies rpcpool.Client over one dialed endpoint. It
// keeps both the raw RPC handle, needed for debug_ tracer calls, and
// the typed eth client sharing the same connection.
type clientAdapter struct {
	url string
	rpc *rpc.Client
	eth *ethclient.Client
}

func (a *clientAdapter) Ping(ctx context.Context) error {
	_, err := a.eth.BlockNumber(ctx)
	return err
}

func (a *clientAdapter) Close() error {
	a.rpc.Close()
	return nil
}

// NewClientFactory returns the dialer the endpoint pool uses.
func NewClientFactory() rpcpool.ClientFactory {
	return func(url string) (rpcpool.Client, error) {
		rpcClient, err := rpc.Dial(url)
		if err != nil {
			return nil, errors.Wrapf(err, "dial %s", url)
		}
		return &clientAdapter{url: url, rpc: rpcClient, eth: ethclient.NewClient(rpcClient)}, nil
	}
}

func adapterFrom(client rpcpool.Client) (*clientAdapter, error) {
	adapter, ok := client.(*clientAdapter)
	if !ok {
		return nil, scoperr.NewInternalError(0, "pool client is not an EVM adapter", nil)
	}
	return adapter, nil
}

// Probe returns the benchmark prober: dial, read the chain id, read the
// head number. The measured latency covers the full round trip.
func Probe() rpcpool.Prober {
	return func(ctx context.Context, url string) (uint64, error) {
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			return 0, err
		}
		defer rpcClient.Close()

		eth := ethclient.NewClient(rpcClient)
		chainID, err := eth.ChainID(ctx)
		if err != nil {
			return 0, err
		}
		if _, err := eth.BlockNumber(ctx); err != nil {
			return 0, err
		}
		return chainID.Uint64(), nil
	}
}

// Client is the chain-facing RPC surface. Every call routes through the
// endpoint pool, which handles selection, metrics and failover.
type Client struct {
	chainID uint64
	pool    *rpcpool.Manager
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// NewClient builds a pooled client over the given endpoint URLs and
// dials them.
func NewClient(ctx context.Context, chainID uint64, urls []string, poolCfg rpcpool.Config, logger zerolog.Logger) (*Client, error) {
	pool := rpcpool.NewManager(chainID, urls, poolCfg, NewClientFactory(), logger)
	if pool == nil {
		return nil, scoperr.NewConnectivityError(chainID, "no RPC URLs configured", nil)
	}
	if err := pool.Start(ctx); err != nil {
		return nil, err
	}

	return &Client{
		chainID: chainID,
		pool:    pool,
		logger:  logger.With().Str("component", "evm_client").Uint64("chain_id", chainID).Logger(),
	}, nil
}

// Close releases all pooled connections.
func (c *Client) Close() {
	c.pool.Stop()
}

// ChainID returns the configured chain id.
func (c *Client) ChainID() uint64 {
	return c.chainID
}

// Pool exposes the endpoint pool for health inspection.
func (c *Client) Pool() *rpcpool.Manager {
	return c.pool
}

// SetMetrics attaches run telemetry. Safe to leave unset.
func (c *Client) SetMetrics(m *telemetry.Metrics) {
	c.metrics = m
}

func (c *Client) execute(ctx context.Context, operation string, fn func(*clientAdapter) error) error {
	err := c.pool.Execute(ctx, operation, func(client rpcpool.Client) error {
		adapter, err := adapterFrom(client)
		if err != nil {
			return err
		}
		return fn(adapter)
	})
	c.metrics.ObserveRPC(operation, err)
	return err
}

// ReportedChainID asks the endpoint which chain it serves.
func (c *Client) ReportedChainID(ctx context.Context) (uint64, error) {
	var reported uint64
	err := c.execute(ctx, "get_chain_id", func(a *clientAdapter) error {
		id, err := a.eth.ChainID(ctx)
		if err != nil {
			return err
		}
		reported = id.Uint64()
		return nil
	})
	return reported, err
}

// VerifyChainID confirms the pool serves the configured chain. A
// mismatch is fatal: results from the wrong chain are worse than none.
func (c *Client) VerifyChainID(ctx context.Context) error {
	reported, err := c.ReportedChainID(ctx)
	if err != nil {
		return err
	}
	if reported != c.chainID {
		return scoperr.NewChainMismatchError(c.chainID, reported, "")
	}
	return nil
}

// BlockNumber returns the current head number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.execute(ctx, "get_block_number", func(a *clientAdapter) error {
		number, err := a.eth.BlockNumber(ctx)
		if err != nil {
			return err
		}
		head = number
		return nil
	})
	return head, err
}

// BlockByNumber fetches a block with full transaction bodies.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	var block *types.Block
	err := c.execute(ctx, "get_block", func(a *clientAdapter) error {
		fetched, err := a.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return err
		}
		block = fetched
		return nil
	})
	return block, err
}

// HeaderByNumber fetches one header; nil means latest.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.execute(ctx, "get_header", func(a *clientAdapter) error {
		fetched, err := a.eth.HeaderByNumber(ctx, number)
		if err != nil {
			return err
		}
		header = fetched
		return nil
	})
	return header, err
}

// BlockReceipts fetches all receipts of one block in a single call.
// Not every endpoint serves eth_getBlockReceipts; the block source
// falls back to per-transaction receipts when this fails.
func (c *Client) BlockReceipts(ctx context.Context, number uint64) ([]*types.Receipt, error) {
	var receipts []*types.Receipt
	err := c.execute(ctx, "get_block_receipts", func(a *clientAdapter) error {
		fetched, err := a.eth.BlockReceipts(ctx,
			rpc.BlockNumberOrHashWithNumber(rpc.BlockNumber(number)))
		if err != nil {
			return err
		}
		receipts = fetched
		return nil
	})
	return receipts, err
}

// TransactionByHash fetches one transaction and whether it is pending.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	var (
		tx      *types.Transaction
		pending bool
	)
	err := c.execute(ctx, "get_transaction", func(a *clientAdapter) error {
		fetched, isPending, err := a.eth.TransactionByHash(ctx, hash)
		if err != nil {
			return err
		}
		tx, pending = fetched, isPending
		return nil
	})
	return tx, pending, err
}

// TransactionReceipt fetches one receipt.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.execute(ctx, "get_receipt", func(a *clientAdapter) error {
		fetched, err := a.eth.TransactionReceipt(ctx, hash)
		if err != nil {
			return err
		}
		receipt = fetched
		return nil
	})
	return receipt, err
}

// CallContract executes a read-only contract call.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var output []byte
	err := c.execute(ctx, "call_contract", func(a *clientAdapter) error {
		result, err := a.eth.CallContract(ctx, msg, blockNumber)
		if err != nil {
			return err
		}
		output = result
		return nil
	})
	return output, err
}

// RawCall issues an arbitrary JSON-RPC method, used for the debug_
// tracer namespace the typed client does not cover.
func (c *Client) RawCall(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return c.execute(ctx, method, func(a *clientAdapter) error {
		return a.rpc.CallContext(ctx, result, method, args...)
	})
}
