package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	scoperr "github.com/mevscope/mevscope/errors"
	"github.com/mevscope/mevscope/model"
)

// receiptConcurrency bounds parallel per-transaction receipt fetches so
// public endpoints are not hammered.
const receiptConcurrency = 15

// blockReader is the RPC slice the source needs.
type blockReader interface {
	ChainID() uint64
	BlockByNumber(ctx context.Context, number uint64) (*types.Block, error)
	BlockReceipts(ctx context.Context, number uint64) ([]*types.Receipt, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Source hydrates full blocks: header fields, transaction bodies,
// receipts and logs, converted into the internal model.
type Source struct {
	reader blockReader
	signer types.Signer
	logger zerolog.Logger

	// Endpoints lacking eth_getBlockReceipts make the source fall back
	// to per-transaction receipts, and stay there.
	blockReceiptsBroken atomic.Bool
}

// NewSource builds a block source over the given reader.
func NewSource(reader blockReader, logger zerolog.Logger) *Source {
	return &Source{
		reader: reader,
		signer: types.LatestSignerForChainID(new(big.Int).SetUint64(reader.ChainID())),
		logger: logger.With().Str("component", "block_source").Uint64("chain_id", reader.ChainID()).Logger(),
	}
}

// FetchBlock loads one block with every transaction fully hydrated.
func (s *Source) FetchBlock(ctx context.Context, number uint64) (*model.Block, error) {
	rawBlock, err := s.reader.BlockByNumber(ctx, number)
	if err != nil {
		return nil, scoperr.WrapScope(err, scoperr.ErrCodeConnectivity, s.reader.ChainID(),
			fmt.Sprintf("fetch block %d", number))
	}

	receipts, err := s.fetchReceipts(ctx, rawBlock)
	if err != nil {
		return nil, err
	}

	block := &model.Block{
		Number:   rawBlock.NumberU64(),
		Hash:     rawBlock.Hash(),
		Time:     rawBlock.Time(),
		Coinbase: rawBlock.Coinbase(),
	}
	if baseFee := rawBlock.BaseFee(); baseFee != nil {
		block.BaseFee = uint256.MustFromBig(baseFee)
	}

	txs := rawBlock.Transactions()
	block.Txs = make([]*model.Transaction, len(txs))
	for i, rawTx := range txs {
		block.Txs[i] = s.buildTransaction(rawTx, receipts[i], uint32(i))
	}
	return block, nil
}

// fetchReceipts prefers the single eth_getBlockReceipts call and falls
// back to bounded per-transaction fetches when the endpoint lacks it.
func (s *Source) fetchReceipts(ctx context.Context, block *types.Block) ([]*types.Receipt, error) {
	txCount := len(block.Transactions())
	if txCount == 0 {
		return nil, nil
	}

	if !s.blockReceiptsBroken.Load() {
		receipts, err := s.reader.BlockReceipts(ctx, block.NumberU64())
		if err == nil && len(receipts) == txCount {
			return receipts, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, scoperr.WrapScope(err, scoperr.ErrCodeTimeout, s.reader.ChainID(),
					fmt.Sprintf("fetch receipts for block %d", block.NumberU64()))
			}
			s.blockReceiptsBroken.Store(true)
			s.logger.Debug().Err(err).
				Msg("eth_getBlockReceipts unavailable, switching to per-transaction receipts")
		} else {
			s.logger.Warn().
				Uint64("block", block.NumberU64()).
				Int("receipts", len(receipts)).
				Int("txs", txCount).
				Msg("block receipts count mismatch, refetching per transaction")
		}
	}

	return s.fetchReceiptsPerTx(ctx, block)
}

func (s *Source) fetchReceiptsPerTx(ctx context.Context, block *types.Block) ([]*types.Receipt, error) {
	txs := block.Transactions()
	receipts := make([]*types.Receipt, len(txs))

	sem := semaphore.NewWeighted(receiptConcurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i, tx := range txs {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			receipt, err := s.reader.TransactionReceipt(gctx, tx.Hash())
			if err != nil {
				return errors.Wrapf(err, "receipt for %s", tx.Hash())
			}
			receipts[i] = receipt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, scoperr.WrapScope(err, scoperr.ErrCodeConnectivity, s.reader.ChainID(),
			fmt.Sprintf("fetch receipts for block %d", block.NumberU64()))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, receipt := range receipts {
		if receipt == nil {
			return nil, scoperr.NewInternalError(s.reader.ChainID(),
				fmt.Sprintf("missing receipt for transaction %d of block %d", i, block.NumberU64()), nil)
		}
	}
	return receipts, nil
}

func (s *Source) buildTransaction(rawTx *types.Transaction, receipt *types.Receipt, position uint32) *model.Transaction {
	from, err := types.Sender(s.signer, rawTx)
	if err != nil {
		s.logger.Warn().Str("tx", rawTx.Hash().Hex()).Err(err).Msg("failed to recover sender")
	}

	tx := &model.Transaction{
		Hash:      rawTx.Hash(),
		From:      from,
		To:        rawTx.To(),
		Value:     uint256.MustFromBig(rawTx.Value()),
		Input:     rawTx.Data(),
		GasLimit:  rawTx.Gas(),
		GasPrice:  uint256.MustFromBig(rawTx.GasPrice()),
		GasTipCap: uint256.MustFromBig(rawTx.GasTipCap()),
		GasFeeCap: uint256.MustFromBig(rawTx.GasFeeCap()),
		Position:  position,
	}

	if receipt != nil {
		tx.GasUsed = receipt.GasUsed
		tx.Success = receipt.Status == types.ReceiptStatusSuccessful
		if receipt.EffectiveGasPrice != nil {
			tx.EffectiveGasPrice = uint256.MustFromBig(receipt.EffectiveGasPrice)
		} else {
			tx.EffectiveGasPrice = tx.GasPrice
		}
		tx.Logs = convertLogs(receipt.Logs)
	}
	return tx
}

func convertLogs(logs []*types.Log) []model.Log {
	if len(logs) == 0 {
		return nil
	}
	converted := make([]model.Log, len(logs))
	for i, log := range logs {
		converted[i] = model.Log{
			Address: log.Address,
			Topics:  log.Topics,
			Data:    log.Data,
		}
	}
	return converted
}
