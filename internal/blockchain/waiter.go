package blockchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Waiter 轮询回执直到交易达到确认数
type Waiter struct {
	receipts      ReceiptReader
	confirmations uint64
	pollInterval  time.Duration
}

// NewWaiter 创建回执等待器，confirmations 至少为 1
func NewWaiter(receipts ReceiptReader, confirmations int, pollInterval time.Duration) *Waiter {
	if confirmations < 1 {
		confirmations = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Waiter{
		receipts:      receipts,
		confirmations: uint64(confirmations),
		pollInterval:  pollInterval,
	}
}

// Wait 阻塞直到交易确认、回滚或 ctx 结束
// 回滚时同时返回回执与 ErrTxFailed
func (w *Waiter) Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		receipt, done, err := w.check(ctx, txHash)
		if done {
			return receipt, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (w *Waiter) check(ctx context.Context, txHash common.Hash) (*types.Receipt, bool, error) {
	receipt, err := w.receipts.TransactionReceipt(ctx, txHash)
	if err != nil {
		// 未上链或节点暂时不可用，继续等待
		return nil, false, nil
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, true, ErrTxFailed
	}
	if w.confirmations == 1 || receipt.BlockNumber == nil {
		return receipt, true, nil
	}

	head, err := w.receipts.BlockNumber(ctx)
	if err != nil {
		return nil, false, nil
	}
	mined := receipt.BlockNumber.Uint64()
	if head >= mined && head-mined+1 >= w.confirmations {
		return receipt, true, nil
	}
	return nil, false, nil
}

// Lookup 单次查询交易结果，未上链返回 ErrTxNotFound
func (w *Waiter) Lookup(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := w.receipts.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, ErrTxFailed
	}
	return receipt, nil
}

// Resolve 查询一笔已签名交易的结果
// 回执不存在且发送账户的已确认 nonce 已越过该交易时返回 ErrTxDropped，其余情况原样返回 Lookup 的结果
func (w *Waiter) Resolve(ctx context.Context, txHash common.Hash, from common.Address, nonce uint64) (*types.Receipt, error) {
	receipt, err := w.Lookup(ctx, txHash)
	if !errors.Is(err, ErrTxNotFound) {
		return receipt, err
	}

	confirmed, nonceErr := w.receipts.NonceAt(ctx, from)
	if nonceErr != nil || confirmed <= nonce {
		return nil, err
	}

	// nonce 已被占用，再查一次排除刚好被打包的情况
	receipt, err = w.Lookup(ctx, txHash)
	if errors.Is(err, ErrTxNotFound) {
		return nil, ErrTxDropped
	}
	return receipt, err
}
