package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

// TxHandle 已广播交易的句柄，提交与等待确认分两阶段进行
type TxHandle struct {
	Hash        common.Hash
	Nonce       uint64
	From        common.Address
	To          common.Address
	SubmittedAt time.Time
}

// Transactor 以单一账户签名并广播合约调用
type Transactor struct {
	sender   Sender
	signer   *Signer
	nonces   NonceAllocator
	gasLimit uint64
}

// NewTransactor 创建交易发送器，gasLimit 为 0 时按估算值加 20%
func NewTransactor(sender Sender, signer *Signer, nonces NonceAllocator, gasLimit uint64) *Transactor {
	return &Transactor{
		sender:   sender,
		signer:   signer,
		nonces:   nonces,
		gasLimit: gasLimit,
	}
}

// From 发送账户
func (t *Transactor) From() common.Address {
	return t.signer.Address()
}

// Submit 构建、签名并广播交易，返回句柄而不等待确认
// 广播结果未知时 (超时、连接中断) 同时返回句柄与 ErrSendUncertain
func (t *Transactor) Submit(ctx context.Context, to common.Address, data []byte) (*TxHandle, error) {
	from := t.signer.Address()

	gas, err := t.sender.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, classifySendError(fmt.Errorf("estimate gas: %w", err))
	}
	gas = gas * 12 / 10
	if t.gasLimit > 0 && gas > t.gasLimit {
		gas = t.gasLimit
	}

	gasPrice, err := t.sender.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	nonce, err := t.nonces.AcquireNonce(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := t.signer.SignTx(tx)
	if err != nil {
		_ = t.nonces.ReleaseNonce(ctx, nonce)
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	handle := &TxHandle{
		Hash:        signed.Hash(),
		Nonce:       nonce,
		From:        from,
		To:          to,
		SubmittedAt: time.Now(),
	}

	if err := t.sender.SendTransaction(ctx, signed); err != nil && !isAlreadyKnown(err) {
		if !isRejection(err) {
			// 节点可能已收到交易，nonce 不归还，哈希交给调用方核对
			t.recordPending(ctx, handle)
			logger.Warn("transaction broadcast outcome unknown",
				zap.String("tx_hash", handle.Hash.Hex()),
				zap.Uint64("nonce", nonce),
				zap.Error(err))
			return handle, fmt.Errorf("%w: %v", ErrSendUncertain, err)
		}

		_ = t.nonces.ReleaseNonce(ctx, nonce)
		err = classifySendError(err)
		if err == ErrNonceTooLow {
			if syncErr := t.nonces.HandleNonceTooLow(ctx); syncErr != nil {
				logger.Warn("nonce resync failed", zap.Error(syncErr))
			}
		}
		return nil, err
	}

	t.recordPending(ctx, handle)

	logger.Info("transaction submitted",
		zap.String("tx_hash", handle.Hash.Hex()),
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gas))

	return handle, nil
}

func (t *Transactor) recordPending(ctx context.Context, handle *TxHandle) {
	if err := t.nonces.ConfirmNonce(ctx, handle.Nonce, handle.Hash.Hex()); err != nil {
		logger.Warn("record pending nonce failed",
			zap.Uint64("nonce", handle.Nonce),
			zap.String("tx_hash", handle.Hash.Hex()),
			zap.Error(err))
	}
}

// isRejection 节点明确拒绝了交易，交易不会上链
func isRejection(err error) bool {
	switch classifySendError(err) {
	case ErrNonceTooLow, ErrInsufficientFunds:
		return true
	}
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

// isAlreadyKnown 交易池已有同一笔交易
func isAlreadyKnown(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already known")
}

func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"):
		return ErrNonceTooLow
	case strings.Contains(msg, "insufficient funds"):
		return ErrInsufficientFunds
	}
	return err
}
