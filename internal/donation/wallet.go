package donation

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/eidos-exchange/eidos-bridge/internal/blockchain"
)

// ConfirmFunc 发送前询问钱包持有人，返回 false 视为拒签
type ConfirmFunc func(action string, to common.Address) bool

// KeyWalletConfig 本地私钥钱包配置
type KeyWalletConfig struct {
	GasLimit      uint64
	Confirmations int
	PollInterval  time.Duration
	Confirm       ConfirmFunc
	// Labels 按目标地址标注动作，交给 Confirm 展示
	Labels map[common.Address]string
}

// KeyWallet 用本地私钥签名的钱包，CLI 捐赠使用
type KeyWallet struct {
	backend    blockchain.Backend
	signer     *blockchain.Signer
	transactor *blockchain.Transactor
	waiter     *blockchain.Waiter
	confirm    ConfirmFunc
	labels     map[common.Address]string
}

// NewKeyWallet 创建本地钱包，nonce 每次从链上读取
func NewKeyWallet(backend blockchain.Backend, signer *blockchain.Signer, cfg *KeyWalletConfig) *KeyWallet {
	nonces := blockchain.NewChainNonce(backend, signer.Address())
	return &KeyWallet{
		backend:    backend,
		signer:     signer,
		transactor: blockchain.NewTransactor(backend, signer, nonces, cfg.GasLimit),
		waiter:     blockchain.NewWaiter(backend, cfg.Confirmations, cfg.PollInterval),
		confirm:    cfg.Confirm,
		labels:     cfg.Labels,
	}
}

// Address 钱包地址
func (w *KeyWallet) Address() common.Address {
	return w.signer.Address()
}

// ChainID 当前连接的链
func (w *KeyWallet) ChainID(ctx context.Context) (*big.Int, error) {
	return w.backend.NetworkID(ctx)
}

// Send 经确认后签名广播
func (w *KeyWallet) Send(ctx context.Context, to common.Address, data []byte) (*blockchain.TxHandle, error) {
	if w.confirm != nil {
		action := w.labels[to]
		if action == "" {
			action = "contract call"
		}
		if !w.confirm(action, to) {
			return nil, ErrRejected
		}
	}
	return w.transactor.Submit(ctx, to, data)
}

// Await 等待确认
func (w *KeyWallet) Await(ctx context.Context, handle *blockchain.TxHandle) (*types.Receipt, error) {
	return w.waiter.Wait(ctx, handle.Hash)
}

// HasPending 待处理 nonce 高于已确认 nonce 即有交易在池中
func (w *KeyWallet) HasPending(ctx context.Context) (bool, error) {
	addr := w.signer.Address()
	pending, err := w.backend.PendingNonceAt(ctx, addr)
	if err != nil {
		return false, err
	}
	mined, err := w.backend.NonceAt(ctx, addr)
	if err != nil {
		return false, err
	}
	return pending > mined, nil
}
