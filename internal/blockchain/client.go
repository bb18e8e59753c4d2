// Package blockchain 封装 EVM 链访问：多 RPC 故障切换、交易签名、Nonce 分配与回执等待
package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

var (
	ErrNoHealthyRPC      = errors.New("no healthy RPC endpoint available")
	ErrInsufficientFunds = errors.New("insufficient funds for gas")
	ErrNonceTooLow       = errors.New("nonce too low")
	ErrTxNotFound        = errors.New("transaction not found")
	ErrTxFailed          = errors.New("transaction reverted")
	ErrTxDropped         = errors.New("transaction dropped, nonce used by another transaction")
	ErrSendUncertain     = errors.New("broadcast outcome unknown")
	ErrNoSigner          = errors.New("private key not configured")
)

// Reader 只读链访问，合约读调用与日志扫描使用
type Reader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// ReceiptReader 回执查询
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	NonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Sender 交易广播与费用估算
type Sender interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Backend 完整链访问
type Backend interface {
	Reader
	ReceiptReader
	Sender
	NetworkID(ctx context.Context) (*big.Int, error)
}

// endpoint RPC 端点状态
type endpoint struct {
	url        string
	healthy    bool
	errorCount int
	lastCheck  time.Time
}

// Client 区块链客户端
type Client struct {
	endpoints  []*endpoint
	currentIdx int
	mu         sync.RWMutex

	eth *ethclient.Client

	maxRetries      int
	retryInterval   time.Duration
	healthCheckFreq time.Duration
}

// ClientConfig 客户端配置
type ClientConfig struct {
	RPCURLs         []string
	MaxRetries      int
	RetryInterval   time.Duration
	HealthCheckFreq time.Duration
}

// NewClient 创建区块链客户端并连接第一个可用 RPC
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	c := newClient(cfg)
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func newClient(cfg *ClientConfig) *Client {
	endpoints := make([]*endpoint, len(cfg.RPCURLs))
	for i, url := range cfg.RPCURLs {
		endpoints[i] = &endpoint{url: url, healthy: true}
	}

	c := &Client{
		endpoints:       endpoints,
		maxRetries:      cfg.MaxRetries,
		retryInterval:   cfg.RetryInterval,
		healthCheckFreq: cfg.HealthCheckFreq,
	}
	if c.maxRetries == 0 {
		c.maxRetries = 3
	}
	if c.retryInterval == 0 {
		c.retryInterval = time.Second
	}
	if c.healthCheckFreq == 0 {
		c.healthCheckFreq = 30 * time.Second
	}
	return c
}

// connect 轮询端点，跳过冷却期内的不健康端点
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.endpoints {
		idx := (c.currentIdx + i) % len(c.endpoints)
		ep := c.endpoints[idx]

		if !ep.healthy && time.Since(ep.lastCheck) < c.healthCheckFreq {
			continue
		}

		eth, err := ethclient.DialContext(ctx, ep.url)
		if err != nil {
			ep.markFailed()
			continue
		}
		if _, err := eth.ChainID(ctx); err != nil {
			eth.Close()
			ep.markFailed()
			logger.Warn("rpc endpoint unreachable", zap.String("url", ep.url), zap.Error(err))
			continue
		}

		if c.eth != nil {
			c.eth.Close()
		}
		c.eth = eth
		c.currentIdx = idx
		ep.healthy = true
		ep.errorCount = 0
		ep.lastCheck = time.Now()
		return nil
	}

	return ErrNoHealthyRPC
}

func (ep *endpoint) markFailed() {
	ep.healthy = false
	ep.errorCount++
	ep.lastCheck = time.Now()
}

func (c *Client) current(ctx context.Context) (*ethclient.Client, error) {
	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()
	if eth != nil {
		return eth, nil
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eth, nil
}

// withRetry 执行调用，失败时切换端点重试；业务性错误直接返回
func (c *Client) withRetry(ctx context.Context, fn func(*ethclient.Client) error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		eth, err := c.current(ctx)
		if err == nil {
			err = fn(eth)
			if err == nil || !isTransportError(err) {
				return err
			}
			c.mu.Lock()
			ep := c.endpoints[c.currentIdx]
			ep.markFailed()
			c.mu.Unlock()
			logger.Warn("rpc call failed, switching endpoint",
				zap.String("url", ep.url),
				zap.Int("attempt", i+1),
				zap.Error(err))
			_ = c.connect(ctx)
		}
		lastErr = err

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryInterval):
			}
		}
	}
	return lastErr
}

// isTransportError 区分网络类错误与节点返回的业务错误 (revert、nonce、余额等)
func isTransportError(err error) bool {
	if errors.Is(err, ethereum.NotFound) || errors.Is(err, ErrTxNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"execution reverted", "nonce too low", "insufficient funds", "already known", "replacement transaction", "gas required exceeds"} {
		if strings.Contains(msg, s) {
			return false
		}
	}
	return true
}

// NetworkID 节点实际所在链 ID
func (c *Client) NetworkID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.withRetry(ctx, func(eth *ethclient.Client) error {
		var err error
		id, err = eth.ChainID(ctx)
		return err
	})
	return id, err
}

// BlockNumber 获取最新区块号
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.withRetry(ctx, func(eth *ethclient.Client) error {
		var err error
		n, err = eth.BlockNumber(ctx)
		return err
	})
	return n, err
}

// TransactionReceipt 获取交易回执，未上链返回 ErrTxNotFound
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.withRetry(ctx, func(eth *ethclient.Client) error {
		var err error
		receipt, err = eth.TransactionReceipt(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return ErrTxNotFound
		}
		return err
	})
	return receipt, err
}

// NonceAt 最新区块上已确认的 Nonce
func (c *Client) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.withRetry(ctx, func(eth *ethclient.Client) error {
		var err error
		nonce, err = eth.NonceAt(ctx, account, nil)
		return err
	})
	return nonce, err
}

// PendingNonceAt 获取待处理 Nonce
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.withRetry(ctx, func(eth *ethclient.Client) error {
		var err error
		nonce, err = eth.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// SuggestGasPrice 获取建议 Gas 价格
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.withRetry(ctx, func(eth *ethclient.Client) error {
		var err error
		price, err = eth.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

// EstimateGas 估算 Gas
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := c.withRetry(ctx, func(eth *ethclient.Client) error {
		var err error
		gas, err = eth.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

// SendTransaction 广播已签名交易
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.withRetry(ctx, func(eth *ethclient.Client) error {
		return eth.SendTransaction(ctx, tx)
	})
}

// FilterLogs 过滤日志
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.withRetry(ctx, func(eth *ethclient.Client) error {
		var err error
		logs, err = eth.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// CallContract 只读合约调用
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.withRetry(ctx, func(eth *ethclient.Client) error {
		var err error
		out, err = eth.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

// HealthCheck 健康检查
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// HealthyEndpoints 健康端点数量
func (c *Client) HealthyEndpoints() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, ep := range c.endpoints {
		if ep.healthy {
			n++
		}
	}
	return n
}

// Close 关闭客户端
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
}

// Signer 持有私钥的 EIP-155 签名者
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewSigner 从十六进制私钥创建签名者
func NewSigner(hexKey string, chainID int64) (*Signer, error) {
	if hexKey == "" {
		return nil, ErrNoSigner
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, err
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
	}, nil
}

// Address 签名账户地址
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID 签名所用链 ID
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx 签名交易
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.key)
}
