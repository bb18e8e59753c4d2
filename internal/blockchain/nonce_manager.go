package blockchain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/eidos-exchange/eidos-bridge/pkg/lock"
)

var ErrNonceNotAcquired = errors.New("nonce not acquired")

// NonceAllocator 发送账户的 Nonce 分配
// AcquireNonce 返回的 nonce 必须通过 ConfirmNonce 或 ReleaseNonce 处理
type NonceAllocator interface {
	AcquireNonce(ctx context.Context) (uint64, error)
	ConfirmNonce(ctx context.Context, nonce uint64, txHash string) error
	ReleaseNonce(ctx context.Context, nonce uint64) error
	HandleNonceTooLow(ctx context.Context) error
}

// pendingNonceReader 链上 pending nonce 查询
type pendingNonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager 基于 Redis 的 Nonce 管理器，多实例共享同一托管账户时使用
type NonceManager struct {
	chain   pendingNonceReader
	redis   redis.UniversalClient
	locker  lock.Locker
	wallet  common.Address
	chainID int64

	mu           sync.Mutex
	lastSyncTime time.Time
	syncInterval time.Duration

	pendingMu sync.Mutex
	pending   map[uint64]struct{}
}

// NonceManagerConfig 配置
type NonceManagerConfig struct {
	Wallet       common.Address
	ChainID      int64
	SyncInterval time.Duration
}

// NewNonceManager 创建 Nonce 管理器
func NewNonceManager(chain pendingNonceReader, rdb redis.UniversalClient, locker lock.Locker, cfg *NonceManagerConfig) *NonceManager {
	syncInterval := cfg.SyncInterval
	if syncInterval == 0 {
		syncInterval = 5 * time.Minute
	}

	return &NonceManager{
		chain:        chain,
		redis:        rdb,
		locker:       locker,
		wallet:       cfg.Wallet,
		chainID:      cfg.ChainID,
		syncInterval: syncInterval,
		pending:      make(map[uint64]struct{}),
	}
}

func (m *NonceManager) nonceKey() string {
	return fmt.Sprintf("eidos:bridge:nonce:%s:%d", m.wallet.Hex(), m.chainID)
}

func (m *NonceManager) lockKey() string {
	return fmt.Sprintf("nonce:%s:%d", m.wallet.Hex(), m.chainID)
}

func (m *NonceManager) pendingKey() string {
	return fmt.Sprintf("eidos:bridge:nonce:pending:%s:%d", m.wallet.Hex(), m.chainID)
}

// AcquireNonce 分配下一个 nonce
func (m *NonceManager) AcquireNonce(ctx context.Context) (uint64, error) {
	var nonce uint64
	err := m.locker.WithLock(ctx, m.lockKey(), func(ctx context.Context) error {
		if m.needsSync() {
			if err := m.syncFromChain(ctx); err != nil {
				return err
			}
		}

		current, err := m.currentNonce(ctx)
		if err != nil {
			return err
		}
		if err := m.redis.Set(ctx, m.nonceKey(), current+1, 0).Err(); err != nil {
			return err
		}
		nonce = current
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.pendingMu.Lock()
	m.pending[nonce] = struct{}{}
	m.pendingMu.Unlock()
	return nonce, nil
}

// ConfirmNonce 交易已广播，记录到待确认队列
func (m *NonceManager) ConfirmNonce(ctx context.Context, nonce uint64, txHash string) error {
	m.pendingMu.Lock()
	_, ok := m.pending[nonce]
	delete(m.pending, nonce)
	m.pendingMu.Unlock()
	if !ok {
		return nil
	}

	return m.redis.ZAdd(ctx, m.pendingKey(), redis.Z{
		Score:  float64(nonce),
		Member: fmt.Sprintf("%d:%s", nonce, txHash),
	}).Err()
}

// ReleaseNonce 交易未广播时归还 nonce
// 仅当它是最后分配的 nonce 时回退计数器，否则留下的空洞由下次链上同步修复
func (m *NonceManager) ReleaseNonce(ctx context.Context, nonce uint64) error {
	m.pendingMu.Lock()
	_, ok := m.pending[nonce]
	delete(m.pending, nonce)
	m.pendingMu.Unlock()
	if !ok {
		return ErrNonceNotAcquired
	}

	return m.locker.WithLock(ctx, m.lockKey(), func(ctx context.Context) error {
		current, err := m.redis.Get(ctx, m.nonceKey()).Uint64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		if current == nonce+1 {
			return m.redis.Set(ctx, m.nonceKey(), nonce, 0).Err()
		}
		m.forceSync()
		return nil
	})
}

// OnTxFinalized 交易已确认或失败，移出待确认队列
func (m *NonceManager) OnTxFinalized(ctx context.Context, nonce uint64, txHash string) error {
	return m.redis.ZRem(ctx, m.pendingKey(), fmt.Sprintf("%d:%s", nonce, txHash)).Err()
}

// PendingCount 已广播未确认的交易数
func (m *NonceManager) PendingCount(ctx context.Context) (int64, error) {
	return m.redis.ZCard(ctx, m.pendingKey()).Result()
}

// HandleNonceTooLow 节点拒绝 nonce 时从链上重新同步
func (m *NonceManager) HandleNonceTooLow(ctx context.Context) error {
	return m.locker.WithLock(ctx, m.lockKey(), m.syncFromChain)
}

// syncFromChain 需在锁内调用
func (m *NonceManager) syncFromChain(ctx context.Context) error {
	chainNonce, err := m.chain.PendingNonceAt(ctx, m.wallet)
	if err != nil {
		return err
	}
	if err := m.redis.Set(ctx, m.nonceKey(), chainNonce, 0).Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.lastSyncTime = time.Now()
	m.mu.Unlock()
	return nil
}

func (m *NonceManager) currentNonce(ctx context.Context) (uint64, error) {
	val, err := m.redis.Get(ctx, m.nonceKey()).Uint64()
	if errors.Is(err, redis.Nil) {
		return m.chain.PendingNonceAt(ctx, m.wallet)
	}
	return val, err
}

func (m *NonceManager) needsSync() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.lastSyncTime) > m.syncInterval
}

func (m *NonceManager) forceSync() {
	m.mu.Lock()
	m.lastSyncTime = time.Time{}
	m.mu.Unlock()
}

// ChainNonce 每次直接读取链上 pending nonce，单进程低频发送时使用 (捐赠钱包)
type ChainNonce struct {
	chain  pendingNonceReader
	wallet common.Address
	mu     sync.Mutex
}

// NewChainNonce 创建链上 nonce 分配器
func NewChainNonce(chain pendingNonceReader, wallet common.Address) *ChainNonce {
	return &ChainNonce{chain: chain, wallet: wallet}
}

// AcquireNonce 持有进程锁直到 Confirm 或 Release
func (n *ChainNonce) AcquireNonce(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	nonce, err := n.chain.PendingNonceAt(ctx, n.wallet)
	if err != nil {
		n.mu.Unlock()
		return 0, err
	}
	return nonce, nil
}

func (n *ChainNonce) ConfirmNonce(ctx context.Context, nonce uint64, txHash string) error {
	n.mu.Unlock()
	return nil
}

func (n *ChainNonce) ReleaseNonce(ctx context.Context, nonce uint64) error {
	n.mu.Unlock()
	return nil
}

func (n *ChainNonce) HandleNonceTooLow(ctx context.Context) error {
	return nil
}
