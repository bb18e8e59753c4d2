// Package lock 提供按 key 互斥的临界区
//
// RedisLocker 面向多实例部署，LocalLocker 面向单实例 (内存账本) 部署，
// 二者都实现 Locker 接口。
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

var (
	// ErrLockNotHeld 锁未持有
	ErrLockNotHeld = errors.New("lock not held")
	// ErrLockAcquireFailed 获取锁失败
	ErrLockAcquireFailed = errors.New("failed to acquire lock")
)

// Locker 按 key 串行执行 fn
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// 只有持有者才能释放
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLocker Redis 分布式锁，持有期间由 watchdog 续期
//
// 锁只缩小并发窗口；真正的一致性由账本的条件更新保证，续期失败只记日志
type RedisLocker struct {
	client        redis.UniversalClient
	keyPrefix     string
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
}

// RedisLockerConfig 锁配置
type RedisLockerConfig struct {
	KeyPrefix     string
	Expiration    time.Duration
	RetryInterval time.Duration
	MaxRetries    int
}

// NewRedisLocker 创建 Redis 分布式锁
func NewRedisLocker(client redis.UniversalClient, cfg *RedisLockerConfig) *RedisLocker {
	l := &RedisLocker{
		client:        client,
		keyPrefix:     cfg.KeyPrefix,
		expiration:    cfg.Expiration,
		retryInterval: cfg.RetryInterval,
		maxRetries:    cfg.MaxRetries,
	}
	if l.expiration == 0 {
		l.expiration = 30 * time.Second
	}
	if l.retryInterval == 0 {
		l.retryInterval = 50 * time.Millisecond
	}
	if l.maxRetries == 0 {
		l.maxRetries = 100
	}
	return l
}

// lease 一次持有，value 用于校验持有者
type lease struct {
	client redis.UniversalClient
	key    string
	value  string
	ttl    time.Duration
}

func (l *RedisLocker) newLease(key string) *lease {
	return &lease{
		client: l.client,
		key:    l.keyPrefix + key,
		value:  uuid.New().String(),
		ttl:    l.expiration,
	}
}

func (ls *lease) tryAcquire(ctx context.Context) (bool, error) {
	ok, err := ls.client.SetNX(ctx, ls.key, ls.value, ls.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", ls.key, err)
	}
	return ok, nil
}

func (ls *lease) release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, ls.client, []string{ls.key}, ls.value).Int64()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", ls.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (ls *lease) extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, ls.client, []string{ls.key}, ls.value, ls.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", ls.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// WithLock 获取锁后执行 fn，锁被占用时按配置重试，重试耗尽返回 ErrLockAcquireFailed
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ls := l.newLease(key)

	acquired := false
	for i := 0; i < l.maxRetries && !acquired; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.retryInterval):
			}
		}
		ok, err := ls.tryAcquire(ctx)
		if err != nil {
			return err
		}
		acquired = ok
	}
	if !acquired {
		return ErrLockAcquireFailed
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.watchdog(ls, stop, done)

	defer func() {
		close(stop)
		<-done
		if err := ls.release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrLockNotHeld) {
			logger.Warn("release lock failed", zap.String("key", ls.key), zap.Error(err))
		}
	}()

	return fn(ctx)
}

// watchdog 每 ttl/3 续期一次，直到 stop 关闭或锁丢失
func (l *RedisLocker) watchdog(ls *lease, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(ls.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ls.ttl/3)
			err := ls.extend(ctx)
			cancel()
			if errors.Is(err, ErrLockNotHeld) {
				logger.Warn("lock lost while held", zap.String("key", ls.key))
				return
			}
			if err != nil {
				logger.Warn("extend lock failed", zap.String("key", ls.key), zap.Error(err))
			}
		}
	}
}
