package lock

import (
	"context"
	"sync"
)

// LocalLocker 进程内按 key 互斥，仅适用于单实例部署
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// WithLock 在 key 的互斥区内执行 fn，等待期间响应 ctx 取消
func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	kl := l.ref(key)
	defer l.unref(key)

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-kl.ch }()

	return fn(ctx)
}

func (l *LocalLocker) ref(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *LocalLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl := l.locks[key]
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
