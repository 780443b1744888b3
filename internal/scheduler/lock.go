package scheduler

import (
	"context"
	"sync"
)

// RunLock 保证同一时刻只有一个 run
// 已被占用时返回 (nil, false, nil)；pkg/redis.Lock 也实现了该接口
type RunLock interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// LocalLock 进程内锁
type LocalLock struct {
	mu sync.Mutex
}

func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

func (l *LocalLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}
