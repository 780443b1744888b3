package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Cmdable Lock 用到的 redis 命令子集
type Cmdable interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Lock 基于 SET NX PX 的跨实例互斥锁，TTL 防止持有者崩溃后死锁
type Lock struct {
	rdb Cmdable
	key string
	ttl time.Duration
}

// NewLock 创建锁，ttl 应大于一次任务的最长耗时
func NewLock(rdb Cmdable, key string, ttl time.Duration) *Lock {
	return &Lock{rdb: rdb, key: key, ttl: ttl}
}

// TryAcquire 获取成功时返回 release 函数；已被占用返回 (nil, false, nil)
func (l *Lock) TryAcquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// 任务 ctx 可能已取消，释放用独立的短超时
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err()
	}
	return release, true, nil
}
