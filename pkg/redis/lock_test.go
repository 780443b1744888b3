package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis 内存版 SET NX + 释放脚本
type fakeRedis struct {
	redis.Scripter
	values  map[string]string
	setErr  error
	evalled int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if f.setErr != nil {
		cmd.SetErr(f.setErr)
		return cmd
	}
	if _, exists := f.values[key]; exists {
		cmd.SetVal(false)
		return cmd
	}
	f.values[key] = value.(string)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	f.evalled++
	cmd := redis.NewCmd(ctx)
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		cmd.SetVal(int64(1))
		return cmd
	}
	cmd.SetVal(int64(0))
	return cmd
}

func TestLockExclusive(t *testing.T) {
	rdb := newFakeRedis()
	lock := NewLock(rdb, "mailpipeline:ingest", time.Minute)

	release, ok, err := lock.TryAcquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("first acquire = (%v, %v)", ok, err)
	}

	if _, ok, _ := lock.TryAcquire(context.Background()); ok {
		t.Fatal("second acquire should fail while held")
	}

	release()
	if rdb.evalled != 1 {
		t.Errorf("release script calls = %d", rdb.evalled)
	}

	if _, ok, _ := lock.TryAcquire(context.Background()); !ok {
		t.Fatal("acquire after release should succeed")
	}
}

func TestLockReleaseDoesNotStealForeignLock(t *testing.T) {
	rdb := newFakeRedis()
	lock := NewLock(rdb, "k", time.Minute)

	release, _, _ := lock.TryAcquire(context.Background())
	// TTL 过期后被其他实例重新持有
	rdb.values["k"] = "someone-else"
	release()

	if rdb.values["k"] != "someone-else" {
		t.Error("release removed a lock held by another owner")
	}
}

func TestLockAcquireError(t *testing.T) {
	rdb := newFakeRedis()
	rdb.setErr = errors.New("connection refused")

	_, ok, err := NewLock(rdb, "k", time.Minute).TryAcquire(context.Background())
	if ok || err == nil {
		t.Errorf("TryAcquire = (%v, %v), want error", ok, err)
	}
}
