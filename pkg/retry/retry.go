package retry

import (
	"context"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mailpipeline/pkg/metrics"
	"mailpipeline/pkg/util"
)

// Policy 重试策略
type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// Retryable 判断错误是否可重试，nil 时使用 util.IsRetryable
	Retryable func(error) bool
}

// DefaultPolicy 默认策略：3 次，1s 起步，最大 10s，倍数 2
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
		Retryable:         util.IsRetryable,
	}
}

// WithMaxAttempts 设置最大尝试次数
func (p Policy) WithMaxAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

// WithInitialDelay 设置首次退避时间
func (p Policy) WithInitialDelay(d time.Duration) Policy {
	p.InitialDelay = d
	return p
}

// Delay 第 attempt 次失败后的退避时间（attempt 从 1 开始）
// min(initialDelay * multiplier^(attempt-1), maxDelay)，无抖动
func (p Policy) Delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Executor 带指数退避的重试执行器
type Executor struct {
	metrics *metrics.Collector
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewExecutor 创建重试执行器
func NewExecutor(m *metrics.Collector, logger *zap.Logger) *Executor {
	return &Executor{
		metrics: m,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// Execute 执行 op，失败且可重试时按策略退避重试
// 最终失败时原样返回最后一次的错误，调用方可以用 errors.Is/As 判断类型
func (e *Executor) Execute(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, e, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do 泛型版本的 Execute，返回 op 的结果
func Do[T any](ctx context.Context, e *Executor, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = util.IsRetryable
	}

	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if attempt >= policy.MaxAttempts || !retryable(err) {
			return result, err
		}

		delay := policy.Delay(attempt)
		e.metrics.IncrementCounter(metrics.RetryAttempts, 1, map[string]string{
			"attempt": strconv.Itoa(attempt),
		})
		e.logger.Warn("Retrying after failure",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			// context 取消：不再重试，返回原始错误
			return result, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
