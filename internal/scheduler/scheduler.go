package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailpipeline/internal/model"
	"mailpipeline/pkg/alert"
	"mailpipeline/pkg/config"
	"mailpipeline/pkg/metrics"
	"mailpipeline/pkg/trace"
)

// ErrRunInProgress 上一次 run 尚未结束
var ErrRunInProgress = errors.New("ingestion run already in progress")

const defaultInterval = 5 * time.Minute

// Runner 由 ingest.Pipeline 实现
type Runner interface {
	Run(ctx context.Context) (model.RunStats, error)
}

// Scheduler 按固定周期触发 Runner，并跟踪连续失败
type Scheduler struct {
	runner     Runner
	lock       RunLock
	circuit    *Circuit
	metrics    *metrics.Collector
	alerts     *alert.Dispatcher
	logger     *zap.Logger
	interval   time.Duration
	runOnStart bool

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	running  sync.WaitGroup
}

func New(runner Runner, lock RunLock, m *metrics.Collector, alerts *alert.Dispatcher, logger *zap.Logger) *Scheduler {
	if lock == nil {
		lock = NewLocalLock()
	}
	return &Scheduler{
		runner:   runner,
		lock:     lock,
		circuit:  NewCircuit(),
		metrics:  m,
		alerts:   alerts,
		logger:   logger,
		interval: defaultInterval,
	}
}

// WithConfig 应用 scheduler 配置，interval 为 0 时保留默认值
func (s *Scheduler) WithConfig(cfg config.SchedulerConfig) *Scheduler {
	if cfg.Interval > 0 {
		s.interval = cfg.Interval
	}
	s.runOnStart = cfg.RunOnStart
	return s
}

// WithInterval 设置触发周期
func (s *Scheduler) WithInterval(interval time.Duration) *Scheduler {
	s.interval = interval
	return s
}

// WithRunOnStart 启动时立即执行一次
func (s *Scheduler) WithRunOnStart(v bool) *Scheduler {
	s.runOnStart = v
	return s
}

// Start 启动定时器后立即返回
// 已在运行时先停止旧的定时器并重置失败计数
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.logger.Info("Restarting ingestion scheduler")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.loopDone = done
	s.circuit.Start()
	s.publishFailures()

	s.logger.Info("Starting ingestion scheduler",
		zap.Duration("interval", s.interval),
		zap.Bool("run_on_start", s.runOnStart),
	)
	go s.loop(loopCtx, done)
}

// Stop 停止定时器，可重复调用；进行中的 run 不会被取消
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.circuit.Stop()
	s.logger.Info("Ingestion scheduler stopped")
}

// Wait 等待进行中的 run 结束或 ctx 超时
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	loopDone := s.loopDone
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		// 定时循环退出后不会再有新的 run
		if loopDone != nil {
			<-loopDone
		}
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State 当前熔断状态
func (s *Scheduler) State() State {
	return s.circuit.State()
}

// ConsecutiveFailures 当前连续失败次数
func (s *Scheduler) ConsecutiveFailures() int {
	return s.circuit.Failures()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.runOnStart {
		s.trigger(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() == nil {
				s.trigger(ctx)
			}
		}
	}
}

// trigger 在独立 goroutine 中执行，重叠的触发由 RunLock 跳过
func (s *Scheduler) trigger(ctx context.Context) {
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		_, _ = s.RunOnce(ctx)
	}()
}

// RunOnce 加锁执行一次 run 并更新熔断状态
// run 使用脱离取消的 context，Stop 或 ctx 取消不会中断正在执行的 run
func (s *Scheduler) RunOnce(ctx context.Context) (model.RunStats, error) {
	runCtx, traceID := trace.Ensure(context.WithoutCancel(ctx))
	log := s.logger.With(zap.String(trace.TraceIDKey, traceID))

	release, ok, err := s.lock.TryAcquire(runCtx)
	if err != nil {
		s.metrics.IncrementCounter(metrics.IngestionRunsSkipped, 1, map[string]string{"reason": "lock_error"})
		// 锁不可用时 run 无法执行，同样计入熔断，持续故障会升级告警
		err = fmt.Errorf("acquire ingestion lock: %w", err)
		s.onFailure(runCtx, log, err)
		return model.RunStats{}, err
	}
	if !ok {
		s.metrics.IncrementCounter(metrics.IngestionRunsSkipped, 1, map[string]string{"reason": "in_progress"})
		log.Warn("Previous ingestion run still in progress, skipping")
		return model.RunStats{}, ErrRunInProgress
	}
	defer release()

	log.Info("Running scheduled email ingestion")
	stats, err := s.safeRun(runCtx)
	if err != nil {
		s.onFailure(runCtx, log, err)
		return stats, err
	}

	if prev := s.circuit.RecordSuccess(); prev > 0 {
		log.Info("Email ingestion recovered", zap.Int("previous_failures", prev))
	}
	s.publishFailures()
	log.Info("Email ingestion completed",
		zap.Int("processed", stats.Processed),
		zap.Int("failed", stats.Failed),
		zap.Int64("duration_ms", stats.DurationMs),
	)
	return stats, nil
}

// safeRun 把 run 中的 panic 转为错误
func (s *Scheduler) safeRun(ctx context.Context) (stats model.RunStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingestion run panicked: %v", r)
		}
	}()
	return s.runner.Run(ctx)
}

func (s *Scheduler) onFailure(ctx context.Context, log *zap.Logger, err error) {
	esc := s.circuit.RecordFailure()
	s.metrics.IncrementCounter(metrics.IngestionRunsFailed, 1, nil)
	s.publishFailures()

	log.Error("Error during email ingestion",
		zap.Int("consecutive_failures", esc.Failures),
		zap.String("state", s.circuit.State().String()),
		zap.Error(err),
	)

	message := "Email ingestion run failed"
	if esc.Severity == alert.SeverityCritical {
		message = fmt.Sprintf("Email ingestion failed %d times in a row", esc.Failures)
	}
	s.alerts.SendAlert(ctx, esc.Name, esc.Severity, message, map[string]any{
		"consecutiveFailures": esc.Failures,
		"error":               err.Error(),
	})
}

func (s *Scheduler) publishFailures() {
	s.metrics.SetGauge(metrics.ConsecutiveFailures, float64(s.circuit.Failures()), nil)
}
