package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailpipeline/pkg/metrics"
)

// Severity 告警级别
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// 告警名称
const (
	HighErrorRate                = "high_error_rate"
	ClassificationTimeout        = "classification_timeout"
	DBConnectionFailed           = "db_connection_failed"
	IMAPConnectionFailed         = "imap_connection_failed"
	DuplicateThresholdExceeded   = "duplicate_threshold_exceeded"
	IngestionFailure             = "ingestion_failure"
	IngestionConsecutiveFailures = "ingestion_consecutive_failures"
)

const (
	defaultHistorySize    = 100
	defaultHandlerTimeout = 10 * time.Second
)

// Alert 一条告警记录
type Alert struct {
	Name      string         `json:"name"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler 告警处理器，返回的错误只记录日志
type Handler interface {
	Handle(ctx context.Context, a Alert) error
}

// HandlerFunc 函数适配为 Handler
type HandlerFunc func(ctx context.Context, a Alert) error

func (f HandlerFunc) Handle(ctx context.Context, a Alert) error {
	return f(ctx, a)
}

// Dispatcher 维护有界告警历史（最新在前）并依次通知所有 handler
type Dispatcher struct {
	mu       sync.RWMutex
	history  []Alert
	handlers []Handler

	historySize    int
	handlerTimeout time.Duration
	logger         *zap.Logger
	metrics        *metrics.Collector
	now            func() time.Time
}

// NewDispatcher 创建告警分发器
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		historySize:    defaultHistorySize,
		handlerTimeout: defaultHandlerTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

// WithHistorySize 设置历史容量
func (d *Dispatcher) WithHistorySize(n int) *Dispatcher {
	if n > 0 {
		d.historySize = n
	}
	return d
}

// WithHandlerTimeout 设置单个 handler 的超时
func (d *Dispatcher) WithHandlerTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.handlerTimeout = timeout
	}
	return d
}

// WithMetrics 每条告警计入 alerts_raised_total{name,severity}
func (d *Dispatcher) WithMetrics(m *metrics.Collector) *Dispatcher {
	d.metrics = m
	return d
}

// AddHandler 注册 handler，按注册顺序调用
func (d *Dispatcher) AddHandler(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// SendAlert 记录告警、写日志并通知所有 handler
// 单个 handler 失败或 panic 不影响其他 handler
func (d *Dispatcher) SendAlert(ctx context.Context, name string, severity Severity, message string, metadata map[string]any) Alert {
	a := Alert{
		Name:      name,
		Severity:  severity,
		Message:   message,
		Metadata:  metadata,
		Timestamp: d.now(),
	}

	d.mu.Lock()
	d.history = append([]Alert{a}, d.history...)
	if len(d.history) > d.historySize {
		d.history = d.history[:d.historySize]
	}
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.IncrementCounter(metrics.AlertsRaised, 1, map[string]string{
			"name":     name,
			"severity": string(severity),
		})
	}

	fields := []zap.Field{
		zap.String("alert", name),
		zap.String("severity", string(severity)),
		zap.Any("metadata", metadata),
	}
	switch severity {
	case SeverityCritical:
		d.logger.Error(message, fields...)
	case SeverityWarning:
		d.logger.Warn(message, fields...)
	default:
		d.logger.Info(message, fields...)
	}

	for _, h := range handlers {
		if err := d.invoke(ctx, h, a); err != nil {
			d.logger.Error("Alert handler failed",
				zap.String("alert", name),
				zap.Error(err),
			)
		}
	}
	return a
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, a Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("alert handler panic: %v", r)
		}
	}()

	hctx, cancel := context.WithTimeout(ctx, d.handlerTimeout)
	defer cancel()
	return h.Handle(hctx, a)
}

// GetRecentAlerts 返回最近 limit 条告警（最新在前），limit <= 0 返回全部
func (d *Dispatcher) GetRecentAlerts(limit int) []Alert {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := len(d.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Alert, n)
	copy(out, d.history[:n])
	return out
}

// ClearHistory 清空告警历史
func (d *Dispatcher) ClearHistory() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = nil
}
