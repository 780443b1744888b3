package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 指标名称
const (
	EmailsFetched          = "emails_fetched_total"
	EmailsProcessed        = "emails_processed_total"
	EmailsFailed           = "emails_failed_total"
	EmailsDuplicate        = "emails_duplicate_total"
	EmailsSkipped          = "emails_skipped_total"
	EmailsDeferred         = "emails_deferred_total"
	MarkSeenFailures       = "mark_seen_failures_total"
	ResourceReleaseErrors  = "resource_release_errors_total"
	ClassificationDuration = "classification_duration_ms"
	DBWriteDuration        = "db_write_duration_ms"
	IngestionDuration      = "ingestion_duration_ms"
	IngestionBacklog       = "ingestion_backlog"
	IngestionRunsFailed    = "ingestion_runs_failed_total"
	IngestionRunsSkipped   = "ingestion_runs_skipped_total"
	ConsecutiveFailures    = "ingestion_consecutive_failures"
	ActiveConnections      = "active_connections"
	RetryAttempts          = "retry_attempts_total"
	SlowQueries            = "db_slow_queries_total"
	OutboxPublished        = "outbox_events_published_total"
	OutboxPublishFailures  = "outbox_publish_failures_total"
	AlertsRaised           = "alerts_raised_total"
)

// HistogramValue 直方图聚合值（平均值在读取时计算）
type HistogramValue struct {
	Count       int64     `json:"count"`
	Sum         float64   `json:"sum"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	LastUpdated time.Time `json:"last_updated"`
}

// HistogramSnapshot 快照中的直方图，附带 avg
type HistogramSnapshot struct {
	HistogramValue
	Avg float64 `json:"avg"`
}

// Snapshot GetAllMetrics 的返回值
type Snapshot struct {
	Counters   map[string]float64           `json:"counters"`
	Gauges     map[string]float64           `json:"gauges"`
	Histograms map[string]HistogramSnapshot `json:"histograms"`
}

type series struct {
	name   string
	labels map[string]string
}

// Collector 进程级指标聚合器
// 在 main 中创建一次，只能通过 Reset 清空
type Collector struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string]*HistogramValue
	series     map[string]series
	now        func() time.Time
}

// NewCollector 创建指标聚合器
func NewCollector() *Collector {
	return &Collector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*HistogramValue),
		series:     make(map[string]series),
		now:        time.Now,
	}
}

// IncrementCounter 计数器累加
func (c *Collector) IncrementCounter(name string, value float64, labels map[string]string) {
	key := BuildKey(name, labels)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.remember(key, name, labels)
	c.counters[key] += value
}

// SetGauge 设置仪表值（后写覆盖）
func (c *Collector) SetGauge(name string, value float64, labels map[string]string) {
	key := BuildKey(name, labels)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.remember(key, name, labels)
	c.gauges[key] = value
}

// RecordHistogram 记录一次观测值
func (c *Collector) RecordHistogram(name string, value float64, labels map[string]string) {
	key := BuildKey(name, labels)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.remember(key, name, labels)

	h, ok := c.histograms[key]
	if !ok {
		c.histograms[key] = &HistogramValue{
			Count:       1,
			Sum:         value,
			Min:         value,
			Max:         value,
			LastUpdated: c.now(),
		}
		return
	}
	h.Count++
	h.Sum += value
	h.Min = math.Min(h.Min, value)
	h.Max = math.Max(h.Max, value)
	h.LastUpdated = c.now()
}

// GetCounter 不存在时返回 0
func (c *Collector) GetCounter(name string, labels map[string]string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[BuildKey(name, labels)]
}

// GetGauge 不存在时 ok 为 false
func (c *Collector) GetGauge(name string, labels map[string]string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.gauges[BuildKey(name, labels)]
	return v, ok
}

// GetHistogram 返回直方图副本
func (c *Collector) GetHistogram(name string, labels map[string]string) (HistogramValue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.histograms[BuildKey(name, labels)]
	if !ok {
		return HistogramValue{}, false
	}
	return *h, true
}

// GetAllMetrics 返回当前所有指标的只读快照
func (c *Collector) GetAllMetrics() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Counters:   make(map[string]float64, len(c.counters)),
		Gauges:     make(map[string]float64, len(c.gauges)),
		Histograms: make(map[string]HistogramSnapshot, len(c.histograms)),
	}
	for k, v := range c.counters {
		snap.Counters[k] = v
	}
	for k, v := range c.gauges {
		snap.Gauges[k] = v
	}
	for k, h := range c.histograms {
		snap.Histograms[k] = HistogramSnapshot{
			HistogramValue: *h,
			Avg:            h.Sum / float64(h.Count),
		}
	}
	return snap
}

// LogMetrics 输出指标快照到日志
func (c *Collector) LogMetrics(logger *zap.Logger) {
	logger.Info("Current metrics snapshot", zap.Any("metrics", c.GetAllMetrics()))
}

// Reset 一次性清空所有指标
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[string]float64)
	c.gauges = make(map[string]float64)
	c.histograms = make(map[string]*HistogramValue)
	c.series = make(map[string]series)
}

func (c *Collector) remember(key, name string, labels map[string]string) {
	if _, ok := c.series[key]; ok {
		return
	}
	copied := make(map[string]string, len(labels))
	for k, v := range labels {
		copied[k] = v
	}
	c.series[key] = series{name: name, labels: copied}
}

// BuildKey 生成规范化的指标 key：name{a="1",b="2"}
// label 按 key 排序，插入顺序不影响结果
func BuildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(labels[k])
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
