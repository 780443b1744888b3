package db

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"mailpipeline/pkg/metrics"
)

type queryStartKey struct{}

type queryStart struct {
	at  time.Time
	sql string
}

// SlowQueryTracer 实现 pgx.QueryTracer，超过阈值的查询记录警告日志和计数
type SlowQueryTracer struct {
	logger        *zap.Logger
	metrics       *metrics.Collector
	slowThreshold time.Duration
	now           func() time.Time
}

// NewSlowQueryTracer 阈值为 0 时默认 100ms
func NewSlowQueryTracer(logger *zap.Logger, m *metrics.Collector, slowThreshold time.Duration) *SlowQueryTracer {
	if slowThreshold == 0 {
		slowThreshold = 100 * time.Millisecond
	}
	return &SlowQueryTracer{
		logger:        logger,
		metrics:       m,
		slowThreshold: slowThreshold,
		now:           time.Now,
	}
}

func (t *SlowQueryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: t.now(), sql: data.SQL})
}

func (t *SlowQueryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}

	took := t.now().Sub(start.at)
	if took <= t.slowThreshold {
		return
	}

	sql := compactSQL(start.sql)
	t.logger.Warn("slow-query",
		zap.String("sql", sql),
		zap.Duration("took", took),
		zap.String("command_tag", data.CommandTag.String()),
		zap.Error(data.Err),
	)
	t.metrics.IncrementCounter(metrics.SlowQueries, 1, map[string]string{"statement": statementKind(sql)})
}

// compactSQL 折叠空白并截断到 200 字符
func compactSQL(sql string) string {
	sql = strings.Join(strings.Fields(sql), " ")
	if len(sql) > 200 {
		sql = sql[:200] + "..."
	}
	if sql == "" {
		return "unknown"
	}
	return sql
}

// statementKind 取首个关键字作为 label，避免 SQL 全文进入指标维度
func statementKind(sql string) string {
	kind, _, _ := strings.Cut(sql, " ")
	return strings.ToLower(kind)
}
