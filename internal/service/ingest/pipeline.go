package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"mailpipeline/internal/model"
	"mailpipeline/pkg/alert"
	"mailpipeline/pkg/apperr"
	"mailpipeline/pkg/config"
	"mailpipeline/pkg/logger"
	"mailpipeline/pkg/metrics"
	"mailpipeline/pkg/retry"
	"mailpipeline/pkg/trace"
	"mailpipeline/pkg/util"
)

// TruncationMarker 正文截断后追加的标记
const TruncationMarker = "\n[... truncated]"

const releaseTimeout = 10 * time.Second

// Config 单次 run 的参数
type Config struct {
	MaxPerRun          int
	BodyMaxChars       int
	DuplicateThreshold int
	ErrorRateThreshold float64

	LookupPolicy   retry.Policy
	ClassifyPolicy retry.Policy
	CreatePolicy   retry.Policy
	MarkSeenPolicy retry.Policy
}

// DefaultConfig 每次最多 100 封，正文 10000 字符，重复超过 10 封告警，错误率超过 0.5 告警
func DefaultConfig() Config {
	return Config{
		MaxPerRun:          100,
		BodyMaxChars:       10000,
		DuplicateThreshold: 10,
		ErrorRateThreshold: 0.5,
		LookupPolicy:       retry.DefaultPolicy().WithInitialDelay(500 * time.Millisecond),
		ClassifyPolicy:     retry.DefaultPolicy(),
		CreatePolicy:       retry.DefaultPolicy().WithInitialDelay(500 * time.Millisecond),
		MarkSeenPolicy:     retry.DefaultPolicy().WithMaxAttempts(2).WithInitialDelay(500 * time.Millisecond),
	}
}

// ConfigFrom 用配置文件中的非零值覆盖默认值
func ConfigFrom(ing config.IngestionConfig, al config.AlertsConfig) Config {
	cfg := DefaultConfig()
	if ing.MaxPerRun > 0 {
		cfg.MaxPerRun = ing.MaxPerRun
	}
	if ing.BodyMaxChars > 0 {
		cfg.BodyMaxChars = ing.BodyMaxChars
	}
	if al.DuplicateThreshold > 0 {
		cfg.DuplicateThreshold = al.DuplicateThreshold
	}
	if al.ErrorRateThreshold > 0 {
		cfg.ErrorRateThreshold = al.ErrorRateThreshold
	}
	return cfg
}

// Pipeline 拉取未读邮件 → 校验 → 分类 → 入库 → 标记已读
type Pipeline struct {
	mailbox    Mailbox
	classifier Classifier
	repo       Repository
	executor   *retry.Executor
	metrics    *metrics.Collector
	alerts     *alert.Dispatcher
	logger     *zap.Logger
	cfg        Config
	now        func() time.Time
}

func NewPipeline(
	mailbox Mailbox,
	classifier Classifier,
	repo Repository,
	executor *retry.Executor,
	m *metrics.Collector,
	alerts *alert.Dispatcher,
	logger *zap.Logger,
	cfg Config,
) *Pipeline {
	return &Pipeline{
		mailbox:    mailbox,
		classifier: classifier,
		repo:       repo,
		executor:   executor,
		metrics:    m,
		alerts:     alerts,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// run 内的可变状态
type runState struct {
	stats            model.RunStats
	duplicateAlerted bool
}

// Run 执行一次摄取
// 单封邮件的失败只计数，不会中断整个 run；只有连接和拉取失败才返回 error
func (p *Pipeline) Run(ctx context.Context) (stats model.RunStats, err error) {
	ctx, _ = trace.Ensure(ctx)
	log := logger.WithTrace(ctx, p.logger)
	start := p.now()
	mailbox := p.mailbox.Name()
	state := &runState{}

	if err := p.mailbox.Connect(ctx); err != nil {
		log.Error("Failed to connect to mailbox", zap.String("mailbox", mailbox), zap.Error(err))
		p.alerts.SendAlert(ctx, alert.IMAPConnectionFailed, alert.SeverityCritical,
			"Failed to connect to mailbox", map[string]any{
				"mailbox": mailbox,
				"error":   err.Error(),
			})
		return state.stats, fmt.Errorf("connect mailbox %s: %w", mailbox, err)
	}

	// 收尾顺序：释放连接，记录耗时，再判断错误率
	defer func() {
		p.release(ctx, log)
		state.stats.DurationMs = p.now().Sub(start).Milliseconds()
		p.metrics.RecordHistogram(metrics.IngestionDuration, float64(state.stats.DurationMs), nil)
		stats = state.stats
		p.checkErrorRate(ctx, stats)
	}()

	raws, err := p.mailbox.FetchUnseen(ctx)
	if err != nil {
		return state.stats, fmt.Errorf("fetch unseen from %s: %w", mailbox, err)
	}
	p.metrics.IncrementCounter(metrics.EmailsFetched, float64(len(raws)), nil)

	batch := raws
	backlog := 0
	if p.cfg.MaxPerRun > 0 && len(raws) > p.cfg.MaxPerRun {
		batch = raws[:p.cfg.MaxPerRun]
		backlog = len(raws) - p.cfg.MaxPerRun
		state.stats.Deferred = backlog
		p.metrics.IncrementCounter(metrics.EmailsDeferred, float64(backlog), nil)
		log.Warn("Too many unseen messages, deferring the rest to next run",
			zap.Int("fetched", len(raws)),
			zap.Int("processing", len(batch)),
			zap.Int("deferred", backlog),
		)
	}
	p.metrics.SetGauge(metrics.IngestionBacklog, float64(backlog), nil)

	for _, raw := range batch {
		p.processMessage(ctx, log, mailbox, raw, state)
	}

	stats = state.stats
	log.Info("Email ingestion cycle completed",
		zap.Int("processed", stats.Processed),
		zap.Int("failed", stats.Failed),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("skipped", stats.Skipped),
		zap.Int("deferred", stats.Deferred),
		zap.Int64("duration_ms", p.now().Sub(start).Milliseconds()),
	)

	return state.stats, nil
}

// checkErrorRate 失败占比超过阈值时发 critical 告警
func (p *Pipeline) checkErrorRate(ctx context.Context, stats model.RunStats) {
	attempted := stats.Attempted()
	if attempted == 0 {
		return
	}
	rate := float64(stats.Failed) / float64(attempted)
	if rate > p.cfg.ErrorRateThreshold {
		p.alerts.SendAlert(ctx, alert.HighErrorRate, alert.SeverityCritical,
			"High error rate during email ingestion", map[string]any{
				"failedCount":    stats.Failed,
				"totalAttempted": attempted,
				"errorRate":      rate,
			})
	}
}

// release 释放邮箱连接，错误只记录
func (p *Pipeline) release(ctx context.Context, log *zap.Logger) {
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := p.mailbox.End(endCtx); err != nil {
		p.metrics.IncrementCounter(metrics.ResourceReleaseErrors, 1, nil)
		log.Warn("Failed to release mailbox connection", zap.Error(err))
	}
}

func (p *Pipeline) processMessage(ctx context.Context, log *zap.Logger, mailbox string, raw model.RawMessage, state *runState) {
	msg, err := raw.ToMessage()
	if err != nil {
		log.Warn("Invalid email shape, skipping",
			zap.Uint32("uid", raw.UID),
			zap.String("message_id", raw.MessageID),
			zap.Error(err),
		)
		return
	}
	log = log.With(zap.String("message_id", msg.MessageID), zap.Uint32("uid", raw.UID))

	if raw.UID > 0 {
		processed, err := retry.Do(ctx, p.executor, p.cfg.LookupPolicy, func(ctx context.Context) (bool, error) {
			return p.repo.IsProcessed(ctx, mailbox, raw.UID)
		})
		if err != nil {
			p.fail(log, state, "lookup_error", err)
			return
		}
		if processed {
			state.stats.Skipped++
			p.metrics.IncrementCounter(metrics.EmailsSkipped, 1, map[string]string{"reason": "already_processed"})
			log.Debug("UID already processed, skipping")
			return
		}
	}

	classifyStart := p.now()
	result, err := retry.Do(ctx, p.executor, p.cfg.ClassifyPolicy, func(ctx context.Context) (model.ClassificationResult, error) {
		return p.classifier.Classify(ctx, msg)
	})
	p.metrics.RecordHistogram(metrics.ClassificationDuration, float64(p.now().Sub(classifyStart).Milliseconds()), nil)
	if err != nil {
		if util.IsTimeout(err) {
			p.fail(log, state, "classification_timeout", err)
			p.alerts.SendAlert(ctx, alert.ClassificationTimeout, alert.SeverityWarning,
				"Classification API timeout", map[string]any{"messageId": msg.MessageID})
			return
		}
		p.fail(log, state, "classification_error", err)
		return
	}

	processedAt := p.now()
	rec := &model.EmailRecord{
		MessageID:       msg.MessageID,
		From:            msg.From,
		To:              msg.To,
		Subject:         msg.Subject,
		Body:            TruncateBody(msg.Body, p.cfg.BodyMaxChars),
		Date:            msg.Date,
		Labels:          result.Labels,
		Priority:        result.Priority,
		SuggestedAction: result.SuggestedAction,
		IMAPMailbox:     mailbox,
		ProcessedAt:     &processedAt,
	}
	if raw.UID > 0 {
		uid := raw.UID
		rec.IMAPUID = &uid
	}

	dbStart := p.now()
	err = p.executor.Execute(ctx, p.cfg.CreatePolicy, func(ctx context.Context) error {
		return p.repo.Create(ctx, rec)
	})
	p.metrics.RecordHistogram(metrics.DBWriteDuration, float64(p.now().Sub(dbStart).Milliseconds()), nil)

	switch {
	case errors.Is(err, apperr.ErrDuplicateKey):
		state.stats.Duplicates++
		p.metrics.IncrementCounter(metrics.EmailsDuplicate, 1, nil)
		log.Warn("Duplicate message detected, skipping insert", zap.Error(err))
		if state.stats.Duplicates > p.cfg.DuplicateThreshold && !state.duplicateAlerted {
			state.duplicateAlerted = true
			p.alerts.SendAlert(ctx, alert.DuplicateThresholdExceeded, alert.SeverityWarning,
				"High number of duplicate emails detected", map[string]any{"count": state.stats.Duplicates})
		}
		p.markSeen(ctx, log, raw.UID)
	case err != nil:
		p.fail(log, state, "db_error", err)
	default:
		state.stats.Processed++
		p.metrics.IncrementCounter(metrics.EmailsProcessed, 1, nil)
		log.Info("Email classified and stored",
			zap.Any("labels", result.Labels),
			zap.String("priority", string(result.Priority)),
		)
		p.markSeen(ctx, log, raw.UID)
	}
}

func (p *Pipeline) fail(log *zap.Logger, state *runState, reason string, err error) {
	state.stats.Failed++
	p.metrics.IncrementCounter(metrics.EmailsFailed, 1, map[string]string{"reason": reason})
	_, errorType := util.IsRetryableError(err)
	log.Error("Failed to process email, skipping",
		zap.String("reason", reason),
		zap.String("error_type", errorType),
		zap.Error(err),
	)
}

// markSeen 失败不影响本次结果，消息会在下次 run 中被幂等检查跳过
func (p *Pipeline) markSeen(ctx context.Context, log *zap.Logger, uid uint32) {
	if uid == 0 {
		return
	}
	err := p.executor.Execute(ctx, p.cfg.MarkSeenPolicy, func(ctx context.Context) error {
		return p.mailbox.MarkSeen(ctx, uid)
	})
	if err != nil {
		p.metrics.IncrementCounter(metrics.MarkSeenFailures, 1, nil)
		log.Error("Failed to mark message as seen", zap.Error(err))
	}
}

// TruncateBody 超过 maxChars 个字符时截断并追加 TruncationMarker
func TruncateBody(body string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(body) <= maxChars {
		return body
	}
	runes := []rune(body)
	return string(runes[:maxChars]) + TruncationMarker
}
