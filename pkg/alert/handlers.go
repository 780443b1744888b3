package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	mqcontracts "mailpipeline/contracts/mq"
)

// NewCriticalLogHandler 默认 handler：critical 告警单独打一条醒目日志
func NewCriticalLogHandler(logger *zap.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, a Alert) error {
		if a.Severity != SeverityCritical {
			return nil
		}
		logger.Error("CRITICAL ALERT",
			zap.String("alert", a.Name),
			zap.String("message", a.Message),
			zap.Any("metadata", a.Metadata),
			zap.Time("timestamp", a.Timestamp),
		)
		return nil
	})
}

// Publisher MQ 发布接口（由 pkg/mq.Publisher 实现）
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// MQHandler 将告警发布到 alert.raised
type MQHandler struct {
	publisher Publisher
}

func NewMQHandler(p Publisher) *MQHandler {
	return &MQHandler{publisher: p}
}

func (h *MQHandler) Handle(ctx context.Context, a Alert) error {
	payload := mqcontracts.AlertRaisedPayload{
		Name:      a.Name,
		Severity:  string(a.Severity),
		Message:   a.Message,
		Metadata:  a.Metadata,
		Timestamp: a.Timestamp,
	}
	if err := h.publisher.PublishWithContext(ctx, mqcontracts.RoutingKeyAlertRaised, payload); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// SentryHandler 将 warning 及以上告警上报 Sentry
type SentryHandler struct {
	hub *sentry.Hub
}

func NewSentryHandler(hub *sentry.Hub) *SentryHandler {
	return &SentryHandler{hub: hub}
}

func (h *SentryHandler) Handle(ctx context.Context, a Alert) error {
	if a.Severity == SeverityInfo {
		return nil
	}

	h.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("alert", a.Name)
		scope.SetLevel(sentryLevel(a.Severity))
		for k, v := range a.Metadata {
			scope.SetExtra(k, v)
		}
		h.hub.CaptureMessage(fmt.Sprintf("[%s] %s", a.Name, a.Message))
	})
	return nil
}

func sentryLevel(s Severity) sentry.Level {
	switch s {
	case SeverityCritical:
		return sentry.LevelError
	case SeverityWarning:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}

// MailSender gomail.Dialer 满足该接口
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailHandler critical 告警通过 SMTP 发给值班人员
type EmailHandler struct {
	sender MailSender
	from   string
	to     []string
}

func NewEmailHandler(sender MailSender, from string, to []string) *EmailHandler {
	return &EmailHandler{sender: sender, from: from, to: to}
}

func (h *EmailHandler) Handle(ctx context.Context, a Alert) error {
	if a.Severity != SeverityCritical || len(h.to) == 0 {
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", h.from)
	m.SetHeader("To", h.to...)
	m.SetHeader("Subject", fmt.Sprintf("[mailpipeline] %s", a.Name))
	m.SetBody("text/plain", formatAlertBody(a))

	// gomail 不支持 context，超时后放弃等待
	done := make(chan error, 1)
	go func() { done <- h.sender.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send alert email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send alert email: %w", ctx.Err())
	}
}

func formatAlertBody(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nseverity: %s\ntime: %s\n", a.Message, a.Severity, a.Timestamp.Format("2006-01-02 15:04:05 MST"))

	keys := make([]string, 0, len(a.Metadata))
	for k := range a.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, a.Metadata[k])
	}
	return b.String()
}
