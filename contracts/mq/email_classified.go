package mq

import "time"

// 路由键
const (
	RoutingKeyEmailClassified = "email.classified"
	RoutingKeyAlertRaised     = "alert.raised"
)

// EmailClassifiedPayload 邮件分类入库事件的 payload（通过 outbox 发布）
type EmailClassifiedPayload struct {
	EmailID         int64     `json:"email_id"`
	MessageID       string    `json:"message_id"`
	Mailbox         string    `json:"mailbox"`
	UID             *uint32   `json:"uid,omitempty"`
	Subject         string    `json:"subject"`
	From            string    `json:"from"`
	Labels          []string  `json:"labels"`
	Priority        string    `json:"priority"`
	SuggestedAction string    `json:"suggested_action"`
	ProcessedAt     time.Time `json:"processed_at"`
	TraceID         string    `json:"trace_id,omitempty"`
}
