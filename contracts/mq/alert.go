package mq

import "time"

// AlertRaisedPayload 告警事件的 payload
type AlertRaisedPayload struct {
	Name      string         `json:"name"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
