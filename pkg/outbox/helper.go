package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"mailpipeline/pkg/trace"
)

// NewEvent 构造 pending 事件，payload 序列化为 JSON
func NewEvent(aggregateType string, aggregateID *int64, routingKey string, payload any) (*Event, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	return &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       payloadJSON,
		Status:        StatusPending,
	}, nil
}

// contextFromPayload 从 payload 的 trace_id 字段恢复 trace 上下文
func contextFromPayload(ctx context.Context, payload json.RawMessage) context.Context {
	var envelope struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.TraceID == "" {
		return ctx
	}
	return trace.WithContext(ctx, envelope.TraceID)
}
