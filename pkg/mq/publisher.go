package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"mailpipeline/pkg/trace"
)

// Publisher 向 events exchange 发布 JSON 消息，每条消息等待 broker confirm
// amqp channel 不是并发安全的，Publish 之间用锁串行
type Publisher struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := openConfirmChannel(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Publisher{
		conn:    conn,
		channel: ch,
	}, nil
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsConnected 连接是否仍然可用（用于 /readyz）
func (p *Publisher) IsConnected() bool {
	if p.conn == nil || p.channel == nil {
		return false
	}
	return !p.conn.IsClosed() && !p.channel.IsClosed()
}

// PublishWithContext 发布事件，context 中的 trace_id 写入消息 header
func (p *Publisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}
	if traceID := trace.FromContext(ctx); traceID != "" {
		msg.Headers = amqp091.Table{trace.TraceIDKey: traceID}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, ExchangeName, routingKey, false, false, msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish %s: waiting for confirm: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: nacked by broker", routingKey)
	}
	return nil
}
