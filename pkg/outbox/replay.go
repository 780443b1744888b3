package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReplayService 手动重放 failed 事件
type ReplayService struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
}

// NewReplayService 创建新的 ReplayService
func NewReplayService(store Store, publisher Publisher, logger *zap.Logger) *ReplayService {
	return &ReplayService{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// ListFailed 返回最近的 failed 事件
func (s *ReplayService) ListFailed(ctx context.Context, limit int) ([]*Event, error) {
	return s.store.GetFailedEvents(ctx, limit)
}

// ReplayEvent 立即重新发布指定事件；发布失败时重置为 pending 交给 Dispatcher
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	event, err := s.store.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}

	if err := publishEvent(ctx, s.publisher, event); err != nil {
		if resetErr := s.store.ResetEvent(ctx, eventID); resetErr != nil {
			return fmt.Errorf("replay event %d: %w (reset: %v)", eventID, err, resetErr)
		}
		return fmt.Errorf("replay event %d: %w", eventID, err)
	}

	if err := s.store.MarkAsSent(ctx, eventID); err != nil {
		return fmt.Errorf("failed to mark as sent: %w", err)
	}
	return nil
}

// ReplayFailedEvents 重放最多 limit 个 failed 事件，返回成功数量
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.store.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	replayed := 0
	for _, event := range events {
		if err := s.ReplayEvent(ctx, event.ID); err != nil {
			s.logger.Warn("Replay failed", zap.Int64("event_id", event.ID), zap.Error(err))
			continue
		}
		replayed++
	}
	return replayed, nil
}
