package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mailpipeline/internal/model"
	"mailpipeline/pkg/apperr"
)

type uidKey struct {
	mailbox string
	uid     uint32
}

// MemoryRepository 未配置数据库时使用，约束与 emails 表一致
type MemoryRepository struct {
	mu        sync.RWMutex
	nextID    int64
	byMessage map[string]*model.EmailRecord
	byUID     map[uidKey]*model.EmailRecord
	now       func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byMessage: make(map[string]*model.EmailRecord),
		byUID:     make(map[uidKey]*model.EmailRecord),
		now:       time.Now,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, rec *model.EmailRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byMessage[rec.MessageID]; ok {
		return fmt.Errorf("%w: emails_message_id_key", apperr.ErrDuplicateKey)
	}
	if rec.IMAPUID != nil {
		if _, ok := r.byUID[uidKey{rec.IMAPMailbox, *rec.IMAPUID}]; ok {
			return fmt.Errorf("%w: emails_imap_unique", apperr.ErrDuplicateKey)
		}
	}

	r.nextID++
	rec.ID = r.nextID
	rec.CreatedAt = r.now()

	stored := *rec
	stored.Labels = append([]model.Label(nil), rec.Labels...)
	r.byMessage[rec.MessageID] = &stored
	if rec.IMAPUID != nil {
		r.byUID[uidKey{rec.IMAPMailbox, *rec.IMAPUID}] = &stored
	}
	return nil
}

func (r *MemoryRepository) IsProcessed(ctx context.Context, mailbox string, uid uint32) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byUID[uidKey{mailbox, uid}]
	return ok && rec.ProcessedAt != nil, nil
}

func (r *MemoryRepository) FindByMailboxUID(ctx context.Context, mailbox string, uid uint32) (*model.EmailRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byUID[uidKey{mailbox, uid}]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

// Count 当前记录数
func (r *MemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byMessage)
}
