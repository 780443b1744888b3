package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailpipeline/internal/model"
	"mailpipeline/pkg/apperr"
)

func record(messageID string, uid uint32, processed bool) *model.EmailRecord {
	rec := &model.EmailRecord{
		MessageID:   messageID,
		IMAPMailbox: "INBOX",
		Labels:      []model.Label{model.LabelWork},
		Priority:    model.PriorityMedium,
	}
	if uid > 0 {
		rec.IMAPUID = &uid
	}
	if processed {
		now := time.Now()
		rec.ProcessedAt = &now
	}
	return rec
}

func TestMemoryRepositoryCreateAndFind(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	rec := record("<a@x>", 10, true)
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID != 1 {
		t.Errorf("ID = %d, want 1", rec.ID)
	}

	found, err := repo.FindByMailboxUID(ctx, "INBOX", 10)
	if err != nil || found.MessageID != "<a@x>" {
		t.Fatalf("FindByMailboxUID = (%v, %v)", found, err)
	}

	if _, err := repo.FindByMailboxUID(ctx, "INBOX", 11); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing uid err = %v", err)
	}
}

func TestMemoryRepositoryDuplicates(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_ = repo.Create(ctx, record("<a@x>", 10, true))

	tests := []struct {
		name string
		rec  *model.EmailRecord
	}{
		{"same message id", record("<a@x>", 99, true)},
		{"same mailbox uid", record("<b@x>", 10, true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.Create(ctx, tt.rec); !errors.Is(err, apperr.ErrDuplicateKey) {
				t.Errorf("err = %v, want ErrDuplicateKey", err)
			}
		})
	}
	if repo.Count() != 1 {
		t.Errorf("Count = %d", repo.Count())
	}
}

func TestMemoryRepositoryIsProcessed(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_ = repo.Create(ctx, record("<a@x>", 1, true))
	_ = repo.Create(ctx, record("<b@x>", 2, false))

	tests := []struct {
		uid  uint32
		want bool
	}{
		{1, true},
		{2, false},
		{3, false},
	}
	for _, tt := range tests {
		got, err := repo.IsProcessed(ctx, "INBOX", tt.uid)
		if err != nil || got != tt.want {
			t.Errorf("IsProcessed(%d) = (%v, %v), want %v", tt.uid, got, err, tt.want)
		}
	}
}
