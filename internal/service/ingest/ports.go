package ingest

import (
	"context"

	"mailpipeline/internal/model"
)

// Mailbox 邮箱连接，一次 run 内 Connect 与 End 成对出现
type Mailbox interface {
	Name() string
	Connect(ctx context.Context) error
	FetchUnseen(ctx context.Context) ([]model.RawMessage, error)
	// MarkSeen 需要幂等
	MarkSeen(ctx context.Context, uids ...uint32) error
	End(ctx context.Context) error
}

// Classifier 邮件分类
type Classifier interface {
	Classify(ctx context.Context, msg model.Message) (model.ClassificationResult, error)
}

// Repository 邮件存储，重复 message_id 或 (mailbox, uid) 返回 apperr.ErrDuplicateKey
type Repository interface {
	Create(ctx context.Context, rec *model.EmailRecord) error
	IsProcessed(ctx context.Context, mailbox string, uid uint32) (bool, error)
	// FindByMailboxUID 不存在时返回 apperr.ErrNotFound
	FindByMailboxUID(ctx context.Context, mailbox string, uid uint32) (*model.EmailRecord, error)
}
