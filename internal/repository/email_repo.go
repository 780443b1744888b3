package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	mqcontracts "mailpipeline/contracts/mq"
	"mailpipeline/internal/model"
	"mailpipeline/pkg/apperr"
	"mailpipeline/pkg/outbox"
	"mailpipeline/pkg/trace"
)

const uniqueViolation = "23505"

// EmailRepository emails 表的 pgx 实现；入库与 outbox 事件在同一事务提交
type EmailRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
}

func NewEmailRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository) *EmailRepository {
	return &EmailRepository{db: db, outbox: outboxRepo}
}

// Create 插入邮件；message_id 或 (imap_mailbox, imap_uid) 冲突返回 apperr.ErrDuplicateKey
func (r *EmailRepository) Create(ctx context.Context, rec *model.EmailRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO emails (message_id, from_address, to_address, subject, body, sent_at,
		                    labels, priority, suggested_action, imap_mailbox, imap_uid, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, query,
		rec.MessageID,
		rec.From,
		rec.To,
		rec.Subject,
		rec.Body,
		rec.Date,
		labelsToStrings(rec.Labels),
		string(rec.Priority),
		string(rec.SuggestedAction),
		rec.IMAPMailbox,
		uidToInt64(rec.IMAPUID),
		rec.ProcessedAt,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", apperr.ErrDuplicateKey, pgErr.ConstraintName)
		}
		return fmt.Errorf("insert email: %w", err)
	}

	if r.outbox != nil {
		event, err := outbox.NewEvent("email", &rec.ID, mqcontracts.RoutingKeyEmailClassified, classifiedPayload(ctx, rec))
		if err != nil {
			return err
		}
		if err := r.outbox.InsertEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// IsProcessed 该 UID 是否已有 processed_at 不为空的记录
func (r *EmailRepository) IsProcessed(ctx context.Context, mailbox string, uid uint32) (bool, error) {
	var processed bool
	err := r.db.QueryRow(ctx, `
		SELECT processed_at IS NOT NULL
		FROM emails
		WHERE imap_mailbox = $1 AND imap_uid = $2
	`, mailbox, int64(uid)).Scan(&processed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup uid %d: %w", uid, err)
	}
	return processed, nil
}

// FindByMailboxUID 不存在时返回 apperr.ErrNotFound
func (r *EmailRepository) FindByMailboxUID(ctx context.Context, mailbox string, uid uint32) (*model.EmailRecord, error) {
	query := `
		SELECT id, message_id, from_address, to_address, subject, body, sent_at,
		       labels, priority, suggested_action, imap_mailbox, imap_uid, processed_at, created_at
		FROM emails
		WHERE imap_mailbox = $1 AND imap_uid = $2
	`
	var (
		rec      model.EmailRecord
		labels   []string
		priority string
		action   string
		imapUID  *int64
	)
	err := r.db.QueryRow(ctx, query, mailbox, int64(uid)).Scan(
		&rec.ID,
		&rec.MessageID,
		&rec.From,
		&rec.To,
		&rec.Subject,
		&rec.Body,
		&rec.Date,
		&labels,
		&priority,
		&action,
		&rec.IMAPMailbox,
		&imapUID,
		&rec.ProcessedAt,
		&rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find uid %d: %w", uid, err)
	}

	rec.Labels = stringsToLabels(labels)
	rec.Priority = model.Priority(priority)
	rec.SuggestedAction = model.Action(action)
	if imapUID != nil {
		u := uint32(*imapUID)
		rec.IMAPUID = &u
	}
	return &rec, nil
}

// Ping 用于 /readyz
func (r *EmailRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func classifiedPayload(ctx context.Context, rec *model.EmailRecord) mqcontracts.EmailClassifiedPayload {
	p := mqcontracts.EmailClassifiedPayload{
		EmailID:         rec.ID,
		MessageID:       rec.MessageID,
		Mailbox:         rec.IMAPMailbox,
		UID:             rec.IMAPUID,
		Subject:         rec.Subject,
		From:            rec.From,
		Labels:          labelsToStrings(rec.Labels),
		Priority:        string(rec.Priority),
		SuggestedAction: string(rec.SuggestedAction),
		TraceID:         trace.FromContext(ctx),
	}
	if rec.ProcessedAt != nil {
		p.ProcessedAt = *rec.ProcessedAt
	}
	return p
}

func labelsToStrings(labels []model.Label) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out
}

func stringsToLabels(ss []string) []model.Label {
	out := make([]model.Label, len(ss))
	for i, s := range ss {
		out[i] = model.Label(s)
	}
	return out
}

func uidToInt64(uid *uint32) *int64 {
	if uid == nil {
		return nil
	}
	v := int64(*uid)
	return &v
}
