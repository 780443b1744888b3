package model

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"mailpipeline/pkg/apperr"
)

// Label 邮件标签
type Label string

const (
	LabelWork       Label = "Work"
	LabelPersonal   Label = "Personal"
	LabelFinance    Label = "Finance"
	LabelUrgent     Label = "Urgent"
	LabelSpam       Label = "Spam"
	LabelPromotions Label = "Promotions"
	LabelSocial     Label = "Social"
)

// Priority 优先级
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Action 建议操作
type Action string

const (
	ActionReply   Action = "Reply"
	ActionRead    Action = "Read"
	ActionArchive Action = "Archive"
	ActionIgnore  Action = "Ignore"
)

// RawMessage 邮箱拉取到的原始邮件，UID 为 0 表示缺失
type RawMessage struct {
	UID       uint32
	SeqNum    uint32
	MessageID string
	From      string
	To        string
	Subject   string
	Body      string
	Date      time.Time
}

// Message 校验后的邮件，只在一次 run 内存在
type Message struct {
	MessageID       string    `validate:"required"`
	From            string    `validate:"-"`
	To              string    `validate:"-"`
	Subject         string    `validate:"-"`
	Body            string    `validate:"-"`
	Date            time.Time `validate:"required"`
	Labels          []Label   `validate:"omitempty,dive,oneof=Work Personal Finance Urgent Spam Promotions Social"`
	Priority        Priority  `validate:"omitempty,oneof=High Medium Low"`
	SuggestedAction Action    `validate:"omitempty,oneof=Reply Read Archive Ignore"`
}

// ClassificationResult 分类结果
type ClassificationResult struct {
	Labels          []Label  `json:"labels" validate:"required,min=1,dive,oneof=Work Personal Finance Urgent Spam Promotions Social"`
	Priority        Priority `json:"priority" validate:"required,oneof=High Medium Low"`
	SuggestedAction Action   `json:"suggestedAction" validate:"required,oneof=Reply Read Archive Ignore"`
}

// EmailRecord 入库后的邮件
type EmailRecord struct {
	ID              int64      `json:"id"`
	MessageID       string     `json:"message_id"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	Subject         string     `json:"subject"`
	Body            string     `json:"body"`
	Date            time.Time  `json:"date"`
	Labels          []Label    `json:"labels"`
	Priority        Priority   `json:"priority"`
	SuggestedAction Action     `json:"suggested_action"`
	IMAPMailbox     string     `json:"imap_mailbox"`
	IMAPUID         *uint32    `json:"imap_uid,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// RunStats 单次摄取统计，不持久化
type RunStats struct {
	Processed  int   `json:"processed"`
	Failed     int   `json:"failed"`
	Duplicates int   `json:"duplicates"`
	Skipped    int   `json:"skipped"`
	Deferred   int   `json:"deferred"`
	DurationMs int64 `json:"duration_ms"`
}

// Attempted 参与错误率计算的数量
func (s RunStats) Attempted() int {
	return s.Processed + s.Failed
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ToMessage 将原始邮件投影为 Message 并校验
func (r RawMessage) ToMessage() (Message, error) {
	m := Message{
		MessageID: strings.TrimSpace(r.MessageID),
		From:      r.From,
		To:        r.To,
		Subject:   r.Subject,
		Body:      r.Body,
		Date:      r.Date,
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate 校验 Message，失败返回 *apperr.ValidationError
func (m Message) Validate() error {
	return toValidationError(validate.Struct(m))
}

// Validate 校验分类结果结构
func (c ClassificationResult) Validate() error {
	return toValidationError(validate.Struct(c))
}

func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &apperr.ValidationError{Field: fe.Namespace(), Reason: fe.Tag()}
	}
	return &apperr.ValidationError{Field: "", Reason: err.Error()}
}
