package apperr

import (
	"errors"
	"fmt"
)

// ErrDuplicateKey 唯一约束冲突（message_id 已存在）
var ErrDuplicateKey = errors.New("duplicate key")

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// ValidationError 消息格式不合法，不重试、不计入失败
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// UpstreamError 上游服务返回非 2xx
type UpstreamError struct {
	Service    string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
}

// ClassifierError 分类器响应格式错误，终态，不重试
type ClassifierError struct {
	Reason string
	Err    error
}

func (e *ClassifierError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classifier: %s: %v", e.Reason, e.Err)
	}
	return "classifier: " + e.Reason
}

func (e *ClassifierError) Unwrap() error {
	return e.Err
}
