package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"mailpipeline/pkg/apperr"
)

// 可重试的 PostgreSQL SQLSTATE（连接异常、序列化冲突、死锁、资源不足、管理员关闭）
var transientPgCodes = map[string]bool{
	"08000": true,
	"08001": true,
	"08003": true,
	"08004": true,
	"08006": true,
	"40001": true,
	"40P01": true,
	"53300": true,
	"57P01": true,
	"57P02": true,
	"57P03": true,
}

// IsRetryableError determines if an error is retryable
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	// 格式错误 - 不可重试
	var validationErr *apperr.ValidationError
	if errors.As(err, &validationErr) {
		return false, "validation_error"
	}
	var classifierErr *apperr.ClassifierError
	if errors.As(err, &classifierErr) {
		return false, "classifier_error"
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	// 唯一约束冲突 - 不可重试（幂等性）
	if errors.Is(err, apperr.ErrDuplicateKey) {
		return false, "duplicate_key"
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return false, "not_found"
	}

	// Database errors
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return false, "duplicate_key"
		}
		if transientPgCodes[pgErr.Code] {
			return true, "transient_storage"
		}
		return false, "storage_error"
	}
	if pgconn.SafeToRetry(err) {
		return true, "transient_storage"
	}

	// 上游 5xx - 可重试
	var upstreamErr *apperr.UpstreamError
	if errors.As(err, &upstreamErr) {
		if upstreamErr.StatusCode >= 500 {
			return true, "upstream_5xx"
		}
		return false, "upstream_error"
	}

	// Network errors - 可重试
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true, "network_error"
	}
	if errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true, "dns_error"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true, "network_timeout"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}

// IsRetryable 供 retry.Policy 使用
func IsRetryable(err error) bool {
	ok, _ := IsRetryableError(err)
	return ok
}

// IsTimeout 判断是否超时（用于告警路由）
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
