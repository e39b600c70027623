package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/retry"
)

// ErrorKind 错误类别
type ErrorKind int

const (
	// KindTransient 瞬时错误，可以重试
	KindTransient ErrorKind = iota
	// KindPermanent 永久错误，重试无意义
	KindPermanent
)

func (k ErrorKind) String() string {
	if k == KindTransient {
		return "transient"
	}
	return "permanent"
}

// 错误代码
const (
	CodeRateLimit   = "rate_limit"
	CodeTimeout     = "timeout"
	CodeServerError = "server_error"
	CodeNetwork     = "network"
	CodeAuth        = "auth"
	CodeBadRequest  = "bad_request"
	CodeEmpty       = "empty_response"
	CodeUnknown     = "unknown"
)

// BackendError 翻译后端错误
type BackendError struct {
	Kind       ErrorKind
	Code       string
	StatusCode int

	// RetryAfter 服务端要求的等待时间，0 表示未指定
	RetryAfter time.Duration

	Message string
	Cause   error
}

func (e *BackendError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil && (e.Message == "" || !strings.Contains(e.Message, e.Cause.Error())) {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// IsRetryable 判断错误是否可重试
func (e *BackendError) IsRetryable() bool {
	return e.Kind == KindTransient
}

// NewError 创建后端错误
func NewError(kind ErrorKind, code, message string, cause error) *BackendError {
	return &BackendError{Kind: kind, Code: code, Message: message, Cause: cause}
}

// FromStatus 按 HTTP 状态码创建后端错误：429 和 5xx 为瞬时错误，其余 4xx 为永久错误
func FromStatus(status int, retryAfter time.Duration, message string, cause error) *BackendError {
	e := &BackendError{StatusCode: status, RetryAfter: retryAfter, Message: message, Cause: cause}
	switch {
	case status == http.StatusTooManyRequests:
		e.Kind, e.Code = KindTransient, CodeRateLimit
	case status == http.StatusRequestTimeout:
		e.Kind, e.Code = KindTransient, CodeTimeout
	case status >= 500:
		e.Kind, e.Code = KindTransient, CodeServerError
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind, e.Code = KindPermanent, CodeAuth
	case status >= 400:
		e.Kind, e.Code = KindPermanent, CodeBadRequest
	default:
		e.Kind, e.Code = KindPermanent, CodeUnknown
	}
	return e
}

// Classify 将任意错误归类为 *BackendError，取消视为永久错误
func Classify(err error) *BackendError {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTransient, CodeTimeout, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewError(KindPermanent, CodeUnknown, "request canceled", err)
	}
	if retry.IsNetworkError(err) {
		return NewError(KindTransient, CodeNetwork, "network error", err)
	}
	// 未知错误按瞬时错误处理，由最大尝试次数兜底
	return NewError(KindTransient, CodeUnknown, "", err)
}

// IsTransient 判断错误是否为瞬时错误
func IsTransient(err error) bool {
	be := Classify(err)
	return be != nil && be.Kind == KindTransient
}

// IsRateLimit 判断是否为限流错误
func IsRateLimit(err error) bool {
	be := Classify(err)
	return be != nil && be.Code == CodeRateLimit
}

// ParseRetryAfter 解析 Retry-After 头部，支持秒数和 HTTP 日期
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
