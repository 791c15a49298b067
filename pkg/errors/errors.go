package errors

import (
	"errors"
	"strings"
	"time"

	"github.com/haierkeys/fast-pass-sync/pkg/code"
)

// AppError 统一应用错误结构体
// Carries an error code, message, optional details (the payload: share, item,
// rotation ...), the original cause and the time the error happened.
type AppError struct {
	// Code 错误码
	Code int `json:"code"`
	// Message 错误消息
	Message string `json:"message"`
	// Details 错误详情（可选）
	Details []string `json:"details,omitempty"`
	// Cause 原始错误（不序列化到JSON）
	Cause error `json:"-"`
	// Timestamp 错误发生时间
	Timestamp time.Time `json:"timestamp"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Details, " "))
		b.WriteString("]")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap 实现 errors.Unwrap 接口，支持错误链路追踪
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches a *code.Code with the same number, so errors.Is(err, code.ErrorX) works
// through any wrapping.
func (e *AppError) Is(target error) bool {
	if c, ok := target.(*code.Code); ok {
		return c.Code() == e.Code
	}
	return false
}

// New 从 Code 对象创建 AppError
func New(c *code.Code, cause error) *AppError {
	return &AppError{
		Code:      c.Code(),
		Message:   c.Msg(),
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// WithDetails 设置详情并返回自身（链式调用）
func (e *AppError) WithDetails(details ...string) *AppError {
	e.Details = details
	return e
}

// Is reports whether any error in err's chain carries code c.
func Is(err error, c *code.Code) bool {
	return errors.Is(err, c)
}

// GetAppError 从错误链中获取 AppError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
