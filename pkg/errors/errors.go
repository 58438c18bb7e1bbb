// Package errors 提供统一错误辅助，不依赖 internal；错误种类为闭集，API 层据此映射 HTTP 状态码
package errors

import (
	"errors"
	"fmt"
)

// Kind 错误种类（闭集，穷举处理）
type Kind int

const (
	KindUnknown        Kind = iota // 未预期异常 → 500
	KindValidation                 // 入参非法（坏 id、坏 JSON）→ 400
	KindGatingFailed               // compile 前置校验失败（结构化多条）→ 422
	KindNotFound                   // brand/run/snapshot 不存在 → 404
	KindConflict                   // 重复终态写入等冲突
	KindTransient                  // 上游 5xx、网络抖动，可重试
	KindTimeout                    // actor 轮询超时
	KindAdapterMissing             // actor-id 无归一化 adapter（或被 feature flag 关闭）
	KindPermanent                  // 重试次数耗尽
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindGatingFailed:
		return "gating_failed"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindAdapterMissing:
		return "adapter_missing"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error 携带 Kind 的错误；Unwrap 暴露底层 cause
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New 创建带 Kind 的错误
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf 带格式的 New
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WithKind 为已有错误附加 Kind；err 为 nil 时返回 nil
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf 返回错误的 Kind；非 *Error 链返回 KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is 判断错误链中是否有指定 Kind
func Is(err error, kind Kind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == kind {
			return true
		}
		err = e.Err
		if err == nil {
			break
		}
	}
	return false
}

// GatingError 单条 gating 失败项（code 稳定，供前端与测试断言）
type GatingError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GatingFailure 聚合多条 gating 失败；Kind 恒为 KindGatingFailed
type GatingFailure struct {
	Errors []GatingError
}

func (g *GatingFailure) Error() string {
	if len(g.Errors) == 0 {
		return "gating failed"
	}
	return "gating failed: " + g.Errors[0].Code
}

// AsGatingFailure 从错误链中提取 GatingFailure；无则返回 nil
func AsGatingFailure(err error) *GatingFailure {
	var g *GatingFailure
	if errors.As(err, &g) {
		return g
	}
	return nil
}

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
