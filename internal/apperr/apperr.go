// Package apperr 定义编排层对外暴露的错误分类。
// 每类错误代表不同的处理方式：输入错误、前置产物缺失、外部进程失败、尚无产物。
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidIdentifier Kind = "invalid_identifier"
	KindInvalidArgument   Kind = "invalid_argument"
	KindPrecursorMissing  Kind = "precursor_missing"
	KindLabelingFailed    Kind = "labeling_failed"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindUnavailable       Kind = "unavailable"
	KindInternal          Kind = "internal"
)

// 用于 errors.Is 按类别匹配
var (
	ErrInvalidIdentifier = &Error{Kind: KindInvalidIdentifier}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	ErrPrecursorMissing  = &Error{Kind: KindPrecursorMissing}
	ErrLabelingFailed    = &Error{Kind: KindLabelingFailed}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrUnavailable       = &Error{Kind: KindUnavailable}
)

type Error struct {
	Kind    Kind
	Message string
	// 外部进程的诊断输出（已 trim），优先展示给调用方
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 只比较类别
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf 返回错误携带的诊断详情；没有 stderr 时退回到 cause 的文本
func DetailOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	if e.Detail == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Detail
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InvalidIdentifier(format string, args ...any) *Error {
	return newf(KindInvalidIdentifier, format, args...)
}

func InvalidArgument(format string, args ...any) *Error {
	return newf(KindInvalidArgument, format, args...)
}

func PrecursorMissing(format string, args ...any) *Error {
	return newf(KindPrecursorMissing, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newf(KindConflict, format, args...)
}

func Unavailable(format string, args ...any) *Error {
	return newf(KindUnavailable, format, args...)
}

// LabelingFailed detail 为外部进程 stderr（可为空），cause 为启动/等待错误
func LabelingFailed(message, detail string, cause error) *Error {
	return &Error{Kind: KindLabelingFailed, Message: message, Detail: detail, Cause: cause}
}
