package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind int

const (
	KindAuth       Kind = iota // 登录 / 登出失败
	KindStore                  // 远端存储操作失败
	KindValidation             // 本地校验失败，未发起远端调用
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindStore:
		return "store"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Auth wraps err as an authentication failure.
func Auth(op string, err error) *Error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

// Store wraps err as a remote store failure.
func Store(op string, err error) *Error {
	return &Error{Kind: KindStore, Op: op, Err: err}
}

// Validation reports a precondition failure caught before any remote call.
func Validation(op string, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: errors.New(msg)}
}

func is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func IsAuth(err error) bool       { return is(err, KindAuth) }
func IsStore(err error) bool      { return is(err, KindStore) }
func IsValidation(err error) bool { return is(err, KindValidation) }
