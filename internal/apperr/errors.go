package apperr

import (
	"errors"
	"fmt"
)

// ValidationError 输入参数不合法，调用方可直接展示 Field/Reason
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientError 外部依赖的临时性错误（限流、超时、5xx），由调用方重试
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// InvariantViolation 数据不变量被破坏，例如重复写入唯一键
type InvariantViolation struct {
	Entity string
	Key    string
	Err    error
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated on %s %s: %v", e.Entity, e.Key, e.Err)
}

func (e *InvariantViolation) Unwrap() error {
	return e.Err
}

func Violation(entity, key string, err error) error {
	return &InvariantViolation{Entity: entity, Key: key, Err: err}
}

func IsInvariantViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}
