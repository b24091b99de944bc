// Package payerr defines the error taxonomy shared by the ledger engines.
//
// Every failure returned by an engine operation carries a Code. Callers
// should match on codes with errors.Is against the exported sentinels:
//
//	if errors.Is(err, payerr.ErrDailyLimitExceeded) { ... }
package payerr

import (
	"errors"
	"fmt"
)

// Code classifies an operation failure.
type Code string

const (
	CodeDuplicateAgent        Code = "DUPLICATE_AGENT"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientAllowance Code = "INSUFFICIENT_ALLOWANCE"
	CodeDailyLimitExceeded    Code = "DAILY_LIMIT_EXCEEDED"
	CodeRuleNotSatisfied      Code = "RULE_NOT_SATISFIED"
	CodeRuleAlreadyExecuted   Code = "RULE_ALREADY_EXECUTED"
	CodeStreamNotActive       Code = "STREAM_NOT_ACTIVE"
	CodeEscrowNotActive       Code = "ESCROW_NOT_ACTIVE"
	CodeInvalidParameter      Code = "INVALID_PARAMETER"
	CodeNotFound              Code = "NOT_FOUND"
	CodeInternal              Code = "INTERNAL"
)

// Sentinels for errors.Is matching. They compare equal to any *Error with the same code.
var (
	ErrDuplicateAgent        = &Error{Code: CodeDuplicateAgent}
	ErrUnauthorized          = &Error{Code: CodeUnauthorized}
	ErrInsufficientBalance   = &Error{Code: CodeInsufficientBalance}
	ErrInsufficientAllowance = &Error{Code: CodeInsufficientAllowance}
	ErrDailyLimitExceeded    = &Error{Code: CodeDailyLimitExceeded}
	ErrRuleNotSatisfied      = &Error{Code: CodeRuleNotSatisfied}
	ErrRuleAlreadyExecuted   = &Error{Code: CodeRuleAlreadyExecuted}
	ErrStreamNotActive       = &Error{Code: CodeStreamNotActive}
	ErrEscrowNotActive       = &Error{Code: CodeEscrowNotActive}
	ErrInvalidParameter      = &Error{Code: CodeInvalidParameter}
	ErrNotFound              = &Error{Code: CodeNotFound}
)

// Error is a classified operation failure.
type Error struct {
	Code   Code
	Op     string
	Detail string
	Err    error
}

// New builds an Error for op with a formatted detail message.
func New(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the code from err, or CodeInternal for unclassified errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
