package intake

import (
	"context"
	"errors"
	"fmt"
	"log"
)

const (
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeInvalidTemplate  = "INVALID_TEMPLATE"
	CodePasscodeMismatch = "PASSCODE_MISMATCH"
	CodeNoMatch          = "NO_MATCH"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeAlreadyClaimed   = "ALREADY_CLAIMED"
	CodeNotFound         = "NOT_FOUND"
)

// Error is the failure type every intake operation returns. Two errors are
// equal under errors.Is when their codes match, so callers compare against
// the sentinels below.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrStoreUnavailable = &Error{Code: CodeStoreUnavailable, Message: "store unavailable"}
	ErrInvalidTemplate  = &Error{Code: CodeInvalidTemplate, Message: "template not found"}
	ErrPasscodeMismatch = &Error{Code: CodePasscodeMismatch, Message: "incorrect passcode"}
	ErrNoMatch          = &Error{Code: CodeNoMatch, Message: "no open session matches that name"}
	ErrInvalidInput     = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrAlreadyClaimed   = &Error{Code: CodeAlreadyClaimed, Message: "clinic already claimed"}
	ErrNotFound         = &Error{Code: CodeNotFound, Message: "not found"}
)

func invalidInput(format string, args ...any) error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// storeUnavailable wraps a store failure and logs it as a warning. Context
// cancellation is the caller's decision, not an outage, and passes through.
func storeUnavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	log.Printf("intake: %s failed: %v", op, err)
	return &Error{Code: CodeStoreUnavailable, Message: op + " failed", Err: err}
}
