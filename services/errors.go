package services

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable, client-visible code for a pipeline failure.
type ErrorCode string

const (
	CodeQuestionNotFound    ErrorCode = "QUESTION_NOT_FOUND"
	CodeQuestionNotActive   ErrorCode = "QUESTION_NOT_ACTIVE"
	CodeFileRequired        ErrorCode = "FILE_REQUIRED"
	CodeLearnerNotFound     ErrorCode = "LEARNER_NOT_FOUND"
	CodeDailyLimitReached   ErrorCode = "DAILY_PRACTICE_LIMIT_REACHED"
	CodeServiceUnavailable  ErrorCode = "EXTERNAL_SERVICE_UNAVAILABLE"
	CodeOperationFailed     ErrorCode = "OPERATION_FAILED"
)

// Error is a typed pipeline failure. Required-step failures bubble up as one
// of these; handlers map the code to an HTTP status.
type Error struct {
	Code    ErrorCode
	Message string

	// RetryAfterHours is set only for DAILY_PRACTICE_LIMIT_REACHED.
	RetryAfterHours int

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a typed failure with a stable code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError attaches a cause to a typed failure.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// AsError extracts a typed pipeline failure from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ErrBackdatedPractice is returned by the streak machine when the practice
// date is before the recorded last practice date (clock skew or a backdated
// event). Counters are left untouched; the orchestrator treats it like any
// other non-fatal streak failure.
var ErrBackdatedPractice = errors.New("practice date precedes last recorded practice date")
