package errors

import (
	"errors"
	"fmt"
)

// Code classifies an expected, recoverable outcome so callers can branch on
// meaning instead of matching error strings.
type Code string

const (
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeNotFound         Code = "NOT_FOUND"
	CodeCapacityExceeded Code = "CAPACITY_EXCEEDED"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeInternal         Code = "INTERNAL"
)

// BotError is a tagged error carrying a code and optional details.
type BotError struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *BotError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates an error for malformed user input.
func NewInvalidRequest(msg string) *BotError {
	return &BotError{Code: CodeInvalidRequest, Message: msg}
}

// NewNotFound creates an error for a missing note or reminder.
func NewNotFound(what string, id int64) *BotError {
	return &BotError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %d not found", what, id),
		Details: map[string]any{"id": id},
	}
}

// NewCapacityExceeded creates an error for a per-user quota rejection.
func NewCapacityExceeded(limit int) *BotError {
	return &BotError{
		Code:    CodeCapacityExceeded,
		Message: fmt.Sprintf("reminder limit reached (max %d active reminders)", limit),
		Details: map[string]any{"limit": limit},
	}
}

// NewRateLimited creates an error carrying the retry-after hint in seconds.
func NewRateLimited(retryAfter float64) *BotError {
	return &BotError{
		Code:    CodeRateLimited,
		Message: fmt.Sprintf("rate limited, retry in %.1fs", retryAfter),
		Details: map[string]any{"retry_after": retryAfter},
	}
}

// NewForbidden creates an error for a blocked user or disallowed chat.
func NewForbidden(msg string) *BotError {
	return &BotError{Code: CodeForbidden, Message: msg}
}

// NewInternal wraps an unexpected infrastructure failure.
func NewInternal(err error) *BotError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &BotError{Code: CodeInternal, Message: msg}
}

// Is reports whether err is, or wraps, a BotError with the given code.
func Is(err error, code Code) bool {
	var bErr *BotError
	if errors.As(err, &bErr) {
		return bErr.Code == code
	}
	return false
}

// RetryAfter extracts the retry-after hint from a rate-limited error, 0 otherwise.
func RetryAfter(err error) float64 {
	var bErr *BotError
	if !errors.As(err, &bErr) || bErr.Code != CodeRateLimited {
		return 0
	}
	if v, ok := bErr.Details["retry_after"].(float64); ok {
		return v
	}
	return 0
}
