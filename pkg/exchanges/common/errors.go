package common

import (
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateIntent marks an intent that is already reserved. It is an
// idempotency signal, not a failure.
var ErrDuplicateIntent = errors.New("duplicate intent")

// UnauthorizedError is returned when the venue rejects credentials (401/403).
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string {
	return "venue unauthorized: " + e.Message
}

// RateLimitError is returned on HTTP 429.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("venue rate limited (retry after %s): %s", e.RetryAfter, e.Message)
}

// TransientError is a retryable venue failure (5xx, timeouts).
type TransientError struct {
	StatusCode int
	Message    string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("venue transient error %d: %s", e.StatusCode, e.Message)
}

// ValidationError is a non-retryable 4xx rejection of the payload.
type ValidationError struct {
	StatusCode int
	Message    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("venue validation error %d: %s", e.StatusCode, e.Message)
}

// DuplicateClientOrderIDError is returned when the client order id was already used.
type DuplicateClientOrderIDError struct {
	ClientID string
}

func (e *DuplicateClientOrderIDError) Error() string {
	return "duplicate_client_order_id: " + e.ClientID
}

// BrokerError is any other venue failure.
type BrokerError struct {
	Op  string
	Err error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// IsRetryable returns true for rate limits and transient server errors.
func IsRetryable(err error) bool {
	var rl *RateLimitError
	var tr *TransientError
	return errors.As(err, &rl) || errors.As(err, &tr)
}

// IsUnauthorized reports whether err carries an authorization failure.
func IsUnauthorized(err error) bool {
	var ue *UnauthorizedError
	return errors.As(err, &ue)
}

// IsDuplicateClientID reports whether err is a duplicate client order id conflict.
func IsDuplicateClientID(err error) bool {
	var de *DuplicateClientOrderIDError
	return errors.As(err, &de)
}

// Kind maps an error onto a short reason code.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsUnauthorized(err):
		return "unauthorized"
	case IsDuplicateClientID(err):
		return "duplicate_client_order_id"
	}
	var rl *RateLimitError
	var tr *TransientError
	var ve *ValidationError
	switch {
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &tr):
		return "transient"
	case errors.As(err, &ve):
		return "validation"
	}
	return "broker"
}
