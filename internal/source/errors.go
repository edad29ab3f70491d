package source

import (
	"errors"
	"fmt"
	"time"
)

// AuthExpiredError indicates that no usable access token exists for an
// account. Callers skip the account for this run.
type AuthExpiredError struct {
	AccountID string
	Message   string
	Err       error
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("auth expired (%s): %s", e.AccountID, e.Message)
}

func (e *AuthExpiredError) Unwrap() error { return e.Err }

// IsAuthExpired reports whether err (or any error in its chain) is an
// AuthExpiredError.
func IsAuthExpired(err error) bool {
	var authErr *AuthExpiredError
	return errors.As(err, &authErr)
}

// RateLimitedError is returned once the provider keeps throttling after
// the retry ceiling was reached.
type RateLimitedError struct {
	Operation  string
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf(
		"rate limited on %s after %d attempts", e.Operation, e.Attempts,
	)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a RateLimitedError.
func IsRateLimited(err error) bool {
	var rlErr *RateLimitedError
	return errors.As(err, &rlErr)
}

// TransientError wraps network failures and 5xx responses that persisted
// past the retry ceiling.
type TransientError struct {
	Operation string
	Status    int
	Err       error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf(
			"transient provider error on %s (%d): %v",
			e.Operation, e.Status, e.Err,
		)
	}
	return fmt.Sprintf("transient provider error on %s: %v", e.Operation, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var tErr *TransientError
	return errors.As(err, &tErr)
}

// MalformedMessageError marks a single message that could not be fetched
// or interpreted. It never aborts a batch.
type MalformedMessageError struct {
	MessageID string
	Reason    string
	Err       error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message %s: %s: %v", e.MessageID, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed message %s: %s", e.MessageID, e.Reason)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// IsMalformed reports whether err is a MalformedMessageError.
func IsMalformed(err error) bool {
	var mErr *MalformedMessageError
	return errors.As(err, &mErr)
}

// CursorInvalidError indicates the provider rejected a stored history id.
type CursorInvalidError struct {
	HistoryID string
	Err       error
}

func (e *CursorInvalidError) Error() string {
	return fmt.Sprintf("history id %s rejected by provider", e.HistoryID)
}

func (e *CursorInvalidError) Unwrap() error { return e.Err }

// IsCursorInvalid reports whether err is a CursorInvalidError.
func IsCursorInvalid(err error) bool {
	var cErr *CursorInvalidError
	return errors.As(err, &cErr)
}
