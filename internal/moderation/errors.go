package moderation

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Common errors
var (
	ErrUnauthorized     = errors.New("moderation: not permitted")
	ErrNotFound         = errors.New("moderation: not found")
	ErrAlreadyResolved  = errors.New("moderation: report already resolved")
	ErrAlreadyReversed  = errors.New("moderation: action already reversed")
	ErrStoreUnavailable = errors.New("moderation: store unavailable")
	ErrDuplicateReport  = errors.New("moderation: target already reported by this user")

	// ErrAlreadyRestricted means the target already has an in-force restriction
	// of the same kind. The existing action must be reversed first.
	ErrAlreadyRestricted = errors.New("moderation: restriction already in force")
)

// ValidationError is returned before any mutation when input is malformed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("moderation: invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// RateLimitError is returned when a reporter exceeds the submission quota.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("moderation: report limit reached, try again in %d seconds", e.RetrySeconds())
}

// RetrySeconds returns RetryAfter rounded up to whole seconds, never less than one.
func (e *RateLimitError) RetrySeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// StoreError wraps a failure of the backing store.
type StoreError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("moderation: store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is lets retryable store errors match ErrStoreUnavailable.
func (e *StoreError) Is(target error) bool {
	return e.Retryable && target == ErrStoreUnavailable
}

// Unavailable wraps err as a retryable store failure.
func Unavailable(op string, err error) error {
	return &StoreError{Op: op, Retryable: true, Err: err}
}

// RestrictedError is returned by the restriction oracle when a capability is denied.
type RestrictedError struct {
	Capability Capability
	Kind       RestrictionKind
	ExpiresAt  *time.Time
}

func (e *RestrictedError) Error() string {
	var msg string
	switch e.Kind {
	case RestrictionSuspended:
		msg = "Your account is suspended"
	case RestrictionPostingDisabled:
		msg = "Posting has been disabled on your account"
	case RestrictionCommentingDisabled:
		msg = "Commenting has been disabled on your account"
	case RestrictionUploadDisabled:
		msg = "Uploading has been disabled on your account"
	default:
		msg = "This action is restricted on your account"
	}
	if e.ExpiresAt == nil {
		return msg
	}
	return msg + " until " + e.ExpiresAt.UTC().Format(time.RFC3339)
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRateLimited checks if an error is a rate limit error.
func IsRateLimited(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}

// IsRetryable reports whether the caller may retry the failed operation.
// Only store unavailability is retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
