package common

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")

	// Service-level errors.
	ErrorInternal      = errors.New("internal error")
	ErrorUnauthorized  = errors.New("unauthorized")
	ErrInvalidArgument = errors.New("invalid argument")

	// Auth errors for caller-issued tokens and signed links.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Provider taxonomy. ErrorNotFound doubles as the "missing remotely" class.
	ErrAuthExpired         = errors.New("provider authorization expired")
	ErrReconnectRequired   = errors.New("provider reconnect required")
	ErrRateLimited         = errors.New("rate limited")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrConflict            = errors.New("sync conflict")

	// Sync flow control.
	ErrStaleCursor    = errors.New("change cursor is stale")
	ErrSyncInProgress = errors.New("sync already in progress")
)

// RateLimitError is returned when admission is denied or a provider reports a
// throttle. RetryAfter is a hint, zero when unknown.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ProviderError describes a failed provider call. Kind is one of the taxonomy
// sentinels; Err is the underlying cause and may be nil.
type ProviderError struct {
	Provider string
	Op       string
	Status   int
	Kind     error
	Err      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewProviderError is a shorthand for building a *ProviderError.
func NewProviderError(provider, op string, kind error, status int, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Status: status, Kind: kind, Err: cause}
}

// IsTransient reports whether err belongs to a class that is retried with
// backoff before surfacing.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProviderUnavailable)
}

// RetryAfter extracts a retry hint from err.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}

// Reason maps err to a short user-visible reason that never leaks provider
// details.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrReconnectRequired):
		return "reconnect needed"
	case errors.Is(err, ErrRateLimited):
		return "quota exceeded, try again later"
	case errors.Is(err, ErrProviderUnavailable), errors.Is(err, ErrAuthExpired):
		return "temporarily unavailable, try again"
	case errors.Is(err, ErrorNotFound):
		return "not found"
	case errors.Is(err, ErrConflict), errors.Is(err, ErrVersionConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid request"
	case errors.Is(err, ErrorUnauthorized), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired):
		return "unauthorized"
	case errors.Is(err, ErrSyncInProgress):
		return "sync already running"
	default:
		return "internal error"
	}
}
