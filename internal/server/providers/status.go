package providers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
)

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. It returns zero when the header is absent or unparsable.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// StatusError classifies an HTTP failure of a provider call into the common
// taxonomy. Throttles become *common.RateLimitError with the Retry-After hint.
func StatusError(kind Kind, op string, status int, header http.Header, cause error) error {
	switch {
	case status == http.StatusTooManyRequests:
		var hint time.Duration
		if header != nil {
			hint = ParseRetryAfter(header.Get("Retry-After"), time.Now())
		}
		return &common.RateLimitError{Provider: string(kind), RetryAfter: hint}
	case status == http.StatusUnauthorized:
		return common.NewProviderError(string(kind), op, common.ErrAuthExpired, status, cause)
	case status == http.StatusNotFound || status == http.StatusGone:
		return common.NewProviderError(string(kind), op, common.ErrorNotFound, status, cause)
	case status == http.StatusConflict:
		return common.NewProviderError(string(kind), op, common.ErrConflict, status, cause)
	case status == http.StatusForbidden:
		return common.NewProviderError(string(kind), op, common.ErrorUnauthorized, status, cause)
	case status >= 500:
		return common.NewProviderError(string(kind), op, common.ErrProviderUnavailable, status, cause)
	}
	return common.NewProviderError(string(kind), op, common.ErrorInternal, status, cause)
}

// TransportError classifies a failure that happened before any response
// arrived. Context errors are returned unchanged.
func TransportError(kind Kind, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return common.NewProviderError(string(kind), op, common.ErrProviderUnavailable, 0, err)
}
