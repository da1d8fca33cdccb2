package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{Attempts: 4, Base: time.Millisecond, Cap: 10 * time.Millisecond}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := fast.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return common.NewProviderError("dropbox", "upload", common.ErrProviderUnavailable, 503, nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsAfterAttempts(t *testing.T) {
	calls := 0
	err := fast.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &common.RateLimitError{Provider: "dropbox"}
	})
	assert.ErrorIs(t, err, common.ErrRateLimited)
	assert.Equal(t, 4, calls)
}

func TestDo_NeverRetriesPermanentErrors(t *testing.T) {
	for _, permanent := range []error{common.ErrReconnectRequired, common.ErrorNotFound, common.ErrAuthExpired, errors.New("boom")} {
		calls := 0
		err := fast.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls, "%v", permanent)
	}
}

func TestDo_HonoursRetryAfterWithinCap(t *testing.T) {
	p := Policy{Attempts: 2, Base: time.Millisecond, Cap: 100 * time.Millisecond}
	calls := 0
	start := time.Now()
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &common.RateLimitError{Provider: "dropbox", RetryAfter: 30 * time.Millisecond}
		}
		return nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestDo_SurfacesHintAboveCap(t *testing.T) {
	calls := 0
	err := fast.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &common.RateLimitError{Provider: "dropbox", RetryAfter: time.Hour}
	})
	d, ok := common.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, time.Hour, d)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 5, Base: time.Second, Cap: time.Second}
	calls := 0
	err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return common.ErrProviderUnavailable
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
