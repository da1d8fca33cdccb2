package connector

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/cache"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/server/ratelimit"
	"github.com/dmitrijs2005/gophsync/internal/server/retry"
	"github.com/dmitrijs2005/gophsync/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient carries the token it was built with; the embedded interface is
// never called.
type fakeClient struct {
	providers.Provider
	token string
}

func (f *fakeClient) Kind() providers.Kind { return providers.Memory }

type fakeTokens struct {
	mu       sync.Mutex
	current  string
	err      error
	forceErr error
	forced   int
}

func (f *fakeTokens) ValidTokenFor(ctx context.Context, userID string, kind providers.Kind) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.err
}

func (f *fakeTokens) ForceRefresh(ctx context.Context, userID string, kind providers.Kind, rejected string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced++
	if f.forceErr != nil {
		return "", f.forceErr
	}
	f.current = rejected + "-refreshed"
	return f.current, nil
}

func newConnector(t *testing.T, tokens TokenSource, limits ratelimit.Limits, cfg Config) (*Connector, *ratelimit.Limiter) {
	t.Helper()
	reg := providers.NewRegistry()
	reg.Register(providers.Memory, func(ctx context.Context, token string) (providers.Provider, error) {
		return &fakeClient{token: token}, nil
	})
	clock := timex.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	lim := ratelimit.New(cache.NewMemoryStore(clock), ratelimit.Config{
		Limits: map[providers.Kind]ratelimit.Limits{providers.Memory: limits},
	}, clock, logging.Nop{})
	if cfg.Policy.Attempts == 0 {
		cfg.Policy = retry.Policy{Attempts: 3, Base: time.Millisecond, Cap: 5 * time.Millisecond}
	}
	return New(reg, tokens, lim, cfg, logging.Nop{}), lim
}

func tokenOf(p providers.Provider) string { return p.(*fakeClient).token }

func TestDo_PassesFreshTokenToClient(t *testing.T) {
	tokens := &fakeTokens{current: "t1"}
	c, _ := newConnector(t, tokens, ratelimit.Limits{}, Config{})

	var seen string
	err := c.Do(context.Background(), "u1", providers.Memory, "stat", func(ctx context.Context, p providers.Provider) error {
		seen = tokenOf(p)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", seen)
}

func TestDo_AuthExpiredRefreshesOnceAndRetries(t *testing.T) {
	tokens := &fakeTokens{current: "t1"}
	c, _ := newConnector(t, tokens, ratelimit.Limits{}, Config{})

	var seen []string
	err := c.Do(context.Background(), "u1", providers.Memory, "stat", func(ctx context.Context, p providers.Provider) error {
		seen = append(seen, tokenOf(p))
		if tokenOf(p) == "t1" {
			return common.NewProviderError("memory", "stat", common.ErrAuthExpired, 401, nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t1-refreshed"}, seen)
	assert.Equal(t, 1, tokens.forced)
}

func TestDo_AuthExpiredTwiceSurfacesWithoutLooping(t *testing.T) {
	tokens := &fakeTokens{current: "t1"}
	c, _ := newConnector(t, tokens, ratelimit.Limits{}, Config{})

	calls := 0
	err := c.Do(context.Background(), "u1", providers.Memory, "stat", func(ctx context.Context, p providers.Provider) error {
		calls++
		return common.NewProviderError("memory", "stat", common.ErrAuthExpired, 401, nil)
	})
	assert.ErrorIs(t, err, common.ErrAuthExpired)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, tokens.forced)
}

func TestDo_ReconnectRequiredIsNotRetried(t *testing.T) {
	tokens := &fakeTokens{err: common.ErrReconnectRequired}
	c, _ := newConnector(t, tokens, ratelimit.Limits{}, Config{})

	calls := 0
	err := c.Do(context.Background(), "u1", providers.Memory, "stat", func(ctx context.Context, p providers.Provider) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, common.ErrReconnectRequired)
	assert.Zero(t, calls)
}

func TestDo_RefreshFailureIsReconnect(t *testing.T) {
	tokens := &fakeTokens{current: "t1", forceErr: common.ErrReconnectRequired}
	c, _ := newConnector(t, tokens, ratelimit.Limits{}, Config{})

	err := c.Do(context.Background(), "u1", providers.Memory, "stat", func(ctx context.Context, p providers.Provider) error {
		return common.NewProviderError("memory", "stat", common.ErrAuthExpired, 401, nil)
	})
	assert.ErrorIs(t, err, common.ErrReconnectRequired)
}

func TestDo_TransientFailureRetried(t *testing.T) {
	c, _ := newConnector(t, &fakeTokens{current: "t"}, ratelimit.Limits{}, Config{})

	calls := 0
	err := c.Do(context.Background(), "u1", providers.Memory, "upload", func(ctx context.Context, p providers.Provider) error {
		calls++
		if calls < 3 {
			return common.NewProviderError("memory", "upload", common.ErrProviderUnavailable, 503, nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_NotFoundSurfacesImmediately(t *testing.T) {
	c, _ := newConnector(t, &fakeTokens{current: "t"}, ratelimit.Limits{}, Config{})

	calls := 0
	err := c.Do(context.Background(), "u1", providers.Memory, "stat", func(ctx context.Context, p providers.Provider) error {
		calls++
		return common.ErrorNotFound
	})
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, 1, calls)
}

func TestDo_BudgetExhaustedNeverReachesProvider(t *testing.T) {
	c, lim := newConnector(t, &fakeTokens{current: "t"}, ratelimit.Limits{Hourly: 2}, Config{
		Policy: retry.Policy{Attempts: 1},
	})

	var calls atomic.Int64
	fn := func(ctx context.Context, p providers.Provider) error {
		calls.Add(1)
		return nil
	}
	for range 2 {
		require.NoError(t, c.Do(context.Background(), "u1", providers.Memory, "stat", fn))
	}
	err := c.Do(context.Background(), "u1", providers.Memory, "stat", fn)
	assert.ErrorIs(t, err, common.ErrRateLimited)
	assert.Equal(t, int64(2), calls.Load())

	u := lim.Snapshot(context.Background(), []providers.Kind{providers.Memory})
	assert.Equal(t, int64(2), u[0].HourlyUsed)
}

func TestDo_ConcurrencyBound(t *testing.T) {
	c, _ := newConnector(t, &fakeTokens{current: "t"}, ratelimit.Limits{}, Config{Concurrency: 2})

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Do(context.Background(), "u1", providers.Memory, "stat", func(ctx context.Context, p providers.Provider) error {
				n := inFlight.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestDo_CallTimeoutIsTransient(t *testing.T) {
	c, _ := newConnector(t, &fakeTokens{current: "t"}, ratelimit.Limits{}, Config{
		Policy:      retry.Policy{Attempts: 1},
		CallTimeout: 10 * time.Millisecond,
	})

	err := c.Do(context.Background(), "u1", providers.Memory, "upload", func(ctx context.Context, p providers.Provider) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
}

func TestDo_UnknownProvider(t *testing.T) {
	c, _ := newConnector(t, &fakeTokens{current: "t"}, ratelimit.Limits{}, Config{})
	err := c.Do(context.Background(), "u1", providers.Dropbox, "stat", func(ctx context.Context, p providers.Provider) error {
		return nil
	})
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}
