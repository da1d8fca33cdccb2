// Package ratelimit enforces per-provider request budgets and the backoff
// that follows provider-reported throttling.
//
// Budgets are fixed hourly and daily windows counted in a cache.Store, so
// several engine instances sharing Redis share the budget. Backoff is kept in
// process: it reacts to what this instance observed.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/cache"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/timex"
	"golang.org/x/time/rate"
)

// Limits of one provider. Zero disables the corresponding check.
type Limits struct {
	Hourly int64
	Daily  int64
	RPS    float64
	Burst  int
}

type Config struct {
	Limits      map[providers.Kind]Limits
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

type window struct {
	name string
	size time.Duration
}

var windows = []window{{"hour", time.Hour}, {"day", 24 * time.Hour}}

func (l Limits) budget(w window) int64 {
	if w.name == "hour" {
		return l.Hourly
	}
	return l.Daily
}

type backoffState struct {
	until   time.Time
	attempt int
	probing bool
}

type Limiter struct {
	store cache.Store
	clock timex.Clock
	log   logging.Logger
	cfg   Config

	mu      sync.Mutex
	pacers  map[providers.Kind]*rate.Limiter
	backoff map[providers.Kind]*backoffState
}

func New(store cache.Store, cfg Config, clock timex.Clock, log logging.Logger) *Limiter {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = 30 * cfg.BackoffBase
	}
	if clock == nil {
		clock = timex.RealClock{}
	}
	pacers := make(map[providers.Kind]*rate.Limiter)
	for kind, l := range cfg.Limits {
		if l.RPS > 0 {
			burst := l.Burst
			if burst <= 0 {
				burst = 1
			}
			pacers[kind] = rate.NewLimiter(rate.Limit(l.RPS), burst)
		}
	}
	return &Limiter{
		store:   store,
		clock:   clock,
		log:     log.With("module", "ratelimit"),
		cfg:     cfg,
		pacers:  pacers,
		backoff: make(map[providers.Kind]*backoffState),
	}
}

func counterKey(kind providers.Kind, w window) string {
	return "rl:" + string(kind) + ":" + w.name
}

// Wait paces calls to the provider's requests-per-second limit.
func (l *Limiter) Wait(ctx context.Context, kind providers.Kind) error {
	l.mu.Lock()
	p := l.pacers[kind]
	l.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Wait(ctx)
}

// Admit must be called before every provider call. It returns a
// *common.RateLimitError while the provider is in backoff, while another
// caller holds the single post-backoff probe, or when a budget is exhausted.
// Every admitted call must be followed by exactly one Done.
func (l *Limiter) Admit(ctx context.Context, kind providers.Kind) error {
	probe, err := l.checkBackoff(kind)
	if err != nil {
		return err
	}
	if err := l.count(ctx, kind); err != nil {
		if probe {
			l.releaseProbe(kind)
		}
		return err
	}
	return nil
}

func (l *Limiter) checkBackoff(kind providers.Kind) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.backoff[kind]
	if st == nil {
		return false, nil
	}
	now := l.clock.Now()
	if now.Before(st.until) {
		return false, &common.RateLimitError{Provider: string(kind), RetryAfter: st.until.Sub(now)}
	}
	if st.probing {
		return false, &common.RateLimitError{Provider: string(kind), RetryAfter: l.cfg.BackoffBase}
	}
	st.probing = true
	return true, nil
}

func (l *Limiter) releaseProbe(kind providers.Kind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st := l.backoff[kind]; st != nil {
		st.probing = false
	}
}

// count increments every configured window; on an exhausted window the
// increments are rolled back so a rejected call consumes nothing.
func (l *Limiter) count(ctx context.Context, kind providers.Kind) error {
	limits := l.cfg.Limits[kind]
	var done []window
	for _, w := range windows {
		budget := limits.budget(w)
		if budget <= 0 {
			continue
		}
		n, left, err := l.store.Incr(ctx, counterKey(kind, w), 1, w.size)
		if err != nil {
			l.log.Warn(ctx, "rate limit store unavailable, admitting", "provider", kind, "error", err)
			continue
		}
		done = append(done, w)
		if n > budget {
			l.rollback(ctx, kind, done)
			return &common.RateLimitError{Provider: string(kind), RetryAfter: left}
		}
	}
	return nil
}

func (l *Limiter) rollback(ctx context.Context, kind providers.Kind, ws []window) {
	for _, w := range ws {
		if _, _, err := l.store.Incr(ctx, counterKey(kind, w), -1, w.size); err != nil {
			l.log.Warn(ctx, "rate limit rollback failed", "provider", kind, "error", err)
		}
	}
}

// Done reports the outcome of an admitted call. A provider throttle starts or
// escalates backoff; success after the backoff window clears it. A success
// reported while the window is open came from a call admitted before the
// throttle and leaves the backoff in place.
func (l *Limiter) Done(kind providers.Kind, callErr error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.backoff[kind]

	switch {
	case callErr == nil:
		if st != nil && l.clock.Now().Before(st.until) {
			return
		}
		delete(l.backoff, kind)

	case errors.Is(callErr, common.ErrRateLimited):
		now := l.clock.Now()
		if st == nil {
			st = &backoffState{}
			l.backoff[kind] = st
		}
		hint, _ := common.RetryAfter(callErr)
		if now.Before(st.until) {
			// an in-flight call reporting the same throttle
			if until := now.Add(hint); until.After(st.until) {
				st.until = until
			}
			return
		}
		st.attempt++
		d := l.delay(st.attempt)
		if hint > d {
			d = hint
		}
		st.until = now.Add(d)
		st.probing = false
		l.log.Warn(context.Background(), "provider throttled, backing off", "provider", kind, "delay", d, "attempt", st.attempt)

	default:
		if st != nil {
			st.probing = false
		}
	}
}

func (l *Limiter) delay(attempt int) time.Duration {
	d := l.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= l.cfg.BackoffCap {
			return l.cfg.BackoffCap
		}
	}
	return d
}

// Usage is the dashboard view of one provider.
type Usage struct {
	Provider     providers.Kind `json:"provider"`
	HourlyUsed   int64          `json:"hourly_used"`
	HourlyLimit  int64          `json:"hourly_limit"`
	DailyUsed    int64          `json:"daily_used"`
	DailyLimit   int64          `json:"daily_limit"`
	BackoffUntil *time.Time     `json:"backoff_until,omitempty"`
}

// Snapshot reads the counters of every configured provider.
func (l *Limiter) Snapshot(ctx context.Context, kinds []providers.Kind) []Usage {
	out := make([]Usage, 0, len(kinds))
	for _, kind := range kinds {
		limits := l.cfg.Limits[kind]
		u := Usage{Provider: kind, HourlyLimit: limits.Hourly, DailyLimit: limits.Daily}
		if n, _, err := l.store.Incr(ctx, counterKey(kind, windows[0]), 0, 0); err == nil {
			u.HourlyUsed = n
		}
		if n, _, err := l.store.Incr(ctx, counterKey(kind, windows[1]), 0, 0); err == nil {
			u.DailyUsed = n
		}
		l.mu.Lock()
		if st := l.backoff[kind]; st != nil && l.clock.Now().Before(st.until) {
			until := st.until
			u.BackoffUntil = &until
		}
		l.mu.Unlock()
		out = append(out, u)
	}
	return out
}
