// Package connector is the single path for provider calls. It combines the
// per-provider concurrency bound, rate limit admission, just-in-time tokens
// and the retry policy so that no caller re-implements them.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/server/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// TokenSource hands out access tokens. *tokens.Manager implements it.
type TokenSource interface {
	ValidTokenFor(ctx context.Context, userID string, kind providers.Kind) (string, error)
	ForceRefresh(ctx context.Context, userID string, kind providers.Kind, rejected string) (string, error)
}

// Admission is the rate limiter as seen by the connector.
type Admission interface {
	Wait(ctx context.Context, kind providers.Kind) error
	Admit(ctx context.Context, kind providers.Kind) error
	Done(kind providers.Kind, err error)
}

type Config struct {
	Policy      retry.Policy
	CallTimeout time.Duration
	// Concurrency bounds in-flight calls per provider; 0 means unbounded.
	Concurrency int64
}

type Connector struct {
	registry *providers.Registry
	tokens   TokenSource
	limiter  Admission
	cfg      Config
	tracer   trace.Tracer
	log      logging.Logger

	mu   sync.Mutex
	sems map[providers.Kind]*semaphore.Weighted
}

func New(registry *providers.Registry, tokens TokenSource, limiter Admission, cfg Config, log logging.Logger) *Connector {
	return &Connector{
		registry: registry,
		tokens:   tokens,
		limiter:  limiter,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/dmitrijs2005/gophsync/connector"),
		log:      log.With("module", "connector"),
		sems:     make(map[providers.Kind]*semaphore.Weighted),
	}
}

// Call is one unit of provider work. It may run several times, so it must
// be safe to repeat.
type Call func(ctx context.Context, p providers.Provider) error

// Do runs fn against a freshly authorized client for (userID, kind),
// retrying transient failures.
func (c *Connector) Do(ctx context.Context, userID string, kind providers.Kind, op string, fn Call) error {
	attempt := 0
	err := c.cfg.Policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		return c.attempt(ctx, userID, kind, op, attempt, fn)
	})
	if err != nil {
		c.log.Debug(ctx, "provider call failed", "provider", kind, "op", op, "user_id", userID,
			"attempts", attempt, "error", err)
	}
	return err
}

func (c *Connector) sem(kind providers.Kind) *semaphore.Weighted {
	if c.cfg.Concurrency <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sems[kind]
	if !ok {
		s = semaphore.NewWeighted(c.cfg.Concurrency)
		c.sems[kind] = s
	}
	return s
}

func (c *Connector) attempt(ctx context.Context, userID string, kind providers.Kind, op string, n int, fn Call) (err error) {
	ctx, span := c.tracer.Start(ctx, "provider."+op, trace.WithAttributes(
		attribute.String("provider", string(kind)),
		attribute.String("op", op),
		attribute.Int("attempt", n),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, common.Reason(err))
		}
		span.End()
	}()

	if s := c.sem(kind); s != nil {
		if err := s.Acquire(ctx, 1); err != nil {
			return err
		}
		defer s.Release(1)
	}

	token, err := c.tokens.ValidTokenFor(ctx, userID, kind)
	if err != nil {
		return err
	}
	err = c.call(ctx, kind, token, fn)
	if !errors.Is(err, common.ErrAuthExpired) {
		return err
	}

	// the provider rejected a token we considered valid: refresh once
	span.AddEvent("forced refresh")
	c.log.Info(ctx, "provider rejected token, refreshing", "provider", kind, "op", op, "user_id", userID)
	token, err = c.tokens.ForceRefresh(ctx, userID, kind, token)
	if err != nil {
		return err
	}
	return c.call(ctx, kind, token, fn)
}

func (c *Connector) call(ctx context.Context, kind providers.Kind, token string, fn Call) error {
	p, err := c.registry.New(ctx, kind, token)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx, kind); err != nil {
		return err
	}
	if err := c.limiter.Admit(ctx, kind); err != nil {
		return err
	}

	callCtx := ctx
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}
	err = fn(callCtx, p)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = common.NewProviderError(string(kind), "call", common.ErrProviderUnavailable, 0,
			fmt.Errorf("timed out after %s", c.cfg.CallTimeout))
	}
	c.limiter.Done(kind, err)
	return err
}
