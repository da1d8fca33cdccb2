// Package syncer reconciles provider-side changes made outside the
// application with the local records. Files are never imported: the local
// database stays the source of truth and the provider feed only corrects it.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/keylock"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/audit"
	"github.com/dmitrijs2005/gophsync/internal/server/cache"
	"github.com/dmitrijs2005/gophsync/internal/server/connector"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophsync/internal/timex"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Caller interface {
	Do(ctx context.Context, userID string, kind providers.Kind, op string, fn connector.Call) error
}

type Config struct {
	// RunDeadline bounds one Run; zero means no bound beyond ctx.
	RunDeadline time.Duration
}

// RunResult counts what one run did.
type RunResult struct {
	Full      bool `json:"full"`
	Restarted bool `json:"restarted"`
	Pages     int  `json:"pages"`
	Changes   int  `json:"changes"`
	Deleted   int  `json:"deleted"`
	Renamed   int  `json:"renamed"`
	Moved     int  `json:"moved"`
	Restored  int  `json:"restored"`
	Unmanaged int  `json:"unmanaged"`
	Conflicts int  `json:"conflicts"`
}

type Service struct {
	repos  repomanager.RepositoryManager
	calls  Caller
	cache  *cache.Cache
	audit  audit.Sink
	clock  timex.Clock
	locks  *keylock.Locker
	cfg    Config
	tracer trace.Tracer
	log    logging.Logger
}

func New(repos repomanager.RepositoryManager, calls Caller, c *cache.Cache, sink audit.Sink, cfg Config,
	clock timex.Clock, log logging.Logger) *Service {
	if clock == nil {
		clock = timex.RealClock{}
	}
	return &Service{
		repos:  repos,
		calls:  calls,
		cache:  c,
		audit:  sink,
		clock:  clock,
		locks:  keylock.New(),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/dmitrijs2005/gophsync/syncer"),
		log:    log.With("module", "syncer"),
	}
}

// Run applies the provider changes since the stored cursor. Runs for the
// same (user, provider) never overlap; a second caller gets
// common.ErrSyncInProgress.
func (s *Service) Run(ctx context.Context, userID string, kind providers.Kind) (res *RunResult, err error) {
	unlock, ok := s.locks.TryLock(userID + ":" + string(kind))
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", common.ErrSyncInProgress, userID, kind)
	}
	defer unlock()

	if s.cfg.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunDeadline)
		defer cancel()
	}
	ctx, span := s.tracer.Start(ctx, "sync.run", trace.WithAttributes(
		attribute.String("provider", string(kind)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, common.Reason(err))
		}
		span.End()
	}()

	state, err := s.repos.SyncStates(s.repos.DB()).Get(ctx, userID, string(kind))
	if errors.Is(err, common.ErrorNotFound) {
		state = &models.SyncState{UserID: userID, Provider: string(kind)}
	} else if err != nil {
		return nil, err
	}
	t, err := loadTree(ctx, s.repos, userID, kind)
	if err != nil {
		return nil, err
	}

	r := &run{
		Service: s,
		userID:  userID,
		kind:    kind,
		tree:    t,
		state:   state,
		res:     &RunResult{},
		log:     s.log.With("user_id", userID, "provider", kind),
	}
	err = r.pages(ctx)
	if errors.Is(err, common.ErrStaleCursor) && state.Cursor != "" {
		r.log.Warn(ctx, "change cursor rejected, starting a full listing")
		span.AddEvent("stale cursor")
		state.Cursor = ""
		if err = s.repos.SyncStates(s.repos.DB()).Save(ctx, state); err != nil {
			return r.res, err
		}
		r.res.Restarted = true
		err = r.pages(ctx)
	}
	if err != nil {
		r.log.Error(ctx, "sync run failed", "pages", r.res.Pages, "error", err)
		return r.res, err
	}
	span.SetAttributes(attribute.Int("changes", r.res.Changes), attribute.Bool("full", r.res.Full))
	r.log.Info(ctx, "sync run finished",
		"full", r.res.Full,
		"pages", r.res.Pages,
		"changes", r.res.Changes,
		"deleted", r.res.Deleted,
		"renamed", r.res.Renamed,
		"moved", r.res.Moved,
		"restored", r.res.Restored,
		"unmanaged", r.res.Unmanaged,
		"conflicts", r.res.Conflicts,
	)
	return r.res, nil
}

// run is the state of one Run.
type run struct {
	*Service
	userID string
	kind   providers.Kind
	tree   *tree
	state  *models.SyncState
	res    *RunResult
	log    logging.Logger

	// full listing bookkeeping
	started time.Time
	seen    map[string]bool

	// after runs once the current page committed
	after []func(ctx context.Context)
}

func (r *run) pages(ctx context.Context) error {
	token := r.state.Cursor
	r.started = r.clock.Now()
	r.seen = nil
	for {
		var cs *providers.ChangeSet
		err := r.calls.Do(ctx, r.userID, r.kind, "list_changes", func(ctx context.Context, p providers.Provider) error {
			var err error
			cs, err = p.ListChanges(ctx, token)
			return err
		})
		if err != nil {
			return err
		}
		r.res.Pages++
		if cs.Full {
			r.res.Full = true
			if r.seen == nil {
				r.seen = map[string]bool{}
			}
		}

		r.after = r.after[:0]
		err = r.repos.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			for _, ch := range cs.Changes {
				if err := r.apply(ctx, tx, ch); err != nil {
					return err
				}
			}
			if cs.HasMore && cs.Full {
				// a full listing only becomes a cursor after its last page
				return nil
			}
			if cs.Full {
				if err := r.sweep(ctx, tx); err != nil {
					return err
				}
			}
			return r.saveCursor(ctx, tx, cs)
		})
		if err != nil {
			return err
		}
		for _, fn := range r.after {
			fn(ctx)
		}

		r.res.Changes += len(cs.Changes)
		if !cs.HasMore {
			return nil
		}
		token = cs.NextToken
	}
}

func (r *run) saveCursor(ctx context.Context, tx dbx.DBTX, cs *providers.ChangeSet) error {
	st := *r.state
	st.Cursor = cs.NextToken
	st.LastSyncAt = r.clock.Now()
	if cs.Full && !cs.HasMore {
		st.LastFullSyncAt = st.LastSyncAt
	}
	if err := r.repos.SyncStates(tx).Save(ctx, &st); err != nil {
		return err
	}
	*r.state = st
	return nil
}

// later queues fn until the current page committed.
func (r *run) later(fn func(ctx context.Context)) {
	r.after = append(r.after, fn)
}

func (r *run) record(e audit.Entry) {
	e.Time = r.clock.Now()
	e.UserID = r.userID
	e.Provider = string(r.kind)
	r.later(func(ctx context.Context) { r.audit.Record(ctx, e) })
}
