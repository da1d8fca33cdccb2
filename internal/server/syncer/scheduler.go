package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Runner is implemented by *Service.
type Runner interface {
	Run(ctx context.Context, userID string, kind providers.Kind) (*RunResult, error)
}

type SchedulerConfig struct {
	// Schedule is a cron spec such as "@every 1h" or "0 */6 * * *".
	Schedule string
	// Workers bounds concurrent runs within one tick.
	Workers int
	// Providers restricts ticks to these kinds; empty means all.
	Providers []providers.Kind
}

// TickResult counts the runs of one tick.
type TickResult struct {
	Runs    int
	Failed  int
	Skipped int
}

// Scheduler syncs every active connection on a cron schedule. Other periodic
// jobs, such as the purge, may share its cron.
type Scheduler struct {
	runner Runner
	repos  repomanager.RepositoryManager
	cfg    SchedulerConfig
	cron   *cron.Cron
	log    logging.Logger
}

func NewScheduler(runner Runner, repos repomanager.RepositoryManager, cfg SchedulerConfig, log logging.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	log = log.With("module", "scheduler")
	cl := cronLogger{log}
	return &Scheduler{
		runner: runner,
		repos:  repos,
		cfg:    cfg,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log: log,
	}
}

// Tick runs one sync per active connection. A failing run never cancels the
// others.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	conns, err := s.repos.Connections(s.repos.DB()).ListActive(ctx)
	if err != nil {
		return TickResult{}, err
	}

	var runs, failed, skipped atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, c := range conns {
		kind := providers.Kind(c.Provider)
		if len(s.cfg.Providers) > 0 && !slices.Contains(s.cfg.Providers, kind) {
			continue
		}
		userID := c.UserID
		g.Go(func() error {
			runs.Add(1)
			_, err := s.runner.Run(ctx, userID, kind)
			switch {
			case errors.Is(err, common.ErrSyncInProgress):
				skipped.Add(1)
			case err != nil:
				failed.Add(1)
				s.log.Warn(ctx, "scheduled sync failed", "user_id", userID, "provider", kind,
					"reason", common.Reason(err), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return TickResult{
		Runs:    int(runs.Load()),
		Failed:  int(failed.Load()),
		Skipped: int(skipped.Load()),
	}, nil
}

// AddJob runs fn on spec until Stop. A run still in progress when the next
// one is due is skipped.
func (s *Scheduler) AddJob(ctx context.Context, spec, name string, fn func(ctx context.Context) error) error {
	if spec == "" {
		return fmt.Errorf("%w: %s schedule is required", common.ErrInvalidArgument, name)
	}
	_, err := s.cron.AddFunc(spec, func() {
		if err := fn(ctx); err != nil {
			s.log.Error(ctx, "scheduled job failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %s schedule %q: %v", common.ErrInvalidArgument, name, spec, err)
	}
	return nil
}

// Start schedules ticks until Stop. ctx is handed to every tick.
func (s *Scheduler) Start(ctx context.Context) error {
	err := s.AddJob(ctx, s.cfg.Schedule, "sync", func(ctx context.Context) error {
		res, err := s.Tick(ctx)
		if err != nil {
			return err
		}
		s.log.Info(ctx, "sync tick finished", "runs", res.Runs, "failed", res.Failed, "skipped", res.Skipped)
		return nil
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info(ctx, "sync scheduler started", "schedule", s.cfg.Schedule, "workers", s.cfg.Workers)
	return nil
}

// Stop stops scheduling and waits for a running tick to finish or ctx to
// end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	log logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(context.Background(), "cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(context.Background(), "cron: "+msg, append(keysAndValues, "error", err)...)
}
