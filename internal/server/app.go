// Package server assembles the engine from configuration and runs the gRPC
// API together with the sync and purge schedules until a shutdown signal.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/cryptox"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/audit"
	"github.com/dmitrijs2005/gophsync/internal/server/cache"
	"github.com/dmitrijs2005/gophsync/internal/server/catalog"
	"github.com/dmitrijs2005/gophsync/internal/server/config"
	"github.com/dmitrijs2005/gophsync/internal/server/connector"
	"github.com/dmitrijs2005/gophsync/internal/server/folders"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/server/providers/dropbox"
	"github.com/dmitrijs2005/gophsync/internal/server/providers/googledrive"
	"github.com/dmitrijs2005/gophsync/internal/server/providers/memory"
	s3provider "github.com/dmitrijs2005/gophsync/internal/server/providers/s3"
	"github.com/dmitrijs2005/gophsync/internal/server/ratelimit"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophsync/internal/server/retry"
	"github.com/dmitrijs2005/gophsync/internal/server/shared/db"
	"github.com/dmitrijs2005/gophsync/internal/server/syncer"
	"github.com/dmitrijs2005/gophsync/internal/server/tokens"
	"github.com/dmitrijs2005/gophsync/internal/server/uploads"
	"github.com/dmitrijs2005/gophsync/internal/timex"
	"golang.org/x/oauth2"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	gs "github.com/dmitrijs2005/gophsync/internal/server/grpc"
)

// Engine holds the wired components. The operator CLI builds one for local
// commands; the daemon serves it.
type Engine struct {
	Repos     repomanager.RepositoryManager
	Cache     *cache.Cache
	Limiter   *ratelimit.Limiter
	Tokens    *tokens.Manager
	Connector *connector.Connector
	Folders   *folders.Manager
	Uploads   *uploads.Orchestrator
	Catalog   *catalog.Service
	Syncer    *syncer.Service
	Scheduler *syncer.Scheduler
	Kinds     []providers.Kind

	closers []func() error
}

// Build wires the engine described by c.
func Build(ctx context.Context, c *config.Config, log logging.Logger) (*Engine, error) {
	e := &Engine{}
	clock := timex.RealClock{}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	repos, closeDB, err := db.Open(ctx, c.StorageBackend, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	e.Repos = repos
	e.closers = append(e.closers, closeDB)

	store, err := e.cacheStore(ctx, c, clock)
	if err != nil {
		return nil, err
	}
	e.Cache = cache.New(store, cache.TTLs{
		URL:          c.URLCacheTTL,
		Listing:      c.ListingCacheTTL,
		Connections:  c.ConnectionCacheTTL,
		FolderVerify: c.FolderVerifyTTL,
	}, log)

	registry, err := registry(ctx, c, clock)
	if err != nil {
		return nil, err
	}
	e.Kinds = registry.Kinds()

	limits := make(map[providers.Kind]ratelimit.Limits, len(c.Budgets))
	for name, b := range c.Budgets {
		limits[providers.Kind(name)] = ratelimit.Limits{Hourly: b.Hourly, Daily: b.Daily, RPS: b.RPS, Burst: b.Burst}
	}
	e.Limiter = ratelimit.New(store, ratelimit.Config{
		Limits:      limits,
		BackoffBase: c.BackoffBase,
		BackoffCap:  c.BackoffCap,
	}, clock, log)

	cipher, err := cryptox.NewTokenCipherFromPassphrase(c.TokenPassphrase)
	if err != nil {
		return nil, fmt.Errorf("token cipher: %w", err)
	}
	refresher := tokens.NewOAuth2Refresher(map[providers.Kind]*oauth2.Config{
		providers.GoogleDrive: tokens.GoogleConfig(c.GoogleClientID, c.GoogleClientSecret),
		providers.Dropbox:     tokens.DropboxConfig(c.DropboxClientID, c.DropboxClientSecret),
	}, &http.Client{Timeout: c.ProviderCallTimeout})
	e.Tokens = tokens.NewManager(repos, cipher, refresher, e.Cache, clock, log)

	e.Connector = connector.New(registry, e.Tokens, e.Limiter, connector.Config{
		Policy: retry.Policy{
			Attempts:      c.RetryAttempts,
			Base:          c.RetryBase,
			Cap:           c.RetryCap,
			JitterPercent: 10,
		},
		CallTimeout: c.ProviderCallTimeout,
		Concurrency: int64(c.ProviderConcurrency),
	}, log)

	sink := audit.NewLogSink(log)
	e.Folders = folders.New(repos, e.Connector, e.Cache, c.RootFolderName, log)
	e.Uploads = uploads.New(repos, e.Connector, e.Folders, e.Cache, sink, uploads.Config{
		SpoolDir: c.SpoolDir,
		MaxSize:  c.MaxUploadSize,
	}, log)
	e.Catalog = catalog.New(repos, e.Connector, e.Cache, e.Limiter, sink, catalog.Config{
		LinkSecret:     cryptox.DeriveKey([]byte("links:" + c.SecretKey)),
		LinkTTL:        c.LinkTTL,
		ProviderURLTTL: c.URLCacheTTL + c.LinkTTL,
		Providers:      e.Kinds,
	}, clock, log)
	e.Syncer = syncer.New(repos, e.Connector, e.Cache, sink, syncer.Config{RunDeadline: c.SyncRunDeadline}, clock, log)
	e.Scheduler = syncer.NewScheduler(e.Syncer, repos, syncer.SchedulerConfig{
		Schedule:  c.SyncSchedule,
		Workers:   c.SyncWorkers,
		Providers: e.Kinds,
	}, log)

	ok = true
	return e, nil
}

func (e *Engine) cacheStore(ctx context.Context, c *config.Config, clock timex.Clock) (cache.Store, error) {
	if c.CacheBackend != "redis" {
		return cache.NewMemoryStore(clock), nil
	}
	client, err := cache.DialRedis(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	e.closers = append(e.closers, client.Close)
	return cache.NewRedisStore(client, "gophsync:"), nil
}

func registry(ctx context.Context, c *config.Config, clock timex.Clock) (*providers.Registry, error) {
	opts := providers.Options{ResumableThreshold: c.ResumableThreshold, ChunkSize: c.ChunkSize}
	reg := providers.NewRegistry()
	for _, name := range c.Providers {
		switch kind := providers.Kind(name); kind {
		case providers.GoogleDrive:
			reg.Register(kind, googledrive.Factory(googledrive.Config{Options: opts}))
		case providers.Dropbox:
			reg.Register(kind, dropbox.Factory(dropbox.Config{Options: opts}))
		case providers.S3:
			s3cfg := s3provider.Config{
				Bucket:       c.S3Bucket,
				Region:       c.S3Region,
				BaseEndpoint: c.S3BaseEndpoint,
				AccessKey:    c.S3AccessKey,
				SecretKey:    c.S3SecretKey,
				Options:      opts,
			}
			client, err := s3provider.NewClient(ctx, s3cfg)
			if err != nil {
				return nil, fmt.Errorf("s3 client: %w", err)
			}
			reg.Register(kind, s3provider.Factory(client, awss3.NewPresignClient(client), s3cfg))
		case providers.Memory:
			reg.Register(kind, memory.NewBackend(opts, clock).Factory())
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
	return reg, nil
}

// Close releases the cache and database handles.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	e.closers = nil
	return errors.Join(errs...)
}

type App struct {
	config *config.Config
	logger logging.Logger
	engine *Engine
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(c.LogFormat, c.LogLevel, os.Stdout)

	engine, err := Build(ctx, c, logger)
	if err != nil {
		return nil, fmt.Errorf("engine init error: %w", err)
	}
	return &App{config: c, logger: logger, engine: engine}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, gs.Services{
		Catalog:     app.engine.Catalog,
		Uploads:     app.engine.Uploads,
		Folders:     app.engine.Folders,
		Connections: app.engine.Tokens,
		Syncer:      app.engine.Syncer,
	}, app.engine.Kinds, app.config.SecretKey)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startSchedules(ctx context.Context) error {
	retention := app.config.SoftDeleteRetention
	err := app.engine.Scheduler.AddJob(ctx, app.config.PurgeSchedule, "purge", func(ctx context.Context) error {
		res, err := app.engine.Catalog.Purge(ctx, retention)
		if err != nil {
			return err
		}
		app.logger.Info(ctx, "purge finished", "purged", res.Purged, "failed", res.Failed)
		return nil
	})
	if err != nil {
		return err
	}
	return app.engine.Scheduler.Start(ctx)
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "providers", app.engine.Kinds, "storage", app.config.StorageBackend)

	app.initSignalHandler(cancelFunc)

	if err := app.startSchedules(ctx); err != nil {
		app.logger.Error(ctx, "scheduler start failed", "error", err)
		cancelFunc()
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), app.config.SyncRunDeadline+time.Minute)
	defer cancel()
	app.engine.Scheduler.Stop(stopCtx)

	if err := app.engine.Close(); err != nil {
		app.logger.Error(stopCtx, "engine close failed", "error", err)
	}
	app.logger.Info(stopCtx, "App stopped")
}
