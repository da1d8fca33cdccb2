// Package catalog serves the read side of the engine and the metadata edits
// callers make on tracked files.
package catalog

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/audit"
	"github.com/dmitrijs2005/gophsync/internal/server/cache"
	"github.com/dmitrijs2005/gophsync/internal/server/connector"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/server/ratelimit"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophsync/internal/timex"
)

type Caller interface {
	Do(ctx context.Context, userID string, kind providers.Kind, op string, fn connector.Call) error
}

// Usage is implemented by *ratelimit.Limiter.
type Usage interface {
	Snapshot(ctx context.Context, kinds []providers.Kind) []ratelimit.Usage
}

type Config struct {
	// LinkSecret signs application-issued file links.
	LinkSecret []byte
	LinkTTL    time.Duration
	// ProviderURLTTL is requested from providers for download URLs.
	ProviderURLTTL time.Duration
	// Providers lists the enabled kinds, for the usage snapshot.
	Providers []providers.Kind
}

type Service struct {
	repos repomanager.RepositoryManager
	calls Caller
	cache *cache.Cache
	usage Usage
	audit audit.Sink
	clock timex.Clock
	cfg   Config
	log   logging.Logger
}

func New(repos repomanager.RepositoryManager, calls Caller, c *cache.Cache, usage Usage, sink audit.Sink,
	cfg Config, clock timex.Clock, log logging.Logger) *Service {
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 15 * time.Minute
	}
	if cfg.ProviderURLTTL <= 0 {
		cfg.ProviderURLTTL = time.Hour
	}
	if clock == nil {
		clock = timex.RealClock{}
	}
	return &Service{
		repos: repos,
		calls: calls,
		cache: c,
		usage: usage,
		audit: sink,
		clock: clock,
		cfg:   cfg,
		log:   log.With("module", "catalog"),
	}
}

// ListConnections returns the user's connections without any secret.
func (s *Service) ListConnections(ctx context.Context, userID string) ([]models.ConnectionSummary, error) {
	cached, hit := s.cache.GetConnections(ctx, userID)
	if hit {
		return cached.Items, nil
	}
	conns, err := s.repos.Connections(s.repos.DB()).ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.ConnectionSummary, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Summary())
	}
	s.cache.PutConnections(ctx, userID, cached.Gen, out)
	return out, nil
}

type ListOptions struct {
	IncludeDeleted bool
	IncludeHidden  bool
}

func (o ListOptions) variant() string {
	v := "live"
	if o.IncludeDeleted {
		v += "+deleted"
	}
	if o.IncludeHidden {
		v += "+hidden"
	}
	return v
}

func (o ListOptions) keep(f *models.FileRecord) bool {
	return (o.IncludeDeleted || !f.Deleted()) && (o.IncludeHidden || f.Visible)
}

// ListGalleryFiles lists a gallery's files in display order. Soft-deleted and
// hidden files are left out unless opts asks for them.
func (s *Service) ListGalleryFiles(ctx context.Context, userID, galleryID string, opts ListOptions) ([]models.FileSummary, error) {
	if err := s.ownGallery(ctx, userID, galleryID); err != nil {
		return nil, err
	}
	cached, hit := s.cache.GetListing(ctx, galleryID, opts.variant())
	if hit {
		return cached.Items, nil
	}
	recs, err := s.repos.Files(s.repos.DB()).ListByGallery(ctx, galleryID)
	if err != nil {
		return nil, err
	}
	out := make([]models.FileSummary, 0, len(recs))
	for _, f := range recs {
		if opts.keep(f) {
			out = append(out, f.Summary())
		}
	}
	s.cache.PutListing(ctx, galleryID, opts.variant(), cached.Gen, out)
	return out, nil
}

// RateLimitSnapshot reports budget use and backoff of every enabled provider.
func (s *Service) RateLimitSnapshot(ctx context.Context) []ratelimit.Usage {
	return s.usage.Snapshot(ctx, s.cfg.Providers)
}

func (s *Service) ownGallery(ctx context.Context, userID, galleryID string) error {
	g, err := s.repos.Galleries(s.repos.DB()).Get(ctx, galleryID)
	if err != nil {
		return err
	}
	if g.UserID != userID {
		return common.ErrorNotFound
	}
	return nil
}

// ownFile loads a record of userID. Records of other users are reported as
// missing.
func (s *Service) ownFile(ctx context.Context, userID, fileID string) (*models.FileRecord, error) {
	f, err := s.repos.Files(s.repos.DB()).Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.UserID != userID {
		return nil, common.ErrorNotFound
	}
	return f, nil
}
