// Package uploads coordinates a single file upload from the caller's stream
// to a persisted FileRecord.
package uploads

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/filex"
	"github.com/dmitrijs2005/gophsync/internal/keylock"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/audit"
	"github.com/dmitrijs2005/gophsync/internal/server/cache"
	"github.com/dmitrijs2005/gophsync/internal/server/connector"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

type Caller interface {
	Do(ctx context.Context, userID string, kind providers.Kind, op string, fn connector.Call) error
}

// FolderResolver is implemented by *folders.Manager.
type FolderResolver interface {
	EnsureGalleryFolder(ctx context.Context, userID, galleryID string, kind providers.Kind) (*models.FolderMapping, error)
}

type Config struct {
	SpoolDir string
	// MaxSize bounds a single upload; zero means unlimited.
	MaxSize int64
}

type Request struct {
	UserID    string
	GalleryID string
	Provider  providers.Kind
	Body      io.Reader
	Name      string
	MimeType  string
}

type Orchestrator struct {
	repos   repomanager.RepositoryManager
	calls   Caller
	folders FolderResolver
	cache   *cache.Cache
	audit   audit.Sink
	locks   *keylock.Locker
	cfg     Config
	log     logging.Logger
}

func New(repos repomanager.RepositoryManager, calls Caller, folders FolderResolver, c *cache.Cache,
	sink audit.Sink, cfg Config, log logging.Logger) *Orchestrator {
	return &Orchestrator{
		repos:   repos,
		calls:   calls,
		folders: folders,
		cache:   c,
		audit:   sink,
		locks:   keylock.New(),
		cfg:     cfg,
		log:     log.With("module", "uploads"),
	}
}

func validate(req *Request) error {
	switch {
	case req.UserID == "", req.GalleryID == "", req.Provider == "":
		return fmt.Errorf("%w: user, gallery and provider are required", common.ErrInvalidArgument)
	case req.Body == nil:
		return fmt.Errorf("%w: empty body", common.ErrInvalidArgument)
	case strings.TrimSpace(req.Name) == "", strings.ContainsAny(req.Name, `/\`):
		return fmt.Errorf("%w: bad file name %q", common.ErrInvalidArgument, req.Name)
	}
	return nil
}

// sessionKey identifies the resumable state of one (destination, content)
// pair across attempts and restarts.
func sessionKey(req *Request, folderID, checksum string) string {
	h := sha256.Sum256([]byte(strings.Join([]string{req.UserID, string(req.Provider), folderID, req.Name, checksum}, "\x00")))
	return hex.EncodeToString(h[:16])
}

// Upload stores req.Body with the provider and records it. An identical
// completed upload to the same gallery returns the existing record. Nothing
// is persisted when the provider did not confirm the file.
func (o *Orchestrator) Upload(ctx context.Context, req Request) (*models.FileSummary, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}
	log := o.log.With("user_id", req.UserID, "provider", req.Provider, "gallery_id", req.GalleryID)

	spooled, err := filex.Spool(req.Body, o.cfg.SpoolDir, o.cfg.MaxSize)
	if err != nil {
		if errors.Is(err, filex.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %v", common.ErrInvalidArgument, err)
		}
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	defer func() {
		if err := spooled.Close(); err != nil {
			log.Warn(ctx, "spool cleanup failed", "error", err)
		}
	}()

	unlock, err := o.locks.Lock(ctx, strings.Join([]string{req.GalleryID, string(req.Provider), spooled.Checksum, req.Name}, ":"))
	if err != nil {
		return nil, err
	}
	defer unlock()

	files := o.repos.Files(o.repos.DB())
	existing, err := files.FindByChecksum(ctx, req.GalleryID, string(req.Provider), spooled.Checksum, req.Name)
	switch {
	case err == nil:
		if existing.UserID == req.UserID {
			log.Debug(ctx, "identical upload already stored", "file_id", existing.ID)
			s := existing.Summary()
			return &s, nil
		}
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}

	fm, err := o.folders.EnsureGalleryFolder(ctx, req.UserID, req.GalleryID, req.Provider)
	if err != nil {
		return nil, err
	}

	key := sessionKey(&req, fm.FolderID, spooled.Checksum)
	session, _ := o.cache.GetSession(ctx, key)
	if session != nil && session.Size != spooled.Size {
		session = nil
	}
	upload := &providers.UploadRequest{
		FolderID: fm.FolderID,
		Name:     req.Name,
		MimeType: req.MimeType,
		Content:  spooled,
		Size:     spooled.Size,
		Checkpoint: func(ctx context.Context, s providers.UploadSession) {
			session = &s
			o.cache.PutSession(ctx, key, s)
		},
	}

	var item *providers.Item
	err = o.calls.Do(ctx, req.UserID, req.Provider, "upload", func(ctx context.Context, p providers.Provider) error {
		// every attempt continues from the last confirmed chunk
		upload.Session = session
		var err error
		item, err = p.UploadFile(ctx, upload)
		return err
	})
	if err != nil {
		log.Warn(ctx, "upload failed", "error", err, "resumable", session != nil)
		return nil, err
	}
	o.cache.DeleteSession(ctx, key)

	rec := &models.FileRecord{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		GalleryID:      req.GalleryID,
		Provider:       string(req.Provider),
		ProviderFileID: item.ID,
		ProviderPath:   item.Path,
		Name:           req.Name,
		MimeType:       req.MimeType,
		Size:           spooled.Size,
		Checksum:       spooled.Checksum,
		Tags:           []string{},
		Visible:        true,
	}
	if item.Name != "" {
		rec.Name = item.Name
	}
	if err := files.Create(ctx, rec); err != nil {
		log.Error(ctx, "file record write failed, removing provider file", "error", err)
		o.discard(ctx, req.UserID, req.Provider, item.ID)
		return nil, err
	}

	o.cache.InvalidateGallery(ctx, req.GalleryID)
	o.audit.Record(ctx, audit.Entry{
		UserID:   req.UserID,
		Action:   audit.ActionUpload,
		Provider: string(req.Provider),
		FileID:   rec.ID,
		Fields:   map[string]any{"name": rec.Name, "size": rec.Size, "gallery_id": rec.GalleryID},
	})
	log.Info(ctx, "file uploaded", "file_id", rec.ID, "size", rec.Size)
	s := rec.Summary()
	return &s, nil
}

// discard deletes an orphaned provider file. Failures are only logged: the
// file then shows up as unmanaged in the next sync.
func (o *Orchestrator) discard(ctx context.Context, userID string, kind providers.Kind, itemID string) {
	err := o.calls.Do(context.WithoutCancel(ctx), userID, kind, "delete", func(ctx context.Context, p providers.Provider) error {
		return p.DeleteItem(ctx, itemID)
	})
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		o.log.Warn(ctx, "orphan cleanup failed", "user_id", userID, "provider", kind, "error", err)
	}
}
