package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/audit"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/files"
)

// maxWriteAttempts bounds re-reads after a lost version race.
const maxWriteAttempts = 5

// errUnchanged lets a mutation skip the write.
var errUnchanged = errors.New("unchanged")

// Patch is a metadata edit. Nil fields are left alone. BaseVersion is the
// version the caller last saw; zero means the version read here.
type Patch struct {
	Name        *string
	Tags        *[]string
	SortOrder   *int
	Visible     *bool
	BaseVersion int64
}

func (p Patch) validate() error {
	if p.Name != nil && (strings.TrimSpace(*p.Name) == "" || strings.ContainsAny(*p.Name, `/\`)) {
		return fmt.Errorf("%w: bad file name %q", common.ErrInvalidArgument, *p.Name)
	}
	if p.Name == nil && p.Tags == nil && p.SortOrder == nil && p.Visible == nil {
		return fmt.Errorf("%w: nothing to update", common.ErrInvalidArgument)
	}
	return nil
}

// apply writes the patch into f and returns the previous values of fields
// whose value it changed.
func (p Patch) apply(f *models.FileRecord) map[string]any {
	changed := map[string]any{}
	if p.Name != nil && *p.Name != f.Name {
		changed["name"] = f.Name
		f.Name = *p.Name
	}
	if p.Tags != nil && !slices.Equal(*p.Tags, f.Tags) {
		changed["tags"] = f.Tags
		f.Tags = slices.Clone(*p.Tags)
	}
	if p.SortOrder != nil && *p.SortOrder != f.SortOrder {
		changed["sort_order"] = f.SortOrder
		f.SortOrder = *p.SortOrder
	}
	if p.Visible != nil && *p.Visible != f.Visible {
		changed["visible"] = f.Visible
		f.Visible = *p.Visible
	}
	return changed
}

// mutate re-reads and re-applies fn until the versioned write lands. fn sees
// the freshest record, so fields it does not touch keep concurrent edits.
// When fn returns errUnchanged the record is returned along with it.
func (s *Service) mutate(ctx context.Context, userID, fileID string, fn func(f *models.FileRecord) error) (*models.FileRecord, error) {
	repo := s.repos.Files(s.repos.DB())
	for range maxWriteAttempts {
		f, err := s.ownFile(ctx, userID, fileID)
		if err != nil {
			return nil, err
		}
		if err := fn(f); errors.Is(err, errUnchanged) {
			return f, errUnchanged
		} else if err != nil {
			return nil, err
		}
		err = repo.Update(ctx, f)
		if errors.Is(err, common.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.cache.InvalidateGallery(ctx, f.GalleryID)
		return f, nil
	}
	return nil, fmt.Errorf("%w: file %s keeps changing", common.ErrVersionConflict, fileID)
}

// UpdateFile edits metadata of a live file. Concurrent edits of other fields
// are kept. When another writer changed a field this patch also sets, the
// patch wins and the overwritten value goes to the audit trail.
func (s *Service) UpdateFile(ctx context.Context, userID, fileID string, p Patch) (*models.FileSummary, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	base := p.BaseVersion
	var changed map[string]any
	var overwritten bool

	f, err := s.mutate(ctx, userID, fileID, func(f *models.FileRecord) error {
		if f.Deleted() {
			return common.ErrorNotFound
		}
		if base == 0 {
			base = f.Version
		}
		if changed = p.apply(f); len(changed) == 0 {
			return errUnchanged
		}
		overwritten = f.Version != base
		return nil
	})
	if errors.Is(err, errUnchanged) {
		sum := f.Summary()
		return &sum, nil
	}
	if err != nil {
		return nil, err
	}

	action := audit.ActionUpdate
	if overwritten {
		action = audit.ActionUpdateLWW
		s.log.Info(ctx, "concurrent edit overwritten", "user_id", userID, "file_id", fileID, "base_version", base)
	}
	s.audit.Record(ctx, audit.Entry{
		Time:     s.clock.Now(),
		UserID:   userID,
		Action:   action,
		Provider: f.Provider,
		FileID:   f.ID,
		Fields:   map[string]any{"previous": changed, "base_version": base, "version": f.Version},
	})
	sum := f.Summary()
	return &sum, nil
}

// DeleteFile soft-deletes a file. The provider file stays until purge.
func (s *Service) DeleteFile(ctx context.Context, userID, fileID string) error {
	now := s.clock.Now()
	f, err := s.mutate(ctx, userID, fileID, func(f *models.FileRecord) error {
		if f.Deleted() {
			return errUnchanged
		}
		f.DeletedAt = &now
		f.DeleteOrigin = common.DeleteOriginUser
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Entry{Time: now, UserID: userID, Action: audit.ActionDelete, Provider: f.Provider, FileID: f.ID})
	return nil
}

// RestoreFile undoes a soft delete. A file deleted remotely is restored only
// while the provider still has it.
func (s *Service) RestoreFile(ctx context.Context, userID, fileID string) (*models.FileSummary, error) {
	f, err := s.ownFile(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if f.Deleted() && f.DeleteOrigin == common.DeleteOriginRemote {
		err := s.calls.Do(ctx, userID, providers.Kind(f.Provider), "stat", func(ctx context.Context, p providers.Provider) error {
			_, err := p.Stat(ctx, f.ProviderFileID)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	f, err = s.mutate(ctx, userID, fileID, func(f *models.FileRecord) error {
		if !f.Deleted() {
			return errUnchanged
		}
		f.DeletedAt = nil
		f.DeleteOrigin = ""
		return nil
	})
	if errors.Is(err, errUnchanged) {
		sum := f.Summary()
		return &sum, nil
	}
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Entry{Time: s.clock.Now(), UserID: userID, Action: audit.ActionRestore, Provider: f.Provider, FileID: f.ID})
	sum := f.Summary()
	return &sum, nil
}

type PurgeResult struct {
	Purged int `json:"purged"`
	// Failed counts records kept because their provider file could not be
	// removed; they are retried by the next purge.
	Failed int `json:"failed"`
}

const purgeBatch = 100

// Purge hard-deletes records soft-deleted more than retention ago. Provider
// files of user deletes are removed first; remote deletes have none left.
func (s *Service) Purge(ctx context.Context, retention time.Duration) (*PurgeResult, error) {
	if retention < 0 {
		return nil, fmt.Errorf("%w: negative retention", common.ErrInvalidArgument)
	}
	cutoff := s.clock.Now().Add(-retention)
	repo := s.repos.Files(s.repos.DB())
	res := &PurgeResult{}
	skip := map[string]bool{}

	for {
		batch, err := repo.ListDeletedBefore(ctx, cutoff, purgeBatch+len(skip))
		if err != nil {
			return res, err
		}
		progressed := false
		for _, f := range batch {
			if skip[f.ID] {
				continue
			}
			if err := s.purgeOne(ctx, repo, f); err != nil {
				s.log.Warn(ctx, "purge skipped file", "file_id", f.ID, "provider", f.Provider, "error", err)
				skip[f.ID] = true
				res.Failed++
				continue
			}
			progressed = true
			res.Purged++
		}
		if !progressed || len(batch) < purgeBatch+len(skip) {
			return res, nil
		}
	}
}

func (s *Service) purgeOne(ctx context.Context, repo files.Repository, f *models.FileRecord) error {
	if f.DeleteOrigin != common.DeleteOriginRemote {
		err := s.calls.Do(ctx, f.UserID, providers.Kind(f.Provider), "delete", func(ctx context.Context, p providers.Provider) error {
			return p.DeleteItem(ctx, f.ProviderFileID)
		})
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}
		s.cache.InvalidateURL(ctx, providers.Kind(f.Provider), f.ProviderFileID)
	}
	if err := repo.Delete(ctx, f.ID); err != nil {
		return err
	}
	s.cache.InvalidateGallery(ctx, f.GalleryID)
	s.audit.Record(ctx, audit.Entry{Time: s.clock.Now(), UserID: f.UserID, Action: audit.ActionPurge, Provider: f.Provider, FileID: f.ID})
	return nil
}
