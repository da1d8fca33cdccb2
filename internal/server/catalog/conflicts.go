package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

// ListConflicts lists conflicts of userID; an empty userID lists everyone's,
// which only the operator CLI does.
func (s *Service) ListConflicts(ctx context.Context, userID string, status models.ConflictStatus) ([]*models.SyncConflict, error) {
	return s.repos.Conflicts(s.repos.DB()).List(ctx, userID, status)
}

// ResolveConflict closes an open conflict with a free-form resolution note.
func (s *Service) ResolveConflict(ctx context.Context, userID, conflictID, resolution string) error {
	if strings.TrimSpace(resolution) == "" {
		return fmt.Errorf("%w: resolution is required", common.ErrInvalidArgument)
	}
	repo := s.repos.Conflicts(s.repos.DB())
	c, err := repo.Get(ctx, conflictID)
	if err != nil {
		return err
	}
	if userID != "" && c.UserID != userID {
		return common.ErrorNotFound
	}
	if err := repo.Resolve(ctx, conflictID, resolution); err != nil {
		return err
	}
	s.log.Info(ctx, "conflict resolved", "conflict_id", conflictID, "kind", c.Kind, "user_id", c.UserID)
	return nil
}
