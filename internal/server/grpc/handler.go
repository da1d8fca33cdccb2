package grpc

import (
	"context"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/gophsync/internal/api"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/catalog"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"golang.org/x/oauth2"
)

func (s *GRPCServer) kind(name string) (providers.Kind, error) {
	k := providers.Kind(name)
	if !slices.Contains(s.providers, k) {
		return "", fmt.Errorf("%w: unknown provider %q", common.ErrInvalidArgument, name)
	}
	return k, nil
}

func (s *GRPCServer) ListConnections(ctx context.Context, req *api.Empty) (*api.ListConnectionsResponse, error) {
	list, err := s.svc.Catalog.ListConnections(ctx, userIDFrom(ctx))
	if err != nil {
		return nil, s.toStatus(ctx, api.MethodListConnections, err)
	}
	out := &api.ListConnectionsResponse{Connections: make([]api.Connection, 0, len(list))}
	for _, c := range list {
		out.Connections = append(out.Connections, toConnection(c))
	}
	return out, nil
}

func (s *GRPCServer) RegisterConnection(ctx context.Context, req *api.RegisterConnectionRequest) (*api.Connection, error) {
	kind, err := s.kind(req.Provider)
	if err != nil {
		return nil, s.toStatus(ctx, api.MethodRegisterConnection, err)
	}
	sum, err := s.svc.Connections.Connect(ctx, userIDFrom(ctx), kind, &oauth2.Token{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		Expiry:       req.ExpiresAt,
	})
	if err != nil {
		return nil, s.toStatus(ctx, api.MethodRegisterConnection, err)
	}
	s.logger.Info(ctx, "connection registered", "user_id", userIDFrom(ctx), "provider", kind)
	out := toConnection(*sum)
	return &out, nil
}

func (s *GRPCServer) EnsureGalleryFolder(ctx context.Context, req *api.EnsureGalleryFolderRequest) (*api.EnsureGalleryFolderResponse, error) {
	kind, err := s.kind(req.Provider)
	if err != nil {
		return nil, s.toStatus(ctx, api.MethodEnsureGalleryFolder, err)
	}
	m, err := s.svc.Folders.EnsureGalleryFolder(ctx, userIDFrom(ctx), req.GalleryID, kind)
	if err != nil {
		return nil, s.toStatus(ctx, api.MethodEnsureGalleryFolder, err)
	}
	return &api.EnsureGalleryFolderResponse{
		GalleryID:  m.GalleryID,
		Provider:   m.Provider,
		FolderPath: m.FolderPath,
	}, nil
}

func (s *GRPCServer) ListGalleryFiles(ctx context.Context, req *api.ListGalleryFilesRequest) (*api.ListGalleryFilesResponse, error) {
	list, err := s.svc.Catalog.ListGalleryFiles(ctx, userIDFrom(ctx), req.GalleryID, catalog.ListOptions{
		IncludeDeleted: req.IncludeDeleted,
		IncludeHidden:  req.IncludeHidden,
	})
	if err != nil {
		return nil, s.toStatus(ctx, api.MethodListGalleryFiles, err)
	}
	out := &api.ListGalleryFilesResponse{Files: make([]api.File, 0, len(list))}
	for _, f := range list {
		out.Files = append(out.Files, toFile(f))
	}
	return out, nil
}

func (s *GRPCServer) UpdateFile(ctx context.Context, req *api.UpdateFileRequest) (*api.File, error) {
	sum, err := s.svc.Catalog.UpdateFile(ctx, userIDFrom(ctx), req.FileID, catalog.Patch{
		Name:        req.Name,
		Tags:        req.Tags,
		SortOrder:   req.SortOrder,
		Visible:     req.Visible,
		BaseVersion: req.BaseVersion,
	})
	if err != nil {
		return nil, s.toStatus(ctx, api.MethodUpdateFile, err)
	}
	out := toFile(*sum)
	return &out, nil
}

func (s *GRPCServer) DeleteFile(ctx context.Context, req *api.FileRequest) (*api.Empty, error) {
	if err := s.svc.Catalog.DeleteFile(ctx, userIDFrom(ctx), req.FileID); err != nil {
		return nil, s.toStatus(ctx, api.MethodDeleteFile, err)
	}
	return &api.Empty{}, nil
}

func (s *GRPCServer) RestoreFile(ctx context.Context, req *api.FileRequest) (*api.File, error) {
	sum, err := s.svc.Catalog.RestoreFile(ctx, userIDFrom(ctx), req.FileID)
	if err != nil {
		return nil, s.toStatus(ctx, api.MethodRestoreFile, err)
	}
	out := toFile(*sum)
	return &out, nil
}

func (s *GRPCServer) GetFileLink(ctx context.Context, req *api.FileRequest) (*api.FileLinkResponse, error) {
	link, expires, err := s.svc.Catalog.FileLink(ctx, userIDFrom(ctx), req.FileID)
	if err != nil {
		return nil, s.toStatus(ctx, api.MethodGetFileLink, err)
	}
	return &api.FileLinkResponse{Link: link, ExpiresAt: expires}, nil
}

// ResolveFileLink is public: the link itself is the credential.
func (s *GRPCServer) ResolveFileLink(ctx context.Context, req *api.ResolveFileLinkRequest) (*api.ResolveFileLinkResponse, error) {
	url, err := s.svc.Catalog.ResolveLink(ctx, req.Link)
	if err != nil {
		return nil, s.toStatus(ctx, api.MethodResolveFileLink, err)
	}
	return &api.ResolveFileLinkResponse{URL: url}, nil
}

func (s *GRPCServer) RateLimitSnapshot(ctx context.Context, req *api.Empty) (*api.RateLimitSnapshotResponse, error) {
	list := s.svc.Catalog.RateLimitSnapshot(ctx)
	out := &api.RateLimitSnapshotResponse{Providers: make([]api.Usage, 0, len(list))}
	for _, u := range list {
		out.Providers = append(out.Providers, api.Usage{
			Provider:     string(u.Provider),
			HourlyUsed:   u.HourlyUsed,
			HourlyLimit:  u.HourlyLimit,
			DailyUsed:    u.DailyUsed,
			DailyLimit:   u.DailyLimit,
			BackoffUntil: u.BackoffUntil,
		})
	}
	return out, nil
}

func (s *GRPCServer) ListConflicts(ctx context.Context, req *api.ListConflictsRequest) (*api.ListConflictsResponse, error) {
	list, err := s.svc.Catalog.ListConflicts(ctx, userIDFrom(ctx), models.ConflictStatus(req.Status))
	if err != nil {
		return nil, s.toStatus(ctx, api.MethodListConflicts, err)
	}
	out := &api.ListConflictsResponse{Conflicts: make([]api.Conflict, 0, len(list))}
	for _, c := range list {
		out.Conflicts = append(out.Conflicts, toConflict(c))
	}
	return out, nil
}

func (s *GRPCServer) ResolveConflict(ctx context.Context, req *api.ResolveConflictRequest) (*api.Empty, error) {
	if err := s.svc.Catalog.ResolveConflict(ctx, userIDFrom(ctx), req.ID, req.Resolution); err != nil {
		return nil, s.toStatus(ctx, api.MethodResolveConflict, err)
	}
	return &api.Empty{}, nil
}

func (s *GRPCServer) TriggerSync(ctx context.Context, req *api.TriggerSyncRequest) (*api.SyncResult, error) {
	kind, err := s.kind(req.Provider)
	if err != nil {
		return nil, s.toStatus(ctx, api.MethodTriggerSync, err)
	}
	res, err := s.svc.Syncer.Run(ctx, userIDFrom(ctx), kind)
	if err != nil {
		return nil, s.toStatus(ctx, api.MethodTriggerSync, err)
	}
	return &api.SyncResult{
		Full:      res.Full,
		Restarted: res.Restarted,
		Pages:     res.Pages,
		Changes:   res.Changes,
		Deleted:   res.Deleted,
		Renamed:   res.Renamed,
		Moved:     res.Moved,
		Restored:  res.Restored,
		Unmanaged: res.Unmanaged,
		Conflicts: res.Conflicts,
	}, nil
}

func toConnection(c models.ConnectionSummary) api.Connection {
	return api.Connection{
		Provider:  c.Provider,
		Status:    string(c.Status),
		LastError: c.LastError,
		ExpiresAt: c.ExpiresAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toFile(f models.FileSummary) api.File {
	return api.File{
		ID:        f.ID,
		GalleryID: f.GalleryID,
		Provider:  f.Provider,
		Name:      f.Name,
		MimeType:  f.MimeType,
		Size:      f.Size,
		Tags:      f.Tags,
		SortOrder: f.SortOrder,
		Visible:   f.Visible,
		Version:   f.Version,
		DeletedAt: f.DeletedAt,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

func toConflict(c *models.SyncConflict) api.Conflict {
	return api.Conflict{
		ID:         c.ID,
		Provider:   c.Provider,
		Kind:       string(c.Kind),
		GalleryID:  c.GalleryID,
		FileID:     c.FileID,
		Detail:     c.Detail,
		Status:     string(c.Status),
		Resolution: c.Resolution,
		CreatedAt:  c.CreatedAt,
		ResolvedAt: c.ResolvedAt,
	}
}
