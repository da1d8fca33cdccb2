package catalog

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/auth"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
)

// FileLink issues an application link for a live file. The link hides the
// provider and can be re-derived at any time.
func (s *Service) FileLink(ctx context.Context, userID, fileID string) (string, time.Time, error) {
	f, err := s.ownFile(ctx, userID, fileID)
	if err != nil {
		return "", time.Time{}, err
	}
	if f.Deleted() {
		return "", time.Time{}, common.ErrorNotFound
	}
	return auth.GenerateLinkToken(f.ID, f.UserID, s.cfg.LinkSecret, s.cfg.LinkTTL)
}

// ResolveLink turns a link into the provider download URL, served from the
// cache while the provider URL is still valid.
func (s *Service) ResolveLink(ctx context.Context, link string) (string, error) {
	claims, err := auth.ParseLinkToken(link, s.cfg.LinkSecret)
	if err != nil {
		return "", err
	}
	f, err := s.ownFile(ctx, claims.UserID, claims.FileID)
	if err != nil {
		return "", err
	}
	if f.Deleted() {
		return "", common.ErrorNotFound
	}

	kind := providers.Kind(f.Provider)
	if url, ok := s.cache.GetURL(ctx, kind, f.ProviderFileID); ok {
		return url, nil
	}
	var url string
	err = s.calls.Do(ctx, f.UserID, kind, "download_url", func(ctx context.Context, p providers.Provider) error {
		var err error
		url, err = p.DownloadURL(ctx, f.ProviderFileID, s.cfg.ProviderURLTTL)
		return err
	})
	if err != nil {
		return "", err
	}
	// leave a margin so a cached URL never expires in the caller's hands
	s.cache.PutURL(ctx, kind, f.ProviderFileID, url, s.cfg.ProviderURLTTL*9/10)
	return url, nil
}
