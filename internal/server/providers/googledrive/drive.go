// Package googledrive adapts Google Drive v3 to providers.Provider.
//
// Metadata calls go through the drive/v3 client. Large uploads use the
// resumable session protocol directly so that a session survives the
// request that started it.
package googledrive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMime = "application/vnd.google-apps.folder"
	fileFields = "id, name, mimeType, size, parents, trashed, modifiedTime, webContentLink"

	defaultUploadURL = "https://www.googleapis.com/upload/drive/v3/files"
	pageSize         = 1000
	fullPrefix       = "full:"
)

type Config struct {
	// Endpoint overrides the Drive API base URL; UploadURL the upload
	// endpoint. Both are set by tests only.
	Endpoint  string
	UploadURL string
	Options   providers.Options
	// HTTPClient is the base transport the OAuth2 client wraps.
	HTTPClient *http.Client
}

type Adapter struct {
	svc       *drive.Service
	http      *http.Client
	uploadURL string
	opts      providers.Options
}

var _ providers.Provider = (*Adapter)(nil)

// Factory builds an adapter per request from the caller's access token.
func Factory(cfg Config) providers.Factory {
	return func(ctx context.Context, accessToken string) (providers.Provider, error) {
		return New(ctx, cfg, accessToken)
	}
}

func New(ctx context.Context, cfg Config, accessToken string) (*Adapter, error) {
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive client: %w", err)
	}

	uploadURL := cfg.UploadURL
	if uploadURL == "" {
		uploadURL = defaultUploadURL
	}
	return &Adapter{svc: svc, http: client, uploadURL: uploadURL, opts: cfg.Options.WithDefaults()}, nil
}

func (a *Adapter) Kind() providers.Kind { return providers.GoogleDrive }

// classify maps a drive/v3 error into the common taxonomy.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return providers.TransportError(providers.GoogleDrive, op, err)
	}
	if gerr.Code == http.StatusForbidden {
		for _, item := range gerr.Errors {
			switch item.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded", "dailyLimitExceeded":
				return providers.StatusError(providers.GoogleDrive, op, http.StatusTooManyRequests, gerr.Header, nil)
			}
		}
	}
	return providers.StatusError(providers.GoogleDrive, op, gerr.Code, gerr.Header, errors.New(gerr.Message))
}

func toItem(f *drive.File) *providers.Item {
	it := &providers.Item{
		ID:       f.Id,
		Name:     f.Name,
		IsFolder: f.MimeType == folderMime,
		MimeType: f.MimeType,
		Size:     f.Size,
	}
	if len(f.Parents) > 0 {
		it.ParentID = f.Parents[0]
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		it.ModifiedAt = t
	}
	return it
}

// quote escapes a value for a Drive search query.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func (a *Adapter) CreateFolder(ctx context.Context, parentID, name string) (*providers.Item, error) {
	if parentID == "" {
		parentID = "root"
	}
	q := fmt.Sprintf("name = %s and mimeType = '%s' and %s in parents and trashed = false",
		quote(name), folderMime, quote(parentID))
	list, err := a.svc.Files.List().Q(q).PageSize(1).
		Fields(googleapi.Field("files(" + fileFields + ")")).Context(ctx).Do()
	if err != nil {
		return nil, classify("create_folder", err)
	}
	if len(list.Files) > 0 {
		return toItem(list.Files[0]), nil
	}

	f, err := a.svc.Files.Create(&drive.File{Name: name, MimeType: folderMime, Parents: []string{parentID}}).
		Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return nil, classify("create_folder", err)
	}
	return toItem(f), nil
}

func (a *Adapter) Stat(ctx context.Context, itemID string) (*providers.Item, error) {
	f, err := a.svc.Files.Get(itemID).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return nil, classify("stat", err)
	}
	if f.Trashed {
		return nil, common.NewProviderError("google_drive", "stat", common.ErrorNotFound, 0, errors.New("item is trashed"))
	}
	return toItem(f), nil
}

func (a *Adapter) DeleteItem(ctx context.Context, itemID string) error {
	if err := a.svc.Files.Delete(itemID).Context(ctx).Do(); err != nil {
		return classify("delete", err)
	}
	return nil
}

// DownloadURL returns the file's content link. Drive links do not expire,
// so ttl only bounds how long the caller caches it.
func (a *Adapter) DownloadURL(ctx context.Context, itemID string, ttl time.Duration) (string, error) {
	f, err := a.svc.Files.Get(itemID).Fields("id, trashed, webContentLink").Context(ctx).Do()
	if err != nil {
		return "", classify("download_url", err)
	}
	if f.Trashed || f.WebContentLink == "" {
		return "", common.NewProviderError("google_drive", "download_url", common.ErrorNotFound, 0, nil)
	}
	return f.WebContentLink, nil
}

// ListChanges pages through the Changes API. An empty token starts a full
// listing: the start page token is taken first so nothing that changes
// while the listing runs is lost, then files are listed page by page.
func (a *Adapter) ListChanges(ctx context.Context, sinceToken string) (*providers.ChangeSet, error) {
	if sinceToken == "" {
		start, err := a.svc.Changes.GetStartPageToken().Context(ctx).Do()
		if err != nil {
			return nil, classify("list_changes", err)
		}
		return a.listFiles(ctx, start.StartPageToken, "")
	}
	if rest, ok := strings.CutPrefix(sinceToken, fullPrefix); ok {
		start, page, _ := strings.Cut(rest, ":")
		return a.listFiles(ctx, start, page)
	}

	cl, err := a.svc.Changes.List(sinceToken).IncludeRemoved(true).PageSize(pageSize).
		Fields(googleapi.Field("nextPageToken, newStartPageToken, changes(fileId, removed, file(" + fileFields + "))")).
		Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == http.StatusBadRequest || gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
			return nil, common.NewProviderError("google_drive", "list_changes", common.ErrStaleCursor, gerr.Code, err)
		}
		return nil, classify("list_changes", err)
	}

	cs := &providers.ChangeSet{}
	for _, c := range cl.Changes {
		ch := providers.Change{ItemID: c.FileId, Removed: c.Removed}
		if c.File != nil {
			if c.File.Trashed {
				ch.Removed = true
			} else {
				ch.Item = toItem(c.File)
			}
		}
		cs.Changes = append(cs.Changes, ch)
	}
	if cl.NextPageToken != "" {
		cs.NextToken, cs.HasMore = cl.NextPageToken, true
	} else {
		cs.NextToken = cl.NewStartPageToken
	}
	return cs, nil
}

func (a *Adapter) listFiles(ctx context.Context, start, page string) (*providers.ChangeSet, error) {
	call := a.svc.Files.List().Q("trashed = false").PageSize(pageSize).
		Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).Context(ctx)
	if page != "" {
		call = call.PageToken(page)
	}
	list, err := call.Do()
	if err != nil {
		return nil, classify("list_changes", err)
	}

	cs := &providers.ChangeSet{Full: true}
	for _, f := range list.Files {
		cs.Changes = append(cs.Changes, providers.Change{ItemID: f.Id, Item: toItem(f)})
	}
	if list.NextPageToken != "" {
		cs.NextToken, cs.HasMore = fullPrefix+start+":"+list.NextPageToken, true
	} else {
		cs.NextToken = start
	}
	return cs, nil
}
