package dropbox

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
)

// metadata is a file, folder or deleted entry.
type metadata struct {
	Tag            string    `json:".tag"`
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PathDisplay    string    `json:"path_display"`
	Size           int64     `json:"size"`
	ContentHash    string    `json:"content_hash,omitempty"`
	ServerModified time.Time `json:"server_modified"`
}

func (m *metadata) item() *providers.Item {
	return &providers.Item{
		ID:         m.ID,
		Name:       m.Name,
		Path:       m.PathDisplay,
		IsFolder:   m.Tag == "folder",
		Size:       m.Size,
		ModifiedAt: m.ServerModified,
	}
}

type pathArg struct {
	Path string `json:"path"`
}

// resolve returns the display path of a folder id; "" is the app root.
func (a *Adapter) resolve(ctx context.Context, op, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	var m metadata
	if err := a.rpc(ctx, op, "/files/get_metadata", pathArg{id}, &m); err != nil {
		return "", err
	}
	if m.Tag != "folder" {
		return "", common.NewProviderError("dropbox", op, common.ErrorNotFound, 0, errors.New("not a folder"))
	}
	return m.PathDisplay, nil
}

func (a *Adapter) CreateFolder(ctx context.Context, parentID, name string) (*providers.Item, error) {
	parent, err := a.resolve(ctx, "create_folder", parentID)
	if err != nil {
		return nil, err
	}
	p := path.Join("/", parent, name)

	var out struct {
		Metadata metadata `json:"metadata"`
	}
	err = a.rpc(ctx, "create_folder", "/files/create_folder_v2", struct {
		Path       string `json:"path"`
		Autorename bool   `json:"autorename"`
	}{p, false}, &out)
	var ee *endpointError
	if errors.As(err, &ee) && ee.has("conflict/folder") {
		// already there
		var m metadata
		if err := a.rpc(ctx, "create_folder", "/files/get_metadata", pathArg{p}, &m); err != nil {
			return nil, err
		}
		return m.item(), nil
	}
	if err != nil {
		return nil, err
	}
	out.Metadata.Tag = "folder"
	return out.Metadata.item(), nil
}

func (a *Adapter) Stat(ctx context.Context, itemID string) (*providers.Item, error) {
	var m metadata
	if err := a.rpc(ctx, "stat", "/files/get_metadata", pathArg{itemID}, &m); err != nil {
		return nil, err
	}
	if m.Tag == "deleted" {
		return nil, common.NewProviderError("dropbox", "stat", common.ErrorNotFound, 0, nil)
	}
	return m.item(), nil
}

func (a *Adapter) DeleteItem(ctx context.Context, itemID string) error {
	return a.rpc(ctx, "delete", "/files/delete_v2", pathArg{itemID}, nil)
}

// DownloadURL returns a temporary link. Dropbox links live four hours
// regardless of ttl.
func (a *Adapter) DownloadURL(ctx context.Context, itemID string, ttl time.Duration) (string, error) {
	var out struct {
		Link string `json:"link"`
	}
	if err := a.rpc(ctx, "download_url", "/files/get_temporary_link", pathArg{itemID}, &out); err != nil {
		return "", err
	}
	return out.Link, nil
}

const fullPrefix = "full:"

type listResult struct {
	Entries []metadata `json:"entries"`
	Cursor  string     `json:"cursor"`
	HasMore bool       `json:"has_more"`
}

// ListChanges lists the app folder recursively. The cursor of a completed
// listing is the incremental token; while a full listing is still paging
// its cursor carries a prefix so the pages keep their Full flag.
func (a *Adapter) ListChanges(ctx context.Context, sinceToken string) (*providers.ChangeSet, error) {
	var res listResult
	full := sinceToken == ""
	var err error
	switch {
	case full:
		err = a.rpc(ctx, "list_changes", "/files/list_folder", struct {
			Path           string `json:"path"`
			Recursive      bool   `json:"recursive"`
			IncludeDeleted bool   `json:"include_deleted"`
		}{"", true, false}, &res)
	default:
		cursor, isFull := strings.CutPrefix(sinceToken, fullPrefix)
		full = isFull
		err = a.rpc(ctx, "list_changes", "/files/list_folder/continue", struct {
			Cursor string `json:"cursor"`
		}{cursor}, &res)
	}
	if err != nil {
		return nil, err
	}

	cs := &providers.ChangeSet{Full: full, HasMore: res.HasMore, NextToken: res.Cursor}
	if full && res.HasMore {
		cs.NextToken = fullPrefix + res.Cursor
	}
	for i := range res.Entries {
		m := &res.Entries[i]
		if m.Tag == "deleted" {
			cs.Changes = append(cs.Changes, providers.Change{Path: m.PathDisplay, Removed: true})
			continue
		}
		cs.Changes = append(cs.Changes, providers.Change{ItemID: m.ID, Path: m.PathDisplay, Item: m.item()})
	}
	return cs, nil
}

