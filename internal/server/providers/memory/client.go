package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/google/uuid"
)

// Client is a request-scoped view of a Backend.
type Client struct {
	backend *Backend
	token   string
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Kind() providers.Kind { return providers.Memory }

func notFound(op, id string) error {
	return common.NewProviderError("memory", op, common.ErrorNotFound, 404, fmt.Errorf("item %s", id))
}

func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (*providers.Item, error) {
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("create_folder", c.token); err != nil {
		return nil, err
	}
	if parentID != "" {
		if p, ok := b.objects[parentID]; !ok || !p.item.IsFolder {
			return nil, notFound("create_folder", parentID)
		}
	}
	for _, o := range b.objects {
		if o.item.IsFolder && o.item.ParentID == parentID && o.item.Name == name {
			return b.snapshot(o), nil
		}
	}
	return b.snapshot(b.put(parentID, name, "", true, nil)), nil
}

func (c *Client) Stat(ctx context.Context, itemID string) (*providers.Item, error) {
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("stat", c.token); err != nil {
		return nil, err
	}
	o, ok := b.objects[itemID]
	if !ok {
		return nil, notFound("stat", itemID)
	}
	return b.snapshot(o), nil
}

func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("delete", c.token); err != nil {
		return err
	}
	if _, ok := b.objects[itemID]; !ok {
		return notFound("delete", itemID)
	}
	b.remove(itemID)
	return nil
}

func (c *Client) DownloadURL(ctx context.Context, itemID string, ttl time.Duration) (string, error) {
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("download_url", c.token); err != nil {
		return "", err
	}
	if _, ok := b.objects[itemID]; !ok {
		return "", notFound("download_url", itemID)
	}
	return fmt.Sprintf("memory://%s?expires=%d", itemID, b.clock.Now().Add(ttl).Unix()), nil
}

func (c *Client) UploadFile(ctx context.Context, req *providers.UploadRequest) (*providers.Item, error) {
	b := c.backend
	b.mu.Lock()
	if err := b.enter("upload", c.token); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	if p, ok := b.objects[req.FolderID]; !ok || !p.item.IsFolder {
		b.mu.Unlock()
		return nil, notFound("upload", req.FolderID)
	}
	threshold, chunk := b.opts.ResumableThreshold, b.opts.ChunkSize
	b.mu.Unlock()

	if req.Size <= threshold {
		data := make([]byte, req.Size)
		if _, err := req.Content.ReadAt(data, 0); err != nil && err != io.EOF {
			return nil, err
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.snapshot(b.put(req.FolderID, req.Name, req.MimeType, false, data)), nil
	}
	return c.resumable(ctx, req, chunk)
}

func (c *Client) resumable(ctx context.Context, req *providers.UploadRequest, chunk int64) (*providers.Item, error) {
	b := c.backend

	b.mu.Lock()
	var id string
	var s *session
	if req.Session != nil {
		if existing, ok := b.sessions[req.Session.ID]; ok && existing.size == req.Size {
			id, s = req.Session.ID, existing
		}
	}
	if s == nil {
		id = uuid.NewString()
		s = &session{folderID: req.FolderID, name: req.Name, mimeType: req.MimeType, size: req.Size}
		b.sessions[id] = s
	}
	b.mu.Unlock()

	buf := make([]byte, chunk)
	for {
		b.mu.Lock()
		offset := int64(len(s.data))
		b.mu.Unlock()
		if offset >= req.Size {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n := min(chunk, req.Size-offset)
		if _, err := req.Content.ReadAt(buf[:n], offset); err != nil && err != io.EOF {
			return nil, err
		}

		b.mu.Lock()
		b.calls["upload_chunk"]++
		s.data = append(s.data, buf[:n]...)
		confirmed := int64(len(s.data))
		broken := b.interrupt > 0 && confirmed >= b.interrupt && confirmed < req.Size
		if broken {
			b.interrupt = 0
		}
		b.mu.Unlock()

		if req.Checkpoint != nil {
			req.Checkpoint(ctx, providers.UploadSession{
				Provider: providers.Memory, ID: id, Offset: confirmed, Size: req.Size,
			})
		}
		if broken {
			return nil, common.NewProviderError("memory", "upload", common.ErrProviderUnavailable, 503,
				fmt.Errorf("connection reset after %d bytes", confirmed))
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
	return b.snapshot(b.put(s.folderID, s.name, s.mimeType, false, s.data)), nil
}

func (c *Client) ListChanges(ctx context.Context, sinceToken string) (*providers.ChangeSet, error) {
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("list_changes", c.token); err != nil {
		return nil, err
	}

	if sinceToken == "" {
		return b.fullPage(cursor{full: true, epoch: b.epoch, seq: b.seq}), nil
	}
	cur, err := parseToken(sinceToken)
	if err != nil {
		return nil, common.NewProviderError("memory", "list_changes", common.ErrStaleCursor, 400, err)
	}
	if cur.epoch != b.epoch || cur.seq > b.seq {
		return nil, common.NewProviderError("memory", "list_changes", common.ErrStaleCursor, 410, nil)
	}
	if cur.full {
		return b.fullPage(cur), nil
	}

	cs := &providers.ChangeSet{}
	for _, e := range b.log {
		if e.seq <= cur.seq {
			continue
		}
		if len(cs.Changes) == b.pageSize {
			cs.HasMore = true
			break
		}
		cs.Changes = append(cs.Changes, e.change)
		cur.seq = e.seq
	}
	cs.NextToken = cur.String()
	return cs, nil
}

// fullPage lists live items ordered by ID. The final page hands out an
// incremental token at the seq the listing started from.
func (b *Backend) fullPage(cur cursor) *providers.ChangeSet {
	ids := make([]string, 0, len(b.objects))
	for id := range b.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cs := &providers.ChangeSet{Full: true}
	end := min(cur.offset+b.pageSize, len(ids))
	for _, id := range ids[min(cur.offset, len(ids)):end] {
		cs.Changes = append(cs.Changes, providers.Change{ItemID: id, Item: b.snapshot(b.objects[id])})
	}
	if end < len(ids) {
		cs.HasMore = true
		cur.offset = end
	} else {
		cur.full, cur.offset = false, 0
	}
	cs.NextToken = cur.String()
	return cs
}
