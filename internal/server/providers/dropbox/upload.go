package dropbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
)

const (
	// hashBlock is the block size of the Dropbox content hash.
	hashBlock = 4 << 20
	// maxNameTries bounds the " (n)" suffixes tried when a file name is taken.
	maxNameTries = 100
)

type commitInfo struct {
	Path       string `json:"path"`
	Mode       string `json:"mode"`
	Autorename bool   `json:"autorename"`
	Mute       bool   `json:"mute"`
}

type sessionCursor struct {
	SessionID string `json:"session_id"`
	Offset    int64  `json:"offset"`
}

// UploadFile commits to a path chosen before any byte is sent and
// checkpointed as the session target. A call that continues such a session
// first looks at the target: content Dropbox already committed there is
// returned instead of being sent again.
func (a *Adapter) UploadFile(ctx context.Context, req *providers.UploadRequest) (*providers.Item, error) {
	folder, err := a.resolve(ctx, "upload", req.FolderID)
	if err != nil {
		return nil, err
	}

	var target string
	if s := req.Session; s != nil && s.Provider == providers.Dropbox && s.Size == req.Size && s.Target != "" {
		item, free, err := a.committed(ctx, s.Target, req)
		if err != nil || item != nil {
			return item, err
		}
		if free {
			target = s.Target
		}
	}
	if target == "" {
		if target, err = a.freePath(ctx, folder, req.Name); err != nil {
			return nil, err
		}
	}
	commit := commitInfo{Path: target, Mode: "add", Mute: true}

	if req.Size <= a.opts.ResumableThreshold {
		a.checkpoint(ctx, req, sessionCursor{}, target)
		var m metadata
		body := io.NewSectionReader(req.Content, 0, req.Size)
		if err := a.content(ctx, "upload", "/files/upload", commit, body, req.Size, &m); err != nil {
			return nil, err
		}
		m.Tag = "file"
		return m.item(), nil
	}
	return a.session(ctx, req, commit)
}

// committed reports what is stored at p: the item when it holds exactly the
// content of req, free when nothing is there.
func (a *Adapter) committed(ctx context.Context, p string, req *providers.UploadRequest) (*providers.Item, bool, error) {
	var m metadata
	err := a.rpc(ctx, "upload", "/files/get_metadata", pathArg{p}, &m)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	if m.Tag != "file" || m.Size != req.Size || m.ContentHash == "" {
		return nil, false, nil
	}
	sum, err := contentHash(req.Content, req.Size)
	if err != nil {
		return nil, false, err
	}
	if sum != m.ContentHash {
		return nil, false, nil
	}
	return m.item(), false, nil
}

// freePath finds a name not yet taken in folder: "a.jpg", "a (2).jpg", ...
func (a *Adapter) freePath(ctx context.Context, folder, name string) (string, error) {
	ext := path.Ext(name)
	for n := 1; n <= maxNameTries; n++ {
		candidate := name
		if n > 1 {
			candidate = fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
		}
		p := path.Join("/", folder, candidate)
		var m metadata
		err := a.rpc(ctx, "upload", "/files/get_metadata", pathArg{p}, &m)
		if errors.Is(err, common.ErrorNotFound) {
			return p, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", common.NewProviderError("dropbox", "upload", common.ErrConflict, 0, fmt.Errorf("no free name for %s", name))
}

// contentHash computes the Dropbox content_hash of the first size bytes of
// r: the SHA-256 of the concatenated SHA-256 digests of its 4MiB blocks.
func contentHash(r io.ReaderAt, size int64) (string, error) {
	outer := sha256.New()
	for off := int64(0); off < size; off += hashBlock {
		inner := sha256.New()
		if _, err := io.Copy(inner, io.NewSectionReader(r, off, min(hashBlock, size-off))); err != nil {
			return "", err
		}
		outer.Write(inner.Sum(nil))
	}
	return hex.EncodeToString(outer.Sum(nil)), nil
}

// session runs the upload_session protocol. A stored session is continued
// at its offset; Dropbox answers incorrect_offset with the offset it really
// holds, which is adopted. A stored session Dropbox no longer knows is
// replaced by a new one.
func (a *Adapter) session(ctx context.Context, req *providers.UploadRequest, commit commitInfo) (*providers.Item, error) {
	if s := req.Session; s != nil && s.Provider == providers.Dropbox && s.Size == req.Size && s.ID != "" {
		item, err := a.send(ctx, req, commit, sessionCursor{SessionID: s.ID, Offset: s.Offset})
		if !isUnknownSession(err) {
			return item, err
		}
	}

	n := min(a.opts.ChunkSize, req.Size)
	var out struct {
		SessionID string `json:"session_id"`
	}
	err := a.content(ctx, "upload_start", "/files/upload_session/start", struct {
		Close bool `json:"close"`
	}{false}, io.NewSectionReader(req.Content, 0, n), n, &out)
	if err != nil {
		return nil, err
	}
	cur := sessionCursor{SessionID: out.SessionID, Offset: n}
	a.checkpoint(ctx, req, cur, commit.Path)

	item, err := a.send(ctx, req, commit, cur)
	if isUnknownSession(err) {
		return nil, common.NewProviderError("dropbox", "upload", common.ErrProviderUnavailable, 409, err)
	}
	return item, err
}

// send appends the rest of the content to an open session and commits it.
func (a *Adapter) send(ctx context.Context, req *providers.UploadRequest, commit commitInfo, cur sessionCursor) (*providers.Item, error) {
	chunk := a.opts.ChunkSize
	for resynced := false; ; {
		remaining := req.Size - cur.Offset
		if remaining <= chunk {
			var m metadata
			err := a.content(ctx, "upload_finish", "/files/upload_session/finish", struct {
				Cursor sessionCursor `json:"cursor"`
				Commit commitInfo    `json:"commit"`
			}{cur, commit}, io.NewSectionReader(req.Content, cur.Offset, remaining), remaining, &m)
			if off, ok := correctOffset(err, resynced); ok {
				cur.Offset, resynced = off, true
				continue
			}
			if err != nil {
				return nil, err
			}
			m.Tag = "file"
			return m.item(), nil
		}

		err := a.content(ctx, "upload_append", "/files/upload_session/append_v2", struct {
			Cursor sessionCursor `json:"cursor"`
			Close  bool          `json:"close"`
		}{cur, false}, io.NewSectionReader(req.Content, cur.Offset, chunk), chunk, nil)
		if off, ok := correctOffset(err, resynced); ok {
			cur.Offset, resynced = off, true
			continue
		}
		if err != nil {
			return nil, err
		}
		cur.Offset += chunk
		resynced = false
		a.checkpoint(ctx, req, cur, commit.Path)
	}
}

// correctOffset extracts the offset Dropbox holds from an incorrect_offset
// error. A second mismatch in a row is not followed.
func correctOffset(err error, resynced bool) (int64, bool) {
	var ee *endpointError
	if resynced || !errors.As(err, &ee) || !ee.has("incorrect_offset") {
		return 0, false
	}
	return ee.Detail.CorrectOffset, true
}

func isUnknownSession(err error) bool {
	var ee *endpointError
	return errors.As(err, &ee) && (ee.has("not_found") || ee.has("closed"))
}

func (a *Adapter) checkpoint(ctx context.Context, req *providers.UploadRequest, cur sessionCursor, target string) {
	if req.Checkpoint != nil {
		req.Checkpoint(ctx, providers.UploadSession{
			Provider: providers.Dropbox, ID: cur.SessionID, Target: target, Offset: cur.Offset, Size: req.Size,
		})
	}
}
