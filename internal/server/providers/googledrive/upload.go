package googledrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// statusResumeIncomplete is what Drive answers for an accepted partial chunk.
const statusResumeIncomplete = 308

// UploadFile creates small files under an id allocated up front and
// checkpointed as the session target, so a retried create lands on the
// same file instead of a second one.
func (a *Adapter) UploadFile(ctx context.Context, req *providers.UploadRequest) (*providers.Item, error) {
	if req.Size > a.opts.ResumableThreshold {
		return a.resumable(ctx, req)
	}

	var id string
	if s := req.Session; s != nil && s.Provider == providers.GoogleDrive && s.ID == "" && s.Target != "" && s.Size == req.Size {
		item, err := a.created(ctx, s.Target, req.Size)
		if err != nil || item != nil {
			return item, err
		}
		id = s.Target
	}
	if id == "" {
		ids, err := a.svc.Files.GenerateIds().Count(1).Space("drive").Type("files").Context(ctx).Do()
		if err != nil {
			return nil, classify("upload", err)
		}
		if len(ids.Ids) == 0 {
			return nil, common.NewProviderError("google_drive", "upload", common.ErrProviderUnavailable, 0, errors.New("no file id generated"))
		}
		id = ids.Ids[0]
		if req.Checkpoint != nil {
			req.Checkpoint(ctx, providers.UploadSession{Provider: providers.GoogleDrive, Target: id, Size: req.Size})
		}
	}

	meta := &drive.File{Id: id, Name: req.Name, MimeType: req.MimeType, Parents: []string{req.FolderID}}
	body := io.NewSectionReader(req.Content, 0, req.Size)
	f, err := a.svc.Files.Create(meta).Media(body, googleapi.ContentType(req.MimeType)).
		Fields(fileFields).Context(ctx).Do()
	if err != nil {
		err = classify("upload", err)
		if errors.Is(err, common.ErrConflict) {
			// the id is taken, by an attempt whose answer was lost
			if item, cerr := a.created(ctx, id, req.Size); cerr == nil && item != nil {
				return item, nil
			}
		}
		return nil, err
	}
	return toItem(f), nil
}

// created returns the file stored under a pre-allocated id, nil when Drive
// has none.
func (a *Adapter) created(ctx context.Context, id string, size int64) (*providers.Item, error) {
	it, err := a.Stat(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if it.Size != size {
		return nil, common.NewProviderError("google_drive", "upload", common.ErrConflict, 0, fmt.Errorf("file %s holds other content", id))
	}
	return it, nil
}

func (a *Adapter) resumable(ctx context.Context, req *providers.UploadRequest) (*providers.Item, error) {
	var sess *providers.UploadSession
	var offset int64

	if s := req.Session; s != nil && s.Provider == providers.GoogleDrive && s.Size == req.Size && s.ID != "" {
		item, confirmed, err := a.query(ctx, s.ID, req.Size)
		switch {
		case err == nil && item != nil:
			return item, nil
		case err == nil:
			sess, offset = s, confirmed
		case errors.Is(err, common.ErrorNotFound):
			// expired session, start over
		default:
			return nil, err
		}
	}
	if sess == nil {
		uri, err := a.start(ctx, req)
		if err != nil {
			return nil, err
		}
		sess = &providers.UploadSession{Provider: providers.GoogleDrive, ID: uri, Size: req.Size}
	}

	for {
		n := min(a.opts.ChunkSize, req.Size-offset)
		if n <= 0 {
			item, _, err := a.query(ctx, sess.ID, req.Size)
			if err == nil && item == nil {
				err = common.NewProviderError("google_drive", "upload", common.ErrProviderUnavailable, 0,
					errors.New("all bytes confirmed but upload not finalized"))
			}
			return item, err
		}
		item, confirmed, err := a.putChunk(ctx, sess.ID, req.Content, offset, n, req.Size)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
		offset = confirmed
		sess.Offset = offset
		if req.Checkpoint != nil {
			req.Checkpoint(ctx, *sess)
		}
	}
}

// start opens a resumable session and returns its URI.
func (a *Adapter) start(ctx context.Context, req *providers.UploadRequest) (string, error) {
	meta, err := json.Marshal(&drive.File{Name: req.Name, MimeType: req.MimeType, Parents: []string{req.FolderID}})
	if err != nil {
		return "", err
	}
	u := a.uploadURL + "?uploadType=resumable&fields=" + url.QueryEscape(fileFields)
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(meta))
	if err != nil {
		return "", err
	}
	hr.Header.Set("Content-Type", "application/json; charset=UTF-8")
	hr.Header.Set("X-Upload-Content-Length", strconv.FormatInt(req.Size, 10))
	if req.MimeType != "" {
		hr.Header.Set("X-Upload-Content-Type", req.MimeType)
	}

	resp, err := a.http.Do(hr)
	if err != nil {
		return "", providers.TransportError(providers.GoogleDrive, "upload_start", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return "", providers.StatusError(providers.GoogleDrive, "upload_start", resp.StatusCode, resp.Header, nil)
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", common.NewProviderError("google_drive", "upload_start", common.ErrProviderUnavailable, resp.StatusCode,
			errors.New("no session location"))
	}
	return loc, nil
}

// putChunk sends n bytes at offset. It returns the file once Drive has the
// whole content, otherwise the confirmed byte count.
func (a *Adapter) putChunk(ctx context.Context, uri string, content io.ReaderAt, offset, n, size int64) (*providers.Item, int64, error) {
	hr, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, io.NewSectionReader(content, offset, n))
	if err != nil {
		return nil, 0, err
	}
	hr.ContentLength = n
	hr.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+n-1, size))
	item, confirmed, err := a.session(hr, "upload_chunk")
	if errors.Is(err, common.ErrorNotFound) {
		// the session expired mid-upload; a retry will open a new one
		return nil, 0, common.NewProviderError("google_drive", "upload_chunk", common.ErrProviderUnavailable, 404, err)
	}
	return item, confirmed, err
}

// query asks Drive how much of the session it holds.
func (a *Adapter) query(ctx context.Context, uri string, size int64) (*providers.Item, int64, error) {
	hr, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, http.NoBody)
	if err != nil {
		return nil, 0, err
	}
	hr.ContentLength = 0
	hr.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
	return a.session(hr, "upload_status")
}

func (a *Adapter) session(hr *http.Request, op string) (*providers.Item, int64, error) {
	resp, err := a.http.Do(hr)
	if err != nil {
		return nil, 0, providers.TransportError(providers.GoogleDrive, op, err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var f drive.File
		if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
			return nil, 0, common.NewProviderError("google_drive", op, common.ErrProviderUnavailable, resp.StatusCode, err)
		}
		return toItem(&f), 0, nil
	case statusResumeIncomplete:
		return nil, parseRange(resp.Header.Get("Range")), nil
	}
	return nil, 0, providers.StatusError(providers.GoogleDrive, op, resp.StatusCode, resp.Header, nil)
}

// parseRange turns "bytes=0-1234" into the number of confirmed bytes.
func parseRange(v string) int64 {
	_, last, ok := strings.Cut(strings.TrimPrefix(v, "bytes="), "-")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0
	}
	return n + 1
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
