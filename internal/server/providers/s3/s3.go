package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
)

// maxNameTries bounds the " (n)" suffixes tried when a file name is taken.
const maxNameTries = 100

// Adapter serves one connection. root is the connection's prefix and always
// ends in "/".
type Adapter struct {
	api     API
	presign Presigner
	bucket  string
	root    string
	opts    providers.Options
}

var _ providers.Provider = (*Adapter)(nil)

// Factory binds every request to the prefix passed as access token.
func Factory(api API, presign Presigner, cfg Config) providers.Factory {
	return func(ctx context.Context, accessToken string) (providers.Provider, error) {
		return New(api, presign, cfg, accessToken)
	}
}

func New(api API, presign Presigner, cfg Config, prefix string) (*Adapter, error) {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" || strings.Contains(prefix, "..") {
		return nil, fmt.Errorf("%w: s3 connection needs a key prefix", common.ErrInvalidArgument)
	}
	return &Adapter{api: api, presign: presign, bucket: cfg.Bucket, root: prefix + "/", opts: cfg.Options.WithDefaults()}, nil
}

func (a *Adapter) Kind() providers.Kind { return providers.S3 }

// owns reports whether key lies inside the connection's prefix.
func (a *Adapter) owns(key string) bool {
	return strings.HasPrefix(key, a.root) && !strings.Contains(key, "..")
}

func (a *Adapter) folderKey(id string) (string, error) {
	if id == "" {
		return a.root, nil
	}
	if !a.owns(id) || !strings.HasSuffix(id, "/") {
		return "", common.NewProviderError("s3", "resolve", common.ErrorNotFound, 0, fmt.Errorf("not a folder: %s", id))
	}
	return id, nil
}

func (a *Adapter) item(key string, size int64, modified *time.Time) *providers.Item {
	it := &providers.Item{ID: key, Size: size, IsFolder: strings.HasSuffix(key, "/")}
	trimmed := strings.TrimSuffix(key, "/")
	it.Name = path.Base(trimmed)
	it.Path = "/" + strings.TrimPrefix(trimmed, strings.TrimSuffix(a.root, "/"))
	it.Path = path.Clean(it.Path)
	if dir := path.Dir(trimmed); dir != "." {
		it.ParentID = dir + "/"
	}
	if modified != nil {
		it.ModifiedAt = *modified
	}
	return it
}

func (a *Adapter) head(ctx context.Context, op, key string) (*providers.Item, error) {
	out, err := a.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, classify(op, err)
	}
	it := a.item(key, aws.ToInt64(out.ContentLength), out.LastModified)
	it.MimeType = aws.ToString(out.ContentType)
	return it, nil
}

func (a *Adapter) CreateFolder(ctx context.Context, parentID, name string) (*providers.Item, error) {
	parent, err := a.folderKey(parentID)
	if err != nil {
		return nil, err
	}
	if name == "" || strings.ContainsAny(name, "/") {
		return nil, fmt.Errorf("%w: folder name %q", common.ErrInvalidArgument, name)
	}
	key := parent + name + "/"
	if it, err := a.head(ctx, "create_folder", key); err == nil {
		return it, nil
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	_, err = a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return nil, classify("create_folder", err)
	}
	return a.item(key, 0, nil), nil
}

func (a *Adapter) Stat(ctx context.Context, itemID string) (*providers.Item, error) {
	if !a.owns(itemID) {
		return nil, common.NewProviderError("s3", "stat", common.ErrorNotFound, 0, nil)
	}
	return a.head(ctx, "stat", itemID)
}

func (a *Adapter) DeleteItem(ctx context.Context, itemID string) error {
	if _, err := a.Stat(ctx, itemID); err != nil {
		return err
	}
	if !strings.HasSuffix(itemID, "/") {
		_, err := a.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(itemID)})
		if err != nil {
			return classify("delete", err)
		}
		return nil
	}

	var token *string
	for {
		out, err := a.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(a.bucket), Prefix: aws.String(itemID), ContinuationToken: token,
		})
		if err != nil {
			return classify("delete", err)
		}
		for _, obj := range out.Contents {
			if _, err := a.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(a.bucket), Key: obj.Key}); err != nil {
				return classify("delete", err)
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		token = out.NextContinuationToken
	}
}

func (a *Adapter) DownloadURL(ctx context.Context, itemID string, ttl time.Duration) (string, error) {
	if !a.owns(itemID) {
		return "", common.NewProviderError("s3", "download_url", common.ErrorNotFound, 0, nil)
	}
	req, err := a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(itemID),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify("download_url", err)
	}
	return req.URL, nil
}

const fullPrefix = "full:"

// ListChanges always lists the whole prefix: S3 has no change feed. The
// last page returns an empty token so the next run lists again.
func (a *Adapter) ListChanges(ctx context.Context, sinceToken string) (*providers.ChangeSet, error) {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(a.bucket), Prefix: aws.String(a.root)}
	if tok, ok := strings.CutPrefix(sinceToken, fullPrefix); ok && tok != "" {
		in.ContinuationToken = aws.String(tok)
	}
	out, err := a.api.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, classify("list_changes", err)
	}

	cs := &providers.ChangeSet{Full: true}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if key == a.root {
			continue
		}
		it := a.item(key, aws.ToInt64(obj.Size), obj.LastModified)
		cs.Changes = append(cs.Changes, providers.Change{ItemID: key, Path: it.Path, Item: it})
	}
	if aws.ToBool(out.IsTruncated) {
		cs.HasMore = true
		cs.NextToken = fullPrefix + aws.ToString(out.NextContinuationToken)
	}
	return cs, nil
}

// stored returns the object at key when it holds exactly the content of a
// single-part upload of req, nil otherwise.
func (a *Adapter) stored(ctx context.Context, key string, req *providers.UploadRequest) (*providers.Item, error) {
	out, err := a.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)})
	if err != nil {
		if err = classify("upload", err); errors.Is(err, common.ErrorNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if aws.ToInt64(out.ContentLength) != req.Size {
		return nil, nil
	}
	h := md5.New()
	if _, err := io.Copy(h, io.NewSectionReader(req.Content, 0, req.Size)); err != nil {
		return nil, err
	}
	if strings.Trim(aws.ToString(out.ETag), `"`) != hex.EncodeToString(h.Sum(nil)) {
		return nil, nil
	}
	it := a.item(key, req.Size, out.LastModified)
	it.MimeType = aws.ToString(out.ContentType)
	return it, nil
}

// candidate returns the n-th key tried for name: "a.jpg", "a (2).jpg", ...
func candidate(folder, name string, n int) string {
	if n == 1 {
		return folder + name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s%s (%d)%s", folder, strings.TrimSuffix(name, ext), n, ext)
}

func (a *Adapter) UploadFile(ctx context.Context, req *providers.UploadRequest) (*providers.Item, error) {
	folder, err := a.folderKey(req.FolderID)
	if err != nil {
		return nil, err
	}
	if req.Size > a.opts.ResumableThreshold {
		return a.multipart(ctx, req, folder)
	}

	if s := req.Session; s != nil && s.Provider == providers.S3 && s.ID == "" && s.Size == req.Size && strings.HasPrefix(s.Target, folder) {
		if it, err := a.stored(ctx, s.Target, req); err != nil || it != nil {
			return it, err
		}
	}
	for n := 1; n <= maxNameTries; n++ {
		key := candidate(folder, req.Name, n)
		// recorded before the put so a retry finds what a lost answer stored
		if req.Checkpoint != nil {
			req.Checkpoint(ctx, providers.UploadSession{Provider: providers.S3, Target: key, Size: req.Size})
		}
		_, err := a.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(a.bucket),
			Key:           aws.String(key),
			Body:          io.NewSectionReader(req.Content, 0, req.Size),
			ContentLength: aws.Int64(req.Size),
			ContentType:   contentType(req.MimeType),
			IfNoneMatch:   aws.String("*"),
		})
		if err == nil {
			it := a.item(key, req.Size, nil)
			it.MimeType = req.MimeType
			return it, nil
		}
		if err = classify("upload", err); !errors.Is(err, common.ErrConflict) {
			return nil, err
		}
	}
	return nil, common.NewProviderError("s3", "upload", common.ErrConflict, 0, fmt.Errorf("no free name for %s", req.Name))
}

func contentType(mime string) *string {
	if mime == "" {
		return nil
	}
	return aws.String(mime)
}

// freeKey finds a name not yet taken in folder.
func (a *Adapter) freeKey(ctx context.Context, folder, name string) (string, error) {
	for n := 1; n <= maxNameTries; n++ {
		key := candidate(folder, name, n)
		_, err := a.head(ctx, "upload", key)
		if errors.Is(err, common.ErrorNotFound) {
			return key, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", common.NewProviderError("s3", "upload", common.ErrConflict, 0, fmt.Errorf("no free name for %s", name))
}

// multipart uploads in ChunkSize parts. A stored session is resumed from the
// parts S3 lists for it; the upload id is the session id and the key its
// target.
func (a *Adapter) multipart(ctx context.Context, req *providers.UploadRequest, folder string) (*providers.Item, error) {
	chunk := a.opts.ChunkSize
	var key, uploadID string
	var parts []types.CompletedPart

	if s := req.Session; s != nil && s.Provider == providers.S3 && s.Size == req.Size && s.ID != "" && strings.HasPrefix(s.Target, folder) {
		done, err := a.listParts(ctx, s.Target, s.ID, chunk)
		switch {
		case err == nil:
			key, uploadID, parts = s.Target, s.ID, done
		case !errors.Is(err, common.ErrorNotFound):
			return nil, err
		default:
			// gone: either expired or completed by an attempt whose answer was lost
			it, err := a.head(ctx, "upload", s.Target)
			if err == nil && it.Size == req.Size && s.Offset == req.Size {
				return it, nil
			}
			if err != nil && !errors.Is(err, common.ErrorNotFound) {
				return nil, err
			}
		}
	}
	if uploadID == "" {
		var err error
		if key, err = a.freeKey(ctx, folder, req.Name); err != nil {
			return nil, err
		}
		out, err := a.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			ContentType: contentType(req.MimeType),
		})
		if err != nil {
			return nil, classify("upload_start", err)
		}
		uploadID = aws.ToString(out.UploadId)
	}

	for offset := int64(len(parts)) * chunk; offset < req.Size; offset += chunk {
		n := min(chunk, req.Size-offset)
		num := int32(offset/chunk) + 1
		out, err := a.api.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(a.bucket),
			Key:           aws.String(key),
			UploadId:      aws.String(uploadID),
			PartNumber:    aws.Int32(num),
			Body:          io.NewSectionReader(req.Content, offset, n),
			ContentLength: aws.Int64(n),
		})
		if err != nil {
			return nil, classify("upload_part", err)
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(num)})
		if req.Checkpoint != nil {
			req.Checkpoint(ctx, providers.UploadSession{
				Provider: providers.S3, ID: uploadID, Target: key, Offset: offset + n, Size: req.Size,
			})
		}
	}

	_, err := a.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return nil, classify("upload_finish", err)
	}
	it := a.item(key, req.Size, nil)
	it.MimeType = req.MimeType
	return it, nil
}

// listParts returns the leading run of complete parts 1..k of the upload.
func (a *Adapter) listParts(ctx context.Context, key, uploadID string, chunk int64) ([]types.CompletedPart, error) {
	var all []types.Part
	var marker *string
	for {
		out, err := a.api.ListParts(ctx, &s3.ListPartsInput{
			Bucket: aws.String(a.bucket), Key: aws.String(key), UploadId: aws.String(uploadID), PartNumberMarker: marker,
		})
		if err != nil {
			return nil, classify("upload_status", err)
		}
		all = append(all, out.Parts...)
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		marker = out.NextPartNumberMarker
	}

	var done []types.CompletedPart
	for i, p := range all {
		if aws.ToInt32(p.PartNumber) != int32(i+1) || aws.ToInt64(p.Size) != chunk {
			break
		}
		done = append(done, types.CompletedPart{ETag: p.ETag, PartNumber: p.PartNumber})
	}
	return done, nil
}
