// Package providers defines the uniform contract over cloud storage
// providers. Adapters live in subpackages; the engine only ever sees the
// Provider interface and never branches on the provider kind.
package providers

import (
	"context"
	"io"
	"time"
)

// Kind identifies a provider.
type Kind string

const (
	GoogleDrive Kind = "google_drive"
	Dropbox     Kind = "dropbox"
	S3          Kind = "s3"
	Memory      Kind = "memory"
)

func (k Kind) String() string { return string(k) }

// Item is a file or folder as reported by a provider. Path is empty for
// providers that address items only by ID.
type Item struct {
	ID         string
	Name       string
	ParentID   string
	Path       string
	IsFolder   bool
	MimeType   string
	Size       int64
	ModifiedAt time.Time
}

// Change is one entry of a change feed. Removed entries may carry only a
// Path when the provider does not report IDs for deleted items.
type Change struct {
	ItemID  string
	Path    string
	Removed bool
	Item    *Item
}

// ChangeSet is one page of changes. Full is set when the page belongs to a
// full listing, in which case items absent from every page were deleted.
type ChangeSet struct {
	Changes   []Change
	NextToken string
	HasMore   bool
	Full      bool
}

// UploadSession is the resumable state of an interrupted upload. ID is the
// provider's session handle (Drive session URI, Dropbox session id, S3
// upload id); Offset is the number of bytes the provider confirmed.
type UploadSession struct {
	Provider Kind   `json:"provider"`
	ID       string `json:"id"`
	Target   string `json:"target,omitempty"`
	Offset   int64  `json:"offset"`
	Size     int64  `json:"size"`
	// ItemID is set once the provider confirmed the complete file.
	ItemID string `json:"item_id,omitempty"`
}

// UploadRequest describes one upload. Content must allow re-reading any
// range, which is what makes resuming possible. Checkpoint, when set, is
// called after every confirmed chunk.
type UploadRequest struct {
	FolderID   string
	Name       string
	MimeType   string
	Content    io.ReaderAt
	Size       int64
	Session    *UploadSession
	Checkpoint func(ctx context.Context, s UploadSession)
}

// Provider is implemented by every adapter. Errors are classified with the
// sentinels of package common so callers can tell transient failures from
// reconnect-required ones.
type Provider interface {
	Kind() Kind

	// CreateFolder returns the folder called name under parentID, creating it
	// only if it does not exist. An empty parentID means the provider root.
	CreateFolder(ctx context.Context, parentID, name string) (*Item, error)

	// Stat returns common.ErrorNotFound for missing and trashed items.
	Stat(ctx context.Context, itemID string) (*Item, error)

	// UploadFile switches to a resumable session above the adapter's
	// threshold and continues req.Session when it is still valid.
	UploadFile(ctx context.Context, req *UploadRequest) (*Item, error)

	// ListChanges returns the changes since sinceToken; an empty token starts
	// a full listing. common.ErrStaleCursor means the token was rejected.
	ListChanges(ctx context.Context, sinceToken string) (*ChangeSet, error)

	DeleteItem(ctx context.Context, itemID string) error

	DownloadURL(ctx context.Context, itemID string, ttl time.Duration) (string, error)
}

// Options are shared adapter tunables.
type Options struct {
	// ResumableThreshold is the size above which the session protocol is used.
	ResumableThreshold int64
	// ChunkSize must be a multiple of 256KiB.
	ChunkSize int64
}

const (
	DefaultResumableThreshold = 5 << 20
	DefaultChunkSize          = 8 << 20
)

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.ResumableThreshold <= 0 {
		o.ResumableThreshold = DefaultResumableThreshold
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return o
}
