package api

import (
	"time"

	"google.golang.org/grpc"
)

const ServiceName = "gophsync.v1.Engine"

// Full method names.
const (
	MethodListConnections     = "/" + ServiceName + "/ListConnections"
	MethodRegisterConnection  = "/" + ServiceName + "/RegisterConnection"
	MethodEnsureGalleryFolder = "/" + ServiceName + "/EnsureGalleryFolder"
	MethodUploadFile          = "/" + ServiceName + "/UploadFile"
	MethodListGalleryFiles    = "/" + ServiceName + "/ListGalleryFiles"
	MethodUpdateFile          = "/" + ServiceName + "/UpdateFile"
	MethodDeleteFile          = "/" + ServiceName + "/DeleteFile"
	MethodRestoreFile         = "/" + ServiceName + "/RestoreFile"
	MethodGetFileLink         = "/" + ServiceName + "/GetFileLink"
	MethodResolveFileLink     = "/" + ServiceName + "/ResolveFileLink"
	MethodRateLimitSnapshot   = "/" + ServiceName + "/RateLimitSnapshot"
	MethodListConflicts       = "/" + ServiceName + "/ListConflicts"
	MethodResolveConflict     = "/" + ServiceName + "/ResolveConflict"
	MethodTriggerSync         = "/" + ServiceName + "/TriggerSync"
)

// UploadFileStream describes the client stream of UploadFile.
var UploadFileStream = grpc.StreamDesc{
	StreamName:    "UploadFile",
	ClientStreams: true,
}

type Empty struct{}

type Connection struct {
	Provider  string    `json:"provider"`
	Status    string    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ListConnectionsResponse struct {
	Connections []Connection `json:"connections"`
}

// RegisterConnectionRequest carries the result of an OAuth handshake done by
// the caller. A zero ExpiresAt means the access token does not expire.
type RegisterConnectionRequest struct {
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type EnsureGalleryFolderRequest struct {
	GalleryID string `json:"gallery_id"`
	Provider  string `json:"provider"`
}

type EnsureGalleryFolderResponse struct {
	GalleryID  string `json:"gallery_id"`
	Provider   string `json:"provider"`
	FolderPath string `json:"folder_path"`
}

// UploadChunk is one message of the UploadFile stream. The first message is
// the header and carries no data; every later one only carries Data.
type UploadChunk struct {
	GalleryID string `json:"gallery_id,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Name      string `json:"name,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

type File struct {
	ID        string     `json:"id"`
	GalleryID string     `json:"gallery_id"`
	Provider  string     `json:"provider"`
	Name      string     `json:"name"`
	MimeType  string     `json:"mime_type"`
	Size      int64      `json:"size"`
	Tags      []string   `json:"tags"`
	SortOrder int        `json:"sort_order"`
	Visible   bool       `json:"visible"`
	Version   int64      `json:"version"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type ListGalleryFilesRequest struct {
	GalleryID      string `json:"gallery_id"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
	IncludeHidden  bool   `json:"include_hidden,omitempty"`
}

type ListGalleryFilesResponse struct {
	Files []File `json:"files"`
}

// UpdateFileRequest changes only the fields that are set.
type UpdateFileRequest struct {
	FileID      string    `json:"file_id"`
	Name        *string   `json:"name,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	SortOrder   *int      `json:"sort_order,omitempty"`
	Visible     *bool     `json:"visible,omitempty"`
	BaseVersion int64     `json:"base_version,omitempty"`
}

type FileRequest struct {
	FileID string `json:"file_id"`
}

type FileLinkResponse struct {
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ResolveFileLinkRequest struct {
	Link string `json:"link"`
}

type ResolveFileLinkResponse struct {
	URL string `json:"url"`
}

type Usage struct {
	Provider     string     `json:"provider"`
	HourlyUsed   int64      `json:"hourly_used"`
	HourlyLimit  int64      `json:"hourly_limit"`
	DailyUsed    int64      `json:"daily_used"`
	DailyLimit   int64      `json:"daily_limit"`
	BackoffUntil *time.Time `json:"backoff_until,omitempty"`
}

type RateLimitSnapshotResponse struct {
	Providers []Usage `json:"providers"`
}

type Conflict struct {
	ID         string     `json:"id"`
	Provider   string     `json:"provider"`
	Kind       string     `json:"kind"`
	GalleryID  string     `json:"gallery_id,omitempty"`
	FileID     string     `json:"file_id,omitempty"`
	Detail     string     `json:"detail"`
	Status     string     `json:"status"`
	Resolution string     `json:"resolution,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

type ListConflictsRequest struct {
	// Status filters by status; empty means any.
	Status string `json:"status,omitempty"`
}

type ListConflictsResponse struct {
	Conflicts []Conflict `json:"conflicts"`
}

type ResolveConflictRequest struct {
	ID         string `json:"id"`
	Resolution string `json:"resolution"`
}

type TriggerSyncRequest struct {
	Provider string `json:"provider"`
}

type SyncResult struct {
	Full      bool `json:"full"`
	Restarted bool `json:"restarted"`
	Pages     int  `json:"pages"`
	Changes   int  `json:"changes"`
	Deleted   int  `json:"deleted"`
	Renamed   int  `json:"renamed"`
	Moved     int  `json:"moved"`
	Restored  int  `json:"restored"`
	Unmanaged int  `json:"unmanaged"`
	Conflicts int  `json:"conflicts"`
}
