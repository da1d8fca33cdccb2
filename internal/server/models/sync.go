package models

import "time"

// SyncState is the resumption point of incremental change detection for one
// (user, provider).
type SyncState struct {
	UserID         string
	Provider       string
	Cursor         string
	LastSyncAt     time.Time
	LastFullSyncAt time.Time
}

type ConflictKind string

const (
	ConflictRootFolderDeleted    ConflictKind = "root_folder_deleted"
	ConflictGalleryFolderDeleted ConflictKind = "gallery_folder_deleted"
	ConflictGalleryFolderMoved   ConflictKind = "gallery_folder_moved"
	ConflictFileMovedOutside     ConflictKind = "file_moved_outside"
)

type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

// SyncConflict records a hierarchy inconsistency for manual resolution.
type SyncConflict struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Provider   string         `json:"provider"`
	Kind       ConflictKind   `json:"kind"`
	ItemID     string         `json:"-"`
	GalleryID  string         `json:"gallery_id,omitempty"`
	FileID     string         `json:"file_id,omitempty"`
	Detail     string         `json:"detail"`
	Status     ConflictStatus `json:"status"`
	Resolution string         `json:"resolution,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}
