package models

import "time"

// RootFolder anchors all application data of a user on a provider.
type RootFolder struct {
	UserID     string
	Provider   string
	FolderID   string
	FolderPath string
	CreatedAt  time.Time
}

// FolderMapping links a gallery to its provider folder. ParentFolderID is the
// root folder for top-level galleries or the parent gallery's folder.
type FolderMapping struct {
	GalleryID      string
	Provider       string
	UserID         string
	FolderID       string
	ParentFolderID string
	FolderPath     string
	CreatedAt      time.Time
}

// Gallery is the engine's read view of the application's gallery tree.
// ParentID is empty for top-level galleries.
type Gallery struct {
	ID        string
	UserID    string
	ParentID  string
	Name      string
	CreatedAt time.Time
}
