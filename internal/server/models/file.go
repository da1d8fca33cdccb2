// Package models defines server-side data models persisted in the relational
// store.
package models

import "time"

// FileRecord is the local description of a file whose bytes live with a
// provider. The record is owned by the database; the provider file is not.
type FileRecord struct {
	ID             string
	UserID         string
	GalleryID      string
	Provider       string
	ProviderFileID string
	// ProviderPath is the last known provider path; empty for providers that
	// only address items by ID.
	ProviderPath string
	Name         string
	MimeType     string
	Size         int64
	Checksum     string
	Tags         []string
	SortOrder    int
	Visible      bool
	DeletedAt    *time.Time
	DeleteOrigin string
	// Version increments on every write and guards optimistic updates.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Deleted reports whether the record is soft-deleted.
func (f *FileRecord) Deleted() bool {
	return f.DeletedAt != nil
}

// FileSummary is what callers outside the engine see about a file. It never
// carries provider identifiers.
type FileSummary struct {
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

// Summary projects a FileRecord for external callers.
func (f *FileRecord) Summary() FileSummary {
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	return FileSummary{
		ID:        f.ID,
		GalleryID: f.GalleryID,
		Provider:  f.Provider,
		Name:      f.Name,
		MimeType:  f.MimeType,
		Size:      f.Size,
		Tags:      tags,
		SortOrder: f.SortOrder,
		Visible:   f.Visible,
		Version:   f.Version,
		DeletedAt: f.DeletedAt,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}
