package storage

import (
	"context"

	"pastemine/pkg/types"
)

// InsertStatus reports what an insertion did.
type InsertStatus int

const (
	// Inserted means a new entry was created.
	Inserted InsertStatus = iota
	// Duplicate means an entry with the same content hash already existed
	// and nothing was written.
	Duplicate
)

func (s InsertStatus) String() string {
	switch s {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// InsertResult is returned by the insert operations.
type InsertResult struct {
	Status InsertStatus
	// Entry is the new entry, or the existing one for duplicates.
	Entry *types.Entry
	// Evicted counts entries removed by the retention sweep that followed.
	Evicted int
}

// Filter narrows a listing. The zero value lists every entry.
type Filter struct {
	// Keyword is matched the way Search matches it.
	Keyword string
	// SourceApp keeps only entries captured from this app.
	SourceApp string
}

// AppCount is how many entries were captured from one app.
type AppCount struct {
	App   string `json:"app"`
	Count int    `json:"count"`
}

// Storage defines the interface for clipboard history persistence
type Storage interface {
	// InsertText stores text content unless its hash is already present,
	// then runs the retention sweep.
	InsertText(ctx context.Context, content, sourceApp string) (InsertResult, error)

	// InsertImage hands pixel data to the blob store and records the
	// resulting ref with the same dedup and sweep rules as text.
	InsertImage(ctx context.Context, pixelData []byte, sourceApp string) (InsertResult, error)

	// FetchAll returns every entry, newest first.
	FetchAll(ctx context.Context) ([]*types.Entry, error)

	// Get retrieves an entry by ID.
	Get(ctx context.Context, id string) (*types.Entry, error)

	// Search matches text content case-insensitively; image entries match
	// on source app or the word "image".
	Search(ctx context.Context, keyword string) ([]*types.Entry, error)

	// List applies filter, newest first.
	List(ctx context.Context, filter Filter) ([]*types.Entry, error)

	// SourceApps counts entries per non-empty source app, most used first.
	SourceApps(ctx context.Context) ([]AppCount, error)

	// Delete removes an entry and, for images, its blob.
	Delete(ctx context.Context, id string) error

	// ClearAll removes every entry and blob.
	ClearAll(ctx context.Context) error

	// SetPinned toggles eviction exemption.
	SetPinned(ctx context.Context, id string, pinned bool) error

	// LoadImage returns the canonical PNG bytes of an image entry.
	LoadImage(ctx context.Context, entry *types.Entry) ([]byte, error)

	// SweepOrphans removes blobs no entry references.
	SweepOrphans(ctx context.Context) (int, error)

	// ImagesSize returns the bytes held by the image blob store.
	ImagesSize(ctx context.Context) (int64, error)

	Close() error
}

// Config holds storage configuration
type Config struct {
	DBPath string // Path to SQLite database
	FSPath string // Path to the image blob directory
}
