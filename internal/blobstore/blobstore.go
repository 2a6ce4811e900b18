// Package blobstore keeps image payloads as content-addressed files.
//
// A blob is named after the pixel digest of its canonical PNG encoding, so two
// saves of the same picture resolve to the same ref and the second write is
// skipped.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const blobExt = ".png"

var (
	// ErrSizeLimitExceeded is returned by Save when the payload is larger
	// than the configured ceiling. Nothing is written.
	ErrSizeLimitExceeded = errors.New("image exceeds maximum size")

	// ErrBlobIO marks file system failures.
	ErrBlobIO = errors.New("blob i/o failure")

	// ErrInvalidRef is returned for refs that are not blob names.
	ErrInvalidRef = errors.New("invalid blob ref")

	// ErrNotFound is returned by Load for unknown refs.
	ErrNotFound = errors.New("blob not found")
)

// Blob describes a stored image.
type Blob struct {
	Ref    string
	Hash   string
	Width  int
	Height int
	Size   int64
}

// BlobStore is the storage contract the history store depends on.
type BlobStore interface {
	// Save canonicalises data and stores it. maxSize <= 0 disables the
	// size ceiling.
	Save(ctx context.Context, data []byte, maxSize int64) (Blob, error)

	// Load returns the canonical PNG bytes for ref.
	Load(ctx context.Context, ref string) ([]byte, error)

	// Delete removes ref. A missing blob is not an error.
	Delete(ctx context.Context, ref string) error

	// ClearAll removes every blob.
	ClearAll(ctx context.Context) error

	// SweepOrphans removes blobs not present in referenced and returns how
	// many were removed. Implementations shared between processes may keep
	// recently written blobs whose record has not committed yet.
	SweepOrphans(ctx context.Context, referenced map[string]struct{}) (int, error)

	// List returns all stored refs.
	List(ctx context.Context) ([]string, error)

	// Size returns the total bytes held by stored blobs.
	Size(ctx context.Context) (int64, error)
}

// IOError records the operation and ref of a failed file operation.
type IOError struct {
	Op  string
	Ref string
	Err error
}

func (e *IOError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("blobstore %s %s: %v", e.Op, e.Ref, e.Err)
	}
	return fmt.Sprintf("blobstore %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() []error {
	return []error{ErrBlobIO, e.Err}
}

// RefFor returns the blob name for a content hash.
func RefFor(hash string) string {
	return hash + blobExt
}

// validRef accepts only "<hex>.png".
func validRef(ref string) bool {
	name, ok := strings.CutSuffix(ref, blobExt)
	if !ok || name == "" {
		return false
	}
	for _, r := range name {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}

func checkSize(data []byte, maxSize int64) error {
	if maxSize > 0 && int64(len(data)) > maxSize {
		return fmt.Errorf("%w: %d bytes > %d bytes", ErrSizeLimitExceeded, len(data), maxSize)
	}
	return nil
}
