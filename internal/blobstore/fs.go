package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pastemine/internal/digest"
)

// DefaultSweepGrace is how old an unreferenced file must be before
// SweepOrphans removes it. Another process may have written the blob and
// not yet committed the record that points at it.
const DefaultSweepGrace = 10 * time.Minute

const tmpPrefix = ".tmp-"

// FileStore stores blobs as files in a single directory.
type FileStore struct {
	dir   string
	grace time.Duration
	now   func() time.Time
}

// FileOption customises a FileStore.
type FileOption func(*FileStore)

// WithSweepGrace replaces DefaultSweepGrace. Zero sweeps every
// unreferenced blob regardless of age.
func WithSweepGrace(d time.Duration) FileOption {
	return func(s *FileStore) { s.grace = d }
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, opts ...FileOption) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	s := &FileStore{dir: dir, grace: DefaultSweepGrace, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string { return s.dir }

// Path resolves ref to an absolute file path.
func (s *FileStore) Path(ref string) (string, error) {
	if !validRef(ref) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(s.dir, ref), nil
}

// Save implements BlobStore.
func (s *FileStore) Save(ctx context.Context, data []byte, maxSize int64) (Blob, error) {
	if err := checkSize(data, maxSize); err != nil {
		return Blob{}, err
	}
	if err := ctx.Err(); err != nil {
		return Blob{}, err
	}

	c, err := digest.Canonicalize(data)
	if err != nil {
		return Blob{}, err
	}

	blob := Blob{
		Ref:    RefFor(c.Hash),
		Hash:   c.Hash,
		Width:  c.Width,
		Height: c.Height,
		Size:   int64(len(c.PNG)),
	}
	path := filepath.Join(s.dir, blob.Ref)

	if _, err := os.Stat(path); err == nil {
		// Reusing a file that may be unreferenced right now; make it young
		// again so a concurrent sweep leaves it for the record about to land.
		now := s.now()
		if err := os.Chtimes(path, now, now); err != nil {
			return Blob{}, &IOError{Op: "touch", Ref: blob.Ref, Err: err}
		}
		slog.Debug("blob already stored, skipping write", "ref", blob.Ref)
		return blob, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Blob{}, &IOError{Op: "stat", Ref: blob.Ref, Err: err}
	}

	if err := s.writeAtomic(path, c.PNG); err != nil {
		return Blob{}, &IOError{Op: "write", Ref: blob.Ref, Err: err}
	}
	slog.Debug("blob stored", "ref", blob.Ref, "bytes", blob.Size, "width", blob.Width, "height", blob.Height)
	return blob, nil
}

// writeAtomic writes through a temp file so a crash never leaves a truncated
// blob under its final name.
func (s *FileStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Load implements BlobStore.
func (s *FileStore) Load(ctx context.Context, ref string) ([]byte, error) {
	path, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	} else if err != nil {
		return nil, &IOError{Op: "read", Ref: ref, Err: err}
	}
	return data, nil
}

// Delete implements BlobStore.
func (s *FileStore) Delete(ctx context.Context, ref string) error {
	path, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &IOError{Op: "delete", Ref: ref, Err: err}
	}
	return nil
}

// ClearAll implements BlobStore.
func (s *FileStore) ClearAll(ctx context.Context) error {
	n, err := s.sweep(ctx, nil, 0)
	if err != nil {
		return err
	}
	slog.Info("cleared blob store", "removed", n)
	return nil
}

// SweepOrphans implements BlobStore.
func (s *FileStore) SweepOrphans(ctx context.Context, referenced map[string]struct{}) (int, error) {
	n, err := s.sweep(ctx, referenced, s.grace)
	if n > 0 {
		slog.Info("removed orphaned blobs", "removed", n)
	}
	return n, err
}

// sweep removes files not in keep that are older than grace. Temp files
// belong to in-flight writes and are only removed once they are older than
// DefaultSweepGrace, whatever grace is.
func (s *FileStore) sweep(ctx context.Context, keep map[string]struct{}, grace time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, &IOError{Op: "list", Err: err}
	}

	now := s.now()
	removed := 0
	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if e.IsDir() {
			continue
		}
		if _, ok := keep[e.Name()]; ok {
			continue
		}

		minAge := grace
		if strings.HasPrefix(e.Name(), tmpPrefix) {
			minAge = max(grace, DefaultSweepGrace)
		}
		if minAge > 0 {
			info, err := e.Info()
			if errors.Is(err, fs.ErrNotExist) {
				continue
			} else if err != nil {
				errs = append(errs, &IOError{Op: "stat", Ref: e.Name(), Err: err})
				continue
			}
			if now.Sub(info.ModTime()) < minAge {
				slog.Debug("keeping recent unreferenced file", "name", e.Name(), "age", now.Sub(info.ModTime()))
				continue
			}
		}

		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, &IOError{Op: "delete", Ref: e.Name(), Err: err})
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Size implements BlobStore.
func (s *FileStore) Size(ctx context.Context) (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, &IOError{Op: "list", Err: err}
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || !validRef(e.Name()) {
			continue
		}
		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return 0, &IOError{Op: "stat", Ref: e.Name(), Err: err}
		}
		total += info.Size()
	}
	return total, nil
}

// List implements BlobStore.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &IOError{Op: "list", Err: err}
	}
	var refs []string
	for _, e := range entries {
		if !e.IsDir() && validRef(e.Name()) {
			refs = append(refs, e.Name())
		}
	}
	return refs, nil
}
