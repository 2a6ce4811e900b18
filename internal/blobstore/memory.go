package blobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pastemine/internal/digest"
)

// MemoryStore is an in-process BlobStore used by tests.
type MemoryStore struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	writes int

	// FailDelete makes Delete return an I/O error, to exercise callers'
	// best-effort handling.
	FailDelete bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Save implements BlobStore.
func (m *MemoryStore) Save(ctx context.Context, data []byte, maxSize int64) (Blob, error) {
	if err := checkSize(data, maxSize); err != nil {
		return Blob{}, err
	}
	c, err := digest.Canonicalize(data)
	if err != nil {
		return Blob{}, err
	}

	ref := RefFor(c.Hash)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[ref]; !ok {
		m.blobs[ref] = c.PNG
		m.writes++
	}
	return Blob{Ref: ref, Hash: c.Hash, Width: c.Width, Height: c.Height, Size: int64(len(c.PNG))}, nil
}

// Load implements BlobStore.
func (m *MemoryStore) Load(ctx context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return data, nil
}

// Delete implements BlobStore.
func (m *MemoryStore) Delete(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDelete {
		return &IOError{Op: "delete", Ref: ref, Err: fmt.Errorf("injected failure")}
	}
	delete(m.blobs, ref)
	return nil
}

// ClearAll implements BlobStore.
func (m *MemoryStore) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs = make(map[string][]byte)
	return nil
}

// SweepOrphans implements BlobStore.
func (m *MemoryStore) SweepOrphans(ctx context.Context, referenced map[string]struct{}) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for ref := range m.blobs {
		if _, ok := referenced[ref]; !ok {
			delete(m.blobs, ref)
			removed++
		}
	}
	return removed, nil
}

// List implements BlobStore.
func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := make([]string, 0, len(m.blobs))
	for ref := range m.blobs {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs, nil
}

// Size implements BlobStore.
func (m *MemoryStore) Size(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, data := range m.blobs {
		total += int64(len(data))
	}
	return total, nil
}

// Has reports whether ref is stored.
func (m *MemoryStore) Has(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[ref]
	return ok
}

// Writes returns how many blobs were physically written.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

var (
	_ BlobStore = (*MemoryStore)(nil)
	_ BlobStore = (*FileStore)(nil)
)
