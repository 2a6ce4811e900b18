package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pastemine/internal/blobstore"
	"pastemine/internal/digest"
	"pastemine/internal/settings"
	"pastemine/internal/storage"
	"pastemine/pkg/types"
)

type SQLiteStorage struct {
	db       *gorm.DB
	blobs    blobstore.BlobStore
	settings settings.Provider
	now      func() time.Time

	// mu serialises writers so the dedup check, the insert and the sweep
	// see a consistent table, and so CreatedAt never goes backwards.
	mu          sync.Mutex
	lastCreated time.Time
}

// Option customises a SQLiteStorage.
type Option func(*SQLiteStorage)

// WithBlobStore replaces the file-backed blob store.
func WithBlobStore(b blobstore.BlobStore) Option {
	return func(s *SQLiteStorage) { s.blobs = b }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStorage) { s.now = now }
}

// New creates a new SQLite storage instance
func New(config storage.Config, prefs settings.Provider, opts ...Option) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(config.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL lets list queries from the UI proceed while the poller writes.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", config.DBPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, storage.Unavailable("open database", err)
	}

	// Auto-migrate the schema
	if err := db.AutoMigrate(&storage.EntryModel{}); err != nil {
		return nil, storage.Unavailable("migrate schema", err)
	}

	s := &SQLiteStorage{
		db:       db,
		settings: prefs,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.blobs == nil {
		fs, err := blobstore.NewFileStore(config.FSPath)
		if err != nil {
			return nil, err
		}
		s.blobs = fs
	}

	var newest storage.EntryModel
	err = db.Order("created_at DESC").Limit(1).Find(&newest).Error
	if err != nil {
		return nil, storage.Unavailable("read newest entry", err)
	}
	s.lastCreated = newest.CreatedAt

	return s, nil
}

// Close releases the database handle.
func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertText implements storage.Storage interface
func (s *SQLiteStorage) InsertText(ctx context.Context, content, sourceApp string) (storage.InsertResult, error) {
	if content == "" {
		return storage.InsertResult{}, storage.ErrEmptyContent
	}
	return s.insert(ctx, &types.Entry{
		Kind:        types.KindText,
		Content:     content,
		ContentHash: digest.Text(content),
		SourceApp:   sourceApp,
	})
}

// InsertImage implements storage.Storage interface
func (s *SQLiteStorage) InsertImage(ctx context.Context, pixelData []byte, sourceApp string) (storage.InsertResult, error) {
	if len(pixelData) == 0 {
		return storage.InsertResult{}, storage.ErrEmptyContent
	}

	// Held from the blob write until the record commits so SweepOrphans
	// never sees the blob without its record.
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs := s.settings.Current()
	blob, err := s.blobs.Save(ctx, pixelData, prefs.MaxImageSize)
	if err != nil {
		return storage.InsertResult{}, err
	}

	res, err := s.insertLocked(ctx, &types.Entry{
		Kind:        types.KindImage,
		ContentHash: blob.Hash,
		SourceApp:   sourceApp,
		Image: &types.ImageRef{
			Ref:    blob.Ref,
			Width:  blob.Width,
			Height: blob.Height,
		},
	})
	if err != nil && res.Entry == nil {
		// The record never landed; do not leave its blob behind.
		s.releaseBlob(ctx, blob.Ref)
	}
	return res, err
}

func (s *SQLiteStorage) insert(ctx context.Context, entry *types.Entry) (storage.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(ctx, entry)
}

// insertLocked stores entry unless its hash exists. Callers hold s.mu.
func (s *SQLiteStorage) insertLocked(ctx context.Context, entry *types.Entry) (storage.InsertResult, error) {
	existing, err := s.findByHash(ctx, entry.ContentHash)
	if err != nil {
		return storage.InsertResult{}, err
	}
	if existing != nil {
		slog.Debug("content already in history, skipping", "hash", entry.ContentHash, "id", existing.ID)
		return storage.InsertResult{Status: storage.Duplicate, Entry: existing}, nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	entry.ID = id.String()
	entry.CreatedAt = s.stamp()

	model := storage.FromEntry(entry)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost a race with another writer on the unique hash index.
			existing, ferr := s.findByHash(ctx, entry.ContentHash)
			if ferr == nil && existing != nil {
				return storage.InsertResult{Status: storage.Duplicate, Entry: existing}, nil
			}
		}
		return storage.InsertResult{}, storage.Unavailable("insert entry", err)
	}

	res := storage.InsertResult{Status: storage.Inserted, Entry: model.ToEntry()}
	slog.Debug("stored entry", "id", entry.ID, "kind", entry.Kind, "source", entry.SourceApp)

	evicted, err := s.sweep(ctx)
	res.Evicted = evicted
	if err != nil {
		return res, fmt.Errorf("retention sweep: %w", err)
	}
	return res, nil
}

// stamp returns a creation time that never precedes the previous one.
func (s *SQLiteStorage) stamp() time.Time {
	now := s.now().UTC()
	if now.Before(s.lastCreated) {
		now = s.lastCreated
	}
	s.lastCreated = now
	return now
}

func (s *SQLiteStorage) findByHash(ctx context.Context, hash string) (*types.Entry, error) {
	var model storage.EntryModel
	err := s.db.WithContext(ctx).Where("content_hash = ?", hash).Limit(1).Find(&model).Error
	if err != nil {
		return nil, storage.Unavailable("check existing content", err)
	}
	if model.ID == "" {
		return nil, nil
	}
	return model.ToEntry(), nil
}

// sweep enforces retention age and capacity on unpinned entries.
func (s *SQLiteStorage) sweep(ctx context.Context) (int, error) {
	prefs := s.settings.Current()
	victims := make(map[string]storage.EntryModel)

	if cutoff, ok := prefs.RetentionCutoff(s.now().UTC()); ok {
		var expired []storage.EntryModel
		err := s.db.WithContext(ctx).
			Select("id", "image_ref").
			Where("pinned = ? AND created_at < ?", false, cutoff).
			Find(&expired).Error
		if err != nil {
			return 0, storage.Unavailable("find expired entries", err)
		}
		for _, m := range expired {
			victims[m.ID] = m
		}
	}

	if prefs.MaxHistoryCount > 0 {
		var unpinned []storage.EntryModel
		err := s.db.WithContext(ctx).
			Select("id", "image_ref").
			Where("pinned = ?", false).
			Order("created_at DESC").
			Order("id DESC").
			Find(&unpinned).Error
		if err != nil {
			return 0, storage.Unavailable("find excess entries", err)
		}
		if len(unpinned) > prefs.MaxHistoryCount {
			for _, m := range unpinned[prefs.MaxHistoryCount:] {
				victims[m.ID] = m
			}
		}
	}

	if len(victims) == 0 {
		return 0, nil
	}

	models := make([]storage.EntryModel, 0, len(victims))
	for _, m := range victims {
		models = append(models, m)
	}
	if err := s.deleteModels(ctx, models); err != nil {
		return 0, err
	}
	slog.Info("retention sweep evicted entries", "count", len(models))
	return len(models), nil
}

// deleteModels removes the records in one transaction and then releases
// their blobs. A crash in between leaves orphaned blobs for SweepOrphans,
// never a record pointing at a missing file.
func (s *SQLiteStorage) deleteModels(ctx context.Context, models []storage.EntryModel) error {
	ids := make([]string, 0, len(models))
	var refs []string
	for _, m := range models {
		ids = append(ids, m.ID)
		if m.ImageRef != "" {
			refs = append(refs, m.ImageRef)
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("id IN ?", ids).Delete(&storage.EntryModel{}).Error
	})
	if err != nil {
		return storage.Unavailable("delete entries", err)
	}

	for _, ref := range refs {
		s.releaseBlob(ctx, ref)
	}
	return nil
}

// releaseBlob deletes ref unless a record still points at it. Failures are
// logged; the owning delete has already committed.
func (s *SQLiteStorage) releaseBlob(ctx context.Context, ref string) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&storage.EntryModel{}).Where("image_ref = ?", ref).Count(&count).Error; err != nil {
		slog.Warn("failed to count blob references, keeping blob", "ref", ref, "err", err)
		return
	}
	if count > 0 {
		return
	}
	if err := s.blobs.Delete(ctx, ref); err != nil {
		slog.Warn("failed to delete blob", "ref", ref, "err", err)
	}
}

// FetchAll implements storage.Storage interface
func (s *SQLiteStorage) FetchAll(ctx context.Context) ([]*types.Entry, error) {
	var models []storage.EntryModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Find(&models).Error
	if err != nil {
		return nil, storage.Unavailable("list entries", err)
	}
	return toEntries(models), nil
}

// Get implements storage.Storage interface
func (s *SQLiteStorage) Get(ctx context.Context, id string) (*types.Entry, error) {
	var model storage.EntryModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
		}
		return nil, storage.Unavailable("get entry", err)
	}
	return model.ToEntry(), nil
}

// Delete implements storage.Storage interface
func (s *SQLiteStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var model storage.EntryModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
		}
		return storage.Unavailable("get entry", err)
	}
	return s.deleteModels(ctx, []storage.EntryModel{model})
}

// ClearAll implements storage.Storage interface
func (s *SQLiteStorage) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("1 = 1").Delete(&storage.EntryModel{})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return storage.Unavailable("clear entries", err)
	}

	if err := s.blobs.ClearAll(ctx); err != nil {
		slog.Warn("failed to clear blobs, leaving them for the orphan sweep", "err", err)
	}
	slog.Info("cleared history", "removed", removed)
	return nil
}

// SetPinned implements storage.Storage interface
func (s *SQLiteStorage) SetPinned(ctx context.Context, id string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.db.WithContext(ctx).
		Model(&storage.EntryModel{}).
		Where("id = ?", id).
		Update("pinned", pinned)
	if result.Error != nil {
		return storage.Unavailable("set pinned", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return nil
}

// LoadImage implements storage.Storage interface
func (s *SQLiteStorage) LoadImage(ctx context.Context, entry *types.Entry) ([]byte, error) {
	if entry == nil || !entry.IsImage() {
		return nil, storage.ErrInvalidKind
	}
	return s.blobs.Load(ctx, entry.Image.Ref)
}

// SweepOrphans implements storage.Storage interface
func (s *SQLiteStorage) SweepOrphans(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var refs []string
	err := s.db.WithContext(ctx).
		Model(&storage.EntryModel{}).
		Where("image_ref <> ''").
		Distinct().
		Pluck("image_ref", &refs).Error
	if err != nil {
		return 0, storage.Unavailable("collect blob refs", err)
	}

	referenced := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		referenced[ref] = struct{}{}
	}
	return s.blobs.SweepOrphans(ctx, referenced)
}

// ImagesSize implements storage.Storage interface
func (s *SQLiteStorage) ImagesSize(ctx context.Context) (int64, error) {
	return s.blobs.Size(ctx)
}

func toEntries(models []storage.EntryModel) []*types.Entry {
	entries := make([]*types.Entry, len(models))
	for i := range models {
		entries[i] = models[i].ToEntry()
	}
	return entries
}

var _ storage.Storage = (*SQLiteStorage)(nil)
