package sqlite

import (
	"context"
	"strings"

	"pastemine/internal/storage"
	"pastemine/pkg/types"
)

// imageKeywords are what users type to find screenshots and copied pictures.
var imageKeywords = []string{"image", "图片"}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search implements storage.Storage interface
func (s *SQLiteStorage) Search(ctx context.Context, keyword string) ([]*types.Entry, error) {
	return s.List(ctx, storage.Filter{Keyword: keyword})
}

// List implements storage.Storage interface
func (s *SQLiteStorage) List(ctx context.Context, filter storage.Filter) ([]*types.Entry, error) {
	query := s.db.WithContext(ctx)

	if app := strings.TrimSpace(filter.SourceApp); app != "" {
		query = query.Where("source_app = ?", app)
	}

	if term := strings.ToLower(strings.TrimSpace(filter.Keyword)); term != "" {
		pattern := "%" + likeEscaper.Replace(term) + "%"

		match := s.db.Where("kind = ? AND LOWER(content) LIKE ? ESCAPE '\\'", types.KindText, pattern).
			Or("kind = ? AND LOWER(source_app) LIKE ? ESCAPE '\\'", types.KindImage, pattern)
		if isImageKeyword(term) {
			match = match.Or("kind = ?", types.KindImage)
		}
		query = query.Where(match)
	}

	var models []storage.EntryModel
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Find(&models).Error
	if err != nil {
		return nil, storage.Unavailable("search entries", err)
	}
	return toEntries(models), nil
}

func isImageKeyword(term string) bool {
	for _, kw := range imageKeywords {
		if strings.Contains(kw, term) {
			return true
		}
	}
	return false
}

// SourceApps implements storage.Storage interface
func (s *SQLiteStorage) SourceApps(ctx context.Context) ([]storage.AppCount, error) {
	var apps []storage.AppCount
	err := s.db.WithContext(ctx).
		Model(&storage.EntryModel{}).
		Select("source_app AS app, COUNT(*) AS count").
		Where("source_app <> ''").
		Group("source_app").
		Order("count DESC").
		Order("app ASC").
		Scan(&apps).Error
	if err != nil {
		return nil, storage.Unavailable("count source apps", err)
	}
	return apps, nil
}
