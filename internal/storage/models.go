package storage

import (
	"time"

	"pastemine/pkg/types"
)

// EntryModel is the persisted row. It does not embed gorm.Model: soft
// deletes would keep hashes alive in the unique index and block
// re-capturing content the user deleted.
type EntryModel struct {
	ID          string    `gorm:"primaryKey;type:text"`
	Kind        string    `gorm:"type:text;not null;index"`
	Content     string    `gorm:"type:text"`
	ContentHash string    `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt   time.Time `gorm:"not null;index"`
	SourceApp   string    `gorm:"type:text"`
	ImageRef    string    `gorm:"type:text;index"`
	ImageWidth  int
	ImageHeight int
	Pinned      bool `gorm:"not null;default:false;index"`
}

func (EntryModel) TableName() string {
	return "clipboard_entries"
}

func (m *EntryModel) ToEntry() *types.Entry {
	e := &types.Entry{
		ID:          m.ID,
		Kind:        types.Kind(m.Kind),
		Content:     m.Content,
		ContentHash: m.ContentHash,
		CreatedAt:   m.CreatedAt,
		SourceApp:   m.SourceApp,
		Pinned:      m.Pinned,
	}
	if m.ImageRef != "" {
		e.Image = &types.ImageRef{
			Ref:    m.ImageRef,
			Width:  m.ImageWidth,
			Height: m.ImageHeight,
		}
	}
	return e
}

func FromEntry(e *types.Entry) *EntryModel {
	m := &EntryModel{
		ID:          e.ID,
		Kind:        string(e.Kind),
		Content:     e.Content,
		ContentHash: e.ContentHash,
		CreatedAt:   e.CreatedAt,
		SourceApp:   e.SourceApp,
		Pinned:      e.Pinned,
	}
	if e.Image != nil {
		m.ImageRef = e.Image.Ref
		m.ImageWidth = e.Image.Width
		m.ImageHeight = e.Image.Height
	}
	return m
}
