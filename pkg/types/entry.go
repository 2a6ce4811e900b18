package types

import (
	"fmt"
	"time"
)

// Kind is the payload class of a clipboard entry.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Entry is a single clipboard history record.
type Entry struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Content     string    `json:"content,omitempty"` // text entries only
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	SourceApp   string    `json:"source_app,omitempty"`
	Image       *ImageRef `json:"image,omitempty"` // image entries only
	Pinned      bool      `json:"pinned"`
}

// ImageRef points into the image blob store.
type ImageRef struct {
	Ref    string `json:"ref"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// IsImage reports whether the entry is backed by a blob.
func (e *Entry) IsImage() bool {
	return e.Kind == KindImage && e.Image != nil && e.Image.Ref != ""
}

// Preview returns a short human readable summary of the entry.
func (e *Entry) Preview() string {
	if e.Kind == KindImage {
		if e.Image != nil {
			return fmt.Sprintf("[image %dx%d]", e.Image.Width, e.Image.Height)
		}
		return "[image]"
	}
	return e.Content
}

// Capture is what the poller observed on the pasteboard for one change.
type Capture struct {
	Kind      Kind
	Text      string
	Image     []byte // raw pasteboard image bytes
	Hash      string
	SourceApp string
	Types     []string
	At        time.Time
}
