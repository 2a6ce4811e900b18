//go:build !darwin

package clipboard

import (
	"bytes"
	"log/slog"
	"sync"

	"golang.design/x/clipboard"
)

// portablePasteboard has no native change counter, so it derives one by
// comparing contents on every ChangeCount call.
type portablePasteboard struct {
	mu       sync.Mutex
	count    int
	lastText []byte
	lastImg  []byte
}

// NewPasteboard returns the system clipboard, or a headless no-op pasteboard
// when no display is available. clipboard.Init is called here rather than in
// init() so that CLI sub-commands don't need a display.
func NewPasteboard() (Pasteboard, error) {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return Headless{}, nil
	}
	return &portablePasteboard{}, nil
}

func (p *portablePasteboard) ChangeCount() int {
	text := clipboard.Read(clipboard.FmtText)
	img := clipboard.Read(clipboard.FmtImage)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !bytes.Equal(text, p.lastText) || !bytes.Equal(img, p.lastImg) {
		p.lastText = text
		p.lastImg = img
		p.count++
	}
	return p.count
}

func (p *portablePasteboard) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	if p.lastImg != nil {
		out = append(out, TypePNG)
	}
	if p.lastText != nil {
		out = append(out, TypeUTF8Text)
	}
	return out
}

func (p *portablePasteboard) Image() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastImg
}

func (p *portablePasteboard) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.lastText)
}

// FrontmostApp is unknown off macOS.
func (p *portablePasteboard) FrontmostApp() string { return "" }
