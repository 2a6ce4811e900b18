//go:build darwin

package clipboard

import (
	"log/slog"
	"sync"

	"github.com/progrium/darwinkit/macos/appkit"
)

// DarwinPasteboard reads NSPasteboard.generalPasteboard.
type DarwinPasteboard struct {
	pasteboard appkit.Pasteboard
	mutex      sync.Mutex
}

// NewPasteboard returns the general pasteboard.
func NewPasteboard() (Pasteboard, error) {
	return &DarwinPasteboard{
		pasteboard: appkit.Pasteboard_GeneralPasteboard(),
	}, nil
}

func (p *DarwinPasteboard) ChangeCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.pasteboard.ChangeCount()
}

func (p *DarwinPasteboard) Types() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var out []string
	for _, t := range p.pasteboard.Types() {
		out = append(out, string(t))
	}
	return out
}

// Image prefers PNG over TIFF. Screenshots usually carry both.
func (p *DarwinPasteboard) Image() []byte {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, t := range []string{TypePNG, TypeTIFF} {
		if data := p.pasteboard.DataForType(appkit.PasteboardType(t)); len(data) > 0 {
			return data
		}
	}
	return nil
}

func (p *DarwinPasteboard) Text() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.pasteboard.StringForType(appkit.PasteboardType(TypeUTF8Text))
}

// FrontmostApp trusts a bundle id published on the pasteboard by the copying
// app, and otherwise falls back to whatever is in front.
func (p *DarwinPasteboard) FrontmostApp() string {
	p.mutex.Lock()
	bundleID := p.pasteboard.StringForType(appkit.PasteboardType("com.apple.pasteboard.bundleid"))
	p.mutex.Unlock()

	if bundleID != "" {
		if apps := appkit.RunningApplication_RunningApplicationsWithBundleIdentifier(bundleID); len(apps) > 0 {
			return apps[0].LocalizedName()
		}
	}

	app := appkit.Workspace_SharedWorkspace().FrontmostApplication()
	name := app.LocalizedName()
	if name == "" {
		slog.Debug("could not determine source application")
	}
	return name
}
