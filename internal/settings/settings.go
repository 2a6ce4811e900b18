// Package settings holds the user preferences the history engine consults on
// every insertion and eviction decision.
package settings

import (
	"strings"
	"sync"
	"time"
)

// Defaults.
const (
	DefaultMaxHistoryCount = 100
	DefaultMaxImageSize    = 10 * 1024 * 1024
	DefaultGlobalShortcut  = "⌘⇧V"
)

// Settings is the JSON document persisted in the user's config directory.
type Settings struct {
	MaxHistoryCount      int      `json:"max_history_count" mapstructure:"max_history_count"`
	RetentionDays        int      `json:"retention_days" mapstructure:"retention_days"`
	MaxImageSize         int64    `json:"max_image_size" mapstructure:"max_image_size"`
	NotificationsEnabled bool     `json:"notifications_enabled" mapstructure:"notifications_enabled"`
	SoundEnabled         bool     `json:"sound_enabled" mapstructure:"sound_enabled"`
	GlobalShortcut       string   `json:"global_shortcut" mapstructure:"global_shortcut"`
	IgnoredApps          []string `json:"ignored_apps" mapstructure:"ignored_apps"`
	IgnoredTypes         []string `json:"ignored_types" mapstructure:"ignored_types"`
	ClearOnQuit          bool     `json:"clear_on_quit" mapstructure:"clear_on_quit"`
}

// Default returns the settings used when no file exists.
func Default() Settings {
	return Settings{
		MaxHistoryCount:      DefaultMaxHistoryCount,
		MaxImageSize:         DefaultMaxImageSize,
		NotificationsEnabled: true,
		SoundEnabled:         true,
		GlobalShortcut:       DefaultGlobalShortcut,
		IgnoredTypes: []string{
			"org.nspasteboard.ConcealedType",
			"org.nspasteboard.TransientType",
		},
	}
}

// Normalize clamps negative values to their "unlimited" meaning.
func (s Settings) Normalize() Settings {
	if s.MaxHistoryCount < 0 {
		s.MaxHistoryCount = 0
	}
	if s.RetentionDays < 0 {
		s.RetentionDays = 0
	}
	if s.MaxImageSize < 0 {
		s.MaxImageSize = 0
	}
	return s
}

// RetentionCutoff returns the creation time before which unpinned entries
// expire. ok is false when retention is unlimited.
func (s Settings) RetentionCutoff(now time.Time) (cutoff time.Time, ok bool) {
	if s.RetentionDays <= 0 {
		return time.Time{}, false
	}
	return now.AddDate(0, 0, -s.RetentionDays), true
}

// IsIgnoredApp matches app names case-insensitively.
func (s Settings) IsIgnoredApp(app string) bool {
	if app == "" {
		return false
	}
	for _, ignored := range s.IgnoredApps {
		if strings.EqualFold(strings.TrimSpace(ignored), app) {
			return true
		}
	}
	return false
}

// IgnoredType returns the first pasteboard type present in types that is on
// the ignore list.
func (s Settings) IgnoredType(types []string) (string, bool) {
	for _, t := range types {
		for _, ignored := range s.IgnoredTypes {
			if t == ignored {
				return t, true
			}
		}
	}
	return "", false
}

// Provider hands out the current settings. Implementations must be safe for
// concurrent use; callers read it at every decision point instead of
// holding on to a copy.
type Provider interface {
	Current() Settings
}

// Static is an in-memory Provider.
type Static struct {
	mu sync.RWMutex
	s  Settings
}

// NewStatic returns a Provider that always yields s until Set is called.
func NewStatic(s Settings) *Static {
	return &Static{s: s}
}

// Current implements Provider.
func (p *Static) Current() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.s
}

// Set replaces the settings.
func (p *Static) Set(s Settings) {
	p.mu.Lock()
	p.s = s
	p.mu.Unlock()
}

// Update applies fn to a copy of the current settings and stores the result.
func (p *Static) Update(fn func(*Settings)) {
	p.mu.Lock()
	fn(&p.s)
	p.mu.Unlock()
}
