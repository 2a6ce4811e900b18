package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FileProvider reads settings from a JSON file and reloads them whenever the
// file changes on disk.
type FileProvider struct {
	path string
	v    *viper.Viper

	mu  sync.RWMutex
	cur Settings
}

// Open loads path, writing the defaults first if it does not exist. When
// watch is true the file is watched for edits.
func Open(path string, watch bool) (*FileProvider, error) {
	p := &FileProvider{path: path, v: viper.New()}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := p.Save(Default()); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}

	p.v.SetConfigFile(path)
	p.v.SetConfigType("json")
	setDefaults(p.v)

	if err := p.reload(); err != nil {
		return nil, err
	}

	if watch {
		p.v.OnConfigChange(func(e fsnotify.Event) {
			if err := p.reload(); err != nil {
				slog.Warn("settings reload failed, keeping previous values", "path", e.Name, "err", err)
				return
			}
			slog.Info("settings reloaded", "path", e.Name)
		})
		p.v.WatchConfig()
	}
	return p, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("max_history_count", d.MaxHistoryCount)
	v.SetDefault("retention_days", d.RetentionDays)
	v.SetDefault("max_image_size", d.MaxImageSize)
	v.SetDefault("notifications_enabled", d.NotificationsEnabled)
	v.SetDefault("sound_enabled", d.SoundEnabled)
	v.SetDefault("global_shortcut", d.GlobalShortcut)
	v.SetDefault("ignored_apps", d.IgnoredApps)
	v.SetDefault("ignored_types", d.IgnoredTypes)
	v.SetDefault("clear_on_quit", d.ClearOnQuit)
}

func (p *FileProvider) reload() error {
	if err := p.v.ReadInConfig(); err != nil {
		return fmt.Errorf("settings: read %s: %w", p.path, err)
	}
	var s Settings
	if err := p.v.Unmarshal(&s); err != nil {
		return fmt.Errorf("settings: decode %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.cur = s.Normalize()
	p.mu.Unlock()
	return nil
}

// Current implements Provider.
func (p *FileProvider) Current() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cur
}

// Path returns the settings file location.
func (p *FileProvider) Path() string { return p.path }

// Save writes s to disk and makes it current.
func (p *FileProvider) Save(s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("settings: create directory: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("settings: write: %w", err)
	}

	p.mu.Lock()
	p.cur = s.Normalize()
	p.mu.Unlock()
	return nil
}
