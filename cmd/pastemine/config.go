package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pastemine/internal/logging"
	"pastemine/internal/settings"
	"pastemine/internal/storage"
	"pastemine/internal/storage/sqlite"
)

// dataDir is where pastemine keeps its settings, database, images and PID
// file unless --data-dir says otherwise.
func dataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "pastemine")
	}
	return ".pastemine"
}

// paths derives every on-disk location from the data directory.
type paths struct {
	settings string
	db       string
	images   string
	pid      string
}

func pathsFrom(v *viper.Viper) paths {
	dir := v.GetString("data-dir")
	p := paths{
		settings: filepath.Join(dir, "settings.json"),
		db:       filepath.Join(dir, "history.db"),
		images:   filepath.Join(dir, "images"),
		pid:      filepath.Join(dir, "pastemine.pid"),
	}
	if s := v.GetString("settings"); s != "" {
		p.settings = s
	}
	return p
}

// bindViper wires a command's flags into a viper instance with the
// standard config file search order and PASTEMINE_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → PASTEMINE_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("pastemine")
		v.SetConfigType("toml")
		v.AddConfigPath(dataDir())
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "pastemine"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("PASTEMINE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addDataFlags adds the flags that locate pastemine's files.
func addDataFlags(cmd *cobra.Command) {
	cmd.Flags().String("data-dir", dataDir(), "directory holding settings, history and images")
	cmd.Flags().String("settings", "", "path to settings.json (default: <data-dir>/settings.json)")
	addConfigFlag(cmd)
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	resolveLogging(interactive, v.GetString("log-format"), v.GetString("log-level"))
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}

// openStore opens the settings file and the history database behind it.
// The caller closes the store.
func openStore(p paths, watch bool) (*settings.FileProvider, *sqlite.SQLiteStorage, error) {
	prefs, err := settings.Open(p.settings, watch)
	if err != nil {
		return nil, nil, err
	}
	store, err := sqlite.New(storage.Config{DBPath: p.db, FSPath: p.images}, prefs)
	if err != nil {
		return nil, nil, fmt.Errorf("opening history: %w", err)
	}
	return prefs, store, nil
}
