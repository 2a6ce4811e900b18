package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pastemine/internal/clipboard"
	"pastemine/internal/janitor"
	"pastemine/internal/notify"
	"pastemine/internal/paste"
	"pastemine/internal/server"
	"pastemine/internal/service"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the clipboard history daemon",
		Long: `Starts the daemon: polls the clipboard, records new text and images,
and serves the history to the UI on a local HTTP and websocket API.

Settings are read from <data-dir>/settings.json and reloaded when the file
changes. Only one daemon runs per data directory.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runServe(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.Int("port", server.DefaultPort, "local API port")
	f.Duration("interval", clipboard.DefaultInterval, "clipboard poll interval")
	f.Duration("sweep-interval", janitor.DefaultInterval, "interval between orphaned image sweeps")
	f.Bool("no-notify", false, "log notifications instead of showing them")
	addDataFlags(cmd)
	addLoggingFlags(cmd)

	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	setupLogging(v)
	if ctx == nil {
		ctx = context.Background()
	}

	p := pathsFrom(v)
	slog.Info("pastemine starting", "version", Version, "data_dir", v.GetString("data-dir"))

	prefs, store, err := openStore(p, true)
	if err != nil {
		return err
	}
	defer store.Close()

	pb, err := clipboard.NewPasteboard()
	if err != nil {
		return fmt.Errorf("pasteboard: %w", err)
	}

	var notifier notify.Notifier = notify.NewDesktopNotifier()
	if v.GetBool("no-notify") {
		notifier = notify.LogNotifier{}
	}

	svc := service.New(service.Config{
		Store:      store,
		Pasteboard: pb,
		Settings:   prefs,
		Notifier:   notifier,
		Writer:     paste.NewSystemWriter(),
		PasteOptions: []paste.Option{
			paste.WithFocus(paste.NewFocus()),
			paste.WithAuthorizer(paste.NewAuthorizer()),
			paste.WithKeystroker(paste.NewKeystroker()),
		},
		Interval: v.GetDuration("interval"),
	})

	srv := server.New(svc, server.Config{Port: v.GetInt("port"), PIDPath: p.pid})
	if err := srv.Start(); err != nil {
		if errors.Is(err, server.ErrAlreadyRunning) {
			return fmt.Errorf("pastemine is already running (see %s)", p.pid)
		}
		return err
	}

	if err := svc.Start(); err != nil {
		srv.Stop()
		return err
	}

	jan, err := janitor.New(svc, janitor.Config{Interval: v.GetDuration("sweep-interval")})
	if err != nil {
		svc.Stop()
		srv.Stop()
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := jan.Start(ctx); err != nil {
		slog.Warn("janitor failed to start", "err", err)
	}

	<-ctx.Done()
	slog.Info("shutting down")

	jan.Stop()
	if err := srv.Stop(); err != nil {
		slog.Warn("server shutdown", "err", err)
	}
	if err := svc.Stop(); err != nil {
		slog.Error("service shutdown", "err", err)
		return err
	}
	return nil
}
