package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pastemine/internal/blobstore"
	"pastemine/internal/server"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Show whether the daemon is running",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			p := pathsFrom(v)
			pid, err := server.RunningPID(p.pid)
			if err != nil {
				return err
			}
			if pid == 0 {
				fmt.Fprintln(out, "pastemine is not running")
				size, err := localImagesSize(cmd.Context(), p.images)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "images: %s\n", formatBytes(size))
				return nil
			}
			fmt.Fprintf(out, "pastemine is running (pid %d)\n", pid)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			status, err := newAPIClient(v.GetInt("port")).Status(ctx)
			if err != nil {
				fmt.Fprintf(out, "api unreachable: %v\n", err)
				return nil
			}
			for _, k := range []string{"addr", "uptime", "accessibility", "notifications_denied", "clients"} {
				fmt.Fprintf(out, "%s: %v\n", k, status[k])
			}
			if n, ok := status["images_bytes"].(float64); ok && n >= 0 {
				fmt.Fprintf(out, "images: %s\n", formatBytes(int64(n)))
			}
			return nil
		},
	}
	cmd.Flags().Int("port", server.DefaultPort, "local API port")
	addDataFlags(cmd)
	return cmd
}

func newStopCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:     "stop",
		Short:   "Stop a running daemon",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			pid, err := server.StopDaemon(pathsFrom(v).pid)
			if err != nil {
				return err
			}
			if pid == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "pastemine is not running")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped pastemine (pid %d)\n", pid)
			return nil
		},
	}
	addDataFlags(cmd)
	return cmd
}

// localImagesSize sums the image directory without opening the database.
func localImagesSize(ctx context.Context, dir string) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	blobs, err := blobstore.NewFileStore(dir)
	if err != nil {
		return 0, err
	}
	return blobs.Size(ctx)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
