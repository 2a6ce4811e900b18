package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pastemine/internal/notify"
	"pastemine/internal/server"
	"pastemine/internal/storage"
	"pastemine/pkg/types"
)

// withHistory runs fn against the running daemon's API, or against the
// store on disk when no daemon holds the PID file.
func withHistory(v *viper.Viper, fn func(ctx context.Context, h history) error) error {
	resolveLogging(false, "auto", "warn")
	p := pathsFrom(v)
	ctx := context.Background()

	pid, err := server.RunningPID(p.pid)
	if err != nil {
		return err
	}
	if pid != 0 {
		slog.Debug("using running daemon", "pid", pid, "port", v.GetInt("port"))
		return fn(ctx, newAPIClient(v.GetInt("port")))
	}

	_, store, err := openStore(p, false)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, localHistory{store})
}

// addHistoryFlags adds what withHistory needs to find the history.
func addHistoryFlags(cmd *cobra.Command) {
	cmd.Flags().Int("port", server.DefaultPort, "local API port of a running daemon")
	addDataFlags(cmd)
}

func newListCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List the clipboard history, newest first",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withHistory(v, func(ctx context.Context, h history) error {
				entries, err := h.List(ctx, storage.Filter{SourceApp: v.GetString("app")})
				if err != nil {
					return err
				}
				return printEntries(cmd.OutOrStdout(), entries, v.GetInt("limit"), v.GetBool("json"))
			})
		},
	}
	cmd.Flags().Int("limit", 0, "show at most this many entries (0 = all)")
	cmd.Flags().String("app", "", "only entries copied from this app")
	cmd.Flags().Bool("json", false, "output raw JSON")
	addHistoryFlags(cmd)
	return cmd
}

func newSearchCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:     "search <keyword>",
		Short:   "Search text entries; \"image\" or an app name also matches images",
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(v, func(ctx context.Context, h history) error {
				entries, err := h.List(ctx, storage.Filter{Keyword: args[0], SourceApp: v.GetString("app")})
				if err != nil {
					return err
				}
				return printEntries(cmd.OutOrStdout(), entries, 0, v.GetBool("json"))
			})
		},
	}
	cmd.Flags().String("app", "", "only entries copied from this app")
	cmd.Flags().Bool("json", false, "output raw JSON")
	addHistoryFlags(cmd)
	return cmd
}

func newAppsCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:     "apps",
		Short:   "List the apps entries were copied from, most used first",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withHistory(v, func(ctx context.Context, h history) error {
				apps, err := h.SourceApps(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if v.GetBool("json") {
					if apps == nil {
						apps = []storage.AppCount{}
					}
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(apps)
				}
				if len(apps) == 0 {
					fmt.Fprintln(out, "No apps.")
					return nil
				}
				tw := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
				_, _ = fmt.Fprintf(tw, "APP\tENTRIES\n")
				for _, a := range apps {
					_, _ = fmt.Fprintf(tw, "%s\t%d\n", a.App, a.Count)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().Bool("json", false, "output raw JSON")
	addHistoryFlags(cmd)
	return cmd
}

func newDeleteCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:     "delete <id>...",
		Short:   "Delete entries from the history",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(v, func(ctx context.Context, h history) error {
				for _, id := range args {
					if err := h.Delete(ctx, id); err != nil {
						return fmt.Errorf("delete %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	}
	addHistoryFlags(cmd)
	return cmd
}

// newPinCmd builds "pin" or "unpin".
func newPinCmd(pinned bool) *cobra.Command {
	v := viper.New()
	use, short := "pin <id>", "Exempt an entry from eviction"
	if !pinned {
		use, short = "unpin <id>", "Let an entry be evicted again"
	}
	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(v, func(ctx context.Context, h history) error {
				entry, err := h.SetPinned(ctx, args[0], pinned)
				if err != nil {
					return err
				}
				return printEntries(cmd.OutOrStdout(), []*types.Entry{entry}, 0, false)
			})
		},
	}
	addHistoryFlags(cmd)
	return cmd
}

func newClearCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:     "clear",
		Short:   "Remove every entry, pinned ones included",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !v.GetBool("yes") {
				return fmt.Errorf("refusing to clear the history without --yes")
			}
			return withHistory(v, func(ctx context.Context, h history) error {
				if err := h.ClearAll(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "confirm")
	addHistoryFlags(cmd)
	return cmd
}

func newSweepCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete image files no entry references",
		Long: `Deletes image files that no history entry references. Files written in
the last few minutes are left alone. When the daemon is running the sweep
runs inside it.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withHistory(v, func(ctx context.Context, h history) error {
				n, err := h.SweepOrphans(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphaned image(s)\n", n)
				return nil
			})
		},
	}
	addHistoryFlags(cmd)
	return cmd
}

func printEntries(out io.Writer, entries []*types.Entry, limit int, jsonOut bool) error {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	if jsonOut {
		if entries == nil {
			entries = []*types.Entry{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No entries.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "\tID\tKIND\tCREATED\tAPP\tPREVIEW\n")
	for _, e := range entries {
		marker := ""
		if e.Pinned {
			marker = "*"
		}
		app := e.SourceApp
		if app == "" {
			app = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			marker, e.ID, e.Kind, e.CreatedAt.Local().Format(time.DateTime), app, oneLine(e.Preview()),
		)
	}
	return tw.Flush()
}

// oneLine collapses whitespace so multi-line clips fit a table row.
func oneLine(s string) string {
	return notify.Truncate(strings.Join(strings.Fields(s), " "))
}
