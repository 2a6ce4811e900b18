// pastemine: clipboard history daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pastemine",
		Short: "Clipboard history daemon",
		Long: `pastemine watches the system clipboard and keeps a searchable history
of the text and images you copy. Pick an entry from the history to put it back
on the clipboard and paste it into the app you were using.

Run "pastemine serve" to start the daemon and "pastemine pick" to browse and
paste from a terminal. The other commands work whether or not the daemon is
running: while it runs they go through its local API, otherwise they read and
edit the history on disk.

Config file search order (first found wins):
  <user config dir>/pastemine/pastemine.toml
  $HOME/.config/pastemine/pastemine.toml
  path supplied via --config

All flags can be set via PASTEMINE_<FLAG> env vars or config-file keys,
e.g. PASTEMINE_DATA_DIR or data-dir = "...".`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newPickCmd(),
		newListCmd(),
		newSearchCmd(),
		newAppsCmd(),
		newDeleteCmd(),
		newPinCmd(true),
		newPinCmd(false),
		newClearCmd(),
		newSweepCmd(),
		newStatusCmd(),
		newStopCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pastemine %s\n", Version)
		},
	}
}
