// clipshare: share the clipboard with one peer over TCP or gRPC.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "clipshare",
		Short: "Share the clipboard with a peer",
		Long: `clipshare keeps the system clipboard of two machines in step.

Run "clipshare serve" on one host and "clipshare connect --peer host:port" on
the other. Text, images and copied files travel between them; the clipboard
as it was before the last incoming message can be brought back with
"clipshare restore".

Config file search order (first found wins):
  /etc/clipshare/clipshare.toml
  $HOME/.config/clipshare/clipshare.toml
  path supplied via --config

All flags can be set via CLIPSHARE_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newConnectCmd(),
		newSendCmd(),
		newRestoreCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clipshare %s\n", Version)
		},
	}
}
