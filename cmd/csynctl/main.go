// csynctl: control CLI for the csyncd sync store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

// DefaultServer is the csyncd API address used when --server is not given.
const DefaultServer = "http://localhost:7703"

func main() {
	root := &cobra.Command{
		Use:   "csynctl",
		Short: "Control the csync clipboard store",
		Long: `csynctl talks to a running csyncd daemon over its HTTP API.

List clipboard history, fetch payloads back onto the clipboard, push
new content, and manage retention:

  csynctl get metadata -o json
  csynctl get blob <id> -d
  csynctl put report.pdf
  csynctl delete <id>

The server address can also be set via the CSYNC_SERVER env var.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("server", defaultServer(), "csyncd API address")

	root.AddCommand(
		newGetCmd(),
		newPutCmd(),
		newDeleteCmd(),
		newPinCmd(),
		newClearCmd(),
		newStateCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultServer() string {
	if s := os.Getenv("CSYNC_SERVER"); s != "" {
		return s
	}
	return DefaultServer
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("csynctl %s\n", Version)
		},
	}
}

func clientFor(cmd *cobra.Command) *Client {
	server, _ := cmd.Flags().GetString("server")
	return NewClient(server)
}
