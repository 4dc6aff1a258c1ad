package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a history entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientFor(cmd).Delete(cmd.Context(), args[0])
		},
	}
}

func newPinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin <id>",
		Short: "Pin an entry so it is never evicted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unpin, _ := cmd.Flags().GetBool("unpin")
			return clientFor(cmd).Pin(cmd.Context(), args[0], !unpin)
		},
	}
	cmd.Flags().Bool("unpin", false, "remove the pin instead")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all unpinned entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return clientFor(cmd).Clear(cmd.Context())
		},
	}
}

func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show store revision and object counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := clientFor(cmd).State(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(state)
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream store events as they happen",
		Long: `Connects to the daemon's event feed and prints one JSON line per
put or delete event until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, _, err := websocket.DefaultDialer.DialContext(
				cmd.Context(), clientFor(cmd).EventsURL(), nil)
			if err != nil {
				return fmt.Errorf("failed to connect to event feed: %w", err)
			}
			defer conn.Close()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				conn.Close()
			}()

			for {
				_, message, err := conn.ReadMessage()
				if err != nil {
					return nil
				}
				fmt.Println(string(message))
			}
		},
	}
}
