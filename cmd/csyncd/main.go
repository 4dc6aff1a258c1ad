// csyncd: the clipboard sync store daemon.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"csync/internal/clipboard"
	"csync/internal/ingest"
	"csync/internal/logging"
	"csync/internal/query"
	"csync/internal/server"
	"csync/internal/service"
	"csync/internal/storage"
	"csync/internal/storage/sqlite"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	v := viper.New()

	root := &cobra.Command{
		Use:   "csyncd",
		Short: "Clipboard sync store daemon",
		Long: `csyncd maintains a shared, deduplicated clipboard history and serves
it over a local HTTP API. It captures the system clipboard, accepts
remote clipboard events, and retains a bounded history of entries.

Config file search order (first found wins):
  /etc/csync/csyncd.toml
  $HOME/.config/csync/csyncd.toml
  path supplied via --config

All flags can be set via CSYNC_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindViper(cmd, v)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(v)
		},
	}

	f := root.Flags()
	f.String("config", "", "path to config file (overrides auto-discovery)")
	f.String("data-dir", "", "data directory (default: ~/.csync)")
	f.String("db", "", "database path (default: <data-dir>/csync.db)")
	f.String("fs", "", "large payload path (default: <data-dir>/files)")
	f.String("listen", "localhost:7703", "HTTP API listen address")
	f.Int("max-entries", storage.DefaultMaxEntries, "retention bound: max history entries kept")
	f.String("eviction", "fifo", "eviction policy: fifo|lru")
	f.Duration("recycle-window", 10*time.Minute, "grace period before unreferenced payloads are deleted")
	f.Duration("sweep-interval", time.Minute, "how often the recycle sweep runs")
	f.Int("summary-width", ingest.DefaultSummaryWidth, "display width of text summaries")
	f.String("source", defaultSource(), "source name attached to locally captured events")
	f.Bool("no-watch", false, "disable local clipboard capture")
	f.String("log-level", "info", "log level: debug|info|warn|error")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("csyncd %s\n", Version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(v *viper.Viper) error {
	logging.Setup(v.GetString("log-level"))

	dataDir := v.GetString("data-dir")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".csync")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := v.GetString("db")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "csync.db")
	}
	fsPath := v.GetString("fs")
	if fsPath == "" {
		fsPath = filepath.Join(dataDir, "files")
	}

	policy, ok := storage.ParsePolicy(v.GetString("eviction"))
	if !ok {
		return fmt.Errorf("invalid eviction policy %q", v.GetString("eviction"))
	}

	pid, err := server.NewPIDFile(dataDir)
	if err != nil {
		return err
	}
	if err := pid.Acquire(); err != nil {
		return err
	}
	defer pid.Release()

	db, err := sqlite.Open(storage.Config{
		DBPath:        dbPath,
		FSPath:        fsPath,
		MaxEntries:    v.GetInt("max-entries"),
		Eviction:      policy,
		RecycleWindow: v.GetDuration("recycle-window"),
	})
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer db.Close()

	blobs := sqlite.NewBlobStore(db)
	index, err := sqlite.NewHistoryIndex(db, blobs)
	if err != nil {
		return fmt.Errorf("failed to open history index: %w", err)
	}

	pipeline := ingest.New(blobs, index, ingest.Config{
		SummaryWidth: v.GetInt("summary-width"),
	})

	var monitor clipboard.Monitor
	if !v.GetBool("no-watch") {
		monitor = clipboard.NewWatcher(v.GetString("source"))
	}

	svc := service.New(monitor, pipeline, blobs, index, service.Config{
		SweepInterval: v.GetDuration("sweep-interval"),
	})
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start sync service: %w", err)
	}

	queries := query.New(blobs, index, db, policy == storage.PolicyLRU)

	srv := server.New(svc, queries, server.Config{Addr: v.GetString("listen")})
	if err := srv.Start(); err != nil {
		svc.Stop()
		return err
	}

	slog.Info("csyncd started",
		"version", Version,
		"listen", v.GetString("listen"),
		"db", dbPath,
		"max_entries", v.GetInt("max-entries"),
		"eviction", policy,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	if err := srv.Stop(); err != nil {
		slog.Error("error stopping server", "error", err)
	}
	if err := svc.Stop(); err != nil {
		slog.Error("error stopping service", "error", err)
	}
	return nil
}
