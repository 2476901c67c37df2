// Command podsync synchronizes computed playlists from a local music library
// onto iPod-style portable media players, reconciling against the device's
// native track catalog so already-present audio is never copied twice.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/podsync-dev/podsync/internal/config"
	"github.com/podsync-dev/podsync/internal/state"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// Available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Config

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "podsync",
		Short:   "Playlist sync for portable media players",
		Long:    "Syncs playlists from a local music library to iPod-style devices,\nmatching tracks against the device catalog so nothing is copied twice.",
		Version: version,
		// Silence Cobra's default error/usage printing; we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newPairCmd())
	cmd.AddCommand(newUnpairCmd())
	cmd.AddCommand(newDevicesCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadConfig resolves the effective configuration and stores the result in
// resolvedCfg for use by subcommands. Per-run sync flags are applied by the
// sync command itself because they are command-local.
func loadConfig() error {
	cfg, err := config.Resolve(config.CLIOverrides{ConfigPath: flagConfigPath})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. With a log_file set,
// output goes through lumberjack rotation instead of stderr.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		switch resolvedCfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	var w io.Writer = os.Stderr

	if resolvedCfg != nil && resolvedCfg.Logging.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   config.ExpandHome(resolvedCfg.Logging.LogFile),
			MaxSize:    20, // MiB
			MaxBackups: 3,
			MaxAge:     resolvedCfg.Logging.LogRetentionDays,
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if resolvedCfg != nil && resolvedCfg.Logging.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// openStore opens the durable state database, creating its directory on
// first run.
func openStore(logger *slog.Logger) (*state.Store, error) {
	dbPath := resolvedCfg.Storage.StateDB

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	store, err := state.NewStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	return store, nil
}

// findProfile resolves a device argument: exact profile id, then exact
// label, then label prefix, then device root path.
func findProfile(ctx context.Context, store *state.Store, arg string) (*state.DeviceProfile, error) {
	if p, err := store.GetProfile(ctx, arg); err == nil {
		return p, nil
	} else if !errors.Is(err, state.ErrNotFound) {
		return nil, err
	}

	profiles, err := store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range profiles {
		if p.Label == arg {
			return p, nil
		}
	}

	var prefixed []*state.DeviceProfile

	for _, p := range profiles {
		if strings.HasPrefix(p.Label, arg) || strings.HasPrefix(p.ID, arg) {
			prefixed = append(prefixed, p)
		}
	}

	if len(prefixed) == 1 {
		return prefixed[0], nil
	}

	if len(prefixed) > 1 {
		return nil, fmt.Errorf("device %q is ambiguous (%d matches)", arg, len(prefixed))
	}

	if abs, err := filepath.Abs(arg); err == nil {
		if p, err := store.GetProfileByRoot(ctx, abs); err == nil {
			return p, nil
		}
	}

	return nil, fmt.Errorf("no paired device matches %q (see 'podsync devices')", arg)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
