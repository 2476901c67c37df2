package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/podsync-dev/podsync/internal/config"
	"github.com/podsync-dev/podsync/internal/device"
	"github.com/podsync-dev/podsync/internal/library"
	"github.com/podsync-dev/podsync/internal/sync"
	"github.com/podsync-dev/podsync/internal/transcode"
)

func newSyncCmd() *cobra.Command {
	var (
		flagMirror        bool
		flagDeleteRemoved bool
		flagReferenceOnly bool
		flagDryRun        bool
		flagResetMappings bool
		flagLibraryRoot   string
	)

	cmd := &cobra.Command{
		Use:   "sync <device> <manifest.json>",
		Short: "Sync playlists from a manifest to a paired device",
		Long: `Sync the playlists described by a target manifest onto a paired device.

The manifest is produced by the playlist pipeline and carries each track's
tag metadata plus its file path relative to the library root. Tracks already
on the device are matched, not re-copied; lossless sources are transcoded.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Per-run policy flags override the config file only when set.
			if cmd.Flags().Changed("mirror") {
				resolvedCfg.Sync.Mirror = flagMirror
			}

			if cmd.Flags().Changed("delete-removed") {
				resolvedCfg.Sync.DeleteRemoved = flagDeleteRemoved
			}

			if cmd.Flags().Changed("reference-only") {
				resolvedCfg.Sync.ReferenceOnly = flagReferenceOnly
			}

			libraryRoot := resolvedCfg.Library.Root
			if cmd.Flags().Changed("library") {
				libraryRoot = config.ExpandHome(flagLibraryRoot)
			}

			if libraryRoot == "" {
				return fmt.Errorf("no library root configured (set [library] root or pass --library)")
			}

			return runSync(args[0], args[1], libraryRoot, flagDryRun, flagResetMappings)
		},
	}

	cmd.Flags().BoolVar(&flagMirror, "mirror", false, "make device playlists exactly match the manifest")
	cmd.Flags().BoolVar(&flagDeleteRemoved, "delete-removed", false, "with --mirror, also delete removed tracks from the device")
	cmd.Flags().BoolVar(&flagReferenceOnly, "reference-only", false, "only reference tracks already on the device, never copy")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "resolve and report without writing anything")
	cmd.Flags().BoolVar(&flagResetMappings, "reset-mappings", false, "discard stored track mappings before the run (after a device restore)")
	cmd.Flags().StringVar(&flagLibraryRoot, "library", "", "library root the manifest paths resolve under")

	return cmd
}

func runSync(deviceArg, manifestPath, libraryRoot string, dryRun, resetMappings bool) error {
	logger := buildLogger()

	ctx, cancel := signalContext()
	defer cancel()

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	profile, err := findProfile(ctx, store, deviceArg)
	if err != nil {
		return err
	}

	// After a device restore the stored device track ids are meaningless;
	// dropping the mappings makes every track resolve through the deeper
	// identity tiers again.
	if resetMappings && !dryRun {
		if err := store.DeleteMappings(ctx, profile.ID); err != nil {
			return err
		}

		logger.Info("track mappings reset", slog.String("device", profile.Label))
	}

	manifest, err := library.LoadManifest(manifestPath, libraryRoot)
	if err != nil {
		return err
	}

	targets := make([]sync.Target, 0, len(manifest.Playlists))
	for _, pl := range manifest.Playlists {
		targets = append(targets, sync.Target{
			Playlist:      pl.Playlist,
			Tracks:        pl.Tracks,
			LibraryRoot:   libraryRoot,
			Mirror:        resolvedCfg.Sync.Mirror,
			DeleteRemoved: resolvedCfg.Sync.DeleteRemoved,
			ReferenceOnly: resolvedCfg.Sync.ReferenceOnly,
		})
	}

	timeout, err := resolvedCfg.TranscodeTimeout()
	if err != nil {
		return err
	}

	pool := transcode.NewPool(transcode.Options{
		Workers:    resolvedCfg.Transcode.Workers,
		Timeout:    timeout,
		ScratchDir: resolvedCfg.Transcode.ScratchDir,
		Runner:     transcode.NewFFmpegRunner(resolvedCfg.Transcode.FFmpegPath, logger),
	}, logger)

	probeInterval, err := resolvedCfg.ProbeInterval()
	if err != nil {
		return err
	}

	monitor := device.NewMonitor(profile.Root, probeInterval, logger)
	monitor.Start(ctx)
	defer monitor.Stop()

	interactive := stderrIsTTY() && !flagQuiet && !flagJSON

	orch := sync.NewOrchestrator(&sync.Config{
		Profile:    profile,
		Store:      store,
		Transcoder: pool,
		Monitor:    monitor,
		Progress: func(current, total int, playlist string) {
			if interactive {
				fmt.Fprintf(os.Stderr, "\r\033[K[%d/%d] %s", current, total, playlist)
			}
		},
		FlushProgress: func(percent float64, detail string) {
			if interactive {
				fmt.Fprintf(os.Stderr, "\r\033[Kflushing catalog %3.0f%% %s", percent, detail)
			}
		},
		Logger: logger,
	})

	report, runErr := orch.SyncDevice(ctx, targets, sync.RunOpts{DryRun: dryRun})

	if interactive {
		fmt.Fprintln(os.Stderr)
	}

	if runErr != nil {
		return fmt.Errorf("sync failed in phase %s: %w", orch.Phase(), runErr)
	}

	if flagJSON {
		return printJSON(report)
	}

	printReport(profile.Label, report)

	return nil
}

func printReport(label string, r *sync.Report) {
	verb := "Synced"
	if r.DryRun {
		verb = "Would sync"
	}

	fmt.Printf("%s %d playlist(s) to %q in %s\n", verb, r.PlaylistsSynced, label, r.Duration.Round(timeRounding))
	fmt.Printf("  tracks: %d processed, %d matched, %d copied, %d skipped, %d removed\n",
		r.TracksProcessed, r.TracksMatched, r.TracksCopied, r.TracksSkipped, r.TracksRemoved)

	if r.Device.Recognized {
		fmt.Printf("  device: %s (%s)\n", r.Device.Model, formatSize(r.Device.CapacityBytes))
	}
}
