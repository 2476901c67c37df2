package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/podsync-dev/podsync/internal/device"
	"github.com/podsync-dev/podsync/internal/staging"
	"github.com/podsync-dev/podsync/internal/state"
)

func newPairCmd() *cobra.Command {
	var flagLabel string

	cmd := &cobra.Command{
		Use:   "pair <device-root>",
		Short: "Pair a mounted device",
		Long: `Verify the device structure at the given mount point and create a
device profile for it. The profile records where the device mounts and
accumulates track mappings across syncs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()

			root, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			// Mounting validates the control-folder hierarchy and stages the
			// identity files; pairing needs nothing else from the area.
			area, err := staging.Mount(root, logger)
			if err != nil {
				return err
			}

			info := device.ReadInfo(string(area.StagedPath(staging.SysInfoPath)))

			if err := area.Unmount(); err != nil {
				return err
			}

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()

			if existing, err := store.GetProfileByRoot(ctx, root); err == nil {
				return fmt.Errorf("device at %s is already paired as %q", root, existing.Label)
			} else if !errors.Is(err, state.ErrNotFound) {
				return err
			}

			label := flagLabel
			if label == "" {
				label = info.Model
			}

			if label == "" {
				label = filepath.Base(root)
			}

			profile := &state.DeviceProfile{
				Label:          label,
				Root:           root,
				PathStrategy:   "hashed",
				PlaylistFormat: "native",
			}

			if err := store.CreateProfile(ctx, profile); err != nil {
				return err
			}

			if flagJSON {
				return printJSON(map[string]any{
					"id":     profile.ID,
					"label":  profile.Label,
					"root":   profile.Root,
					"device": info,
				})
			}

			statusf("Paired %q (%s)\n", profile.Label, profile.ID)

			if info.Recognized {
				statusf("Model %s, capacity %s\n", info.Model, formatSize(info.CapacityBytes))
			} else {
				statusf("Device model not recognized; syncing works regardless\n")
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&flagLabel, "label", "", "profile label (defaults to the device model)")

	return cmd
}

func newUnpairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpair <device>",
		Short: "Remove a paired device profile and its track mappings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()

			profile, err := findProfile(ctx, store, args[0])
			if err != nil {
				return err
			}

			if err := store.DeleteProfile(ctx, profile.ID); err != nil {
				return err
			}

			statusf("Unpaired %q (%s)\n", profile.Label, profile.ID)

			return nil
		},
	}
}
