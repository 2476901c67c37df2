package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List paired devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			profiles, err := store.ListProfiles(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(profiles)
			}

			if len(profiles) == 0 {
				fmt.Println("No paired devices. Run 'podsync pair <device-root>' to get started.")
				return nil
			}

			rows := make([][]string, 0, len(profiles))
			for _, p := range profiles {
				rows = append(rows, []string{
					shortID(p.ID),
					p.Label,
					p.Root,
					formatLastSync(p.LastSyncAt),
				})
			}

			printTable(os.Stdout, []string{"ID", "LABEL", "ROOT", "LAST SYNC"}, rows)

			return nil
		},
	}
}
