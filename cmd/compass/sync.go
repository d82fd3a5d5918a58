package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/yatin-bhojwani/compass/internal/reconcile"
	"github.com/yatin-bhojwani/compass/internal/remote"
	"github.com/yatin-bhojwani/compass/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Synchronize the local snapshot with the directory service",
	Long: `Synchronize the local snapshot.

By default this is incremental: only the changes since the last sync are
fetched and merged. With --full, or when no local data exists yet, the
complete roster is downloaded and the snapshot replaced.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
		client := remote.New(cfg.SearchRoot, logger)

		full, _ := cmd.Flags().GetBool("full")
		lastSync := st.LastSyncTime(ctx)
		start := time.Now()

		if full || lastSync == 0 {
			roster, err := client.FetchFullSnapshot(ctx)
			if err != nil {
				return err
			}
			if err := st.ReplaceSnapshot(ctx, roster); err != nil {
				return err
			}
			fmt.Printf("%s Full sync: %d records in %v\n",
				ui.RenderSuccess("OK"), len(roster), time.Since(start).Round(time.Millisecond))
			return nil
		}

		delta, err := client.FetchChangelog(ctx, lastSync)
		if err != nil {
			return err
		}
		merged, err := reconcile.New(st, logger).Apply(ctx, delta)
		if err != nil {
			return err
		}
		fmt.Printf("%s Incremental sync: +%d -%d, roster now %d (%v)\n",
			ui.RenderSuccess("OK"), len(delta.AddProfiles), len(delta.DeleteUserID),
			len(merged), time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("full", false, "Force a full roster download")

	rootCmd.AddCommand(syncCmd)
}
