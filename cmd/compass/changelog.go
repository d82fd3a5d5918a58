package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/yatin-bhojwani/compass/internal/reconcile"
	"github.com/yatin-bhojwani/compass/internal/remote"
	"github.com/yatin-bhojwani/compass/internal/ui"
)

var changelogCmd = &cobra.Command{
	Use:     "changelog",
	GroupID: "sync",
	Short:   "Show directory changes since a point in time",
	Long: `Fetch the remote changelog without touching the local snapshot.

--since accepts natural language ("2 days ago", "last monday") as well as
RFC3339 timestamps. Without --since, the snapshot's last sync time is used.

With --apply, the fetched delta is merged into the local snapshot, exactly
as an incremental sync would.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		since := st.LastSyncTime(ctx)
		if expr, _ := cmd.Flags().GetString("since"); expr != "" {
			t, err := parseSince(expr)
			if err != nil {
				return err
			}
			since = t.UnixMilli()
		}
		if since == 0 {
			return fmt.Errorf("no local sync history; give --since or run a sync first")
		}

		logger := log.New(os.Stderr, "[changelog] ", log.LstdFlags)
		client := remote.New(cfg.SearchRoot, logger)
		delta, err := client.FetchChangelog(ctx, since)
		if err != nil {
			return err
		}

		fmt.Printf("%s since %s\n", ui.RenderHeading("Changes"),
			time.UnixMilli(since).Local().Format(time.RFC3339))
		for _, p := range delta.AddProfiles {
			fmt.Printf("  %s %-10s %s\n", ui.RenderSuccess("+"), p.RollNo, p.Name)
		}
		for _, id := range delta.DeleteUserID {
			fmt.Printf("  %s %s\n", ui.RenderError("-"), id)
		}
		if len(delta.AddProfiles) == 0 && len(delta.DeleteUserID) == 0 {
			fmt.Println(ui.RenderMuted("  no changes"))
		}

		if apply, _ := cmd.Flags().GetBool("apply"); apply {
			merged, err := reconcile.New(st, logger).Apply(ctx, delta)
			if err != nil {
				return err
			}
			fmt.Printf("%s Applied; roster now %d records\n", ui.RenderSuccess("OK"), len(merged))
		}
		return nil
	},
}

// parseSince accepts RFC3339 first, then natural language.
func parseSince(expr string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(expr, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse --since %q: %w", expr, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not parse --since %q", expr)
	}
	return r.Time, nil
}

func init() {
	changelogCmd.Flags().String("since", "", "Point in time (RFC3339 or natural language)")
	changelogCmd.Flags().Bool("apply", false, "Merge the delta into the local snapshot")

	rootCmd.AddCommand(changelogCmd)
}
