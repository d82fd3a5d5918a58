// Command compass is an offline-first client for the campus student
// directory. It keeps a local snapshot synchronized with the remote search
// service and answers fuzzy and structured queries against it, with or
// without network access.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yatin-bhojwani/compass/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "compass",
	Short: "Offline-first campus directory search",
	Long: `compass keeps a local snapshot of the campus student directory and
answers queries against it, online or offline.

The snapshot lives in a local SQLite database and is kept current through
incremental changelog syncs against the directory service. When the service
is unreachable, queries run against the cached snapshot.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "query", Title: "Query Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
