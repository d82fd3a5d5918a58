package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yatin-bhojwani/compass/internal/daemon"
	"github.com/yatin-bhojwani/compass/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "sync",
	Short:   "Replace the local snapshot with a roster dump file",
	Long: `Import a roster dump as the new local snapshot.

The dump is a JSON file holding either an array of student records or a
{"profiles": [...]} object. Every record is validated before anything is
written; a dump with any invalid record is rejected whole.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		roster, err := daemon.ReadRosterDump(args[0])
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.ReplaceSnapshot(ctx, roster); err != nil {
			return err
		}
		fmt.Printf("%s Imported %d records from %s\n", ui.RenderSuccess("OK"), len(roster), args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
