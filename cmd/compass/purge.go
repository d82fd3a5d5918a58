package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yatin-bhojwani/compass/internal/ui"
)

var purgeCmd = &cobra.Command{
	Use:     "purge",
	GroupID: "advanced",
	Short:   "Delete all locally stored directory data",
	Long: `Delete the local snapshot and sync history.

By default the database file stays in place, emptied; the next sync starts
from scratch. With --destroy, the database file itself is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		if destroy, _ := cmd.Flags().GetBool("destroy"); destroy {
			if err := st.Destroy(); err != nil {
				return err
			}
			fmt.Printf("%s Removed %s\n", ui.RenderSuccess("OK"), cfg.DBPath)
			return nil
		}

		defer st.Close()
		if err := st.DeleteAll(context.Background()); err != nil {
			return err
		}
		fmt.Printf("%s Deleted all local directory data\n", ui.RenderSuccess("OK"))
		return nil
	},
}

func init() {
	purgeCmd.Flags().Bool("destroy", false, "Remove the database file entirely")

	rootCmd.AddCommand(purgeCmd)
}
