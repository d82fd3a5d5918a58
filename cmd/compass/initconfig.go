package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yatin-bhojwani/compass/internal/config"
	"github.com/yatin-bhojwani/compass/internal/ui"
)

var initConfigCmd = &cobra.Command{
	Use:     "init-config [path]",
	GroupID: "advanced",
	Short:   "Write a starter configuration file",
	Long: `Write a commented starter configuration file.

Without a path, the file goes to ~/.compass/compass.yaml. An existing file
is never overwritten.`,
	Args: cobra.MaximumNArgs(1),
	// The starter file does not need a loaded config; skip the root hook.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("could not determine home directory: %w", err)
			}
			path = filepath.Join(home, ".compass", "compass.yaml")
		}

		if err := config.WriteStarter(path); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderSuccess("OK"), path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initConfigCmd)
}
