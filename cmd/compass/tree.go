package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yatin-bhojwani/compass/internal/directory"
	"github.com/yatin-bhojwani/compass/internal/ui"
)

var treeCmd = &cobra.Command{
	Use:     "tree <roll>",
	GroupID: "query",
	Short:   "Show a student's mentorship family tree",
	Long: `Resolve a student's mentorship neighbourhood: their bapu (mentor)
and bachhas (mentees), looked up by roll number in the local snapshot.

Dangling references are normal in this dataset; a mentor or mentee whose
record is gone is simply not shown.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		eng, err := startEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.close()

		roll := args[0]
		results, err := eng.query(ctx, directory.Query{Name: roll})
		if err != nil {
			return err
		}
		var student *directory.StudentRecord
		for i := range results {
			if results[i].RollNo == roll {
				student = &results[i]
				break
			}
		}
		if student == nil {
			return fmt.Errorf("no student with roll number %s", roll)
		}

		tree, err := eng.familyTree(ctx, *student)
		if err != nil {
			return err
		}

		if tree.Guardian != nil {
			fmt.Printf("%s %s (%s)\n", ui.RenderHeading("Bapu:"), tree.Guardian.Name, tree.Guardian.RollNo)
		} else {
			fmt.Printf("%s %s\n", ui.RenderHeading("Bapu:"), ui.RenderMuted("not on record"))
		}

		fmt.Printf("%s %s (%s)\n", ui.RenderAccent("  ->"), tree.Student.Name, tree.Student.RollNo)

		if len(tree.Dependents) == 0 {
			fmt.Printf("%s %s\n", ui.RenderHeading("Bachhas:"), ui.RenderMuted("none on record"))
			return nil
		}
		fmt.Println(ui.RenderHeading("Bachhas:"))
		for _, dep := range tree.Dependents {
			fmt.Printf("  %s (%s)\n", dep.Name, dep.RollNo)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(treeCmd)
}
