package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/yatin-bhojwani/compass/internal/directory"
	"github.com/yatin-bhojwani/compass/internal/ui"
)

var searchCmd = &cobra.Command{
	Use:     "search [term]",
	GroupID: "query",
	Short:   "Search the directory by name, roll number, or filters",
	Long: `Search the local directory snapshot.

The free-text term is matched fuzzily against names, as a substring against
roll numbers, and as a prefix against email usernames. Structured filters
narrow the results further. With no term and no filters, nothing is returned;
use filters to enumerate groups.

Examples:
  compass search priya
  compass search --hall "Hall 2" --dept CSE
  compass search 2304              # roll number substring
  compass search --interactive     # guided filter form`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		eng, err := startEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.close()

		q := directory.Query{}
		if len(args) == 1 {
			q.Name = args[0]
		}
		q.Gender, _ = cmd.Flags().GetString("gender")
		q.Batch, _ = cmd.Flags().GetStringSlice("batch")
		q.Hall, _ = cmd.Flags().GetStringSlice("hall")
		q.Course, _ = cmd.Flags().GetStringSlice("course")
		q.Dept, _ = cmd.Flags().GetStringSlice("dept")
		q.HomeTown, _ = cmd.Flags().GetString("hometown")

		interactive, _ := cmd.Flags().GetBool("interactive")
		if interactive {
			if !ui.IsTTY() {
				return fmt.Errorf("--interactive requires a terminal")
			}
			if err := promptQuery(&q, eng.options); err != nil {
				return err
			}
		}

		if q.IsEmpty() {
			return fmt.Errorf("empty query: give a search term or at least one filter")
		}

		results, err := eng.query(ctx, q)
		if err != nil {
			return err
		}
		printRecords(results)
		return nil
	},
}

// promptQuery fills the query from a guided terminal form. The filter
// vocabularies come from the current roster, so only selectable values are
// offered.
func promptQuery(q *directory.Query, opts directory.Options) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Name, roll number, or username").
				Value(&q.Name),
			huh.NewInput().
				Title("Home town").
				Value(&q.HomeTown),
		),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Batch").
				Options(huh.NewOptions(opts.Batch...)...).
				Value(&q.Batch),
			huh.NewMultiSelect[string]().
				Title("Hall").
				Options(huh.NewOptions(opts.Hall...)...).
				Value(&q.Hall),
			huh.NewMultiSelect[string]().
				Title("Department").
				Options(huh.NewOptions(opts.Dept...)...).
				Value(&q.Dept),
			huh.NewMultiSelect[string]().
				Title("Course").
				Options(huh.NewOptions(opts.Course...)...).
				Value(&q.Course),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("form aborted: %w", err)
	}
	q.Name = strings.TrimSpace(q.Name)
	q.HomeTown = strings.TrimSpace(q.HomeTown)
	return nil
}

func init() {
	searchCmd.Flags().StringP("gender", "g", "", "Filter by gender code")
	searchCmd.Flags().StringSliceP("batch", "b", nil, "Filter by batch label (e.g. Y20)")
	searchCmd.Flags().StringSlice("hall", nil, "Filter by hall of residence")
	searchCmd.Flags().StringSliceP("course", "c", nil, "Filter by course")
	searchCmd.Flags().StringSliceP("dept", "d", nil, "Filter by department")
	searchCmd.Flags().String("hometown", "", "Filter by home town substring")
	searchCmd.Flags().BoolP("interactive", "i", false, "Build the query with a guided form")

	rootCmd.AddCommand(searchCmd)
}
