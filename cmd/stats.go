package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/prt/internal/output"
	"github.com/joescharf/prt/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:       "stats [counts|ranking]",
	Short:     "Show status counts or the author ranking",
	Long:      "Show active pull requests per status, or rank authors by average review score.\nWith no argument both are shown.",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"counts", "ranking"},
	RunE: func(cmd *cobra.Command, args []string) error {
		view := ""
		if len(args) > 0 {
			view = args[0]
		}
		return statsRun(view)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func statsRun(view string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	svc := stats.NewService(s)
	ctx := context.Background()

	if view == "" || view == "counts" {
		counts, err := svc.StatusCounts(ctx)
		if err != nil {
			return err
		}
		table := ui.Table([]string{"Status", "Count"})
		for _, c := range counts {
			table.Append([]string{output.StatusColor(c.Status), strconv.Itoa(c.Count)})
		}
		table.Append([]string{"Total", strconv.Itoa(stats.Total(counts))})
		table.Render()
	}

	if view == "" {
		fmt.Fprintln(ui.Out)
	}

	if view == "" || view == "ranking" {
		ranks, err := svc.Ranking(ctx)
		if err != nil {
			return err
		}
		if len(ranks) == 0 {
			ui.Info("No pull requests to rank.")
			return nil
		}
		table := ui.Table([]string{"#", "Author", "PRs", "Approved", "Scored", "Avg score"})
		for i, r := range ranks {
			table.Append([]string{
				strconv.Itoa(i + 1),
				r.Author,
				strconv.Itoa(r.Total),
				strconv.Itoa(r.ApprovedCount),
				strconv.Itoa(r.ScoredCount),
				output.AvgScoreColor(r.AvgScore),
			})
		}
		table.Render()
	}
	return nil
}
