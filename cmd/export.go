package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/prt/internal/stats"
	"github.com/joescharf/prt/internal/store"
)

var (
	exportFormat string
	exportType   string
	exportAll    bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export data as JSON, CSV, or Markdown",
	Long:  "Export pull requests, projects, team members, or the author ranking in various formats.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun()
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&exportType, "type", "prs", "Data type: prs, projects, members, ranking")
	exportCmd.Flags().BoolVarP(&exportAll, "all", "a", false, "Include archived pull requests")
	rootCmd.AddCommand(exportCmd)
}

// exportTable is a format-neutral export: a title, a header row and data rows.
type exportTable struct {
	title  string
	header []string
	rows   [][]string
}

func exportRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var (
		data any
		t    exportTable
	)
	switch exportType {
	case "prs":
		data, t, err = exportPullRequests(ctx, s)
	case "projects":
		data, t, err = exportProjects(ctx, s)
	case "members":
		data, t, err = exportMembers(ctx, s)
	case "ranking":
		data, t, err = exportRanking(ctx, s)
	default:
		return fmt.Errorf("unknown export type: %s (use: prs, projects, members, ranking)", exportType)
	}
	if err != nil {
		return err
	}

	return writeExport(ui.Out, exportFormat, data, t)
}

func writeExport(w io.Writer, format string, data any, t exportTable) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case "csv":
		cw := csv.NewWriter(w)
		_ = cw.Write(t.header)
		for _, r := range t.rows {
			_ = cw.Write(r)
		}
		cw.Flush()
		return cw.Error()
	case "markdown":
		fmt.Fprintf(w, "# %s\n\n", t.title)
		fmt.Fprintf(w, "| %s |\n", strings.Join(t.header, " | "))
		seps := make([]string, len(t.header))
		for i, h := range t.header {
			seps[i] = strings.Repeat("-", len(h))
		}
		fmt.Fprintf(w, "|%s|\n", "-"+strings.Join(seps, "-|-")+"-")
		for _, r := range t.rows {
			cells := make([]string, len(r))
			for i, c := range r {
				cells[i] = strings.ReplaceAll(c, "|", `\|`)
			}
			fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func exportPullRequests(ctx context.Context, s store.Store) (any, exportTable, error) {
	prs, err := s.ListPullRequests(ctx, store.PullRequestFilter{IncludeArchived: exportAll})
	if err != nil {
		return nil, exportTable{}, err
	}
	t := exportTable{
		title:  "Pull Requests",
		header: []string{"ID", "PR", "Title", "Author", "Project", "Status", "Score", "Updated"},
	}
	for _, pr := range prs {
		t.rows = append(t.rows, []string{
			strconv.FormatInt(pr.ID, 10),
			pr.Ref(),
			pr.Title,
			pr.AuthorLogin,
			pr.ProjectName,
			string(pr.Status),
			scoreText(pr.Score),
			pr.LastUpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return nonNil(prs), t, nil
}

func exportProjects(ctx context.Context, s store.Store) (any, exportTable, error) {
	projects, err := s.ListProjects(ctx)
	if err != nil {
		return nil, exportTable{}, err
	}
	t := exportTable{title: "Projects", header: []string{"ID", "Name", "Description", "Created"}}
	for _, p := range projects {
		t.rows = append(t.rows, []string{
			strconv.FormatInt(p.ID, 10), p.Name, p.Description, p.CreatedAt.Format("2006-01-02"),
		})
	}
	return nonNil(projects), t, nil
}

func exportMembers(ctx context.Context, s store.Store) (any, exportTable, error) {
	members, err := s.ListTeamMembers(ctx)
	if err != nil {
		return nil, exportTable{}, err
	}
	t := exportTable{title: "Team Members", header: []string{"ID", "Login", "Name", "Avatar", "First seen"}}
	for _, m := range members {
		t.rows = append(t.rows, []string{
			strconv.FormatInt(m.ID, 10), m.GitHubLogin, m.DisplayName, m.AvatarURL, m.CreatedAt.Format("2006-01-02"),
		})
	}
	return nonNil(members), t, nil
}

func exportRanking(ctx context.Context, s store.Store) (any, exportTable, error) {
	ranks, err := stats.NewService(s).Ranking(ctx)
	if err != nil {
		return nil, exportTable{}, err
	}
	t := exportTable{title: "Author Ranking", header: []string{"Author", "PRs", "Approved", "Scored", "Avg score"}}
	for _, r := range ranks {
		avg := ""
		if r.AvgScore != nil {
			avg = strconv.FormatFloat(*r.AvgScore, 'f', 1, 64)
		}
		t.rows = append(t.rows, []string{
			r.Author, strconv.Itoa(r.Total), strconv.Itoa(r.ApprovedCount), strconv.Itoa(r.ScoredCount), avg,
		})
	}
	return nonNil(ranks), t, nil
}

func scoreText(score *int) string {
	if score == nil {
		return ""
	}
	return strconv.Itoa(*score)
}

// nonNil keeps empty exports as [] rather than null.
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
