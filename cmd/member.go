package cmd

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/prt/internal/output"
	"github.com/joescharf/prt/internal/store"
)

var memberCmd = &cobra.Command{
	Use:     "member",
	Aliases: []string{"members"},
	Short:   "List pull request authors",
	Long:    "Team members are recorded automatically the first time one of their pull requests is added.",
}

var memberListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List team members",
	RunE: func(cmd *cobra.Command, args []string) error {
		return memberListRun()
	},
}

func init() {
	memberCmd.AddCommand(memberListCmd)
	rootCmd.AddCommand(memberCmd)
}

func memberListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	members, err := s.ListTeamMembers(ctx)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		ui.Info("No team members yet. They are added with their first pull request.")
		return nil
	}

	table := ui.Table([]string{"ID", "Login", "Name", "PRs", "First seen"})
	for _, m := range members {
		prs, _ := s.ListPullRequests(ctx, store.PullRequestFilter{AuthorID: m.ID, IncludeArchived: true})
		table.Append([]string{
			strconv.FormatInt(m.ID, 10),
			output.Cyan(m.GitHubLogin),
			m.DisplayName,
			strconv.Itoa(len(prs)),
			m.CreatedAt.Format("2006-01-02"),
		})
	}
	table.Render()
	return nil
}
