package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/prt/internal/models"
	"github.com/joescharf/prt/internal/output"
	"github.com/joescharf/prt/internal/stats"
	"github.com/joescharf/prt/internal/store"
)

var (
	projectDescription string
	projectRename      string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
	Long:  "Add, edit, remove, list, and show the projects pull requests are grouped under.",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectAddRun(args[0])
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:     "remove <name-or-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a project with no pull requests",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectRemoveRun(args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <name-or-id>",
	Short: "Show a project and its pull requests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectShowRun(args[0])
	},
}

var projectEditCmd = &cobra.Command{
	Use:   "edit <name-or-id>",
	Short: "Rename a project or change its description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectEditRun(args[0], cmd.Flags().Changed("description"))
	},
}

func init() {
	projectAddCmd.Flags().StringVarP(&projectDescription, "description", "d", "", "Project description")
	projectEditCmd.Flags().StringVar(&projectRename, "name", "", "New project name")
	projectEditCmd.Flags().StringVarP(&projectDescription, "description", "d", "", "New description")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectRemoveCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectEditCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("project name is required")
	}

	if dryRun {
		ui.DryRunMsg("Would create project: %s", name)
		return nil
	}

	p := &models.Project{Name: name, Description: projectDescription}
	if err := s.CreateProject(ctx, p); err != nil {
		if errors.Is(err, models.ErrDuplicateConflict) {
			return fmt.Errorf("project %q already exists", name)
		}
		return fmt.Errorf("create project: %w", err)
	}

	ui.Success("Created project: %s (id %d)", output.Cyan(p.Name), p.ID)
	return nil
}

func projectRemoveRun(nameOrID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, nameOrID)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would remove project: %s", p.Name)
		return nil
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		if errors.Is(err, models.ErrProjectInUse) {
			return fmt.Errorf("project %q still has pull requests; reassign them first", p.Name)
		}
		return fmt.Errorf("remove project: %w", err)
	}

	ui.Success("Removed project: %s", output.Cyan(p.Name))
	return nil
}

func projectListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	projects, err := s.ListProjects(ctx)
	if err != nil {
		return err
	}

	if len(projects) == 0 {
		ui.Info("No projects yet. Use 'prt project add <name>' to create one.")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Description", "Active PRs", "Created"})
	for _, p := range projects {
		id := p.ID
		prs, _ := s.ListPullRequests(ctx, store.PullRequestFilter{ProjectID: &id})
		table.Append([]string{
			strconv.FormatInt(p.ID, 10),
			output.Cyan(p.Name),
			p.Description,
			strconv.Itoa(len(prs)),
			p.CreatedAt.Format("2006-01-02"),
		})
	}
	table.Render()
	return nil
}

func projectShowRun(nameOrID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, nameOrID)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(p.Name))
	ui.Field("ID", "%d", p.ID)
	if p.Description != "" {
		ui.Field("Desc", "%s", p.Description)
	}
	ui.Field("Created", "%s", timeAgo(p.CreatedAt))

	id := p.ID
	prs, err := s.ListPullRequests(ctx, store.PullRequestFilter{ProjectID: &id, IncludeArchived: true})
	if err != nil {
		return fmt.Errorf("list pull requests: %w", err)
	}

	counts := stats.CountStatuses(prs)
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%d %s", c.Count, strings.ToLower(string(c.Status))))
	}
	ui.Field("PRs", "%s", strings.Join(parts, ", "))

	if len(prs) > 0 {
		fmt.Fprintln(ui.Out)
		printPullRequestTable(prs)
	}
	return nil
}

func projectEditRun(nameOrID string, descChanged bool) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, nameOrID)
	if err != nil {
		return err
	}

	if projectRename == "" && !descChanged {
		return fmt.Errorf("nothing to change (use --name or --description)")
	}
	if projectRename != "" {
		p.Name = strings.TrimSpace(projectRename)
	}
	if descChanged {
		p.Description = projectDescription
	}

	if dryRun {
		ui.DryRunMsg("Would update project %d: name=%s description=%q", p.ID, p.Name, p.Description)
		return nil
	}

	if err := s.UpdateProject(ctx, p); err != nil {
		if errors.Is(err, models.ErrDuplicateConflict) {
			return fmt.Errorf("project %q already exists", p.Name)
		}
		return fmt.Errorf("update project: %w", err)
	}

	ui.Success("Updated project: %s", output.Cyan(p.Name))
	return nil
}

// resolveProject finds a project by name, falling back to a numeric id.
func resolveProject(ctx context.Context, s store.Store, nameOrID string) (*models.Project, error) {
	if p, err := s.GetProjectByName(ctx, nameOrID); err == nil {
		return p, nil
	}

	if id, err := strconv.ParseInt(nameOrID, 10, 64); err == nil {
		if p, err := s.GetProject(ctx, id); err == nil {
			return p, nil
		}
	}

	return nil, fmt.Errorf("project not found: %s", nameOrID)
}

// timeAgo returns a human-readable duration from a time.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}
