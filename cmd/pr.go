package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/prt/internal/models"
	"github.com/joescharf/prt/internal/output"
	"github.com/joescharf/prt/internal/stats"
	"github.com/joescharf/prt/internal/store"
	"github.com/joescharf/prt/internal/workflow"
)

var (
	prProject string
	prStatus  string
	prAuthor  string
	prAll     bool
)

var prCmd = &cobra.Command{
	Use:     "pr",
	Aliases: []string{"prs"},
	Short:   "Track and review pull requests",
}

var prAddCmd = &cobra.Command{
	Use:   "add <url-or-ref>",
	Short: "Add or refresh a pull request from GitHub",
	Long: `Fetch a pull request from GitHub and track it.

Accepted references:
  https://github.com/owner/repo/pull/42
  github.com/owner/repo/pull/42
  owner/repo/pull/42
  owner/repo#42

Adding a pull request that is already tracked updates its GitHub fields and
leaves its status, score and project alone (unless it has no project yet).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prAddRun(args[0])
	},
}

var prListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tracked pull requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return prListRun()
	},
}

var prShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a pull request and its review history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prShowRun(args[0])
	},
}

var prMoveCmd = &cobra.Command{
	Use:   "move <id> <status>",
	Short: "Move a pull request to another status",
	Long: `Move a pull request along the review workflow.

  Waiting   -> Reviewing, Approved, Archived
  Reviewing -> Action, Approved, Archived
  Action    -> Approved, Archived
  Approved  -> Archived

Moving to Approved requires a score; use 'prt pr approve <id> <score>'.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prMoveRun(args[0], args[1])
	},
}

var prApproveCmd = &cobra.Command{
	Use:   "approve <id> <score>",
	Short: "Approve a pull request with a score from 1 to 10",
	Long:  "Approve a pull request with a score from 1 to 10. Approving an already approved pull request rescores it.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prApproveRun(args[0], args[1])
	},
}

var prArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Archive a pull request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prMoveRun(args[0], string(models.StatusArchived))
	},
}

var prAssignCmd = &cobra.Command{
	Use:   "assign <id> <project|->",
	Short: "Assign a pull request to a project ('-' unassigns)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prAssignRun(args[0], args[1])
	},
}

var prRefreshCmd = &cobra.Command{
	Use:   "refresh [id]",
	Short: "Re-fetch one or all active pull requests from GitHub",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return prRefreshOneRun(args[0])
		}
		return prRefreshAllRun()
	},
}

var prHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show the review history of a pull request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prHistoryRun(args[0])
	},
}

func init() {
	prAddCmd.Flags().StringVarP(&prProject, "project", "p", "", "Project name or id to assign")

	prListCmd.Flags().StringVarP(&prProject, "project", "p", "", "Filter by project name or id ('-' for unassigned)")
	prListCmd.Flags().StringVarP(&prStatus, "status", "s", "", "Filter by status")
	prListCmd.Flags().StringVar(&prAuthor, "author", "", "Filter by author login")
	prListCmd.Flags().BoolVarP(&prAll, "all", "a", false, "Include archived pull requests")

	prCmd.AddCommand(prAddCmd)
	prCmd.AddCommand(prListCmd)
	prCmd.AddCommand(prShowCmd)
	prCmd.AddCommand(prMoveCmd)
	prCmd.AddCommand(prApproveCmd)
	prCmd.AddCommand(prArchiveCmd)
	prCmd.AddCommand(prAssignCmd)
	prCmd.AddCommand(prRefreshCmd)
	prCmd.AddCommand(prHistoryCmd)
	rootCmd.AddCommand(prCmd)
}

func prAddRun(ref string) error {
	p, err := getPipeline()
	if err != nil {
		return err
	}
	s, _ := getStore()
	ctx := context.Background()

	var projectID *int64
	if prProject != "" {
		proj, err := resolveProject(ctx, s, prProject)
		if err != nil {
			return err
		}
		projectID = &proj.ID
	}

	if dryRun {
		ui.DryRunMsg("Would fetch and track %s", ref)
		return nil
	}

	res, err := p.Ingest(ctx, ref, projectID)
	if err != nil {
		return describeUpstream(err)
	}

	pr := res.PullRequest
	if res.Created {
		ui.Success("Tracking %s: %s (id %d)", output.Cyan(pr.Ref()), pr.Title, pr.ID)
	} else {
		ui.Success("Updated %s: %s (id %d, %s)", output.Cyan(pr.Ref()), pr.Title, pr.ID, pr.Status)
	}
	return nil
}

func prListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.PullRequestFilter{IncludeArchived: prAll}
	switch prProject {
	case "":
	case "-":
		filter.Unassigned = true
	default:
		proj, err := resolveProject(ctx, s, prProject)
		if err != nil {
			return err
		}
		filter.ProjectID = &proj.ID
	}
	if prStatus != "" {
		st, err := models.ParseStatus(prStatus)
		if err != nil {
			return err
		}
		filter.Status = st
	}
	if prAuthor != "" {
		m, err := s.GetTeamMemberByLogin(ctx, prAuthor)
		if err != nil {
			return fmt.Errorf("author not found: %s", prAuthor)
		}
		filter.AuthorID = m.ID
	}

	prs, err := s.ListPullRequests(ctx, filter)
	if err != nil {
		return fmt.Errorf("list pull requests: %w", err)
	}
	if len(prs) == 0 {
		ui.Info("No pull requests found.")
		return nil
	}
	printPullRequestTable(prs)
	return nil
}

func prShowRun(rawID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	pr, err := getPullRequest(ctx, s, rawID)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan(pr.Ref()), pr.Title)
	ui.Field("ID", "%d (GitHub %d)", pr.ID, pr.GitHubID)
	ui.Field("URL", "%s", pr.URL())
	ui.Field("Status", "%s", output.StatusColor(pr.Status))
	ui.Field("Score", "%s", output.ScoreColor(pr.Score))
	ui.Field("Author", "%s (@%s)", authorName(pr), pr.AuthorLogin)
	if pr.Branch != "" {
		ui.Field("Branch", "%s", pr.Branch)
	}
	project := "-"
	if pr.ProjectName != "" {
		project = pr.ProjectName
	}
	ui.Field("Project", "%s", project)
	ui.Field("Updated", "%s", timeAgo(pr.LastUpdatedAt))
	if next := workflow.Targets(pr.Status); len(next) > 0 {
		names := make([]string, len(next))
		for i, st := range next {
			names[i] = string(st)
		}
		ui.Field("Next", "%s", strings.Join(names, ", "))
	}

	history, err := s.ListReviewHistory(ctx, pr.ID)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}
	if len(history) > 0 {
		fmt.Fprintln(ui.Out)
		printHistory(history)
	}
	return nil
}

func prMoveRun(rawID, rawStatus string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	s, _ := getStore()
	ctx := context.Background()

	to, err := models.ParseStatus(rawStatus)
	if err != nil {
		return err
	}
	pr, err := getPullRequest(ctx, s, rawID)
	if err != nil {
		return err
	}

	if dryRun {
		if err := workflow.ValidateTransition(pr.Status, to); err != nil {
			return err
		}
		ui.DryRunMsg("Would move %s from %s to %s", pr.Ref(), pr.Status, to)
		return nil
	}

	updated, err := e.Transition(ctx, pr.ID, to)
	if err != nil {
		if errors.Is(err, models.ErrInvalidScore) {
			return fmt.Errorf("%w (use 'prt pr approve %d <score>')", err, pr.ID)
		}
		return err
	}
	ui.Success("%s: %s -> %s", output.Cyan(updated.Ref()), pr.Status, output.StatusColor(updated.Status))
	return nil
}

func prApproveRun(rawID, rawScore string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	s, _ := getStore()
	ctx := context.Background()

	score, err := strconv.Atoi(rawScore)
	if err != nil {
		return fmt.Errorf("%w: %q is not a number", models.ErrInvalidScore, rawScore)
	}
	if err := workflow.ValidateScore(score); err != nil {
		return err
	}
	pr, err := getPullRequest(ctx, s, rawID)
	if err != nil {
		return err
	}

	if dryRun {
		if err := workflow.ValidateTransition(pr.Status, models.StatusApproved); err != nil {
			return err
		}
		ui.DryRunMsg("Would approve %s with score %d", pr.Ref(), score)
		return nil
	}

	updated, err := e.ApproveWithScore(ctx, pr.ID, score)
	if err != nil {
		return err
	}
	ui.Success("Approved %s with score %s", output.Cyan(updated.Ref()), output.ScoreColor(updated.Score))
	return nil
}

func prAssignRun(rawID, projectArg string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	s, _ := getStore()
	ctx := context.Background()

	pr, err := getPullRequest(ctx, s, rawID)
	if err != nil {
		return err
	}

	var projectID *int64
	target := "no project"
	if projectArg != "-" {
		proj, err := resolveProject(ctx, s, projectArg)
		if err != nil {
			return err
		}
		projectID = &proj.ID
		target = proj.Name
	}

	if dryRun {
		ui.DryRunMsg("Would assign %s to %s", pr.Ref(), target)
		return nil
	}

	if _, err := e.AssignProject(ctx, pr.ID, projectID); err != nil {
		return err
	}
	ui.Success("Assigned %s to %s", output.Cyan(pr.Ref()), target)
	return nil
}

func prRefreshOneRun(rawID string) error {
	p, err := getPipeline()
	if err != nil {
		return err
	}
	s, _ := getStore()
	ctx := context.Background()

	pr, err := getPullRequest(ctx, s, rawID)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would refresh %s", pr.Ref())
		return nil
	}

	_, changed, err := p.Refresh(ctx, pr.ID)
	if err != nil {
		return describeUpstream(err)
	}
	if changed {
		ui.Success("Refreshed %s", output.Cyan(pr.Ref()))
	} else {
		ui.Info("%s is up to date", output.Cyan(pr.Ref()))
	}
	return nil
}

func prRefreshAllRun() error {
	p, err := getPipeline()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would refresh all active pull requests")
		return nil
	}

	res, err := p.RefreshAll(ctx)
	if err != nil {
		return err
	}
	for _, r := range res.Results {
		if r.Error != "" {
			ui.Warning("%s: %s", r.Ref, r.Error)
		} else {
			ui.VerboseLog("%s changed=%t", r.Ref, r.Changed)
		}
	}
	ui.Success("Refreshed %d of %d pull requests (%d failed)", res.Refreshed, res.Total, res.Failed)
	return nil
}

func prHistoryRun(rawID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	pr, err := getPullRequest(ctx, s, rawID)
	if err != nil {
		return err
	}
	history, err := s.ListReviewHistory(ctx, pr.ID)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}
	if len(history) == 0 {
		ui.Info("No history for %s", pr.Ref())
		return nil
	}
	printHistory(history)
	return nil
}

// getPullRequest loads a pull request by its local numeric id.
func getPullRequest(ctx context.Context, s store.Store, rawID string) (*models.PullRequest, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(rawID, "#"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid pull request id %q", rawID)
	}
	pr, err := s.GetPullRequest(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("pull request not found: %d", id)
		}
		return nil, err
	}
	return pr, nil
}

// describeUpstream adds a hint to GitHub failures the user can fix.
func describeUpstream(err error) error {
	kind, ok := models.UpstreamKindOf(err)
	if !ok {
		return err
	}
	switch kind {
	case models.UpstreamUnauthorized:
		return fmt.Errorf("%w (set a token with 'prt token set')", err)
	case models.UpstreamRateLimited:
		return fmt.Errorf("%w (try again later or set a token)", err)
	}
	return err
}

func authorName(pr *models.PullRequest) string {
	if pr.AuthorDisplayName != "" {
		return pr.AuthorDisplayName
	}
	return pr.AuthorLogin
}

func printPullRequestTable(prs []*models.PullRequest) {
	table := ui.Table([]string{"ID", "PR", "Title", "Author", "Project", "Status", "Score", "Updated"})
	for _, pr := range prs {
		project := pr.ProjectName
		if project == "" {
			project = "-"
		}
		table.Append([]string{
			strconv.FormatInt(pr.ID, 10),
			output.Cyan(pr.Ref()),
			truncate(pr.Title, 50),
			authorName(pr),
			project,
			output.StatusColor(pr.Status),
			output.ScoreColor(pr.Score),
			timeAgo(pr.LastUpdatedAt),
		})
	}
	table.Render()
}

func printStatusCounts(counts []stats.StatusCount) {
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s %d", output.StatusColor(c.Status), c.Count))
	}
	fmt.Fprintf(ui.Out, "%s  (%d active)\n", strings.Join(parts, "  "), stats.Total(counts))
}

func printHistory(history []*models.ReviewHistory) {
	table := ui.Table([]string{"When", "Action"})
	for _, h := range history {
		table.Append([]string{h.PerformedAt.Local().Format("2006-01-02 15:04"), h.Action})
	}
	table.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
