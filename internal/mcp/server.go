package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/joescharf/prt/internal/ingest"
	"github.com/joescharf/prt/internal/models"
	"github.com/joescharf/prt/internal/stats"
	"github.com/joescharf/prt/internal/store"
	"github.com/joescharf/prt/internal/workflow"
)

// Server wraps the prt engine and exposes it as MCP tools.
type Server struct {
	store    store.Store
	pipeline *ingest.Pipeline
	workflow *workflow.Engine
	stats    *stats.Service
	version  string
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(s store.Store, p *ingest.Pipeline, log *zap.Logger, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{
		store:    s,
		pipeline: p,
		workflow: workflow.New(s, log),
		stats:    stats.NewService(s),
		version:  version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("prt", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listPRsTool())
	srv.AddTool(s.addPRTool())
	srv.AddTool(s.transitionTool())
	srv.AddTool(s.approveTool())
	srv.AddTool(s.statusCountsTool())
	srv.AddTool(s.rankingTool())
	srv.AddTool(s.listProjectsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

type prOut struct {
	ID            int64  `json:"id"`
	Ref           string `json:"ref"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Project       string `json:"project,omitempty"`
	Branch        string `json:"branch,omitempty"`
	Status        string `json:"status"`
	Score         *int   `json:"score,omitempty"`
	LastUpdatedAt string `json:"last_updated_at"`
}

func toPROut(pr *models.PullRequest) prOut {
	return prOut{
		ID:            pr.ID,
		Ref:           pr.Ref(),
		URL:           pr.URL(),
		Title:         pr.Title,
		Author:        pr.AuthorLogin,
		Project:       pr.ProjectName,
		Branch:        pr.Branch,
		Status:        string(pr.Status),
		Score:         pr.Score,
		LastUpdatedAt: pr.LastUpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// prt_list_prs
func (s *Server) listPRsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prt_list_prs",
		mcp.WithDescription("List tracked pull requests, most recently updated first. Archived pull requests are excluded unless include_archived is true."),
		mcp.WithString("project", mcp.Description("Filter by project name or id")),
		mcp.WithString("status", mcp.Description("Filter by status: Waiting, Reviewing, Action, Approved, Archived")),
		mcp.WithBoolean("include_archived", mcp.Description("Include archived pull requests")),
	)
	return tool, s.handleListPRs
}

func (s *Server) handleListPRs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.PullRequestFilter{IncludeArchived: request.GetBool("include_archived", false)}

	if name := request.GetString("project", ""); name != "" {
		p, err := s.resolveProject(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.ProjectID = &p.ID
	}
	if raw := request.GetString("status", ""); raw != "" {
		st, err := models.ParseStatus(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Status = st
	}

	prs, err := s.store.ListPullRequests(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list pull requests: %v", err)), nil
	}
	out := make([]prOut, len(prs))
	for i, pr := range prs {
		out[i] = toPROut(pr)
	}
	return jsonResult(out)
}

// prt_add_pr
func (s *Server) addPRTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prt_add_pr",
		mcp.WithDescription("Fetch a pull request from GitHub and track it. Re-adding a tracked pull request refreshes its title, branch and update time."),
		mcp.WithString("reference", mcp.Required(), mcp.Description("Pull request URL or owner/repo#number")),
		mcp.WithString("project", mcp.Description("Project name or id to file the pull request under")),
	)
	return tool, s.handleAddPR
}

func (s *Server) handleAddPR(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := request.RequireString("reference")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: reference"), nil
	}

	var projectID *int64
	if name := request.GetString("project", ""); name != "" {
		p, err := s.resolveProject(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		projectID = &p.ID
	}

	res, err := s.pipeline.Ingest(ctx, ref, projectID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add pull request: %v", err)), nil
	}
	return jsonResult(map[string]any{"created": res.Created, "pull_request": toPROut(res.PullRequest)})
}

// prt_transition
func (s *Server) transitionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prt_transition",
		mcp.WithDescription("Move a pull request to another workflow status. Use prt_approve to approve with a score. Archived is terminal."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Pull request id")),
		mcp.WithString("status", mcp.Required(), mcp.Description("Target status: Reviewing, Action, Approved, Archived")),
	)
	return tool, s.handleTransition
}

func (s *Server) handleTransition(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	raw, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: status"), nil
	}
	st, err := models.ParseStatus(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	pr, err := s.workflow.Transition(ctx, int64(id), st)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to change status: %v", err)), nil
	}
	return jsonResult(toPROut(pr))
}

// prt_approve
func (s *Server) approveTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prt_approve",
		mcp.WithDescription("Approve a pull request with a score from 1 to 10, or rescore an approved one."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Pull request id")),
		mcp.WithNumber("score", mcp.Required(), mcp.Description("Score from 1 to 10")),
	)
	return tool, s.handleApprove
}

func (s *Server) handleApprove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	score, err := request.RequireInt("score")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: score"), nil
	}

	pr, err := s.workflow.ApproveWithScore(ctx, int64(id), score)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to approve: %v", err)), nil
	}
	return jsonResult(toPROut(pr))
}

// prt_status_counts
func (s *Server) statusCountsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prt_status_counts",
		mcp.WithDescription("Count active (non-archived) pull requests per workflow status."),
	)
	return tool, s.handleStatusCounts
}

func (s *Server) handleStatusCounts(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts, err := s.stats.StatusCounts(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to count pull requests: %v", err)), nil
	}
	return jsonResult(map[string]any{"counts": counts, "total": stats.Total(counts)})
}

// prt_ranking
func (s *Server) rankingTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prt_ranking",
		mcp.WithDescription("Rank pull request authors by average approval score. Authors with no score are listed last with a null avg_score."),
	)
	return tool, s.handleRanking
}

func (s *Server) handleRanking(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ranks, err := s.stats.Ranking(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to rank authors: %v", err)), nil
	}
	return jsonResult(ranks)
}

// prt_list_projects
func (s *Server) listProjectsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prt_list_projects",
		mcp.WithDescription("List projects with the number of pull requests filed under each."),
	)
	return tool, s.handleListProjects
}

func (s *Server) handleListProjects(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list projects: %v", err)), nil
	}
	prs, err := s.store.ListPullRequests(ctx, store.PullRequestFilter{IncludeArchived: true})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list pull requests: %v", err)), nil
	}
	perProject := make(map[int64]int)
	for _, pr := range prs {
		if pr.ProjectID != nil {
			perProject[*pr.ProjectID]++
		}
	}

	type projectOut struct {
		ID           int64  `json:"id"`
		Name         string `json:"name"`
		Description  string `json:"description,omitempty"`
		PullRequests int    `json:"pull_requests"`
	}
	out := make([]projectOut, len(projects))
	for i, p := range projects {
		out[i] = projectOut{ID: p.ID, Name: p.Name, Description: p.Description, PullRequests: perProject[p.ID]}
	}
	return jsonResult(out)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// resolveProject tries to find a project by name first, then by ID.
func (s *Server) resolveProject(ctx context.Context, name string) (*models.Project, error) {
	if p, err := s.store.GetProjectByName(ctx, name); err == nil {
		return p, nil
	}
	if id, err := strconv.ParseInt(name, 10, 64); err == nil {
		if p, err := s.store.GetProject(ctx, id); err == nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("project not found: %s", name)
}
