package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prt/internal/github"
	"github.com/joescharf/prt/internal/ingest"
	"github.com/joescharf/prt/internal/models"
	"github.com/joescharf/prt/internal/stats"
	"github.com/joescharf/prt/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

type mockFetcher struct {
	prs map[string]*github.PullRequestData
}

func (m *mockFetcher) FetchPullRequest(_ context.Context, ref github.Reference, _ string) (*github.PullRequestData, error) {
	data, ok := m.prs[ref.String()]
	if !ok {
		return nil, &models.UpstreamError{Kind: models.UpstreamNotFound}
	}
	return data, nil
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	f := &mockFetcher{prs: map[string]*github.PullRequestData{
		"octocat/hello-world#42": {
			GitHubID: 9001, Number: 42, Title: "Add greeting",
			AuthorLogin: "octocat", AuthorDisplayName: "The Octocat",
			LastUpdatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		},
		"octocat/spoon-knife#7": {
			GitHubID: 9002, Number: 7, Title: "Sharpen spoon",
			AuthorLogin:   "hubot",
			LastUpdatedAt: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC),
		},
	}}

	srv := NewServer(s, ingest.New(s, f, nil, nil), nil, "test")
	require.NotNil(t, srv)
	return srv, s
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), target))
}

func addPR(t *testing.T, srv *Server, ref string, project string) prOut {
	t.Helper()
	args := map[string]any{"reference": ref}
	if project != "" {
		args["project"] = project
	}
	result, err := srv.handleAddPR(context.Background(), callToolReq("prt_add_pr", args))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Created     bool  `json:"created"`
		PullRequest prOut `json:"pull_request"`
	}
	resultJSON(t, result, &out)
	return out.PullRequest
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestMCPServer_RegistersTools(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.NotNil(t, srv.MCPServer())
}

func TestHandleAddPR(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.CreateProject(ctx, &models.Project{Name: "core"}))

	pr := addPR(t, srv, "https://github.com/octocat/hello-world/pull/42", "core")
	assert.Equal(t, "octocat/hello-world#42", pr.Ref)
	assert.Equal(t, "Waiting", pr.Status)
	assert.Equal(t, "core", pr.Project)
}

func TestHandleAddPR_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleAddPR(ctx, callToolReq("prt_add_pr", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleAddPR(ctx, callToolReq("prt_add_pr", map[string]any{"reference": "garbage"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "invalid pull request reference")

	result, err = srv.handleAddPR(ctx, callToolReq("prt_add_pr", map[string]any{"reference": "octocat/hello-world#42", "project": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListPRs(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	addPR(t, srv, "octocat/hello-world#42", "")
	addPR(t, srv, "octocat/spoon-knife#7", "")

	result, err := srv.handleListPRs(ctx, callToolReq("prt_list_prs", map[string]any{}))
	require.NoError(t, err)
	var prs []prOut
	resultJSON(t, result, &prs)
	require.Len(t, prs, 2)
	assert.Equal(t, "octocat/spoon-knife#7", prs[0].Ref)

	result, err = srv.handleListPRs(ctx, callToolReq("prt_list_prs", map[string]any{"status": "approved"}))
	require.NoError(t, err)
	prs = nil
	resultJSON(t, result, &prs)
	assert.Empty(t, prs)

	result, err = srv.handleListPRs(ctx, callToolReq("prt_list_prs", map[string]any{"status": "merged"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleTransitionAndApprove(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	pr := addPR(t, srv, "octocat/hello-world#42", "")

	result, err := srv.handleTransition(ctx, callToolReq("prt_transition", map[string]any{"id": float64(pr.ID), "status": "Reviewing"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	result, err = srv.handleApprove(ctx, callToolReq("prt_approve", map[string]any{"id": float64(pr.ID), "score": float64(0)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "invalid score")

	result, err = srv.handleApprove(ctx, callToolReq("prt_approve", map[string]any{"id": float64(pr.ID), "score": float64(9)}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var out prOut
	resultJSON(t, result, &out)
	assert.Equal(t, "Approved", out.Status)
	require.NotNil(t, out.Score)
	assert.Equal(t, 9, *out.Score)

	result, err = srv.handleTransition(ctx, callToolReq("prt_transition", map[string]any{"id": float64(pr.ID), "status": "Archived"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = srv.handleTransition(ctx, callToolReq("prt_transition", map[string]any{"id": float64(pr.ID), "status": "Waiting"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "invalid status transition")
}

func TestHandleStatsTools(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	pr := addPR(t, srv, "octocat/hello-world#42", "")
	addPR(t, srv, "octocat/spoon-knife#7", "")
	_, err := srv.handleApprove(ctx, callToolReq("prt_approve", map[string]any{"id": float64(pr.ID), "score": float64(6)}))
	require.NoError(t, err)

	result, err := srv.handleStatusCounts(ctx, callToolReq("prt_status_counts", nil))
	require.NoError(t, err)
	var counts struct {
		Counts []stats.StatusCount `json:"counts"`
		Total  int                 `json:"total"`
	}
	resultJSON(t, result, &counts)
	assert.Equal(t, 2, counts.Total)

	result, err = srv.handleRanking(ctx, callToolReq("prt_ranking", nil))
	require.NoError(t, err)
	var ranks []stats.AuthorRank
	resultJSON(t, result, &ranks)
	require.Len(t, ranks, 2)
	assert.Equal(t, "The Octocat", ranks[0].Author)
	assert.Equal(t, stats.UnknownAuthor, ranks[1].Author)
	assert.Nil(t, ranks[1].AvgScore)
}

func TestHandleListProjects(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.CreateProject(ctx, &models.Project{Name: "core"}))
	require.NoError(t, s.CreateProject(ctx, &models.Project{Name: "docs"}))
	addPR(t, srv, "octocat/hello-world#42", "core")

	result, err := srv.handleListProjects(ctx, callToolReq("prt_list_projects", nil))
	require.NoError(t, err)
	var projects []struct {
		Name         string `json:"name"`
		PullRequests int    `json:"pull_requests"`
	}
	resultJSON(t, result, &projects)
	require.Len(t, projects, 2)
	assert.Equal(t, "core", projects[0].Name)
	assert.Equal(t, 1, projects[0].PullRequests)
	assert.Equal(t, 0, projects[1].PullRequests)
}
