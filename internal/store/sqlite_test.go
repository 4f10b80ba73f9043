package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/prt/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func seedMember(t *testing.T, s *SQLiteStore, login string) *models.TeamMember {
	t.Helper()
	m, _, err := s.EnsureTeamMember(context.Background(), &models.TeamMember{GitHubLogin: login})
	require.NoError(t, err)
	return m
}

func seedPR(t *testing.T, s *SQLiteStore, githubID int64, authorID int64, projectID *int64) *models.PullRequest {
	t.Helper()
	pr, _, err := s.UpsertPullRequest(context.Background(), &models.PullRequest{
		GitHubID:      githubID,
		Number:        int(githubID),
		Title:         fmt.Sprintf("PR %d", githubID),
		AuthorID:      authorID,
		ProjectID:     projectID,
		RepoOwner:     "octocat",
		RepoName:      "hello-world",
		Branch:        "main",
		LastUpdatedAt: time.Date(2024, 1, 1, 0, 0, int(githubID), 0, time.UTC),
	})
	require.NoError(t, err)
	return pr
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Projects ---

func TestProjectCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Project{Name: "payments", Description: "Billing services"}
	require.NoError(t, s.CreateProject(ctx, p))
	assert.NotZero(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "payments", got.Name)
	assert.Equal(t, "Billing services", got.Description)

	got, err = s.GetProjectByName(ctx, "payments")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	p.Description = "Billing and invoicing"
	require.NoError(t, s.UpdateProject(ctx, p))
	got, err = s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Billing and invoicing", got.Description)

	require.NoError(t, s.CreateProject(ctx, &models.Project{Name: "auth"}))
	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "auth", projects[0].Name)

	require.NoError(t, s.DeleteProject(ctx, p.ID))
	_, err = s.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreateProject_DuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateProject(ctx, &models.Project{Name: "payments"}))
	err := s.CreateProject(ctx, &models.Project{Name: "payments"})
	assert.ErrorIs(t, err, models.ErrDuplicateConflict)
}

func TestCreateProject_EmptyName(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateProject(context.Background(), &models.Project{Name: "  "})
	assert.Error(t, err)
}

func TestGetProject_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetProject(context.Background(), 42)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteProject_InUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Project{Name: "payments"}
	require.NoError(t, s.CreateProject(ctx, p))
	author := seedMember(t, s, "octocat")
	pr := seedPR(t, s, 1, author.ID, &p.ID)

	has, err := s.ProjectHasPullRequests(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, has)

	err = s.DeleteProject(ctx, p.ID)
	assert.ErrorIs(t, err, models.ErrProjectInUse)

	_, err = s.GetProject(ctx, p.ID)
	require.NoError(t, err, "project must survive a refused delete")

	// Unassign and the delete goes through.
	require.NoError(t, s.AssignProject(ctx, pr.ID, nil))
	has, err = s.ProjectHasPullRequests(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, has)
	require.NoError(t, s.DeleteProject(ctx, p.ID))
}

func TestDeleteProject_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.DeleteProject(context.Background(), 99)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// --- Team members ---

func TestEnsureTeamMember_FirstSeenWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.EnsureTeamMember(ctx, &models.TeamMember{
		GitHubLogin: "octocat",
		AvatarURL:   "https://avatars.example/1",
		DisplayName: "The Octocat",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	again, created, err := s.EnsureTeamMember(ctx, &models.TeamMember{
		GitHubLogin: "octocat",
		AvatarURL:   "https://avatars.example/2",
		DisplayName: "Renamed",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "The Octocat", again.DisplayName)
	assert.Equal(t, "https://avatars.example/1", again.AvatarURL)

	members, err := s.ListTeamMembers(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestEnsureTeamMember_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := make([]int64, 8)
	var g errgroup.Group
	for i := range ids {
		g.Go(func() error {
			m, _, err := s.EnsureTeamMember(ctx, &models.TeamMember{GitHubLogin: "hubot"})
			if err != nil {
				return err
			}
			ids[i] = m.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	members, err := s.ListTeamMembers(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

// --- Pull requests ---

func TestUpsertPullRequest_CreateThenUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := seedMember(t, s, "octocat")

	in := &models.PullRequest{
		GitHubID:      9001,
		Number:        42,
		Title:         "Fix bug",
		AuthorID:      author.ID,
		RepoOwner:     "octocat",
		RepoName:      "hello-world",
		Branch:        "fix-bug",
		LastUpdatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	pr, created, err := s.UpsertPullRequest(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.StatusWaiting, pr.Status)
	assert.Nil(t, pr.Score)
	assert.Nil(t, pr.ProjectID)
	assert.Equal(t, "octocat", pr.AuthorLogin)

	require.NoError(t, s.SetStatus(ctx, pr.ID, models.StatusReviewing))

	in.Title = "Fix bug properly"
	in.Branch = "fix-bug-2"
	in.LastUpdatedAt = time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	again, created, err := s.UpsertPullRequest(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, pr.ID, again.ID)
	assert.Equal(t, "Fix bug properly", again.Title)
	assert.Equal(t, "fix-bug-2", again.Branch)
	assert.True(t, again.LastUpdatedAt.Equal(in.LastUpdatedAt))
	assert.Equal(t, models.StatusReviewing, again.Status, "re-ingest must not reset status")

	prs, err := s.ListPullRequests(ctx, PullRequestFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, prs, 1)
}

func TestUpsertPullRequest_ProjectOnlyFilledWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := seedMember(t, s, "octocat")

	a := &models.Project{Name: "a"}
	b := &models.Project{Name: "b"}
	require.NoError(t, s.CreateProject(ctx, a))
	require.NoError(t, s.CreateProject(ctx, b))

	pr := seedPR(t, s, 7, author.ID, nil)
	assert.Nil(t, pr.ProjectID)

	pr = seedPR(t, s, 7, author.ID, &a.ID)
	require.NotNil(t, pr.ProjectID)
	assert.Equal(t, a.ID, *pr.ProjectID)
	assert.Equal(t, "a", pr.ProjectName)

	pr = seedPR(t, s, 7, author.ID, &b.ID)
	require.NotNil(t, pr.ProjectID)
	assert.Equal(t, a.ID, *pr.ProjectID, "existing assignment wins")
}

func TestUpsertPullRequest_UnknownAuthor(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.UpsertPullRequest(context.Background(), &models.PullRequest{
		GitHubID:      1,
		Number:        1,
		AuthorID:      404,
		RepoOwner:     "o",
		RepoName:      "r",
		LastUpdatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpsertPullRequest_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := seedMember(t, s, "octocat")

	var g errgroup.Group
	results := make([]bool, 6)
	for i := range results {
		g.Go(func() error {
			_, created, err := s.UpsertPullRequest(ctx, &models.PullRequest{
				GitHubID:      555,
				Number:        5,
				Title:         "Same PR",
				AuthorID:      author.ID,
				RepoOwner:     "octocat",
				RepoName:      "hello-world",
				LastUpdatedAt: time.Now(),
			})
			results[i] = created
			return err
		})
	}
	require.NoError(t, g.Wait())

	createdCount := 0
	for _, c := range results {
		if c {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount)

	prs, err := s.ListPullRequests(ctx, PullRequestFilter{})
	require.NoError(t, err)
	assert.Len(t, prs, 1)
}

func TestListPullRequests_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := seedMember(t, s, "alice")
	bob := seedMember(t, s, "bob")
	p := &models.Project{Name: "core"}
	require.NoError(t, s.CreateProject(ctx, p))

	pr1 := seedPR(t, s, 1, alice.ID, &p.ID)
	pr2 := seedPR(t, s, 2, bob.ID, nil)
	pr3 := seedPR(t, s, 3, alice.ID, nil)
	require.NoError(t, s.SetStatus(ctx, pr3.ID, models.StatusArchived))

	all, err := s.ListPullRequests(ctx, PullRequestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2, "archived excluded by default")
	assert.Equal(t, pr2.ID, all[0].ID, "most recently updated first")
	assert.Equal(t, pr1.ID, all[1].ID)

	withArchived, err := s.ListPullRequests(ctx, PullRequestFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, withArchived, 3)

	byProject, err := s.ListPullRequests(ctx, PullRequestFilter{ProjectID: &p.ID})
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	assert.Equal(t, pr1.ID, byProject[0].ID)

	unassigned, err := s.ListPullRequests(ctx, PullRequestFilter{Unassigned: true, IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, unassigned, 2)

	byAuthor, err := s.ListPullRequests(ctx, PullRequestFilter{AuthorID: alice.ID})
	require.NoError(t, err)
	assert.Len(t, byAuthor, 1)

	archived, err := s.ListPullRequests(ctx, PullRequestFilter{Status: models.StatusArchived})
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, pr3.ID, archived[0].ID)
}

func TestSetScore_Range(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := seedMember(t, s, "octocat")
	pr := seedPR(t, s, 1, author.ID, nil)

	score := 7
	require.NoError(t, s.SetScore(ctx, pr.ID, &score))
	got, err := s.GetPullRequest(ctx, pr.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Score)
	assert.Equal(t, 7, *got.Score)

	bad := 11
	err = s.SetScore(ctx, pr.ID, &bad)
	assert.ErrorIs(t, err, models.ErrInvalidScore)

	require.NoError(t, s.SetScore(ctx, pr.ID, nil))
	got, err = s.GetPullRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Score)
}

func TestSetStatus_Unknown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := seedMember(t, s, "octocat")
	pr := seedPR(t, s, 1, author.ID, nil)

	assert.Error(t, s.SetStatus(ctx, pr.ID, models.Status("Merged")))
	assert.ErrorIs(t, s.SetStatus(ctx, 999, models.StatusReviewing), models.ErrNotFound)
}

func TestAssignProject_UnknownProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := seedMember(t, s, "octocat")
	pr := seedPR(t, s, 1, author.ID, nil)

	missing := int64(77)
	err := s.AssignProject(ctx, pr.ID, &missing)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// --- Review history & transactions ---

func TestReviewHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := seedMember(t, s, "octocat")
	pr := seedPR(t, s, 1, author.ID, nil)

	_, err := s.AppendReviewHistory(ctx, pr.ID, "Waiting -> Reviewing")
	require.NoError(t, err)
	_, err = s.AppendReviewHistory(ctx, pr.ID, "Reviewing -> Approved (score 8)")
	require.NoError(t, err)

	history, err := s.ListReviewHistory(ctx, pr.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Waiting -> Reviewing", history[0].Action)
	assert.Len(t, history[0].ID, 26)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	author := seedMember(t, s, "octocat")
	pr := seedPR(t, s, 1, author.ID, nil)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Store) error {
		if err := tx.SetStatus(ctx, pr.ID, models.StatusApproved); err != nil {
			return err
		}
		score := 9
		if err := tx.SetScore(ctx, pr.ID, &score); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetPullRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, got.Status)
	assert.Nil(t, got.Score)
}

func TestWithTx_Nested(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Store) error {
		return tx.WithTx(ctx, func(inner Store) error {
			return inner.CreateProject(ctx, &models.Project{Name: "nested"})
		})
	})
	require.NoError(t, err)

	_, err = s.GetProjectByName(ctx, "nested")
	assert.NoError(t, err)
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := &models.Project{Name: "core"}
	require.NoError(t, s.CreateProject(ctx, p))
	author := seedMember(t, s, "octocat")
	pr := seedPR(t, s, 1, author.ID, &p.ID)
	_, err := s.AppendReviewHistory(ctx, pr.ID, "Waiting -> Reviewing")
	require.NoError(t, err)

	require.NoError(t, s.ClearAll(ctx))

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, projects)
	members, err := s.ListTeamMembers(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)
	prs, err := s.ListPullRequests(ctx, PullRequestFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Empty(t, prs)
}
