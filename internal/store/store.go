package store

import (
	"context"

	"github.com/joescharf/prt/internal/models"
)

// PullRequestFilter narrows ListPullRequests. Archived rows are excluded unless
// IncludeArchived is set or Status is StatusArchived.
type PullRequestFilter struct {
	ProjectID       *int64
	Unassigned      bool
	AuthorID        int64
	Status          models.Status
	IncludeArchived bool
}

// Store defines the persistence interface for prt.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	// DeleteProject fails with models.ErrProjectInUse while any pull request references id.
	DeleteProject(ctx context.Context, id int64) error
	ProjectHasPullRequests(ctx context.Context, id int64) (bool, error)

	// Team members
	// EnsureTeamMember inserts m unless its login exists and returns the stored row.
	// Existing profile fields are never overwritten. created reports whether a row was inserted.
	EnsureTeamMember(ctx context.Context, m *models.TeamMember) (member *models.TeamMember, created bool, err error)
	GetTeamMember(ctx context.Context, id int64) (*models.TeamMember, error)
	GetTeamMemberByLogin(ctx context.Context, login string) (*models.TeamMember, error)
	ListTeamMembers(ctx context.Context) ([]*models.TeamMember, error)

	// Pull requests
	// UpsertPullRequest inserts pr or, when its GitHubID exists, updates title, branch,
	// last-updated time and author, and sets the project only if it is unset.
	UpsertPullRequest(ctx context.Context, pr *models.PullRequest) (stored *models.PullRequest, created bool, err error)
	GetPullRequest(ctx context.Context, id int64) (*models.PullRequest, error)
	GetPullRequestByGitHubID(ctx context.Context, githubID int64) (*models.PullRequest, error)
	ListPullRequests(ctx context.Context, filter PullRequestFilter) ([]*models.PullRequest, error)
	SetStatus(ctx context.Context, id int64, status models.Status) error
	SetScore(ctx context.Context, id int64, score *int) error
	AssignProject(ctx context.Context, id int64, projectID *int64) error

	// Review history
	AppendReviewHistory(ctx context.Context, prID int64, action string) (*models.ReviewHistory, error)
	ListReviewHistory(ctx context.Context, prID int64) ([]*models.ReviewHistory, error)

	// ClearAll deletes every row in every table.
	ClearAll(ctx context.Context) error

	// WithTx runs fn against a Store bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
