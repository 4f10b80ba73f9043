package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/prt/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier is the subset of *sql.DB and *sql.Tx used by the store.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
	q  querier
	tx *sql.Tx
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection serializes
	// every statement and transaction, so a read-then-write inside WithTx is never
	// interleaved with another writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db, q: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// nullString stores "" as NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// classify maps constraint failures onto the models error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", models.ErrDuplicateConflict, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: referenced row: %v", models.ErrNotFound, err)
	case strings.Contains(msg, "CHECK constraint failed") && strings.Contains(msg, "score"):
		return fmt.Errorf("%w: %v", models.ErrInvalidScore, err)
	}
	return err
}

func notFound(kind string, key any) error {
	return fmt.Errorf("%s %v: %w", kind, key, models.ErrNotFound)
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if s.tx != nil {
		return errors.New("migrate: not allowed inside a transaction")
	}

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.tx != nil {
		return errors.New("close: not allowed inside a transaction")
	}
	return s.db.Close()
}

// WithTx runs fn inside a transaction. Nested calls reuse the outer transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&SQLiteStore{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// inTx is WithTx for the concrete type.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(*SQLiteStore) error) error {
	return s.WithTx(ctx, func(st Store) error {
		return fn(st.(*SQLiteStore))
	})
}

// --- Projects ---

const projectColumns = `id, name, description, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*models.Project, error) {
	p := &models.Project{}
	var desc sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &desc, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Description = desc.String
	return p, nil
}

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("create project: name is required")
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	err := s.q.QueryRowContext(ctx,
		`INSERT INTO projects (name, description, created_at, updated_at) VALUES (?, ?, ?, ?) RETURNING id`,
		p.Name, nullString(p.Description), p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("create project: %w", classify(err))
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	p, err := scanProject(s.q.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	p, err := scanProject(s.q.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, notFound("project", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get project by name: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, p *models.Project) error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("update project: name is required")
	}
	p.UpdatedAt = time.Now().UTC()
	result, err := s.q.ExecContext(ctx,
		`UPDATE projects SET name=?, description=?, updated_at=? WHERE id=?`,
		p.Name, nullString(p.Description), p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", classify(err))
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("project", p.ID)
	}
	return nil
}

// countProjectPullRequests is the single definition of "project is referenced",
// shared by the delete guard and ProjectHasPullRequests.
func countProjectPullRequests(ctx context.Context, q querier, id int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM pull_requests WHERE project_id = ?", id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count project pull requests: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ProjectHasPullRequests(ctx context.Context, id int64) (bool, error) {
	n, err := countProjectPullRequests(ctx, s.q, id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *SQLiteStore) error {
		n, err := countProjectPullRequests(ctx, tx.q, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("delete project %d: %d pull request(s) still assigned: %w", id, n, models.ErrProjectInUse)
		}

		result, err := tx.q.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("delete project: %w", classify(err))
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return notFound("project", id)
		}
		return nil
	})
}

// --- Team members ---

const memberColumns = `id, github_login, avatar_url, display_name, created_at`

func scanMember(row interface{ Scan(...any) error }) (*models.TeamMember, error) {
	m := &models.TeamMember{}
	var avatar, display sql.NullString
	if err := row.Scan(&m.ID, &m.GitHubLogin, &avatar, &display, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.AvatarURL = avatar.String
	m.DisplayName = display.String
	return m, nil
}

func (s *SQLiteStore) EnsureTeamMember(ctx context.Context, m *models.TeamMember) (*models.TeamMember, bool, error) {
	if strings.TrimSpace(m.GitHubLogin) == "" {
		return nil, false, errors.New("ensure team member: github login is required")
	}

	// The UNIQUE(github_login) constraint decides the race: a second writer
	// for the same login inserts nothing and reads the first writer's row.
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO team_members (github_login, avatar_url, display_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(github_login) DO NOTHING`,
		m.GitHubLogin, nullString(m.AvatarURL), nullString(m.DisplayName), time.Now().UTC(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("ensure team member: %w", classify(err))
	}
	n, _ := result.RowsAffected()

	stored, err := s.GetTeamMemberByLogin(ctx, m.GitHubLogin)
	if err != nil {
		return nil, false, err
	}
	return stored, n > 0, nil
}

func (s *SQLiteStore) GetTeamMember(ctx context.Context, id int64) (*models.TeamMember, error) {
	m, err := scanMember(s.q.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM team_members WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("team member", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get team member: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) GetTeamMemberByLogin(ctx context.Context, login string) (*models.TeamMember, error) {
	m, err := scanMember(s.q.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM team_members WHERE github_login = ?`, login))
	if err == sql.ErrNoRows {
		return nil, notFound("team member", login)
	}
	if err != nil {
		return nil, fmt.Errorf("get team member by login: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) ListTeamMembers(ctx context.Context) ([]*models.TeamMember, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+memberColumns+` FROM team_members ORDER BY github_login`)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []*models.TeamMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// --- Pull requests ---

const pullRequestSelect = `SELECT pr.id, pr.github_id, pr.number, pr.title, pr.author_id, pr.project_id,
	pr.repo_owner, pr.repo_name, pr.branch, pr.last_updated_at, pr.status, pr.score, pr.created_at,
	tm.github_login, tm.avatar_url, tm.display_name, p.name
	FROM pull_requests pr
	JOIN team_members tm ON tm.id = pr.author_id
	LEFT JOIN projects p ON p.id = pr.project_id`

func scanPullRequest(row interface{ Scan(...any) error }) (*models.PullRequest, error) {
	pr := &models.PullRequest{}
	var (
		title, branch, avatar, display, projectName sql.NullString
		projectID, score                            sql.NullInt64
		status                                      string
	)
	if err := row.Scan(&pr.ID, &pr.GitHubID, &pr.Number, &title, &pr.AuthorID, &projectID,
		&pr.RepoOwner, &pr.RepoName, &branch, &pr.LastUpdatedAt, &status, &score, &pr.CreatedAt,
		&pr.AuthorLogin, &avatar, &display, &projectName); err != nil {
		return nil, err
	}

	pr.Title = title.String
	pr.Branch = branch.String
	pr.Status = models.Status(status)
	pr.AuthorAvatarURL = avatar.String
	pr.AuthorDisplayName = display.String
	pr.ProjectName = projectName.String
	if projectID.Valid {
		id := projectID.Int64
		pr.ProjectID = &id
	}
	if score.Valid {
		v := int(score.Int64)
		pr.Score = &v
	}
	return pr, nil
}

func (s *SQLiteStore) UpsertPullRequest(ctx context.Context, pr *models.PullRequest) (*models.PullRequest, bool, error) {
	if pr.GitHubID == 0 {
		return nil, false, errors.New("upsert pull request: github id is required")
	}
	if pr.RepoOwner == "" || pr.RepoName == "" {
		return nil, false, errors.New("upsert pull request: repository owner and name are required")
	}
	status := pr.Status
	if status == "" {
		status = models.StatusWaiting
	}

	var (
		stored  *models.PullRequest
		created bool
	)
	err := s.inTx(ctx, func(tx *SQLiteStore) error {
		var existing int64
		err := tx.q.QueryRowContext(ctx, "SELECT id FROM pull_requests WHERE github_id = ?", pr.GitHubID).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			created = true
		case err != nil:
			return fmt.Errorf("upsert pull request: %w", err)
		}

		// Repository coordinates, status and score are never touched on conflict;
		// the project is only filled in when the stored row has none.
		var id int64
		err = tx.q.QueryRowContext(ctx,
			`INSERT INTO pull_requests (github_id, number, title, author_id, project_id, repo_owner, repo_name, branch, last_updated_at, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(github_id) DO UPDATE SET
				title = excluded.title,
				branch = excluded.branch,
				last_updated_at = excluded.last_updated_at,
				author_id = excluded.author_id,
				project_id = COALESCE(pull_requests.project_id, excluded.project_id)
			RETURNING id`,
			pr.GitHubID, pr.Number, nullString(pr.Title), pr.AuthorID, nullInt64(pr.ProjectID),
			pr.RepoOwner, pr.RepoName, nullString(pr.Branch), pr.LastUpdatedAt.UTC(),
			string(status), time.Now().UTC(),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("upsert pull request: %w", classify(err))
		}

		stored, err = tx.GetPullRequest(ctx, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (s *SQLiteStore) GetPullRequest(ctx context.Context, id int64) (*models.PullRequest, error) {
	pr, err := scanPullRequest(s.q.QueryRowContext(ctx, pullRequestSelect+` WHERE pr.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("pull request", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pull request: %w", err)
	}
	return pr, nil
}

func (s *SQLiteStore) GetPullRequestByGitHubID(ctx context.Context, githubID int64) (*models.PullRequest, error) {
	pr, err := scanPullRequest(s.q.QueryRowContext(ctx, pullRequestSelect+` WHERE pr.github_id = ?`, githubID))
	if err == sql.ErrNoRows {
		return nil, notFound("pull request with github id", githubID)
	}
	if err != nil {
		return nil, fmt.Errorf("get pull request by github id: %w", err)
	}
	return pr, nil
}

func (s *SQLiteStore) ListPullRequests(ctx context.Context, filter PullRequestFilter) ([]*models.PullRequest, error) {
	query := pullRequestSelect
	var conditions []string
	var args []any

	if filter.ProjectID != nil {
		conditions = append(conditions, "pr.project_id = ?")
		args = append(args, *filter.ProjectID)
	} else if filter.Unassigned {
		conditions = append(conditions, "pr.project_id IS NULL")
	}
	if filter.AuthorID != 0 {
		conditions = append(conditions, "pr.author_id = ?")
		args = append(args, filter.AuthorID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "pr.status = ?")
		args = append(args, string(filter.Status))
	} else if !filter.IncludeArchived {
		conditions = append(conditions, "pr.status <> ?")
		args = append(args, string(models.StatusArchived))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY pr.last_updated_at DESC, pr.id DESC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var prs []*models.PullRequest
	for rows.Next() {
		pr, err := scanPullRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		prs = append(prs, pr)
	}
	return prs, rows.Err()
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id int64, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("set status: unknown status %q", status)
	}
	result, err := s.q.ExecContext(ctx, "UPDATE pull_requests SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("set status: %w", classify(err))
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("pull request", id)
	}
	return nil
}

func (s *SQLiteStore) SetScore(ctx context.Context, id int64, score *int) error {
	result, err := s.q.ExecContext(ctx, "UPDATE pull_requests SET score = ? WHERE id = ?", nullInt(score), id)
	if err != nil {
		return fmt.Errorf("set score: %w", classify(err))
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("pull request", id)
	}
	return nil
}

func (s *SQLiteStore) AssignProject(ctx context.Context, id int64, projectID *int64) error {
	result, err := s.q.ExecContext(ctx, "UPDATE pull_requests SET project_id = ? WHERE id = ?", nullInt64(projectID), id)
	if err != nil {
		return fmt.Errorf("assign project: %w", classify(err))
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("pull request", id)
	}
	return nil
}

// --- Review history ---

func (s *SQLiteStore) AppendReviewHistory(ctx context.Context, prID int64, action string) (*models.ReviewHistory, error) {
	h := &models.ReviewHistory{
		ID:            newULID(),
		PullRequestID: prID,
		Action:        action,
		PerformedAt:   time.Now().UTC(),
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO review_history (id, pr_id, action, performed_at) VALUES (?, ?, ?, ?)`,
		h.ID, h.PullRequestID, h.Action, h.PerformedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append review history: %w", classify(err))
	}
	return h, nil
}

func (s *SQLiteStore) ListReviewHistory(ctx context.Context, prID int64) ([]*models.ReviewHistory, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, pr_id, action, performed_at FROM review_history WHERE pr_id = ? ORDER BY performed_at, id`, prID)
	if err != nil {
		return nil, fmt.Errorf("list review history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var history []*models.ReviewHistory
	for rows.Next() {
		h := &models.ReviewHistory{}
		if err := rows.Scan(&h.ID, &h.PullRequestID, &h.Action, &h.PerformedAt); err != nil {
			return nil, fmt.Errorf("scan review history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// ClearAll deletes all tracked data in dependency order.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	return s.inTx(ctx, func(tx *SQLiteStore) error {
		for _, table := range []string{"review_history", "pull_requests", "team_members", "projects"} {
			if _, err := tx.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
}
