// Package ingest fetches pull requests from GitHub and merges them into the
// local store.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/joescharf/prt/internal/github"
	"github.com/joescharf/prt/internal/identity"
	"github.com/joescharf/prt/internal/models"
	"github.com/joescharf/prt/internal/store"
)

// TokenSource supplies the GitHub token. credentials.Store satisfies it.
type TokenSource interface {
	Get() (token string, ok bool, err error)
}

// Result is the outcome of ingesting one pull request.
type Result struct {
	PullRequest *models.PullRequest `json:"pull_request"`
	Created     bool                `json:"created"`
}

// Pipeline turns pull request references into stored rows.
type Pipeline struct {
	store    store.Store
	resolver *identity.Resolver
	fetcher  github.Fetcher
	tokens   TokenSource
	log      *zap.Logger
}

// New creates a Pipeline. tokens and log may be nil.
func New(s store.Store, f github.Fetcher, tokens TokenSource, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		store:    s,
		resolver: identity.NewResolver(s, log),
		fetcher:  f,
		tokens:   tokens,
		log:      log,
	}
}

// token returns the GitHub token, or "" when none is stored or the store
// cannot be read. Public repositories stay reachable without one.
func (p *Pipeline) token() string {
	if p.tokens == nil {
		return ""
	}
	token, _, err := p.tokens.Get()
	if err != nil {
		p.log.Warn("github token unavailable, continuing unauthenticated", zap.Error(err))
		return ""
	}
	return token
}

// Ingest parses ref, fetches the pull request and upserts it keyed by its
// GitHub id. projectID is only applied when the stored row has no project.
// A failed fetch leaves the store untouched.
func (p *Pipeline) Ingest(ctx context.Context, ref string, projectID *int64) (*Result, error) {
	r, err := github.ParseReference(ref)
	if err != nil {
		return nil, err
	}

	if projectID != nil {
		if _, err := p.store.GetProject(ctx, *projectID); err != nil {
			return nil, err
		}
	}

	return p.ingest(ctx, r, projectID, 0)
}

// ingest fetches r and upserts it. A non-zero wantGitHubID guards refreshes
// against a reference that now resolves to a different pull request.
func (p *Pipeline) ingest(ctx context.Context, r github.Reference, projectID *int64, wantGitHubID int64) (*Result, error) {
	token := p.token()

	log := p.log.With(zap.String("ref", r.String()))
	log.Debug("fetching pull request", zap.Bool("authenticated", token != ""))

	data, err := p.fetcher.FetchPullRequest(ctx, r, token)
	if err != nil {
		log.Warn("fetch failed", zap.Error(err))
		return nil, err
	}
	if data.GitHubID == 0 || data.AuthorLogin == "" {
		return nil, &models.UpstreamError{Kind: models.UpstreamNetwork, Err: errors.New("incomplete pull request payload")}
	}
	if wantGitHubID != 0 && data.GitHubID != wantGitHubID {
		return nil, fmt.Errorf("refresh %s: github id changed from %d to %d", r, wantGitHubID, data.GitHubID)
	}

	author, err := p.resolver.Resolve(ctx, identity.Author{
		Login:       data.AuthorLogin,
		AvatarURL:   data.AuthorAvatarURL,
		DisplayName: data.AuthorDisplayName,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve author: %w", err)
	}

	number := data.Number
	if number == 0 {
		number = r.Number
	}
	pr, created, err := p.store.UpsertPullRequest(ctx, &models.PullRequest{
		GitHubID:      data.GitHubID,
		Number:        number,
		Title:         data.Title,
		AuthorID:      author.ID,
		ProjectID:     projectID,
		RepoOwner:     r.Owner,
		RepoName:      r.Repo,
		Branch:        data.Branch,
		LastUpdatedAt: data.LastUpdatedAt,
	})
	if err != nil {
		return nil, err
	}

	log.Info("pull request ingested",
		zap.Int64("id", pr.ID),
		zap.Int64("github_id", pr.GitHubID),
		zap.Bool("created", created),
	)
	return &Result{PullRequest: pr, Created: created}, nil
}
