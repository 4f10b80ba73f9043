package ingest

import (
	"context"

	"github.com/joescharf/prt/internal/github"
	"github.com/joescharf/prt/internal/store"
)

// RefreshResult holds the outcome of refreshing a single pull request.
type RefreshResult struct {
	ID      int64  `json:"id"`
	Ref     string `json:"ref"`
	Changed bool   `json:"changed"`
	Error   string `json:"error,omitempty"`
}

// AllResult holds the outcome of refreshing every active pull request.
type AllResult struct {
	Refreshed int             `json:"refreshed"`
	Total     int             `json:"total"`
	Failed    int             `json:"failed"`
	Results   []RefreshResult `json:"results"`
}

// Refresh re-fetches a tracked pull request from its stored coordinates.
// Reports whether any GitHub-sourced field changed.
func (p *Pipeline) Refresh(ctx context.Context, prID int64) (*Result, bool, error) {
	before, err := p.store.GetPullRequest(ctx, prID)
	if err != nil {
		return nil, false, err
	}

	ref := github.Reference{Owner: before.RepoOwner, Repo: before.RepoName, Number: before.Number}
	res, err := p.ingest(ctx, ref, nil, before.GitHubID)
	if err != nil {
		return nil, false, err
	}

	after := res.PullRequest
	changed := after.Title != before.Title ||
		after.Branch != before.Branch ||
		after.AuthorID != before.AuthorID ||
		!after.LastUpdatedAt.Equal(before.LastUpdatedAt)
	return res, changed, nil
}

// RefreshAll refreshes every non-archived pull request, one at a time.
// Individual failures are collected, not returned.
func (p *Pipeline) RefreshAll(ctx context.Context) (*AllResult, error) {
	prs, err := p.store.ListPullRequests(ctx, store.PullRequestFilter{})
	if err != nil {
		return nil, err
	}

	result := &AllResult{Total: len(prs)}
	for _, pr := range prs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		r := RefreshResult{ID: pr.ID, Ref: pr.Ref()}
		_, changed, err := p.Refresh(ctx, pr.ID)
		if err != nil {
			r.Error = err.Error()
			result.Failed++
		} else {
			r.Changed = changed
			if changed {
				result.Refreshed++
			}
		}
		result.Results = append(result.Results, r)
	}

	return result, nil
}
