// Package github fetches pull request metadata from GitHub, either through
// the REST API (go-github) or by shelling out to the gh CLI.
package github

import (
	"context"
	"fmt"
	"time"
)

// Backend names accepted by New.
const (
	BackendAPI = "api"
	BackendCLI = "gh"
)

// PullRequestData is the normalized metadata of one pull request.
type PullRequestData struct {
	GitHubID          int64
	Number            int
	Title             string
	AuthorLogin       string
	AuthorAvatarURL   string
	AuthorDisplayName string
	Branch            string
	LastUpdatedAt     time.Time
}

// TokenInfo describes the identity behind a GitHub token.
type TokenInfo struct {
	Login         string   `json:"login"`
	Name          string   `json:"name,omitempty"`
	Scopes        []string `json:"scopes"`
	RateLimit     int      `json:"rate_limit"`
	RateRemaining int      `json:"rate_remaining"`
}

// Fetcher retrieves pull request metadata. Failures are *models.UpstreamError.
// An empty token makes an unauthenticated request.
type Fetcher interface {
	FetchPullRequest(ctx context.Context, ref Reference, token string) (*PullRequestData, error)
}

// Client is a Fetcher that can also verify tokens.
type Client interface {
	Fetcher
	VerifyToken(ctx context.Context, token string) (*TokenInfo, error)
}

// Options configures New.
type Options struct {
	Backend string
	BaseURL string
	Timeout time.Duration
}

// New returns the client for opts.Backend.
func New(opts Options) (Client, error) {
	switch opts.Backend {
	case "", BackendAPI:
		return NewRESTClient(opts.BaseURL, opts.Timeout)
	case BackendCLI:
		return NewCLIClient(), nil
	default:
		return nil, fmt.Errorf("unknown github backend %q (want %q or %q)", opts.Backend, BackendAPI, BackendCLI)
	}
}
