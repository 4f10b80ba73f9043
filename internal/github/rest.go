package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/joescharf/prt/internal/models"
)

// RESTClient talks to the GitHub REST API through go-github.
type RESTClient struct {
	httpClient *http.Client
	baseURL    *url.URL
}

// NewRESTClient creates a RESTClient. An empty baseURL means api.github.com.
func NewRESTClient(baseURL string, timeout time.Duration) (*RESTClient, error) {
	c := &RESTClient{httpClient: &http.Client{Timeout: timeout}}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github api url: %w", err)
		}
		c.baseURL = u
	}
	return c, nil
}

func (c *RESTClient) client(token string) *gh.Client {
	client := gh.NewClient(c.httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if c.baseURL != nil {
		client.BaseURL = c.baseURL
	}
	return client
}

// FetchPullRequest implements Fetcher.
func (c *RESTClient) FetchPullRequest(ctx context.Context, ref Reference, token string) (*PullRequestData, error) {
	client := c.client(token)

	pr, _, err := client.PullRequests.Get(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		return nil, classifyAPIError(err)
	}

	user := pr.GetUser()
	data := &PullRequestData{
		GitHubID:        pr.GetID(),
		Number:          pr.GetNumber(),
		Title:           pr.GetTitle(),
		AuthorLogin:     user.GetLogin(),
		AuthorAvatarURL: user.GetAvatarURL(),
		Branch:          pr.GetHead().GetRef(),
		LastUpdatedAt:   pr.GetUpdatedAt().Time.UTC(),
	}
	if data.Number == 0 {
		data.Number = ref.Number
	}

	// The pull request payload carries a simple user without a display name.
	// A missing user leaves the display name empty; any other failure is returned.
	if data.AuthorLogin != "" {
		u, _, err := client.Users.Get(ctx, data.AuthorLogin)
		if err != nil {
			uerr := classifyAPIError(err)
			if kind, _ := models.UpstreamKindOf(uerr); kind != models.UpstreamNotFound {
				return nil, fmt.Errorf("fetch author %s: %w", data.AuthorLogin, uerr)
			}
		} else {
			data.AuthorDisplayName = u.GetName()
		}
	}
	return data, nil
}

// VerifyToken calls GET /user with token and reports scopes and rate limit.
func (c *RESTClient) VerifyToken(ctx context.Context, token string) (*TokenInfo, error) {
	if token == "" {
		return nil, &models.UpstreamError{Kind: models.UpstreamUnauthorized, Err: errors.New("no token configured")}
	}

	u, resp, err := c.client(token).Users.Get(ctx, "")
	if err != nil {
		return nil, classifyAPIError(err)
	}

	info := &TokenInfo{Login: u.GetLogin(), Name: u.GetName(), Scopes: []string{}}
	if resp != nil {
		info.RateLimit = resp.Rate.Limit
		info.RateRemaining = resp.Rate.Remaining
		for _, s := range strings.Split(resp.Header.Get("X-OAuth-Scopes"), ",") {
			if s = strings.TrimSpace(s); s != "" {
				info.Scopes = append(info.Scopes, s)
			}
		}
	}
	return info, nil
}

// classifyAPIError maps go-github errors onto upstream kinds.
func classifyAPIError(err error) error {
	var (
		rateErr  *gh.RateLimitError
		abuseErr *gh.AbuseRateLimitError
		respErr  *gh.ErrorResponse
	)
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return &models.UpstreamError{Kind: models.UpstreamRateLimited, Err: err}
	case errors.As(err, &respErr) && respErr.Response != nil:
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &models.UpstreamError{Kind: models.UpstreamUnauthorized, Err: err}
		case http.StatusNotFound:
			return &models.UpstreamError{Kind: models.UpstreamNotFound, Err: err}
		case http.StatusTooManyRequests:
			return &models.UpstreamError{Kind: models.UpstreamRateLimited, Err: err}
		}
	}
	return &models.UpstreamError{Kind: models.UpstreamNetwork, Err: err}
}
