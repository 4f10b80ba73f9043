package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/prt/internal/models"
)

// runFunc executes gh with args and extra environment, returning stdout.
type runFunc func(ctx context.Context, env []string, args ...string) (string, error)

// CLIClient implements Client using the gh CLI.
type CLIClient struct {
	run runFunc
}

// NewCLIClient returns a CLIClient that runs the gh binary on PATH.
func NewCLIClient() *CLIClient {
	return &CLIClient{run: ghCmd}
}

// ghError carries the stderr of a failed gh invocation.
type ghError struct {
	args   []string
	stderr string
	err    error
}

func (e *ghError) Error() string {
	if e.stderr != "" {
		return fmt.Sprintf("gh %s: %s", strings.Join(e.args, " "), e.stderr)
	}
	return fmt.Sprintf("gh %s: %v", strings.Join(e.args, " "), e.err)
}

func (e *ghError) Unwrap() error { return e.err }

func ghCmd(ctx context.Context, env []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &ghError{args: args, stderr: strings.TrimSpace(string(exitErr.Stderr)), err: err}
		}
		return "", &ghError{args: args, err: err}
	}
	return strings.TrimSpace(string(out)), nil
}

func tokenEnv(token string) []string {
	if token == "" {
		return nil
	}
	return []string{"GH_TOKEN=" + token}
}

type ghPullRequest struct {
	ID     int64  `json:"id"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	User   struct {
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
	} `json:"user"`
	Head struct {
		Ref string `json:"ref"`
	} `json:"head"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FetchPullRequest implements Fetcher.
func (c *CLIClient) FetchPullRequest(ctx context.Context, ref Reference, token string) (*PullRequestData, error) {
	env := tokenEnv(token)
	out, err := c.run(ctx, env, "api", fmt.Sprintf("repos/%s/%s/pulls/%d", ref.Owner, ref.Repo, ref.Number))
	if err != nil {
		return nil, classifyCLIError(err)
	}

	var raw ghPullRequest
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, &models.UpstreamError{Kind: models.UpstreamNetwork, Err: fmt.Errorf("parse pull request: %w", err)}
	}

	data := &PullRequestData{
		GitHubID:        raw.ID,
		Number:          raw.Number,
		Title:           raw.Title,
		AuthorLogin:     raw.User.Login,
		AuthorAvatarURL: raw.User.AvatarURL,
		Branch:          raw.Head.Ref,
		LastUpdatedAt:   raw.UpdatedAt.UTC(),
	}
	if data.Number == 0 {
		data.Number = ref.Number
	}
	if data.AuthorLogin != "" {
		name, err := c.run(ctx, env, "api", "users/"+data.AuthorLogin, "--jq", ".name // empty")
		if err != nil {
			uerr := classifyCLIError(err)
			if kind, _ := models.UpstreamKindOf(uerr); kind != models.UpstreamNotFound {
				return nil, fmt.Errorf("fetch author %s: %w", data.AuthorLogin, uerr)
			}
		} else {
			data.AuthorDisplayName = strings.TrimSpace(name)
		}
	}
	return data, nil
}

// VerifyToken implements Client. An empty token verifies gh's own login.
func (c *CLIClient) VerifyToken(ctx context.Context, token string) (*TokenInfo, error) {
	out, err := c.run(ctx, tokenEnv(token), "api", "user", "--include")
	if err != nil {
		return nil, classifyCLIError(err)
	}
	return parseIncludedUser(out)
}

// parseIncludedUser parses `gh api --include` output: HTTP headers, a blank
// line, then the JSON body.
func parseIncludedUser(out string) (*TokenInfo, error) {
	out = strings.ReplaceAll(out, "\r\n", "\n")
	head, body, ok := strings.Cut(out, "\n\n")
	if !ok {
		return nil, &models.UpstreamError{Kind: models.UpstreamNetwork, Err: errors.New("unexpected gh api output")}
	}

	var user struct {
		Login string `json:"login"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal([]byte(body), &user); err != nil {
		return nil, &models.UpstreamError{Kind: models.UpstreamNetwork, Err: fmt.Errorf("parse user: %w", err)}
	}

	info := &TokenInfo{Login: user.Login, Name: user.Name, Scopes: []string{}}
	for _, line := range strings.Split(head, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "x-oauth-scopes":
			for _, s := range strings.Split(value, ",") {
				if s = strings.TrimSpace(s); s != "" {
					info.Scopes = append(info.Scopes, s)
				}
			}
		case "x-ratelimit-limit":
			info.RateLimit, _ = strconv.Atoi(value)
		case "x-ratelimit-remaining":
			info.RateRemaining, _ = strconv.Atoi(value)
		}
	}
	return info, nil
}

// classifyCLIError maps gh's stderr onto upstream kinds.
func classifyCLIError(err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return &models.UpstreamError{Kind: models.UpstreamNetwork, Err: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "http 429"):
		return &models.UpstreamError{Kind: models.UpstreamRateLimited, Err: err}
	case strings.Contains(msg, "http 401"), strings.Contains(msg, "http 403"),
		strings.Contains(msg, "gh auth login"), strings.Contains(msg, "bad credentials"):
		return &models.UpstreamError{Kind: models.UpstreamUnauthorized, Err: err}
	case strings.Contains(msg, "http 404"):
		return &models.UpstreamError{Kind: models.UpstreamNotFound, Err: err}
	}
	return &models.UpstreamError{Kind: models.UpstreamNetwork, Err: err}
}
