package github

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prt/internal/models"
)

type fakeGH struct {
	outputs map[string]string
	errs    map[string]error
	envs    [][]string
}

func (f *fakeGH) run(_ context.Context, env []string, args ...string) (string, error) {
	f.envs = append(f.envs, env)
	key := strings.Join(args, " ")
	if err, ok := f.errs[key]; ok {
		return "", err
	}
	if out, ok := f.outputs[key]; ok {
		return out, nil
	}
	return "", errors.New("unexpected call: gh " + key)
}

func TestCLIClient_FetchPullRequest(t *testing.T) {
	fake := &fakeGH{outputs: map[string]string{
		"api repos/octocat/hello-world/pulls/42": pullJSON,
		"api users/octocat --jq .name // empty":  "The Octocat",
	}}
	c := &CLIClient{run: fake.run}

	data, err := c.FetchPullRequest(context.Background(), Reference{"octocat", "hello-world", 42}, "secret")
	require.NoError(t, err)
	assert.Equal(t, int64(9001), data.GitHubID)
	assert.Equal(t, "The Octocat", data.AuthorDisplayName)
	assert.Equal(t, "feature/greeting", data.Branch)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), data.LastUpdatedAt)
	require.NotEmpty(t, fake.envs)
	assert.Equal(t, []string{"GH_TOKEN=secret"}, fake.envs[0])
}

func TestCLIClient_FetchPullRequest_Errors(t *testing.T) {
	tests := []struct {
		stderr string
		want   models.UpstreamKind
	}{
		{"gh: Not Found (HTTP 404)", models.UpstreamNotFound},
		{"gh: Bad credentials (HTTP 401)", models.UpstreamUnauthorized},
		{"To get started with GitHub CLI, please run:  gh auth login", models.UpstreamUnauthorized},
		{"gh: API rate limit exceeded for user ID 1. (HTTP 403)", models.UpstreamRateLimited},
		{"error connecting to api.github.com", models.UpstreamNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.stderr, func(t *testing.T) {
			args := []string{"api", "repos/o/r/pulls/1"}
			fake := &fakeGH{errs: map[string]error{
				strings.Join(args, " "): &ghError{args: args, stderr: tt.stderr, err: errors.New("exit status 1")},
			}}
			c := &CLIClient{run: fake.run}

			_, err := c.FetchPullRequest(context.Background(), Reference{"o", "r", 1}, "")
			kind, ok := models.UpstreamKindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, kind)
			assert.Nil(t, fake.envs[0], "no token means no GH_TOKEN override")
		})
	}
}

func TestCLIClient_FetchPullRequest_AuthorLookup(t *testing.T) {
	userArgs := []string{"api", "users/octocat", "--jq", ".name // empty"}
	userKey := strings.Join(userArgs, " ")

	t.Run("rate limited", func(t *testing.T) {
		fake := &fakeGH{
			outputs: map[string]string{"api repos/octocat/hello-world/pulls/42": pullJSON},
			errs: map[string]error{userKey: &ghError{
				args: userArgs, stderr: "gh: API rate limit exceeded for 1.2.3.4. (HTTP 403)", err: errors.New("exit status 1"),
			}},
		}
		c := &CLIClient{run: fake.run}

		data, err := c.FetchPullRequest(context.Background(), Reference{"octocat", "hello-world", 42}, "")
		require.Error(t, err)
		assert.Nil(t, data)
		kind, ok := models.UpstreamKindOf(err)
		require.True(t, ok)
		assert.Equal(t, models.UpstreamRateLimited, kind)
	})

	t.Run("missing user", func(t *testing.T) {
		fake := &fakeGH{
			outputs: map[string]string{"api repos/octocat/hello-world/pulls/42": pullJSON},
			errs: map[string]error{userKey: &ghError{
				args: userArgs, stderr: "gh: Not Found (HTTP 404)", err: errors.New("exit status 1"),
			}},
		}
		c := &CLIClient{run: fake.run}

		data, err := c.FetchPullRequest(context.Background(), Reference{"octocat", "hello-world", 42}, "")
		require.NoError(t, err)
		assert.Empty(t, data.AuthorDisplayName)
	})
}

func TestCLIClient_VerifyToken(t *testing.T) {
	out := "HTTP/2.0 200 OK\r\n" +
		"X-Oauth-Scopes: repo, gist\r\n" +
		"X-Ratelimit-Limit: 5000\r\n" +
		"X-Ratelimit-Remaining: 4990\r\n" +
		"\r\n" +
		`{"login":"reviewer","name":"Rita Reviewer"}`
	fake := &fakeGH{outputs: map[string]string{"api user --include": out}}
	c := &CLIClient{run: fake.run}

	info, err := c.VerifyToken(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "reviewer", info.Login)
	assert.Equal(t, []string{"repo", "gist"}, info.Scopes)
	assert.Equal(t, 5000, info.RateLimit)
	assert.Equal(t, 4990, info.RateRemaining)
}
