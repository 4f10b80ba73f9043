package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"Waiting", StatusWaiting, false},
		{"reviewing", StatusReviewing, false},
		{" ACTION ", StatusAction, false},
		{"approved", StatusApproved, false},
		{"Archived", StatusArchived, false},
		{"merged", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusWaiting.Valid())
	assert.False(t, Status("waiting").Valid())
	assert.False(t, Status("").Valid())
}

func TestUpstreamError(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("fetch: %w", &UpstreamError{Kind: UpstreamRateLimited, Err: base})

	assert.True(t, errors.Is(err, ErrUpstreamFetch))
	assert.True(t, errors.Is(err, base))

	kind, ok := UpstreamKindOf(err)
	require.True(t, ok)
	assert.Equal(t, UpstreamRateLimited, kind)
	assert.Contains(t, err.Error(), "rate_limited")

	_, ok = UpstreamKindOf(base)
	assert.False(t, ok)
}

func TestPullRequestRefAndURL(t *testing.T) {
	pr := &PullRequest{RepoOwner: "octocat", RepoName: "hello-world", Number: 42}
	assert.Equal(t, "octocat/hello-world#42", pr.Ref())
	assert.Equal(t, "https://github.com/octocat/hello-world/pull/42", pr.URL())
}

func TestTeamMemberName(t *testing.T) {
	m := &TeamMember{GitHubLogin: "octocat"}
	assert.Equal(t, "octocat", m.Name())
	m.DisplayName = "The Octocat"
	assert.Equal(t, "The Octocat", m.Name())
}
