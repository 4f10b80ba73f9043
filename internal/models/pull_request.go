package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is a workflow state of a tracked pull request.
type Status string

const (
	StatusWaiting   Status = "Waiting"
	StatusReviewing Status = "Reviewing"
	StatusAction    Status = "Action"
	StatusApproved  Status = "Approved"
	StatusArchived  Status = "Archived"
)

// Statuses lists every workflow state in board order.
var Statuses = []Status{StatusWaiting, StatusReviewing, StatusAction, StatusApproved, StatusArchived}

// ParseStatus matches a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q (want one of Waiting, Reviewing, Action, Approved, Archived)", s)
}

// Valid reports whether s is a known workflow state.
func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// Score bounds for approvals.
const (
	MinScore = 1
	MaxScore = 10
)

// PullRequest is a tracked review item. The Author* and ProjectName fields are
// populated from joins on read and ignored on write.
type PullRequest struct {
	ID            int64     `json:"id"`
	GitHubID      int64     `json:"github_id"`
	Number        int       `json:"number"`
	Title         string    `json:"title,omitempty"`
	AuthorID      int64     `json:"author_id"`
	ProjectID     *int64    `json:"project_id,omitempty"`
	RepoOwner     string    `json:"repo_owner"`
	RepoName      string    `json:"repo_name"`
	Branch        string    `json:"branch,omitempty"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	Status        Status    `json:"status"`
	Score         *int      `json:"score,omitempty"`
	CreatedAt     time.Time `json:"created_at"`

	AuthorLogin       string `json:"author_login,omitempty"`
	AuthorAvatarURL   string `json:"author_avatar_url,omitempty"`
	AuthorDisplayName string `json:"author_display_name,omitempty"`
	ProjectName       string `json:"project_name,omitempty"`
}

// Ref returns the owner/repo#number form of the pull request.
func (pr *PullRequest) Ref() string {
	return fmt.Sprintf("%s/%s#%d", pr.RepoOwner, pr.RepoName, pr.Number)
}

// URL returns the github.com web URL of the pull request.
func (pr *PullRequest) URL() string {
	return fmt.Sprintf("https://github.com/%s/%s/pull/%d", pr.RepoOwner, pr.RepoName, pr.Number)
}
