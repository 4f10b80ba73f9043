package models

import "time"

// TeamMember is a tracked PR author, keyed by GitHub login.
type TeamMember struct {
	ID          int64     `json:"id"`
	GitHubLogin string    `json:"github_login"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Name returns the display name, falling back to the login.
func (m *TeamMember) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.GitHubLogin
}
