package models

import "time"

// ReviewHistory is one append-only audit entry for a pull request.
type ReviewHistory struct {
	ID            string    `json:"id"`
	PullRequestID int64     `json:"pull_request_id"`
	Action        string    `json:"action"`
	PerformedAt   time.Time `json:"performed_at"`
}
