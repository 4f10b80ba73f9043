package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidReference is returned for a malformed pull request locator.
	ErrInvalidReference = errors.New("invalid pull request reference")
	// ErrDuplicateConflict is returned when a uniqueness constraint rejects a write.
	ErrDuplicateConflict = errors.New("duplicate conflict")
	// ErrProjectInUse is returned when deleting a project that still has pull requests.
	ErrProjectInUse = errors.New("project in use")
	// ErrInvalidTransition is returned for an illegal workflow edge.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidScore is returned for a score outside 1-10 or a score without approval.
	ErrInvalidScore = errors.New("invalid score")
	// ErrUpstreamFetch matches every *UpstreamError.
	ErrUpstreamFetch = errors.New("upstream fetch failed")
)

// UpstreamKind classifies a failed GitHub call.
type UpstreamKind string

const (
	UpstreamUnauthorized UpstreamKind = "unauthorized"
	UpstreamNotFound     UpstreamKind = "not_found"
	UpstreamRateLimited  UpstreamKind = "rate_limited"
	UpstreamNetwork      UpstreamKind = "network"
)

// UpstreamError wraps a GitHub transport or API failure.
type UpstreamError struct {
	Kind UpstreamKind
	Err  error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("github: %s", e.Kind)
	}
	return fmt.Sprintf("github: %s: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUpstreamFetch) true for any UpstreamError.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamFetch }

// UpstreamKindOf returns the kind of the first UpstreamError in err's chain.
func UpstreamKindOf(err error) (UpstreamKind, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind, true
	}
	return "", false
}
