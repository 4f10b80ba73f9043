// Package stats computes derived views over tracked pull requests.
package stats

import (
	"context"
	"math"
	"sort"

	"github.com/joescharf/prt/internal/models"
	"github.com/joescharf/prt/internal/store"
)

// UnknownAuthor groups pull requests whose author has no display name.
const UnknownAuthor = "Unknown"

// StatusCount is the number of active pull requests in one status.
type StatusCount struct {
	Status models.Status `json:"status"`
	Count  int           `json:"count"`
}

// AuthorRank is one row of the performance ranking. AvgScore is nil when
// none of the author's pull requests has a score.
type AuthorRank struct {
	Author        string   `json:"author"`
	Total         int      `json:"total"`
	ApprovedCount int      `json:"approved_count"`
	ScoredCount   int      `json:"scored_count"`
	AvgScore      *float64 `json:"avg_score"`
}

// CountStatuses counts non-archived pull requests per status, in board
// order, including statuses with no pull requests.
func CountStatuses(prs []*models.PullRequest) []StatusCount {
	counts := make(map[models.Status]int)
	for _, pr := range prs {
		if pr.Status != models.StatusArchived {
			counts[pr.Status]++
		}
	}

	var out []StatusCount
	for _, st := range models.Statuses {
		if st == models.StatusArchived {
			continue
		}
		out = append(out, StatusCount{Status: st, Count: counts[st]})
	}
	return out
}

// Total sums counts.
func Total(counts []StatusCount) int {
	n := 0
	for _, c := range counts {
		n += c.Count
	}
	return n
}

// Rank groups prs by author display name and orders authors by average
// score, highest first. Authors without any score follow every scored
// author, in the order they were first encountered.
func Rank(prs []*models.PullRequest) []AuthorRank {
	type acc struct {
		rank AuthorRank
		sum  int
	}
	byAuthor := make(map[string]*acc)
	var order []string

	for _, pr := range prs {
		name := pr.AuthorDisplayName
		if name == "" {
			name = UnknownAuthor
		}
		a, ok := byAuthor[name]
		if !ok {
			a = &acc{rank: AuthorRank{Author: name}}
			byAuthor[name] = a
			order = append(order, name)
		}
		a.rank.Total++
		if pr.Status == models.StatusApproved {
			a.rank.ApprovedCount++
		}
		if pr.Score != nil {
			a.rank.ScoredCount++
			a.sum += *pr.Score
		}
	}

	out := make([]AuthorRank, 0, len(order))
	for _, name := range order {
		a := byAuthor[name]
		if a.rank.ScoredCount > 0 {
			avg := math.Round(float64(a.sum)/float64(a.rank.ScoredCount)*10) / 10
			a.rank.AvgScore = &avg
		}
		out = append(out, a.rank)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := out[i].AvgScore, out[j].AvgScore
		switch {
		case ai == nil:
			return false
		case aj == nil:
			return true
		default:
			return *ai > *aj
		}
	})
	return out
}

// Service computes views from the store on every call.
type Service struct {
	store store.Store
}

// NewService creates a Service.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// StatusCounts recounts active pull requests by status.
func (s *Service) StatusCounts(ctx context.Context) ([]StatusCount, error) {
	prs, err := s.store.ListPullRequests(ctx, store.PullRequestFilter{})
	if err != nil {
		return nil, err
	}
	return CountStatuses(prs), nil
}

// Ranking ranks authors over every tracked pull request, archived included.
func (s *Service) Ranking(ctx context.Context) ([]AuthorRank, error) {
	prs, err := s.store.ListPullRequests(ctx, store.PullRequestFilter{IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	return Rank(prs), nil
}

// ProjectHasPullRequests reports whether deleting the project would be refused.
func (s *Service) ProjectHasPullRequests(ctx context.Context, projectID int64) (bool, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return false, err
	}
	return s.store.ProjectHasPullRequests(ctx, projectID)
}
