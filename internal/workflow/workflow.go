// Package workflow applies review status transitions to tracked pull requests.
package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/joescharf/prt/internal/models"
	"github.com/joescharf/prt/internal/store"
)

// edges lists the allowed targets for each status. Archived is terminal.
var edges = map[models.Status][]models.Status{
	models.StatusWaiting:   {models.StatusReviewing, models.StatusApproved, models.StatusArchived},
	models.StatusReviewing: {models.StatusAction, models.StatusApproved, models.StatusArchived},
	models.StatusAction:    {models.StatusApproved, models.StatusArchived},
	models.StatusApproved:  {models.StatusApproved, models.StatusArchived},
	models.StatusArchived:  nil,
}

// ValidateTransition reports whether from -> to is an allowed edge.
func ValidateTransition(from, to models.Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", models.ErrInvalidTransition, to)
	}
	targets, ok := edges[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", models.ErrInvalidTransition, from)
	}
	for _, t := range targets {
		if t == to {
			return nil
		}
	}
	if from == models.StatusArchived {
		return fmt.Errorf("%w: %s is terminal", models.ErrInvalidTransition, from)
	}
	return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
}

// Targets returns the statuses reachable from from.
func Targets(from models.Status) []models.Status {
	return append([]models.Status(nil), edges[from]...)
}

// ValidateScore checks the approval score range.
func ValidateScore(score int) error {
	if score < models.MinScore || score > models.MaxScore {
		return fmt.Errorf("%w: %d is outside %d-%d", models.ErrInvalidScore, score, models.MinScore, models.MaxScore)
	}
	return nil
}

// Engine validates and applies workflow changes.
type Engine struct {
	store store.Store
	log   *zap.Logger
}

// New creates an Engine. A nil logger disables logging.
func New(s store.Store, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: s, log: log}
}

// Transition moves a pull request to status to. Entering Approved needs a
// score, so it only succeeds here as a rescore of an already approved pull
// request that keeps its score; use ApproveWithScore otherwise.
func (e *Engine) Transition(ctx context.Context, prID int64, to models.Status) (*models.PullRequest, error) {
	var out *models.PullRequest
	err := e.store.WithTx(ctx, func(tx store.Store) error {
		pr, err := tx.GetPullRequest(ctx, prID)
		if err != nil {
			return err
		}
		if err := ValidateTransition(pr.Status, to); err != nil {
			return err
		}
		if to == models.StatusApproved && pr.Score == nil {
			return fmt.Errorf("%w: approving requires a score", models.ErrInvalidScore)
		}

		if err := tx.SetStatus(ctx, prID, to); err != nil {
			return err
		}
		if _, err := tx.AppendReviewHistory(ctx, prID, transitionLabel(pr.Status, to)); err != nil {
			return err
		}

		out, err = tx.GetPullRequest(ctx, prID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("status changed", zap.Int64("pr", prID), zap.String("to", string(to)))
	return out, nil
}

// Archive is Transition to Archived.
func (e *Engine) Archive(ctx context.Context, prID int64) (*models.PullRequest, error) {
	return e.Transition(ctx, prID, models.StatusArchived)
}

// ApproveWithScore sets status Approved and the score together. Calling it on
// an approved pull request rescores it.
func (e *Engine) ApproveWithScore(ctx context.Context, prID int64, score int) (*models.PullRequest, error) {
	if err := ValidateScore(score); err != nil {
		return nil, err
	}

	var out *models.PullRequest
	err := e.store.WithTx(ctx, func(tx store.Store) error {
		pr, err := tx.GetPullRequest(ctx, prID)
		if err != nil {
			return err
		}
		if err := ValidateTransition(pr.Status, models.StatusApproved); err != nil {
			return err
		}

		if err := tx.SetStatus(ctx, prID, models.StatusApproved); err != nil {
			return err
		}
		if err := tx.SetScore(ctx, prID, &score); err != nil {
			return err
		}
		label := fmt.Sprintf("%s (score %d)", transitionLabel(pr.Status, models.StatusApproved), score)
		if pr.Status == models.StatusApproved {
			label = fmt.Sprintf("Rescored %d -> %d", derefScore(pr.Score), score)
		}
		if _, err := tx.AppendReviewHistory(ctx, prID, label); err != nil {
			return err
		}

		out, err = tx.GetPullRequest(ctx, prID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("pull request approved", zap.Int64("pr", prID), zap.Int("score", score))
	return out, nil
}

// AssignProject moves a pull request to another project. A nil projectID
// unassigns it.
func (e *Engine) AssignProject(ctx context.Context, prID int64, projectID *int64) (*models.PullRequest, error) {
	var out *models.PullRequest
	err := e.store.WithTx(ctx, func(tx store.Store) error {
		pr, err := tx.GetPullRequest(ctx, prID)
		if err != nil {
			return err
		}
		label := "Unassigned from project"
		if projectID != nil {
			p, err := tx.GetProject(ctx, *projectID)
			if err != nil {
				return err
			}
			label = "Assigned to " + p.Name
		}
		if sameProject(pr.ProjectID, projectID) {
			out = pr
			return nil
		}

		if err := tx.AssignProject(ctx, prID, projectID); err != nil {
			return err
		}
		if _, err := tx.AppendReviewHistory(ctx, prID, label); err != nil {
			return err
		}

		out, err = tx.GetPullRequest(ctx, prID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func transitionLabel(from, to models.Status) string {
	if from == to {
		return string(to)
	}
	return fmt.Sprintf("%s -> %s", from, to)
}

func derefScore(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func sameProject(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
