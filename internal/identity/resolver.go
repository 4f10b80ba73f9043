// Package identity maps GitHub author identities onto local team members.
package identity

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/joescharf/prt/internal/models"
	"github.com/joescharf/prt/internal/store"
)

// Author is the GitHub-side identity of a pull request author.
type Author struct {
	Login       string
	AvatarURL   string
	DisplayName string
}

// Resolver finds or creates the team member for a GitHub login.
type Resolver struct {
	store store.Store
	log   *zap.Logger
}

// NewResolver creates a Resolver. A nil logger disables logging.
func NewResolver(s store.Store, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{store: s, log: log}
}

// Resolve returns the team member for a.Login, creating it with a's profile
// fields when the login has never been seen. Existing profiles are left as is.
// Concurrent calls for the same login converge on one row through the store's
// uniqueness constraint.
func (r *Resolver) Resolve(ctx context.Context, a Author) (*models.TeamMember, error) {
	login := strings.TrimSpace(a.Login)
	if login == "" {
		return nil, errors.New("resolve author: empty github login")
	}

	m, created, err := r.store.EnsureTeamMember(ctx, &models.TeamMember{
		GitHubLogin: login,
		AvatarURL:   a.AvatarURL,
		DisplayName: a.DisplayName,
	})
	if err != nil {
		return nil, err
	}
	if created {
		r.log.Info("team member created", zap.String("login", login), zap.Int64("id", m.ID))
	}
	return m, nil
}
