// Package authz decides whether a caller may perform a privileged action.
// Roles are read from the identity store on every call; nothing carried by
// the request or the session is trusted.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/s/courseLedger/internal/apperr"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
)

// RoleSource is the live identity lookup.
type RoleSource interface {
	User(ctx context.Context, id string) (models.User, error)
}

type Guard struct {
	roles RoleSource
	log   zerolog.Logger
}

func NewGuard(roles RoleSource, log zerolog.Logger) *Guard {
	return &Guard{roles: roles, log: log}
}

// Require returns nil only when callerID exists, is not suspended and holds
// role. Any lookup failure denies.
func (g *Guard) Require(ctx context.Context, callerID string, role uint) error {
	if callerID == "" {
		return apperr.Unauthorizedf("authentication required")
	}
	user, err := g.roles.User(ctx, callerID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			g.log.Error().Err(err).Str("caller", callerID).Msg("role lookup failed, denying")
		}
		return apperr.Unauthorizedf("access denied")
	}
	if user.IsSuspended() {
		return apperr.Unauthorizedf("account suspended")
	}
	if user.RoleID != role {
		return apperr.Unauthorizedf("%s role required", models.RoleName(role))
	}
	return nil
}

// RequireSelf allows the subject to act on its own resources only.
func (g *Guard) RequireSelf(ctx context.Context, callerID, ownerID string) error {
	if callerID == "" {
		return apperr.Unauthorizedf("authentication required")
	}
	if callerID != ownerID {
		return apperr.Unauthorizedf("callers may only act on their own account")
	}
	user, err := g.roles.User(ctx, callerID)
	if err != nil {
		return apperr.Unauthorizedf("access denied")
	}
	if user.IsSuspended() {
		return apperr.Unauthorizedf("account suspended")
	}
	return nil
}

// RoleOf returns the live role of a caller, RoleGuest when unknown.
func (g *Guard) RoleOf(ctx context.Context, callerID string) uint {
	if callerID == "" {
		return models.RoleGuest
	}
	user, err := g.roles.User(ctx, callerID)
	if err != nil || user.IsSuspended() {
		return models.RoleGuest
	}
	return user.RoleID
}

func describeUser(u models.User) string {
	return fmt.Sprintf("role=%s status=%s", models.RoleName(u.RoleID), u.Status)
}
