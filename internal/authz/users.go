package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/s/courseLedger/internal/apperr"
	"github.com/s/courseLedger/internal/audit"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
)

// Users lets admins change the status and role the guard reads.
type Users struct {
	store storage.Store
	guard *Guard
	audit *audit.Log
	now   func() time.Time
}

func NewUsers(store storage.Store, guard *Guard, auditLog *audit.Log, now func() time.Time) *Users {
	if now == nil {
		now = time.Now
	}
	return &Users{store: store, guard: guard, audit: auditLog, now: now}
}

func (u *Users) SetStatus(ctx context.Context, callerID, userID string, status models.UserStatus) (models.User, error) {
	if err := u.guard.Require(ctx, callerID, models.RoleAdmin); err != nil {
		return models.User{}, err
	}
	if status != models.UserStatusActive && status != models.UserStatusSuspended {
		return models.User{}, apperr.Validationf("unknown user status %q", status)
	}
	if callerID == userID && status == models.UserStatusSuspended {
		return models.User{}, apperr.Validationf("admins cannot suspend themselves")
	}
	return u.update(ctx, callerID, userID, func(user *models.User) string {
		before := user.Status
		user.Status = status
		return fmt.Sprintf("status %s -> %s", before, status)
	})
}

func (u *Users) SetRole(ctx context.Context, callerID, userID string, role uint) (models.User, error) {
	if err := u.guard.Require(ctx, callerID, models.RoleAdmin); err != nil {
		return models.User{}, err
	}
	switch role {
	case models.RoleLearner, models.RoleAdmin, models.RoleInstructor:
	default:
		return models.User{}, apperr.Validationf("unknown role %d", role)
	}
	if callerID == userID && role != models.RoleAdmin {
		return models.User{}, apperr.Validationf("admins cannot demote themselves")
	}
	return u.update(ctx, callerID, userID, func(user *models.User) string {
		before := user.RoleID
		user.RoleID = role
		return fmt.Sprintf("role %s -> %s", models.RoleName(before), models.RoleName(role))
	})
}

func (u *Users) update(ctx context.Context, callerID, userID string, mutate func(*models.User) string) (models.User, error) {
	var out models.User
	err := u.store.Atomic(ctx, func(tx storage.Tx) error {
		user, err := tx.User(ctx, userID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.NotFoundf("user %s not found", userID)
			}
			return err
		}
		change := mutate(&user)
		user.UpdatedAt = u.now().UTC()
		if err := tx.SaveUser(ctx, &user); err != nil {
			return err
		}
		_, err = u.audit.Record(ctx, tx, audit.Entry{
			ActorID:    callerID,
			Event:      models.EventUserStatusUpdate,
			TargetType: models.TargetUser,
			TargetID:   userID,
			Details:    change,
			Metadata:   map[string]any{"now": describeUser(user)},
		})
		out = user
		return err
	})
	if err != nil {
		return models.User{}, apperr.Wrap(err, "update user")
	}
	return out, nil
}
