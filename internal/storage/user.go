package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/s/courseLedger/internal/models"
)

// SaveLoginUser finds a user by Google ID; if found, it refreshes the
// profile fields, otherwise it creates a learner. Role and status are never
// touched here: they are managed by admins only.
func SaveLoginUser(ctx context.Context, st Store, info models.User, now time.Time) (string, error) {
	var id string
	err := st.Atomic(ctx, func(tx Tx) error {
		existing, err := tx.UserByGoogleID(ctx, info.GoogleID)
		switch {
		case err == nil:
			existing.Email = info.Email
			existing.Name = info.Name
			existing.Picture = info.Picture
			existing.UpdatedAt = now
			id = existing.ID
			return tx.SaveUser(ctx, &existing)
		case errors.Is(err, ErrNotFound):
			user := models.User{
				ID:        uuid.NewString(),
				GoogleID:  info.GoogleID,
				Email:     info.Email,
				Name:      info.Name,
				Picture:   info.Picture,
				RoleID:    models.RoleLearner,
				Status:    models.UserStatusActive,
				CreatedAt: now,
				UpdatedAt: now,
			}
			id = user.ID
			return tx.SaveUser(ctx, &user)
		default:
			return err
		}
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
