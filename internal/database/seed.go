package database

import (
	"context"
	"errors"
	"time"

	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
	"gorm.io/gorm"
)

func Seed(db *gorm.DB) error {
	for _, id := range []uint{models.RoleLearner, models.RoleAdmin, models.RoleInstructor} {
		if err := db.FirstOrCreate(&models.Role{}, models.Role{ID: id, Name: models.RoleName(id)}).Error; err != nil {
			return err
		}
	}
	return nil
}

// DemoPromos are created on first start and left alone afterwards.
var DemoPromos = []models.PromoCode{
	{Code: "AFRIQUE50", DiscountPercent: 50, IsActive: true},
	{Code: "WELCOME10", DiscountPercent: 10, IsActive: true},
}

// SeedPromos inserts the demo codes that do not exist yet.
func SeedPromos(ctx context.Context, st storage.Store, now time.Time) (int, error) {
	created := 0
	err := st.Atomic(ctx, func(tx storage.Tx) error {
		for _, p := range DemoPromos {
			_, err := tx.PromoCode(ctx, p.Code)
			if err == nil {
				continue
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			p.CreatedAt, p.UpdatedAt, p.UpdatedBy = now, now, models.SystemActor
			if err := tx.SavePromoCode(ctx, &p); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	return created, err
}
