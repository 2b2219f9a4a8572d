package database

import (
	"github.com/s/courseLedger/internal/models"
	"gorm.io/gorm"
)

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Role{},
		&models.User{},
		&models.Entitlement{},
		&models.Settlement{},
		&models.PromoCode{},
		&models.PayoutRequest{},
		&models.AuditRecord{},
	)
}
