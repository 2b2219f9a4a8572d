package models

import (
	"strings"
	"time"
)

// PromoCode is keyed by its normalized (uppercased) code.
type PromoCode struct {
	Code            string     `gorm:"primaryKey;size:64" json:"code"`
	DiscountPercent int        `gorm:"not null" json:"discount_percent"`
	IsActive        bool       `json:"is_active"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	UpdatedBy       string     `gorm:"size:128" json:"updated_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Usable reports whether the code can be applied at now.
func (p PromoCode) Usable(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	return p.ExpiresAt == nil || now.Before(*p.ExpiresAt)
}
