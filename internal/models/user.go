package models

import "time"

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// User is the identity/role source consulted by the authorization guard.
type User struct {
	ID        string     `gorm:"primaryKey;size:128" json:"id"`
	GoogleID  string     `gorm:"index;size:128" json:"-"`
	Email     string     `gorm:"uniqueIndex;size:255" json:"email"`
	Name      string     `json:"name"`
	Picture   string     `json:"picture"`
	RoleID    uint       `json:"role_id"`
	Status    UserStatus `gorm:"size:16;default:active" json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Role Role `gorm:"foreignKey:RoleID" json:"-"`
}

func (u User) IsSuspended() bool {
	return u.Status == UserStatusSuspended
}
