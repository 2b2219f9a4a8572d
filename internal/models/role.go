package models

type Role struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex"`

	Users []User
}

// RoleID values stored on User.RoleID and checked by the authorization guard.
const (
	RoleGuest      uint = 0
	RoleLearner    uint = 1
	RoleAdmin      uint = 2
	RoleInstructor uint = 3
)

// RoleName returns the seeded name of a role id.
func RoleName(id uint) string {
	switch id {
	case RoleLearner:
		return "Learner"
	case RoleAdmin:
		return "Admin"
	case RoleInstructor:
		return "Instructor"
	default:
		return "Guest"
	}
}
