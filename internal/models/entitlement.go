package models

import "time"

type EntitlementStatus string

const (
	EntitlementActive  EntitlementStatus = "active"
	EntitlementExpired EntitlementStatus = "expired"
	EntitlementRevoked EntitlementStatus = "revoked"
)

type EntitlementSource string

const (
	SourcePurchase   EntitlementSource = "purchase"
	SourceAdminGrant EntitlementSource = "admin_grant"
	SourceTrial      EntitlementSource = "trial"
)

func (s EntitlementSource) Valid() bool {
	switch s {
	case SourcePurchase, SourceAdminGrant, SourceTrial:
		return true
	}
	return false
}

// Entitlement (access of a learner to a course). Records are never deleted:
// a re-grant after revoke or expiry writes a new row and the newest row for
// the (learner, course) pair is the current one.
type Entitlement struct {
	ID           string            `gorm:"primaryKey;size:36" json:"id"`
	LearnerID    string            `gorm:"index:idx_entitlement_pair;size:128;not null" json:"learner_id"`
	CourseID     string            `gorm:"index:idx_entitlement_pair;size:128;not null" json:"course_id"`
	Status       EntitlementStatus `gorm:"size:16;not null" json:"status"`
	Source       EntitlementSource `gorm:"size:16;not null" json:"source"`
	GrantedAt    time.Time         `json:"granted_at"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	GrantedBy    string            `gorm:"size:128" json:"granted_by,omitempty"`
	SettlementID string            `gorm:"size:36" json:"settlement_id,omitempty"`
	RevokedBy    string            `gorm:"size:128" json:"revoked_by,omitempty"`
	RevokedAt    *time.Time        `json:"revoked_at,omitempty"`
	CreatedAt    time.Time         `gorm:"index" json:"created_at"`

	// Written by the progress tracker, never by the ledger.
	ProgressPercent int `gorm:"->;default:0" json:"progress_percent"`
}

// EffectiveStatus applies lazy expiry: an active record whose expiry has
// passed reads as expired whatever the stored status says.
func (e Entitlement) EffectiveStatus(now time.Time) EntitlementStatus {
	if e.Status == EntitlementActive && e.ExpiresAt != nil && !now.Before(*e.ExpiresAt) {
		return EntitlementExpired
	}
	return e.Status
}

func (e Entitlement) IsActive(now time.Time) bool {
	return e.EffectiveStatus(now) == EntitlementActive
}

// AsOf returns a copy with Status replaced by the effective status.
func (e Entitlement) AsOf(now time.Time) Entitlement {
	e.Status = e.EffectiveStatus(now)
	return e
}

// LaterExpiry picks the expiry that grants the longer access; nil means
// no expiry at all.
func LaterExpiry(a, b *time.Time) *time.Time {
	if a == nil || b == nil {
		return nil
	}
	if a.After(*b) {
		return a
	}
	return b
}
