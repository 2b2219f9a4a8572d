package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AuditEvent string

const (
	EventUserStatusUpdate AuditEvent = "user.status.update"
	EventCourseGrant      AuditEvent = "course.grant"
	EventCourseRevoke     AuditEvent = "course.revoke"
	EventPayoutProcess    AuditEvent = "payout.process"
	EventSecurityResolve  AuditEvent = "security.resolve"
	EventPaymentRefund    AuditEvent = "payment.refund"
	EventPaymentReconcile AuditEvent = "payment.reconcile"
	// Reserved: promo toggles are not audited today.
	EventPromoToggle AuditEvent = "promo.toggle"
)

func (e AuditEvent) Known() bool {
	switch e {
	case EventUserStatusUpdate, EventCourseGrant, EventCourseRevoke, EventPayoutProcess,
		EventSecurityResolve, EventPaymentRefund, EventPaymentReconcile, EventPromoToggle:
		return true
	}
	return false
}

type AuditTarget string

const (
	TargetUser        AuditTarget = "user"
	TargetEntitlement AuditTarget = "entitlement"
	TargetSettlement  AuditTarget = "settlement"
	TargetPayout      AuditTarget = "payout"
	TargetPromo       AuditTarget = "promo"
)

// SystemActor is the actor id of machine-originated records.
const SystemActor = "system"

var ErrAuditImmutable = errors.New("audit records are append-only")

// AuditRecord is one privileged action. Rows are inserted once and never
// touched again.
type AuditRecord struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	ActorID    string         `gorm:"index;size:128;not null" json:"actor_id"`
	EventType  AuditEvent     `gorm:"index;size:32;not null" json:"event_type"`
	TargetType AuditTarget    `gorm:"size:16;not null" json:"target_type"`
	TargetID   string         `gorm:"index;size:300;not null" json:"target_id"`
	Details    string         `json:"details"`
	Metadata   datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"timestamp"`
}

func (AuditRecord) TableName() string { return "audit_log" }

func (AuditRecord) BeforeUpdate(*gorm.DB) error { return ErrAuditImmutable }

func (AuditRecord) BeforeDelete(*gorm.DB) error { return ErrAuditImmutable }
