// Package storage defines the persistence contract of the ledger and ships
// two backends: GormStore (PostgreSQL) and MemoryStore.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/s/courseLedger/internal/models"
)

// DefaultMaxOpsPerGroup is the provider ceiling of writes per atomic group.
const DefaultMaxOpsPerGroup = 500

var (
	ErrNotFound = errors.New("record not found")
	// ErrStale is returned by conditional updates whose precondition no
	// longer holds because another writer got there first.
	ErrStale = errors.New("record changed concurrently")
)

type SettlementFilter struct {
	InstructorID string
	LearnerID    string
	Status       models.SettlementStatus
	Suspicious   *bool
	Reviewed     *bool
	Limit        int
}

type PayoutFilter struct {
	InstructorID string
	Status       models.PayoutStatus
	Limit        int
}

type AuditFilter struct {
	ActorID   string
	EventType models.AuditEvent
	TargetID  string
	Since     time.Time
	Limit     int
}

// Reader is the read side shared by the store and its transactions.
type Reader interface {
	User(ctx context.Context, id string) (models.User, error)
	UserByGoogleID(ctx context.Context, googleID string) (models.User, error)
	CurrentEntitlement(ctx context.Context, learnerID, courseID string) (models.Entitlement, error)
	EntitlementHistory(ctx context.Context, learnerID, courseID string) ([]models.Entitlement, error)
	LearnerEntitlements(ctx context.Context, learnerID string) ([]models.Entitlement, error)
	Settlement(ctx context.Context, id string) (models.Settlement, error)
	Settlements(ctx context.Context, filter SettlementFilter) ([]models.Settlement, error)
	PromoCode(ctx context.Context, code string) (models.PromoCode, error)
	Payout(ctx context.Context, id string) (models.PayoutRequest, error)
	Payouts(ctx context.Context, filter PayoutFilter) ([]models.PayoutRequest, error)
	AuditRecords(ctx context.Context, filter AuditFilter) ([]models.AuditRecord, error)
}

// Writer holds every mutation. It is only reachable inside Atomic.
type Writer interface {
	SaveUser(ctx context.Context, user *models.User) error
	CreateEntitlement(ctx context.Context, e *models.Entitlement) error
	UpdateEntitlement(ctx context.Context, e *models.Entitlement) error
	CreateSettlement(ctx context.Context, s *models.Settlement) error
	// TransitionSettlement moves id from -> to and returns ErrStale when the
	// stored status is not from.
	TransitionSettlement(ctx context.Context, id string, from, to models.SettlementStatus, providerTxID string, at time.Time) error
	UpdateFraudReview(ctx context.Context, id string, review models.FraudReview, at time.Time) error
	SavePromoCode(ctx context.Context, p *models.PromoCode) error
	CreatePayout(ctx context.Context, p *models.PayoutRequest) error
	// DecidePayout moves a pending request to status and returns ErrStale
	// when it is no longer pending.
	DecidePayout(ctx context.Context, id string, status models.PayoutStatus, decidedBy, note string, at time.Time) error
	AppendAudit(ctx context.Context, rec *models.AuditRecord) error
}

// Tx is the handle given to an atomic group.
type Tx interface {
	Reader
	Writer
}

// Store is what services depend on. Every write goes through Atomic; all
// writes made by fn commit together or not at all.
type Store interface {
	Reader
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}
