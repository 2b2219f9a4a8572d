// Package storagetest holds fixtures shared by package tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
)

const (
	AdminID      = "admin-1"
	LearnerID    = "learner-1"
	InstructorID = "instructor-1"
)

// Clock is a settable time source.
type Clock struct {
	T time.Time
}

func NewClock() *Clock {
	return &Clock{T: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time { return c.T }

func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// NewStore returns a memory store with an admin, a learner and an
// instructor.
func NewStore(t testing.TB) *storage.MemoryStore {
	t.Helper()
	st := storage.NewMemoryStore()
	SeedUser(t, st, AdminID, models.RoleAdmin)
	SeedUser(t, st, LearnerID, models.RoleLearner)
	SeedUser(t, st, InstructorID, models.RoleInstructor)
	return st
}

func SeedUser(t testing.TB, st storage.Store, id string, role uint) {
	t.Helper()
	err := st.Atomic(context.Background(), func(tx storage.Tx) error {
		return tx.SaveUser(context.Background(), &models.User{
			ID:     id,
			Email:  id + "@example.com",
			Name:   id,
			RoleID: role,
			Status: models.UserStatusActive,
		})
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func SeedPromo(t testing.TB, st storage.Store, promo models.PromoCode) {
	t.Helper()
	err := st.Atomic(context.Background(), func(tx storage.Tx) error {
		return tx.SavePromoCode(context.Background(), &promo)
	})
	if err != nil {
		t.Fatalf("seed promo %s: %v", promo.Code, err)
	}
}

// Audit returns every audit record of event, newest first.
func Audit(t testing.TB, st storage.Reader, event models.AuditEvent) []models.AuditRecord {
	t.Helper()
	recs, err := st.AuditRecords(context.Background(), storage.AuditFilter{EventType: event})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	return recs
}
