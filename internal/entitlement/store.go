// Package entitlement grants, revokes and checks learner access to courses.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/s/courseLedger/internal/apperr"
	"github.com/s/courseLedger/internal/audit"
	"github.com/s/courseLedger/internal/authz"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
)

type Store struct {
	store storage.Store
	guard *authz.Guard
	audit *audit.Log
	log   zerolog.Logger
	now   func() time.Time
}

func NewStore(store storage.Store, guard *authz.Guard, auditLog *audit.Log, log zerolog.Logger, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{store: store, guard: guard, audit: auditLog, log: log, now: now}
}

type GrantInput struct {
	CallerID  string
	LearnerID string
	CourseID  string
	Source    models.EntitlementSource
	ExpiresAt *time.Time
}

func (in GrantInput) validate(now time.Time) error {
	if in.LearnerID == "" || in.CourseID == "" {
		return apperr.Validationf("learner_id and course_id are required")
	}
	switch in.Source {
	case models.SourceAdminGrant:
	case models.SourceTrial:
		if in.ExpiresAt == nil {
			return apperr.Validationf("trial access needs an expiry")
		}
	case models.SourcePurchase:
		return apperr.Validationf("purchase access is granted by settlement only")
	default:
		return apperr.Validationf("unknown source %q", in.Source)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return apperr.Validationf("expires_at must be in the future")
	}
	return nil
}

// Grant gives a learner access on behalf of an admin.
func (s *Store) Grant(ctx context.Context, in GrantInput) (models.Entitlement, error) {
	if err := s.guard.Require(ctx, in.CallerID, models.RoleAdmin); err != nil {
		return models.Entitlement{}, err
	}
	now := s.now().UTC()
	if err := in.validate(now); err != nil {
		return models.Entitlement{}, err
	}
	var out models.Entitlement
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		e, err := s.grantIn(ctx, tx, grantSpec{
			actorID:   in.CallerID,
			learnerID: in.LearnerID,
			courseID:  in.CourseID,
			source:    in.Source,
			grantedBy: in.CallerID,
			expiresAt: in.ExpiresAt,
		}, now)
		out = e
		return err
	})
	if err != nil {
		return models.Entitlement{}, apperr.Wrap(err, "grant access")
	}
	s.log.Info().Str("learner", in.LearnerID).Str("course", in.CourseID).Str("source", string(in.Source)).Str("by", in.CallerID).Msg("access granted")
	return out, nil
}

// GrantPurchase is the system path taken after a completed settlement.
// There is no human caller, so no guard runs.
func (s *Store) GrantPurchase(ctx context.Context, learnerID, courseID, settlementID string) (models.Entitlement, error) {
	if learnerID == "" || courseID == "" || settlementID == "" {
		return models.Entitlement{}, apperr.Validationf("learner, course and settlement are required")
	}
	now := s.now().UTC()
	var out models.Entitlement
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		e, err := s.grantIn(ctx, tx, grantSpec{
			actorID:      models.SystemActor,
			learnerID:    learnerID,
			courseID:     courseID,
			source:       models.SourcePurchase,
			settlementID: settlementID,
		}, now)
		out = e
		return err
	})
	if err != nil {
		return models.Entitlement{}, apperr.Wrap(err, "grant purchased access")
	}
	return out, nil
}

type grantSpec struct {
	actorID      string
	learnerID    string
	courseID     string
	source       models.EntitlementSource
	grantedBy    string
	settlementID string
	expiresAt    *time.Time
}

// grantIn writes the entitlement and its course.grant record into tx.
func (s *Store) grantIn(ctx context.Context, tx storage.Tx, spec grantSpec, now time.Time) (models.Entitlement, error) {
	e, refreshed, err := applyGrant(ctx, tx, spec, now)
	if err != nil {
		return models.Entitlement{}, err
	}

	details := fmt.Sprintf("%s access to course %s for learner %s", spec.source, spec.courseID, spec.learnerID)
	if refreshed {
		details += " (refreshed)"
	}
	meta := map[string]any{"entitlement_id": e.ID, "source": spec.source}
	if e.ExpiresAt != nil {
		meta["expires_at"] = e.ExpiresAt.Format(time.RFC3339)
	}
	if spec.settlementID != "" {
		meta["settlement_id"] = spec.settlementID
	}
	_, err = s.audit.Record(ctx, tx, audit.Entry{
		ActorID:    spec.actorID,
		Event:      models.EventCourseGrant,
		TargetType: models.TargetEntitlement,
		TargetID:   audit.TargetKey(spec.learnerID, spec.courseID),
		Details:    details,
		Metadata:   meta,
	})
	return e, err
}

// applyGrant refreshes a live entitlement in place and writes a new record
// for anything else, so history is kept and duplicates are never created.
func applyGrant(ctx context.Context, tx storage.Tx, spec grantSpec, now time.Time) (models.Entitlement, bool, error) {
	current, err := tx.CurrentEntitlement(ctx, spec.learnerID, spec.courseID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return models.Entitlement{}, false, err
	}

	if err == nil && current.IsActive(now) {
		e := current
		e.GrantedAt = now
		e.ExpiresAt = models.LaterExpiry(current.ExpiresAt, spec.expiresAt)
		switch {
		case spec.source == models.SourcePurchase:
			e.Source = models.SourcePurchase
			e.SettlementID = spec.settlementID
			e.GrantedBy = ""
		case current.Source != models.SourcePurchase:
			// purchase provenance survives an admin refresh
			e.Source = spec.source
			e.GrantedBy = spec.grantedBy
		}
		if err := tx.UpdateEntitlement(ctx, &e); err != nil {
			return models.Entitlement{}, false, err
		}
		return e, true, nil
	}

	e := models.Entitlement{
		ID:           uuid.NewString(),
		LearnerID:    spec.learnerID,
		CourseID:     spec.courseID,
		Status:       models.EntitlementActive,
		Source:       spec.source,
		GrantedAt:    now,
		ExpiresAt:    spec.expiresAt,
		GrantedBy:    spec.grantedBy,
		SettlementID: spec.settlementID,
		CreatedAt:    now,
	}
	if err := tx.CreateEntitlement(ctx, &e); err != nil {
		return models.Entitlement{}, false, err
	}
	return e, false, nil
}

// Revoke removes access. Revoking an already revoked entitlement succeeds
// without writing anything.
func (s *Store) Revoke(ctx context.Context, callerID, learnerID, courseID string) error {
	if err := s.guard.Require(ctx, callerID, models.RoleAdmin); err != nil {
		return err
	}
	now := s.now().UTC()
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		changed, err := s.RevokeIn(ctx, tx, callerID, learnerID, courseID, now)
		if err != nil || !changed {
			return err
		}
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			ActorID:    callerID,
			Event:      models.EventCourseRevoke,
			TargetType: models.TargetEntitlement,
			TargetID:   audit.TargetKey(learnerID, courseID),
			Details:    fmt.Sprintf("access to course %s revoked for learner %s", courseID, learnerID),
		})
		return err
	})
	if err != nil {
		return apperr.Wrap(err, "revoke access")
	}
	return nil
}

// RevokeIn marks the current entitlement revoked inside tx without writing
// an audit record; the caller audits the enclosing action. It reports
// whether anything changed.
func (s *Store) RevokeIn(ctx context.Context, tx storage.Tx, actorID, learnerID, courseID string, now time.Time) (bool, error) {
	current, err := tx.CurrentEntitlement(ctx, learnerID, courseID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, apperr.NotFoundf("no entitlement for learner %s on course %s", learnerID, courseID)
	}
	if err != nil {
		return false, err
	}
	if current.Status == models.EntitlementRevoked {
		return false, nil
	}
	current.Status = models.EntitlementRevoked
	current.RevokedBy = actorID
	current.RevokedAt = &now
	if err := tx.UpdateEntitlement(ctx, &current); err != nil {
		return false, err
	}
	return true, nil
}

// RevokePurchaseIn revokes the current entitlement inside tx only when it
// was bought by settlementID. Access granted by an admin or paid for by a
// later settlement is left alone.
func (s *Store) RevokePurchaseIn(ctx context.Context, tx storage.Tx, actorID, learnerID, courseID, settlementID string, now time.Time) (bool, error) {
	current, err := tx.CurrentEntitlement(ctx, learnerID, courseID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if current.Source != models.SourcePurchase || current.SettlementID != settlementID {
		s.log.Info().Str("learner", learnerID).Str("course", courseID).
			Str("settlement", settlementID).Str("current_settlement", current.SettlementID).
			Msg("refunded payment no longer backs the current access, keeping it")
		return false, nil
	}
	return s.RevokeIn(ctx, tx, actorID, learnerID, courseID, now)
}

// IsActive is a plain read with lazy expiry applied.
func (s *Store) IsActive(ctx context.Context, learnerID, courseID string) (bool, error) {
	current, err := s.store.CurrentEntitlement(ctx, learnerID, courseID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(err, "check access")
	}
	return current.IsActive(s.now()), nil
}

// Current returns the newest entitlement with its effective status.
func (s *Store) Current(ctx context.Context, learnerID, courseID string) (models.Entitlement, error) {
	current, err := s.store.CurrentEntitlement(ctx, learnerID, courseID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Entitlement{}, apperr.NotFoundf("no entitlement for learner %s on course %s", learnerID, courseID)
	}
	if err != nil {
		return models.Entitlement{}, apperr.Wrap(err, "load entitlement")
	}
	return current.AsOf(s.now()), nil
}

// ListForLearner returns the current entitlement of every course the
// learner ever had access to.
func (s *Store) ListForLearner(ctx context.Context, learnerID string) ([]models.Entitlement, error) {
	items, err := s.store.LearnerEntitlements(ctx, learnerID)
	if err != nil {
		return nil, apperr.Wrap(err, "list entitlements")
	}
	now := s.now()
	for i := range items {
		items[i] = items[i].AsOf(now)
	}
	return items, nil
}
