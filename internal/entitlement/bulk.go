package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/s/courseLedger/internal/apperr"
	"github.com/s/courseLedger/internal/audit"
	"github.com/s/courseLedger/internal/batch"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
)

type BulkGrant struct {
	LearnerID string     `json:"learner_id"`
	CourseID  string     `json:"course_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type BulkResult struct {
	Requested int `json:"requested"`
	Committed int `json:"committed"`
}

// GrantBulk migrates many admin grants through the batch coordinator.
// Every item is an idempotent grant, so re-running the same input after a
// partial failure converges. Each committed group carries one course.grant
// audit record describing that group.
func (s *Store) GrantBulk(ctx context.Context, coord *batch.Coordinator, callerID string, items []BulkGrant) (BulkResult, error) {
	if err := s.guard.Require(ctx, callerID, models.RoleAdmin); err != nil {
		return BulkResult{}, err
	}
	if len(items) == 0 {
		return BulkResult{}, apperr.Validationf("no items to grant")
	}
	now := s.now().UTC()
	for i, item := range items {
		in := GrantInput{LearnerID: item.LearnerID, CourseID: item.CourseID, Source: models.SourceAdminGrant, ExpiresAt: item.ExpiresAt}
		if err := in.validate(now); err != nil {
			return BulkResult{}, apperr.Validationf("item %d: %s", i, apperr.From(err).Message)
		}
	}

	// One slot per group is taken by the audit record.
	committed, err := batch.Run(ctx, coord.Reserve(1), items, func(ctx context.Context, tx storage.Tx, group []BulkGrant) error {
		return s.grantGroup(ctx, tx, callerID, group, now)
	})
	res := BulkResult{Requested: len(items), Committed: committed}
	if err != nil {
		s.log.Warn().Err(err).Int("committed", res.Committed).Int("requested", res.Requested).Msg("bulk grant stopped early")
		return res, apperr.Wrap(err, "bulk grant")
	}
	s.log.Info().Int("granted", committed).Str("by", callerID).Msg("bulk grant finished")
	return res, nil
}

func (s *Store) grantGroup(ctx context.Context, tx storage.Tx, callerID string, group []BulkGrant, now time.Time) error {
	refreshed := 0
	for _, item := range group {
		_, wasLive, err := applyGrant(ctx, tx, grantSpec{
			actorID:   callerID,
			learnerID: item.LearnerID,
			courseID:  item.CourseID,
			source:    models.SourceAdminGrant,
			grantedBy: callerID,
			expiresAt: item.ExpiresAt,
		}, now)
		if err != nil {
			return err
		}
		if wasLive {
			refreshed++
		}
	}
	first := group[0]
	_, err := s.audit.Record(ctx, tx, audit.Entry{
		ActorID:    callerID,
		Event:      models.EventCourseGrant,
		TargetType: models.TargetEntitlement,
		TargetID:   audit.TargetKey(first.LearnerID, first.CourseID),
		Details:    fmt.Sprintf("bulk admin grant of %d entitlements (%d refreshed)", len(group), refreshed),
		Metadata:   map[string]any{"count": len(group), "refreshed": refreshed, "items": group},
	})
	return err
}
