// Package audit writes and reads the append-only administrative trail.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/s/courseLedger/internal/apperr"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
	"gorm.io/datatypes"
)

// Entry is one logical privileged action.
type Entry struct {
	ActorID    string
	Event      models.AuditEvent
	TargetType models.AuditTarget
	TargetID   string
	Details    string
	Metadata   map[string]any
}

type Log struct {
	now func() time.Time
}

func New(now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{now: now}
}

// Record appends entry inside the caller's atomic group so the audit row
// commits or rolls back together with the mutation it describes.
func (l *Log) Record(ctx context.Context, tx storage.Tx, entry Entry) (models.AuditRecord, error) {
	if entry.ActorID == "" || entry.TargetID == "" {
		return models.AuditRecord{}, fmt.Errorf("audit entry %s needs actor and target", entry.Event)
	}
	if !entry.Event.Known() {
		return models.AuditRecord{}, fmt.Errorf("unknown audit event %q", entry.Event)
	}
	rec := models.AuditRecord{
		ID:         uuid.NewString(),
		ActorID:    entry.ActorID,
		EventType:  entry.Event,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		Details:    entry.Details,
		CreatedAt:  l.now().UTC(),
	}
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return models.AuditRecord{}, fmt.Errorf("encode audit metadata: %w", err)
		}
		rec.Metadata = datatypes.JSON(raw)
	}
	if err := tx.AppendAudit(ctx, &rec); err != nil {
		return models.AuditRecord{}, err
	}
	return rec, nil
}

// Guard is the slice of authz.Guard the reader needs.
type Guard interface {
	Require(ctx context.Context, callerID string, role uint) error
}

// Reader serves the admin audit screen.
type Reader struct {
	store storage.Reader
	guard Guard
}

func NewReader(store storage.Reader, guard Guard) *Reader {
	return &Reader{store: store, guard: guard}
}

const maxListLimit = 500

func (r *Reader) List(ctx context.Context, callerID string, filter storage.AuditFilter) ([]models.AuditRecord, error) {
	if err := r.guard.Require(ctx, callerID, models.RoleAdmin); err != nil {
		return nil, err
	}
	if filter.EventType != "" && !filter.EventType.Known() {
		return nil, apperr.Validationf("unknown event type %q", filter.EventType)
	}
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	recs, err := r.store.AuditRecords(ctx, filter)
	if err != nil {
		return nil, apperr.Wrap(err, "list audit records")
	}
	return recs, nil
}

// TargetKey is the composite target id of an entitlement.
func TargetKey(learnerID, courseID string) string {
	return learnerID + ":" + courseID
}
