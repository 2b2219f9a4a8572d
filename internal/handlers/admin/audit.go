package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/s/courseLedger/internal/apperr"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
)

// AuditAPI lists the audit trail, newest first. Filters: actor, event,
// target, since (RFC3339), limit.
func (s *Service) AuditAPI(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.AuditFilter{
		ActorID:   q.Get("actor"),
		EventType: models.AuditEvent(q.Get("event")),
		TargetID:  q.Get("target"),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.Error(w, r, apperr.Validationf("since must be an RFC3339 timestamp"))
			return
		}
		filter.Since = t
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	recs, err := s.AuditReader.List(r.Context(), s.caller(r), filter)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, map[string]any{"records": recs})
}
