// Package admin is the JSON API behind the admin dashboard.
package admin

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/s/courseLedger/internal/entitlement"
	"github.com/s/courseLedger/internal/handlers"
	"github.com/s/courseLedger/internal/models"
)

type Service struct {
	*handlers.Handler
}

func (s *Service) caller(r *http.Request) string {
	id, _ := s.GetAuthenticatedUserID(r)
	return id
}

func (s *Service) GrantAccessAPI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LearnerID string                   `json:"learner_id"`
		CourseID  string                   `json:"course_id"`
		Source    models.EntitlementSource `json:"source"`
		ExpiresAt *time.Time               `json:"expires_at"`
	}
	if !s.Decode(w, r, &req) {
		return
	}
	if req.Source == "" {
		req.Source = models.SourceAdminGrant
	}
	e, err := s.Entitlements.Grant(r.Context(), entitlement.GrantInput{
		CallerID:  s.caller(r),
		LearnerID: req.LearnerID,
		CourseID:  req.CourseID,
		Source:    req.Source,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, e)
}

func (s *Service) BulkGrantAPI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []entitlement.BulkGrant `json:"items"`
	}
	if !s.Decode(w, r, &req) {
		return
	}
	res, err := s.Entitlements.GrantBulk(r.Context(), s.Batch, s.caller(r), req.Items)
	if err != nil {
		// Группы до ошибки уже записаны; повторный запуск их только обновит
		if res.Committed > 0 {
			s.Log.Warn().Err(err).Int("committed", res.Committed).Msg("bulk grant partially applied, safe to re-run")
		}
		s.Error(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, res)
}

func (s *Service) RevokeAccessAPI(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.Entitlements.Revoke(r.Context(), s.caller(r), vars["learnerId"], vars["courseId"]); err != nil {
		s.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) UpdateUserStatusAPI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.UserStatus `json:"status"`
	}
	if !s.Decode(w, r, &req) {
		return
	}
	user, err := s.Users.SetStatus(r.Context(), s.caller(r), mux.Vars(r)["id"], req.Status)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, user)
}

func (s *Service) UpdateUserRoleAPI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoleID uint `json:"role_id"`
	}
	if !s.Decode(w, r, &req) {
		return
	}
	user, err := s.Users.SetRole(r.Context(), s.caller(r), mux.Vars(r)["id"], req.RoleID)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, user)
}
