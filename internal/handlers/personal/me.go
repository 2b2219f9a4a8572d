// Package personal serves the logged-in user's own ledger data.
package personal

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/s/courseLedger/internal/handlers"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
)

type Service struct {
	*handlers.Handler
}

func (s *Service) MyEntitlementsAPI(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.GetAuthenticatedUserID(r)
	items, err := s.Entitlements.ListForLearner(r.Context(), userID)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	if items == nil {
		items = []models.Entitlement{}
	}
	s.JSON(w, http.StatusOK, map[string]any{"entitlements": items})
}

func (s *Service) CourseAccessAPI(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.GetAuthenticatedUserID(r)
	courseID := mux.Vars(r)["courseId"]
	active, err := s.Entitlements.IsActive(r.Context(), userID, courseID)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, map[string]any{"course_id": courseID, "active": active})
}

func (s *Service) MyPayoutsAPI(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.GetAuthenticatedUserID(r)
	filter := storage.PayoutFilter{Status: models.PayoutStatus(r.URL.Query().Get("status"))}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		filter.Limit = limit
	}
	items, err := s.Payouts.List(r.Context(), userID, filter)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, map[string]any{"payouts": items})
}

func (s *Service) MyBalanceAPI(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.GetAuthenticatedUserID(r)
	currency := r.URL.Query().Get("currency")
	balance, err := s.Ledger.Balance(r.Context(), userID, currency)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, map[string]any{"balance": balance, "currency": currency})
}
