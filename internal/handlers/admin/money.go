package admin

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/promotion"
	"github.com/s/courseLedger/internal/storage"
)

func (s *Service) RefundAPI(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Ledger.Refund(r.Context(), mux.Vars(r)["id"], s.caller(r))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, rec)
}

func (s *Service) ResolveFraudAPI(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Ledger.ResolveFraud(r.Context(), mux.Vars(r)["id"], s.caller(r))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, rec)
}

func (s *Service) FlaggedSettlementsAPI(w http.ResponseWriter, r *http.Request) {
	items, err := s.Ledger.ListFlagged(r.Context(), s.caller(r))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, map[string]any{"settlements": items})
}

func (s *Service) DecidePayoutAPI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decision models.PayoutStatus `json:"decision"`
		Note     string              `json:"note"`
	}
	if !s.Decode(w, r, &req) {
		return
	}
	p, err := s.Payouts.Decide(r.Context(), mux.Vars(r)["id"], req.Decision, s.caller(r), req.Note)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, p)
}

func (s *Service) PayoutsAPI(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.PayoutFilter{
		InstructorID: q.Get("instructor_id"),
		Status:       models.PayoutStatus(q.Get("status")),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	items, err := s.Payouts.List(r.Context(), s.caller(r), filter)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, map[string]any{"payouts": items})
}

func (s *Service) UpsertPromoAPI(w http.ResponseWriter, r *http.Request) {
	var in promotion.PromoInput
	if !s.Decode(w, r, &in) {
		return
	}
	p, err := s.Promos.Upsert(r.Context(), s.caller(r), in)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, p)
}

func (s *Service) TogglePromoAPI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsActive bool `json:"is_active"`
	}
	if !s.Decode(w, r, &req) {
		return
	}
	p, err := s.Promos.SetActive(r.Context(), mux.Vars(r)["code"], req.IsActive, s.caller(r))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, p)
}
