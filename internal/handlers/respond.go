package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/s/courseLedger/internal/apperr"
	"github.com/s/courseLedger/internal/logger"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
)

var errLoginDisabled = apperr.Validationf("google login is not configured")

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

func (h *Handler) JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.Warn().Err(err).Msg("encode response")
	}
}

// Decode reads a JSON body and rejects unknown fields.
func (h *Handler) Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.JSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body", Code: "validation_error"})
		return false
	}
	return true
}

func StatusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidTransition, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error renders err as {"error", "code"}. Only admins get the cause.
func (h *Handler) Error(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		err = apperr.NotFoundf("not found")
	}
	ae := apperr.From(err)
	status := StatusOf(ae.Kind)
	body := errorBody{Error: ae.Message, Code: ae.Code}

	base := h.Log
	if reqLog := logger.FromContext(r.Context()); reqLog.GetLevel() != zerolog.Disabled {
		base = *reqLog
	}
	log := base.With().Str("method", r.Method).Str("path", r.URL.Path).Str("code", ae.Code).Logger()
	switch ae.Kind {
	case apperr.KindFatal:
		log.Error().Err(err).Msg("request failed, reconciliation required")
	case apperr.KindInternal:
		log.Error().Err(err).Msg("request failed")
	default:
		log.Debug().Err(err).Msg("request rejected")
	}

	if ae.Err != nil {
		if callerID, ok := h.GetAuthenticatedUserID(r); ok && h.Guard.RoleOf(r.Context(), callerID) == models.RoleAdmin {
			body.Detail = ae.Err.Error()
		}
	}
	h.JSON(w, status, body)
}
