package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/s/courseLedger/internal/payout"
	"github.com/s/courseLedger/internal/settlement"
)

const (
	SignatureHeader     = "X-Provider-Signature"
	InternalTokenHeader = "X-Internal-Token"
)

// InitiateSettlementAPI opens a purchase for the logged-in learner.
func (h *Handler) InitiateSettlementAPI(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.GetAuthenticatedUserID(r)
	var in settlement.InitiateInput
	if !h.Decode(w, r, &in) {
		return
	}
	in.CallerID = userID
	if in.LearnerID == "" {
		in.LearnerID = userID
	}
	rec, err := h.Ledger.Initiate(r.Context(), in)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) GetSettlementAPI(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.GetAuthenticatedUserID(r)
	rec, err := h.Ledger.Get(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, rec)
}

type callbackRequest struct {
	SettlementID string `json:"settlement_id"`
	settlement.ProviderResult
}

// PaymentCallbackAPI receives the provider outcome. The body must carry a
// hex HMAC-SHA256 signature made with the shared webhook secret.
func (h *Handler) PaymentCallbackAPI(w http.ResponseWriter, r *http.Request) {
	// 1. Читаем тело целиком: подпись считается по сырым байтам
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		h.JSON(w, http.StatusBadRequest, errorBody{Error: "unreadable body", Code: "validation_error"})
		return
	}
	if !ValidSignature(h.WebhookSecret, body, r.Header.Get(SignatureHeader)) {
		h.Log.Warn().Str("remote", r.RemoteAddr).Msg("payment callback with bad signature")
		h.JSON(w, http.StatusUnauthorized, errorBody{Error: "invalid signature", Code: "unauthorized"})
		return
	}
	// 2. Подпись верна, разбираем payload
	var req callbackRequest
	if err := json.Unmarshal(body, &req); err != nil || req.SettlementID == "" {
		h.JSON(w, http.StatusBadRequest, errorBody{Error: "invalid callback payload", Code: "validation_error"})
		return
	}
	// 3. Повторный callback по той же оплате вернет 409, ничего не меняя
	rec, err := h.Ledger.Confirm(r.Context(), req.SettlementID, req.ProviderResult)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, rec)
}

// Sign returns the signature the provider sends for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func ValidSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	return hmac.Equal(got, want)
}

// FlagFraudAPI is called by the fraud scorer with the internal token.
func (h *Handler) FlagFraudAPI(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(InternalTokenHeader)
	if h.InternalToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.InternalToken)) != 1 {
		h.JSON(w, http.StatusUnauthorized, errorBody{Error: "invalid internal token", Code: "unauthorized"})
		return
	}
	var req struct {
		RiskScore int `json:"risk_score"`
	}
	if !h.Decode(w, r, &req) {
		return
	}
	if err := h.Ledger.FlagFraud(r.Context(), mux.Vars(r)["id"], req.RiskScore); err != nil {
		h.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestPayoutAPI files a withdrawal for the logged-in instructor.
func (h *Handler) RequestPayoutAPI(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.GetAuthenticatedUserID(r)
	var in payout.RequestInput
	if !h.Decode(w, r, &in) {
		return
	}
	in.CallerID = userID
	req, err := h.Payouts.Request(r.Context(), in)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, req)
}
