package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
	"github.com/s/courseLedger/internal/audit"
	"github.com/s/courseLedger/internal/auth"
	"github.com/s/courseLedger/internal/authz"
	"github.com/s/courseLedger/internal/batch"
	"github.com/s/courseLedger/internal/entitlement"
	"github.com/s/courseLedger/internal/metrics"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/payout"
	"github.com/s/courseLedger/internal/promotion"
	"github.com/s/courseLedger/internal/settlement"
	"github.com/s/courseLedger/internal/storage"
	"golang.org/x/oauth2"
)

const (
	SessionName = "session"
	subjectKey  = "user_id"
	stateKey    = "oauth_state"
)

type Handler struct {
	Store        storage.Store
	Sessions     sessions.Store
	OAuth        *oauth2.Config
	Guard        *authz.Guard
	Users        *authz.Users
	Entitlements *entitlement.Store
	Ledger       *settlement.Ledger
	Payouts      *payout.Processor
	Promos       *promotion.Engine
	AuditReader  *audit.Reader
	Batch        *batch.Coordinator
	Metrics      *metrics.Metrics
	Log          zerolog.Logger

	WebhookSecret string
	InternalToken string
	Now           func() time.Time
}

// GetAuthenticatedUserID returns the subject stored at login. The session
// holds nothing else that is trusted.
func (h *Handler) GetAuthenticatedUserID(r *http.Request) (string, bool) {
	session, err := h.Sessions.Get(r, SessionName)
	if err != nil {
		return "", false
	}
	userID, ok := session.Values[subjectKey].(string)
	return userID, ok && userID != ""
}

func (h *Handler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil {
		h.Error(w, r, errLoginDisabled)
		return
	}
	state := uuid.NewString()
	session, _ := h.Sessions.Get(r, SessionName)
	session.Values[stateKey] = state
	if err := session.Save(r, w); err != nil {
		h.Error(w, r, err)
		return
	}
	http.Redirect(w, r, h.OAuth.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (h *Handler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil {
		h.Error(w, r, errLoginDisabled)
		return
	}
	// 1. Сверяем state из сессии с тем, что вернул Google
	session, _ := h.Sessions.Get(r, SessionName)
	want, _ := session.Values[stateKey].(string)
	if want == "" || r.URL.Query().Get("state") != want {
		h.JSON(w, http.StatusUnauthorized, errorBody{Error: "invalid login state", Code: "unauthorized"})
		return
	}

	// 2. Меняем code на токен и забираем профиль
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	token, err := h.OAuth.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		h.Log.Warn().Err(err).Msg("oauth token exchange failed")
		h.JSON(w, http.StatusBadRequest, errorBody{Error: "token exchange failed", Code: "validation_error"})
		return
	}
	resp, err := h.OAuth.Client(ctx, token).Get(auth.UserInfoURL)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	defer resp.Body.Close()

	var info auth.GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil || info.ID == "" {
		h.JSON(w, http.StatusBadGateway, errorBody{Error: "identity provider returned no user", Code: "internal_error"})
		return
	}
	// 3. Создаем или обновляем пользователя; роль существующего не трогаем
	userID, err := storage.SaveLoginUser(ctx, h.Store, models.User{
		GoogleID: info.ID,
		Email:    info.Email,
		Name:     info.Name,
		Picture:  info.Picture,
	}, h.now())
	if err != nil {
		h.Error(w, r, err)
		return
	}

	// 4. В сессии храним только ID, роль читается из БД на каждом запросе
	if err := h.SetSubject(w, r, userID); err != nil {
		h.Error(w, r, err)
		return
	}
	h.Log.Info().Str("user", userID).Msg("user logged in")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// SetSubject binds userID to the caller's session cookie.
func (h *Handler) SetSubject(w http.ResponseWriter, r *http.Request, userID string) error {
	session, _ := h.Sessions.Get(r, SessionName)
	session.Values[subjectKey] = userID
	delete(session.Values, stateKey)
	return session.Save(r, w)
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := h.Sessions.Get(r, SessionName)
	session.Options.MaxAge = -1
	_ = session.Save(r, w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the caller's live profile and role.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := h.GetAuthenticatedUserID(r)
	user, err := h.Store.User(r.Context(), userID)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"id":     user.ID,
		"email":  user.Email,
		"name":   user.Name,
		"role":   models.RoleName(user.RoleID),
		"status": user.Status,
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := h.Store.PromoCode(ctx, "__health__"); err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.Log.Error().Err(err).Msg("health check failed")
		h.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}
