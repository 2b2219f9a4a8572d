package middleware

import (
	"net/http"

	"github.com/s/courseLedger/internal/handlers"
)

// RequiredRole lets the request through only when the session subject
// currently holds requiredRoleID. The role is read from the user store on
// every request.
func RequiredRole(h *handlers.Handler, requiredRoleID uint) func(next http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			// 1. Проверка аутентификации
			userID, ok := h.GetAuthenticatedUserID(r)
			if !ok {
				h.JSON(w, http.StatusUnauthorized, map[string]string{"error": "login required", "code": "unauthorized"})
				return
			}
			// 2. Роль берем из БД, а не из cookie: снятая роль действует сразу
			if err := h.Guard.Require(r.Context(), userID, requiredRoleID); err != nil {
				if h.Metrics != nil {
					h.Metrics.Denials.Inc()
				}
				h.Error(w, r, err)
				return
			}
			// 3. Все проверки пройдены
			next.ServeHTTP(w, r)
		}
	}
}

// Authenticated only requires a live, unsuspended session subject.
func Authenticated(h *handlers.Handler) func(next http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			userID, ok := h.GetAuthenticatedUserID(r)
			if !ok {
				h.JSON(w, http.StatusUnauthorized, map[string]string{"error": "login required", "code": "unauthorized"})
				return
			}
			if err := h.Guard.RequireSelf(r.Context(), userID, userID); err != nil {
				if h.Metrics != nil {
					h.Metrics.Denials.Inc()
				}
				h.Error(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}
