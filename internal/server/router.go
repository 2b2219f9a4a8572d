// Package server assembles the HTTP routes.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/s/courseLedger/internal/handlers"
	"github.com/s/courseLedger/internal/handlers/admin"
	"github.com/s/courseLedger/internal/handlers/personal"
	"github.com/s/courseLedger/internal/middleware"
	"github.com/s/courseLedger/internal/models"
)

// NewRouter wires every route. gatherer backs /metrics.
func NewRouter(h *handlers.Handler, gatherer prometheus.Gatherer) *mux.Router {
	adminService := &admin.Service{Handler: h}
	personalService := &personal.Service{Handler: h}

	adminOnly := middleware.RequiredRole(h, models.RoleAdmin)
	learnerOnly := middleware.RequiredRole(h, models.RoleLearner)
	instructorOnly := middleware.RequiredRole(h, models.RoleInstructor)
	loggedIn := middleware.Authenticated(h)

	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(h.Log, h.Metrics))

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HandleHealth).Methods(http.MethodGet)

	r.HandleFunc("/auth/google/login", h.HandleGoogleLogin).Methods(http.MethodGet)
	r.HandleFunc("/auth/google/callback", h.HandleGoogleCallback).Methods(http.MethodGet)
	r.HandleFunc("/logout", h.HandleLogout).Methods(http.MethodGet, http.MethodPost)

	// machine callers authenticate per request
	r.HandleFunc("/api/payments/callback", h.PaymentCallbackAPI).Methods(http.MethodPost)
	r.HandleFunc("/internal/settlements/{id}/fraud", h.FlagFraudAPI).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/me", loggedIn(h.HandleMe)).Methods(http.MethodGet)
	api.HandleFunc("/settlements", learnerOnly(h.InitiateSettlementAPI)).Methods(http.MethodPost)
	api.HandleFunc("/settlements/{id}", loggedIn(h.GetSettlementAPI)).Methods(http.MethodGet)
	api.HandleFunc("/me/entitlements", loggedIn(personalService.MyEntitlementsAPI)).Methods(http.MethodGet)
	api.HandleFunc("/me/entitlements/{courseId}/active", loggedIn(personalService.CourseAccessAPI)).Methods(http.MethodGet)

	api.HandleFunc("/payouts", instructorOnly(h.RequestPayoutAPI)).Methods(http.MethodPost)
	api.HandleFunc("/me/payouts", instructorOnly(personalService.MyPayoutsAPI)).Methods(http.MethodGet)
	api.HandleFunc("/me/balance", instructorOnly(personalService.MyBalanceAPI)).Methods(http.MethodGet)

	adm := api.PathPrefix("/admin").Subrouter()
	adm.HandleFunc("/entitlements", adminOnly(adminService.GrantAccessAPI)).Methods(http.MethodPost)
	adm.HandleFunc("/entitlements/bulk", adminOnly(adminService.BulkGrantAPI)).Methods(http.MethodPost)
	adm.HandleFunc("/entitlements/{learnerId}/{courseId}", adminOnly(adminService.RevokeAccessAPI)).Methods(http.MethodDelete)
	adm.HandleFunc("/settlements/flagged", adminOnly(adminService.FlaggedSettlementsAPI)).Methods(http.MethodGet)
	adm.HandleFunc("/settlements/{id}/refund", adminOnly(adminService.RefundAPI)).Methods(http.MethodPost)
	adm.HandleFunc("/settlements/{id}/fraud/resolve", adminOnly(adminService.ResolveFraudAPI)).Methods(http.MethodPost)
	adm.HandleFunc("/payouts", adminOnly(adminService.PayoutsAPI)).Methods(http.MethodGet)
	adm.HandleFunc("/payouts/{id}/decision", adminOnly(adminService.DecidePayoutAPI)).Methods(http.MethodPost)
	adm.HandleFunc("/promos", adminOnly(adminService.UpsertPromoAPI)).Methods(http.MethodPut)
	adm.HandleFunc("/promos/{code}/active", adminOnly(adminService.TogglePromoAPI)).Methods(http.MethodPut)
	adm.HandleFunc("/audit", adminOnly(adminService.AuditAPI)).Methods(http.MethodGet)
	adm.HandleFunc("/users/{id}/status", adminOnly(adminService.UpdateUserStatusAPI)).Methods(http.MethodPut)
	adm.HandleFunc("/users/{id}/role", adminOnly(adminService.UpdateUserRoleAPI)).Methods(http.MethodPut)

	return r
}
