package server

import (
	"time"

	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/s/courseLedger/internal/alert"
	"github.com/s/courseLedger/internal/audit"
	"github.com/s/courseLedger/internal/authz"
	"github.com/s/courseLedger/internal/batch"
	"github.com/s/courseLedger/internal/config"
	"github.com/s/courseLedger/internal/entitlement"
	"github.com/s/courseLedger/internal/handlers"
	"github.com/s/courseLedger/internal/metrics"
	"github.com/s/courseLedger/internal/payout"
	"github.com/s/courseLedger/internal/promotion"
	"github.com/s/courseLedger/internal/settlement"
	"github.com/s/courseLedger/internal/storage"
	"golang.org/x/oauth2"
)

type Options struct {
	Config   config.Config
	Store    storage.Store
	Sessions sessions.Store
	OAuth    *oauth2.Config
	Alerter  alert.Alerter
	Registry prometheus.Registerer
	Log      zerolog.Logger
	Now      func() time.Time
}

// NewHandler builds every ledger service over one store.
func NewHandler(opts Options) *handlers.Handler {
	cfg := opts.Config
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := metrics.New(opts.Registry)
	guard := authz.NewGuard(opts.Store, opts.Log.With().Str("component", "authz").Logger())
	auditLog := audit.New(opts.Now)

	entitlements := entitlement.NewStore(opts.Store, guard, auditLog, opts.Log.With().Str("component", "entitlement").Logger(), opts.Now)
	promos := promotion.NewEngine(opts.Store, guard, opts.Log.With().Str("component", "promotion").Logger(), opts.Now)
	ledger := settlement.NewLedger(settlement.Config{
		RetryAttempts:   cfg.GrantRetryAttempts,
		RetryBackoff:    cfg.GrantRetryBackoff,
		DefaultCurrency: cfg.DefaultCurrency,
	}, settlement.Dependencies{
		Store:        opts.Store,
		Guard:        guard,
		Entitlements: entitlements,
		Promotions:   promos,
		Audit:        auditLog,
		Alerter:      opts.Alerter,
		Metrics:      m,
		Log:          opts.Log.With().Str("component", "settlement").Logger(),
		Now:          opts.Now,
	})
	payouts := payout.NewProcessor(cfg.DefaultCurrency, payout.Dependencies{
		Store:   opts.Store,
		Guard:   guard,
		Balance: ledger,
		Audit:   auditLog,
		Metrics: m,
		Log:     opts.Log.With().Str("component", "payout").Logger(),
		Now:     opts.Now,
	})
	coord := batch.New(opts.Store, cfg.BatchMaxOps,
		batch.WithLogger(opts.Log.With().Str("component", "batch").Logger()),
		batch.WithGroupCounter(m.BatchGroups),
	)

	return &handlers.Handler{
		Store:         opts.Store,
		Sessions:      opts.Sessions,
		OAuth:         opts.OAuth,
		Guard:         guard,
		Users:         authz.NewUsers(opts.Store, guard, auditLog, opts.Now),
		Entitlements:  entitlements,
		Ledger:        ledger,
		Payouts:       payouts,
		Promos:        promos,
		AuditReader:   audit.NewReader(opts.Store, guard),
		Batch:         coord,
		Metrics:       m,
		Log:           opts.Log,
		WebhookSecret: cfg.WebhookSecret,
		InternalToken: cfg.InternalToken,
		Now:           opts.Now,
	}
}
