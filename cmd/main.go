package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/s/courseLedger/internal/alert"
	"github.com/s/courseLedger/internal/auth"
	"github.com/s/courseLedger/internal/config"
	"github.com/s/courseLedger/internal/database"
	"github.com/s/courseLedger/internal/logger"
	"github.com/s/courseLedger/internal/middleware"
	"github.com/s/courseLedger/internal/server"
	"github.com/s/courseLedger/internal/storage"
	"golang.org/x/oauth2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "course-ledger")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.LogLevel, "course-ledger")

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("storage unavailable")
	}
	if n, err := database.SeedPromos(context.Background(), store, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Msg("promo seed failed")
	} else if n > 0 {
		log.Info().Int("created", n).Msg("demo promo codes seeded")
	}

	var oauthConfig *oauth2.Config
	if cfg.OAuthEnabled() {
		oauthConfig = auth.InitGoogleOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	} else {
		log.Warn().Msg("GOOGLE_* variables not set, login disabled")
	}

	sessionKey := cfg.SessionKey
	if sessionKey == "" {
		sessionKey = "dev-only-session-key-change-me"
		log.Warn().Msg("SESSION_KEY not set, using the development key")
	}
	cookies := sessions.NewCookieStore([]byte(sessionKey))
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}

	var alerter alert.Alerter = alert.NewLogAlerter(log)
	if len(cfg.KafkaBrokers) > 0 {
		kafkaAlerter := alert.NewKafkaAlerter(cfg.KafkaBrokers, cfg.AlertTopic, log)
		defer kafkaAlerter.Close()
		alerter = kafkaAlerter
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h := server.NewHandler(server.Options{
		Config:   cfg,
		Store:    store,
		Sessions: cookies,
		OAuth:    oauthConfig,
		Alerter:  alerter,
		Registry: reg,
		Log:      log,
	})
	router := server.NewRouter(h, reg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.CORS(router),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		log.Info().Str("addr", srv.Addr).Str("storage", cfg.StorageDriver).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}

func openStore(cfg config.Config, log zerolog.Logger) (storage.Store, error) {
	if cfg.StorageDriver == config.DriverMemory {
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		return storage.NewMemoryStore(), nil
	}
	db, err := database.Connect(cfg.DatabaseURL, cfg.DBConnectAttempts, log)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, err
	}
	if err := database.Seed(db); err != nil {
		return nil, err
	}
	return storage.NewGormStore(db), nil
}
