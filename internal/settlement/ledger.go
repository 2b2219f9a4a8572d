// Package settlement records payment attempts and keeps paid access in step
// with them.
package settlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/s/courseLedger/internal/alert"
	"github.com/s/courseLedger/internal/apperr"
	"github.com/s/courseLedger/internal/audit"
	"github.com/s/courseLedger/internal/authz"
	"github.com/s/courseLedger/internal/metrics"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/promotion"
	"github.com/s/courseLedger/internal/storage"
)

// Granter is the slice of entitlement.Store the ledger drives.
type Granter interface {
	GrantPurchase(ctx context.Context, learnerID, courseID, settlementID string) (models.Entitlement, error)
	RevokePurchaseIn(ctx context.Context, tx storage.Tx, actorID, learnerID, courseID, settlementID string, now time.Time) (bool, error)
}

// PromoResolver reads discounts through the handle of the group that
// creates the settlement.
type PromoResolver interface {
	ResolveIn(ctx context.Context, r storage.Reader, code string) (int, error)
}

type Config struct {
	RetryAttempts   int
	RetryBackoff    time.Duration
	DefaultCurrency string
}

type Dependencies struct {
	Store        storage.Store
	Guard        *authz.Guard
	Entitlements Granter
	Promotions   PromoResolver
	Audit        *audit.Log
	Alerter      alert.Alerter
	Metrics      *metrics.Metrics
	Log          zerolog.Logger
	Now          func() time.Time
}

type Ledger struct {
	cfg     Config
	store   storage.Store
	guard   *authz.Guard
	grants  Granter
	promos  PromoResolver
	audit   *audit.Log
	alerter alert.Alerter
	metrics *metrics.Metrics
	log     zerolog.Logger
	nowFn   func() time.Time
}

func NewLedger(cfg Config, deps Dependencies) *Ledger {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "XOF"
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	if deps.Alerter == nil {
		deps.Alerter = alert.NewLogAlerter(deps.Log)
	}
	return &Ledger{
		cfg:     cfg,
		store:   deps.Store,
		guard:   deps.Guard,
		grants:  deps.Entitlements,
		promos:  deps.Promotions,
		audit:   deps.Audit,
		alerter: deps.Alerter,
		metrics: deps.Metrics,
		log:     deps.Log,
		nowFn:   deps.Now,
	}
}

func (l *Ledger) now() time.Time { return l.nowFn().UTC() }

type InitiateInput struct {
	CallerID     string `json:"-"`
	LearnerID    string `json:"learner_id"`
	CourseID     string `json:"course_id"`
	InstructorID string `json:"instructor_id"`
	GrossAmount  int64  `json:"gross_amount"`
	Currency     string `json:"currency"`
	PromoCode    string `json:"promo_code"`
}

// Initiate opens a pending settlement. An unusable promo code is ignored and
// the purchase goes through at full price.
func (l *Ledger) Initiate(ctx context.Context, in InitiateInput) (models.SettlementView, error) {
	if err := l.guard.RequireSelf(ctx, in.CallerID, in.LearnerID); err != nil {
		return models.SettlementView{}, err
	}
	if in.CourseID == "" || in.InstructorID == "" {
		return models.SettlementView{}, apperr.Validationf("course_id and instructor_id are required")
	}
	if in.GrossAmount <= 0 {
		return models.SettlementView{}, apperr.Validationf("gross_amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = l.cfg.DefaultCurrency
	}

	now := l.now()
	rec := models.Settlement{
		ID:           uuid.NewString(),
		LearnerID:    in.LearnerID,
		CourseID:     in.CourseID,
		InstructorID: in.InstructorID,
		GrossAmount:  in.GrossAmount,
		Currency:     currency,
		Status:       models.SettlementPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	code := models.NormalizeCode(in.PromoCode)
	err := l.store.Atomic(ctx, func(tx storage.Tx) error {
		rec.DiscountPercent, rec.PromoCode = 0, ""
		if code != "" {
			d, err := l.promos.ResolveIn(ctx, tx, code)
			switch {
			case errors.Is(err, promotion.ErrInvalid):
				l.log.Info().Str("code", code).Str("learner", in.LearnerID).Msg("promo code ignored")
			case err != nil:
				return apperr.Wrap(err, "resolve promo code")
			default:
				rec.DiscountPercent, rec.PromoCode = d, code
			}
		}
		return tx.CreateSettlement(ctx, &rec)
	})
	if err != nil {
		return models.SettlementView{}, apperr.Wrap(err, "create settlement")
	}
	l.metrics.Settlements.WithLabelValues(string(models.SettlementPending)).Inc()
	return rec.View(), nil
}

// ProviderResult is the outcome reported by the payment provider.
type ProviderResult struct {
	Success      bool   `json:"success"`
	ProviderTxID string `json:"provider_tx_id"`
}

// Confirm settles a pending record. A completed payment grants purchase
// access, retrying the grant with backoff; when every attempt fails the
// payment is flagged for manual reconciliation and a Fatal error returned.
func (l *Ledger) Confirm(ctx context.Context, settlementID string, result ProviderResult) (models.SettlementView, error) {
	to := models.SettlementFailed
	if result.Success {
		to = models.SettlementCompleted
	}
	now := l.now()
	var rec models.Settlement
	err := l.store.Atomic(ctx, func(tx storage.Tx) error {
		cur, err := tx.Settlement(ctx, settlementID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFoundf("settlement %s not found", settlementID)
		}
		if err != nil {
			return err
		}
		if cur.Status != models.SettlementPending {
			return apperr.InvalidTransitionf("settlement %s is %s, not pending", settlementID, cur.Status)
		}
		err = tx.TransitionSettlement(ctx, settlementID, models.SettlementPending, to, result.ProviderTxID, now)
		if errors.Is(err, storage.ErrStale) {
			return apperr.InvalidTransitionf("settlement %s was settled concurrently", settlementID)
		}
		if err != nil {
			return err
		}
		cur.Status = to
		cur.UpdatedAt = now
		if result.ProviderTxID != "" {
			cur.ProviderTxID = result.ProviderTxID
		}
		rec = cur
		return nil
	})
	if err != nil {
		return models.SettlementView{}, apperr.Wrap(err, "confirm settlement")
	}
	l.metrics.Settlements.WithLabelValues(string(to)).Inc()

	if to == models.SettlementFailed {
		l.log.Info().Str("settlement", settlementID).Msg("payment failed")
		return rec.View(), nil
	}
	if err := l.grantPurchase(ctx, rec); err != nil {
		return rec.View(), err
	}
	return rec.View(), nil
}

func (l *Ledger) grantPurchase(ctx context.Context, rec models.Settlement) error {
	var lastErr error
	attempts := 0
	for attempts < l.cfg.RetryAttempts {
		if attempts > 0 {
			l.metrics.GrantRetries.Inc()
			if err := wait(ctx, l.cfg.RetryBackoff<<(attempts-1)); err != nil {
				lastErr = err
				break
			}
		}
		attempts++
		_, err := l.grants.GrantPurchase(ctx, rec.LearnerID, rec.CourseID, rec.ID)
		if err == nil {
			return nil
		}
		lastErr = err
		l.log.Warn().Err(err).Str("settlement", rec.ID).Int("attempt", attempts).Msg("purchase grant failed")
	}
	return l.reconcile(ctx, rec, attempts, lastErr)
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// reconcile records a paid-but-locked-out learner everywhere an operator
// looks. It runs even when the request context is gone.
func (l *Ledger) reconcile(ctx context.Context, rec models.Settlement, attempts int, cause error) error {
	ctx = context.WithoutCancel(ctx)
	now := l.now()
	l.metrics.Reconciliations.Inc()
	l.log.Error().Err(cause).
		Str("settlement", rec.ID).
		Str("learner", rec.LearnerID).
		Str("course", rec.CourseID).
		Int("attempts", attempts).
		Msg("payment completed but access not granted, reconciliation required")

	err := l.store.Atomic(ctx, func(tx storage.Tx) error {
		_, err := l.audit.Record(ctx, tx, audit.Entry{
			ActorID:    models.SystemActor,
			Event:      models.EventPaymentReconcile,
			TargetType: models.TargetSettlement,
			TargetID:   rec.ID,
			Details:    "payment completed but course access could not be granted",
			Metadata: map[string]any{
				"learner_id": rec.LearnerID,
				"course_id":  rec.CourseID,
				"net_amount": rec.NetAmount(),
				"currency":   rec.Currency,
				"attempts":   attempts,
			},
		})
		return err
	})
	if err != nil {
		l.log.Error().Err(err).Str("settlement", rec.ID).Msg("reconciliation audit not written")
	}

	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}
	alertErr := l.alerter.Reconcile(ctx, alert.Reconciliation{
		SettlementID: rec.ID,
		LearnerID:    rec.LearnerID,
		CourseID:     rec.CourseID,
		NetAmount:    rec.NetAmount(),
		Currency:     rec.Currency,
		Attempts:     attempts,
		Cause:        causeText,
		OccurredAt:   now,
	})
	if alertErr != nil {
		l.log.Error().Err(alertErr).Str("settlement", rec.ID).Msg("reconciliation alert not sent")
	}
	return apperr.NewFatal(cause, "payment %s completed but access could not be granted", rec.ID)
}

// Refund reverses a completed payment and takes back the access it bought,
// if that access is still the current one.
func (l *Ledger) Refund(ctx context.Context, settlementID, adminID string) (models.SettlementView, error) {
	if err := l.guard.Require(ctx, adminID, models.RoleAdmin); err != nil {
		return models.SettlementView{}, err
	}
	now := l.now()
	var rec models.Settlement
	err := l.store.Atomic(ctx, func(tx storage.Tx) error {
		cur, err := tx.Settlement(ctx, settlementID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFoundf("settlement %s not found", settlementID)
		}
		if err != nil {
			return err
		}
		if !models.CanTransition(cur.Status, models.SettlementRefunded) {
			return apperr.InvalidTransitionf("settlement %s is %s, only completed payments can be refunded", settlementID, cur.Status)
		}
		err = tx.TransitionSettlement(ctx, settlementID, cur.Status, models.SettlementRefunded, "", now)
		if errors.Is(err, storage.ErrStale) {
			return apperr.InvalidTransitionf("settlement %s changed concurrently", settlementID)
		}
		if err != nil {
			return err
		}

		revoked, err := l.grants.RevokePurchaseIn(ctx, tx, adminID, cur.LearnerID, cur.CourseID, settlementID, now)
		if err != nil {
			return err
		}
		cur.Status = models.SettlementRefunded
		cur.UpdatedAt = now
		rec = cur

		_, err = l.audit.Record(ctx, tx, audit.Entry{
			ActorID:    adminID,
			Event:      models.EventPaymentRefund,
			TargetType: models.TargetSettlement,
			TargetID:   settlementID,
			Details:    "payment refunded for course " + cur.CourseID,
			Metadata: map[string]any{
				"learner_id":          cur.LearnerID,
				"course_id":           cur.CourseID,
				"net_amount":          cur.NetAmount(),
				"currency":            cur.Currency,
				"entitlement_revoked": revoked,
			},
		})
		return err
	})
	if err != nil {
		return models.SettlementView{}, apperr.Wrap(err, "refund settlement")
	}
	l.metrics.Settlements.WithLabelValues(string(models.SettlementRefunded)).Inc()
	l.log.Info().Str("settlement", settlementID).Str("by", adminID).Msg("payment refunded")
	return rec.View(), nil
}

// Get returns a settlement to its learner, its instructor or an admin.
func (l *Ledger) Get(ctx context.Context, callerID, settlementID string) (models.SettlementView, error) {
	role := l.guard.RoleOf(ctx, callerID)
	if role == models.RoleGuest {
		return models.SettlementView{}, apperr.Unauthorizedf("authentication required")
	}
	rec, err := l.store.Settlement(ctx, settlementID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.SettlementView{}, apperr.NotFoundf("settlement %s not found", settlementID)
	}
	if err != nil {
		return models.SettlementView{}, apperr.Wrap(err, "load settlement")
	}
	if role != models.RoleAdmin && callerID != rec.LearnerID && callerID != rec.InstructorID {
		return models.SettlementView{}, apperr.Unauthorizedf("not your settlement")
	}
	return rec.View(), nil
}
