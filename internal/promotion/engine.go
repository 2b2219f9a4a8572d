// Package promotion resolves and manages discount codes.
package promotion

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/s/courseLedger/internal/apperr"
	"github.com/s/courseLedger/internal/authz"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
)

// ErrInvalid covers unknown, inactive and expired codes alike so callers
// cannot probe which codes exist.
var ErrInvalid = errors.New("promo code is not valid")

type Engine struct {
	store storage.Store
	guard *authz.Guard
	log   zerolog.Logger
	now   func() time.Time
}

func NewEngine(store storage.Store, guard *authz.Guard, log zerolog.Logger, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, guard: guard, log: log, now: now}
}

// Resolve returns the discount percentage of code.
func (e *Engine) Resolve(ctx context.Context, code string) (int, error) {
	return resolveIn(ctx, e.store, models.NormalizeCode(code), e.now())
}

// ResolveIn is Resolve against a transaction handle.
func (e *Engine) ResolveIn(ctx context.Context, r storage.Reader, code string) (int, error) {
	return resolveIn(ctx, r, models.NormalizeCode(code), e.now())
}

func resolveIn(ctx context.Context, r storage.Reader, code string, now time.Time) (int, error) {
	if code == "" {
		return 0, ErrInvalid
	}
	promo, err := r.PromoCode(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, ErrInvalid
	}
	if err != nil {
		return 0, apperr.Wrap(err, "resolve promo code")
	}
	if !promo.Usable(now) {
		return 0, ErrInvalid
	}
	return promo.DiscountPercent, nil
}

// SetActive toggles a code. Toggles are not audited; they run in an atomic
// group so an audit record could join them.
func (e *Engine) SetActive(ctx context.Context, code string, active bool, adminID string) (models.PromoCode, error) {
	if err := e.guard.Require(ctx, adminID, models.RoleAdmin); err != nil {
		return models.PromoCode{}, err
	}
	code = models.NormalizeCode(code)
	var out models.PromoCode
	err := e.store.Atomic(ctx, func(tx storage.Tx) error {
		promo, err := tx.PromoCode(ctx, code)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFoundf("promo code %s not found", code)
		}
		if err != nil {
			return err
		}
		promo.IsActive = active
		promo.UpdatedBy = adminID
		promo.UpdatedAt = e.now().UTC()
		out = promo
		return tx.SavePromoCode(ctx, &promo)
	})
	if err != nil {
		return models.PromoCode{}, apperr.Wrap(err, "toggle promo code")
	}
	e.log.Info().Str("code", code).Bool("active", active).Str("by", adminID).Msg("promo code toggled")
	return out, nil
}

type PromoInput struct {
	Code            string     `json:"code"`
	DiscountPercent int        `json:"discount_percent"`
	IsActive        bool       `json:"is_active"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// Upsert creates a code or replaces its terms.
func (e *Engine) Upsert(ctx context.Context, adminID string, in PromoInput) (models.PromoCode, error) {
	if err := e.guard.Require(ctx, adminID, models.RoleAdmin); err != nil {
		return models.PromoCode{}, err
	}
	code := models.NormalizeCode(in.Code)
	if code == "" {
		return models.PromoCode{}, apperr.Validationf("code is required")
	}
	if in.DiscountPercent < 0 || in.DiscountPercent > 100 {
		return models.PromoCode{}, apperr.Validationf("discount_percent must be between 0 and 100")
	}
	now := e.now().UTC()
	var out models.PromoCode
	err := e.store.Atomic(ctx, func(tx storage.Tx) error {
		promo, err := tx.PromoCode(ctx, code)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			promo = models.PromoCode{Code: code, CreatedAt: now}
		case err != nil:
			return err
		}
		promo.DiscountPercent = in.DiscountPercent
		promo.IsActive = in.IsActive
		promo.ExpiresAt = in.ExpiresAt
		promo.UpdatedBy = adminID
		promo.UpdatedAt = now
		out = promo
		return tx.SavePromoCode(ctx, &promo)
	})
	if err != nil {
		return models.PromoCode{}, apperr.Wrap(err, "save promo code")
	}
	return out, nil
}
