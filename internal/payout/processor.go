// Package payout handles instructor withdrawal requests.
package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/s/courseLedger/internal/apperr"
	"github.com/s/courseLedger/internal/audit"
	"github.com/s/courseLedger/internal/authz"
	"github.com/s/courseLedger/internal/metrics"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
)

// BalanceSource reports what an instructor may withdraw.
type BalanceSource interface {
	InstructorBalance(ctx context.Context, instructorID, currency string) (int64, error)
}

type Dependencies struct {
	Store   storage.Store
	Guard   *authz.Guard
	Balance BalanceSource
	Audit   *audit.Log
	Metrics *metrics.Metrics
	Log     zerolog.Logger
	Now     func() time.Time
}

type Processor struct {
	store           storage.Store
	guard           *authz.Guard
	balance         BalanceSource
	audit           *audit.Log
	metrics         *metrics.Metrics
	log             zerolog.Logger
	nowFn           func() time.Time
	defaultCurrency string
}

func NewProcessor(defaultCurrency string, deps Dependencies) *Processor {
	if defaultCurrency == "" {
		defaultCurrency = "XOF"
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	return &Processor{
		store:           deps.Store,
		guard:           deps.Guard,
		balance:         deps.Balance,
		audit:           deps.Audit,
		metrics:         deps.Metrics,
		log:             deps.Log,
		nowFn:           deps.Now,
		defaultCurrency: defaultCurrency,
	}
}

type RequestInput struct {
	CallerID     string              `json:"-"`
	InstructorID string              `json:"instructor_id"`
	Amount       int64               `json:"amount"`
	Currency     string              `json:"currency"`
	Method       models.PayoutMethod `json:"method"`
}

// Request files a pending withdrawal for the calling instructor.
func (p *Processor) Request(ctx context.Context, in RequestInput) (models.PayoutRequest, error) {
	if err := p.guard.Require(ctx, in.CallerID, models.RoleInstructor); err != nil {
		return models.PayoutRequest{}, err
	}
	if in.InstructorID == "" {
		in.InstructorID = in.CallerID
	}
	if in.InstructorID != in.CallerID {
		return models.PayoutRequest{}, apperr.Unauthorizedf("instructors may only request their own payouts")
	}
	if in.Amount <= 0 {
		return models.PayoutRequest{}, apperr.Validationf("amount must be positive")
	}
	if !in.Method.Valid() {
		return models.PayoutRequest{}, apperr.Validationf("unknown payout method %q", in.Method)
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = p.defaultCurrency
	}

	available, err := p.balance.InstructorBalance(ctx, in.InstructorID, currency)
	if err != nil {
		return models.PayoutRequest{}, apperr.Wrap(err, "load balance")
	}
	if in.Amount > available {
		return models.PayoutRequest{}, apperr.Validationf("amount %d exceeds available balance %d %s", in.Amount, available, currency)
	}

	req := models.PayoutRequest{
		ID:           uuid.NewString(),
		InstructorID: in.InstructorID,
		Amount:       in.Amount,
		Currency:     currency,
		Method:       in.Method,
		Status:       models.PayoutPending,
		RequestedAt:  p.nowFn().UTC(),
	}
	err = p.store.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreatePayout(ctx, &req)
	})
	if err != nil {
		return models.PayoutRequest{}, apperr.Wrap(err, "create payout request")
	}
	p.log.Info().Str("payout", req.ID).Str("instructor", req.InstructorID).Int64("amount", req.Amount).Msg("payout requested")
	return req, nil
}

// Decide approves or rejects a pending request. The status re-check and the
// conditional write make concurrent deciders see one success and one
// Conflict.
func (p *Processor) Decide(ctx context.Context, payoutID string, decision models.PayoutStatus, adminID, note string) (models.PayoutRequest, error) {
	if err := p.guard.Require(ctx, adminID, models.RoleAdmin); err != nil {
		return models.PayoutRequest{}, err
	}
	if decision != models.PayoutApproved && decision != models.PayoutRejected {
		return models.PayoutRequest{}, apperr.Validationf("decision must be approved or rejected")
	}
	now := p.nowFn().UTC()
	var out models.PayoutRequest
	err := p.store.Atomic(ctx, func(tx storage.Tx) error {
		cur, err := tx.Payout(ctx, payoutID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFoundf("payout %s not found", payoutID)
		}
		if err != nil {
			return err
		}
		if cur.Status != models.PayoutPending {
			return apperr.Conflictf("payout %s was already %s", payoutID, cur.Status)
		}
		err = tx.DecidePayout(ctx, payoutID, decision, adminID, note, now)
		if errors.Is(err, storage.ErrStale) {
			return apperr.Conflictf("payout %s was decided concurrently", payoutID)
		}
		if err != nil {
			return err
		}
		cur.Status = decision
		cur.DecidedBy = adminID
		cur.DecidedAt = &now
		cur.Note = note
		out = cur

		_, err = p.audit.Record(ctx, tx, audit.Entry{
			ActorID:    adminID,
			Event:      models.EventPayoutProcess,
			TargetType: models.TargetPayout,
			TargetID:   payoutID,
			Details:    fmt.Sprintf("payout %s: %d %s via %s", decision, cur.Amount, cur.Currency, cur.Method),
			Metadata: map[string]any{
				"decision":      decision,
				"instructor_id": cur.InstructorID,
				"amount":        cur.Amount,
				"note":          note,
			},
		})
		return err
	})
	if err != nil {
		return models.PayoutRequest{}, apperr.Wrap(err, "decide payout")
	}
	p.metrics.PayoutDecisions.WithLabelValues(string(decision)).Inc()
	p.log.Info().Str("payout", payoutID).Str("decision", string(decision)).Str("by", adminID).Msg("payout decided")
	return out, nil
}

func (p *Processor) Get(ctx context.Context, callerID, payoutID string) (models.PayoutRequest, error) {
	role := p.guard.RoleOf(ctx, callerID)
	if role != models.RoleAdmin && role != models.RoleInstructor {
		return models.PayoutRequest{}, apperr.Unauthorizedf("access denied")
	}
	req, err := p.store.Payout(ctx, payoutID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.PayoutRequest{}, apperr.NotFoundf("payout %s not found", payoutID)
	}
	if err != nil {
		return models.PayoutRequest{}, apperr.Wrap(err, "load payout")
	}
	if role != models.RoleAdmin && req.InstructorID != callerID {
		return models.PayoutRequest{}, apperr.Unauthorizedf("not your payout")
	}
	return req, nil
}

// List shows instructors their own requests and admins everything.
func (p *Processor) List(ctx context.Context, callerID string, filter storage.PayoutFilter) ([]models.PayoutRequest, error) {
	switch p.guard.RoleOf(ctx, callerID) {
	case models.RoleAdmin:
	case models.RoleInstructor:
		filter.InstructorID = callerID
	default:
		return nil, apperr.Unauthorizedf("access denied")
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 200
	}
	items, err := p.store.Payouts(ctx, filter)
	if err != nil {
		return nil, apperr.Wrap(err, "list payouts")
	}
	return items, nil
}
