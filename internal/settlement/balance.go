package settlement

import (
	"context"
	"strings"

	"github.com/s/courseLedger/internal/apperr"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
	"github.com/shopspring/decimal"
)

// InstructorBalance is what an instructor may still withdraw in currency:
// net earnings of completed settlements less payouts that are pending or
// approved.
func (l *Ledger) InstructorBalance(ctx context.Context, instructorID, currency string) (int64, error) {
	currency = strings.ToUpper(currency)
	if currency == "" {
		currency = l.cfg.DefaultCurrency
	}
	earned, err := l.store.Settlements(ctx, storage.SettlementFilter{
		InstructorID: instructorID,
		Status:       models.SettlementCompleted,
	})
	if err != nil {
		return 0, apperr.Wrap(err, "load earnings")
	}
	payouts, err := l.store.Payouts(ctx, storage.PayoutFilter{InstructorID: instructorID})
	if err != nil {
		return 0, apperr.Wrap(err, "load payouts")
	}

	balance := decimal.Zero
	for _, s := range earned {
		if s.Currency == currency {
			balance = balance.Add(decimal.NewFromInt(s.NetAmount()))
		}
	}
	for _, p := range payouts {
		if p.Currency == currency && p.Status != models.PayoutRejected {
			balance = balance.Sub(decimal.NewFromInt(p.Amount))
		}
	}
	return balance.IntPart(), nil
}

// Balance serves the instructor's own balance screen.
func (l *Ledger) Balance(ctx context.Context, callerID, currency string) (int64, error) {
	if err := l.guard.Require(ctx, callerID, models.RoleInstructor); err != nil {
		return 0, err
	}
	return l.InstructorBalance(ctx, callerID, currency)
}
