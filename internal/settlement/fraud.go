package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/s/courseLedger/internal/apperr"
	"github.com/s/courseLedger/internal/audit"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
)

// FlagFraud is called by the fraud scorer. Flagging a settlement whose
// review is already closed opens it again.
func (l *Ledger) FlagFraud(ctx context.Context, settlementID string, riskScore int) error {
	if riskScore < 0 || riskScore > 100 {
		return apperr.Validationf("risk_score must be between 0 and 100")
	}
	now := l.now()
	err := l.store.Atomic(ctx, func(tx storage.Tx) error {
		_, err := tx.Settlement(ctx, settlementID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFoundf("settlement %s not found", settlementID)
		}
		if err != nil {
			return err
		}
		review := models.FraudReview{IsSuspicious: true, RiskScore: riskScore}
		return tx.UpdateFraudReview(ctx, settlementID, review, now)
	})
	if err != nil {
		return apperr.Wrap(err, "flag settlement")
	}
	l.log.Warn().Str("settlement", settlementID).Int("risk", riskScore).Msg("settlement flagged for review")
	return nil
}

// ResolveFraud closes the review of a flagged settlement. Closing an already
// closed review succeeds without writing.
func (l *Ledger) ResolveFraud(ctx context.Context, settlementID, adminID string) (models.SettlementView, error) {
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
		rec = cur
		if !cur.Fraud.IsSuspicious {
			return apperr.InvalidTransitionf("settlement %s was never flagged", settlementID)
		}
		if cur.Fraud.Reviewed {
			return nil
		}
		review := cur.Fraud
		review.Reviewed = true
		review.ReviewedBy = adminID
		review.ReviewedAt = &now
		if err := tx.UpdateFraudReview(ctx, settlementID, review, now); err != nil {
			return err
		}
		rec.Fraud = review
		rec.UpdatedAt = now
		_, err = l.audit.Record(ctx, tx, audit.Entry{
			ActorID:    adminID,
			Event:      models.EventSecurityResolve,
			TargetType: models.TargetSettlement,
			TargetID:   settlementID,
			Details:    fmt.Sprintf("fraud flag resolved (risk score %d)", review.RiskScore),
			Metadata:   map[string]any{"risk_score": review.RiskScore},
		})
		return err
	})
	if err != nil {
		return models.SettlementView{}, apperr.Wrap(err, "resolve fraud flag")
	}
	return rec.View(), nil
}

// ListFlagged is the open fraud review queue.
func (l *Ledger) ListFlagged(ctx context.Context, adminID string) ([]models.SettlementView, error) {
	if err := l.guard.Require(ctx, adminID, models.RoleAdmin); err != nil {
		return nil, err
	}
	yes, no := true, false
	recs, err := l.store.Settlements(ctx, storage.SettlementFilter{Suspicious: &yes, Reviewed: &no})
	if err != nil {
		return nil, apperr.Wrap(err, "list flagged settlements")
	}
	out := make([]models.SettlementView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.View())
	}
	return out, nil
}
