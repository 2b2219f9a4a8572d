package storage

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/pkg/errors"
	"github.com/s/courseLedger/internal/models"
	"gorm.io/gorm"
)

// GormStore is the PostgreSQL backend. Atomic maps onto a database
// transaction.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func notFound(err error, what string) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return errors.Wrap(err, what)
}

func (s *GormStore) User(ctx context.Context, id string) (models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error; err != nil {
		return models.User{}, notFound(err, "load user")
	}
	return user, nil
}

func (s *GormStore) UserByGoogleID(ctx context.Context, googleID string) (models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("google_id = ?", googleID).Take(&user).Error; err != nil {
		return models.User{}, notFound(err, "load user by google id")
	}
	return user, nil
}

func (s *GormStore) CurrentEntitlement(ctx context.Context, learnerID, courseID string) (models.Entitlement, error) {
	var e models.Entitlement
	err := s.db.WithContext(ctx).
		Where("learner_id = ? AND course_id = ?", learnerID, courseID).
		Order("created_at DESC").
		First(&e).Error
	if err != nil {
		return models.Entitlement{}, notFound(err, "load entitlement")
	}
	return e, nil
}

func (s *GormStore) EntitlementHistory(ctx context.Context, learnerID, courseID string) ([]models.Entitlement, error) {
	var items []models.Entitlement
	err := s.db.WithContext(ctx).
		Where("learner_id = ? AND course_id = ?", learnerID, courseID).
		Order("created_at DESC").
		Find(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "load entitlement history")
	}
	return items, nil
}

func (s *GormStore) LearnerEntitlements(ctx context.Context, learnerID string) ([]models.Entitlement, error) {
	var items []models.Entitlement
	latest := s.db.Model(&models.Entitlement{}).
		Select("course_id, MAX(created_at) AS created_at").
		Where("learner_id = ?", learnerID).
		Group("course_id")
	err := s.db.WithContext(ctx).
		Joins("JOIN (?) AS latest ON latest.course_id = entitlements.course_id AND latest.created_at = entitlements.created_at", latest).
		Where("entitlements.learner_id = ?", learnerID).
		Order("entitlements.created_at DESC").
		Find(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "load learner entitlements")
	}
	return items, nil
}

func (s *GormStore) Settlement(ctx context.Context, id string) (models.Settlement, error) {
	var rec models.Settlement
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		return models.Settlement{}, notFound(err, "load settlement")
	}
	return rec, nil
}

func (s *GormStore) Settlements(ctx context.Context, filter SettlementFilter) ([]models.Settlement, error) {
	q := s.db.WithContext(ctx).Model(&models.Settlement{})
	if filter.InstructorID != "" {
		q = q.Where("instructor_id = ?", filter.InstructorID)
	}
	if filter.LearnerID != "" {
		q = q.Where("learner_id = ?", filter.LearnerID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Suspicious != nil {
		q = q.Where("fraud_is_suspicious = ?", *filter.Suspicious)
	}
	if filter.Reviewed != nil {
		q = q.Where("fraud_reviewed = ?", *filter.Reviewed)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var items []models.Settlement
	if err := q.Order("created_at DESC").Find(&items).Error; err != nil {
		return nil, errors.Wrap(err, "list settlements")
	}
	return items, nil
}

func (s *GormStore) PromoCode(ctx context.Context, code string) (models.PromoCode, error) {
	var p models.PromoCode
	if err := s.db.WithContext(ctx).Where("code = ?", code).Take(&p).Error; err != nil {
		return models.PromoCode{}, notFound(err, "load promo code")
	}
	return p, nil
}

func (s *GormStore) Payout(ctx context.Context, id string) (models.PayoutRequest, error) {
	var p models.PayoutRequest
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&p).Error; err != nil {
		return models.PayoutRequest{}, notFound(err, "load payout request")
	}
	return p, nil
}

func (s *GormStore) Payouts(ctx context.Context, filter PayoutFilter) ([]models.PayoutRequest, error) {
	q := s.db.WithContext(ctx).Model(&models.PayoutRequest{})
	if filter.InstructorID != "" {
		q = q.Where("instructor_id = ?", filter.InstructorID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var items []models.PayoutRequest
	if err := q.Order("requested_at DESC").Find(&items).Error; err != nil {
		return nil, errors.Wrap(err, "list payout requests")
	}
	return items, nil
}

func (s *GormStore) AuditRecords(ctx context.Context, filter AuditFilter) ([]models.AuditRecord, error) {
	q := s.db.WithContext(ctx).Model(&models.AuditRecord{})
	if filter.ActorID != "" {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.EventType != "" {
		q = q.Where("event_type = ?", filter.EventType)
	}
	if filter.TargetID != "" {
		q = q.Where("target_id = ?", filter.TargetID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var items []models.AuditRecord
	if err := q.Order("created_at DESC").Find(&items).Error; err != nil {
		return nil, errors.Wrap(err, "list audit records")
	}
	return items, nil
}

func (s *GormStore) SaveUser(ctx context.Context, user *models.User) error {
	return errors.Wrap(s.db.WithContext(ctx).Save(user).Error, "save user")
}

func (s *GormStore) CreateEntitlement(ctx context.Context, e *models.Entitlement) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(e).Error, "create entitlement")
}

// entitlementColumns are the columns a grant refresh or a revoke may change.
// The pair, creation time and progress are fixed once the row exists.
var entitlementColumns = []string{
	"status", "source", "granted_at", "expires_at", "granted_by",
	"settlement_id", "revoked_by", "revoked_at",
}

func entitlementUpdate(db *gorm.DB, e *models.Entitlement) *gorm.DB {
	return db.Model(&models.Entitlement{}).
		Where("id = ?", e.ID).
		Select(entitlementColumns).
		Updates(e)
}

func (s *GormStore) UpdateEntitlement(ctx context.Context, e *models.Entitlement) error {
	res := entitlementUpdate(s.db.WithContext(ctx), e)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update entitlement")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateSettlement(ctx context.Context, rec *models.Settlement) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(rec).Error, "create settlement")
}

// conditional reports ErrNotFound or ErrStale for an update that matched no
// rows.
func (s *GormStore) conditional(ctx context.Context, model any, id string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return errors.Wrap(err, "recheck record")
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrStale
}

func settlementTransition(db *gorm.DB, id string, from, to models.SettlementStatus, providerTxID string, at time.Time) *gorm.DB {
	updates := map[string]any{"status": to, "updated_at": at}
	if providerTxID != "" {
		updates["provider_tx_id"] = providerTxID
	}
	return db.Model(&models.Settlement{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
}

func (s *GormStore) TransitionSettlement(ctx context.Context, id string, from, to models.SettlementStatus, providerTxID string, at time.Time) error {
	res := settlementTransition(s.db.WithContext(ctx), id, from, to, providerTxID, at)
	if res.Error != nil {
		return errors.Wrap(res.Error, "transition settlement")
	}
	if res.RowsAffected == 0 {
		return s.conditional(ctx, &models.Settlement{}, id)
	}
	return nil
}

func (s *GormStore) UpdateFraudReview(ctx context.Context, id string, review models.FraudReview, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Settlement{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"fraud_is_suspicious": review.IsSuspicious,
			"fraud_risk_score":    review.RiskScore,
			"fraud_reviewed":      review.Reviewed,
			"fraud_reviewed_by":   review.ReviewedBy,
			"fraud_reviewed_at":   review.ReviewedAt,
			"updated_at":          at,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update fraud review")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) SavePromoCode(ctx context.Context, p *models.PromoCode) error {
	return errors.Wrap(s.db.WithContext(ctx).Save(p).Error, "save promo code")
}

func (s *GormStore) CreatePayout(ctx context.Context, p *models.PayoutRequest) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(p).Error, "create payout request")
}

func payoutDecision(db *gorm.DB, id string, status models.PayoutStatus, decidedBy, note string, at time.Time) *gorm.DB {
	return db.Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ?", id, models.PayoutPending).
		Updates(map[string]any{
			"status":     status,
			"decided_by": decidedBy,
			"decided_at": at,
			"note":       note,
		})
}

func (s *GormStore) DecidePayout(ctx context.Context, id string, status models.PayoutStatus, decidedBy, note string, at time.Time) error {
	res := payoutDecision(s.db.WithContext(ctx), id, status, decidedBy, note, at)
	if res.Error != nil {
		return errors.Wrap(res.Error, "decide payout request")
	}
	if res.RowsAffected == 0 {
		return s.conditional(ctx, &models.PayoutRequest{}, id)
	}
	return nil
}

func (s *GormStore) AppendAudit(ctx context.Context, rec *models.AuditRecord) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(rec).Error, "append audit record")
}

var (
	_ Store = (*GormStore)(nil)
	_ Tx    = (*GormStore)(nil)
)
