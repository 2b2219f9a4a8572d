package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementCompleted SettlementStatus = "completed"
	SettlementFailed    SettlementStatus = "failed"
	SettlementRefunded  SettlementStatus = "refunded"
)

var settlementTransitions = map[SettlementStatus][]SettlementStatus{
	SettlementPending:   {SettlementCompleted, SettlementFailed},
	SettlementCompleted: {SettlementRefunded},
}

// CanTransition reports whether from -> to is a legal forward move.
func CanTransition(from, to SettlementStatus) bool {
	for _, next := range settlementTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FraudReview is embedded into the settlements table.
type FraudReview struct {
	IsSuspicious bool       `json:"is_suspicious"`
	RiskScore    int        `json:"risk_score"`
	Reviewed     bool       `json:"reviewed"`
	ReviewedBy   string     `gorm:"size:128" json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
}

// Settlement is one payment attempt. The net amount is derived from gross
// and discount on every read and has no column of its own.
type Settlement struct {
	ID              string           `gorm:"primaryKey;size:36" json:"id"`
	LearnerID       string           `gorm:"index;size:128;not null" json:"learner_id"`
	CourseID        string           `gorm:"size:128;not null" json:"course_id"`
	InstructorID    string           `gorm:"index;size:128;not null" json:"instructor_id"`
	GrossAmount     int64            `gorm:"not null" json:"gross_amount"`
	DiscountPercent int              `gorm:"not null;default:0" json:"discount_percent"`
	PromoCode       string           `gorm:"size:64" json:"promo_code,omitempty"`
	Currency        string           `gorm:"size:8;not null" json:"currency"`
	Status          SettlementStatus `gorm:"index;size:16;not null" json:"status"`
	ProviderTxID    string           `gorm:"size:128" json:"provider_tx_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`

	Fraud FraudReview `gorm:"embedded;embeddedPrefix:fraud_" json:"fraud_review"`
}

// NetAmount = round(gross * (1 - discount/100)) in the smallest currency unit.
func (s Settlement) NetAmount() int64 {
	return NetAmount(s.GrossAmount, s.DiscountPercent)
}

func NetAmount(gross int64, discountPercent int) int64 {
	keep := decimal.NewFromInt(int64(100 - discountPercent))
	return decimal.NewFromInt(gross).
		Mul(keep).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}

// SettlementView is the read shape handed to callers; NetAmount is filled
// from the record at the time of the read.
type SettlementView struct {
	Settlement
	NetAmount int64 `json:"net_amount"`
}

func (s Settlement) View() SettlementView {
	return SettlementView{Settlement: s, NetAmount: s.NetAmount()}
}
