package models

import "time"

type PayoutStatus string

const (
	PayoutPending  PayoutStatus = "pending"
	PayoutApproved PayoutStatus = "approved"
	PayoutRejected PayoutStatus = "rejected"
)

type PayoutMethod string

const (
	PayoutBankTransfer PayoutMethod = "bank_transfer"
	PayoutMobileMoney  PayoutMethod = "mobile_money"
	PayoutPayPal       PayoutMethod = "paypal"
)

func (m PayoutMethod) Valid() bool {
	switch m {
	case PayoutBankTransfer, PayoutMobileMoney, PayoutPayPal:
		return true
	}
	return false
}

// PayoutRequest (instructor withdrawal request)
type PayoutRequest struct {
	ID           string       `gorm:"primaryKey;size:36" json:"id"`
	InstructorID string       `gorm:"index;size:128;not null" json:"instructor_id"`
	Amount       int64        `gorm:"not null" json:"amount"`
	Currency     string       `gorm:"size:8;not null" json:"currency"`
	Method       PayoutMethod `gorm:"size:32;not null" json:"method"`
	Status       PayoutStatus `gorm:"index;size:16;not null" json:"status"`
	RequestedAt  time.Time    `json:"requested_at"`
	DecidedBy    string       `gorm:"size:128" json:"decided_by,omitempty"`
	DecidedAt    *time.Time   `json:"decided_at,omitempty"`
	Note         string       `json:"note,omitempty"`
}

func (PayoutRequest) TableName() string { return "payout_requests" }
