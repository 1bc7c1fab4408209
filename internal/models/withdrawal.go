package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalMethod represents the payout rail
type WithdrawalMethod string

const (
	WithdrawalMethodBank   WithdrawalMethod = "bank"
	WithdrawalMethodPaypal WithdrawalMethod = "paypal"
)

// WithdrawalStatus represents the status of a withdrawal
type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "pending"
	WithdrawalStatusApproved WithdrawalStatus = "approved"
	WithdrawalStatusRejected WithdrawalStatus = "rejected"
	WithdrawalStatusPaid     WithdrawalStatus = "paid"
)

// Withdrawal is a finder payout request against available balance
type Withdrawal struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	FinderID    uuid.UUID        `json:"finder_id" db:"finder_id"`
	Amount      decimal.Decimal  `json:"amount" db:"amount"`
	Fee         decimal.Decimal  `json:"fee" db:"fee"`
	NetAmount   decimal.Decimal  `json:"net_amount" db:"net_amount"`
	Method      WithdrawalMethod `json:"method" db:"method"`
	Destination string           `json:"destination" db:"destination"`
	Status      WithdrawalStatus `json:"status" db:"status"`
	AdminNotes  *string          `json:"admin_notes,omitempty" db:"admin_notes"`
	ProcessedBy *uuid.UUID       `json:"processed_by,omitempty" db:"processed_by"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty" db:"processed_at"`
}
