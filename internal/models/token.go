package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenTransactionType classifies a findertoken balance change
type TokenTransactionType string

const (
	TokenTxSignupBonus TokenTransactionType = "signup_bonus"
	TokenTxProposal    TokenTransactionType = "proposal"
	TokenTxGrant       TokenTransactionType = "grant"
	TokenTxMonthly     TokenTransactionType = "monthly"
	TokenTxPurchase    TokenTransactionType = "purchase"
	TokenTxRefund      TokenTransactionType = "refund"
)

// TokenTransaction is one audited findertoken delta
type TokenTransaction struct {
	ID           uuid.UUID            `json:"id" db:"id"`
	FinderID     uuid.UUID            `json:"finder_id" db:"finder_id"`
	Amount       int                  `json:"amount" db:"amount"`
	Type         TokenTransactionType `json:"type" db:"type"`
	Description  string               `json:"description" db:"description"`
	ReferenceID  *uuid.UUID           `json:"reference_id,omitempty" db:"reference_id"`
	BalanceAfter int                  `json:"balance_after" db:"balance_after"`
	CreatedAt    time.Time            `json:"created_at" db:"created_at"`
}

// TokenGrant audits an admin credit of findertokens
type TokenGrant struct {
	ID        uuid.UUID `json:"id" db:"id"`
	FinderID  uuid.UUID `json:"finder_id" db:"finder_id"`
	Amount    int       `json:"amount" db:"amount"`
	Reason    string    `json:"reason" db:"reason"`
	GrantedBy uuid.UUID `json:"granted_by" db:"granted_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
