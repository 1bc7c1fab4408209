package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TokenPackage is a purchasable bundle of findertokens
type TokenPackage struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	TokenCount  int             `json:"token_count" db:"token_count"`
	Price       decimal.Decimal `json:"price" db:"price"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// PurchaseStatus represents the status of a token purchase
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

// TokenPurchase records a Stripe checkout for a token package
type TokenPurchase struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	FinderID        uuid.UUID       `json:"finder_id" db:"finder_id"`
	PackageID       uuid.UUID       `json:"package_id" db:"package_id"`
	Tokens          int             `json:"tokens" db:"tokens"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Status          PurchaseStatus  `json:"status" db:"status"`
	StripeSessionID *string         `json:"stripe_session_id,omitempty" db:"stripe_session_id"`
	FailureReason   *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}
