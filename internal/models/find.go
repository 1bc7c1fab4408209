package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FindStatus represents the lifecycle state of a find
type FindStatus string

const (
	FindStatusOpen        FindStatus = "open"
	FindStatusInProgress  FindStatus = "in_progress"
	FindStatusCompleted   FindStatus = "completed"
	FindStatusUnderReview FindStatus = "under_review"
	FindStatusCancelled   FindStatus = "cancelled"
)

// Find is a client-posted request for a finder to fulfil
type Find struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	ClientID    uuid.UUID       `json:"client_id" db:"client_id"`
	Title       string          `json:"title" db:"title"`
	Description string          `json:"description" db:"description"`
	Category    string          `json:"category" db:"category"`
	BudgetMin   decimal.Decimal `json:"budget_min" db:"budget_min"`
	BudgetMax   decimal.Decimal `json:"budget_max" db:"budget_max"`
	Timeframe   string          `json:"timeframe" db:"timeframe"`
	Location    string          `json:"location" db:"location"`
	Status      FindStatus      `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Category groups finds
type Category struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ProposalStatus represents the state of a proposal
type ProposalStatus string

const (
	ProposalStatusPending  ProposalStatus = "pending"
	ProposalStatusAccepted ProposalStatus = "accepted"
	ProposalStatusRejected ProposalStatus = "rejected"
)

// Proposal is a finder's bid on a find
type Proposal struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	FindID    uuid.UUID       `json:"find_id" db:"find_id"`
	FinderID  uuid.UUID       `json:"finder_id" db:"finder_id"`
	Approach  string          `json:"approach" db:"approach"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Timeline  string          `json:"timeline" db:"timeline"`
	Notes     string          `json:"notes" db:"notes"`
	Status    ProposalStatus  `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
