package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EscrowStatus represents the escrow state of a contract
type EscrowStatus string

const (
	EscrowStatusHeld       EscrowStatus = "held"
	EscrowStatusInProgress EscrowStatus = "in_progress"
	EscrowStatusCompleted  EscrowStatus = "completed"
	EscrowStatusReleased   EscrowStatus = "released"
)

// Contract is created once when a client accepts a proposal
type Contract struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	FindID        uuid.UUID       `json:"find_id" db:"find_id"`
	ProposalID    uuid.UUID       `json:"proposal_id" db:"proposal_id"`
	ClientID      uuid.UUID       `json:"client_id" db:"client_id"`
	FinderID      uuid.UUID       `json:"finder_id" db:"finder_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	EscrowStatus  EscrowStatus    `json:"escrow_status" db:"escrow_status"`
	IsCompleted   bool            `json:"is_completed" db:"is_completed"`
	HasSubmission bool            `json:"has_submission" db:"has_submission"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	ReleasedAt    *time.Time      `json:"released_at,omitempty" db:"released_at"`
}

// SubmissionStatus represents the review state of a work submission
type SubmissionStatus string

const (
	SubmissionStatusSubmitted SubmissionStatus = "submitted"
	SubmissionStatusAccepted  SubmissionStatus = "accepted"
	SubmissionStatusRejected  SubmissionStatus = "rejected"
)

// OrderSubmission is a finder's delivered work for a contract
type OrderSubmission struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	ContractID      uuid.UUID        `json:"contract_id" db:"contract_id"`
	FinderID        uuid.UUID        `json:"finder_id" db:"finder_id"`
	SubmissionText  string           `json:"submission_text" db:"submission_text"`
	AttachmentPaths []string         `json:"attachment_paths" db:"attachment_paths"`
	Status          SubmissionStatus `json:"status" db:"status"`
	ClientFeedback  *string          `json:"client_feedback,omitempty" db:"client_feedback"`
	SubmittedAt     time.Time        `json:"submitted_at" db:"submitted_at"`
	ReviewedAt      *time.Time       `json:"reviewed_at,omitempty" db:"reviewed_at"`
	AutoReleaseDate time.Time        `json:"auto_release_date" db:"auto_release_date"`
}
