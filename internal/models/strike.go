package models

import (
	"time"

	"github.com/google/uuid"
)

// StrikeStatus represents the state of a strike
type StrikeStatus string

const (
	StrikeStatusActive   StrikeStatus = "active"
	StrikeStatusAppealed StrikeStatus = "appealed"
	StrikeStatusResolved StrikeStatus = "resolved"
	StrikeStatusExpired  StrikeStatus = "expired"
)

// Strike is a recorded policy violation against a user.
// StrikeLevel is the escalation count at issuance; ConsequenceLevel is the
// consequence actually applied, which a severe offense can raise above it.
type Strike struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	UserID           uuid.UUID    `json:"user_id" db:"user_id"`
	StrikeLevel      int          `json:"strike_level" db:"strike_level"`
	ConsequenceLevel int          `json:"consequence_level" db:"consequence_level"`
	Offense          string       `json:"offense" db:"offense"`
	OffenseType      string       `json:"offense_type" db:"offense_type"`
	Evidence         string       `json:"evidence" db:"evidence"`
	Status           StrikeStatus `json:"status" db:"status"`
	IssuedBy         *uuid.UUID   `json:"issued_by,omitempty" db:"issued_by"`
	ContextID        *uuid.UUID   `json:"context_id,omitempty" db:"context_id"`
	ExpiresAt        time.Time    `json:"expires_at" db:"expires_at"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	ResolvedAt       *time.Time   `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Counts reports whether the strike still counts toward escalation at now
func (s *Strike) Counts(now time.Time) bool {
	return (s.Status == StrikeStatusActive || s.Status == StrikeStatusAppealed) && s.ExpiresAt.After(now)
}

// RestrictionType names a capability limitation
type RestrictionType string

const (
	RestrictionLimitedFeatures RestrictionType = "limited_features"
	RestrictionSuspended       RestrictionType = "suspended"
	RestrictionBanned          RestrictionType = "banned"
	RestrictionPosting         RestrictionType = "posting"
	RestrictionApplications    RestrictionType = "applications"
	RestrictionMessaging       RestrictionType = "messaging"
)

// Valid reports whether t is a known restriction type
func (t RestrictionType) Valid() bool {
	switch t {
	case RestrictionLimitedFeatures, RestrictionSuspended, RestrictionBanned,
		RestrictionPosting, RestrictionApplications, RestrictionMessaging:
		return true
	}
	return false
}

// Capability is a marketplace action the strike engine can withhold
type Capability string

const (
	CapabilityPost    Capability = "post"
	CapabilityApply   Capability = "apply"
	CapabilityMessage Capability = "message"
)

// UserRestriction is an active or historical limitation on a user.
// A nil EndDate means the restriction is permanent.
type UserRestriction struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	StrikeID        *uuid.UUID      `json:"strike_id,omitempty" db:"strike_id"`
	RestrictionType RestrictionType `json:"restriction_type" db:"restriction_type"`
	Reason          string          `json:"reason" db:"reason"`
	StartDate       time.Time       `json:"start_date" db:"start_date"`
	EndDate         *time.Time      `json:"end_date,omitempty" db:"end_date"`
	IsActive        bool            `json:"is_active" db:"is_active"`
	CreatedBy       *uuid.UUID      `json:"created_by,omitempty" db:"created_by"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// InEffect reports whether the restriction applies at now
func (r *UserRestriction) InEffect(now time.Time) bool {
	return r.IsActive && !r.StartDate.After(now) && (r.EndDate == nil || r.EndDate.After(now))
}

// TrainingModule names a behavioural training course
type TrainingModule string

const (
	TrainingCommunication TrainingModule = "communication"
	TrainingReliability   TrainingModule = "reliability"
)

// TrainingStatus represents progress through a training
type TrainingStatus string

const (
	TrainingStatusAssigned   TrainingStatus = "assigned"
	TrainingStatusInProgress TrainingStatus = "in_progress"
	TrainingStatusCompleted  TrainingStatus = "completed"
)

// BehavioralTraining is assigned alongside mid-level strikes
type BehavioralTraining struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	UserID      uuid.UUID      `json:"user_id" db:"user_id"`
	StrikeID    *uuid.UUID     `json:"strike_id,omitempty" db:"strike_id"`
	ModuleType  TrainingModule `json:"module_type" db:"module_type"`
	Status      TrainingStatus `json:"status" db:"status"`
	AssignedAt  time.Time      `json:"assigned_at" db:"assigned_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// DisputeType classifies what a dispute is raised against
type DisputeType string

const (
	DisputeTypeStrikeAppeal DisputeType = "strike_appeal"
	DisputeTypeContract     DisputeType = "contract"
	DisputeTypeFind         DisputeType = "find"
)

// DisputeStatus represents the state of a dispute
type DisputeStatus string

const (
	DisputeStatusPending       DisputeStatus = "pending"
	DisputeStatusInvestigating DisputeStatus = "investigating"
	DisputeStatusResolved      DisputeStatus = "resolved"
	DisputeStatusRejected      DisputeStatus = "rejected"
)

// Dispute is an appeal of a strike or a complaint about a contract or find
type Dispute struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	UserID      uuid.UUID     `json:"user_id" db:"user_id"`
	StrikeID    *uuid.UUID    `json:"strike_id,omitempty" db:"strike_id"`
	ContractID  *uuid.UUID    `json:"contract_id,omitempty" db:"contract_id"`
	FindID      *uuid.UUID    `json:"find_id,omitempty" db:"find_id"`
	DisputeType DisputeType   `json:"dispute_type" db:"dispute_type"`
	Description string        `json:"description" db:"description"`
	Evidence    string        `json:"evidence" db:"evidence"`
	Status      DisputeStatus `json:"status" db:"status"`
	Resolution  *string       `json:"resolution,omitempty" db:"resolution"`
	ResolvedBy  *uuid.UUID    `json:"resolved_by,omitempty" db:"resolved_by"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
}

// TrustedBadge is awarded to users with a clean recent record
type TrustedBadge struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	BadgeType string    `json:"badge_type" db:"badge_type"`
	AwardedAt time.Time `json:"awarded_at" db:"awarded_at"`
	IsActive  bool      `json:"is_active" db:"is_active"`
}
