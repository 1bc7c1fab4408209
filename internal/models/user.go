package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role represents the marketplace role of a user
type Role string

const (
	RoleClient Role = "client"
	RoleFinder Role = "finder"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleFinder, RoleAdmin:
		return true
	}
	return false
}

// User represents a user in the system
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Role         Role       `json:"role" db:"role"`
	FirstName    string     `json:"first_name" db:"first_name"`
	LastName     string     `json:"last_name" db:"last_name"`
	Phone        *string    `json:"phone,omitempty" db:"phone"`
	IsVerified   bool       `json:"is_verified" db:"is_verified"`
	IsBanned     bool       `json:"is_banned" db:"is_banned"`
	BannedReason *string    `json:"banned_reason,omitempty" db:"banned_reason"`
	BannedAt     *time.Time `json:"banned_at,omitempty" db:"banned_at"`
	StrikeLevel  int        `json:"strike_level" db:"strike_level"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Finder is the 1:1 extension of a user with the finder role
type Finder struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	UserID           uuid.UUID        `json:"user_id" db:"user_id"`
	Bio              string           `json:"bio" db:"bio"`
	Skills           []string         `json:"skills" db:"skills"`
	HourlyRate       *decimal.Decimal `json:"hourly_rate,omitempty" db:"hourly_rate"`
	JobsCompleted    int              `json:"jobs_completed" db:"jobs_completed"`
	TotalEarned      decimal.Decimal  `json:"total_earned" db:"total_earned"`
	AvailableBalance decimal.Decimal  `json:"available_balance" db:"available_balance"`
	AverageRating    decimal.Decimal  `json:"average_rating" db:"average_rating"`
	CurrentLevelID   *uuid.UUID       `json:"current_level_id,omitempty" db:"current_level_id"`
	TokenBalance     int              `json:"token_balance" db:"token_balance"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// FinderLevel is a seeded tier a finder reaches by jobs and rating
type FinderLevel struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	Name             string          `json:"name" db:"name"`
	Description      string          `json:"description" db:"description"`
	MinJobsCompleted int             `json:"min_jobs_completed" db:"min_jobs_completed"`
	MinRating        decimal.Decimal `json:"min_rating" db:"min_rating"`
	BadgeColor       string          `json:"badge_color" db:"badge_color"`
	SortOrder        int             `json:"sort_order" db:"sort_order"`
}
