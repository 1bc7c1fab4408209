package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a message thread between a client and a finder
type Conversation struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	ClientID      uuid.UUID  `json:"client_id" db:"client_id"`
	FinderID      uuid.UUID  `json:"finder_id" db:"finder_id"`
	FindID        *uuid.UUID `json:"find_id,omitempty" db:"find_id"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Message is a single entry in a conversation
type Message struct {
	ID             uuid.UUID `json:"id" db:"id"`
	ConversationID uuid.UUID `json:"conversation_id" db:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id" db:"sender_id"`
	Content        string    `json:"content" db:"content"`
	IsRead         bool      `json:"is_read" db:"is_read"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// TicketPriority represents support ticket urgency
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// TicketStatus represents the state of a support ticket
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// SupportTicket is a user-raised help request
type SupportTicket struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	UserID      uuid.UUID      `json:"user_id" db:"user_id"`
	Subject     string         `json:"subject" db:"subject"`
	Description string         `json:"description" db:"description"`
	Category    string         `json:"category" db:"category"`
	Priority    TicketPriority `json:"priority" db:"priority"`
	Status      TicketStatus   `json:"status" db:"status"`
	AssignedTo  *uuid.UUID     `json:"assigned_to,omitempty" db:"assigned_to"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
}
