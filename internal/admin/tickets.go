package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateTicketRequest represents a user's support request
type CreateTicketRequest struct {
	Subject     string                `json:"subject" binding:"required,max=200"`
	Description string                `json:"description" binding:"required"`
	Category    string                `json:"category"`
	Priority    models.TicketPriority `json:"priority"`
}

// UpdateTicketRequest is an admin change to a ticket
type UpdateTicketRequest struct {
	Status     *models.TicketStatus   `json:"status"`
	Priority   *models.TicketPriority `json:"priority"`
	AssignedTo *uuid.UUID             `json:"assigned_to"`
}

func validPriority(p models.TicketPriority) bool {
	switch p {
	case models.TicketPriorityLow, models.TicketPriorityMedium, models.TicketPriorityHigh, models.TicketPriorityUrgent:
		return true
	}
	return false
}

func validStatus(s models.TicketStatus) bool {
	switch s {
	case models.TicketStatusOpen, models.TicketStatusInProgress, models.TicketStatusResolved, models.TicketStatusClosed:
		return true
	}
	return false
}

const ticketColumns = `id, user_id, subject, description, category, priority, status, assigned_to,
	created_at, updated_at, resolved_at`

func scanTicket(row pgx.Row, t *models.SupportTicket) error {
	return row.Scan(&t.ID, &t.UserID, &t.Subject, &t.Description, &t.Category, &t.Priority, &t.Status, &t.AssignedTo,
		&t.CreatedAt, &t.UpdatedAt, &t.ResolvedAt)
}

// CreateTicket opens a support ticket for userID
func (s *Service) CreateTicket(ctx context.Context, userID uuid.UUID, req *CreateTicketRequest) (*models.SupportTicket, error) {
	if req.Priority == "" {
		req.Priority = models.TicketPriorityMedium
	}
	if !validPriority(req.Priority) {
		return nil, ErrInvalidPriority
	}
	if req.Category == "" {
		req.Category = "general"
	}

	var t models.SupportTicket
	err := scanTicket(s.db.QueryRow(ctx, `
		INSERT INTO support_tickets (user_id, subject, description, category, priority)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+ticketColumns,
		userID, req.Subject, req.Description, req.Category, req.Priority,
	), &t)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	return &t, nil
}

// ListMyTickets returns a user's own tickets
func (s *Service) ListMyTickets(ctx context.Context, userID uuid.UUID) ([]models.SupportTicket, error) {
	return s.listTickets(ctx, `WHERE user_id = $1`, userID)
}

// ListTickets returns all tickets, optionally with one status
func (s *Service) ListTickets(ctx context.Context, status models.TicketStatus) ([]models.SupportTicket, error) {
	if status == "" {
		return s.listTickets(ctx, "")
	}
	if !validStatus(status) {
		return nil, ErrInvalidStatus
	}
	return s.listTickets(ctx, `WHERE status = $1`, status)
}

func (s *Service) listTickets(ctx context.Context, where string, args ...any) ([]models.SupportTicket, error) {
	rows, err := s.db.Query(ctx, `SELECT `+ticketColumns+` FROM support_tickets `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	tickets := []models.SupportTicket{}
	for rows.Next() {
		var t models.SupportTicket
		if err := scanTicket(rows, &t); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// UpdateTicket changes status, priority or assignee. Moving to resolved
// stamps resolved_at; reopening clears it.
func (s *Service) UpdateTicket(ctx context.Context, id uuid.UUID, req *UpdateTicketRequest) (*models.SupportTicket, error) {
	if req.Status != nil && !validStatus(*req.Status) {
		return nil, ErrInvalidStatus
	}
	if req.Priority != nil && !validPriority(*req.Priority) {
		return nil, ErrInvalidPriority
	}

	var t models.SupportTicket
	err := scanTicket(s.db.QueryRow(ctx, `
		UPDATE support_tickets SET
			status = COALESCE($2::varchar, status),
			priority = COALESCE($3::varchar, priority),
			assigned_to = COALESCE($4, assigned_to),
			resolved_at = CASE
				WHEN $2::varchar IN ('resolved', 'closed') THEN COALESCE(resolved_at, NOW())
				WHEN $2::varchar IN ('open', 'in_progress') THEN NULL
				ELSE resolved_at
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+ticketColumns,
		id, req.Status, req.Priority, req.AssignedTo,
	), &t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to update ticket: %w", err)
	}
	return &t, nil
}
