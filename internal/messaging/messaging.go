package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aimerfeng/FinderMeister/internal/database"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("not a participant of this conversation")
	ErrInvalidParticipant   = errors.New("conversations are between a client and a finder")
	ErrEmptyMessage         = errors.New("message content is required")
	ErrMessageTooLong       = errors.New("message exceeds 5000 characters")
)

// MaxMessageLength bounds message content in characters
const MaxMessageLength = 5000

// Service handles conversations and messages
type Service struct {
	db *pgxpool.Pool
}

// NewService creates a new messaging service
func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// StartConversationRequest names the other party and an optional find
type StartConversationRequest struct {
	ParticipantID uuid.UUID  `json:"participant_id" binding:"required"`
	FindID        *uuid.UUID `json:"find_id"`
}

// SendMessageRequest carries message content
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// ConversationView is a conversation as seen by one participant
type ConversationView struct {
	models.Conversation
	ParticipantName string `json:"participant_name"`
	UnreadCount     int    `json:"unread_count"`
}

const conversationColumns = `id, client_id, finder_id, find_id, last_message_at, created_at`

func scanConversation(row pgx.Row, c *models.Conversation) error {
	return row.Scan(&c.ID, &c.ClientID, &c.FinderID, &c.FindID, &c.LastMessageAt, &c.CreatedAt)
}

// StartConversation returns the conversation between the caller and the
// participant about findID, creating it on first contact
func (s *Service) StartConversation(ctx context.Context, userID uuid.UUID, role models.Role, req *StartConversationRequest) (*models.Conversation, error) {
	var otherRole models.Role
	if err := s.db.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, req.ParticipantID).Scan(&otherRole); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidParticipant
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}

	var clientID, finderID uuid.UUID
	switch {
	case role == models.RoleClient && otherRole == models.RoleFinder:
		clientID, finderID = userID, req.ParticipantID
	case role == models.RoleFinder && otherRole == models.RoleClient:
		clientID, finderID = req.ParticipantID, userID
	default:
		return nil, ErrInvalidParticipant
	}

	var conv models.Conversation
	err := scanConversation(s.db.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE client_id = $1 AND finder_id = $2 AND find_id IS NOT DISTINCT FROM $3
	`, clientID, finderID, req.FindID), &conv)
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	err = scanConversation(s.db.QueryRow(ctx, `
		INSERT INTO conversations (client_id, finder_id, find_id)
		VALUES ($1, $2, $3)
		RETURNING `+conversationColumns,
		clientID, finderID, req.FindID,
	), &conv)
	if err != nil {
		if database.IsUniqueViolation(err, "conversations_participants_key") {
			// lost a race with the other participant
			err = scanConversation(s.db.QueryRow(ctx, `
				SELECT `+conversationColumns+` FROM conversations
				WHERE client_id = $1 AND finder_id = $2 AND find_id IS NOT DISTINCT FROM $3
			`, clientID, finderID, req.FindID), &conv)
			if err == nil {
				return &conv, nil
			}
		}
		if database.IsForeignKeyViolation(err) {
			return nil, ErrInvalidParticipant
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns the caller's conversations, most recent first
func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID) ([]ConversationView, error) {
	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.client_id, c.finder_id, c.find_id, c.last_message_at, c.created_at,
			TRIM(u.first_name || ' ' || u.last_name),
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND NOT m.is_read)
		FROM conversations c
		JOIN users u ON u.id = CASE WHEN c.client_id = $1 THEN c.finder_id ELSE c.client_id END
		WHERE c.client_id = $1 OR c.finder_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []ConversationView{}
	for rows.Next() {
		var v ConversationView
		err := rows.Scan(&v.ID, &v.ClientID, &v.FinderID, &v.FindID, &v.LastMessageAt, &v.CreatedAt,
			&v.ParticipantName, &v.UnreadCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, v)
	}
	return conversations, rows.Err()
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func checkParticipant(ctx context.Context, q querier, userID, conversationID uuid.UUID) error {
	var clientID, finderID uuid.UUID
	err := q.QueryRow(ctx, `SELECT client_id, finder_id FROM conversations WHERE id = $1`, conversationID).Scan(&clientID, &finderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConversationNotFound
		}
		return fmt.Errorf("failed to get conversation: %w", err)
	}
	if userID != clientID && userID != finderID {
		return ErrNotParticipant
	}
	return nil
}

// ListMessages returns a conversation's messages oldest first and marks the
// ones sent by the other participant as read
func (s *Service) ListMessages(ctx context.Context, userID, conversationID uuid.UUID) ([]models.Message, error) {
	var messages []models.Message
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := checkParticipant(ctx, tx, userID, conversationID); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			UPDATE messages SET is_read = TRUE
			WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_read
		`, conversationID, userID)
		if err != nil {
			return fmt.Errorf("failed to mark messages read: %w", err)
		}

		rows, err := tx.Query(ctx, `
			SELECT id, conversation_id, sender_id, content, is_read, created_at
			FROM messages WHERE conversation_id = $1
			ORDER BY created_at, id
		`, conversationID)
		if err != nil {
			return fmt.Errorf("failed to list messages: %w", err)
		}
		defer rows.Close()

		messages = []models.Message{}
		for rows.Next() {
			var m models.Message
			if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan message: %w", err)
			}
			messages = append(messages, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// SendMessage appends a message to a conversation the caller takes part in
func (s *Service) SendMessage(ctx context.Context, userID, conversationID uuid.UUID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if len([]rune(content)) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	var m models.Message
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := checkParticipant(ctx, tx, userID, conversationID); err != nil {
			return err
		}

		err := tx.QueryRow(ctx, `
			INSERT INTO messages (conversation_id, sender_id, content)
			VALUES ($1, $2, $3)
			RETURNING id, conversation_id, sender_id, content, is_read, created_at
		`, conversationID, userID, content).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsRead, &m.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		_, err = tx.Exec(ctx, `UPDATE conversations SET last_message_at = $2 WHERE id = $1`, conversationID, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}
