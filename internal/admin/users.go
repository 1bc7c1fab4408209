// Package admin holds moderation and back-office operations.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aimerfeng/FinderMeister/internal/database"
	"github.com/aimerfeng/FinderMeister/internal/logging"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrCannotBanSelf   = errors.New("admins cannot ban themselves")
	ErrCannotBanAdmin  = errors.New("admins cannot be banned")
	ErrReasonRequired  = errors.New("ban reason is required")
	ErrPackageNotFound = errors.New("token package not found")
	ErrInvalidPackage  = errors.New("token count and price must be positive")
	ErrTicketNotFound  = errors.New("support ticket not found")
	ErrInvalidPriority = errors.New("invalid ticket priority")
	ErrInvalidStatus   = errors.New("invalid ticket status")
)

// Service runs admin operations
type Service struct {
	db *pgxpool.Pool
}

// NewService creates a new admin service
func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// ListUsersRequest filters the user directory
type ListUsersRequest struct {
	Role     models.Role `form:"role"`
	Search   string      `form:"search"`
	Page     int         `form:"page"`
	PageSize int         `form:"page_size"`
}

// ListUsersResponse is a page of users
type ListUsersResponse struct {
	Users      []models.User `json:"users"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

const userColumns = `id, email, password_hash, role, first_name, last_name, phone, is_verified,
	is_banned, banned_reason, banned_at, strike_level, created_at, updated_at`

func scanUser(row pgx.Row, u *models.User) error {
	return row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.FirstName, &u.LastName, &u.Phone, &u.IsVerified,
		&u.IsBanned, &u.BannedReason, &u.BannedAt, &u.StrikeLevel, &u.CreatedAt, &u.UpdatedAt)
}

// ListUsers pages through users, optionally by role and a name/email search
func (s *Service) ListUsers(ctx context.Context, req *ListUsersRequest) (*ListUsersResponse, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		req.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}
	if req.Role != "" {
		args = append(args, req.Role)
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	if search := strings.TrimSpace(req.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		where = append(where, fmt.Sprintf("(email LIKE $%d OR LOWER(first_name || ' ' || last_name) LIKE $%d)", len(args), len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM users WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	args = append(args, req.PageSize, (req.Page-1)*req.PageSize)
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM users WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, userColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ListUsersResponse{
		Users:      users,
		Total:      total,
		Page:       req.Page,
		PageSize:   req.PageSize,
		TotalPages: (total + req.PageSize - 1) / req.PageSize,
	}, nil
}

// Ban blocks a user permanently and records a banned restriction
func (s *Service) Ban(ctx context.Context, adminID, userID uuid.UUID, reason string) (*models.User, error) {
	if adminID == userID {
		return nil, ErrCannotBanSelf
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	var user models.User
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var role models.Role
		err := tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&role)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to lock user: %w", err)
		}
		if role == models.RoleAdmin {
			return ErrCannotBanAdmin
		}

		err = scanUser(tx.QueryRow(ctx, `
			UPDATE users SET is_banned = TRUE, banned_reason = $2, banned_at = NOW(), updated_at = NOW()
			WHERE id = $1
			RETURNING `+userColumns, userID, reason,
		), &user)
		if err != nil {
			return fmt.Errorf("failed to ban user: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO user_restrictions (user_id, restriction_type, reason, created_by)
			VALUES ($1, 'banned', $2, $3)
		`, userID, reason, adminID)
		if err != nil {
			return fmt.Errorf("failed to record ban: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.LogSecurityEvent("user_banned", userID.String(), "", "by "+adminID.String())
	return &user, nil
}

// Unban lifts a ban and deactivates every banned restriction on the user
func (s *Service) Unban(ctx context.Context, adminID, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		err := scanUser(tx.QueryRow(ctx, `
			UPDATE users SET is_banned = FALSE, banned_reason = NULL, banned_at = NULL, updated_at = NOW()
			WHERE id = $1
			RETURNING `+userColumns, userID,
		), &user)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to unban user: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE user_restrictions SET is_active = FALSE
			WHERE user_id = $1 AND restriction_type = 'banned' AND is_active
		`, userID)
		if err != nil {
			return fmt.Errorf("failed to lift ban restrictions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.LogSecurityEvent("user_unbanned", userID.String(), "", "by "+adminID.String())
	return &user, nil
}

// SetVerified marks a user verified or unverified
func (s *Service) SetVerified(ctx context.Context, userID uuid.UUID, verified bool) (*models.User, error) {
	var user models.User
	err := scanUser(s.db.QueryRow(ctx, `
		UPDATE users SET is_verified = $2, updated_at = NOW() WHERE id = $1
		RETURNING `+userColumns, userID, verified,
	), &user)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update verification: %w", err)
	}
	return &user, nil
}

// Verify marks a user verified
func (s *Service) Verify(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.SetVerified(ctx, userID, true)
}

// Unverify clears a user's verified flag
func (s *Service) Unverify(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.SetVerified(ctx, userID, false)
}

// PromoteToAdmin gives an existing, unbanned account the admin role
func (s *Service) PromoteToAdmin(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := scanUser(s.db.QueryRow(ctx, `
		UPDATE users SET role = 'admin', updated_at = NOW()
		WHERE LOWER(email) = LOWER($1) AND NOT is_banned
		RETURNING `+userColumns, strings.TrimSpace(email),
	), &user)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to promote user: %w", err)
	}

	logging.LogSecurityEvent("user_promoted_admin", user.ID.String(), "", "")
	return &user, nil
}
