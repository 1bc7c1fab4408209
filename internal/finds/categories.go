package finds

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aimerfeng/FinderMeister/internal/database"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CategoryRequest represents a category create request
type CategoryRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=100"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active,omitempty"`
}

// UpdateCategoryRequest represents a partial category update
type UpdateCategoryRequest struct {
	Name        *string `json:"name,omitempty" binding:"omitempty,min=1,max=100"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

const categoryColumns = `id, name, description, is_active, created_at`

func scanCategory(row pgx.Row, c *models.Category) error {
	return row.Scan(&c.ID, &c.Name, &c.Description, &c.IsActive, &c.CreatedAt)
}

// ListCategories lists categories by name
func (s *Service) ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+categoryColumns+` FROM categories
		WHERE NOT $1 OR is_active
		ORDER BY name
	`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	categories := []models.Category{}
	for rows.Next() {
		var c models.Category
		if err := scanCategory(rows, &c); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// CreateCategory adds a category; names are unique
func (s *Service) CreateCategory(ctx context.Context, req *CategoryRequest) (*models.Category, error) {
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	var c models.Category
	err := scanCategory(s.db.QueryRow(ctx, `
		INSERT INTO categories (name, description, is_active)
		VALUES ($1, $2, $3)
		RETURNING `+categoryColumns,
		strings.TrimSpace(req.Name), req.Description, isActive,
	), &c)
	if err != nil {
		if database.IsUniqueViolation(err, "") {
			return nil, ErrCategoryExists
		}
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return &c, nil
}

// UpdateCategory applies the non-nil fields of req
func (s *Service) UpdateCategory(ctx context.Context, id uuid.UUID, req *UpdateCategoryRequest) (*models.Category, error) {
	var name *string
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		name = &trimmed
	}

	var c models.Category
	err := scanCategory(s.db.QueryRow(ctx, `
		UPDATE categories SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			is_active = COALESCE($4, is_active)
		WHERE id = $1
		RETURNING `+categoryColumns,
		id, name, req.Description, req.IsActive,
	), &c)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		if database.IsUniqueViolation(err, "") {
			return nil, ErrCategoryExists
		}
		return nil, fmt.Errorf("failed to update category: %w", err)
	}
	return &c, nil
}

// DeleteCategory removes a category that no find references
func (s *Service) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM categories c
		WHERE c.id = $1
		  AND NOT EXISTS (SELECT 1 FROM finds f WHERE f.category = c.name)
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM categories WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check category: %w", err)
	}
	if exists {
		return ErrCategoryInUse
	}
	return ErrCategoryNotFound
}

// ListFinderLevels lists the seeded finder tiers in ascending order
func (s *Service) ListFinderLevels(ctx context.Context) ([]models.FinderLevel, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, description, min_jobs_completed, min_rating, badge_color, sort_order
		FROM finder_levels ORDER BY sort_order
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list finder levels: %w", err)
	}
	defer rows.Close()

	levels := []models.FinderLevel{}
	for rows.Next() {
		var l models.FinderLevel
		if err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.MinJobsCompleted, &l.MinRating, &l.BadgeColor, &l.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan finder level: %w", err)
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}
