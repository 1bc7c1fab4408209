package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// PackageRequest creates a token package
type PackageRequest struct {
	Name        string          `json:"name" binding:"required,max=100"`
	Description string          `json:"description"`
	TokenCount  int             `json:"token_count" binding:"required"`
	Price       decimal.Decimal `json:"price" binding:"required"`
}

// UpdatePackageRequest changes the fields that are set
type UpdatePackageRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	TokenCount  *int             `json:"token_count"`
	Price       *decimal.Decimal `json:"price"`
	IsActive    *bool            `json:"is_active"`
}

const packageColumns = `id, name, description, token_count, price, is_active, created_at`

func scanPackage(row pgx.Row, p *models.TokenPackage) error {
	return row.Scan(&p.ID, &p.Name, &p.Description, &p.TokenCount, &p.Price, &p.IsActive, &p.CreatedAt)
}

// ListPackages returns token packages, cheapest first
func (s *Service) ListPackages(ctx context.Context, activeOnly bool) ([]models.TokenPackage, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+packageColumns+` FROM token_packages
		WHERE is_active OR NOT $1
		ORDER BY price, token_count
	`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	packages := []models.TokenPackage{}
	for rows.Next() {
		var p models.TokenPackage
		if err := scanPackage(rows, &p); err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		packages = append(packages, p)
	}
	return packages, rows.Err()
}

// CreatePackage adds an active token package
func (s *Service) CreatePackage(ctx context.Context, req *PackageRequest) (*models.TokenPackage, error) {
	if req.TokenCount <= 0 || !req.Price.IsPositive() {
		return nil, ErrInvalidPackage
	}

	var p models.TokenPackage
	err := scanPackage(s.db.QueryRow(ctx, `
		INSERT INTO token_packages (name, description, token_count, price)
		VALUES ($1, $2, $3, $4)
		RETURNING `+packageColumns,
		req.Name, req.Description, req.TokenCount, req.Price,
	), &p)
	if err != nil {
		return nil, fmt.Errorf("failed to create package: %w", err)
	}
	return &p, nil
}

// UpdatePackage applies a partial update to a package
func (s *Service) UpdatePackage(ctx context.Context, id uuid.UUID, req *UpdatePackageRequest) (*models.TokenPackage, error) {
	if req.TokenCount != nil && *req.TokenCount <= 0 {
		return nil, ErrInvalidPackage
	}
	if req.Price != nil && !req.Price.IsPositive() {
		return nil, ErrInvalidPackage
	}

	var p models.TokenPackage
	err := scanPackage(s.db.QueryRow(ctx, `
		UPDATE token_packages SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			token_count = COALESCE($4, token_count),
			price = COALESCE($5, price),
			is_active = COALESCE($6, is_active)
		WHERE id = $1
		RETURNING `+packageColumns,
		id, req.Name, req.Description, req.TokenCount, req.Price, req.IsActive,
	), &p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("failed to update package: %w", err)
	}
	return &p, nil
}

// DeactivatePackage hides a package from the store. Past purchases keep referencing it.
func (s *Service) DeactivatePackage(ctx context.Context, id uuid.UUID) (*models.TokenPackage, error) {
	inactive := false
	return s.UpdatePackage(ctx, id, &UpdatePackageRequest{IsActive: &inactive})
}
