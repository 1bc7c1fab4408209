package finds

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/aimerfeng/FinderMeister/internal/monitoring"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Service errors
var (
	ErrFindNotFound     = errors.New("find not found")
	ErrFindNotOwned     = errors.New("find not owned by user")
	ErrFindNotOpen      = errors.New("find is not open")
	ErrInvalidBudget    = errors.New("invalid budget: budget_min must be between 0 and budget_max")
	ErrCategoryNotFound = errors.New("category not found")
	ErrCategoryExists   = errors.New("category already exists")
	ErrCategoryInUse    = errors.New("category is used by existing finds")
)

// Service handles find requests and their categories
type Service struct {
	db *pgxpool.Pool
}

// NewService creates a new finds service
func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// CreateFindRequest represents a request to post a find
type CreateFindRequest struct {
	Title       string          `json:"title" binding:"required,min=1,max=200"`
	Description string          `json:"description" binding:"required"`
	Category    string          `json:"category" binding:"required,max=100"`
	BudgetMin   decimal.Decimal `json:"budget_min"`
	BudgetMax   decimal.Decimal `json:"budget_max"`
	Timeframe   string          `json:"timeframe" binding:"max=100"`
	Location    string          `json:"location" binding:"max=200"`
}

// ListFindsResponse represents a paginated list of finds
type ListFindsResponse struct {
	Finds      []models.Find `json:"finds"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// ValidateBudget checks 0 <= min <= max
func ValidateBudget(min, max decimal.Decimal) error {
	if min.IsNegative() || max.LessThan(min) {
		return ErrInvalidBudget
	}
	return nil
}

const findColumns = `id, client_id, title, description, category, budget_min, budget_max,
	timeframe, location, status, created_at, updated_at`

func scanFind(row pgx.Row, f *models.Find) error {
	return row.Scan(
		&f.ID, &f.ClientID, &f.Title, &f.Description, &f.Category,
		&f.BudgetMin, &f.BudgetMax, &f.Timeframe, &f.Location,
		&f.Status, &f.CreatedAt, &f.UpdatedAt,
	)
}

// Create posts a new open find for clientID
func (s *Service) Create(ctx context.Context, clientID uuid.UUID, req *CreateFindRequest) (*models.Find, error) {
	if err := ValidateBudget(req.BudgetMin, req.BudgetMax); err != nil {
		return nil, err
	}

	var find models.Find
	err := scanFind(s.db.QueryRow(ctx, `
		INSERT INTO finds (client_id, title, description, category, budget_min, budget_max, timeframe, location, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+findColumns,
		clientID, strings.TrimSpace(req.Title), req.Description, req.Category,
		req.BudgetMin, req.BudgetMax, req.Timeframe, req.Location, models.FindStatusOpen,
	), &find)
	if err != nil {
		return nil, fmt.Errorf("failed to create find: %w", err)
	}

	monitoring.RecordFindCreated()
	return &find, nil
}

// Get retrieves a find by ID
func (s *Service) Get(ctx context.Context, findID uuid.UUID) (*models.Find, error) {
	var find models.Find
	err := scanFind(s.db.QueryRow(ctx, `SELECT `+findColumns+` FROM finds WHERE id = $1`, findID), &find)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFindNotFound
		}
		return nil, fmt.Errorf("failed to get find: %w", err)
	}
	return &find, nil
}

// ListForClient lists every find posted by clientID, newest first
func (s *Service) ListForClient(ctx context.Context, clientID uuid.UUID) ([]models.Find, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+findColumns+` FROM finds
		WHERE client_id = $1
		ORDER BY created_at DESC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list finds: %w", err)
	}
	return collectFinds(rows)
}

// ListOpen lists open finds for finders to browse, optionally by category
func (s *Service) ListOpen(ctx context.Context, category string, page, pageSize int) (*ListFindsResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	var total int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM finds
		WHERE status = 'open' AND ($1 = '' OR category = $1)
	`, category).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count finds: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+findColumns+` FROM finds
		WHERE status = 'open' AND ($1 = '' OR category = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, category, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list finds: %w", err)
	}
	finds, err := collectFinds(rows)
	if err != nil {
		return nil, err
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &ListFindsResponse{
		Finds:      finds,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// Cancel cancels an open find. Only the owner may cancel.
func (s *Service) Cancel(ctx context.Context, clientID, findID uuid.UUID) (*models.Find, error) {
	find, err := s.Get(ctx, findID)
	if err != nil {
		return nil, err
	}
	if find.ClientID != clientID {
		return nil, ErrFindNotOwned
	}

	err = scanFind(s.db.QueryRow(ctx, `
		UPDATE finds SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'open'
		RETURNING `+findColumns,
		models.FindStatusCancelled, findID,
	), find)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFindNotOpen
		}
		return nil, fmt.Errorf("failed to cancel find: %w", err)
	}
	return find, nil
}

func collectFinds(rows pgx.Rows) ([]models.Find, error) {
	defer rows.Close()

	finds := []models.Find{}
	for rows.Next() {
		var f models.Find
		if err := scanFind(rows, &f); err != nil {
			return nil, fmt.Errorf("failed to scan find: %w", err)
		}
		finds = append(finds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate finds: %w", err)
	}
	return finds, nil
}
