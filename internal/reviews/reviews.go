package reviews

import (
	"context"
	"errors"
	"fmt"

	"github.com/aimerfeng/FinderMeister/internal/contracts"
	"github.com/aimerfeng/FinderMeister/internal/database"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrInvalidRating    = errors.New("rating must be between 1 and 5")
	ErrContractNotFound = errors.New("contract not found")
	ErrNotContractOwner = errors.New("only the contract's client can review it")
	ErrNotReviewable    = errors.New("contract must be completed before it can be reviewed")
	ErrAlreadyReviewed  = errors.New("contract has already been reviewed")
)

// Service handles finder reviews
type Service struct {
	db *pgxpool.Pool
}

// NewService creates a new review service
func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// CreateReviewRequest represents a client's rating of a finished contract
type CreateReviewRequest struct {
	ContractID uuid.UUID `json:"contract_id" binding:"required"`
	Rating     int       `json:"rating" binding:"required"`
	Comment    string    `json:"comment"`
}

// ValidRating reports whether rating is on the 1..5 scale
func ValidRating(rating int) bool {
	return rating >= 1 && rating <= 5
}

// Create stores a review and refreshes the finder's average rating and level
func (s *Service) Create(ctx context.Context, clientID uuid.UUID, req *CreateReviewRequest) (*models.Review, error) {
	if !ValidRating(req.Rating) {
		return nil, ErrInvalidRating
	}

	var review models.Review
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var ownerID, finderID uuid.UUID
		var status models.EscrowStatus
		var completed bool
		err := tx.QueryRow(ctx, `
			SELECT client_id, finder_id, escrow_status, is_completed FROM contracts WHERE id = $1 FOR UPDATE
		`, req.ContractID).Scan(&ownerID, &finderID, &status, &completed)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrContractNotFound
			}
			return fmt.Errorf("failed to get contract: %w", err)
		}
		if ownerID != clientID {
			return ErrNotContractOwner
		}
		if !completed && status != models.EscrowStatusReleased {
			return ErrNotReviewable
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO reviews (contract_id, finder_id, client_id, rating, comment)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, contract_id, finder_id, client_id, rating, comment, created_at
		`, req.ContractID, finderID, clientID, req.Rating, req.Comment).Scan(
			&review.ID, &review.ContractID, &review.FinderID, &review.ClientID,
			&review.Rating, &review.Comment, &review.CreatedAt,
		)
		if err != nil {
			if database.IsUniqueViolation(err, "reviews_contract_key") {
				return ErrAlreadyReviewed
			}
			return fmt.Errorf("failed to create review: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE finders SET average_rating = (
				SELECT ROUND(AVG(rating)::numeric, 2) FROM reviews WHERE finder_id = $1
			), updated_at = NOW()
			WHERE id = $1
		`, finderID)
		if err != nil {
			return fmt.Errorf("failed to update rating: %w", err)
		}

		return contracts.RecomputeFinderLevel(ctx, tx, finderID)
	})
	if err != nil {
		return nil, err
	}
	return &review, nil
}

// ListForFinder returns a finder's reviews, newest first
func (s *Service) ListForFinder(ctx context.Context, finderID uuid.UUID) ([]models.Review, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, contract_id, finder_id, client_id, rating, comment, created_at
		FROM reviews WHERE finder_id = $1
		ORDER BY created_at DESC
	`, finderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	reviews := []models.Review{}
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.ContractID, &r.FinderID, &r.ClientID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}
