// Package ledger owns the findertoken balance of every finder.
//
// finders.token_balance is the only stored balance. Every change goes through
// DebitTx or CreditTx, which update the balance and append a token_transactions
// row inside the caller's transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/config"
	"github.com/aimerfeng/FinderMeister/internal/database"
	"github.com/aimerfeng/FinderMeister/internal/logging"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/aimerfeng/FinderMeister/internal/monitoring"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrInsufficientTokens = errors.New("insufficient findertokens")
	ErrFinderNotFound     = errors.New("finder not found")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrReasonRequired     = errors.New("reason is required")
)

// Service handles findertoken balances, grants and distributions
type Service struct {
	db  *pgxpool.Pool
	cfg *config.TokenConfig
}

// NewService creates a new ledger service
func NewService(db *pgxpool.Pool, cfg *config.TokenConfig) *Service {
	return &Service{db: db, cfg: cfg}
}

// MonthPeriod returns the calendar month key ("YYYY-MM") for t in UTC
func MonthPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// DebitTx removes amount tokens from a finder's balance. The update is
// conditional on the balance covering the amount, so a concurrent debit can
// never drive it negative.
func DebitTx(ctx context.Context, tx pgx.Tx, finderID uuid.UUID, amount int, txType models.TokenTransactionType, description string, referenceID *uuid.UUID) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int
	err := tx.QueryRow(ctx, `
		UPDATE finders SET token_balance = token_balance - $2, updated_at = NOW()
		WHERE id = $1 AND token_balance >= $2
		RETURNING token_balance
	`, finderID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM finders WHERE id = $1)", finderID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("failed to check finder: %w", err)
		}
		if !exists {
			return 0, ErrFinderNotFound
		}
		return 0, ErrInsufficientTokens
	}
	if err != nil {
		return 0, fmt.Errorf("failed to debit tokens: %w", err)
	}

	if err := appendTransaction(ctx, tx, finderID, -amount, txType, description, referenceID, balance); err != nil {
		return 0, err
	}

	monitoring.RecordTokens("debit", string(txType), amount)
	logging.LogLedger(finderID.String(), string(txType), -amount, balance)
	return balance, nil
}

// CreditTx adds amount tokens to a finder's balance
func CreditTx(ctx context.Context, tx pgx.Tx, finderID uuid.UUID, amount int, txType models.TokenTransactionType, description string, referenceID *uuid.UUID) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int
	err := tx.QueryRow(ctx, `
		UPDATE finders SET token_balance = token_balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING token_balance
	`, finderID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrFinderNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to credit tokens: %w", err)
	}

	if err := appendTransaction(ctx, tx, finderID, amount, txType, description, referenceID, balance); err != nil {
		return 0, err
	}

	monitoring.RecordTokens("credit", string(txType), amount)
	logging.LogLedger(finderID.String(), string(txType), amount, balance)
	return balance, nil
}

func appendTransaction(ctx context.Context, tx pgx.Tx, finderID uuid.UUID, amount int, txType models.TokenTransactionType, description string, referenceID *uuid.UUID, balanceAfter int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO token_transactions (finder_id, amount, type, description, reference_id, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, finderID, amount, txType, description, referenceID, balanceAfter)
	if err != nil {
		return fmt.Errorf("failed to record token transaction: %w", err)
	}
	return nil
}

// FinderIDForUser resolves the finder profile of a user
func (s *Service) FinderIDForUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	return FinderIDForUser(ctx, s.db, userID)
}

// Querier is satisfied by both a pool and a transaction
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// FinderIDForUser resolves the finder profile of a user using q
func FinderIDForUser(ctx context.Context, q Querier, userID uuid.UUID) (uuid.UUID, error) {
	var finderID uuid.UUID
	err := q.QueryRow(ctx, "SELECT id FROM finders WHERE user_id = $1", userID).Scan(&finderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrFinderNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to find finder: %w", err)
	}
	return finderID, nil
}

// Balance returns the current token balance of a finder
func (s *Service) Balance(ctx context.Context, finderID uuid.UUID) (int, error) {
	var balance int
	err := s.db.QueryRow(ctx, "SELECT token_balance FROM finders WHERE id = $1", finderID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrFinderNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Grant credits tokens to a finder on behalf of an admin and audits the grant
func (s *Service) Grant(ctx context.Context, adminID, finderID uuid.UUID, amount int, reason string) (*models.TokenGrant, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var grant models.TokenGrant
	err = tx.QueryRow(ctx, `
		INSERT INTO token_grants (finder_id, amount, reason, granted_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, finder_id, amount, reason, granted_by, created_at
	`, finderID, amount, reason, adminID).Scan(
		&grant.ID, &grant.FinderID, &grant.Amount, &grant.Reason, &grant.GrantedBy, &grant.CreatedAt,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, ErrFinderNotFound
		}
		return nil, fmt.Errorf("failed to record grant: %w", err)
	}

	if _, err := CreditTx(ctx, tx, finderID, amount, models.TokenTxGrant, reason, &grant.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &grant, nil
}

// ListGrants returns the most recent admin grants
func (s *Service) ListGrants(ctx context.Context, limit, offset int) ([]models.TokenGrant, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, finder_id, amount, reason, granted_by, created_at
		FROM token_grants
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	grants := []models.TokenGrant{}
	for rows.Next() {
		var g models.TokenGrant
		if err := rows.Scan(&g.ID, &g.FinderID, &g.Amount, &g.Reason, &g.GrantedBy, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// History returns a page of a finder's token transactions, newest first
func (s *Service) History(ctx context.Context, finderID uuid.UUID, limit, offset int) ([]models.TokenTransaction, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM token_transactions WHERE finder_id = $1", finderID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, finder_id, amount, type, description, reference_id, balance_after, created_at
		FROM token_transactions
		WHERE finder_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, finderID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs := []models.TokenTransaction{}
	for rows.Next() {
		var t models.TokenTransaction
		if err := rows.Scan(&t.ID, &t.FinderID, &t.Amount, &t.Type, &t.Description, &t.ReferenceID, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, total, rows.Err()
}

// DistributionResult summarises one monthly distribution run
type DistributionResult struct {
	Period      string `json:"period"`
	Distributed int    `json:"distributed"`
	Skipped     int    `json:"skipped"`
	Amount      int    `json:"amount_per_finder"`
}

// DistributeMonthly credits the monthly allowance to every finder that has
// not yet received it for the calendar month containing now. Running it
// twice in one month credits each finder once.
func (s *Service) DistributeMonthly(ctx context.Context, now time.Time) (*DistributionResult, error) {
	period := MonthPeriod(now)
	result := &DistributionResult{Period: period, Amount: s.cfg.MonthlyAmount}
	if s.cfg.MonthlyAmount <= 0 {
		return result, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT f.id FROM finders f
		JOIN users u ON u.id = f.user_id
		WHERE NOT u.is_banned
		AND NOT EXISTS (
			SELECT 1 FROM monthly_token_distributions d
			WHERE d.finder_id = f.id AND d.period = $1
		)
	`, period)
	if err != nil {
		return nil, fmt.Errorf("failed to list finders: %w", err)
	}
	finderIDs, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan finders: %w", err)
	}

	for _, finderID := range finderIDs {
		credited, err := s.distributeOne(ctx, finderID, period)
		if err != nil {
			return result, err
		}
		if credited {
			result.Distributed++
		} else {
			result.Skipped++
		}
	}

	return result, nil
}

func (s *Service) distributeOne(ctx context.Context, finderID uuid.UUID, period string) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var distributionID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO monthly_token_distributions (finder_id, period, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (finder_id, period) DO NOTHING
		RETURNING id
	`, finderID, period, s.cfg.MonthlyAmount).Scan(&distributionID)
	if errors.Is(err, pgx.ErrNoRows) {
		// another run already credited this finder
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record distribution: %w", err)
	}

	desc := fmt.Sprintf("Monthly findertokens for %s", period)
	if _, err := CreditTx(ctx, tx, finderID, s.cfg.MonthlyAmount, models.TokenTxMonthly, desc, &distributionID); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}
