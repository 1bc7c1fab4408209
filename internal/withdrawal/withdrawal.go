package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/config"
	"github.com/aimerfeng/FinderMeister/internal/database"
	"github.com/aimerfeng/FinderMeister/internal/ledger"
	"github.com/aimerfeng/FinderMeister/internal/logging"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/aimerfeng/FinderMeister/internal/monitoring"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Service errors
var (
	ErrInsufficientBalance     = errors.New("insufficient balance for withdrawal")
	ErrBelowMinimumThreshold   = errors.New("withdrawal amount below minimum threshold")
	ErrWithdrawalNotFound      = errors.New("withdrawal not found")
	ErrWithdrawalNotPending    = errors.New("withdrawal is not in pending status")
	ErrWithdrawalNotApproved   = errors.New("withdrawal is not approved")
	ErrInvalidWithdrawalMethod = errors.New("invalid withdrawal method")
	ErrDestinationRequired     = errors.New("destination is required")
)

// bankMinimumFee is the smallest fee charged on a bank transfer
var bankMinimumFee = decimal.NewFromInt(1)

// Service handles finder payouts out of available balance
type Service struct {
	db     *pgxpool.Pool
	config *config.WithdrawalConfig
}

// NewService creates a new withdrawal service
func NewService(db *pgxpool.Pool, cfg *config.WithdrawalConfig) *Service {
	return &Service{
		db:     db,
		config: cfg,
	}
}

// CreateWithdrawalRequest represents a request to create a withdrawal
type CreateWithdrawalRequest struct {
	Amount      decimal.Decimal         `json:"amount" binding:"required"`
	Method      models.WithdrawalMethod `json:"method" binding:"required"`
	Destination string                  `json:"destination" binding:"required"`
}

// WithdrawalHistoryResponse represents a page of withdrawals
type WithdrawalHistoryResponse struct {
	Withdrawals []models.Withdrawal `json:"withdrawals"`
	Total       int                 `json:"total"`
	Page        int                 `json:"page"`
	PageSize    int                 `json:"page_size"`
	TotalPages  int                 `json:"total_pages"`
}

// EarningsInfo represents a finder's earnings position
type EarningsInfo struct {
	TotalEarned       decimal.Decimal `json:"total_earned"`
	AvailableBalance  decimal.Decimal `json:"available_balance"`
	PendingPayouts    decimal.Decimal `json:"pending_payouts"`
	MinimumWithdrawal decimal.Decimal `json:"minimum_withdrawal"`
	FeeRate           decimal.Decimal `json:"fee_rate"`
}

// FeeBreakdown shows how a withdrawal amount splits into fee and payout
type FeeBreakdown struct {
	GrossAmount   decimal.Decimal `json:"gross_amount"`
	Fee           decimal.Decimal `json:"fee"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	FeePercentage decimal.Decimal `json:"fee_percentage"`
}

// ReviewRequest carries admin notes for approve/reject
type ReviewRequest struct {
	Notes string `json:"notes"`
}

const withdrawalColumns = `id, finder_id, amount, fee, net_amount, method, destination, status,
	admin_notes, processed_by, created_at, processed_at`

func scanWithdrawal(row pgx.Row, w *models.Withdrawal) error {
	return row.Scan(&w.ID, &w.FinderID, &w.Amount, &w.Fee, &w.NetAmount, &w.Method, &w.Destination, &w.Status,
		&w.AdminNotes, &w.ProcessedBy, &w.CreatedAt, &w.ProcessedAt)
}

// CalculateFee returns the fee for a withdrawal of amount over method.
// Bank transfers never cost less than the bank minimum, capped at the amount itself.
func (s *Service) CalculateFee(amount decimal.Decimal, method models.WithdrawalMethod) decimal.Decimal {
	fee := amount.Mul(s.config.FeeRate).Round(2)
	if method == models.WithdrawalMethodBank && fee.LessThan(bankMinimumFee) {
		fee = bankMinimumFee
	}
	if fee.GreaterThan(amount) {
		fee = amount
	}
	return fee
}

// CalculateFeeBreakdown splits amount into fee and net payout
func (s *Service) CalculateFeeBreakdown(amount decimal.Decimal, method models.WithdrawalMethod) *FeeBreakdown {
	fee := s.CalculateFee(amount, method)
	var pct decimal.Decimal
	if amount.IsPositive() {
		pct = fee.Div(amount).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return &FeeBreakdown{
		GrossAmount:   amount,
		Fee:           fee,
		NetAmount:     amount.Sub(fee),
		FeePercentage: pct,
	}
}

// ValidateWithdrawalAmount checks amount against the minimum and the available balance
func (s *Service) ValidateWithdrawalAmount(amount, availableBalance decimal.Decimal) error {
	if amount.LessThan(s.config.MinimumAmount) || !amount.IsPositive() {
		return ErrBelowMinimumThreshold
	}
	if amount.GreaterThan(availableBalance) {
		return ErrInsufficientBalance
	}
	return nil
}

// GetEarningsInfo reports a finder's earnings and payout position
func (s *Service) GetEarningsInfo(ctx context.Context, finderUserID uuid.UUID) (*EarningsInfo, error) {
	info := &EarningsInfo{
		MinimumWithdrawal: s.config.MinimumAmount,
		FeeRate:           s.config.FeeRate,
	}
	err := s.db.QueryRow(ctx, `
		SELECT f.total_earned, f.available_balance,
			COALESCE((SELECT SUM(w.amount) FROM withdrawals w
				WHERE w.finder_id = f.id AND w.status IN ('pending', 'approved')), 0)
		FROM finders f WHERE f.user_id = $1
	`, finderUserID).Scan(&info.TotalEarned, &info.AvailableBalance, &info.PendingPayouts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrFinderNotFound
		}
		return nil, fmt.Errorf("failed to get earnings: %w", err)
	}
	return info, nil
}

// Request creates a pending withdrawal and deducts its amount from the
// finder's available balance in the same transaction
func (s *Service) Request(ctx context.Context, finderUserID uuid.UUID, req *CreateWithdrawalRequest) (*models.Withdrawal, error) {
	switch req.Method {
	case models.WithdrawalMethodBank, models.WithdrawalMethodPaypal:
	default:
		return nil, ErrInvalidWithdrawalMethod
	}
	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		return nil, ErrDestinationRequired
	}
	if req.Amount.LessThan(s.config.MinimumAmount) || !req.Amount.IsPositive() {
		return nil, ErrBelowMinimumThreshold
	}

	fee := s.CalculateFee(req.Amount, req.Method)

	var w models.Withdrawal
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		finderID, err := ledger.FinderIDForUser(ctx, tx, finderUserID)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE finders SET available_balance = available_balance - $2, updated_at = NOW()
			WHERE id = $1 AND available_balance >= $2
		`, finderID, req.Amount)
		if err != nil {
			return fmt.Errorf("failed to deduct balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrInsufficientBalance
		}

		err = scanWithdrawal(tx.QueryRow(ctx, `
			INSERT INTO withdrawals (finder_id, amount, fee, net_amount, method, destination, status)
			VALUES ($1, $2, $3, $4, $5, $6, 'pending')
			RETURNING `+withdrawalColumns,
			finderID, req.Amount, fee, req.Amount.Sub(fee), req.Method, destination,
		), &w)
		if err != nil {
			return fmt.Errorf("failed to create withdrawal record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordWithdrawal("requested")
	logging.LogPayment(finderUserID.String(), w.ID.String(), string(w.Method), "withdrawal_pending", w.Amount)
	return &w, nil
}

// History returns a finder's withdrawals, newest first
func (s *Service) History(ctx context.Context, finderUserID uuid.UUID, page, pageSize int) (*WithdrawalHistoryResponse, error) {
	finderID, err := ledger.FinderIDForUser(ctx, s.db, finderUserID)
	if err != nil {
		return nil, err
	}
	return s.page(ctx, `WHERE finder_id = $1`, []any{finderID}, page, pageSize)
}

// ListPending returns withdrawals awaiting an admin decision, oldest first
func (s *Service) ListPending(ctx context.Context, page, pageSize int) (*WithdrawalHistoryResponse, error) {
	return s.page(ctx, `WHERE status = 'pending'`, nil, page, pageSize)
}

func (s *Service) page(ctx context.Context, where string, args []any, page, pageSize int) (*WithdrawalHistoryResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM withdrawals `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count withdrawals: %w", err)
	}

	order := "created_at DESC"
	if len(args) == 0 {
		order = "created_at ASC"
	}
	n := len(args)
	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM withdrawals %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d
	`, withdrawalColumns, where, order, n+1, n+2), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer rows.Close()

	withdrawals := []models.Withdrawal{}
	for rows.Next() {
		var w models.Withdrawal
		if err := scanWithdrawal(rows, &w); err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &WithdrawalHistoryResponse{
		Withdrawals: withdrawals,
		Total:       total,
		Page:        page,
		PageSize:    pageSize,
		TotalPages:  (total + pageSize - 1) / pageSize,
	}, nil
}

// Approve moves a pending withdrawal to approved
func (s *Service) Approve(ctx context.Context, adminID, withdrawalID uuid.UUID, notes string) (*models.Withdrawal, error) {
	w, err := s.transition(ctx, adminID, withdrawalID, models.WithdrawalStatusPending, models.WithdrawalStatusApproved, notes)
	if err != nil {
		return nil, err
	}
	monitoring.RecordWithdrawal("approved")
	return w, nil
}

// MarkPaid records that an approved withdrawal has been sent
func (s *Service) MarkPaid(ctx context.Context, adminID, withdrawalID uuid.UUID, notes string) (*models.Withdrawal, error) {
	w, err := s.transition(ctx, adminID, withdrawalID, models.WithdrawalStatusApproved, models.WithdrawalStatusPaid, notes)
	if errors.Is(err, ErrWithdrawalNotPending) {
		return nil, ErrWithdrawalNotApproved
	}
	if err != nil {
		return nil, err
	}
	monitoring.RecordWithdrawal("paid")
	logging.LogPayment(adminID.String(), w.ID.String(), string(w.Method), "withdrawal_paid", w.NetAmount)
	return w, nil
}

// Reject declines a pending withdrawal and returns the amount to the finder's available balance
func (s *Service) Reject(ctx context.Context, adminID, withdrawalID uuid.UUID, notes string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		updated, err := transitionTx(ctx, tx, adminID, withdrawalID, models.WithdrawalStatusPending, models.WithdrawalStatusRejected, notes)
		if err != nil {
			return err
		}
		w = *updated

		_, err = tx.Exec(ctx, `
			UPDATE finders SET available_balance = available_balance + $2, updated_at = NOW() WHERE id = $1
		`, w.FinderID, w.Amount)
		if err != nil {
			return fmt.Errorf("failed to refund balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordWithdrawal("rejected")
	return &w, nil
}

func (s *Service) transition(ctx context.Context, adminID, withdrawalID uuid.UUID, from, to models.WithdrawalStatus, notes string) (*models.Withdrawal, error) {
	var w *models.Withdrawal
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		w, err = transitionTx(ctx, tx, adminID, withdrawalID, from, to, notes)
		return err
	})
	return w, err
}

// transitionTx moves a withdrawal from one status to another, failing when it
// has already left the from status
func transitionTx(ctx context.Context, tx pgx.Tx, adminID, withdrawalID uuid.UUID, from, to models.WithdrawalStatus, notes string) (*models.Withdrawal, error) {
	var notesArg *string
	if notes != "" {
		notesArg = &notes
	}

	var w models.Withdrawal
	err := scanWithdrawal(tx.QueryRow(ctx, `
		UPDATE withdrawals
		SET status = $3, admin_notes = COALESCE($4, admin_notes), processed_by = $5, processed_at = $6
		WHERE id = $1 AND status = $2
		RETURNING `+withdrawalColumns,
		withdrawalID, from, to, notesArg, adminID, time.Now(),
	), &w)
	if err == nil {
		return &w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update withdrawal: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM withdrawals WHERE id = $1)`, withdrawalID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check withdrawal: %w", err)
	}
	if !exists {
		return nil, ErrWithdrawalNotFound
	}
	return nil, ErrWithdrawalNotPending
}
