// Package contracts drives an accepted proposal through work submission,
// client review and escrow release.
package contracts

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
	"github.com/aimerfeng/FinderMeister/internal/notify"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Service errors
var (
	ErrContractNotFound   = errors.New("contract not found")
	ErrNotParticipant     = errors.New("not a participant of this contract")
	ErrAlreadyReleased    = errors.New("payment has already been released")
	ErrContractClosed     = errors.New("contract no longer accepts submissions")
	ErrSubmissionPending  = errors.New("a submission is already awaiting review")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrSubmissionReviewed = errors.New("submission has already been reviewed")
	ErrEmptySubmission    = errors.New("submission text is required")

	errNotDue = errors.New("submission is no longer due for release")
)

// Service handles the contract lifecycle
type Service struct {
	db       *pgxpool.Pool
	cfg      *config.ContractConfig
	notifier notify.Notifier
	now      func() time.Time
}

// NewService creates a new contract service
func NewService(db *pgxpool.Pool, cfg *config.ContractConfig, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{
		db:       db,
		cfg:      cfg,
		notifier: notifier,
		now:      time.Now,
	}
}

// ContractView is a contract with the title of its find
type ContractView struct {
	models.Contract
	FindTitle string `json:"find_title"`
}

// ContractDetail is a contract with its submission history
type ContractDetail struct {
	ContractView
	Submissions []models.OrderSubmission `json:"submissions"`
}

// SubmitWorkRequest represents a finder's delivery
type SubmitWorkRequest struct {
	SubmissionText  string   `json:"submission_text" binding:"required"`
	AttachmentPaths []string `json:"attachment_paths"`
}

// ReviewRequest represents a client's verdict on a submission
type ReviewRequest struct {
	Accept   bool   `json:"accept"`
	Feedback string `json:"feedback"`
}

// ReleaseDueResult reports what an auto-release pass did
type ReleaseDueResult struct {
	AutoAccepted int `json:"auto_accepted"`
	Released     int `json:"released"`
}

const contractColumns = `c.id, c.find_id, c.proposal_id, c.client_id, c.finder_id, c.amount, c.escrow_status,
	c.is_completed, c.has_submission, c.created_at, c.completed_at, c.released_at`

func scanContract(row pgx.Row, c *models.Contract, extra ...any) error {
	dest := []any{
		&c.ID, &c.FindID, &c.ProposalID, &c.ClientID, &c.FinderID, &c.Amount, &c.EscrowStatus,
		&c.IsCompleted, &c.HasSubmission, &c.CreatedAt, &c.CompletedAt, &c.ReleasedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

const submissionColumns = `id, contract_id, finder_id, submission_text, attachment_paths, status,
	client_feedback, submitted_at, reviewed_at, auto_release_date`

func scanSubmission(row pgx.Row, sub *models.OrderSubmission) error {
	return row.Scan(&sub.ID, &sub.ContractID, &sub.FinderID, &sub.SubmissionText, &sub.AttachmentPaths, &sub.Status,
		&sub.ClientFeedback, &sub.SubmittedAt, &sub.ReviewedAt, &sub.AutoReleaseDate)
}

// lockContract loads a contract FOR UPDATE along with the user id of its finder
func lockContract(ctx context.Context, tx pgx.Tx, contractID uuid.UUID) (*models.Contract, uuid.UUID, error) {
	var c models.Contract
	var finderUserID uuid.UUID
	err := scanContract(tx.QueryRow(ctx, `
		SELECT `+contractColumns+`, f.user_id
		FROM contracts c JOIN finders f ON f.id = c.finder_id
		WHERE c.id = $1
		FOR UPDATE OF c
	`, contractID), &c, &finderUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, uuid.Nil, ErrContractNotFound
		}
		return nil, uuid.Nil, fmt.Errorf("failed to lock contract: %w", err)
	}
	return &c, finderUserID, nil
}

// ListMine returns the contracts a user takes part in. Admins see all contracts.
func (s *Service) ListMine(ctx context.Context, userID uuid.UUID, role models.Role) ([]ContractView, error) {
	var where string
	var args []any
	switch role {
	case models.RoleClient:
		where = `WHERE c.client_id = $1`
		args = append(args, userID)
	case models.RoleFinder:
		where = `WHERE fi.user_id = $1`
		args = append(args, userID)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+contractColumns+`, f.title
		FROM contracts c
		JOIN finds f ON f.id = c.find_id
		JOIN finders fi ON fi.id = c.finder_id
		`+where+`
		ORDER BY c.created_at DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	defer rows.Close()

	contracts := []ContractView{}
	for rows.Next() {
		var v ContractView
		if err := scanContract(rows, &v.Contract, &v.FindTitle); err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		contracts = append(contracts, v)
	}
	return contracts, rows.Err()
}

// Get returns a contract with its submissions to a participant or an admin
func (s *Service) Get(ctx context.Context, userID uuid.UUID, role models.Role, contractID uuid.UUID) (*ContractDetail, error) {
	var detail ContractDetail
	var finderUserID uuid.UUID
	err := scanContract(s.db.QueryRow(ctx, `
		SELECT `+contractColumns+`, f.title, fi.user_id
		FROM contracts c
		JOIN finds f ON f.id = c.find_id
		JOIN finders fi ON fi.id = c.finder_id
		WHERE c.id = $1
	`, contractID), &detail.Contract, &detail.FindTitle, &finderUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContractNotFound
		}
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	if role != models.RoleAdmin && detail.ClientID != userID && finderUserID != userID {
		return nil, ErrNotParticipant
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+submissionColumns+` FROM order_submissions
		WHERE contract_id = $1 ORDER BY submitted_at DESC
	`, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	detail.Submissions = []models.OrderSubmission{}
	for rows.Next() {
		var sub models.OrderSubmission
		if err := scanSubmission(rows, &sub); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		detail.Submissions = append(detail.Submissions, sub)
	}
	return &detail, rows.Err()
}

// MarkComplete lets the contract's finder flag the work as done
func (s *Service) MarkComplete(ctx context.Context, finderUserID, contractID uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		c, ownerID, err := lockContract(ctx, tx, contractID)
		if err != nil {
			return err
		}
		if ownerID != finderUserID {
			return ErrNotParticipant
		}
		if c.EscrowStatus == models.EscrowStatusReleased {
			return ErrAlreadyReleased
		}

		err = scanContract(tx.QueryRow(ctx, `
			UPDATE contracts c SET escrow_status = 'completed', is_completed = TRUE, completed_at = $2
			WHERE c.id = $1
			RETURNING `+contractColumns, contractID, s.now(),
		), &contract)
		if err != nil {
			return fmt.Errorf("failed to complete contract: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.LogContractEvent(contractID.String(), "completed", finderUserID.String())
	return &contract, nil
}

// Submit records the finder's delivered work. Payment auto-releases if the
// client does not review it before the auto-release date.
func (s *Service) Submit(ctx context.Context, finderUserID, contractID uuid.UUID, req *SubmitWorkRequest) (*models.OrderSubmission, error) {
	if req.SubmissionText == "" {
		return nil, ErrEmptySubmission
	}
	attachments := req.AttachmentPaths
	if attachments == nil {
		attachments = []string{}
	}

	now := s.now()
	var sub models.OrderSubmission
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		c, ownerID, err := lockContract(ctx, tx, contractID)
		if err != nil {
			return err
		}
		if ownerID != finderUserID {
			return ErrNotParticipant
		}
		if c.EscrowStatus == models.EscrowStatusReleased || c.IsCompleted {
			return ErrContractClosed
		}

		var pending bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM order_submissions WHERE contract_id = $1 AND status = 'submitted')
		`, contractID).Scan(&pending)
		if err != nil {
			return fmt.Errorf("failed to check submissions: %w", err)
		}
		if pending {
			return ErrSubmissionPending
		}

		releaseAt := now.AddDate(0, 0, s.cfg.AutoReleaseOnSubmitDays)
		err = scanSubmission(tx.QueryRow(ctx, `
			INSERT INTO order_submissions (contract_id, finder_id, submission_text, attachment_paths, submitted_at, auto_release_date)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+submissionColumns,
			contractID, c.FinderID, req.SubmissionText, attachments, now, releaseAt,
		), &sub)
		if err != nil {
			if database.IsUniqueViolation(err, "order_submissions_one_open") {
				return ErrSubmissionPending
			}
			return fmt.Errorf("failed to insert submission: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE contracts SET has_submission = TRUE, escrow_status = 'in_progress' WHERE id = $1
		`, contractID)
		if err != nil {
			return fmt.Errorf("failed to update contract: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.LogContractEvent(contractID.String(), "submitted", finderUserID.String())
	return &sub, nil
}

// ReviewSubmission accepts or rejects a pending submission. Rejection keeps
// has_submission set; the finder is expected to resubmit.
func (s *Service) ReviewSubmission(ctx context.Context, clientID, submissionID uuid.UUID, req *ReviewRequest) (*models.OrderSubmission, error) {
	var sub models.OrderSubmission
	var findTitle string
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var contractID uuid.UUID
		var status models.SubmissionStatus
		err := tx.QueryRow(ctx, `SELECT contract_id, status FROM order_submissions WHERE id = $1 FOR UPDATE`, submissionID).Scan(&contractID, &status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSubmissionNotFound
			}
			return fmt.Errorf("failed to lock submission: %w", err)
		}

		c, _, err := lockContract(ctx, tx, contractID)
		if err != nil {
			return err
		}
		if c.ClientID != clientID {
			return ErrNotParticipant
		}
		if status != models.SubmissionStatusSubmitted {
			return ErrSubmissionReviewed
		}

		if req.Accept {
			err = s.acceptTx(ctx, tx, c, submissionID, &sub)
		} else {
			err = scanSubmission(tx.QueryRow(ctx, `
				UPDATE order_submissions SET status = 'rejected', client_feedback = $2, reviewed_at = $3
				WHERE id = $1
				RETURNING `+submissionColumns, submissionID, req.Feedback, s.now(),
			), &sub)
		}
		if err != nil {
			return err
		}
		return tx.QueryRow(ctx, `SELECT title FROM finds WHERE id = $1`, c.FindID).Scan(&findTitle)
	})
	if err != nil {
		return nil, err
	}

	event := "submission_rejected"
	if req.Accept {
		event = "submission_accepted"
	}
	logging.LogContractEvent(sub.ContractID.String(), event, clientID.String())
	if email, err := s.finderEmail(ctx, sub.FinderID); err == nil {
		s.notifier.SubmissionReviewed(ctx, email, findTitle, req.Accept, req.Feedback)
	}
	return &sub, nil
}

// acceptTx marks a submission accepted and completes the contract and its find
func (s *Service) acceptTx(ctx context.Context, tx pgx.Tx, c *models.Contract, submissionID uuid.UUID, sub *models.OrderSubmission) error {
	now := s.now()
	err := scanSubmission(tx.QueryRow(ctx, `
		UPDATE order_submissions SET status = 'accepted', reviewed_at = $2, auto_release_date = $3
		WHERE id = $1 AND status = 'submitted'
		RETURNING `+submissionColumns, submissionID, now, now.AddDate(0, 0, s.cfg.AutoReleaseOnAcceptDays),
	), sub)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSubmissionReviewed
		}
		return fmt.Errorf("failed to accept submission: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE contracts
		SET is_completed = TRUE, completed_at = COALESCE(completed_at, $2),
			escrow_status = CASE WHEN escrow_status = 'released' THEN escrow_status ELSE 'completed' END
		WHERE id = $1
	`, c.ID, now)
	if err != nil {
		return fmt.Errorf("failed to complete contract: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE finds SET status = 'completed', updated_at = NOW() WHERE id = $1`, c.FindID)
	if err != nil {
		return fmt.Errorf("failed to complete find: %w", err)
	}
	return nil
}

// ReleasePayment pays the finder out of escrow. It succeeds at most once per contract.
func (s *Service) ReleasePayment(ctx context.Context, clientID, contractID uuid.UUID) (*models.Contract, error) {
	var contract *models.Contract
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		c, _, err := lockContract(ctx, tx, contractID)
		if err != nil {
			return err
		}
		if c.ClientID != clientID {
			return ErrNotParticipant
		}
		contract, err = s.releaseTx(ctx, tx, contractID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterRelease(ctx, contract, "manual", clientID.String())
	return contract, nil
}

// releaseTx moves the escrow to released and credits the finder. The update is
// conditional so a second release finds no row and reports ErrAlreadyReleased.
func (s *Service) releaseTx(ctx context.Context, tx pgx.Tx, contractID uuid.UUID) (*models.Contract, error) {
	var c models.Contract
	err := scanContract(tx.QueryRow(ctx, `
		UPDATE contracts c SET escrow_status = 'released', released_at = $2
		WHERE c.id = $1 AND c.escrow_status <> 'released'
		RETURNING `+contractColumns, contractID, s.now(),
	), &c)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyReleased
		}
		return nil, fmt.Errorf("failed to release contract: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE finders
		SET total_earned = total_earned + $2, available_balance = available_balance + $2,
			jobs_completed = jobs_completed + 1, updated_at = NOW()
		WHERE id = $1
	`, c.FinderID, c.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to credit finder: %w", err)
	}

	if err := RecomputeFinderLevel(ctx, tx, c.FinderID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) afterRelease(ctx context.Context, c *models.Contract, trigger, actorID string) {
	monitoring.RecordPaymentReleased(trigger, c.Amount)
	logging.LogContractEvent(c.ID.String(), "released", actorID)

	var title string
	if err := s.db.QueryRow(ctx, `SELECT title FROM finds WHERE id = $1`, c.FindID).Scan(&title); err != nil {
		log.Error().Err(err).Str("contract_id", c.ID.String()).Msg("Failed to load find for payment notice")
		return
	}
	if email, err := s.finderEmail(ctx, c.FinderID); err == nil {
		s.notifier.PaymentReleased(ctx, email, title, c.Amount)
	}
}

// ReleaseDue runs the auto-release rules as of now. Submissions the client
// never reviewed are accepted and paid; accepted submissions whose payment
// the client never released are paid.
func (s *Service) ReleaseDue(ctx context.Context, now time.Time) (*ReleaseDueResult, error) {
	result := &ReleaseDueResult{}

	rows, err := s.db.Query(ctx, `
		SELECT s.id, s.contract_id
		FROM order_submissions s JOIN contracts c ON c.id = s.contract_id
		WHERE s.status IN ('submitted', 'accepted') AND s.auto_release_date <= $1
			AND c.escrow_status <> 'released'
		ORDER BY s.auto_release_date
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find due submissions: %w", err)
	}

	type due struct {
		submissionID uuid.UUID
		contractID   uuid.UUID
	}
	var pending []due
	for rows.Next() {
		var d due
		if err := rows.Scan(&d.submissionID, &d.contractID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan due submission: %w", err)
		}
		pending = append(pending, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, d := range pending {
		released, accepted, err := s.releaseOne(ctx, d.submissionID, d.contractID, now)
		if errors.Is(err, ErrAlreadyReleased) || errors.Is(err, ErrSubmissionReviewed) || errors.Is(err, errNotDue) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("contract_id", d.contractID.String()).Msg("Auto-release failed")
			continue
		}
		if accepted {
			result.AutoAccepted++
		}
		result.Released++
		s.afterRelease(ctx, released, "auto", "system")
	}

	return result, nil
}

// releaseOne auto-releases a single due submission. The submission row is
// locked before the contract, matching ReviewSubmission, and its status and
// release date are checked again under the lock since the scan that found it
// ran outside any transaction.
func (s *Service) releaseOne(ctx context.Context, submissionID, contractID uuid.UUID, now time.Time) (*models.Contract, bool, error) {
	var released *models.Contract
	var accepted bool
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var status models.SubmissionStatus
		var releaseAt time.Time
		err := tx.QueryRow(ctx, `
			SELECT status, auto_release_date FROM order_submissions WHERE id = $1 AND contract_id = $2 FOR UPDATE
		`, submissionID, contractID).Scan(&status, &releaseAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errNotDue
			}
			return fmt.Errorf("failed to lock submission: %w", err)
		}
		if releaseAt.After(now) {
			return errNotDue
		}

		c, _, err := lockContract(ctx, tx, contractID)
		if err != nil {
			return err
		}
		switch status {
		case models.SubmissionStatusSubmitted:
			var sub models.OrderSubmission
			if err := s.acceptTx(ctx, tx, c, submissionID, &sub); err != nil {
				return err
			}
			accepted = true
		case models.SubmissionStatusAccepted:
		default:
			return errNotDue
		}
		released, err = s.releaseTx(ctx, tx, contractID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return released, accepted, nil
}

func (s *Service) finderEmail(ctx context.Context, finderID uuid.UUID) (string, error) {
	var email string
	err := s.db.QueryRow(ctx, `
		SELECT u.email FROM finders f JOIN users u ON u.id = f.user_id WHERE f.id = $1
	`, finderID).Scan(&email)
	if err != nil {
		log.Error().Err(err).Str("finder_id", finderID.String()).Msg("Failed to look up finder email")
	}
	return email, err
}

// RecomputeFinderLevel sets the finder's level to the highest one whose job
// count and rating thresholds the finder meets
func RecomputeFinderLevel(ctx context.Context, tx pgx.Tx, finderID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE finders f SET current_level_id = COALESCE((
			SELECT l.id FROM finder_levels l
			WHERE l.min_jobs_completed <= f.jobs_completed AND l.min_rating <= f.average_rating
			ORDER BY l.sort_order DESC LIMIT 1
		), f.current_level_id)
		WHERE f.id = $1
	`, finderID)
	if err != nil {
		return fmt.Errorf("failed to recompute finder level: %w", err)
	}
	return nil
}
