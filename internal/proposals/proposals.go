package proposals

import (
	"context"
	"errors"
	"fmt"

	"github.com/aimerfeng/FinderMeister/internal/config"
	"github.com/aimerfeng/FinderMeister/internal/database"
	"github.com/aimerfeng/FinderMeister/internal/ledger"
	"github.com/aimerfeng/FinderMeister/internal/logging"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/aimerfeng/FinderMeister/internal/monitoring"
	"github.com/aimerfeng/FinderMeister/internal/notify"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Service errors
var (
	ErrFindNotFound       = errors.New("find not found")
	ErrFindNotOpen        = errors.New("find is not open for proposals")
	ErrProposalNotFound   = errors.New("proposal not found")
	ErrProposalNotPending = errors.New("proposal is not pending")
	ErrNotFindOwner       = errors.New("find not owned by user")
	ErrDuplicateProposal  = errors.New("you have already submitted a proposal for this find")
	ErrAlreadyAccepted    = errors.New("a proposal for this find has already been accepted")
	ErrInvalidPrice       = errors.New("price must be greater than zero")
)

// Service runs proposal submission and acceptance
type Service struct {
	db       *pgxpool.Pool
	tokens   *config.TokenConfig
	notifier notify.Notifier
}

// NewService creates a new proposal service
func NewService(db *pgxpool.Pool, tokens *config.TokenConfig, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{
		db:       db,
		tokens:   tokens,
		notifier: notifier,
	}
}

// SubmitRequest represents a finder's bid
type SubmitRequest struct {
	FindID   uuid.UUID       `json:"find_id" binding:"required"`
	Approach string          `json:"approach" binding:"required"`
	Price    decimal.Decimal `json:"price" binding:"required"`
	Timeline string          `json:"timeline" binding:"required,max=100"`
	Notes    string          `json:"notes"`
}

// ProposalWithFind is a proposal together with the title of its find
type ProposalWithFind struct {
	models.Proposal
	FindTitle string `json:"find_title"`
}

// AcceptResult is the outcome of accepting a proposal
type AcceptResult struct {
	Proposal models.Proposal `json:"proposal"`
	Contract models.Contract `json:"contract"`
}

const proposalColumns = `id, find_id, finder_id, approach, price, timeline, notes, status, created_at`

func scanProposal(row pgx.Row, p *models.Proposal) error {
	return row.Scan(&p.ID, &p.FindID, &p.FinderID, &p.Approach, &p.Price, &p.Timeline, &p.Notes, &p.Status, &p.CreatedAt)
}

// Submit places a proposal and spends the proposal token in one transaction.
// The find row is locked so acceptance cannot race a new submission.
func (s *Service) Submit(ctx context.Context, finderUserID uuid.UUID, req *SubmitRequest) (*models.Proposal, error) {
	if !req.Price.IsPositive() {
		return nil, ErrInvalidPrice
	}

	var proposal models.Proposal
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		finderID, err := ledger.FinderIDForUser(ctx, tx, finderUserID)
		if err != nil {
			return err
		}

		var status models.FindStatus
		var title string
		err = tx.QueryRow(ctx, `SELECT status, title FROM finds WHERE id = $1 FOR UPDATE`, req.FindID).Scan(&status, &title)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrFindNotFound
			}
			return fmt.Errorf("failed to lock find: %w", err)
		}
		if status != models.FindStatusOpen {
			return ErrFindNotOpen
		}

		var accepted, duplicate bool
		err = tx.QueryRow(ctx, `
			SELECT
				EXISTS(SELECT 1 FROM proposals WHERE find_id = $1 AND status = 'accepted'),
				EXISTS(SELECT 1 FROM proposals WHERE find_id = $1 AND finder_id = $2)
		`, req.FindID, finderID).Scan(&accepted, &duplicate)
		if err != nil {
			return fmt.Errorf("failed to check proposals: %w", err)
		}
		if accepted {
			return ErrAlreadyAccepted
		}
		if duplicate {
			return ErrDuplicateProposal
		}

		err = scanProposal(tx.QueryRow(ctx, `
			INSERT INTO proposals (find_id, finder_id, approach, price, timeline, notes, status)
			VALUES ($1, $2, $3, $4, $5, $6, 'pending')
			RETURNING `+proposalColumns,
			req.FindID, finderID, req.Approach, req.Price, req.Timeline, req.Notes,
		), &proposal)
		if err != nil {
			if database.IsUniqueViolation(err, "proposals_find_finder_key") {
				return ErrDuplicateProposal
			}
			return fmt.Errorf("failed to insert proposal: %w", err)
		}

		_, err = ledger.DebitTx(ctx, tx, finderID, s.tokens.ProposalCost, models.TokenTxProposal,
			fmt.Sprintf("Proposal for %q", title), &proposal.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordProposalSubmitted()
	return &proposal, nil
}

// Accept hires the finder behind a pending proposal: the proposal is
// accepted, an escrow contract is created for its price and the find moves
// to in_progress, all in one transaction. The finder is emailed after commit.
func (s *Service) Accept(ctx context.Context, clientID, proposalID uuid.UUID) (*AcceptResult, error) {
	var result AcceptResult
	var findTitle string

	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		p := &result.Proposal
		err := scanProposal(tx.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = $1 FOR UPDATE`, proposalID), p)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrProposalNotFound
			}
			return fmt.Errorf("failed to lock proposal: %w", err)
		}

		var ownerID uuid.UUID
		var status models.FindStatus
		err = tx.QueryRow(ctx, `SELECT client_id, status, title FROM finds WHERE id = $1 FOR UPDATE`, p.FindID).Scan(&ownerID, &status, &findTitle)
		if err != nil {
			return fmt.Errorf("failed to lock find: %w", err)
		}
		if ownerID != clientID {
			return ErrNotFindOwner
		}
		if p.Status != models.ProposalStatusPending {
			return ErrProposalNotPending
		}
		if status != models.FindStatusOpen {
			if status == models.FindStatusInProgress || status == models.FindStatusCompleted {
				return ErrAlreadyAccepted
			}
			return ErrFindNotOpen
		}

		err = scanProposal(tx.QueryRow(ctx, `
			UPDATE proposals SET status = 'accepted' WHERE id = $1
			RETURNING `+proposalColumns, proposalID,
		), p)
		if err != nil {
			if database.IsUniqueViolation(err, "proposals_one_accepted_per_find") {
				return ErrAlreadyAccepted
			}
			return fmt.Errorf("failed to accept proposal: %w", err)
		}

		c := &result.Contract
		err = tx.QueryRow(ctx, `
			INSERT INTO contracts (find_id, proposal_id, client_id, finder_id, amount, escrow_status)
			VALUES ($1, $2, $3, $4, $5, 'held')
			RETURNING id, find_id, proposal_id, client_id, finder_id, amount, escrow_status,
				is_completed, has_submission, created_at, completed_at, released_at
		`, p.FindID, p.ID, clientID, p.FinderID, p.Price).Scan(
			&c.ID, &c.FindID, &c.ProposalID, &c.ClientID, &c.FinderID, &c.Amount, &c.EscrowStatus,
			&c.IsCompleted, &c.HasSubmission, &c.CreatedAt, &c.CompletedAt, &c.ReleasedAt,
		)
		if err != nil {
			if database.IsUniqueViolation(err, "") {
				return ErrAlreadyAccepted
			}
			return fmt.Errorf("failed to create contract: %w", err)
		}

		_, err = tx.Exec(ctx, `UPDATE finds SET status = 'in_progress', updated_at = NOW() WHERE id = $1`, p.FindID)
		if err != nil {
			return fmt.Errorf("failed to update find: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordContractCreated()
	logging.LogContractEvent(result.Contract.ID.String(), "created", clientID.String())
	s.notifyAccepted(ctx, result.Proposal.FinderID, findTitle, result.Contract.Amount)
	return &result, nil
}

func (s *Service) notifyAccepted(ctx context.Context, finderID uuid.UUID, findTitle string, amount decimal.Decimal) {
	var email string
	err := s.db.QueryRow(ctx, `
		SELECT u.email FROM finders f JOIN users u ON u.id = f.user_id WHERE f.id = $1
	`, finderID).Scan(&email)
	if err != nil {
		log.Error().Err(err).Str("finder_id", finderID.String()).Msg("Failed to look up finder email")
		return
	}
	s.notifier.ProposalAccepted(ctx, email, findTitle, amount)
}

// Reject declines a pending proposal. The spent token is not refunded.
func (s *Service) Reject(ctx context.Context, clientID, proposalID uuid.UUID) (*models.Proposal, error) {
	var proposal models.Proposal
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var ownerID uuid.UUID
		var status models.ProposalStatus
		err := tx.QueryRow(ctx, `
			SELECT f.client_id, p.status FROM proposals p JOIN finds f ON f.id = p.find_id
			WHERE p.id = $1 FOR UPDATE OF p
		`, proposalID).Scan(&ownerID, &status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrProposalNotFound
			}
			return fmt.Errorf("failed to lock proposal: %w", err)
		}
		if ownerID != clientID {
			return ErrNotFindOwner
		}
		if status != models.ProposalStatusPending {
			return ErrProposalNotPending
		}

		err = scanProposal(tx.QueryRow(ctx, `
			UPDATE proposals SET status = 'rejected' WHERE id = $1
			RETURNING `+proposalColumns, proposalID,
		), &proposal)
		if err != nil {
			return fmt.Errorf("failed to reject proposal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &proposal, nil
}

// ListForClient lists proposals received on any of clientID's finds
func (s *Service) ListForClient(ctx context.Context, clientID uuid.UUID) ([]ProposalWithFind, error) {
	return s.list(ctx, `WHERE f.client_id = $1`, clientID)
}

// ListForFinder lists proposals submitted by the finder profile of finderUserID
func (s *Service) ListForFinder(ctx context.Context, finderUserID uuid.UUID) ([]ProposalWithFind, error) {
	return s.list(ctx, `JOIN finders fi ON fi.id = p.finder_id WHERE fi.user_id = $1`, finderUserID)
}

// ListForFind lists the proposals on one find; only its owner may see them
func (s *Service) ListForFind(ctx context.Context, clientID, findID uuid.UUID) ([]ProposalWithFind, error) {
	var ownerID uuid.UUID
	if err := s.db.QueryRow(ctx, `SELECT client_id FROM finds WHERE id = $1`, findID).Scan(&ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFindNotFound
		}
		return nil, fmt.Errorf("failed to get find: %w", err)
	}
	if ownerID != clientID {
		return nil, ErrNotFindOwner
	}
	return s.list(ctx, `WHERE p.find_id = $1`, findID)
}

func (s *Service) list(ctx context.Context, where string, arg uuid.UUID) ([]ProposalWithFind, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.id, p.find_id, p.finder_id, p.approach, p.price, p.timeline, p.notes, p.status, p.created_at, f.title
		FROM proposals p JOIN finds f ON f.id = p.find_id
		`+where+`
		ORDER BY p.created_at DESC
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	proposals := []ProposalWithFind{}
	for rows.Next() {
		var p ProposalWithFind
		err := rows.Scan(&p.ID, &p.FindID, &p.FinderID, &p.Approach, &p.Price, &p.Timeline,
			&p.Notes, &p.Status, &p.CreatedAt, &p.FindTitle)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}
