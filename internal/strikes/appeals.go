package strikes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/database"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// Training and dispute errors
var (
	ErrTrainingNotFound     = errors.New("training not found")
	ErrInvalidTrainingState = errors.New("training cannot move to that status")
	ErrStrikeNotFound       = errors.New("strike not found")
	ErrStrikeNotAppealable  = errors.New("only active strikes can be appealed")
	ErrDisputeNotFound      = errors.New("dispute not found")
	ErrDisputeExists        = errors.New("an appeal for this strike is already open")
	ErrDisputeClosed        = errors.New("dispute is already closed")
	ErrDisputeTarget        = errors.New("dispute target is missing or not yours")
)

const trainingColumns = `id, user_id, strike_id, module_type, status, assigned_at, completed_at`

func scanTraining(row pgx.Row, t *models.BehavioralTraining) error {
	return row.Scan(&t.ID, &t.UserID, &t.StrikeID, &t.ModuleType, &t.Status, &t.AssignedAt, &t.CompletedAt)
}

// ListTrainings lists the trainings assigned to userID
func (s *Service) ListTrainings(ctx context.Context, userID uuid.UUID) ([]models.BehavioralTraining, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+trainingColumns+` FROM behavioral_trainings
		WHERE user_id = $1
		ORDER BY assigned_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trainings: %w", err)
	}
	defer rows.Close()

	trainings := []models.BehavioralTraining{}
	for rows.Next() {
		var t models.BehavioralTraining
		if err := scanTraining(rows, &t); err != nil {
			return nil, fmt.Errorf("failed to scan training: %w", err)
		}
		trainings = append(trainings, t)
	}
	return trainings, rows.Err()
}

// StartTraining moves an assigned training to in_progress
func (s *Service) StartTraining(ctx context.Context, userID, trainingID uuid.UUID) (*models.BehavioralTraining, error) {
	return s.moveTraining(ctx, userID, trainingID, models.TrainingStatusInProgress,
		[]models.TrainingStatus{models.TrainingStatusAssigned})
}

// CompleteTraining marks a training completed
func (s *Service) CompleteTraining(ctx context.Context, userID, trainingID uuid.UUID) (*models.BehavioralTraining, error) {
	return s.moveTraining(ctx, userID, trainingID, models.TrainingStatusCompleted,
		[]models.TrainingStatus{models.TrainingStatusAssigned, models.TrainingStatusInProgress})
}

func (s *Service) moveTraining(ctx context.Context, userID, trainingID uuid.UUID, to models.TrainingStatus, from []models.TrainingStatus) (*models.BehavioralTraining, error) {
	fromStrings := make([]string, len(from))
	for i, f := range from {
		fromStrings[i] = string(f)
	}

	var t models.BehavioralTraining
	err := scanTraining(s.db.QueryRow(ctx, `
		UPDATE behavioral_trainings SET
			status = $3,
			completed_at = CASE WHEN $3 = 'completed' THEN NOW() ELSE completed_at END
		WHERE id = $1 AND user_id = $2 AND status = ANY($4)
		RETURNING `+trainingColumns,
		trainingID, userID, string(to), fromStrings,
	), &t)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update training: %w", err)
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM behavioral_trainings WHERE id = $1 AND user_id = $2)
	`, trainingID, userID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check training: %w", err)
	}
	if !exists {
		return nil, ErrTrainingNotFound
	}
	return nil, ErrInvalidTrainingState
}

// FileDisputeRequest represents a dispute or strike appeal
type FileDisputeRequest struct {
	DisputeType models.DisputeType `json:"dispute_type" binding:"required,oneof=strike_appeal contract find"`
	StrikeID    *uuid.UUID         `json:"strike_id,omitempty"`
	ContractID  *uuid.UUID         `json:"contract_id,omitempty"`
	FindID      *uuid.UUID         `json:"find_id,omitempty"`
	Description string             `json:"description" binding:"required"`
	Evidence    string             `json:"evidence"`
}

// ResolveDisputeRequest represents an admin decision. Upheld means the
// complaint or appeal succeeds.
type ResolveDisputeRequest struct {
	Upheld     bool   `json:"upheld"`
	Resolution string `json:"resolution" binding:"required"`
}

const disputeColumns = `id, user_id, strike_id, contract_id, find_id, dispute_type, description,
	evidence, status, resolution, resolved_by, created_at, resolved_at`

func scanDispute(row pgx.Row, d *models.Dispute) error {
	return row.Scan(
		&d.ID, &d.UserID, &d.StrikeID, &d.ContractID, &d.FindID, &d.DisputeType,
		&d.Description, &d.Evidence, &d.Status, &d.Resolution, &d.ResolvedBy,
		&d.CreatedAt, &d.ResolvedAt,
	)
}

// FileDispute opens a dispute. Strike appeals move the strike to appealed.
func (s *Service) FileDispute(ctx context.Context, userID uuid.UUID, req *FileDisputeRequest) (*models.Dispute, error) {
	var dispute models.Dispute
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		switch req.DisputeType {
		case models.DisputeTypeStrikeAppeal:
			if req.StrikeID == nil {
				return ErrDisputeTarget
			}
			tag, err := tx.Exec(ctx, `
				UPDATE strikes SET status = 'appealed'
				WHERE id = $1 AND user_id = $2 AND status = 'active'
			`, *req.StrikeID, userID)
			if err != nil {
				return fmt.Errorf("failed to appeal strike: %w", err)
			}
			if tag.RowsAffected() == 0 {
				var status models.StrikeStatus
				err := tx.QueryRow(ctx, `SELECT status FROM strikes WHERE id = $1 AND user_id = $2`, *req.StrikeID, userID).Scan(&status)
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrStrikeNotFound
				}
				if err != nil {
					return fmt.Errorf("failed to get strike: %w", err)
				}
				if status == models.StrikeStatusAppealed {
					return ErrDisputeExists
				}
				return ErrStrikeNotAppealable
			}
		case models.DisputeTypeContract:
			if req.ContractID == nil {
				return ErrDisputeTarget
			}
			var ok bool
			err := tx.QueryRow(ctx, `
				SELECT EXISTS(
					SELECT 1 FROM contracts c JOIN finders f ON f.id = c.finder_id
					WHERE c.id = $1 AND (c.client_id = $2 OR f.user_id = $2)
				)
			`, *req.ContractID, userID).Scan(&ok)
			if err != nil {
				return fmt.Errorf("failed to check contract: %w", err)
			}
			if !ok {
				return ErrDisputeTarget
			}
		case models.DisputeTypeFind:
			if req.FindID == nil {
				return ErrDisputeTarget
			}
			var ok bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM finds WHERE id = $1)`, *req.FindID).Scan(&ok); err != nil {
				return fmt.Errorf("failed to check find: %w", err)
			}
			if !ok {
				return ErrDisputeTarget
			}
		default:
			return ErrDisputeTarget
		}

		err := scanDispute(tx.QueryRow(ctx, `
			INSERT INTO disputes (user_id, strike_id, contract_id, find_id, dispute_type, description, evidence, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
			RETURNING `+disputeColumns,
			userID, req.StrikeID, req.ContractID, req.FindID, req.DisputeType, req.Description, req.Evidence,
		), &dispute)
		if err != nil {
			if database.IsUniqueViolation(err, "disputes_one_open_appeal") {
				return ErrDisputeExists
			}
			return fmt.Errorf("failed to insert dispute: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

// ListMyDisputes lists disputes filed by userID
func (s *Service) ListMyDisputes(ctx context.Context, userID uuid.UUID) ([]models.Dispute, error) {
	return s.listDisputes(ctx, `WHERE user_id = $1`, userID)
}

// ListDisputes lists disputes for admins, optionally filtered by status
func (s *Service) ListDisputes(ctx context.Context, status models.DisputeStatus) ([]models.Dispute, error) {
	return s.listDisputes(ctx, `WHERE ($1 = '' OR status = $1)`, string(status))
}

func (s *Service) listDisputes(ctx context.Context, where string, arg any) ([]models.Dispute, error) {
	rows, err := s.db.Query(ctx, `SELECT `+disputeColumns+` FROM disputes `+where+` ORDER BY created_at DESC`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}
	defer rows.Close()

	disputes := []models.Dispute{}
	for rows.Next() {
		var d models.Dispute
		if err := scanDispute(rows, &d); err != nil {
			return nil, fmt.Errorf("failed to scan dispute: %w", err)
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

// ResolveDispute closes an open dispute. An upheld strike appeal resolves the
// strike, lifts its restrictions and unbans the user if no other ban stands;
// a rejected appeal returns the strike to active.
func (s *Service) ResolveDispute(ctx context.Context, adminID, disputeID uuid.UUID, req *ResolveDisputeRequest) (*models.Dispute, error) {
	now := s.now()
	status := models.DisputeStatusRejected
	if req.Upheld {
		status = models.DisputeStatusResolved
	}

	var dispute models.Dispute
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		err := scanDispute(tx.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, disputeID), &dispute)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrDisputeNotFound
			}
			return fmt.Errorf("failed to get dispute: %w", err)
		}
		if dispute.Status != models.DisputeStatusPending && dispute.Status != models.DisputeStatusInvestigating {
			return ErrDisputeClosed
		}

		err = scanDispute(tx.QueryRow(ctx, `
			UPDATE disputes SET status = $2, resolution = $3, resolved_by = $4, resolved_at = $5
			WHERE id = $1
			RETURNING `+disputeColumns,
			disputeID, status, req.Resolution, adminID, now,
		), &dispute)
		if err != nil {
			return fmt.Errorf("failed to resolve dispute: %w", err)
		}

		if dispute.DisputeType != models.DisputeTypeStrikeAppeal || dispute.StrikeID == nil {
			return nil
		}
		if req.Upheld {
			return s.overturnStrike(ctx, tx, dispute.UserID, *dispute.StrikeID, now)
		}
		_, err = tx.Exec(ctx, `UPDATE strikes SET status = 'active' WHERE id = $1 AND status = 'appealed'`, *dispute.StrikeID)
		if err != nil {
			return fmt.Errorf("failed to reinstate strike: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("dispute_id", disputeID.String()).
		Str("admin_id", adminID.String()).
		Str("status", string(status)).
		Msg("Dispute resolved")
	return &dispute, nil
}

func (s *Service) overturnStrike(ctx context.Context, tx pgx.Tx, userID, strikeID uuid.UUID, now time.Time) error {
	if _, err := tx.Exec(ctx, `UPDATE strikes SET status = 'resolved', resolved_at = $2 WHERE id = $1`, strikeID, now); err != nil {
		return fmt.Errorf("failed to resolve strike: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE user_restrictions SET is_active = false WHERE strike_id = $1 AND is_active`, strikeID); err != nil {
		return fmt.Errorf("failed to lift restrictions: %w", err)
	}

	_, err := tx.Exec(ctx, `
		UPDATE users SET is_banned = false, banned_reason = NULL, banned_at = NULL, updated_at = NOW()
		WHERE id = $1 AND is_banned
		  AND NOT EXISTS (
			SELECT 1 FROM user_restrictions
			WHERE user_id = $1 AND restriction_type = 'banned' AND is_active
		  )
		  AND EXISTS (
			SELECT 1 FROM user_restrictions
			WHERE strike_id = $2 AND restriction_type = 'banned'
		  )
	`, userID, strikeID)
	if err != nil {
		return fmt.Errorf("failed to lift ban: %w", err)
	}

	return recomputeStrikeLevel(ctx, tx, userID, now)
}
