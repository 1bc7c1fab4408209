package strikes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/config"
	"github.com/aimerfeng/FinderMeister/internal/logging"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/aimerfeng/FinderMeister/internal/monitoring"
	"github.com/aimerfeng/FinderMeister/internal/notify"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service errors
var (
	ErrInvalidOffense = errors.New("invalid offense for user role")
	ErrUserNotFound   = errors.New("user not found")
	ErrRecentStrikes  = errors.New("User has strikes within the last 90 days")
)

// Service issues strikes and evaluates the restrictions they imply
type Service struct {
	db       *pgxpool.Pool
	config   *config.StrikeConfig
	notifier notify.Notifier
	now      func() time.Time
}

// NewService creates a new strike service
func NewService(db *pgxpool.Pool, cfg *config.StrikeConfig, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{
		db:       db,
		config:   cfg,
		notifier: notifier,
		now:      time.Now,
	}
}

func (s *Service) expiry() time.Duration {
	return time.Duration(s.config.ExpiryDays) * 24 * time.Hour
}

func (s *Service) badgeWindow() time.Duration {
	return time.Duration(s.config.BadgeWindowDays) * 24 * time.Hour
}

// IssueRequest describes a strike to issue.
// UserRole, when set, must match the user's actual role.
type IssueRequest struct {
	UserID    uuid.UUID   `json:"user_id" binding:"required"`
	Offense   string      `json:"offense" binding:"required"`
	Evidence  string      `json:"evidence"`
	UserRole  models.Role `json:"user_role"`
	ContextID *uuid.UUID  `json:"context_id,omitempty"`
	IssuedBy  *uuid.UUID  `json:"-"`
}

// IssueResult reports what issuance did. NoOp is set when the user was
// already at the terminal level and nothing was recorded.
type IssueResult struct {
	Strike           *models.Strike             `json:"strike,omitempty"`
	StrikeLevel      int                        `json:"strike_level"`
	ConsequenceLevel int                        `json:"consequence_level"`
	Consequence      string                     `json:"consequence"`
	Restriction      *models.UserRestriction    `json:"restriction,omitempty"`
	Training         *models.BehavioralTraining `json:"training,omitempty"`
	NoOp             bool                       `json:"noop"`
}

const strikeColumns = `id, user_id, strike_level, consequence_level, offense, offense_type, evidence,
	status, issued_by, context_id, expires_at, created_at, resolved_at`

func scanStrike(row pgx.Row, st *models.Strike) error {
	return row.Scan(
		&st.ID, &st.UserID, &st.StrikeLevel, &st.ConsequenceLevel, &st.Offense, &st.OffenseType,
		&st.Evidence, &st.Status, &st.IssuedBy, &st.ContextID, &st.ExpiresAt, &st.CreatedAt, &st.ResolvedAt,
	)
}

const restrictionColumns = `id, user_id, strike_id, restriction_type, reason, start_date, end_date,
	is_active, created_by, created_at`

func scanRestriction(row pgx.Row, r *models.UserRestriction) error {
	return row.Scan(
		&r.ID, &r.UserID, &r.StrikeID, &r.RestrictionType, &r.Reason, &r.StartDate,
		&r.EndDate, &r.IsActive, &r.CreatedBy, &r.CreatedAt,
	)
}

// IssueStrikeByOffense records a strike and applies its consequence in one
// transaction. The user row is locked so concurrent issuances serialise.
func (s *Service) IssueStrikeByOffense(ctx context.Context, req *IssueRequest) (*IssueResult, error) {
	now := s.now()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var role models.Role
	var email string
	err = tx.QueryRow(ctx, `SELECT role, email FROM users WHERE id = $1 FOR UPDATE`, req.UserID).Scan(&role, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	if req.UserRole != "" && req.UserRole != role {
		return nil, ErrInvalidOffense
	}

	offense, ok := FindOffense(req.Offense, role)
	if !ok {
		return nil, ErrInvalidOffense
	}

	var activeCount int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM strikes
		WHERE user_id = $1 AND status IN ('active', 'appealed') AND expires_at > $2
	`, req.UserID, now).Scan(&activeCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count strikes: %w", err)
	}

	if activeCount >= MaxLevel {
		logging.LogStrike(req.UserID.String(), offense.Type, MaxLevel, MaxLevel, true)
		return &IssueResult{
			StrikeLevel:      MaxLevel,
			ConsequenceLevel: MaxLevel,
			Consequence:      ConsequenceFor(MaxLevel).Name,
			NoOp:             true,
		}, nil
	}

	strikeLevel := activeCount + 1
	consequence := ConsequenceFor(ConsequenceLevel(strikeLevel, offense.Level))
	result := &IssueResult{
		StrikeLevel:      strikeLevel,
		ConsequenceLevel: consequence.Level,
		Consequence:      consequence.Name,
	}

	var strike models.Strike
	err = scanStrike(tx.QueryRow(ctx, `
		INSERT INTO strikes (user_id, strike_level, consequence_level, offense, offense_type, evidence, status, issued_by, context_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $8, $9, $10)
		RETURNING `+strikeColumns,
		req.UserID, strikeLevel, consequence.Level, offense.Name, offense.Type, req.Evidence,
		req.IssuedBy, req.ContextID, now.Add(s.expiry()), now,
	), &strike)
	if err != nil {
		return nil, fmt.Errorf("failed to insert strike: %w", err)
	}
	result.Strike = &strike

	if consequence.Restriction != "" {
		var restriction models.UserRestriction
		err = scanRestriction(tx.QueryRow(ctx, `
			INSERT INTO user_restrictions (user_id, strike_id, restriction_type, reason, start_date, end_date, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+restrictionColumns,
			req.UserID, strike.ID, consequence.Restriction,
			fmt.Sprintf("%s: %s", consequence.Name, offense.Name), now, consequence.EndDate(now), req.IssuedBy,
		), &restriction)
		if err != nil {
			return nil, fmt.Errorf("failed to insert restriction: %w", err)
		}
		result.Restriction = &restriction
	}

	if consequence.Level == MaxLevel {
		_, err = tx.Exec(ctx, `
			UPDATE users SET is_banned = true, banned_reason = $2, banned_at = $3, updated_at = NOW()
			WHERE id = $1
		`, req.UserID, offense.Name, now)
		if err != nil {
			return nil, fmt.Errorf("failed to ban user: %w", err)
		}
	}

	if consequence.Training != "" {
		var training models.BehavioralTraining
		err = scanTraining(tx.QueryRow(ctx, `
			INSERT INTO behavioral_trainings (user_id, strike_id, module_type, status, assigned_at)
			VALUES ($1, $2, $3, 'assigned', $4)
			RETURNING `+trainingColumns,
			req.UserID, strike.ID, consequence.Training, now,
		), &training)
		if err != nil {
			return nil, fmt.Errorf("failed to assign training: %w", err)
		}
		result.Training = &training
	}

	if err := recomputeStrikeLevel(ctx, tx, req.UserID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	monitoring.RecordStrike(consequence.Level)
	if consequence.Restriction != "" {
		monitoring.RecordRestriction(string(consequence.Restriction))
	}
	logging.LogStrike(req.UserID.String(), offense.Type, strikeLevel, consequence.Level, false)
	s.notifier.StrikeIssued(ctx, email, offense.Name, strikeLevel, consequence.Name)

	return result, nil
}

// recomputeStrikeLevel stores the highest consequence among the user's
// counting strikes, or 0
func recomputeStrikeLevel(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE users SET strike_level = COALESCE((
			SELECT MAX(consequence_level) FROM strikes
			WHERE user_id = $1 AND status IN ('active', 'appealed') AND expires_at > $2
		), 0), updated_at = NOW()
		WHERE id = $1
	`, userID, now)
	if err != nil {
		return fmt.Errorf("failed to update strike level: %w", err)
	}
	return nil
}

// GetUserStrikes lists every strike recorded against userID, newest first
func (s *Service) GetUserStrikes(ctx context.Context, userID uuid.UUID) ([]models.Strike, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+strikeColumns+` FROM strikes
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list strikes: %w", err)
	}
	defer rows.Close()

	strikes := []models.Strike{}
	for rows.Next() {
		var st models.Strike
		if err := scanStrike(rows, &st); err != nil {
			return nil, fmt.Errorf("failed to scan strike: %w", err)
		}
		strikes = append(strikes, st)
	}
	return strikes, rows.Err()
}

// GetUserRestrictions aggregates the user's current capabilities
func (s *Service) GetUserRestrictions(ctx context.Context, userID uuid.UUID) (*Restrictions, error) {
	var isBanned bool
	if err := s.db.QueryRow(ctx, `SELECT is_banned FROM users WHERE id = $1`, userID).Scan(&isBanned); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+restrictionColumns+` FROM user_restrictions
		WHERE user_id = $1 AND is_active
		ORDER BY start_date DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list restrictions: %w", err)
	}
	restrictions := []models.UserRestriction{}
	for rows.Next() {
		var r models.UserRestriction
		if err := scanRestriction(rows, &r); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan restriction: %w", err)
		}
		restrictions = append(restrictions, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate restrictions: %w", err)
	}

	rows, err = s.db.Query(ctx, `
		SELECT `+strikeColumns+` FROM strikes
		WHERE user_id = $1 AND status IN ('active', 'appealed')
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list strikes: %w", err)
	}
	strikes := []models.Strike{}
	for rows.Next() {
		var st models.Strike
		if err := scanStrike(rows, &st); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan strike: %w", err)
		}
		strikes = append(strikes, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate strikes: %w", err)
	}

	agg := Aggregate(restrictions, strikes, s.now())
	if isBanned {
		agg.IsBanned = true
		agg.CanPost = false
		agg.CanApply = false
		agg.CanMessage = false
	}
	return &agg, nil
}

// Can reports whether userID may use capability right now
func (s *Service) Can(ctx context.Context, userID uuid.UUID, capability models.Capability) (bool, error) {
	agg, err := s.GetUserRestrictions(ctx, userID)
	if err != nil {
		return false, err
	}
	return agg.Allows(capability), nil
}

// AwardTrustedBadge awards badgeType to a user with no strikes inside the
// badge window. Re-awarding an existing badge reactivates it.
func (s *Service) AwardTrustedBadge(ctx context.Context, userID uuid.UUID, badgeType string) (*models.TrustedBadge, error) {
	now := s.now()

	rows, err := s.db.Query(ctx, `SELECT created_at FROM strikes WHERE user_id = $1 AND created_at > $2`, userID, now.Add(-s.badgeWindow()))
	if err != nil {
		return nil, fmt.Errorf("failed to list recent strikes: %w", err)
	}
	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan strike time: %w", err)
		}
		times = append(times, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate strikes: %w", err)
	}

	if !BadgeEligible(times, now, s.badgeWindow()) {
		return nil, ErrRecentStrikes
	}

	var badge models.TrustedBadge
	err = s.db.QueryRow(ctx, `
		INSERT INTO trusted_badges (user_id, badge_type, awarded_at, is_active)
		VALUES ($1, $2, $3, true)
		ON CONFLICT ON CONSTRAINT trusted_badges_user_type_key
		DO UPDATE SET is_active = true, awarded_at = EXCLUDED.awarded_at
		RETURNING id, user_id, badge_type, awarded_at, is_active
	`, userID, badgeType, now).Scan(&badge.ID, &badge.UserID, &badge.BadgeType, &badge.AwardedAt, &badge.IsActive)
	if err != nil {
		return nil, fmt.Errorf("failed to award badge: %w", err)
	}
	return &badge, nil
}

// ListBadges lists the active badges of userID
func (s *Service) ListBadges(ctx context.Context, userID uuid.UUID) ([]models.TrustedBadge, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, badge_type, awarded_at, is_active FROM trusted_badges
		WHERE user_id = $1 AND is_active
		ORDER BY awarded_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}
	defer rows.Close()

	badges := []models.TrustedBadge{}
	for rows.Next() {
		var b models.TrustedBadge
		if err := rows.Scan(&b.ID, &b.UserID, &b.BadgeType, &b.AwardedAt, &b.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan badge: %w", err)
		}
		badges = append(badges, b)
	}
	return badges, rows.Err()
}

// CleanupResult summarises one expiry pass
type CleanupResult struct {
	ExpiredStrikes          int `json:"expired_strikes"`
	DeactivatedRestrictions int `json:"deactivated_restrictions"`
	UsersUpdated            int `json:"users_updated"`
}

// CleanupExpired expires strikes past expires_at, deactivates restrictions
// past end_date and recomputes the strike level of every affected user
func (s *Service) CleanupExpired(ctx context.Context, now time.Time) (*CleanupResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	affected := make(map[uuid.UUID]struct{})
	result := &CleanupResult{}

	rows, err := tx.Query(ctx, `
		UPDATE strikes SET status = 'expired', resolved_at = $1
		WHERE status IN ('active', 'appealed') AND expires_at <= $1
		RETURNING user_id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire strikes: %w", err)
	}
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expired strike: %w", err)
		}
		affected[userID] = struct{}{}
		result.ExpiredStrikes++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to expire strikes: %w", err)
	}

	rows, err = tx.Query(ctx, `
		UPDATE user_restrictions SET is_active = false
		WHERE is_active AND end_date IS NOT NULL AND end_date <= $1
		RETURNING user_id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate restrictions: %w", err)
	}
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan restriction: %w", err)
		}
		affected[userID] = struct{}{}
		result.DeactivatedRestrictions++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to deactivate restrictions: %w", err)
	}

	for userID := range affected {
		if err := recomputeStrikeLevel(ctx, tx, userID, now); err != nil {
			return nil, err
		}
	}
	result.UsersUpdated = len(affected)

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}
