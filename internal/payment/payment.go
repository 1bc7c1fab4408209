package payment

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
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Service errors
var (
	ErrPackageNotFound     = errors.New("token package not found")
	ErrPurchaseNotFound    = errors.New("purchase not found")
	ErrPurchaseAlreadyDone = errors.New("purchase already completed or failed")
	ErrInvalidWebhookSig   = errors.New("invalid webhook signature")
	ErrStripeDisabled      = errors.New("card payments are not configured")
)

// FailureReason classifies why a token purchase failed
type FailureReason string

const (
	FailureReasonDeclined          FailureReason = "card_declined"
	FailureReasonInsufficientFunds FailureReason = "insufficient_funds"
	FailureReasonExpired           FailureReason = "card_expired"
	FailureReasonProcessingError   FailureReason = "processing_error"
	FailureReasonSessionExpired    FailureReason = "session_expired"
	FailureReasonUnknown           FailureReason = "unknown"
)

// ClassifyFailure maps a Stripe error code or message to a FailureReason
func ClassifyFailure(reason string) FailureReason {
	switch reason {
	case "card_declined":
		return FailureReasonDeclined
	case "insufficient_funds":
		return FailureReasonInsufficientFunds
	case "expired_card":
		return FailureReasonExpired
	case "processing_error":
		return FailureReasonProcessingError
	case "checkout session expired", "session_expired":
		return FailureReasonSessionExpired
	default:
		return FailureReasonUnknown
	}
}

// Service sells findertoken packages through Stripe Checkout
type Service struct {
	db          *pgxpool.Pool
	cfg         *config.StripeConfig
	frontendURL string
	newSession  func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewService creates a new payment service
func NewService(db *pgxpool.Pool, cfg *config.StripeConfig, frontendURL string) *Service {
	if cfg.SecretKey != "" {
		stripe.Key = cfg.SecretKey
	}
	return &Service{
		db:          db,
		cfg:         cfg,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		newSession:  session.New,
	}
}

// CheckoutRequest selects the package to buy
type CheckoutRequest struct {
	PackageID uuid.UUID `json:"package_id" binding:"required"`
}

// CheckoutResponse tells the client where to pay
type CheckoutResponse struct {
	SessionID   string    `json:"session_id"`
	CheckoutURL string    `json:"checkout_url"`
	PurchaseID  uuid.UUID `json:"purchase_id"`
}

const purchaseColumns = `id, finder_id, package_id, tokens, amount, status, stripe_session_id, failure_reason, created_at, completed_at`

func scanPurchase(row pgx.Row, p *models.TokenPurchase) error {
	return row.Scan(&p.ID, &p.FinderID, &p.PackageID, &p.Tokens, &p.Amount, &p.Status,
		&p.StripeSessionID, &p.FailureReason, &p.CreatedAt, &p.CompletedAt)
}

// CreateCheckout records a pending purchase and opens a Stripe Checkout session for it
func (s *Service) CreateCheckout(ctx context.Context, finderUserID uuid.UUID, req *CheckoutRequest) (*CheckoutResponse, error) {
	if s.cfg.SecretKey == "" {
		return nil, ErrStripeDisabled
	}

	finderID, err := ledger.FinderIDForUser(ctx, s.db, finderUserID)
	if err != nil {
		return nil, err
	}

	var pkg models.TokenPackage
	err = s.db.QueryRow(ctx, `
		SELECT id, name, description, token_count, price, is_active, created_at
		FROM token_packages WHERE id = $1 AND is_active
	`, req.PackageID).Scan(&pkg.ID, &pkg.Name, &pkg.Description, &pkg.TokenCount, &pkg.Price, &pkg.IsActive, &pkg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("failed to get package: %w", err)
	}

	var purchaseID uuid.UUID
	err = s.db.QueryRow(ctx, `
		INSERT INTO token_purchases (finder_id, package_id, tokens, amount, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING id
	`, finderID, pkg.ID, pkg.TokenCount, pkg.Price).Scan(&purchaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to create purchase record: %w", err)
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(s.cfg.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(pkg.Name),
						Description: stripe.String(fmt.Sprintf("%d findertokens", pkg.TokenCount)),
					},
					UnitAmount: stripe.Int64(pkg.Price.Shift(2).IntPart()),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.frontendURL + "/tokens/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.frontendURL + "/tokens/cancel"),
		Metadata: map[string]string{
			"purchase_id": purchaseID.String(),
			"finder_id":   finderID.String(),
			"package_id":  pkg.ID.String(),
		},
		ClientReferenceID: stripe.String(purchaseID.String()),
	}

	sess, err := s.newSession(params)
	if err != nil {
		if failErr := s.FailPurchase(ctx, purchaseID, "processing_error"); failErr != nil {
			log.Error().Err(failErr).Str("purchase_id", purchaseID.String()).Msg("Failed to mark purchase failed")
		}
		return nil, fmt.Errorf("failed to create Stripe checkout session: %w", err)
	}

	_, err = s.db.Exec(ctx, `UPDATE token_purchases SET stripe_session_id = $1 WHERE id = $2`, sess.ID, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to store session id: %w", err)
	}

	logging.LogPayment(finderUserID.String(), purchaseID.String(), "stripe", "pending", pkg.Price)
	return &CheckoutResponse{
		SessionID:   sess.ID,
		CheckoutURL: sess.URL,
		PurchaseID:  purchaseID,
	}, nil
}

// HandleStripeWebhook verifies and processes a Stripe webhook delivery
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.cfg.WebhookSecret)
	if err != nil {
		return ErrInvalidWebhookSig
	}

	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, event)
	case "checkout.session.expired":
		return s.handleCheckoutExpired(ctx, event)
	default:
		return nil
	}
}

func purchaseIDFromEvent(event stripe.Event) (uuid.UUID, bool) {
	raw := event.GetObjectValue("metadata", "purchase_id")
	if raw == "" {
		raw = event.GetObjectValue("client_reference_id")
	}
	id, err := uuid.Parse(raw)
	return id, err == nil
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	sessionID := event.GetObjectValue("id")
	if sessionID == "" {
		return fmt.Errorf("missing session ID in event")
	}
	purchaseID, ok := purchaseIDFromEvent(event)
	if !ok {
		return fmt.Errorf("missing purchase_id in session metadata")
	}

	_, err := s.CompletePurchase(ctx, purchaseID, sessionID)
	if errors.Is(err, ErrPurchaseAlreadyDone) {
		// Stripe redelivers events
		return nil
	}
	return err
}

func (s *Service) handleCheckoutExpired(ctx context.Context, event stripe.Event) error {
	purchaseID, ok := purchaseIDFromEvent(event)
	if !ok {
		return nil
	}
	err := s.FailPurchase(ctx, purchaseID, "checkout session expired")
	if errors.Is(err, ErrPurchaseAlreadyDone) || errors.Is(err, ErrPurchaseNotFound) {
		return nil
	}
	return err
}

// CompletePurchase marks a pending purchase completed and credits its tokens
// in the same transaction. It fails with ErrPurchaseAlreadyDone on replay.
func (s *Service) CompletePurchase(ctx context.Context, purchaseID uuid.UUID, sessionID string) (*models.TokenPurchase, error) {
	var purchase models.TokenPurchase
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		err := scanPurchase(tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM token_purchases WHERE id = $1 FOR UPDATE`, purchaseID), &purchase)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPurchaseNotFound
			}
			return fmt.Errorf("failed to get purchase: %w", err)
		}
		if purchase.Status != models.PurchaseStatusPending {
			return ErrPurchaseAlreadyDone
		}

		err = scanPurchase(tx.QueryRow(ctx, `
			UPDATE token_purchases
			SET status = 'completed', stripe_session_id = COALESCE(NULLIF($2, ''), stripe_session_id), completed_at = $3
			WHERE id = $1
			RETURNING `+purchaseColumns, purchaseID, sessionID, time.Now(),
		), &purchase)
		if err != nil {
			return fmt.Errorf("failed to update purchase: %w", err)
		}

		_, err = ledger.CreditTx(ctx, tx, purchase.FinderID, purchase.Tokens, models.TokenTxPurchase,
			fmt.Sprintf("Purchased %d findertokens", purchase.Tokens), &purchase.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordTokenPurchase("completed")
	logging.LogPayment(purchase.FinderID.String(), purchase.ID.String(), "stripe", "completed", purchase.Amount)
	return &purchase, nil
}

// FailPurchase marks a pending purchase failed. No tokens are credited.
func (s *Service) FailPurchase(ctx context.Context, purchaseID uuid.UUID, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE token_purchases SET status = 'failed', failure_reason = $2
		WHERE id = $1 AND status = 'pending'
	`, purchaseID, string(ClassifyFailure(reason)))
	if err != nil {
		return fmt.Errorf("failed to update purchase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM token_purchases WHERE id = $1)`, purchaseID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check purchase: %w", err)
		}
		if !exists {
			return ErrPurchaseNotFound
		}
		return ErrPurchaseAlreadyDone
	}

	monitoring.RecordTokenPurchase("failed")
	return nil
}

// ListPurchases returns a finder's purchases, newest first
func (s *Service) ListPurchases(ctx context.Context, finderUserID uuid.UUID) ([]models.TokenPurchase, error) {
	finderID, err := ledger.FinderIDForUser(ctx, s.db, finderUserID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+purchaseColumns+` FROM token_purchases WHERE finder_id = $1 ORDER BY created_at DESC
	`, finderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	purchases := []models.TokenPurchase{}
	for rows.Next() {
		var p models.TokenPurchase
		if err := scanPurchase(rows, &p); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}
