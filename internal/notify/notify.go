// Package notify delivers transactional email. Delivery failures are logged
// and counted but never reported to callers: a notification must not undo or
// fail the state change that triggered it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/config"
	"github.com/aimerfeng/FinderMeister/internal/monitoring"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"gopkg.in/gomail.v2"
)

// Notifier sends marketplace notifications
type Notifier interface {
	ProposalAccepted(ctx context.Context, to, findTitle string, amount decimal.Decimal)
	StrikeIssued(ctx context.Context, to, offense string, level int, consequence string)
	SubmissionReviewed(ctx context.Context, to, findTitle string, accepted bool, feedback string)
	PaymentReleased(ctx context.Context, to, findTitle string, amount decimal.Decimal)
}

// Noop discards every notification
type Noop struct{}

func (Noop) ProposalAccepted(context.Context, string, string, decimal.Decimal) {
}

func (Noop) StrikeIssued(context.Context, string, string, int, string) {
}

func (Noop) SubmissionReviewed(context.Context, string, string, bool, string) {
}

func (Noop) PaymentReleased(context.Context, string, string, decimal.Decimal) {
}

// Sender is the part of gomail.Dialer the notifier uses
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// ErrCircuitOpen is returned internally when the SMTP breaker rejects a send
var ErrCircuitOpen = errors.New("smtp circuit breaker is open")

// SMTPNotifier sends email through an SMTP relay guarded by a circuit breaker
type SMTPNotifier struct {
	sender      Sender
	from        string
	frontendURL string
	breaker     *gobreaker.CircuitBreaker
	wg          sync.WaitGroup
}

// NewSMTPNotifier creates a notifier that dials the configured SMTP relay
func NewSMTPNotifier(cfg *config.SMTPConfig, frontendURL string) *SMTPNotifier {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	return NewSMTPNotifierWithSender(dialer, cfg.FromEmail, frontendURL)
}

// NewSMTPNotifierWithSender creates a notifier over an arbitrary sender
func NewSMTPNotifierWithSender(sender Sender, from, frontendURL string) *SMTPNotifier {
	n := &SMTPNotifier{
		sender:      sender,
		from:        from,
		frontendURL: frontendURL,
	}
	n.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info().
				Str("circuit_breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			monitoring.SetCircuitBreakerState(name, stateValue(to))
		},
	})
	return n
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}

// State returns the breaker state, for status endpoints and tests
func (n *SMTPNotifier) State() gobreaker.State {
	return n.breaker.State()
}

// Wait blocks until queued deliveries finish
func (n *SMTPNotifier) Wait() {
	n.wg.Wait()
}

// ProposalAccepted tells a finder they were hired
func (n *SMTPNotifier) ProposalAccepted(ctx context.Context, to, findTitle string, amount decimal.Decimal) {
	body := fmt.Sprintf(
		"Good news! Your proposal for %q was accepted.\n\nContract amount: %s\nThe funds are held in escrow until the client approves your work.\n\nView your contracts: %s/finder/contracts\n",
		findTitle, amount.StringFixed(2), n.frontendURL,
	)
	n.deliver("proposal_accepted", to, "Your proposal was accepted", body)
}

// StrikeIssued tells a user a strike was recorded against them
func (n *SMTPNotifier) StrikeIssued(ctx context.Context, to, offense string, level int, consequence string) {
	body := fmt.Sprintf(
		"A strike has been recorded on your account.\n\nOffense: %s\nStrike level: %d\nConsequence: %s\n\nYou can appeal this decision: %s/disputes\n",
		offense, level, consequence, n.frontendURL,
	)
	n.deliver("strike_issued", to, "Account strike notice", body)
}

// SubmissionReviewed tells a finder the client reviewed their work
func (n *SMTPNotifier) SubmissionReviewed(ctx context.Context, to, findTitle string, accepted bool, feedback string) {
	outcome := "accepted"
	if !accepted {
		outcome = "returned for changes"
	}
	body := fmt.Sprintf("Your submission for %q was %s.\n", findTitle, outcome)
	if feedback != "" {
		body += fmt.Sprintf("\nClient feedback:\n%s\n", feedback)
	}
	n.deliver("submission_reviewed", to, "Your submission was reviewed", body)
}

// PaymentReleased tells a finder escrow was released to their balance
func (n *SMTPNotifier) PaymentReleased(ctx context.Context, to, findTitle string, amount decimal.Decimal) {
	body := fmt.Sprintf(
		"Payment of %s for %q has been released to your available balance.\n\nWithdraw funds: %s/finder/withdrawals\n",
		amount.StringFixed(2), findTitle, n.frontendURL,
	)
	n.deliver("payment_released", to, "Payment released", body)
}

func (n *SMTPNotifier) deliver(kind, to, subject, body string) {
	if to == "" {
		return
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.send(m); err != nil {
			monitoring.RecordEmail(kind, "failed")
			log.Error().Err(err).Str("kind", kind).Str("to", to).Msg("Failed to send email")
			return
		}
		monitoring.RecordEmail(kind, "sent")
	}()
}

func (n *SMTPNotifier) send(m *gomail.Message) error {
	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.sender.DialAndSend(m)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}
