package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeSender struct {
	mu       sync.Mutex
	err      error
	messages []*gomail.Message
	calls    int
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, m...)
	return nil
}

func TestSMTPNotifier_SendsPlainTextMessage(t *testing.T) {
	sender := &fakeSender{}
	n := NewSMTPNotifierWithSender(sender, "noreply@findermeister.com", "https://app.example")

	n.ProposalAccepted(context.Background(), "finder@example.com", "Logo design", decimal.NewFromInt(1500))
	n.Wait()

	require.Len(t, sender.messages, 1)
	msg := sender.messages[0]
	assert.Equal(t, []string{"finder@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"noreply@findermeister.com"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"Your proposal was accepted"}, msg.GetHeader("Subject"))
}

func TestSMTPNotifier_SkipsEmptyRecipient(t *testing.T) {
	sender := &fakeSender{}
	n := NewSMTPNotifierWithSender(sender, "noreply@findermeister.com", "")

	n.PaymentReleased(context.Background(), "", "Logo design", decimal.NewFromInt(10))
	n.Wait()

	assert.Equal(t, 0, sender.calls)
}

func TestSMTPNotifier_FailuresTripBreakerWithoutPanicking(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	n := NewSMTPNotifierWithSender(sender, "noreply@findermeister.com", "")

	for i := 0; i < 3; i++ {
		n.StrikeIssued(context.Background(), "user@example.com", "Spam", 1, "Warning")
		n.Wait()
	}
	assert.Equal(t, gobreaker.StateOpen, n.State())

	// an open breaker short-circuits the relay
	n.SubmissionReviewed(context.Background(), "user@example.com", "Logo design", false, "needs work")
	n.Wait()
	assert.Equal(t, 3, sender.calls)
}

func TestNoop_ImplementsNotifier(t *testing.T) {
	var n Notifier = Noop{}
	n.ProposalAccepted(context.Background(), "a@b.c", "x", decimal.Zero)
}
