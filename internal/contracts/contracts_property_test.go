package contracts_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/config"
	"github.com/aimerfeng/FinderMeister/internal/contracts"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/aimerfeng/FinderMeister/internal/proposals"
	"github.com/aimerfeng/FinderMeister/internal/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	testDB = testutil.OpenTestDB()
	code := m.Run()
	if testDB != nil {
		testDB.Close()
	}
	os.Exit(code)
}

func newService() *contracts.Service {
	return contracts.NewService(testDB, &config.ContractConfig{AutoReleaseOnSubmitDays: 5, AutoReleaseOnAcceptDays: 3}, nil)
}

type fixture struct {
	clientID     uuid.UUID
	finderUserID uuid.UUID
	finderID     uuid.UUID
	findID       uuid.UUID
	contract     models.Contract
}

// hire runs a find through proposal acceptance and returns the held contract
func hire(t require.TestingT, price int64) fixture {
	ctx := context.Background()
	var f fixture
	var err error

	f.clientID, err = testutil.CreateUser(ctx, testDB, "client")
	require.NoError(t, err)
	f.findID, err = testutil.CreateFind(ctx, testDB, f.clientID)
	require.NoError(t, err)
	f.finderUserID, f.finderID, err = testutil.CreateFinder(ctx, testDB, 3)
	require.NoError(t, err)

	ps := proposals.NewService(testDB, &config.TokenConfig{ProposalCost: 1}, nil)
	p, err := ps.Submit(ctx, f.finderUserID, &proposals.SubmitRequest{
		FindID:   f.findID,
		Approach: "Sketches first",
		Price:    decimal.NewFromInt(price),
		Timeline: "5 days",
	})
	require.NoError(t, err)
	result, err := ps.Accept(ctx, f.clientID, p.ID)
	require.NoError(t, err)
	f.contract = result.Contract
	return f
}

type finderStats struct {
	jobs      int
	earned    decimal.Decimal
	available decimal.Decimal
}

func stats(t require.TestingT, finderID uuid.UUID) finderStats {
	var s finderStats
	err := testDB.QueryRow(context.Background(), `
		SELECT jobs_completed, total_earned, available_balance FROM finders WHERE id = $1
	`, finderID).Scan(&s.jobs, &s.earned, &s.available)
	require.NoError(t, err)
	return s
}

func TestSubmitReviewRelease(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := newService()
	f := hire(t, 1500)

	before := time.Now()
	sub, err := svc.Submit(ctx, f.finderUserID, f.contract.ID, &contracts.SubmitWorkRequest{
		SubmissionText:  "Final logo attached",
		AttachmentPaths: []string{"uploads/logo.svg"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusSubmitted, sub.Status)
	assert.WithinDuration(t, before.AddDate(0, 0, 5), sub.AutoReleaseDate, time.Minute)

	_, err = svc.Submit(ctx, f.finderUserID, f.contract.ID, &contracts.SubmitWorkRequest{SubmissionText: "again"})
	assert.ErrorIs(t, err, contracts.ErrSubmissionPending)

	_, err = svc.ReviewSubmission(ctx, uuid.New(), sub.ID, &contracts.ReviewRequest{Accept: true})
	assert.ErrorIs(t, err, contracts.ErrNotParticipant)

	reviewed, err := svc.ReviewSubmission(ctx, f.clientID, sub.ID, &contracts.ReviewRequest{Accept: true})
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusAccepted, reviewed.Status)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 3), reviewed.AutoReleaseDate, time.Minute)

	var findStatus models.FindStatus
	require.NoError(t, testDB.QueryRow(ctx, `SELECT status FROM finds WHERE id = $1`, f.findID).Scan(&findStatus))
	assert.Equal(t, models.FindStatusCompleted, findStatus)

	_, err = svc.ReviewSubmission(ctx, f.clientID, sub.ID, &contracts.ReviewRequest{Accept: false})
	assert.ErrorIs(t, err, contracts.ErrSubmissionReviewed)

	released, err := svc.ReleasePayment(ctx, f.clientID, f.contract.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusReleased, released.EscrowStatus)
	assert.NotNil(t, released.ReleasedAt)

	got := stats(t, f.finderID)
	assert.Equal(t, 1, got.jobs)
	assert.True(t, decimal.NewFromInt(1500).Equal(got.earned))
	assert.True(t, decimal.NewFromInt(1500).Equal(got.available))
}

// Releasing the same contract any number of times credits the finder once.
func TestProperty_ReleaseIsIdempotent(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	svc := newService()

	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		price := rapid.Int64Range(1, 50000).Draw(t, "price")
		attempts := rapid.IntRange(1, 4).Draw(t, "attempts")
		f := hire(t, price)

		successes := 0
		for i := 0; i < attempts; i++ {
			_, err := svc.ReleasePayment(ctx, f.clientID, f.contract.ID)
			switch err {
			case nil:
				successes++
			case contracts.ErrAlreadyReleased:
			default:
				t.Fatalf("unexpected release error: %v", err)
			}
		}
		if successes != 1 {
			t.Fatalf("expected one successful release, got %d", successes)
		}

		got := stats(t, f.finderID)
		if got.jobs != 1 || !got.earned.Equal(decimal.NewFromInt(price)) {
			t.Fatalf("finder credited %d jobs / %s after %d attempts", got.jobs, got.earned, attempts)
		}
	})
}

// A rejected submission keeps has_submission set and allows a resubmission.
func TestRejectThenResubmit(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := newService()
	f := hire(t, 800)

	sub, err := svc.Submit(ctx, f.finderUserID, f.contract.ID, &contracts.SubmitWorkRequest{SubmissionText: "Draft"})
	require.NoError(t, err)

	rejected, err := svc.ReviewSubmission(ctx, f.clientID, sub.ID, &contracts.ReviewRequest{Accept: false, Feedback: "Needs colour"})
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusRejected, rejected.Status)
	require.NotNil(t, rejected.ClientFeedback)
	assert.Equal(t, "Needs colour", *rejected.ClientFeedback)

	detail, err := svc.Get(ctx, f.finderUserID, models.RoleFinder, f.contract.ID)
	require.NoError(t, err)
	assert.True(t, detail.HasSubmission)
	assert.Equal(t, "Logo design", detail.FindTitle)

	_, err = svc.Submit(ctx, f.finderUserID, f.contract.ID, &contracts.SubmitWorkRequest{SubmissionText: "Colour version"})
	require.NoError(t, err)

	detail, err = svc.Get(ctx, f.clientID, models.RoleClient, f.contract.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Submissions, 2)

	_, err = svc.Get(ctx, uuid.New(), models.RoleClient, f.contract.ID)
	assert.ErrorIs(t, err, contracts.ErrNotParticipant)
}

func TestReleaseDue(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := newService()

	unreviewed := hire(t, 600)
	_, err := svc.Submit(ctx, unreviewed.finderUserID, unreviewed.contract.ID, &contracts.SubmitWorkRequest{SubmissionText: "Done"})
	require.NoError(t, err)

	accepted := hire(t, 700)
	sub, err := svc.Submit(ctx, accepted.finderUserID, accepted.contract.ID, &contracts.SubmitWorkRequest{SubmissionText: "Done"})
	require.NoError(t, err)
	_, err = svc.ReviewSubmission(ctx, accepted.clientID, sub.ID, &contracts.ReviewRequest{Accept: true})
	require.NoError(t, err)

	result, err := svc.ReleaseDue(ctx, time.Now().AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, stats(t, unreviewed.finderID).jobs, "nothing is due after one day")
	assert.Equal(t, 0, stats(t, accepted.finderID).jobs)

	result, err = svc.ReleaseDue(ctx, time.Now().AddDate(0, 0, 6))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.AutoAccepted, 1)
	assert.GreaterOrEqual(t, result.Released, 2)
	assert.Equal(t, 1, stats(t, unreviewed.finderID).jobs)
	assert.Equal(t, 1, stats(t, accepted.finderID).jobs)

	detail, err := svc.Get(ctx, unreviewed.clientID, models.RoleClient, unreviewed.contract.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusReleased, detail.EscrowStatus)
	assert.Equal(t, models.SubmissionStatusAccepted, detail.Submissions[0].Status)
}

func TestReleaseDue_SkipsRejectedSubmission(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := newService()
	f := hire(t, 650)
	due := time.Now().AddDate(0, 0, 6)

	sub, err := svc.Submit(ctx, f.finderUserID, f.contract.ID, &contracts.SubmitWorkRequest{SubmissionText: "Done"})
	require.NoError(t, err)

	// the client rejects after the scan would already have picked the row up
	_, err = svc.ReviewSubmission(ctx, f.clientID, sub.ID, &contracts.ReviewRequest{Accept: false, Feedback: "Wrong item"})
	require.NoError(t, err)

	released, accepted, err := svc.ReleaseOne(ctx, sub.ID, f.contract.ID, due)
	assert.ErrorIs(t, err, contracts.ErrNotDue)
	assert.Nil(t, released)
	assert.False(t, accepted)

	result, err := svc.ReleaseDue(ctx, due)
	require.NoError(t, err)
	require.NotNil(t, result)

	st := stats(t, f.finderID)
	assert.Equal(t, 0, st.jobs)
	assert.True(t, st.earned.IsZero())

	detail, err := svc.Get(ctx, f.clientID, models.RoleClient, f.contract.ID)
	require.NoError(t, err)
	assert.NotEqual(t, models.EscrowStatusReleased, detail.EscrowStatus)
	require.Len(t, detail.Submissions, 1)
	assert.Equal(t, models.SubmissionStatusRejected, detail.Submissions[0].Status)

	_, err = svc.ReviewSubmission(ctx, f.clientID, sub.ID, &contracts.ReviewRequest{Accept: true})
	assert.ErrorIs(t, err, contracts.ErrSubmissionReviewed)
}

func TestReleaseOne_NotYetDue(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := newService()
	f := hire(t, 550)

	sub, err := svc.Submit(ctx, f.finderUserID, f.contract.ID, &contracts.SubmitWorkRequest{SubmissionText: "Done"})
	require.NoError(t, err)

	_, _, err = svc.ReleaseOne(ctx, sub.ID, f.contract.ID, time.Now())
	assert.ErrorIs(t, err, contracts.ErrNotDue)
	assert.Equal(t, 0, stats(t, f.finderID).jobs)

	released, accepted, err := svc.ReleaseOne(ctx, sub.ID, f.contract.ID, time.Now().AddDate(0, 0, 6))
	require.NoError(t, err)
	assert.True(t, accepted)
	require.NotNil(t, released)
	assert.Equal(t, models.EscrowStatusReleased, released.EscrowStatus)
	assert.Equal(t, 1, stats(t, f.finderID).jobs)
}

func TestMarkCompleteAndListMine(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := newService()
	f := hire(t, 900)

	_, err := svc.MarkComplete(ctx, f.clientID, f.contract.ID)
	assert.ErrorIs(t, err, contracts.ErrNotParticipant)

	c, err := svc.MarkComplete(ctx, f.finderUserID, f.contract.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusCompleted, c.EscrowStatus)
	assert.True(t, c.IsCompleted)

	_, err = svc.Submit(ctx, f.finderUserID, f.contract.ID, &contracts.SubmitWorkRequest{SubmissionText: "late"})
	assert.ErrorIs(t, err, contracts.ErrContractClosed)

	mine, err := svc.ListMine(ctx, f.finderUserID, models.RoleFinder)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.contract.ID, mine[0].ID)

	mine, err = svc.ListMine(ctx, f.clientID, models.RoleClient)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	all, err := svc.ListMine(ctx, uuid.New(), models.RoleAdmin)
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(all))
	for _, v := range all {
		ids = append(ids, v.ID)
	}
	assert.Contains(t, ids, f.contract.ID)
}
