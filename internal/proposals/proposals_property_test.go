package proposals_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/aimerfeng/FinderMeister/internal/config"
	"github.com/aimerfeng/FinderMeister/internal/ledger"
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

func newService() *proposals.Service {
	return proposals.NewService(testDB, &config.TokenConfig{ProposalCost: 1, SignupBonus: 5, MonthlyAmount: 20}, nil)
}

func submitRequest(findID uuid.UUID, price int64) *proposals.SubmitRequest {
	return &proposals.SubmitRequest{
		FindID:   findID,
		Approach: "Three concepts, two revisions",
		Price:    decimal.NewFromInt(price),
		Timeline: "1 week",
	}
}

func tokenBalance(t *testing.T, finderID uuid.UUID) int {
	var balance int
	require.NoError(t, testDB.QueryRow(context.Background(), `SELECT token_balance FROM finders WHERE id = $1`, finderID).Scan(&balance))
	return balance
}

// Submitting costs one token and accepting creates a held contract.
func TestSubmitAndAccept(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := newService()

	clientID, err := testutil.CreateUser(ctx, testDB, "client")
	require.NoError(t, err)
	findID, err := testutil.CreateFind(ctx, testDB, clientID)
	require.NoError(t, err)
	finderUserID, finderID, err := testutil.CreateFinder(ctx, testDB, 5)
	require.NoError(t, err)

	proposal, err := svc.Submit(ctx, finderUserID, submitRequest(findID, 1500))
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusPending, proposal.Status)
	assert.Equal(t, 4, tokenBalance(t, finderID))

	var txType string
	var amount int
	var reference uuid.UUID
	err = testDB.QueryRow(ctx, `
		SELECT type, amount, reference_id FROM token_transactions WHERE finder_id = $1 AND type = 'proposal'
	`, finderID).Scan(&txType, &amount, &reference)
	require.NoError(t, err)
	assert.Equal(t, -1, amount)
	assert.Equal(t, proposal.ID, reference)

	_, err = svc.Submit(ctx, finderUserID, submitRequest(findID, 1400))
	assert.ErrorIs(t, err, proposals.ErrDuplicateProposal)
	assert.Equal(t, 4, tokenBalance(t, finderID), "rejected submission must not spend a token")

	otherClient, err := testutil.CreateUser(ctx, testDB, "client")
	require.NoError(t, err)
	_, err = svc.Accept(ctx, otherClient, proposal.ID)
	assert.ErrorIs(t, err, proposals.ErrNotFindOwner)

	result, err := svc.Accept(ctx, clientID, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusAccepted, result.Proposal.Status)
	assert.Equal(t, models.EscrowStatusHeld, result.Contract.EscrowStatus)
	assert.True(t, decimal.NewFromInt(1500).Equal(result.Contract.Amount))
	assert.Equal(t, finderID, result.Contract.FinderID)

	var status models.FindStatus
	require.NoError(t, testDB.QueryRow(ctx, `SELECT status FROM finds WHERE id = $1`, findID).Scan(&status))
	assert.Equal(t, models.FindStatusInProgress, status)

	_, err = svc.Accept(ctx, clientID, proposal.ID)
	assert.ErrorIs(t, err, proposals.ErrProposalNotPending)

	lateUserID, _, err := testutil.CreateFinder(ctx, testDB, 5)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, lateUserID, submitRequest(findID, 900))
	assert.ErrorIs(t, err, proposals.ErrFindNotOpen)
}

// A finder without tokens cannot submit, and nothing is written.
func TestProperty_ZeroTokensLeavesNoTrace(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	svc := newService()

	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		clientID, err := testutil.CreateUser(ctx, testDB, "client")
		if err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
		findID, err := testutil.CreateFind(ctx, testDB, clientID)
		if err != nil {
			t.Fatalf("CreateFind failed: %v", err)
		}
		finderUserID, finderID, err := testutil.CreateFinder(ctx, testDB, 0)
		if err != nil {
			t.Fatalf("CreateFinder failed: %v", err)
		}

		price := rapid.Int64Range(1, 100000).Draw(t, "price")
		_, err = svc.Submit(ctx, finderUserID, submitRequest(findID, price))
		if err != ledger.ErrInsufficientTokens {
			t.Fatalf("expected ErrInsufficientTokens, got %v", err)
		}

		var proposalCount, txCount, balance int
		err = testDB.QueryRow(ctx, `
			SELECT
				(SELECT COUNT(*) FROM proposals WHERE finder_id = $1),
				(SELECT COUNT(*) FROM token_transactions WHERE finder_id = $1),
				(SELECT token_balance FROM finders WHERE id = $1)
		`, finderID).Scan(&proposalCount, &txCount, &balance)
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if proposalCount != 0 || txCount != 0 || balance != 0 {
			t.Fatalf("failed submission left proposals=%d transactions=%d balance=%d", proposalCount, txCount, balance)
		}
	})
}

// Concurrent acceptance of different proposals on one find yields exactly one contract.
func TestAccept_ConcurrentSingleWinner(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := newService()

	clientID, err := testutil.CreateUser(ctx, testDB, "client")
	require.NoError(t, err)
	findID, err := testutil.CreateFind(ctx, testDB, clientID)
	require.NoError(t, err)

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		userID, _, err := testutil.CreateFinder(ctx, testDB, 3)
		require.NoError(t, err)
		p, err := svc.Submit(ctx, userID, submitRequest(findID, int64(1000+i*100)))
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = svc.Accept(ctx, clientID, id)
		}(i, id)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, proposals.ErrAlreadyAccepted)
		}
	}
	assert.Equal(t, 1, wins)

	var contracts int
	require.NoError(t, testDB.QueryRow(ctx, `SELECT COUNT(*) FROM contracts WHERE find_id = $1`, findID).Scan(&contracts))
	assert.Equal(t, 1, contracts)
}

func TestRejectAndListings(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := newService()

	clientID, err := testutil.CreateUser(ctx, testDB, "client")
	require.NoError(t, err)
	findID, err := testutil.CreateFind(ctx, testDB, clientID)
	require.NoError(t, err)
	finderUserID, _, err := testutil.CreateFinder(ctx, testDB, 2)
	require.NoError(t, err)

	p, err := svc.Submit(ctx, finderUserID, submitRequest(findID, 1200))
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, clientID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusRejected, rejected.Status)

	_, err = svc.Reject(ctx, clientID, p.ID)
	assert.ErrorIs(t, err, proposals.ErrProposalNotPending)

	_, err = svc.Reject(ctx, clientID, uuid.New())
	assert.ErrorIs(t, err, proposals.ErrProposalNotFound)

	forClient, err := svc.ListForClient(ctx, clientID)
	require.NoError(t, err)
	require.Len(t, forClient, 1)
	assert.Equal(t, "Logo design", forClient[0].FindTitle)

	forFinder, err := svc.ListForFinder(ctx, finderUserID)
	require.NoError(t, err)
	require.Len(t, forFinder, 1)
	assert.Equal(t, p.ID, forFinder[0].ID)

	_, err = svc.ListForFind(ctx, uuid.New(), findID)
	assert.ErrorIs(t, err, proposals.ErrNotFindOwner)

	forFind, err := svc.ListForFind(ctx, clientID, findID)
	require.NoError(t, err)
	assert.Len(t, forFind, 1)
}
