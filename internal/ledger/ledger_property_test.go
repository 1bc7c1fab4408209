package ledger

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/config"
	"github.com/aimerfeng/FinderMeister/internal/database"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/aimerfeng/FinderMeister/internal/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
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

func newService() *Service {
	return NewService(testDB, &config.TokenConfig{ProposalCost: 1, SignupBonus: 5, MonthlyAmount: 10})
}

func TestMonthPeriod(t *testing.T) {
	assert.Equal(t, "2026-01", MonthPeriod(time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC)))
	tz := time.FixedZone("UTC+3", 3*3600)
	assert.Equal(t, "2025-12", MonthPeriod(time.Date(2026, 1, 1, 1, 0, 0, 0, tz)), "periods are UTC months")
}

func TestDebitCredit(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := newService()

	_, finderID, err := testutil.CreateFinder(ctx, testDB, 2)
	require.NoError(t, err)

	err = database.WithTx(ctx, testDB, func(tx pgx.Tx) error {
		balance, err := DebitTx(ctx, tx, finderID, 2, models.TokenTxProposal, "proposal", nil)
		assert.Equal(t, 0, balance)
		return err
	})
	require.NoError(t, err)

	err = database.WithTx(ctx, testDB, func(tx pgx.Tx) error {
		_, err := DebitTx(ctx, tx, finderID, 1, models.TokenTxProposal, "proposal", nil)
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientTokens)

	err = database.WithTx(ctx, testDB, func(tx pgx.Tx) error {
		_, err := DebitTx(ctx, tx, uuid.New(), 1, models.TokenTxProposal, "proposal", nil)
		return err
	})
	assert.ErrorIs(t, err, ErrFinderNotFound)

	err = database.WithTx(ctx, testDB, func(tx pgx.Tx) error {
		_, err := CreditTx(ctx, tx, finderID, 0, models.TokenTxRefund, "refund", nil)
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	history, total, err := svc.History(ctx, finderID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, -2, history[0].Amount)
	assert.Equal(t, 0, history[0].BalanceAfter)
}

func TestGrant(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := newService()

	adminID, err := testutil.CreateUser(ctx, testDB, "admin")
	require.NoError(t, err)
	userID, finderID, err := testutil.CreateFinder(ctx, testDB, 0)
	require.NoError(t, err)

	_, err = svc.Grant(ctx, adminID, finderID, 5, "")
	assert.ErrorIs(t, err, ErrReasonRequired)
	_, err = svc.Grant(ctx, adminID, uuid.New(), 5, "goodwill")
	assert.ErrorIs(t, err, ErrFinderNotFound)

	grant, err := svc.Grant(ctx, adminID, finderID, 7, "goodwill")
	require.NoError(t, err)
	assert.Equal(t, adminID, grant.GrantedBy)

	balance, err := svc.Balance(ctx, finderID)
	require.NoError(t, err)
	assert.Equal(t, 7, balance)

	resolved, err := svc.FinderIDForUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, finderID, resolved)
}

// The stored balance always equals the sum of the transaction log, whatever
// mix of debits and credits was applied.
func TestProperty_BalanceMatchesLog(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		start := rapid.IntRange(0, 10).Draw(t, "start")
		_, finderID, err := testutil.CreateFinder(ctx, testDB, 0)
		if err != nil {
			t.Fatalf("CreateFinder failed: %v", err)
		}
		if start > 0 {
			err := database.WithTx(ctx, testDB, func(tx pgx.Tx) error {
				_, err := CreditTx(ctx, tx, finderID, start, models.TokenTxSignupBonus, "bonus", nil)
				return err
			})
			if err != nil {
				t.Fatalf("seed credit failed: %v", err)
			}
		}

		ops := rapid.SliceOfN(rapid.IntRange(-5, 5), 1, 15).Draw(t, "ops")
		for _, op := range ops {
			err := database.WithTx(ctx, testDB, func(tx pgx.Tx) error {
				var err error
				if op < 0 {
					_, err = DebitTx(ctx, tx, finderID, -op, models.TokenTxProposal, "debit", nil)
				} else {
					_, err = CreditTx(ctx, tx, finderID, op, models.TokenTxRefund, "credit", nil)
				}
				return err
			})
			if err != nil && !errors.Is(err, ErrInsufficientTokens) && !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("unexpected error: %v", err)
			}
		}

		var balance, logged int
		err = testDB.QueryRow(ctx, `
			SELECT f.token_balance, COALESCE((SELECT SUM(amount) FROM token_transactions WHERE finder_id = f.id), 0)
			FROM finders f WHERE f.id = $1
		`, finderID).Scan(&balance, &logged)
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if balance < 0 {
			t.Fatalf("balance went negative: %d", balance)
		}
		if balance != logged {
			t.Fatalf("balance %d != transaction sum %d", balance, logged)
		}
	})
}

// Distributing twice in one period credits a finder once.
func TestDistributeOne_OncePerPeriod(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := newService()

	_, finderID, err := testutil.CreateFinder(ctx, testDB, 0)
	require.NoError(t, err)
	period := "1999-01"

	credited, err := svc.distributeOne(ctx, finderID, period)
	require.NoError(t, err)
	assert.True(t, credited)

	credited, err = svc.distributeOne(ctx, finderID, period)
	require.NoError(t, err)
	assert.False(t, credited)

	balance, err := svc.Balance(ctx, finderID)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
}

func TestDistributeMonthly_DisabledAmount(t *testing.T) {
	svc := NewService(nil, &config.TokenConfig{MonthlyAmount: 0})
	result, err := svc.DistributeMonthly(context.Background(), time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2026-05", result.Period)
	assert.Zero(t, result.Distributed)
}
