package withdrawal

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/aimerfeng/FinderMeister/internal/config"
	"github.com/aimerfeng/FinderMeister/internal/models"
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

func testConfig() *config.WithdrawalConfig {
	return &config.WithdrawalConfig{
		MinimumAmount: decimal.NewFromInt(10),
		FeeRate:       decimal.RequireFromString("0.02"),
	}
}

func fundedFinder(t require.TestingT, balance decimal.Decimal) (uuid.UUID, uuid.UUID) {
	ctx := context.Background()
	userID, finderID, err := testutil.CreateFinder(ctx, testDB, 0)
	require.NoError(t, err)
	_, err = testDB.Exec(ctx, `UPDATE finders SET available_balance = $2, total_earned = $2 WHERE id = $1`, finderID, balance)
	require.NoError(t, err)
	return userID, finderID
}

func availableOf(t require.TestingT, finderID uuid.UUID) decimal.Decimal {
	var balance decimal.Decimal
	require.NoError(t, testDB.QueryRow(context.Background(), `SELECT available_balance FROM finders WHERE id = $1`, finderID).Scan(&balance))
	return balance
}

func TestCalculateFee(t *testing.T) {
	svc := NewService(nil, testConfig())

	assert.Equal(t, "2", svc.CalculateFee(decimal.NewFromInt(100), models.WithdrawalMethodPaypal).String())
	assert.Equal(t, "0.4", svc.CalculateFee(decimal.NewFromInt(20), models.WithdrawalMethodPaypal).String())
	assert.Equal(t, "1", svc.CalculateFee(decimal.NewFromInt(20), models.WithdrawalMethodBank).String(), "bank minimum applies")
	assert.Equal(t, "0.5", svc.CalculateFee(decimal.RequireFromString("0.5"), models.WithdrawalMethodBank).String(), "fee never exceeds amount")

	breakdown := svc.CalculateFeeBreakdown(decimal.NewFromInt(250), models.WithdrawalMethodBank)
	assert.Equal(t, "5", breakdown.Fee.String())
	assert.Equal(t, "245", breakdown.NetAmount.String())
	assert.Equal(t, "2", breakdown.FeePercentage.String())
}

// Fee plus net always equals the gross amount and the fee is never negative.
func TestProperty_FeeSplitConserves(t *testing.T) {
	svc := NewService(nil, testConfig())

	rapid.Check(t, func(t *rapid.T) {
		cents := rapid.Int64Range(1, 10_000_000).Draw(t, "cents")
		amount := decimal.New(cents, -2)
		method := rapid.SampledFrom([]models.WithdrawalMethod{models.WithdrawalMethodBank, models.WithdrawalMethodPaypal}).Draw(t, "method")

		b := svc.CalculateFeeBreakdown(amount, method)
		if b.Fee.IsNegative() || b.Fee.GreaterThan(amount) {
			t.Fatalf("fee %s out of range for amount %s", b.Fee, amount)
		}
		if !b.Fee.Add(b.NetAmount).Equal(amount) {
			t.Fatalf("fee %s + net %s != amount %s", b.Fee, b.NetAmount, amount)
		}
	})
}

func TestValidateWithdrawalAmount(t *testing.T) {
	svc := NewService(nil, testConfig())

	assert.ErrorIs(t, svc.ValidateWithdrawalAmount(decimal.NewFromInt(5), decimal.NewFromInt(100)), ErrBelowMinimumThreshold)
	assert.ErrorIs(t, svc.ValidateWithdrawalAmount(decimal.NewFromInt(50), decimal.NewFromInt(20)), ErrInsufficientBalance)
	assert.NoError(t, svc.ValidateWithdrawalAmount(decimal.NewFromInt(10), decimal.NewFromInt(10)))
}

func TestRequest_Validation(t *testing.T) {
	svc := NewService(nil, testConfig())
	ctx := context.Background()

	_, err := svc.Request(ctx, uuid.New(), &CreateWithdrawalRequest{Amount: decimal.NewFromInt(50), Method: "crypto", Destination: "x"})
	assert.ErrorIs(t, err, ErrInvalidWithdrawalMethod)

	_, err = svc.Request(ctx, uuid.New(), &CreateWithdrawalRequest{Amount: decimal.NewFromInt(50), Method: models.WithdrawalMethodBank, Destination: "  "})
	assert.ErrorIs(t, err, ErrDestinationRequired)

	_, err = svc.Request(ctx, uuid.New(), &CreateWithdrawalRequest{Amount: decimal.NewFromInt(5), Method: models.WithdrawalMethodBank, Destination: "DE89"})
	assert.ErrorIs(t, err, ErrBelowMinimumThreshold)
}

func TestWithdrawalLifecycle(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := NewService(testDB, testConfig())

	userID, finderID := fundedFinder(t, decimal.NewFromInt(100))
	adminID, err := testutil.CreateUser(ctx, testDB, "admin")
	require.NoError(t, err)

	_, err = svc.Request(ctx, userID, &CreateWithdrawalRequest{Amount: decimal.NewFromInt(150), Method: models.WithdrawalMethodPaypal, Destination: "me@example.com"})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, availableOf(t, finderID).Equal(decimal.NewFromInt(100)))

	w, err := svc.Request(ctx, userID, &CreateWithdrawalRequest{Amount: decimal.NewFromInt(60), Method: models.WithdrawalMethodPaypal, Destination: "me@example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusPending, w.Status)
	assert.Equal(t, "1.2", w.Fee.String())
	assert.Equal(t, "58.8", w.NetAmount.String())
	assert.True(t, availableOf(t, finderID).Equal(decimal.NewFromInt(40)))

	info, err := svc.GetEarningsInfo(ctx, userID)
	require.NoError(t, err)
	assert.True(t, info.PendingPayouts.Equal(decimal.NewFromInt(60)))

	_, err = svc.MarkPaid(ctx, adminID, w.ID, "")
	assert.ErrorIs(t, err, ErrWithdrawalNotApproved)

	approved, err := svc.Approve(ctx, adminID, w.ID, "checked")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusApproved, approved.Status)
	require.NotNil(t, approved.ProcessedBy)
	assert.Equal(t, adminID, *approved.ProcessedBy)

	_, err = svc.Reject(ctx, adminID, w.ID, "too late")
	assert.ErrorIs(t, err, ErrWithdrawalNotPending)

	paid, err := svc.MarkPaid(ctx, adminID, w.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusPaid, paid.Status)
	require.NotNil(t, paid.AdminNotes)
	assert.Equal(t, "checked", *paid.AdminNotes)

	history, err := svc.History(ctx, userID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, history.Total)
	assert.Equal(t, 1, history.TotalPages)

	_, err = svc.Approve(ctx, adminID, uuid.New(), "")
	assert.ErrorIs(t, err, ErrWithdrawalNotFound)
}

// Requesting and then rejecting a withdrawal always restores the exact balance.
func TestProperty_RejectRestoresBalance(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	svc := NewService(testDB, testConfig())
	adminID, err := testutil.CreateUser(context.Background(), testDB, "admin")
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		balance := decimal.New(rapid.Int64Range(1000, 1_000_000).Draw(t, "balance"), -2)
		amount := decimal.New(rapid.Int64Range(1000, 1_000_000).Draw(t, "amount"), -2)
		userID, finderID := fundedFinder(t, balance)

		w, err := svc.Request(ctx, userID, &CreateWithdrawalRequest{Amount: amount, Method: models.WithdrawalMethodBank, Destination: "DE89 3704"})
		if amount.GreaterThan(balance) {
			if !errors.Is(err, ErrInsufficientBalance) {
				t.Fatalf("expected ErrInsufficientBalance, got %v", err)
			}
			if got := availableOf(t, finderID); !got.Equal(balance) {
				t.Fatalf("failed request changed balance from %s to %s", balance, got)
			}
			return
		}
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		if got := availableOf(t, finderID); !got.Equal(balance.Sub(amount)) {
			t.Fatalf("balance after request = %s, want %s", got, balance.Sub(amount))
		}

		if _, err := svc.Reject(ctx, adminID, w.ID, "mismatched name"); err != nil {
			t.Fatalf("Reject failed: %v", err)
		}
		if got := availableOf(t, finderID); !got.Equal(balance) {
			t.Fatalf("balance after reject = %s, want %s", got, balance)
		}
	})
}
