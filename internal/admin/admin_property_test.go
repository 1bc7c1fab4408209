package admin_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/aimerfeng/FinderMeister/internal/admin"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/aimerfeng/FinderMeister/internal/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestBanAndUnban(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := admin.NewService(testDB)

	adminID, err := testutil.CreateUser(ctx, testDB, "admin")
	require.NoError(t, err)
	userID, err := testutil.CreateUser(ctx, testDB, "finder")
	require.NoError(t, err)

	_, err = svc.Ban(ctx, adminID, adminID, "testing")
	assert.ErrorIs(t, err, admin.ErrCannotBanSelf)

	otherAdmin, err := testutil.CreateUser(ctx, testDB, "admin")
	require.NoError(t, err)
	_, err = svc.Ban(ctx, adminID, otherAdmin, "testing")
	assert.ErrorIs(t, err, admin.ErrCannotBanAdmin)

	_, err = svc.Ban(ctx, adminID, userID, "  ")
	assert.ErrorIs(t, err, admin.ErrReasonRequired)

	_, err = svc.Ban(ctx, adminID, uuid.New(), "spam")
	assert.ErrorIs(t, err, admin.ErrUserNotFound)

	banned, err := svc.Ban(ctx, adminID, userID, "Chargeback fraud")
	require.NoError(t, err)
	assert.True(t, banned.IsBanned)
	require.NotNil(t, banned.BannedReason)
	assert.Equal(t, "Chargeback fraud", *banned.BannedReason)

	var active int
	require.NoError(t, testDB.QueryRow(ctx, `
		SELECT COUNT(*) FROM user_restrictions WHERE user_id = $1 AND restriction_type = 'banned' AND is_active
	`, userID).Scan(&active))
	assert.Equal(t, 1, active)

	unbanned, err := svc.Unban(ctx, adminID, userID)
	require.NoError(t, err)
	assert.False(t, unbanned.IsBanned)
	assert.Nil(t, unbanned.BannedReason)

	require.NoError(t, testDB.QueryRow(ctx, `
		SELECT COUNT(*) FROM user_restrictions WHERE user_id = $1 AND restriction_type = 'banned' AND is_active
	`, userID).Scan(&active))
	assert.Equal(t, 0, active)

	verified, err := svc.Verify(ctx, userID)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)
	verified, err = svc.Unverify(ctx, userID)
	require.NoError(t, err)
	assert.False(t, verified.IsVerified)
}

func TestPromoteToAdmin(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := admin.NewService(testDB)

	userID, err := testutil.CreateUser(ctx, testDB, "client")
	require.NoError(t, err)
	var email string
	require.NoError(t, testDB.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email))

	promoted, err := svc.PromoteToAdmin(ctx, strings.ToUpper(email))
	require.NoError(t, err)
	assert.Equal(t, userID, promoted.ID)
	assert.Equal(t, models.RoleAdmin, promoted.Role)

	_, err = svc.PromoteToAdmin(ctx, "nobody-"+uuid.NewString()+"@example.com")
	assert.ErrorIs(t, err, admin.ErrUserNotFound)

	bannedID, err := testutil.CreateUser(ctx, testDB, "finder")
	require.NoError(t, err)
	_, err = svc.Ban(ctx, userID, bannedID, "fraud")
	require.NoError(t, err)
	require.NoError(t, testDB.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, bannedID).Scan(&email))
	_, err = svc.PromoteToAdmin(ctx, email)
	assert.ErrorIs(t, err, admin.ErrUserNotFound)
}

func TestListUsers(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := admin.NewService(testDB)

	for i := 0; i < 3; i++ {
		_, err := testutil.CreateUser(ctx, testDB, "client")
		require.NoError(t, err)
	}

	resp, err := svc.ListUsers(ctx, &admin.ListUsersRequest{Role: models.RoleClient, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Page)
	assert.Len(t, resp.Users, 2)
	assert.GreaterOrEqual(t, resp.Total, 3)
	assert.GreaterOrEqual(t, resp.TotalPages, 2)
	for _, u := range resp.Users {
		assert.Equal(t, models.RoleClient, u.Role)
	}

	resp, err = svc.ListUsers(ctx, &admin.ListUsersRequest{Search: "TEST.FINDERMEISTER.DEV", PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 20, resp.PageSize)
	assert.NotEmpty(t, resp.Users)
}

func TestTokenPackages(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := admin.NewService(testDB)

	_, err := svc.CreatePackage(ctx, &admin.PackageRequest{Name: "Free", TokenCount: 10, Price: decimal.Zero})
	assert.ErrorIs(t, err, admin.ErrInvalidPackage)

	pkg, err := svc.CreatePackage(ctx, &admin.PackageRequest{Name: "Starter", TokenCount: 10, Price: decimal.RequireFromString("9.99")})
	require.NoError(t, err)
	assert.True(t, pkg.IsActive)

	count := 25
	updated, err := svc.UpdatePackage(ctx, pkg.ID, &admin.UpdatePackageRequest{TokenCount: &count})
	require.NoError(t, err)
	assert.Equal(t, 25, updated.TokenCount)
	assert.Equal(t, "Starter", updated.Name)

	_, err = svc.DeactivatePackage(ctx, pkg.ID)
	require.NoError(t, err)

	active, err := svc.ListPackages(ctx, true)
	require.NoError(t, err)
	for _, p := range active {
		assert.NotEqual(t, pkg.ID, p.ID)
	}

	_, err = svc.UpdatePackage(ctx, uuid.New(), &admin.UpdatePackageRequest{TokenCount: &count})
	assert.ErrorIs(t, err, admin.ErrPackageNotFound)
}

func TestSupportTickets(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := admin.NewService(testDB)

	userID, err := testutil.CreateUser(ctx, testDB, "client")
	require.NoError(t, err)
	adminID, err := testutil.CreateUser(ctx, testDB, "admin")
	require.NoError(t, err)

	_, err = svc.CreateTicket(ctx, userID, &admin.CreateTicketRequest{Subject: "x", Description: "y", Priority: "extreme"})
	assert.ErrorIs(t, err, admin.ErrInvalidPriority)

	ticket, err := svc.CreateTicket(ctx, userID, &admin.CreateTicketRequest{Subject: "Refund", Description: "Charged twice"})
	require.NoError(t, err)
	assert.Equal(t, models.TicketPriorityMedium, ticket.Priority)
	assert.Equal(t, models.TicketStatusOpen, ticket.Status)
	assert.Equal(t, "general", ticket.Category)

	mine, err := svc.ListMyTickets(ctx, userID)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	resolved := models.TicketStatusResolved
	updated, err := svc.UpdateTicket(ctx, ticket.ID, &admin.UpdateTicketRequest{Status: &resolved, AssignedTo: &adminID})
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusResolved, updated.Status)
	assert.NotNil(t, updated.ResolvedAt)
	require.NotNil(t, updated.AssignedTo)
	assert.Equal(t, adminID, *updated.AssignedTo)

	reopened := models.TicketStatusOpen
	updated, err = svc.UpdateTicket(ctx, ticket.ID, &admin.UpdateTicketRequest{Status: &reopened})
	require.NoError(t, err)
	assert.Nil(t, updated.ResolvedAt)

	_, err = svc.ListTickets(ctx, "bogus")
	assert.ErrorIs(t, err, admin.ErrInvalidStatus)
}
