package finds_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/aimerfeng/FinderMeister/internal/finds"
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

func TestValidateBudget(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		min := rapid.Int64Range(-1000, 100000).Draw(t, "min")
		max := rapid.Int64Range(-1000, 100000).Draw(t, "max")

		err := finds.ValidateBudget(decimal.NewFromInt(min), decimal.NewFromInt(max))
		valid := min >= 0 && max >= min
		if valid && err != nil {
			t.Fatalf("budget %d..%d should be valid, got %v", min, max, err)
		}
		if !valid && !errors.Is(err, finds.ErrInvalidBudget) {
			t.Fatalf("budget %d..%d should be rejected, got %v", min, max, err)
		}
	})
}

func TestCreateFind_StartsOpen(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := finds.NewService(testDB)

	clientID, err := testutil.CreateUser(ctx, testDB, "client")
	require.NoError(t, err)

	find, err := svc.Create(ctx, clientID, &finds.CreateFindRequest{
		Title:       "Logo design",
		Description: "A logo for my bakery",
		Category:    "design",
		BudgetMin:   decimal.NewFromInt(1000),
		BudgetMax:   decimal.NewFromInt(2000),
	})
	require.NoError(t, err)
	assert.Equal(t, models.FindStatusOpen, find.Status)
	assert.True(t, find.BudgetMin.Equal(decimal.NewFromInt(1000)))

	mine, err := svc.ListForClient(ctx, clientID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, find.ID, mine[0].ID)
}

func TestCancelFind(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := finds.NewService(testDB)

	clientID, err := testutil.CreateUser(ctx, testDB, "client")
	require.NoError(t, err)
	otherID, err := testutil.CreateUser(ctx, testDB, "client")
	require.NoError(t, err)
	findID, err := testutil.CreateFind(ctx, testDB, clientID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, otherID, findID)
	assert.ErrorIs(t, err, finds.ErrFindNotOwned)

	cancelled, err := svc.Cancel(ctx, clientID, findID)
	require.NoError(t, err)
	assert.Equal(t, models.FindStatusCancelled, cancelled.Status)

	_, err = svc.Cancel(ctx, clientID, findID)
	assert.ErrorIs(t, err, finds.ErrFindNotOpen)

	_, err = svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, finds.ErrFindNotFound)
}

// A created category is listed back with the same name, description and active flag.
func TestProperty_CategoryRoundTrip(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	svc := finds.NewService(testDB)

	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		name := "cat-" + uuid.NewString()[:8] + rapid.StringMatching(`[a-z]{0,12}`).Draw(t, "suffix")
		description := rapid.StringMatching(`[A-Za-z ]{0,40}`).Draw(t, "description")
		active := rapid.Bool().Draw(t, "active")

		created, err := svc.CreateCategory(ctx, &finds.CategoryRequest{Name: name, Description: description, IsActive: &active})
		if err != nil {
			t.Fatalf("CreateCategory failed: %v", err)
		}

		listed, err := svc.ListCategories(ctx, false)
		if err != nil {
			t.Fatalf("ListCategories failed: %v", err)
		}

		var found *models.Category
		for i := range listed {
			if listed[i].ID == created.ID {
				found = &listed[i]
			}
		}
		if found == nil {
			t.Fatal("created category not listed")
		}
		if found.Name != name || found.Description != description || found.IsActive != active {
			t.Fatalf("round trip mismatch: got %+v", *found)
		}

		if _, err := svc.CreateCategory(ctx, &finds.CategoryRequest{Name: name}); !errors.Is(err, finds.ErrCategoryExists) {
			t.Fatalf("duplicate name should fail with ErrCategoryExists, got %v", err)
		}
	})
}

func TestDeleteCategory(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := finds.NewService(testDB)

	c, err := svc.CreateCategory(ctx, &finds.CategoryRequest{Name: "tmp-" + uuid.NewString()})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteCategory(ctx, c.ID))
	assert.ErrorIs(t, svc.DeleteCategory(ctx, c.ID), finds.ErrCategoryNotFound)

	levels, err := svc.ListFinderLevels(ctx)
	require.NoError(t, err)
	require.Len(t, levels, 4)
	assert.Equal(t, "Novice", levels[0].Name)
}
