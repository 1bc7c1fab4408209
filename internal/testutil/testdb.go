// Package testutil connects database-backed tests to a scratch Postgres.
package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// OpenTestDB connects to TEST_DATABASE_URL and applies migrations.
// It returns nil when the variable is unset or the database is unreachable,
// in which case database tests skip.
func OpenTestDB() *pgxpool.Pool {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		fmt.Println("TEST_DATABASE_URL not set, database tests will be skipped")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Printf("Warning: Failed to connect to test database: %v\n", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		fmt.Printf("Warning: Failed to ping test database: %v\n", err)
		pool.Close()
		return nil
	}
	if err := database.RunMigrations(dbURL); err != nil {
		fmt.Printf("Warning: Failed to migrate test database: %v\n", err)
		pool.Close()
		return nil
	}
	return pool
}

// UniqueEmail returns an email address that will not collide across runs
func UniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%s@test.findermeister.dev", prefix, uuid.NewString())
}

// CreateUser inserts a user with the given role and returns its id
func CreateUser(ctx context.Context, db *pgxpool.Pool, role string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, role, first_name, last_name)
		VALUES ($1, 'not-a-hash', $2, 'Test', 'User')
		RETURNING id
	`, UniqueEmail(role), role).Scan(&id)
	return id, err
}

// CreateFinder inserts a finder user with tokens and returns (userID, finderID)
func CreateFinder(ctx context.Context, db *pgxpool.Pool, tokens int) (uuid.UUID, uuid.UUID, error) {
	userID, err := CreateUser(ctx, db, "finder")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	var finderID uuid.UUID
	err = db.QueryRow(ctx, `
		INSERT INTO finders (user_id, token_balance, current_level_id)
		VALUES ($1, $2, (SELECT id FROM finder_levels ORDER BY sort_order LIMIT 1))
		RETURNING id
	`, userID, tokens).Scan(&finderID)
	return userID, finderID, err
}

// CreateFind inserts an open find owned by clientID
func CreateFind(ctx context.Context, db *pgxpool.Pool, clientID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.QueryRow(ctx, `
		INSERT INTO finds (client_id, title, description, category, budget_min, budget_max)
		VALUES ($1, 'Logo design', 'Need a logo', 'design', $2, $3)
		RETURNING id
	`, clientID, decimal.NewFromInt(1000), decimal.NewFromInt(2000)).Scan(&id)
	return id, err
}

// CreateContract inserts an accepted proposal and its held contract for a
// fresh client, find and finder. It returns the contract id.
func CreateContract(ctx context.Context, db *pgxpool.Pool) (contractID, clientID, finderUserID, finderID uuid.UUID, err error) {
	if clientID, err = CreateUser(ctx, db, "client"); err != nil {
		return
	}
	var findID uuid.UUID
	if findID, err = CreateFind(ctx, db, clientID); err != nil {
		return
	}
	if finderUserID, finderID, err = CreateFinder(ctx, db, 0); err != nil {
		return
	}
	err = db.QueryRow(ctx, `
		WITH p AS (
			INSERT INTO proposals (find_id, finder_id, approach, price, timeline, status)
			VALUES ($1, $2, 'Direct', 1200, '1 week', 'accepted')
			RETURNING id, price
		)
		INSERT INTO contracts (find_id, proposal_id, client_id, finder_id, amount)
		SELECT $1, p.id, $3, $2, p.price FROM p
		RETURNING id
	`, findID, finderID, clientID).Scan(&contractID)
	return
}
