package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/admin"
	"github.com/aimerfeng/FinderMeister/internal/database"
	"github.com/golang-migrate/migrate/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		command     string
		steps       int
		databaseURL string
		email       string
	)

	flag.StringVar(&command, "command", "up", "Command: up, down, force, version, drop, promote-admin")
	flag.IntVar(&steps, "steps", 0, "Number of migrations to run (0 = all), or the version for force")
	flag.StringVar(&databaseURL, "database", "", "Database URL (overrides DATABASE_URL env)")
	flag.StringVar(&email, "email", "", "Account email for promote-admin")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		log.Fatal().Msg("DATABASE_URL environment variable or -database flag is required")
	}

	log.Info().
		Str("command", command).
		Int("steps", steps).
		Msg("Starting migration")

	if command == "promote-admin" {
		if err := promoteAdmin(databaseURL, email); err != nil {
			log.Fatal().Err(err).Str("email", email).Msg("Failed to promote user")
		}
		return
	}

	m, err := database.NewMigrator(databaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrate instance")
	}
	defer m.Close()

	switch command {
	case "up":
		err = runUp(m, steps)
	case "down":
		err = runDown(m, steps)
	case "force":
		if steps == 0 {
			log.Fatal().Msg("Force command requires -steps flag with version number")
		}
		err = m.Force(steps)
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			log.Info().Msg("No migrations have been applied yet")
			return
		}
		if verr != nil {
			log.Fatal().Err(verr).Msg("Failed to get version")
		}
		log.Info().
			Uint("version", version).
			Bool("dirty", dirty).
			Msg("Current migration version")
		return
	case "drop":
		err = m.Drop()
	default:
		log.Fatal().Str("command", command).Msg("Unknown command")
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Info().Msg("No migrations to apply")
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	log.Info().Msg("Migration completed successfully")
}

func runUp(m *migrate.Migrate, steps int) error {
	if steps > 0 {
		return m.Steps(steps)
	}
	return m.Up()
}

func runDown(m *migrate.Migrate, steps int) error {
	if steps > 0 {
		return m.Steps(-steps)
	}
	return m.Down()
}

func promoteAdmin(databaseURL, email string) error {
	if email == "" {
		return errors.New("promote-admin requires -email")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	user, err := admin.NewService(db.Pool).PromoteToAdmin(ctx, email)
	if err != nil {
		return err
	}
	log.Info().Str("user_id", user.ID.String()).Msg("User promoted to admin")
	return nil
}
