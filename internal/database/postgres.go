// Package database provides the persistence layers behind the session store:
// PostgreSQL for application profiles and Redis for the persisted session
// slot and rate-limit counters.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/FitnessShell/internal/models"
	"github.com/ieraasyl/FitnessShell/pkg/config"
	"github.com/ieraasyl/FitnessShell/pkg/utils"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ErrProfileNotFound is returned when a user has no profile row yet.
var ErrProfileNotFound = errors.New("profile not found")

// ProfilesSchema creates the profiles table. It is idempotent and runs at
// startup through RunMigrations.
const ProfilesSchema = `
CREATE TABLE IF NOT EXISTS profiles (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id     UUID NOT NULL UNIQUE,
	username    TEXT NOT NULL,
	preferences JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// TxFunc is a function that runs within a database transaction.
// The transaction is committed when it returns nil and rolled back otherwise.
type TxFunc func(tx *sql.Tx) error

// Querier abstracts *sql.DB and *sql.Tx so profile queries run both inside
// and outside transactions.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PostgresDB wraps a PostgreSQL connection pool.
type PostgresDB struct {
	db *sql.DB
}

// NewPostgresDB opens a connection pool and retries the initial ping with
// exponential backoff, so the shell survives a database container that is
// still starting.
//
// Example:
//
//	db, err := database.NewPostgresDB(&cfg.Database)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Database connection failed")
//	}
//	defer db.Close()
func NewPostgresDB(cfg *config.DatabaseConfig) (*PostgresDB, error) {
	var db *sql.DB

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := utils.Retry(ctx, utils.DatabaseRetryConfig(), func() error {
		var err error
		db, err = sql.Open("postgres", cfg.DSN())
		if err != nil {
			log.Warn().Err(err).Msg("Failed to open database connection, retrying...")
			return err
		}

		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns / 2)
		db.SetConnMaxLifetime(time.Hour)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()

		if err := db.PingContext(pingCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to ping database, retrying...")
			db.Close()
			return err
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("Successfully connected to PostgreSQL")

	return &PostgresDB{db: db}, nil
}

// Close closes the connection pool.
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// Ping checks if the database connection is alive.
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// GetProfileByUserID selects the profile owned by userID.
// Returns ErrProfileNotFound if the user has none.
func (p *PostgresDB) GetProfileByUserID(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	return GetProfileByUserIDTx(ctx, p.db, userID)
}

// InsertProfile inserts a new profile row and returns it as stored.
// ID and timestamps are assigned by the database when zero.
func (p *PostgresDB) InsertProfile(ctx context.Context, profile *models.UserProfile) (*models.UserProfile, error) {
	var stored *models.UserProfile
	err := p.WithTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		stored, err = InsertProfileTx(ctx, tx, profile)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", stored.UserID.String()).
		Str("username", stored.Username).
		Msg("Profile created")

	return stored, nil
}

// GetProfileByUserIDTx is GetProfileByUserID over any Querier.
func GetProfileByUserIDTx(ctx context.Context, q Querier, userID uuid.UUID) (*models.UserProfile, error) {
	query := `
		SELECT id, user_id, username, preferences, created_at, updated_at
		FROM profiles
		WHERE user_id = $1
	`

	start := time.Now()
	profile, err := scanProfile(q.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		recordQuery("postgres", "SELECT", "not_found", time.Since(start))
		return nil, ErrProfileNotFound
	}
	if err != nil {
		recordQuery("postgres", "SELECT", "error", time.Since(start))
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	recordQuery("postgres", "SELECT", "success", time.Since(start))

	return profile, nil
}

// InsertProfileTx inserts a profile using the given Querier. A concurrent
// insert for the same user keeps the existing row and returns it.
func InsertProfileTx(ctx context.Context, q Querier, profile *models.UserProfile) (*models.UserProfile, error) {
	prefs, err := json.Marshal(profile.Preferences)
	if err != nil {
		return nil, fmt.Errorf("failed to encode preferences: %w", err)
	}

	id := profile.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	query := `
		INSERT INTO profiles (id, user_id, username, preferences)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id)
		DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, username, preferences, created_at, updated_at
	`

	start := time.Now()
	stored, err := scanProfile(q.QueryRowContext(ctx, query, id, profile.UserID, profile.Username, prefs))
	if err != nil {
		recordQuery("postgres", "INSERT", "error", time.Since(start))
		return nil, fmt.Errorf("failed to insert profile: %w", err)
	}
	recordQuery("postgres", "INSERT", "success", time.Since(start))

	return stored, nil
}

func scanProfile(row *sql.Row) (*models.UserProfile, error) {
	var profile models.UserProfile
	var prefs []byte

	err := row.Scan(
		&profile.ID,
		&profile.UserID,
		&profile.Username,
		&prefs,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	profile.Preferences = models.DefaultPreferences()
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &profile.Preferences); err != nil {
			return nil, fmt.Errorf("failed to decode preferences: %w", err)
		}
	}

	return &profile, nil
}

// RunMigrations executes the given DDL.
//
// Example:
//
//	if err := db.RunMigrations(ctx, database.ProfilesSchema); err != nil {
//	    log.Fatal().Err(err).Msg("Failed to run migrations")
//	}
func (p *PostgresDB) RunMigrations(ctx context.Context, migrationSQL string) error {
	_, err := p.db.ExecContext(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Msg("Database migrations completed successfully")
	return nil
}

// WithTransaction runs fn inside a transaction, rolling back on error or panic.
func (p *PostgresDB) WithTransaction(ctx context.Context, fn TxFunc) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction after panic")
			}
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
