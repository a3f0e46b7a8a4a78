// Package pgstore backs the gateway with PostgreSQL: account keys, wake
// push logs, and the caller-name directory.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dialcore/dialcore/internal/dialgw"
	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements dialgw.AccountStore, dialgw.PushLogger, and
// dialgw.CnamDirectory using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL connection and runs pending migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("postgresql store opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs all pending SQL migration files in order.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}

// ValidateKey checks an account key and returns the account if it exists
// and is active. Returns nil, nil otherwise.
func (s *Store) ValidateKey(ctx context.Context, key string) (*dialgw.Account, error) {
	var a dialgw.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, key, name, active, created_at
		 FROM accounts
		 WHERE key = $1 AND active`,
		key,
	).Scan(&a.ID, &a.Key, &a.Name, &a.Active, &a.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return &a, nil
}

// CreateAccount inserts a new account with a generated key and returns it.
func (s *Store) CreateAccount(ctx context.Context, name string) (*dialgw.Account, error) {
	key := uuid.NewString()
	var a dialgw.Account
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO accounts (key, name, active)
		 VALUES ($1, $2, TRUE)
		 RETURNING id, key, name, active, created_at`,
		key, name,
	).Scan(&a.ID, &a.Key, &a.Name, &a.Active, &a.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("inserting account: %w", err)
	}
	return &a, nil
}

// Log records the result of a wake delivery attempt.
func (s *Store) Log(entry dialgw.PushLogEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO push_logs (account_key, platform, event, call_id, success, error)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.AccountKey, entry.Platform, entry.Event, entry.CallID, entry.Success, entry.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting push log: %w", err)
	}
	return nil
}

// LookupName resolves a number against the caller-name directory.
// A miss returns ("", nil).
func (s *Store) LookupName(ctx context.Context, number string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM cnam_directory WHERE number = $1",
		number,
	).Scan(&name)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying cnam directory: %w", err)
	}
	return name, nil
}

// UpsertName inserts or replaces a directory entry.
func (s *Store) UpsertName(ctx context.Context, number, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cnam_directory (number, name, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (number) DO UPDATE SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at`,
		number, name,
	)
	if err != nil {
		return fmt.Errorf("upserting cnam entry: %w", err)
	}
	return nil
}
