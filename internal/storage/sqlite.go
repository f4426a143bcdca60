package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/chis/fleetwatch/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	maxBusyRetries = 5
	baseBusyDelay  = 10 * time.Millisecond
	maxBusyDelay   = 1 * time.Second
)

// SQLiteStorage implements every collaborator of the package on SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
	log    *logging.Logger
}

var _ Store = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens the database, enables WAL mode and runs migrations.
func NewSQLiteStorage(dbPath string, log *logging.Logger) (*SQLiteStorage, error) {
	if log == nil {
		log = logging.Default()
	}
	log = log.WithField("db", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStorage{db: db, dbPath: dbPath, log: log}

	if err := s.enableWALMode(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Database initialized")
	return s, nil
}

func (s *SQLiteStorage) enableWALMode() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set WAL mode: %w", err)
	}

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to verify WAL mode: %w", err)
	}
	// in-memory databases report "memory"
	if mode != "wal" && mode != "memory" {
		return fmt.Errorf("WAL mode not enabled, got: %s", mode)
	}
	return nil
}

// runMigrations applies every embedded .up.sql file not yet recorded.
func (s *SQLiteStorage) runMigrations() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	applied := 0
	for _, entry := range entries {
		filename := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(filename, ".up.sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
			s.log.Warn("Skipping invalid migration filename: %s", filename)
			continue
		}

		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if count > 0 {
			continue
		}

		migrationSQL, err := migrationsFS.ReadFile("migrations/" + filename)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", filename, err)
		}
		if _, err := tx.Exec(string(migrationSQL)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", filename, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", filename, err)
		}

		s.log.Debug("Applied migration: %s", filename)
		applied++
	}

	if applied > 0 {
		s.log.Info("Migrations complete: %d applied", applied)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// retryWithBackoff retries operation while SQLite reports the database busy.
func (s *SQLiteStorage) retryWithBackoff(ctx context.Context, operation func() error) error {
	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = operation()
		if err == nil || !isBusy(err) {
			return err
		}

		delay := baseBusyDelay * time.Duration(1<<uint(attempt))
		if delay > maxBusyDelay {
			delay = maxBusyDelay
		}
		s.log.Debug("Database locked, retrying in %v (attempt %d/%d)", delay, attempt+1, maxBusyRetries)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("database operation failed after %d retries: %w", maxBusyRetries, err)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
