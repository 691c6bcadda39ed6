// Package store provides a SQLite-backed persistence layer for upstream DNS
// server health, so a resolver's failover state survives process restarts.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a SQLite-backed implementation of resolver.HealthStore.
type Store struct {
	conn *sql.DB
}

// Open opens or creates a SQLite database at path and runs pending
// migrations against it.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(s.conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// MarkFailed records server as having started failing at t, if it isn't
// already marked failed. Re-marking an already-failed server updates
// lastErr but not failed_since, so FailedSince reports the start of the
// outage, not the most recent retry.
func (s *Store) MarkFailed(ctx context.Context, server string, t time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO upstream_health (server_address, failed_since, last_error)
		VALUES (?, ?, ?)
		ON CONFLICT(server_address) DO UPDATE SET
			last_error = excluded.last_error
	`, server, t.UTC(), "")
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", server, err)
	}
	return nil
}

// MarkHealthy clears any recorded failure for server.
func (s *Store) MarkHealthy(ctx context.Context, server string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM upstream_health WHERE server_address = ?`, server); err != nil {
		return fmt.Errorf("mark healthy %s: %w", server, err)
	}
	return nil
}

// FailedSince returns the set of servers currently recorded as failed,
// mapped to the time their outage started.
func (s *Store) FailedSince(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT server_address, failed_since FROM upstream_health`)
	if err != nil {
		return nil, fmt.Errorf("query upstream health: %w", err)
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var server string
		var since time.Time
		if err := rows.Scan(&server, &since); err != nil {
			return nil, fmt.Errorf("scan upstream health row: %w", err)
		}
		out[server] = since
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upstream health: %w", err)
	}
	return out, nil
}
