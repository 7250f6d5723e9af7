// ABOUTME: SQLite implementation of the credential store using modernc.org/sqlite
// ABOUTME: Holds project rows with their credential pairs, schema created on open.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/oakhq/oak-relay/internal/auth"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			relay_token TEXT NOT NULL,
			agent_token TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			rotated_at TIMESTAMP NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateProject inserts a new project with its credential pair.
// Returns ErrProjectExists if the project id is already provisioned.
func (s *SQLiteStore) CreateProject(ctx context.Context, id string, creds auth.Credentials) (*Project, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, relay_token, agent_token, created_at, rotated_at) VALUES (?, ?, ?, ?, ?)`,
		id, creds.RelayToken, creds.AgentToken, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrProjectExists
		}
		return nil, fmt.Errorf("inserting project: %w", err)
	}
	return &Project{ID: id, Credentials: creds, CreatedAt: now, RotatedAt: now}, nil
}

// GetProject looks up a project by id.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, relay_token, agent_token, created_at, rotated_at FROM projects WHERE id = ?`, id)

	var p Project
	err := row.Scan(&p.ID, &p.Credentials.RelayToken, &p.Credentials.AgentToken, &p.CreatedAt, &p.RotatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}
	return &p, nil
}

// RotateCredentials replaces a project's credential pair.
// The old pair stops validating on the edge as soon as the row is committed.
func (s *SQLiteStore) RotateCredentials(ctx context.Context, id string, creds auth.Credentials) (*Project, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET relay_token = ?, agent_token = ?, rotated_at = ? WHERE id = ?`,
		creds.RelayToken, creds.AgentToken, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("rotating credentials: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rotation result: %w", err)
	}
	if n == 0 {
		return nil, ErrProjectNotFound
	}

	s.logger.Info("credentials rotated", "project", id)
	return s.GetProject(ctx, id)
}

// ListProjects returns all provisioned projects ordered by creation time.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, relay_token, agent_token, created_at, rotated_at FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Credentials.RelayToken, &p.Credentials.AgentToken, &p.CreatedAt, &p.RotatedAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a primary key conflict.
// modernc.org/sqlite surfaces these as generic errors carrying the
// "UNIQUE constraint failed" message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
