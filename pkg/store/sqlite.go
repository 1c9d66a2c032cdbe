package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
)

// SQLite stores one row per (key, field).
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens a database file at path. An empty path opens an
// in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps an in-memory database alive and serialises writers.
	db.SetMaxOpenConns(1)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fields (
			key TEXT NOT NULL,
			field TEXT NOT NULL,
			value BLOB,
			PRIMARY KEY (key, field)
		)`,
	}
	if path != "" {
		stmts = append(stmts, "PRAGMA journal_mode=WAL")
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

const upsertField = `INSERT INTO fields (key, field, value) VALUES (?, ?, ?)
	ON CONFLICT (key, field) DO UPDATE SET value = excluded.value`

// Exists reports whether any row exists for key.
func (s *SQLite) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM fields WHERE key = ? LIMIT 1", key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite exists: %w", err)
	}
	return true, nil
}

// MGet returns fields in order.
func (s *SQLite) MGet(ctx context.Context, key string, fields ...string) ([][]byte, error) {
	out := make([][]byte, len(fields))
	for i, f := range fields {
		var v []byte
		err := s.db.QueryRowContext(ctx, "SELECT value FROM fields WHERE key = ? AND field = ?", key, f).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sqlite get: %w", err)
		}
		if v == nil {
			v = []byte{}
		}
		out[i] = v
	}
	return out, nil
}

// MSet upserts all fields in one transaction.
func (s *SQLite) MSet(ctx context.Context, key string, values map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	for f, v := range values {
		if _, err := tx.ExecContext(ctx, upsertField, key, f, v); err != nil {
			return fmt.Errorf("sqlite upsert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

// Update upserts one field.
func (s *SQLite) Update(ctx context.Context, key, field string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, upsertField, key, field, value); err != nil {
		return fmt.Errorf("sqlite upsert: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
