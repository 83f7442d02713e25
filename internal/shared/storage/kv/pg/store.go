// Package pg provides a Postgres-backed kv.Store for deployments that share
// one cache origin across processes.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"quizzer-backend/internal/shared/storage/kv"
)

// Store persists entries in the kv_entries table (see the embedded
// migrations under shared/storage/db).
type Store struct {
	DB *sql.DB
}

// Get returns the value for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, mapPGError(err)
	}
	return value, nil
}

// Set upserts the value for key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO kv_entries (key, value, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return mapPGError(err)
	}
	return nil
}

// Delete removes key if present.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.DB.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return mapPGError(err)
	}
	return nil
}

// Keys lists all stored keys.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT key FROM kv_entries`)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// mapPGError classifies driver errors by SQLSTATE class. 53xxx covers
// insufficient resources (53100 is disk full), 28xxx and 42501 cover
// authorization failures.
func mapPGError(err error) error {
	var coder interface{ SQLState() string }
	if !errors.As(err, &coder) {
		return err
	}
	code := coder.SQLState()
	switch {
	case strings.HasPrefix(code, "53"):
		return fmt.Errorf("%w: %v", kv.ErrQuotaExceeded, err)
	case strings.HasPrefix(code, "28"), code == "42501":
		return fmt.Errorf("%w: %v", kv.ErrPermission, err)
	default:
		return err
	}
}

var _ kv.Store = (*Store)(nil)
