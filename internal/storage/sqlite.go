package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite table. It is the durable
// backend for single-node deployments.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	bucket     TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (bucket, key)
);
CREATE INDEX IF NOT EXISTS idx_kv_bucket_key ON kv (bucket, key);
`

// NewSQLiteStore opens (or creates) a SQLite-backed store at path.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply SQLite schema: %w", err)
	}

	logger.Info("Opened SQLite store", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Get retrieves a value.
func (s *SQLiteStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE bucket = ? AND key = ?`, bucket, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query key: %w", err)
	}
	return value, nil
}

// Put stores a value.
func (s *SQLiteStore) Put(ctx context.Context, bucket, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (bucket, key, value, updated_at) VALUES (?, ?, ?, strftime('%s','now'))
		 ON CONFLICT (bucket, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		bucket, key, value)
	if err != nil {
		return fmt.Errorf("failed to upsert key: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *SQLiteStore) Delete(ctx context.Context, bucket, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE bucket = ? AND key = ?`, bucket, key); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Keys lists keys by prefix, sorted.
func (s *SQLiteStore) Keys(ctx context.Context, bucket, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE bucket = ? AND key LIKE ? || '%' ORDER BY key`, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
