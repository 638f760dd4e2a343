package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/crypto"
)

const kvSchemaSQL = `
CREATE TABLE IF NOT EXISTS blobs (
	key        TEXT PRIMARY KEY,
	salt       BLOB NOT NULL,
	iv         BLOB NOT NULL,
	ciphertext BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLite implements Store backed by an embedded SQLite database.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database and applies the schema.
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("persist: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persist: ping: %w", err)
	}
	if _, err := conn.Exec(kvSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persist: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Put upserts the blob under key. Row replacement is a single statement,
// so the write is atomic per key.
func (s *SQLite) Put(ctx context.Context, key string, blob crypto.Blob) error {
	if key == "" {
		return fmt.Errorf("persist: empty key: %w", apperr.ErrInvalidInput)
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO blobs (key, salt, iv, ciphertext, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			salt = excluded.salt,
			iv = excluded.iv,
			ciphertext = excluded.ciphertext,
			updated_at = CURRENT_TIMESTAMP`,
		key, blob.Salt, blob.IV, blob.Ciphertext)
	if err != nil {
		return fmt.Errorf("persist: put %s: %w", key, err)
	}
	return nil
}

// Get returns the blob stored under key.
func (s *SQLite) Get(ctx context.Context, key string) (crypto.Blob, error) {
	var b crypto.Blob
	err := s.conn.QueryRowContext(ctx,
		`SELECT salt, iv, ciphertext FROM blobs WHERE key = ?`, key).
		Scan(&b.Salt, &b.IV, &b.Ciphertext)
	if errors.Is(err, sql.ErrNoRows) {
		return crypto.Blob{}, fmt.Errorf("persist: get %s: %w", key, apperr.ErrNotFound)
	}
	if err != nil {
		return crypto.Blob{}, fmt.Errorf("persist: get %s: %w", key, err)
	}
	return b, nil
}

// List returns every key with the given prefix.
func (s *SQLite) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT key FROM blobs WHERE key LIKE ? || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("persist: list %q: %w", prefix, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("persist: scan key: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// Delete removes key, reporting whether a row existed.
func (s *SQLite) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("persist: delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("persist: delete %s: %w", key, err)
	}
	return n > 0, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error { return s.conn.Close() }
