package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS response_cache (
	key           TEXT PRIMARY KEY,
	payload       BLOB NOT NULL,
	backend       TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL,
	size_bytes    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON response_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_cache_accessed ON response_cache(last_accessed);
`

// SQLiteBackend stores cache entries in a local SQLite database.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the cache database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	// One writer at a time; readers queue behind it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}

	return newSQLiteBackend(db, path), nil
}

func newSQLiteBackend(db *sql.DB, path string) *SQLiteBackend {
	return &SQLiteBackend{db: db, path: path}
}

// Get returns the entry for key, or nil.
func (b *SQLiteBackend) Get(ctx context.Context, key string) (*Entry, error) {
	var (
		e                              Entry
		created, expires, accessed, sz int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT payload, backend, created_at, expires_at, last_accessed, size_bytes
		 FROM response_cache WHERE key = ?`, key,
	).Scan(&e.Payload, &e.Backend, &created, &expires, &accessed, &sz)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Key = key
	e.CreatedAt = time.Unix(0, created)
	e.ExpiresAt = time.Unix(0, expires)
	e.LastAccessed = time.Unix(0, accessed)
	return &e, nil
}

// Put upserts an entry.
func (b *SQLiteBackend) Put(ctx context.Context, e Entry) error {
	_, err := b.db.ExecContext(ctx, `INSERT OR REPLACE INTO response_cache
		(key, payload, backend, created_at, expires_at, last_accessed, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.Payload, e.Backend,
		e.CreatedAt.UnixNano(), e.ExpiresAt.UnixNano(), e.LastAccessed.UnixNano(), e.Size(),
	)
	return err
}

// Delete removes key.
func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM response_cache WHERE key = ?", key)
	return err
}

// DeleteExpiredKey removes key if it has expired at now.
func (b *SQLiteBackend) DeleteExpiredKey(ctx context.Context, key string, now time.Time) (bool, error) {
	res, err := b.db.ExecContext(ctx, "DELETE FROM response_cache WHERE key = ? AND expires_at < ?", key, now.UnixNano())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Touch updates the last access time of key.
func (b *SQLiteBackend) Touch(ctx context.Context, key string, at time.Time) error {
	_, err := b.db.ExecContext(ctx, "UPDATE response_cache SET last_accessed = ? WHERE key = ?", at.UnixNano(), key)
	return err
}

// DeleteExpired removes entries that expired before now.
func (b *SQLiteBackend) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := b.db.ExecContext(ctx, "DELETE FROM response_cache WHERE expires_at < ?", now.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// EvictLRU deletes the least recently accessed entries until the total
// payload size is within maxBytes.
func (b *SQLiteBackend) EvictLRU(ctx context.Context, maxBytes int64) (int, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(SUM(size_bytes), 0) FROM response_cache").Scan(&total); err != nil {
		return 0, err
	}
	if total <= maxBytes {
		return 0, nil
	}

	rows, err := tx.QueryContext(ctx, "SELECT key, size_bytes FROM response_cache ORDER BY last_accessed ASC, created_at ASC")
	if err != nil {
		return 0, err
	}
	var victims []string
	for rows.Next() && total > maxBytes {
		var (
			key  string
			size int64
		)
		if err := rows.Scan(&key, &size); err != nil {
			_ = rows.Close()
			return 0, err
		}
		victims = append(victims, key)
		total -= size
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	for _, key := range victims {
		if _, err := tx.ExecContext(ctx, "DELETE FROM response_cache WHERE key = ?", key); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(victims), nil
}

// Stats counts entries and bytes.
func (b *SQLiteBackend) Stats(ctx context.Context, now time.Time) (Stats, error) {
	st := Stats{Location: b.path}
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0),
		        COALESCE(SUM(CASE WHEN expires_at < ? THEN 1 ELSE 0 END), 0)
		 FROM response_cache`, now.UnixNano(),
	).Scan(&st.Entries, &st.SizeBytes, &st.Expired)
	return st, err
}

// Clear deletes every entry.
func (b *SQLiteBackend) Clear(ctx context.Context) (int, error) {
	res, err := b.db.ExecContext(ctx, "DELETE FROM response_cache")
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Ping checks the database connection.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Location returns the database path.
func (b *SQLiteBackend) Location() string {
	return b.path
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
