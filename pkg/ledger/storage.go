package ledger

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

// ErrStorage wraps durable write and read failures.
var ErrStorage = errors.New("ledger storage error")

// Storage is the durable record store.
type Storage interface {
	// Insert appends r. Inserting the same record id twice is a no-op.
	Insert(ctx context.Context, r Record) error
	All(ctx context.Context) ([]Record, error)
	ByDateRange(ctx context.Context, start, end time.Time) ([]Record, error)
	// PurgeBefore deletes records with a timestamp strictly before cutoff.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Location() string
	Close() error
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cost_records (
	id                TEXT PRIMARY KEY,
	timestamp         INTEGER NOT NULL,
	backend           TEXT NOT NULL,
	tokens_in         INTEGER NOT NULL,
	tokens_out        INTEGER NOT NULL,
	cost_usd          REAL NOT NULL,
	baseline_cost_usd REAL NOT NULL,
	savings_usd       REAL NOT NULL,
	task              TEXT NOT NULL DEFAULT '',
	success           INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_cost_timestamp ON cost_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_cost_backend ON cost_records(backend);
`

const selectColumns = `SELECT id, timestamp, backend, tokens_in, tokens_out,
	cost_usd, baseline_cost_usd, savings_usd, task, success FROM cost_records`

// SQLiteStorage keeps cost records in a local SQLite database.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the ledger database at path.
func OpenSQLite(path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating ledger dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=synchronous(full)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}

	return newSQLiteStorage(db, path), nil
}

func newSQLiteStorage(db *sql.DB, path string) *SQLiteStorage {
	return &SQLiteStorage{db: db, path: path}
}

// Insert appends a record.
func (s *SQLiteStorage) Insert(ctx context.Context, r Record) error {
	success := 0
	if r.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO cost_records
		(id, timestamp, backend, tokens_in, tokens_out, cost_usd, baseline_cost_usd, savings_usd, task, success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Timestamp.UnixNano(), r.Backend, r.TokensIn, r.TokensOut,
		r.ActualCost, r.BaselineCost, r.Savings, r.Category, success,
	)
	return err
}

// All returns every record in timestamp order.
func (s *SQLiteStorage) All(ctx context.Context) ([]Record, error) {
	return s.query(ctx, selectColumns+" ORDER BY timestamp ASC")
}

// ByDateRange returns records with start <= timestamp <= end.
func (s *SQLiteStorage) ByDateRange(ctx context.Context, start, end time.Time) ([]Record, error) {
	return s.query(ctx, selectColumns+" WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp ASC",
		start.UnixNano(), end.UnixNano())
}

// PurgeBefore deletes records older than cutoff.
func (s *SQLiteStorage) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cost_records WHERE timestamp < ?", cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Count returns the number of stored records.
func (s *SQLiteStorage) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cost_records").Scan(&n)
	return n, err
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Location returns the database path.
func (s *SQLiteStorage) Location() string {
	return s.path
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var (
			r       Record
			ts      int64
			success int
		)
		if err := rows.Scan(&r.ID, &ts, &r.Backend, &r.TokensIn, &r.TokensOut,
			&r.ActualCost, &r.BaselineCost, &r.Savings, &r.Category, &success); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.Success = success != 0
		records = append(records, r)
	}
	return records, rows.Err()
}
