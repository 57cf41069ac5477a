package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const (
	sqliteInsertSQL = `INSERT INTO balance_samples (captured_at, balance_primary, balance_secondary, change_pct)
    VALUES (?, ?, ?, ?);`

	sqliteSelectAllSQL = `SELECT captured_at, balance_primary, balance_secondary, change_pct
    FROM balance_samples
    ORDER BY id;`
)

// SQLiteStore keeps the ledger in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database file and applies migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	if err := runSQLiteMigrations(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append inserts one sample; the implicit transaction commits before return.
func (s *SQLiteStore) Append(ctx context.Context, sample Sample) error {
	row := EncodeRow(sample)
	_, err := s.db.ExecContext(ctx, sqliteInsertSQL,
		row[0],
		row[1],
		nullableDecimal(sample.Secondary),
		nullableDecimal(sample.ChangePct),
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// All returns samples in insertion order.
func (s *SQLiteStore) All(ctx context.Context) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelectAllSQL)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	samples := make([]Sample, 0)
	for rows.Next() {
		var (
			capturedAt string
			primary    string
			secondary  sql.NullString
			change     sql.NullString
		)
		if err := rows.Scan(&capturedAt, &primary, &secondary, &change); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}

		ts, err := time.ParseInLocation(TimestampLayout, capturedAt, time.Local)
		if err != nil {
			return nil, fmt.Errorf("parse captured_at: %w", err)
		}
		sample, err := buildSample(ts, primary, secondary, change)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullableDecimal(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func buildSample(ts time.Time, primaryStr string, secondaryStr, changeStr sql.NullString) (Sample, error) {
	primary, err := decimal.NewFromString(primaryStr)
	if err != nil {
		return Sample{}, fmt.Errorf("parse balance_primary: %w", err)
	}
	sample := Sample{Timestamp: ts, Primary: primary}
	if secondaryStr.Valid {
		secondary, err := decimal.NewFromString(secondaryStr.String)
		if err != nil {
			return Sample{}, fmt.Errorf("parse balance_secondary: %w", err)
		}
		sample.Secondary = decimal.NewNullDecimal(secondary)
	}
	if changeStr.Valid {
		change, err := decimal.NewFromString(changeStr.String)
		if err != nil {
			return Sample{}, fmt.Errorf("parse change_pct: %w", err)
		}
		sample.ChangePct = decimal.NewNullDecimal(change)
	}
	return sample, nil
}

var _ SampleStore = (*SQLiteStore)(nil)
