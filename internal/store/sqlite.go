package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"meridian/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ FundamentalStore = (*SQLiteStore)(nil)
var _ RunStore = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fundamentals (
	symbol TEXT NOT NULL,
	as_of  TEXT NOT NULL,
	fields TEXT NOT NULL,
	PRIMARY KEY (symbol, as_of)
);

CREATE TABLE IF NOT EXISTS runs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	name       TEXT NOT NULL,
	strategy   TEXT NOT NULL,
	config     TEXT NOT NULL,
	metrics    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_summary (
	run_id      INTEGER NOT NULL REFERENCES runs(id),
	date        TEXT NOT NULL,
	total_value REAL NOT NULL,
	cash        REAL NOT NULL,
	return      REAL NOT NULL,
	excluded    INTEGER NOT NULL,
	PRIMARY KEY (run_id, date)
);

CREATE TABLE IF NOT EXISTS run_transactions (
	run_id     INTEGER NOT NULL REFERENCES runs(id),
	seq        INTEGER NOT NULL,
	date       TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL,
	quantity   REAL NOT NULL,
	fill_price REAL NOT NULL,
	cost       REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// SQLiteStore implements FundamentalStore and RunStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// the schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const dateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// FundamentalStore implementation
// ---------------------------------------------------------------------------

// WriteSnapshots upserts a batch of fundamental snapshots. Rows are keyed by
// (symbol, as-of date); re-importing the same period replaces the fields.
func (s *SQLiteStore) WriteSnapshots(ctx context.Context, snaps []domain.FundamentalSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO fundamentals (symbol, as_of, fields) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, snap := range snaps {
		fields, err := json.Marshal(snap.Fields)
		if err != nil {
			return fmt.Errorf("encoding fields for %s: %w", snap.Symbol, err)
		}
		asOf := domain.Day(snap.AsOfDate).Format(dateLayout)
		if _, err := stmt.ExecContext(ctx, snap.Symbol, asOf, string(fields)); err != nil {
			return fmt.Errorf("inserting snapshot %s/%s: %w", snap.Symbol, asOf, err)
		}
	}

	return tx.Commit()
}

// ReadSnapshots returns snapshots for the given symbol with as-of dates
// within [start, end], ordered by as-of date ascending.
func (s *SQLiteStore) ReadSnapshots(ctx context.Context, symbol string, start, end time.Time) ([]domain.FundamentalSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, as_of, fields FROM fundamentals
		 WHERE symbol = ? AND as_of >= ? AND as_of <= ?
		 ORDER BY as_of ASC`,
		symbol,
		domain.Day(start).Format(dateLayout),
		domain.Day(end).Format(dateLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []domain.FundamentalSnapshot
	for rows.Next() {
		var (
			sym, asOf, fieldsJSON string
		)
		if err := rows.Scan(&sym, &asOf, &fieldsJSON); err != nil {
			return nil, err
		}

		asOfDate, err := time.Parse(dateLayout, asOf)
		if err != nil {
			return nil, fmt.Errorf("parsing as-of date %q: %w", asOf, err)
		}

		fields := make(map[string]float64)
		if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
			return nil, fmt.Errorf("decoding fields for %s/%s: %w", sym, asOf, err)
		}

		snaps = append(snaps, domain.FundamentalSnapshot{
			Symbol:   sym,
			AsOfDate: asOfDate.UTC(),
			Fields:   fields,
		})
	}
	return snaps, rows.Err()
}

// ListFundamentalSymbols returns all distinct symbols with snapshot data.
func (s *SQLiteStore) ListFundamentalSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM fundamentals`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, rows.Err()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts a run record with its summary and transaction rows in one
// transaction and returns the assigned run ID.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (created_at, name, strategy, config, metrics) VALUES (?, ?, ?, ?, ?)`,
		createdAt.Format(time.RFC3339), run.Name, run.Strategy, run.ConfigJSON, run.MetricsJSON)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	sumStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_summary (run_id, date, total_value, cash, return, excluded)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer sumStmt.Close()
	for _, row := range run.Summary {
		if _, err := sumStmt.ExecContext(ctx, id, row.Date, row.TotalValue, row.Cash, row.Return, row.Excluded); err != nil {
			return 0, fmt.Errorf("inserting summary row %s: %w", row.Date, err)
		}
	}

	txnStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_transactions (run_id, seq, date, symbol, side, quantity, fill_price, cost)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer txnStmt.Close()
	for i, row := range run.Transactions {
		if _, err := txnStmt.ExecContext(ctx, id, i, row.Date, row.Symbol, row.Side, row.Quantity, row.FillPrice, row.Cost); err != nil {
			return 0, fmt.Errorf("inserting transaction %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// GetRun retrieves a single run by its ID, including summary and
// transaction rows. Returns sql.ErrNoRows if the run does not exist.
func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*RunRecord, error) {
	run := &RunRecord{}
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, name, strategy, config, metrics FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &createdAt, &run.Name, &run.Strategy, &run.ConfigJSON, &run.MetricsJSON)
	if err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		run.CreatedAt = t
	}

	sumRows, err := s.db.QueryContext(ctx,
		`SELECT date, total_value, cash, return, excluded FROM run_summary
		 WHERE run_id = ? ORDER BY date ASC`, id)
	if err != nil {
		return nil, err
	}
	defer sumRows.Close()
	for sumRows.Next() {
		var row SummaryRow
		if err := sumRows.Scan(&row.Date, &row.TotalValue, &row.Cash, &row.Return, &row.Excluded); err != nil {
			return nil, err
		}
		run.Summary = append(run.Summary, row)
	}
	if err := sumRows.Err(); err != nil {
		return nil, err
	}

	txnRows, err := s.db.QueryContext(ctx,
		`SELECT date, symbol, side, quantity, fill_price, cost FROM run_transactions
		 WHERE run_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, err
	}
	defer txnRows.Close()
	for txnRows.Next() {
		var row TransactionRow
		if err := txnRows.Scan(&row.Date, &row.Symbol, &row.Side, &row.Quantity, &row.FillPrice, &row.Cost); err != nil {
			return nil, err
		}
		run.Transactions = append(run.Transactions, row)
	}
	return run, txnRows.Err()
}

// ListRuns returns headers for the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunHeader, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, name, strategy FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var headers []RunHeader
	for rows.Next() {
		var h RunHeader
		var createdAt string
		if err := rows.Scan(&h.ID, &createdAt, &h.Name, &h.Strategy); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			h.CreatedAt = t
		}
		headers = append(headers, h)
	}
	return headers, rows.Err()
}
