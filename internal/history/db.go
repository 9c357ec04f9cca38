// internal/history/db.go
package history

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/signalnine/trapsender/internal/trapper"
)

// Record is one stored exchange outcome. Item values are never stored.
type Record struct {
	ID          int64     `json:"id"`
	ExchangeID  string    `json:"exchange_id"`
	At          time.Time `json:"at"`
	Addr        string    `json:"addr"`
	Items       int       `json:"items"`
	Processed   int       `json:"processed"`
	Failed      int       `json:"failed"`
	Total       int       `json:"total"`
	Seconds     float64   `json:"seconds"`
	RawResponse string    `json:"raw_response,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Outcome classifies the record the same way RaiseForFailure does, plus "error"
// for exchanges that never produced a response
func (r Record) Outcome() string {
	switch {
	case r.Error != "":
		return "error"
	case r.Total > 0 && r.Failed == r.Total:
		return "total_failure"
	case r.Failed > 0:
		return "partial_failure"
	default:
		return "ok"
	}
}

// timeFormat is fixed width so the at column sorts as text
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps SQLite connection
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	exchange_id TEXT NOT NULL,
	at TEXT NOT NULL,
	addr TEXT NOT NULL,
	items INTEGER NOT NULL,
	processed INTEGER,
	failed INTEGER,
	total INTEGER,
	seconds REAL,
	raw_response TEXT,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_exchanges_at ON exchanges(at);
CREATE INDEX IF NOT EXISTS idx_exchanges_failed ON exchanges(failed);
`

// NewDB opens or creates the SQLite database
func NewDB(path string, logger *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return Wrap(db, logger), nil
}

// Wrap uses an already opened database whose schema exists
func Wrap(db *sql.DB, logger *slog.Logger) *DB {
	return &DB{db: db, logger: logger}
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertExchange stores one exchange outcome
func (d *DB) InsertExchange(ctx context.Context, r *Record) error {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO exchanges (exchange_id, at, addr, items, processed, failed, total, seconds, raw_response, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ExchangeID, r.At.UTC().Format(timeFormat), r.Addr, r.Items,
		r.Processed, r.Failed, r.Total, r.Seconds, r.RawResponse, r.Error)
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// ObserveExchange records every exchange a sender performs
func (d *DB) ObserveExchange(ctx context.Context, ex trapper.Exchange) {
	r := FromExchange(ex)
	// the exchange may have died because ctx was cancelled; still record it
	if err := d.InsertExchange(context.WithoutCancel(ctx), &r); err != nil && d.logger != nil {
		d.logger.Error("history insert failed", "exchange_id", ex.ID, "error", err)
	}
}

// FromExchange converts an observed exchange into a record
func FromExchange(ex trapper.Exchange) Record {
	r := Record{
		ExchangeID: ex.ID,
		At:         ex.At,
		Addr:       ex.Addr,
		Items:      ex.Items,
	}
	if ex.Err != nil {
		r.Error = ex.Err.Error()
	}
	if resp := ex.Response; resp != nil {
		r.Processed = resp.Processed
		r.Failed = resp.Failed
		r.Total = resp.Total
		r.Seconds = resp.Seconds
		r.RawResponse = resp.Raw
	}
	return r
}

// Recent returns the latest exchanges, newest first
func (d *DB) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, exchange_id, at, addr, items, processed, failed, total, seconds, raw_response, error
		FROM exchanges
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Failed returns the latest exchanges with rejected items or errors, newest first
func (d *DB) Failed(ctx context.Context, limit int) ([]Record, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, exchange_id, at, addr, items, processed, failed, total, seconds, raw_response, error
		FROM exchanges
		WHERE failed > 0 OR error != ''
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Totals returns the number of stored exchanges by outcome
func (d *DB) Totals(ctx context.Context) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT
			CASE
				WHEN error != '' THEN 'error'
				WHEN total > 0 AND failed = total THEN 'total_failure'
				WHEN failed > 0 THEN 'partial_failure'
				ELSE 'ok'
			END AS outcome,
			COUNT(*)
		FROM exchanges
		GROUP BY outcome
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		counts[outcome] = count
	}
	return counts, rows.Err()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var atStr string
		var processed, failed, total sql.NullInt64
		var seconds sql.NullFloat64
		var raw, errStr sql.NullString

		err := rows.Scan(&r.ID, &r.ExchangeID, &atStr, &r.Addr, &r.Items,
			&processed, &failed, &total, &seconds, &raw, &errStr)
		if err != nil {
			return nil, err
		}

		r.At, _ = time.Parse(timeFormat, atStr)
		r.Processed = int(processed.Int64)
		r.Failed = int(failed.Int64)
		r.Total = int(total.Int64)
		r.Seconds = seconds.Float64
		r.RawResponse = raw.String
		r.Error = errStr.String

		records = append(records, r)
	}
	return records, rows.Err()
}
