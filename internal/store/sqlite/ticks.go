package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"pumpwatch/internal/model"
)

// TickWriter archives the live tick stream for later backtests. Writes are
// batched; Flush is called periodically by the owner and on Close.
type TickWriter struct {
	mu    sync.Mutex
	db    *sql.DB
	batch []model.Tick

	batchSize int
}

// NewTickWriter opens (or creates) the tick archive database.
func NewTickWriter(dbPath string, batchSize int) (*TickWriter, error) {
	if batchSize <= 0 {
		batchSize = 256
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("tick archive open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS ticks (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol    TEXT NOT NULL,
		ts        INTEGER NOT NULL,
		price     REAL NOT NULL,
		volume    REAL NOT NULL,
		bid_depth REAL NOT NULL DEFAULT 0,
		ask_depth REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_ticks_symbol_ts ON ticks(symbol, ts);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("tick archive schema: %w", err)
	}

	return &TickWriter{db: db, batchSize: batchSize, batch: make([]model.Tick, 0, batchSize)}, nil
}

// Append buffers one tick, flushing when the batch fills.
func (w *TickWriter) Append(t model.Tick) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batch = append(w.batch, t)
	if len(w.batch) >= w.batchSize {
		return w.flushLocked()
	}
	return nil
}

// Flush writes any buffered ticks.
func (w *TickWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *TickWriter) flushLocked() error {
	if len(w.batch) == 0 {
		return nil
	}
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("tick archive begin: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO ticks (symbol, ts, price, volume, bid_depth, ask_depth) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("tick archive prepare: %w", err)
	}
	for _, t := range w.batch {
		if _, err := stmt.Exec(t.Symbol, t.TS.UnixNano(), t.Price, t.Volume, t.BidDepth, t.AskDepth); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("tick archive insert: %w", err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tick archive commit: %w", err)
	}
	w.batch = w.batch[:0]
	return nil
}

// Close flushes and closes the archive.
func (w *TickWriter) Close() error {
	if err := w.Flush(); err != nil {
		log.Printf("[tickstore] flush on close failed: %v", err)
	}
	return w.db.Close()
}

// TickReader reads archived ticks for backtest replay.
type TickReader struct {
	db *sql.DB
}

// NewTickReader opens an existing tick archive read-only.
func NewTickReader(dbPath string) (*TickReader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		return nil, fmt.Errorf("tick archive open: %w", err)
	}
	return &TickReader{db: db}, nil
}

// ReadTicks returns all ticks for a symbol from fromTS onward, in
// timestamp order. A zero fromTS reads the whole archive.
func (r *TickReader) ReadTicks(symbol string, fromTS time.Time) ([]model.Tick, error) {
	rows, err := r.db.Query(
		`SELECT symbol, ts, price, volume, bid_depth, ask_depth
		 FROM ticks WHERE symbol = ? AND ts >= ?
		 ORDER BY ts ASC, id ASC`, symbol, fromTS.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("tick archive query: %w", err)
	}
	defer rows.Close()

	var ticks []model.Tick
	for rows.Next() {
		var (
			t      model.Tick
			tsNano int64
		)
		if err := rows.Scan(&t.Symbol, &tsNano, &t.Price, &t.Volume, &t.BidDepth, &t.AskDepth); err != nil {
			return nil, fmt.Errorf("tick archive scan: %w", err)
		}
		t.TS = time.Unix(0, tsNano).UTC()
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// Symbols lists the distinct symbols present in the archive.
func (r *TickReader) Symbols() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT symbol FROM ticks ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var syms []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		syms = append(syms, s)
	}
	return syms, rows.Err()
}

// Close closes the reader.
func (r *TickReader) Close() error {
	return r.db.Close()
}
