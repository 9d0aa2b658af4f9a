// Package sqlite persists the transition journal and the historical tick
// archive. The journal is the authoritative record of every state machine
// transition; backtests replay the tick archive.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pumpwatch/internal/model"
)

// Journal is the append-only transition log. Write-once: rows are never
// updated or deleted by this core.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) the journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS transitions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		from_state  TEXT NOT NULL,
		to_state    TEXT NOT NULL,
		trigger     TEXT NOT NULL,
		ts          INTEGER NOT NULL,
		metrics     TEXT,
		reason      TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_transitions_session ON transitions(session_id);
	CREATE INDEX IF NOT EXISTS idx_transitions_symbol ON transitions(symbol, ts);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] opened transition journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// AppendTransition persists one record. Implements events.Journal.
func (j *Journal) AppendTransition(rec model.TransitionRecord) error {
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("journal marshal metrics: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.db.Exec(
		`INSERT INTO transitions (session_id, symbol, from_state, to_state, trigger, ts, metrics, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		rec.Symbol,
		string(rec.From),
		string(rec.To),
		string(rec.Trigger),
		rec.TS.UnixNano(),
		string(metrics),
		rec.Reason,
	)
	return err
}

// ReadTransitions returns the last limit records for a session, oldest
// first. Used by the ops endpoints and post-run analysis.
func (j *Journal) ReadTransitions(sessionID string, limit int) ([]model.TransitionRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT session_id, symbol, from_state, to_state, trigger, ts, metrics, reason
		 FROM transitions WHERE session_id = ?
		 ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var recs []model.TransitionRecord
	for rows.Next() {
		var (
			rec               model.TransitionRecord
			from, to, trigger string
			tsNano            int64
			metrics           string
		)
		if err := rows.Scan(&rec.SessionID, &rec.Symbol, &from, &to, &trigger, &tsNano, &metrics, &rec.Reason); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		rec.From = model.SessionState(from)
		rec.To = model.SessionState(to)
		rec.Trigger = model.Trigger(trigger)
		rec.TS = time.Unix(0, tsNano).UTC()
		if metrics != "" {
			if err := json.Unmarshal([]byte(metrics), &rec.Metrics); err != nil {
				log.Printf("[journal] metrics decode failed for session %s: %v", rec.SessionID, err)
			}
		}
		recs = append(recs, rec)
	}
	// Reverse to oldest-first.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
