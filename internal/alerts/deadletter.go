package alerts

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Deadletter persists alerts that could not be delivered. It lives in a local
// SQLite file so failed notifications survive restarts and can be inspected
// or re-driven by an operator.
type Deadletter struct {
	db *sql.DB
}

// DeadLetter is one stored failed alert.
type DeadLetter struct {
	ID       int64     `json:"id"`
	Alert    Alert     `json:"alert"`
	Reason   string    `json:"reason"`
	StoredAt time.Time `json:"stored_at"`
}

// OpenDeadletter opens (and if needed initializes) the store at path.
func OpenDeadletter(path string) (*Deadletter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("alerts: open dead-letter store: %w", err)
	}
	if _, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS alert_deadletter (
		     id        INTEGER PRIMARY KEY AUTOINCREMENT,
		     payload   TEXT NOT NULL,
		     reason    TEXT NOT NULL,
		     stored_at TEXT NOT NULL
		 )`); err != nil {
		db.Close()
		return nil, fmt.Errorf("alerts: init dead-letter schema: %w", err)
	}
	return &Deadletter{db: db}, nil
}

// Save appends a failed alert.
func (dl *Deadletter) Save(a Alert, reason string) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("alerts: marshal dead-letter payload: %w", err)
	}
	_, err = dl.db.Exec(
		`INSERT INTO alert_deadletter (payload, reason, stored_at) VALUES (?, ?, ?)`,
		string(payload), reason, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("alerts: save dead-letter: %w", err)
	}
	return nil
}

// List returns the most recent failed alerts, newest first.
func (dl *Deadletter) List(limit int) ([]DeadLetter, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := dl.db.Query(
		`SELECT id, payload, reason, stored_at FROM alert_deadletter
		 ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("alerts: list dead-letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var d DeadLetter
		var payload, storedAt string
		if err := rows.Scan(&d.ID, &payload, &d.Reason, &storedAt); err != nil {
			return nil, fmt.Errorf("alerts: scan dead-letter: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &d.Alert); err != nil {
			return nil, fmt.Errorf("alerts: unmarshal dead-letter payload: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, storedAt); err == nil {
			d.StoredAt = t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (dl *Deadletter) Close() error {
	return dl.db.Close()
}
