package store

import (
	"database/sql"
	"time"

	"github.com/mpataki/foundry/internal/models"
	_ "modernc.org/sqlite"
)

// SessionSummary is one registry row, enough for listings without
// loading the full runtime snapshot.
type SessionSummary struct {
	SessionID      string
	AppName        string
	RunState       models.RunState
	CurrentStation string
	Progress       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Registry is a sqlite index of sessions. The per-session JSON files
// remain authoritative; the registry only serves list/status views.
type Registry struct {
	db *sql.DB
}

func OpenRegistry(dbPath string) (*Registry, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		app_name TEXT NOT NULL DEFAULT '',
		run_state TEXT NOT NULL,
		current_station TEXT,
		progress INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(run_state);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Upsert writes the summary row for a runtime snapshot.
func (r *Registry) Upsert(runtime *models.RuntimeState) error {
	_, err := r.db.Exec(
		`INSERT INTO sessions (session_id, run_state, current_station, progress, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   run_state = excluded.run_state,
		   current_station = excluded.current_station,
		   progress = excluded.progress,
		   updated_at = excluded.updated_at`,
		runtime.SessionID, runtime.RunState, runtime.CurrentStation,
		runtime.ProgressPercent(), runtime.CreatedAt, runtime.UpdatedAt,
	)
	return err
}

// SetAppName records the proposal's app name on the session row.
func (r *Registry) SetAppName(sessionID, appName string) error {
	_, err := r.db.Exec(`UPDATE sessions SET app_name = ? WHERE session_id = ?`, appName, sessionID)
	return err
}

func (r *Registry) Get(sessionID string) (*SessionSummary, error) {
	row := r.db.QueryRow(
		`SELECT session_id, app_name, run_state, current_station, progress, created_at, updated_at
		 FROM sessions WHERE session_id = ?`, sessionID,
	)
	return scanSummary(row.Scan)
}

func (r *Registry) List(limit int) ([]*SessionSummary, error) {
	rows, err := r.db.Query(
		`SELECT session_id, app_name, run_state, current_station, progress, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*SessionSummary
	for rows.Next() {
		s, err := scanSummary(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *Registry) Delete(sessionID string) error {
	_, err := r.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}

func scanSummary(scan func(...any) error) (*SessionSummary, error) {
	var s SessionSummary
	var station sql.NullString
	err := scan(&s.SessionID, &s.AppName, &s.RunState, &station, &s.Progress, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if station.Valid {
		s.CurrentStation = station.String
	}
	return &s, nil
}
