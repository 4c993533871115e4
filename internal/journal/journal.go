// Package journal records break and restore runs in SQLite so
// `uproot status` can show what is currently wrong with a lab. The
// journal is advisory: restore always pushes full baselines and never
// consults it.
package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver registration
)

// Actions recorded per run.
const (
	ActionBreak   = "break"
	ActionRestore = "restore"
)

// ErrNotFound is returned when a run doesn't exist.
var ErrNotFound = errors.New("run not found")

// Run is one invocation against a lab.
type Run struct {
	ID         string
	Lab        string
	Action     string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time // zero until Finish
	OK         bool
}

// Event is one device-level outcome within a run.
type Event struct {
	RunID  string
	Device string
	Name   string // fault name or restore step
	Detail string
	OK     bool
	At     time.Time
}

// Store is the journal database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			lab         TEXT NOT NULL,
			action      TEXT NOT NULL,
			dry_run     INTEGER NOT NULL,
			started_at  TEXT NOT NULL,
			finished_at TEXT,
			ok          INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS events (
			run_id  TEXT NOT NULL REFERENCES runs(id),
			device  TEXT NOT NULL,
			name    TEXT NOT NULL,
			detail  TEXT,
			ok      INTEGER NOT NULL,
			at      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_lab ON runs(lab, started_at);
		CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records the start of a run and returns it.
func (s *Store) Begin(lab, action string, dryRun bool) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Lab:       lab,
		Action:    action,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, lab, action, dry_run, started_at) VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Lab, run.Action, boolInt(run.DryRun), run.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	return run, nil
}

// Finish marks the run complete.
func (s *Store) Finish(run *Run, ok bool) error {
	run.FinishedAt = time.Now().UTC()
	run.OK = ok
	_, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, ok = ? WHERE id = ?
	`, run.FinishedAt.Format(time.RFC3339Nano), boolInt(ok), run.ID)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}

// Record appends a device event to the run. Detail may be any
// JSON-encodable value; strings are stored as-is.
func (s *Store) Record(run *Run, device, name string, detail any, ok bool) error {
	var detailStr string
	switch v := detail.(type) {
	case nil:
	case string:
		detailStr = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding event detail: %w", err)
		}
		detailStr = string(b)
	}
	_, err := s.db.Exec(`
		INSERT INTO events (run_id, device, name, detail, ok, at) VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, device, name, detailStr, boolInt(ok), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// Recent returns the n most recent runs for a lab, newest first.
func (s *Store) Recent(lab string, n int) ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT id, lab, action, dry_run, started_at, finished_at, ok
		FROM runs WHERE lab = ? ORDER BY started_at DESC LIMIT ?
	`, lab, n)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Events returns the events of a run in insertion order.
func (s *Store) Events(runID string) ([]*Event, error) {
	rows, err := s.db.Query(`
		SELECT run_id, device, name, detail, ok, at
		FROM events WHERE run_id = ? ORDER BY at
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var okInt int
		var at string
		if err := rows.Scan(&e.RunID, &e.Device, &e.Name, &e.Detail, &okInt, &at); err != nil {
			return nil, err
		}
		e.OK = okInt != 0
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// LastBreak returns the most recent completed, non-dry break run for the
// lab that has no later restore, or ErrNotFound. This is what status
// reports as "currently broken".
func (s *Store) LastBreak(lab string) (*Run, error) {
	rows, err := s.db.Query(`
		SELECT id, lab, action, dry_run, started_at, finished_at, ok
		FROM runs WHERE lab = ? AND dry_run = 0 ORDER BY started_at DESC LIMIT 20
	`, lab)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		if run.Action == ActionRestore && run.OK {
			return nil, ErrNotFound
		}
		if run.Action == ActionBreak {
			return run, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var dryInt, okInt int
	var started string
	var finished sql.NullString
	if err := row.Scan(&run.ID, &run.Lab, &run.Action, &dryInt, &started, &finished, &okInt); err != nil {
		return nil, err
	}
	run.DryRun = dryInt != 0
	run.OK = okInt != 0
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if finished.Valid && finished.String != "" {
		run.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
	}
	return run, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
