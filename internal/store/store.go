package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"replbridge/internal/logging"
)

var storeLog = logging.ForComponent(logging.CompStore)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// Entry kinds recorded in the transcript.
const (
	KindCommand = "command"
	KindOutput  = "output"
	KindError   = "error"
	KindState   = "state"
)

// Store persists interpreter run transcripts in SQLite. Thread-safe within
// one process; WAL mode plus busy timeout makes cross-process access safe
// (e.g. the history subcommand reading while a bridge is writing).
type Store struct {
	db *sql.DB
}

// Run is one interpreter session's metadata row.
type Run struct {
	ID        string
	Command   string
	Dialect   string
	WorkDir   string
	StartedAt time.Time
	EndedAt   time.Time // zero while the run is live
}

// Entry is one transcript row: a dispatched command, an output block, or a
// logged error, in arrival order.
type Entry struct {
	ID    string
	RunID string
	At    time.Time
	Kind  string
	Text  string
}

// Open creates or opens the transcript database at dbPath and migrates the
// schema.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal mode: %w", err)
	}
	// Busy timeout: wait up to 5s if another process holds a lock.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	storeLog.Debug("store_opened", slog.String("path", dbPath))
	return s, nil
}

// Close checkpoints WAL and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func (s *Store) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("store: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			command    TEXT NOT NULL,
			dialect    TEXT NOT NULL DEFAULT '',
			workdir    TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			ended_at   INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("store: create runs: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS transcript (
			id     TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			at     INTEGER NOT NULL,
			kind   TEXT NOT NULL,
			text   TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("store: create transcript: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_transcript_run ON transcript(run_id, at)
	`); err != nil {
		return fmt.Errorf("store: create index: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("store: set schema version: %w", err)
	}

	return tx.Commit()
}

// BeginRun records the start of an interpreter session and returns its id.
func (s *Store) BeginRun(command, dialect, workDir string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO runs (id, command, dialect, workdir, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, command, dialect, workDir, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("store: begin run: %w", err)
	}
	return id, nil
}

// EndRun stamps the run's end time.
func (s *Store) EndRun(runID string) error {
	_, err := s.db.Exec(
		"UPDATE runs SET ended_at = ? WHERE id = ?",
		time.Now().UnixNano(), runID,
	)
	return err
}

// Append adds one transcript entry to a run.
func (s *Store) Append(runID, kind, text string) error {
	_, err := s.db.Exec(`
		INSERT INTO transcript (id, run_id, at, kind, text)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), runID, time.Now().UnixNano(), kind, text)
	if err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, command, dialect, workdir, started_at, ended_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Run
	for rows.Next() {
		var r Run
		var started, ended int64
		if err := rows.Scan(&r.ID, &r.Command, &r.Dialect, &r.WorkDir, &started, &ended); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, started)
		if ended > 0 {
			r.EndedAt = time.Unix(0, ended)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun() (*Run, error) {
	runs, err := s.Runs(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, sql.ErrNoRows
	}
	return &runs[0], nil
}

// History returns a run's transcript in arrival order. limit <= 0 returns
// everything.
func (s *Store) History(runID string, limit int) ([]Entry, error) {
	query := `
		SELECT id, run_id, at, kind, text
		FROM transcript WHERE run_id = ? ORDER BY at
	`
	args := []any{runID}
	if limit > 0 {
		// Keep the most recent entries but preserve chronological order.
		query = `
			SELECT id, run_id, at, kind, text FROM (
				SELECT id, run_id, at, kind, text
				FROM transcript WHERE run_id = ? ORDER BY at DESC LIMIT ?
			) ORDER BY at
		`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.ID, &e.RunID, &at, &e.Kind, &e.Text); err != nil {
			return nil, err
		}
		e.At = time.Unix(0, at)
		result = append(result, e)
	}
	return result, rows.Err()
}
