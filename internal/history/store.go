// Package history records finished provisioning runs in sqlite.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yoanbernabeu/piprov/internal/constants"
)

// Run is one finished invocation. It never holds secrets or command text.
type Run struct {
	ID        string
	Operation string
	Target    string
	Status    string
	Reason    string
	Error     string
	// ExitStatus is set only when the main script ran
	ExitStatus sql.NullInt64
	Lines      int
	LastLine   string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

const schema = `CREATE TABLE IF NOT EXISTS runs(
	id TEXT PRIMARY KEY,
	operation TEXT NOT NULL,
	target TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	exit_status INTEGER,
	lines INTEGER NOT NULL DEFAULT 0,
	last_line TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_target_started ON runs(target, started_at);`

// Store reads and writes the runs table
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// sqlite has a single writer; one connection also keeps :memory: shared
	db.SetMaxOpenConns(1)

	s := NewStore(db)
	if err := s.EnsureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the runs table (idempotent)
func (s *Store) EnsureSchema() error {
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		return fmt.Errorf("failed to configure history database: %w", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create history schema: %w", err)
	}
	return nil
}

// Insert stores r. Inserting an existing ID is an error.
func (s *Store) Insert(r Run) error {
	if r.Duration == 0 && !r.FinishedAt.IsZero() {
		r.Duration = r.FinishedAt.Sub(r.StartedAt)
	}
	_, err := s.db.Exec(`INSERT INTO runs(id,operation,target,status,reason,error,exit_status,lines,last_line,started_at,finished_at,duration_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Operation, r.Target, r.Status, r.Reason, r.Error, r.ExitStatus, r.Lines, r.LastLine,
		r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", r.ID, err)
	}
	return nil
}

// ListRecent returns the newest runs first. An empty target matches all
// targets; otherwise target is a substring of the user@host:port form.
func (s *Store) ListRecent(limit int, target string) ([]Run, error) {
	if limit <= 0 {
		limit = constants.DefaultHistoryLimit
	}

	q := `SELECT id,operation,target,status,reason,error,exit_status,lines,last_line,started_at,finished_at,duration_ms FROM runs`
	var args []any
	if target != "" {
		q += ` WHERE target LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(target)+"%")
	}
	q += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var list []Run
	for rows.Next() {
		var (
			r                      Run
			started, finished, dur int64
		)
		if err := rows.Scan(&r.ID, &r.Operation, &r.Target, &r.Status, &r.Reason, &r.Error, &r.ExitStatus,
			&r.Lines, &r.LastLine, &started, &finished, &dur); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		r.Duration = time.Duration(dur) * time.Millisecond
		list = append(list, r)
	}
	return list, rows.Err()
}

// Cleanup deletes runs started more than retentionDays ago and returns how many went
func (s *Store) Cleanup(retentionDays int) (int64, error) {
	return s.cleanupBefore(time.Now().AddDate(0, 0, -retentionDays))
}

func (s *Store) cleanupBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up history: %w", err)
	}
	return res.RowsAffected()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
