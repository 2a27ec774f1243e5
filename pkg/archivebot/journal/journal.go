// Package journal keeps an append-only SQLite record of loop runs and reply
// cycles. It stores chat names, outcomes and timings, never message text.
// The loop never reads it back; it exists for the operator.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.

	"github.com/jholhewres/archivebot/pkg/archivebot/triage"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    started_at  TEXT NOT NULL,
    stopped_at  TEXT,
    final_state TEXT DEFAULT '',
    url         TEXT DEFAULT '',
    model       TEXT DEFAULT '',
    scans       INTEGER DEFAULT 0,
    recoveries  INTEGER DEFAULT 0,
    last_error  TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS cycles (
    id          TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL REFERENCES runs(id),
    chat        TEXT NOT NULL,
    unread      INTEGER NOT NULL,
    outcome     TEXT NOT NULL,
    reason      TEXT DEFAULT '',
    reply_chars INTEGER DEFAULT 0,
    started_at  TEXT NOT NULL,
    duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at);
CREATE INDEX IF NOT EXISTS idx_cycles_run ON cycles(run_id);
`

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000Z"

// writeTimeout bounds observer writes, which have no caller context.
const writeTimeout = 5 * time.Second

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// Store is the journal database. It implements triage.Observer for the run
// registered with BeginRun.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
	runID  string
}

// RunInfo describes a run at start.
type RunInfo struct {
	ID    string
	URL   string
	Model string
}

// Open opens (or creates) the journal at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "journal"),
		now:    time.Now,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun records a new run. Observer callbacks apply to it afterwards.
func (s *Store) BeginRun(ctx context.Context, info RunInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, url, model) VALUES (?, ?, ?, ?)`,
		info.ID, formatTime(s.now()), info.URL, info.Model)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	s.runID = info.ID
	return nil
}

// RecordCycle appends one cycle.
func (s *Store) RecordCycle(ctx context.Context, r triage.CycleReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles (id, run_id, chat, unread, outcome, reason, reply_chars, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CycleID, r.RunID, r.Candidate.Name, r.Candidate.UnreadCount,
		r.Outcome.Kind.String(), r.Outcome.Reason, len([]rune(r.Outcome.Reply)),
		formatTime(r.StartedAt), r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("recording cycle: %w", err)
	}
	return nil
}

// OnTransition is not journaled.
func (s *Store) OnTransition(from, to triage.State) {}

func (s *Store) OnScan(found int) {
	s.updateRun(`UPDATE runs SET scans = scans + 1 WHERE id = ?`)
}

func (s *Store) OnCycle(ctx context.Context, report triage.CycleReport) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := s.RecordCycle(ctx, report); err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
}

func (s *Store) OnRecovery(err error) {
	s.updateRun(`UPDATE runs SET recoveries = recoveries + 1, last_error = ? WHERE id = ?`, err.Error())
}

func (s *Store) OnStop(final triage.State) {
	s.updateRun(`UPDATE runs SET stopped_at = ?, final_state = ? WHERE id = ?`,
		formatTime(s.now()), final.String())
}

// updateRun executes query with args followed by the current run id.
func (s *Store) updateRun(query string, args ...any) {
	if s.runID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, query, append(args, s.runID)...); err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
}

var _ triage.Observer = (*Store)(nil)
