package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Stats summarizes the journal since a point in time.
type Stats struct {
	Since      time.Time
	Runs       int
	Scans      int
	Recoveries int
	Cycles     int

	// ByOutcome counts cycles per outcome ("replied", "skipped", "failed").
	ByOutcome map[string]int

	// ByReason counts skipped and failed cycles per reason.
	ByReason map[string]int

	AvgCycle    time.Duration
	LastCycleAt time.Time
}

// Cycle is one journaled reply cycle.
type Cycle struct {
	ID         string
	RunID      string
	Chat       string
	Unread     int
	Outcome    string
	Reason     string
	ReplyChars int
	StartedAt  time.Time
	Duration   time.Duration
}

// Stats aggregates runs and cycles started at or after since.
func (s *Store) Stats(ctx context.Context, since time.Time) (Stats, error) {
	st := Stats{
		Since:     since,
		ByOutcome: make(map[string]int),
		ByReason:  make(map[string]int),
	}
	from := formatTime(since)

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(scans), 0), COALESCE(SUM(recoveries), 0)
		FROM runs WHERE started_at >= ?`, from).Scan(&st.Runs, &st.Scans, &st.Recoveries)
	if err != nil {
		return st, fmt.Errorf("querying runs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, reason, COUNT(*) FROM cycles
		WHERE started_at >= ? GROUP BY outcome, reason`, from)
	if err != nil {
		return st, fmt.Errorf("querying cycles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome, reason string
		var n int
		if err := rows.Scan(&outcome, &reason, &n); err != nil {
			return st, fmt.Errorf("scanning cycle counts: %w", err)
		}
		st.Cycles += n
		st.ByOutcome[outcome] += n
		if reason != "" {
			st.ByReason[reason] += n
		}
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("reading cycle counts: %w", err)
	}

	var avg sql.NullFloat64
	var last sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG(duration_ms), MAX(started_at) FROM cycles WHERE started_at >= ?`, from).Scan(&avg, &last)
	if err != nil {
		return st, fmt.Errorf("querying cycle timing: %w", err)
	}
	if avg.Valid {
		st.AvgCycle = time.Duration(avg.Float64) * time.Millisecond
	}
	if last.Valid {
		st.LastCycleAt = parseTime(last.String)
	}
	return st, nil
}

// Recent returns the latest cycles, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, chat, unread, outcome, reason, reply_chars, started_at, duration_ms
		FROM cycles ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent cycles: %w", err)
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var c Cycle
		var started string
		var ms int64
		if err := rows.Scan(&c.ID, &c.RunID, &c.Chat, &c.Unread, &c.Outcome, &c.Reason,
			&c.ReplyChars, &started, &ms); err != nil {
			return nil, fmt.Errorf("scanning cycle: %w", err)
		}
		c.StartedAt = parseTime(started)
		c.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, c)
	}
	return out, rows.Err()
}
