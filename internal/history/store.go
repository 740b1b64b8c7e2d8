// Package history records one row per agent invocation in a sqlite
// database. The JSON stores stay the system of record for sessions and
// schedules; history only feeds /status and /diagnose, so a missing or
// broken database is logged and never blocks a run.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/ductor/ductor/internal/agent/service"
	"github.com/ductor/ductor/internal/log"
)

// Schema is applied at open. CREATE IF NOT EXISTS keeps reopen cheap.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	chat_id       INTEGER NOT NULL,
	origin        TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	status        TEXT NOT NULL,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd      REAL NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	started_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Run is one recorded invocation.
type Run struct {
	ID           string
	ChatID       int64
	Origin       string
	Provider     string
	Model        string
	Status       string
	DurationMS   int64
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Error        string
	StartedAt    time.Time
}

// Stats aggregates one day of runs.
type Stats struct {
	Runs     int
	Errors   int
	CostUSD  float64
	TokensIn int64
	TokensOut int64
}

// Store wraps the run-history database. It satisfies
// service.RunRecorder.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to the database at path, creating the parent directory
// and the schema as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	log.Debug(log.CatHistory, "opening history database", "path", path)

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging history database: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying history schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun inserts one row. Failures are logged, never propagated;
// accounting must not break the message flow.
func (s *Store) RecordRun(rec service.RunRecord) {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, chat_id, origin, provider, model, status,
			duration_ms, input_tokens, output_tokens, cost_usd, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.ChatID, originFromLabel(rec.Label), rec.Provider,
		rec.Model, rec.Status, rec.DurationMS, rec.InputTokens,
		rec.OutputTokens, rec.CostUSD, rec.Error, s.now().Unix(),
	)
	if err != nil {
		log.ErrorErr(log.CatHistory, "failed to record run", err, "label", rec.Label)
	}
}

// originFromLabel buckets a run label into its trigger source. Labels
// carry the source as a prefix ("cron:daily-summary", "webhook:gh");
// everything else is an ordinary chat message.
func originFromLabel(label string) string {
	origin, _, _ := strings.Cut(label, ":")
	switch origin {
	case "cron", "webhook", "heartbeat":
		return origin
	default:
		return "message"
	}
}

// StatsSince aggregates runs started at or after the given time.
func (s *Store) StatsSince(since time.Time) (Stats, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status != 'ok' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(cost_usd), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0)
		FROM runs WHERE started_at >= ?`, since.Unix())

	var st Stats
	if err := row.Scan(&st.Runs, &st.Errors, &st.CostUSD, &st.TokensIn, &st.TokensOut); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// StatsToday aggregates runs since local midnight in the given
// location.
func (s *Store) StatsToday(loc *time.Location) (Stats, error) {
	now := s.now().In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return s.StatsSince(midnight)
}

// Recent returns the newest rows, most recent first.
func (s *Store) Recent(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, chat_id, origin, provider, model, status,
			duration_ms, input_tokens, output_tokens, cost_usd, error, started_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		var r Run
		var startedAt int64
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Origin, &r.Provider, &r.Model,
			&r.Status, &r.DurationMS, &r.InputTokens, &r.OutputTokens,
			&r.CostUSD, &r.Error, &startedAt); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(startedAt, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
