// Package ledger persists the task history: one row per task, upserted on
// each lifecycle event, stored in SQLite with a transparent in-memory
// fallback when the configured path is unusable.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/vibe/internal/task"
)

// MemoryPath is the effective path reported when the ledger runs in
// memory, whether requested or entered through the Phoenix fallback.
const MemoryPath = ":memory:"

// DefaultHistoryLimit bounds GetHistory when the caller does not.
const DefaultHistoryLimit = 50

// schemaVersion is recorded in PRAGMA user_version at open time.
const schemaVersion = 1

// timestampLayout is RFC 3339 with fixed-width nanoseconds so that the
// textual timestamps sort lexicographically in chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Status enumerates the lifecycle states a task moves through.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is the ledger's current view of one task. Writes upsert on the
// task id, so the record always reflects the latest lifecycle event.
type Record struct {
	TaskID       string         `json:"task_id"`
	AgentID      string         `json:"agent_id"`
	InputPayload map[string]any `json:"input_payload"`
	OutputResult map[string]any `json:"output_result,omitempty"`
	Status       Status         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Timestamp    string         `json:"timestamp"`
}

// HistoryOptions filter and bound GetHistory.
type HistoryOptions struct {
	// Limit caps the number of rows; DefaultHistoryLimit when <= 0.
	Limit int

	// Status restricts results to one lifecycle state when non-empty.
	Status Status

	// AgentID restricts results to one agent when non-empty.
	AgentID string
}

// Statistics aggregates the ledger by status and agent.
type Statistics struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	Agents   []string       `json:"agents"`
}

// Ledger records task lifecycle events in a task_history table. Write
// methods never return errors: once constructed, the ledger must not
// double-fault while the kernel is handling an agent failure, so storage
// errors are logged and swallowed. Reads report errors normally.
type Ledger struct {
	db       *sql.DB
	path     string
	logger   *slog.Logger
	now      func() time.Time
	injected bool
}

// Option configures Open.
type Option func(*Ledger)

// WithLogger routes the ledger's warnings to the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock replaces the timestamp source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithDB injects a prepared database handle and skips both the open and
// the schema bootstrap. Intended for driver-level tests.
func WithDB(db *sql.DB) Option {
	return func(l *Ledger) {
		if db != nil {
			l.db = db
			l.injected = true
		}
	}
}

// Open constructs a ledger at path. It never fails: when the path is
// unusable (a directory in the way, permission denied, I/O error) it logs
// a warning and falls back to an in-memory store, after which Path
// reports ":memory:". An empty path selects the in-memory store directly.
func Open(path string, opts ...Option) *Ledger {
	l := &Ledger{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.injected {
		if path == "" {
			path = MemoryPath
		}
		l.path = path
		return l
	}

	if path == "" {
		path = MemoryPath
	}
	db, err := openAt(path)
	if err == nil {
		l.db = db
		l.path = path
		return l
	}
	if path != MemoryPath {
		l.logger.Warn("task history storage unusable, continuing in memory",
			"path", path,
			"error", err)
	}

	db, err = openAt(MemoryPath)
	if err != nil {
		// No storage at all. Keep a lazy handle so writes keep getting
		// swallowed and reads surface the failure.
		l.logger.Error("in-memory task history failed to initialize", "error", err)
		db, _ = sql.Open("sqlite", MemoryPath)
	}
	l.db = db
	l.path = MemoryPath
	return l
}

func openAt(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer by contract; one connection also keeps ":memory:"
	// from fanning out into per-connection databases.
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS task_history (
			task_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			input_payload TEXT NOT NULL,
			output_result TEXT,
			status TEXT NOT NULL,
			error_message TEXT,
			timestamp TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create task_history table: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// Path reports the effective storage path, MemoryPath when in memory.
func (l *Ledger) Path() string {
	return l.path
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordStart writes a started row for the task. Safe to call more than
// once; later lifecycle writes replace it.
func (l *Ledger) RecordStart(ctx context.Context, t *task.Task) {
	l.write(ctx, t, StatusStarted, nil, "")
}

// RecordCompletion writes a completed row carrying the serialized result.
func (l *Ledger) RecordCompletion(ctx context.Context, t *task.Task, result map[string]any) {
	l.write(ctx, t, StatusCompleted, result, "")
}

// RecordFailure writes a failed row carrying the error text.
func (l *Ledger) RecordFailure(ctx context.Context, t *task.Task, errText string) {
	l.write(ctx, t, StatusFailed, nil, errText)
}

const upsertSQL = `
	INSERT INTO task_history (task_id, agent_id, input_payload, output_result, status, error_message, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(task_id) DO UPDATE SET
		agent_id = excluded.agent_id,
		input_payload = excluded.input_payload,
		output_result = excluded.output_result,
		status = excluded.status,
		error_message = excluded.error_message,
		timestamp = excluded.timestamp
`

func (l *Ledger) write(ctx context.Context, t *task.Task, status Status, result map[string]any, errText string) {
	var resultCol any
	if status == StatusCompleted {
		resultCol = l.serialize(result)
	}
	var errCol any
	if errText != "" {
		errCol = errText
	}

	_, err := l.db.ExecContext(ctx, upsertSQL,
		t.ID,
		t.AgentID,
		l.serialize(t.Payload),
		resultCol,
		string(status),
		errCol,
		l.now().UTC().Format(timestampLayout),
	)
	if err != nil {
		l.logger.Warn("task history write failed",
			"task_id", t.ID,
			"status", string(status),
			"error", err)
	}
}

// serialize renders m as canonical JSON. Values the codec cannot express
// degrade to their string form so a write is never lost to serialization.
func (l *Ledger) serialize(m map[string]any) string {
	b, err := json.Marshal(m)
	if err == nil {
		return string(b)
	}
	l.logger.Warn("task history value not serializable, storing string form", "error", err)
	b, _ = json.Marshal(map[string]any{"raw": fmt.Sprint(m)})
	return string(b)
}

const selectColumns = `task_id, agent_id, input_payload, output_result, status, error_message, timestamp`

// GetTask returns the latest record for the id, or (nil, nil) when the id
// has never been recorded.
func (l *Ledger) GetTask(ctx context.Context, id string) (*Record, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM task_history WHERE task_id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return rec, nil
}

// GetHistory returns records most-recent-first, optionally filtered by
// status and agent id, bounded by opts.Limit.
func (l *Ledger) GetHistory(ctx context.Context, opts HistoryOptions) ([]*Record, error) {
	query := `SELECT ` + selectColumns + ` FROM task_history`
	var conds []string
	var args []any
	if opts.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.AgentID != "" {
		conds = append(conds, "agent_id = ?")
		args = append(args, opts.AgentID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return records, nil
}

// GetStatistics aggregates row counts by status and collects the distinct
// agent ids seen so far.
func (l *Ledger) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{ByStatus: make(map[Status]int)}

	rows, err := l.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM task_history GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[Status(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	agentRows, err := l.db.QueryContext(ctx,
		`SELECT DISTINCT agent_id FROM task_history`)
	if err != nil {
		return nil, fmt.Errorf("query agent ids: %w", err)
	}
	defer agentRows.Close()
	for agentRows.Next() {
		var id string
		if err := agentRows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan agent id: %w", err)
		}
		stats.Agents = append(stats.Agents, id)
	}
	if err := agentRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent ids: %w", err)
	}
	sort.Strings(stats.Agents)
	return stats, nil
}

// ReclassifyStale marks rows still in started older than the given age as
// failed with a synthetic error. The previous run recorded a start and
// then lost the process; the sweep restores the terminal-state invariant
// for readers. Returns the number of rows reclassified.
func (l *Ledger) ReclassifyStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := l.now().UTC().Add(-olderThan).Format(timestampLayout)
	res, err := l.db.ExecContext(ctx, `
		UPDATE task_history
		SET status = ?, error_message = ?, timestamp = ?
		WHERE status = ? AND timestamp < ?
	`,
		string(StatusFailed),
		"interrupted: no terminal state recorded before restart",
		l.now().UTC().Format(timestampLayout),
		string(StatusStarted),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reclassify stale tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count reclassified tasks: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var payload string
	var result, errMsg sql.NullString
	var status string
	if err := row.Scan(&rec.TaskID, &rec.AgentID, &payload, &result, &status, &errMsg, &rec.Timestamp); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	if errMsg.Valid {
		rec.ErrorMessage = errMsg.String
	}
	if err := json.Unmarshal([]byte(payload), &rec.InputPayload); err != nil {
		return nil, fmt.Errorf("decode input payload: %w", err)
	}
	if result.Valid {
		if err := json.Unmarshal([]byte(result.String), &rec.OutputResult); err != nil {
			return nil, fmt.Errorf("decode output result: %w", err)
		}
	}
	return &rec, nil
}
