package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"task-timer/internal/domain"
	"task-timer/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  name TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'todo',
  timer_status TEXT NOT NULL DEFAULT 'idle'
    CHECK (timer_status IN ('idle', 'running', 'paused', 'stopped'))
);
CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);

CREATE TABLE IF NOT EXISTS task_sessions (
  id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
  start_at INTEGER NOT NULL,
  end_at INTEGER,
  CHECK (end_at IS NULL OR end_at > start_at)
);
CREATE INDEX IF NOT EXISTS idx_task_sessions_task ON task_sessions(task_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_task_sessions_open ON task_sessions(task_id) WHERE end_at IS NULL;
`

// Store keeps tasks and timing sessions in an embedded SQLite database.
// Instants are stored as unix microseconds.
type Store struct {
	queries
	db  *sql.DB
	log *slog.Logger
}

var _ ports.Store = (*Store)(nil)

// NewStore opens (creating if needed) the database at path and ensures the schema.
func NewStore(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	// Writers take the database write lock at BEGIN, waiting out busy_timeout.
	q.Add("_txlock", "immediate")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(8)

	s := &Store{queries: queries{db: db}, db: db, log: log}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	log.Info("sqlite store ready", slog.String("path", path))
	return s, nil
}

// WithinTask runs fn inside an immediate transaction. SQLite admits one
// writer at a time, so the task is locked for its duration; reads outside
// a unit of work proceed concurrently under WAL.
func (s *Store) WithinTask(ctx context.Context, taskID string, fn func(ctx context.Context, ts ports.TimerStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, queries{db: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// PutTask inserts or replaces a task row. Tasks are normally owned by another
// service; this exists for seeding and tests.
func (s *Store) PutTask(ctx context.Context, t domain.Task) error {
	if t.TimerStatus == "" {
		t.TimerStatus = domain.TimerIdle
	}
	if t.Status == "" {
		t.Status = "todo"
	}
	const q = `
INSERT INTO tasks (id, user_id, name, status, timer_status)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  user_id=excluded.user_id,
  name=excluded.name,
  status=excluded.status,
  timer_status=excluded.timer_status;
`
	if _, err := s.db.ExecContext(ctx, q, t.ID, t.UserID, t.Name, t.Status, string(t.TimerStatus)); err != nil {
		return fmt.Errorf("put task: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements ports.TimerStore over either the pool or a transaction.
type queries struct {
	db dbtx
}

func (q queries) FindOwnedTask(ctx context.Context, taskID, userID string) (domain.Task, error) {
	var (
		t      domain.Task
		status string
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, status, timer_status FROM tasks WHERE id = ? AND user_id = ?`,
		taskID, userID,
	).Scan(&t.ID, &t.UserID, &t.Name, &t.Status, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("find task: %w", err)
	}
	t.TimerStatus = domain.TimerStatus(status)
	return t, nil
}

func (q queries) SetTimerStatus(ctx context.Context, taskID string, status domain.TimerStatus) error {
	if _, err := q.db.ExecContext(ctx, `UPDATE tasks SET timer_status = ? WHERE id = ?`, string(status), taskID); err != nil {
		return fmt.Errorf("set timer status: %w", err)
	}
	return nil
}

func (q queries) CreateOpenSession(ctx context.Context, taskID string, startAt time.Time) (domain.Session, error) {
	sess := domain.Session{ID: uuid.NewString(), TaskID: taskID, StartAt: startAt.UTC()}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO task_sessions (id, task_id, start_at) VALUES (?, ?, ?)`,
		sess.ID, taskID, sess.StartAt.UnixMicro(),
	)
	if isUniqueViolation(err) {
		return domain.Session{}, domain.ErrOpenSessionExists
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("create open session: %w", err)
	}
	return sess, nil
}

func (q queries) CloseOpenSession(ctx context.Context, taskID string, endAt time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE task_sessions SET end_at = ? WHERE task_id = ? AND end_at IS NULL`,
		endAt.UTC().UnixMicro(), taskID,
	)
	if err != nil {
		return fmt.Errorf("close open session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNoOpenSession
	}
	return nil
}

func (q queries) ListClosedSessions(ctx context.Context, taskID string) ([]domain.Session, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, task_id, start_at, end_at FROM task_sessions WHERE task_id = ? AND end_at IS NOT NULL ORDER BY start_at`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list closed sessions: %w", err)
	}
	defer rows.Close()
	var out []domain.Session
	for rows.Next() {
		var (
			sess       domain.Session
			start, end int64
		)
		if err := rows.Scan(&sess.ID, &sess.TaskID, &start, &end); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartAt = time.UnixMicro(start).UTC()
		e := time.UnixMicro(end).UTC()
		sess.EndAt = &e
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (q queries) FindOpenSession(ctx context.Context, taskID string) (*domain.Session, error) {
	var (
		sess  domain.Session
		start int64
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT id, task_id, start_at FROM task_sessions WHERE task_id = ? AND end_at IS NULL`,
		taskID,
	).Scan(&sess.ID, &sess.TaskID, &start)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open session: %w", err)
	}
	sess.StartAt = time.UnixMicro(start).UTC()
	return &sess, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlitedrv.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
