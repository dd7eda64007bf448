package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"task-timer/internal/domain"
	"task-timer/internal/ports"
)

// errDuplicateKey is ER_DUP_ENTRY.
const errDuplicateKey = 1062

// Store implements ports.Store on MySQL. The schema lives in internal/migrate;
// task_sessions carries a generated open_marker column (1 while end_at is
// NULL, NULL otherwise) with UNIQUE(task_id, open_marker), which is what
// keeps a task at one open session.
type Store struct {
	queries
	db  *sql.DB
	log *slog.Logger
}

var _ ports.Store = (*Store)(nil)

// NewStore opens a MySQL connection using the provided DSN.
// Example DSN: user:pass@tcp(host:3306)/dbname?parseTime=true&multiStatements=true
func NewStore(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("mysql: DSN is required")
	}
	cfg, err := mysqldrv.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse DSN: %w", err)
	}
	// Instants are written and read as UTC DATETIME(6).
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(c); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{queries: queries{db: db}, db: db, log: log}, nil
}

// WithinTask runs fn in a READ COMMITTED transaction holding a row lock on
// the task, so mutations of one task are serialised while other tasks
// proceed independently.
func (s *Store) WithinTask(ctx context.Context, taskID string, fn func(ctx context.Context, ts ports.TimerStore) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM tasks WHERE id = ? FOR UPDATE`, taskID).Scan(&locked)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		return fmt.Errorf("lock task: %w", err)
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

// PutTask upserts a task row. Tasks are normally owned by another service;
// this exists for seeding and tests.
func (s *Store) PutTask(ctx context.Context, t domain.Task) error {
	if t.TimerStatus == "" {
		t.TimerStatus = domain.TimerIdle
	}
	if t.Status == "" {
		t.Status = "todo"
	}
	const q = `
INSERT INTO tasks
  (id, user_id, name, status, timer_status)
VALUES
  (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  user_id=VALUES(user_id),
  name=VALUES(name),
  status=VALUES(status),
  timer_status=VALUES(timer_status);
`
	if _, err := s.db.ExecContext(ctx, q, t.ID, t.UserID, t.Name, t.Status, string(t.TimerStatus)); err != nil {
		return fmt.Errorf("put task: %w", err)
	}
	s.log.Debug("mysql task upserted", slog.String("task_id", t.ID))
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error { return s.db.Close() }

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

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
		sess.ID, taskID, sess.StartAt,
	)
	var me *mysqldrv.MySQLError
	if errors.As(err, &me) && me.Number == errDuplicateKey {
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
		endAt.UTC(), taskID,
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
			sess domain.Session
			end  time.Time
		)
		if err := rows.Scan(&sess.ID, &sess.TaskID, &sess.StartAt, &end); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartAt = sess.StartAt.UTC()
		end = end.UTC()
		sess.EndAt = &end
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (q queries) FindOpenSession(ctx context.Context, taskID string) (*domain.Session, error) {
	var sess domain.Session
	err := q.db.QueryRowContext(ctx,
		`SELECT id, task_id, start_at FROM task_sessions WHERE task_id = ? AND end_at IS NULL`,
		taskID,
	).Scan(&sess.ID, &sess.TaskID, &sess.StartAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open session: %w", err)
	}
	sess.StartAt = sess.StartAt.UTC()
	return &sess, nil
}
