package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-timer/internal/adapter/storetest"
	"task-timer/internal/domain"
	"task-timer/internal/ports"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "timer.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.PutTask(context.Background(), domain.Task{ID: "t1", UserID: "u1", Name: "Write report"}))
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.SeedableStore { return newTestStore(t) })
}

func TestDeletingTaskCascadesSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)

	_, err := s.CreateOpenSession(ctx, "t1", start)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, "t1")
	require.NoError(t, err)

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_sessions`).Scan(&n))
	assert.Zero(t, n)
}

func TestWithinTask_ConcurrentWritersAllCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := []string{"t1", "t2", "t3", "t4"}
	for _, id := range ids[1:] {
		require.NoError(t, s.PutTask(ctx, domain.Task{ID: id, UserID: "u1", Name: id}))
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.WithinTask(ctx, id, func(ctx context.Context, ts ports.TimerStore) error {
				if _, err := ts.CreateOpenSession(ctx, id, time.Now()); err != nil {
					return err
				}
				return ts.SetTimerStatus(ctx, id, domain.TimerRunning)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	for _, id := range ids {
		task, err := s.FindOwnedTask(ctx, id, "u1")
		require.NoError(t, err)
		assert.Equal(t, domain.TimerRunning, task.TimerStatus, id)
	}
}
