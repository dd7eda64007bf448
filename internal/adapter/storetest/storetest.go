// Package storetest holds the behaviour every ports.SeedableStore must show,
// run against each backend from its own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-timer/internal/domain"
	"task-timer/internal/ports"
)

// Run exercises the store returned by open. open may hand back the same
// store to several subtests; each subtest seeds its own tasks.
func Run(t *testing.T, open func(t *testing.T) ports.SeedableStore) {
	t.Run("ownership", func(t *testing.T) { testOwnership(t, open(t)) })
	t.Run("one open session per task", func(t *testing.T) { testOneOpenSession(t, open(t)) })
	t.Run("sessions round trip", func(t *testing.T) { testRoundTrip(t, open(t)) })
	t.Run("end after start", func(t *testing.T) { testOrdering(t, open(t)) })
	t.Run("rollback on error", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("reads of other tasks do not wait", func(t *testing.T) { testReadsDoNotWait(t, open(t)) })
}

var base = time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)

// seed creates a task with a fresh id owned by userID.
func seed(t *testing.T, s ports.SeedableStore, userID string) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, s.PutTask(context.Background(), domain.Task{ID: id, UserID: userID, Name: "Write report"}))
	return id
}

func testOwnership(t *testing.T, s ports.SeedableStore) {
	ctx := context.Background()
	id := seed(t, s, "u1")

	task, err := s.FindOwnedTask(ctx, id, "u1")
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, domain.TimerIdle, task.TimerStatus)
	assert.Equal(t, "todo", task.Status)

	_, err = s.FindOwnedTask(ctx, id, "u2")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	_, err = s.FindOwnedTask(ctx, uuid.NewString(), "u1")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)

	require.NoError(t, s.SetTimerStatus(ctx, id, domain.TimerPaused))
	task, err = s.FindOwnedTask(ctx, id, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TimerPaused, task.TimerStatus)
}

func testOneOpenSession(t *testing.T, s ports.SeedableStore) {
	ctx := context.Background()
	id := seed(t, s, "u1")

	_, err := s.CreateOpenSession(ctx, id, base)
	require.NoError(t, err)
	_, err = s.CreateOpenSession(ctx, id, base.Add(time.Second))
	assert.ErrorIs(t, err, domain.ErrOpenSessionExists)

	// Another task is unaffected.
	_, err = s.CreateOpenSession(ctx, seed(t, s, "u1"), base)
	require.NoError(t, err)

	require.NoError(t, s.CloseOpenSession(ctx, id, base.Add(time.Minute)))
	_, err = s.CreateOpenSession(ctx, id, base.Add(2*time.Minute))
	require.NoError(t, err)
}

func testRoundTrip(t *testing.T, s ports.SeedableStore) {
	ctx := context.Background()
	id := seed(t, s, "u1")
	start := base.Add(123 * time.Microsecond)

	open, err := s.FindOpenSession(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, open)

	created, err := s.CreateOpenSession(ctx, id, start)
	require.NoError(t, err)
	open, err = s.FindOpenSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, created.ID, open.ID)
	assert.True(t, open.StartAt.Equal(start), "start %s", open.StartAt)

	// 75.9s floors to 75.
	require.NoError(t, s.CloseOpenSession(ctx, id, start.Add(75*time.Second+900*time.Millisecond)))
	_, err = s.CreateOpenSession(ctx, id, start.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.CloseOpenSession(ctx, id, start.Add(time.Hour+2*time.Second)))

	closed, err := s.ListClosedSessions(ctx, id)
	require.NoError(t, err)
	require.Len(t, closed, 2)
	assert.Equal(t, int64(75), closed[0].Seconds())
	assert.Equal(t, int64(2), closed[1].Seconds())

	assert.ErrorIs(t, s.CloseOpenSession(ctx, id, start.Add(2*time.Hour)), domain.ErrNoOpenSession)
}

func testOrdering(t *testing.T, s ports.SeedableStore) {
	ctx := context.Background()
	id := seed(t, s, "u1")

	_, err := s.CreateOpenSession(ctx, id, base)
	require.NoError(t, err)
	err = s.CloseOpenSession(ctx, id, base)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNoOpenSession)

	open, err := s.FindOpenSession(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, open, "a rejected close leaves the session open")
}

func testRollback(t *testing.T, s ports.SeedableStore) {
	ctx := context.Background()
	id := seed(t, s, "u1")

	err := s.WithinTask(ctx, id, func(ctx context.Context, ts ports.TimerStore) error {
		if _, err := ts.CreateOpenSession(ctx, id, base); err != nil {
			return err
		}
		if err := ts.SetTimerStatus(ctx, id, domain.TimerRunning); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	open, err := s.FindOpenSession(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, open)
	task, err := s.FindOwnedTask(ctx, id, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TimerIdle, task.TimerStatus)
}

func testReadsDoNotWait(t *testing.T, s ports.SeedableStore) {
	ctx := context.Background()
	locked, other := seed(t, s, "u1"), seed(t, s, "u1")

	err := s.WithinTask(ctx, locked, func(ctx context.Context, ts ports.TimerStore) error {
		if _, err := ts.CreateOpenSession(ctx, locked, base); err != nil {
			return err
		}
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := s.FindOwnedTask(rctx, other, "u1"); err != nil {
			return err
		}
		// Uncommitted work stays invisible outside the unit of work.
		open, err := s.FindOpenSession(rctx, locked)
		if err != nil {
			return err
		}
		assert.Nil(t, open)
		return nil
	})
	require.NoError(t, err)

	open, err := s.FindOpenSession(ctx, locked)
	require.NoError(t, err)
	assert.NotNil(t, open)
}
