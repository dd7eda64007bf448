package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildView_SumsClosedSessionsOnly(t *testing.T) {
	base := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	end1 := base.Add(90*time.Second + 900*time.Millisecond) // floors to 90
	end2 := base.Add(10*time.Minute + 30*time.Second)
	closed := []Session{
		{ID: "a", TaskID: "t1", StartAt: base, EndAt: &end1},
		{ID: "b", TaskID: "t1", StartAt: base.Add(10 * time.Minute), EndAt: &end2},
	}
	open := &Session{ID: "c", TaskID: "t1", StartAt: base.Add(time.Hour)}
	task := Task{ID: "t1", Name: "Write report", Status: "todo", TimerStatus: TimerRunning}

	v := BuildView(task, closed, open, base.Add(2*time.Hour))

	assert.Equal(t, int64(120), v.AccumulatedSeconds)
	require.NotNil(t, v.RunningSessionStartAt)
	assert.True(t, v.RunningSessionStartAt.Equal(base.Add(time.Hour)))
	assert.Equal(t, TimerRunning, v.TimerStatus)
	assert.Equal(t, "Write report", v.Name)
	assert.True(t, v.Running())
}

func TestView_JSONShape(t *testing.T) {
	now := time.Date(2025, 8, 1, 9, 0, 0, 123456789, time.UTC)
	v := BuildView(Task{ID: "t1", Name: "n", Status: "todo", TimerStatus: TimerIdle}, nil, nil, now)

	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t1","name":"n","status":"todo","timerStatus":"idle","accumulatedSeconds":0,"serverNow":"2025-08-01T09:00:00.123Z"}`, string(b))

	open := &Session{StartAt: now.Add(-time.Minute)}
	v = BuildView(Task{ID: "t1", TimerStatus: TimerRunning}, nil, open, now)
	b, err = json.Marshal(v)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "2025-08-01T08:59:00.123Z", raw["runningSessionStartAt"])

	var back View
	require.NoError(t, json.Unmarshal(b, &back))
	require.NotNil(t, back.RunningSessionStartAt)
	assert.True(t, back.RunningSessionStartAt.Equal(now.Add(-time.Minute).Truncate(time.Millisecond)))
}

func TestView_ElapsedAndOffset(t *testing.T) {
	serverNow := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	start := At(serverNow.Add(-45 * time.Second))
	v := View{AccumulatedSeconds: 100, RunningSessionStartAt: &start, ServerNow: At(serverNow)}

	// Client clock is 7 minutes behind the server.
	local := serverNow.Add(-7 * time.Minute)
	offset := v.ServerOffset(local)
	assert.Equal(t, 7*time.Minute, offset)

	later := local.Add(15 * time.Second).Add(offset)
	assert.Equal(t, int64(160), v.ElapsedSeconds(later))

	v.RunningSessionStartAt = nil
	assert.Equal(t, int64(100), v.ElapsedSeconds(later))
}

func TestSessionSecondsAndCloseInstant(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(2), SessionSeconds(start, start.Add(2999*time.Millisecond)))
	assert.Equal(t, int64(0), SessionSeconds(start, start.Add(-time.Second)))

	assert.True(t, CloseInstant(start, start).After(start))
	assert.True(t, CloseInstant(start, start.Add(-time.Second)).After(start))
	assert.Equal(t, start.Add(time.Second), CloseInstant(start, start.Add(time.Second)))
}

func TestFormatHHMMSS(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatHHMMSS(0))
	assert.Equal(t, "01:23:45", FormatHHMMSS(5025))
	assert.Equal(t, "100:00:01", FormatHHMMSS(360001))
	assert.Equal(t, "00:00:00", FormatHHMMSS(-5))
}

func TestInvalidTransitionError(t *testing.T) {
	var err error = &InvalidTransitionError{Op: "pause", From: TimerIdle, Message: "Task is not running"}
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.EqualError(t, err, "Task is not running")

	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, TimerIdle, ite.From)
}
