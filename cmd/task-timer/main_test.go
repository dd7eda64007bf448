package main

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-timer/internal/domain"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestDisplay_TicksOnServerClock(t *testing.T) {
	local := time.Now()
	serverNow := local.Add(-2 * time.Second) // local clock runs 2s ahead
	start := domain.At(serverNow.Add(-10 * time.Second))
	d := &display{}
	d.set(domain.View{
		TimerStatus:           domain.TimerRunning,
		AccumulatedSeconds:    60,
		RunningSessionStartAt: &start,
		ServerNow:             domain.At(serverNow),
	})

	// Offsets are measured at receipt; a few ms of drift must not change the second.
	assert.Equal(t, "00:01:15  running ", d.line(local.Add(5*time.Second+500*time.Millisecond)))
}

func TestPrintView(t *testing.T) {
	var buf bytes.Buffer
	v := domain.View{ID: "t1", Name: "Write report", TimerStatus: domain.TimerPaused, AccumulatedSeconds: 3723, ServerNow: domain.At(time.Now())}
	require.NoError(t, printView(&buf, v, false))
	assert.Equal(t, "t1  paused   01:02:03  Write report\n", buf.String())

	buf.Reset()
	require.NoError(t, printView(&buf, v, true))
	assert.Contains(t, buf.String(), `"timerStatus": "paused"`)
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{{"serve"}, {"migrate", "status"}, {"token"}, {"task", "add"}, {"timer", "watch"}, {"timer", "stop"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestDisplay_IgnoresOlderView(t *testing.T) {
	now := time.Now().UTC()
	d := &display{}
	d.set(domain.View{TimerStatus: domain.TimerStopped, AccumulatedSeconds: 8, ServerNow: domain.At(now)})
	// A start committed earlier but delivered later must not win.
	start := domain.At(now.Add(-3 * time.Second))
	d.set(domain.View{TimerStatus: domain.TimerRunning, AccumulatedSeconds: 5, RunningSessionStartAt: &start, ServerNow: domain.At(now.Add(-time.Second))})

	d.mu.Lock()
	assert.Equal(t, domain.TimerStopped, d.view.TimerStatus)
	d.mu.Unlock()
	assert.Equal(t, "00:00:08  stopped ", d.line(time.Now().Add(time.Minute)))

	// Same or later instants replace it.
	d.set(domain.View{TimerStatus: domain.TimerIdle, ServerNow: domain.At(now)})
	d.mu.Lock()
	assert.Equal(t, domain.TimerIdle, d.view.TimerStatus)
	d.mu.Unlock()
}
