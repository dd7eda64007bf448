package domain

import (
	"fmt"
	"strings"
	"time"
)

// InstantLayout is the wire format for instants: UTC, millisecond precision.
const InstantLayout = "2006-01-02T15:04:05.000Z"

// Instant is a time.Time that encodes with InstantLayout.
type Instant struct{ time.Time }

// At wraps t, normalised to UTC.
func At(t time.Time) Instant { return Instant{t.UTC()} }

func (i Instant) MarshalJSON() ([]byte, error) {
	return []byte(`"` + i.UTC().Format(InstantLayout) + `"`), nil
}

func (i *Instant) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		i.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse instant %q: %w", s, err)
	}
	i.Time = t.UTC()
	return nil
}

// View is the server-clock-anchored snapshot of a task's timer. The same
// value is returned from request/response calls and pushed to stream viewers.
type View struct {
	ID                    string      `json:"id"`
	Name                  string      `json:"name"`
	Status                string      `json:"status"`
	TimerStatus           TimerStatus `json:"timerStatus"`
	AccumulatedSeconds    int64       `json:"accumulatedSeconds"`
	RunningSessionStartAt *Instant    `json:"runningSessionStartAt,omitempty"`
	ServerNow             Instant     `json:"serverNow"`
}

// BuildView assembles a View from the task, its closed sessions and the open
// session (nil when the timer is not running). Only closed sessions count
// towards AccumulatedSeconds.
func BuildView(task Task, closed []Session, open *Session, now time.Time) View {
	var acc int64
	for _, s := range closed {
		acc += s.Seconds()
	}
	v := View{
		ID:                 task.ID,
		Name:               task.Name,
		Status:             task.Status,
		TimerStatus:        task.TimerStatus,
		AccumulatedSeconds: acc,
		ServerNow:          At(now),
	}
	if open != nil {
		start := At(open.StartAt)
		v.RunningSessionStartAt = &start
	}
	return v
}

// Running reports whether the view carries an open session.
func (v View) Running() bool { return v.RunningSessionStartAt != nil }

// ServerOffset is how far the server clock was ahead of localNow when the
// view was received. Add it to local readings to get server time.
func (v View) ServerOffset(localNow time.Time) time.Duration {
	return v.ServerNow.Sub(localNow)
}

// ElapsedSeconds returns accumulated seconds plus the live delta of the open
// session, measured at serverNow (a server-clock instant).
func (v View) ElapsedSeconds(serverNow time.Time) int64 {
	if v.RunningSessionStartAt == nil {
		return v.AccumulatedSeconds
	}
	return v.AccumulatedSeconds + SessionSeconds(v.RunningSessionStartAt.Time, serverNow)
}

// FormatHHMMSS renders seconds as HH:MM:SS; hours are not wrapped.
func FormatHHMMSS(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
