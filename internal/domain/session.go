package domain

import "time"

// Session is one contiguous interval during which a task's timer ran.
// EndAt is nil while the session is open.
type Session struct {
	ID      string
	TaskID  string
	StartAt time.Time
	EndAt   *time.Time
}

// Open reports whether the session has not been closed yet.
func (s Session) Open() bool { return s.EndAt == nil }

// Seconds returns the whole seconds covered by a closed session, 0 for an open one.
func (s Session) Seconds() int64 {
	if s.EndAt == nil {
		return 0
	}
	return SessionSeconds(s.StartAt, *s.EndAt)
}

// SessionSeconds floors end-start to whole seconds. Negative spans count as 0.
func SessionSeconds(start, end time.Time) int64 {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// CloseInstant returns the end instant to record for a session started at
// startAt and closed at now. end_at must be strictly after start_at, so a
// clock that has not advanced yields startAt plus one microsecond.
func CloseInstant(startAt, now time.Time) time.Time {
	if now.After(startAt) {
		return now
	}
	return startAt.Add(time.Microsecond)
}
