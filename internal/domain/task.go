package domain

// TimerStatus is the task's cached view of its session state.
// running means exactly one open session exists; every other value means none.
type TimerStatus string

const (
	TimerIdle    TimerStatus = "idle"
	TimerRunning TimerStatus = "running"
	TimerPaused  TimerStatus = "paused"
	TimerStopped TimerStatus = "stopped"
)

// Valid reports whether s is one of the known timer states.
func (s TimerStatus) Valid() bool {
	switch s {
	case TimerIdle, TimerRunning, TimerPaused, TimerStopped:
		return true
	}
	return false
}

// Task is the part of a task record the timer reads. Tasks are created and
// owned elsewhere; only TimerStatus is written by this service.
type Task struct {
	ID          string
	UserID      string
	Name        string
	Status      string // business status, e.g. todo/in_progress/done
	TimerStatus TimerStatus
}
