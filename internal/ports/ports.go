package ports

import (
	"context"
	"time"

	"task-timer/internal/domain"
)

// TaskLookup resolves a task by id on behalf of a user. A task that does not
// exist and a task owned by another user both yield domain.ErrTaskNotFound.
type TaskLookup interface {
	FindOwnedTask(ctx context.Context, taskID, userID string) (domain.Task, error)
}

// SessionStore persists timing sessions. CreateOpenSession must fail with
// domain.ErrOpenSessionExists when the task already has an open session, and
// that check must be enforced by the storage itself.
type SessionStore interface {
	CreateOpenSession(ctx context.Context, taskID string, startAt time.Time) (domain.Session, error)
	CloseOpenSession(ctx context.Context, taskID string, endAt time.Time) error
	ListClosedSessions(ctx context.Context, taskID string) ([]domain.Session, error)
	FindOpenSession(ctx context.Context, taskID string) (*domain.Session, error)
}

// TimerStatusWriter updates the task's cached timer status.
type TimerStatusWriter interface {
	SetTimerStatus(ctx context.Context, taskID string, status domain.TimerStatus) error
}

// TimerStore is everything the timer needs from storage within one unit of work.
type TimerStore interface {
	TaskLookup
	SessionStore
	TimerStatusWriter
}

// UnitOfWork runs fn atomically for one task. Implementations lock the task
// so concurrent calls for the same task run one after another; calls for
// different tasks do not wait on each other.
type UnitOfWork interface {
	WithinTask(ctx context.Context, taskID string, fn func(ctx context.Context, s TimerStore) error) error
}

// Store is a storage backend usable both for reads and units of work.
type Store interface {
	TimerStore
	UnitOfWork
	Close() error
}

// TaskSeeder creates task rows. Production tasks come from the task service;
// this is for local development and tests.
type TaskSeeder interface {
	PutTask(ctx context.Context, t domain.Task) error
}

// SeedableStore is a Store that can also seed tasks.
type SeedableStore interface {
	Store
	TaskSeeder
}

// Publisher delivers a view to everyone watching the task. Delivery is
// best effort; Publish never fails. Views are published after the unit of
// work commits, so concurrent mutations of one task may be delivered out of
// commit order; receivers keep the view with the latest ServerNow.
type Publisher interface {
	Publish(taskID string, view domain.View)
}

// Clock abstracts time to keep the engine deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC at microsecond resolution, the
// precision both stores keep.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
