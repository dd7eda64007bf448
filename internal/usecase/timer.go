package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"task-timer/internal/domain"
	"task-timer/internal/ports"
)

// TimerUseCase is the task timer state machine. It validates transitions,
// writes sessions and the task's timer status in one unit of work per task,
// and publishes the resulting view.
type TimerUseCase struct {
	Log       *slog.Logger
	Store     ports.Store
	Publisher ports.Publisher // optional
	Clock     ports.Clock     // defaults to ports.SystemClock
}

// transition decides and applies one state change for a locked task. It
// returns the status the task ends in.
type transition func(ctx context.Context, s ports.TimerStore, task domain.Task, now time.Time) (domain.TimerStatus, error)

// GetView returns the current view without changing anything.
func (uc *TimerUseCase) GetView(ctx context.Context, taskID, userID string) (domain.View, error) {
	if err := uc.ready(); err != nil {
		return domain.View{}, err
	}
	task, err := uc.Store.FindOwnedTask(ctx, taskID, userID)
	if err != nil {
		return domain.View{}, err
	}
	return project(ctx, uc.Store, task, uc.now())
}

// Start opens a session on an idle or stopped task. Starting a running task
// returns its current view unchanged so retried requests are safe.
func (uc *TimerUseCase) Start(ctx context.Context, taskID, userID string) (domain.View, error) {
	return uc.mutate(ctx, "start", taskID, userID, func(ctx context.Context, s ports.TimerStore, task domain.Task, now time.Time) (domain.TimerStatus, error) {
		switch task.TimerStatus {
		case domain.TimerRunning:
			return domain.TimerRunning, nil
		case domain.TimerPaused:
			return "", &domain.InvalidTransitionError{Op: "start", From: task.TimerStatus, Message: "Task is paused; resume it instead"}
		}
		if _, err := s.CreateOpenSession(ctx, task.ID, now); err != nil {
			return "", err
		}
		return domain.TimerRunning, nil
	})
}

// Pause closes the open session of a running task.
func (uc *TimerUseCase) Pause(ctx context.Context, taskID, userID string) (domain.View, error) {
	return uc.mutate(ctx, "pause", taskID, userID, func(ctx context.Context, s ports.TimerStore, task domain.Task, now time.Time) (domain.TimerStatus, error) {
		if task.TimerStatus != domain.TimerRunning {
			return "", &domain.InvalidTransitionError{Op: "pause", From: task.TimerStatus, Message: "Task is not running"}
		}
		if err := closeOpen(ctx, s, task.ID, now); err != nil {
			return "", err
		}
		return domain.TimerPaused, nil
	})
}

// Resume opens a new session on a paused task.
func (uc *TimerUseCase) Resume(ctx context.Context, taskID, userID string) (domain.View, error) {
	return uc.mutate(ctx, "resume", taskID, userID, func(ctx context.Context, s ports.TimerStore, task domain.Task, now time.Time) (domain.TimerStatus, error) {
		if task.TimerStatus != domain.TimerPaused {
			return "", &domain.InvalidTransitionError{Op: "resume", From: task.TimerStatus, Message: "Task is not paused"}
		}
		if _, err := s.CreateOpenSession(ctx, task.ID, now); err != nil {
			return "", err
		}
		return domain.TimerRunning, nil
	})
}

// Stop closes the open session if there is one and marks the task stopped.
// It is valid from every state.
func (uc *TimerUseCase) Stop(ctx context.Context, taskID, userID string) (domain.View, error) {
	return uc.mutate(ctx, "stop", taskID, userID, func(ctx context.Context, s ports.TimerStore, task domain.Task, now time.Time) (domain.TimerStatus, error) {
		if err := closeOpen(ctx, s, task.ID, now); err != nil {
			return "", err
		}
		return domain.TimerStopped, nil
	})
}

func (uc *TimerUseCase) mutate(ctx context.Context, op, taskID, userID string, step transition) (domain.View, error) {
	if err := uc.ready(); err != nil {
		return domain.View{}, err
	}
	var (
		view domain.View
		from domain.TimerStatus
	)
	err := uc.Store.WithinTask(ctx, taskID, func(ctx context.Context, s ports.TimerStore) error {
		task, err := s.FindOwnedTask(ctx, taskID, userID)
		if err != nil {
			return err
		}
		from = task.TimerStatus
		now := uc.now()
		next, err := step(ctx, s, task, now)
		if err != nil {
			return err
		}
		if next != task.TimerStatus {
			if err := s.SetTimerStatus(ctx, task.ID, next); err != nil {
				return err
			}
			task.TimerStatus = next
		}
		view, err = project(ctx, s, task, now)
		return err
	})
	if errors.Is(err, domain.ErrOpenSessionExists) {
		// Another request opened the session first. The store refused ours,
		// so this call observes "already running".
		uc.Log.Debug("open session already exists", slog.String("task_id", taskID), slog.String("op", op))
		view, err = uc.adoptOpenSession(ctx, taskID, userID)
	}
	if err != nil {
		return domain.View{}, err
	}
	uc.Log.Info("timer transition",
		slog.String("task_id", taskID),
		slog.String("op", op),
		slog.String("from", string(from)),
		slog.String("to", string(view.TimerStatus)),
	)
	if uc.Publisher != nil {
		uc.Publisher.Publish(taskID, view)
	}
	return view, nil
}

// adoptOpenSession makes the task's status agree with an open session that
// already exists and returns the resulting view.
func (uc *TimerUseCase) adoptOpenSession(ctx context.Context, taskID, userID string) (domain.View, error) {
	var view domain.View
	err := uc.Store.WithinTask(ctx, taskID, func(ctx context.Context, s ports.TimerStore) error {
		task, err := s.FindOwnedTask(ctx, taskID, userID)
		if err != nil {
			return err
		}
		open, err := s.FindOpenSession(ctx, task.ID)
		if err != nil {
			return err
		}
		if open != nil && task.TimerStatus != domain.TimerRunning {
			if err := s.SetTimerStatus(ctx, task.ID, domain.TimerRunning); err != nil {
				return err
			}
			task.TimerStatus = domain.TimerRunning
		}
		view, err = project(ctx, s, task, uc.now())
		return err
	})
	return view, err
}

func closeOpen(ctx context.Context, s ports.TimerStore, taskID string, now time.Time) error {
	open, err := s.FindOpenSession(ctx, taskID)
	if err != nil {
		return err
	}
	if open == nil {
		return nil
	}
	err = s.CloseOpenSession(ctx, taskID, domain.CloseInstant(open.StartAt, now))
	if errors.Is(err, domain.ErrNoOpenSession) {
		return nil
	}
	return err
}

// project builds the view for task from the store. Every read and write path
// goes through here so pulled and pushed views are identical in shape.
func project(ctx context.Context, s ports.TimerStore, task domain.Task, now time.Time) (domain.View, error) {
	closed, err := s.ListClosedSessions(ctx, task.ID)
	if err != nil {
		return domain.View{}, err
	}
	open, err := s.FindOpenSession(ctx, task.ID)
	if err != nil {
		return domain.View{}, err
	}
	return domain.BuildView(task, closed, open, now), nil
}

func (uc *TimerUseCase) ready() error {
	if uc.Store == nil || uc.Log == nil {
		return errors.New("usecase not initialized: missing dependencies")
	}
	return nil
}

func (uc *TimerUseCase) now() time.Time {
	if uc.Clock == nil {
		return ports.SystemClock{}.Now()
	}
	return uc.Clock.Now()
}
