package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound covers both a missing task and a task owned by someone
	// else; callers must not be able to tell the two apart.
	ErrTaskNotFound = errors.New("task not found or access denied")
	// ErrOpenSessionExists is returned by a store refusing a second open session.
	ErrOpenSessionExists = errors.New("open session already exists")
	// ErrNoOpenSession is returned when closing a task that has no open session.
	ErrNoOpenSession = errors.New("no open session")
	// ErrInvalidTransition matches every *InvalidTransitionError via errors.Is.
	ErrInvalidTransition = errors.New("invalid timer state transition")
)

// InvalidTransitionError rejects an operation that is not allowed from the
// task's current timer status. Message is safe to show to the user.
type InvalidTransitionError struct {
	Op      string
	From    TimerStatus
	Message string
}

func (e *InvalidTransitionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("cannot %s a %s timer", e.Op, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
