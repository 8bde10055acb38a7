package tutor

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession means no session identifiers are stored on this device.
	ErrNoSession = errors.New("session not found")
	// ErrTurnInFlight is returned when Submit is called while a turn is running.
	ErrTurnInFlight = errors.New("a turn is already in flight")
	// ErrNotReady is returned when Submit is called before the first question arrived.
	ErrNotReady = errors.New("conversation is not ready for answers")
	// ErrNotStarted is returned when Exit is called before Start.
	ErrNotStarted = errors.New("conversation has not started")
	// ErrAlreadyStarted is returned when Start is called on a running conversation.
	ErrAlreadyStarted = errors.New("conversation already started")
	// ErrExitCancelled is returned when the learner declines the exit confirmation.
	ErrExitCancelled = errors.New("exit cancelled")
	// ErrExited is returned by calls on, or results arriving at, a conversation
	// that has been exited.
	ErrExited = errors.New("conversation exited")
)

// SessionInitError means no usable session could be created. It is fatal for
// the current attempt.
type SessionInitError struct {
	Msg string
	Err error
}

func (e *SessionInitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *SessionInitError) Unwrap() error { return e.Err }

// SubmissionError is a recoverable failure of a problem submission or a turn.
// Msg is suitable for showing to the learner.
type SubmissionError struct {
	Op  string
	Msg string
	Err error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ValidationError is raised client-side, before anything is sent.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}
