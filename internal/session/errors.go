package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

var (
	// ErrInvalidTransition is matched by every precondition failure
	ErrInvalidTransition = errors.New("invalid transition")

	ErrAlreadyRecording  = fmt.Errorf("%w: already recording", ErrInvalidTransition)
	ErrNotRecording      = fmt.Errorf("%w: not recording", ErrInvalidTransition)
	ErrNotPaused         = fmt.Errorf("%w: recording not paused", ErrInvalidTransition)
	ErrNotPlaying        = fmt.Errorf("%w: not playing", ErrInvalidTransition)
	ErrNotPausedPlayback = fmt.Errorf("%w: playback not paused", ErrInvalidTransition)

	ErrInvalidArgument  = errors.New("invalid argument")
	ErrEngineFailure    = errors.New("engine failure")
	ErrPermissionDenied = errors.New("permission denied")
	ErrEngineTimeout    = errors.New("engine timeout")
	ErrClosed           = errors.New("controller closed")
)

// TransitionError reports a command rejected by a session's state guard.
// No engine call was made.
type TransitionError struct {
	Op    string
	State string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %v (state %s)", e.Op, e.Err, e.State)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// EngineErrorKind classifies an engine failure
type EngineErrorKind int

const (
	EngineFailureKind EngineErrorKind = iota
	PermissionKind
	TimeoutKind
)

func (k EngineErrorKind) String() string {
	switch k {
	case PermissionKind:
		return "permission"
	case TimeoutKind:
		return "timeout"
	default:
		return "failure"
	}
}

// EngineError wraps an error returned by the audio engine.
// errors.Is matches ErrEngineFailure for every kind, and ErrPermissionDenied
// or ErrEngineTimeout for the specialised kinds.
type EngineError struct {
	Op   string
	Kind EngineErrorKind
	Err  error
}

func (e *EngineError) Error() string {
	switch e.Kind {
	case PermissionKind:
		return fmt.Sprintf("engine %s: permission denied: %v", e.Op, e.Err)
	case TimeoutKind:
		return fmt.Sprintf("engine %s timed out: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("engine %s failed: %v", e.Op, e.Err)
	}
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) Is(target error) bool {
	switch target {
	case ErrEngineFailure:
		return true
	case ErrPermissionDenied:
		return e.Kind == PermissionKind
	case ErrEngineTimeout:
		return e.Kind == TimeoutKind
	}
	return false
}

func transition(op string, state fmt.Stringer, err error) error {
	return &TransitionError{Op: op, State: state.String(), Err: err}
}

func invalidArgument(op, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", op, ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// classify wraps an engine error, detecting permission and deadline failures
func classify(op string, err error) error {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return err
	}

	kind := EngineFailureKind
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = TimeoutKind
	case isPermissionError(err):
		kind = PermissionKind
	}
	return &EngineError{Op: op, Kind: kind, Err: err}
}

var permissionMarkers = []string{
	"permission denied",
	"not permitted",
	"not authorized",
	"access denied",
}

func isPermissionError(err error) bool {
	if errors.Is(err, fs.ErrPermission) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range permissionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
