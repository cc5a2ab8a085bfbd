package core

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrQueued reports that the operation was deferred to the offline queue.
	// It is not a failure: the operation replays on the next reconnect and
	// reports its outcome through the OnSuccess/OnError callbacks.
	ErrQueued = errors.New("operation queued until connectivity returns")

	ErrSoftFailure  = errors.New("soft failure")
	ErrHardFailure  = errors.New("hard failure")
	ErrGuardFailure = errors.New("guard failure")
	ErrHookFailure  = errors.New("hook failure")

	ErrEmptyResponse   = errors.New("empty response")
	ErrAlreadyCreating = errors.New("record is already being created")
	ErrNoIdentity      = errors.New("record has neither canonical nor temporary id")
	ErrNoField         = errors.New("unique operation needs a target field")
	ErrNoTransport     = errors.New("no transport configured")
	ErrAlreadyStarted  = errors.New("collection already started")
)

// FailureKind classifies a failed operation.
type FailureKind int

const (
	// FailSoft: the transport answered with an empty payload.
	FailSoft FailureKind = iota + 1
	// FailHard: the transport call itself failed.
	FailHard
	// FailGuard: a domain precondition was violated.
	FailGuard
	// FailHook: a before/after hook failed.
	FailHook
)

func (k FailureKind) String() string {
	switch k {
	case FailSoft:
		return "soft"
	case FailHard:
		return "hard"
	case FailGuard:
		return "guard"
	case FailHook:
		return "hook"
	default:
		return "unknown"
	}
}

func (k FailureKind) sentinel() error {
	switch k {
	case FailSoft:
		return ErrSoftFailure
	case FailHard:
		return ErrHardFailure
	case FailGuard:
		return ErrGuardFailure
	case FailHook:
		return ErrHookFailure
	default:
		return nil
	}
}

// OpError describes a failed pipeline operation.
// errors.Is matches both the kind sentinel and the wrapped cause. A hook
// failure also matches ErrHardFailure.
type OpError struct {
	Kind FailureKind
	Op   Op
	ID   string
	Err  error
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("%s %s: %s failure", e.Op, e.ID, e.Kind)
	if e.ID == "" {
		msg = fmt.Sprintf("%s: %s failure", e.Op, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() []error {
	errs := make([]error, 0, 3)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	// Hook failures propagate as hard failures.
	if e.Kind == FailHook {
		errs = append(errs, ErrHardFailure)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
