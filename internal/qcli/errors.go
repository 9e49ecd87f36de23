package qcli

import (
	"errors"
	"fmt"
)

var (
	// ErrProcessUnavailable means the binary is missing or failed its probe.
	ErrProcessUnavailable = errors.New("q cli unavailable")
	// ErrProcessTimeout means the invocation exceeded its deadline and was killed.
	ErrProcessTimeout = errors.New("q cli timed out")
	// ErrProcessNonZeroExit means the process failed without producing stdout.
	ErrProcessNonZeroExit = errors.New("q cli exited with error")
	// ErrProcessKilled means the process was terminated through the Registry
	// (force reset, sweep or shutdown). Its partial output is not usable.
	ErrProcessKilled = errors.New("q cli process was killed")
)

// ProcessError carries details of a failed invocation. It matches one of the
// sentinel errors above through errors.Is.
type ProcessError struct {
	Kind     error
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	msg := e.Kind.Error()
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("%s (exit %d)", msg, e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the error's kind.
func (e *ProcessError) Is(target error) bool {
	return target == e.Kind
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}
