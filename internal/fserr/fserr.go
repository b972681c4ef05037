// Package fserr defines the checker's error kinds and the exit-code
// values the orchestrator ultimately reports, per spec.md §7/§8. No
// part of the checker calls os.Exit directly; every failure propagates
// as an error value up to the command entry point, which alone translates
// it with ExitCodeFor.
package fserr

import "fmt"

// ExitCode mirrors the fsck(8) family's conventional exit status bits.
type ExitCode int

const (
	ExitOK          ExitCode = 0
	ExitNondestruct ExitCode = 1
	ExitReboot      ExitCode = 2
	ExitUncorrected ExitCode = 4
	ExitError       ExitCode = 8
	ExitUsage       ExitCode = 16
	ExitCanceled    ExitCode = 32
	ExitLibrary     ExitCode = 128
)

// Kind classifies a failure the way spec.md §7 enumerates them.
type Kind int

const (
	// KindCorruption is an on-disk invariant violation: bad pointer, wrong
	// magic, a count mismatch. Never terminates the run by itself — it is
	// reported, optionally repaired, and counted.
	KindCorruption Kind = iota
	// KindResourceExhaustion is an allocation failure. Fatal.
	KindResourceExhaustion
	// KindIO is a short read/write or an errno from the device. Fatal.
	KindIO
	// KindUsage is a bad invocation: unknown flag, missing device,
	// out-of-range device. Exits without touching the disk.
	KindUsage
	// KindCanceled is an operator interrupt (Ctrl-C) during a prompt.
	KindCanceled
)

// Error wraps an underlying cause with the Kind the orchestrator uses to
// pick an exit code.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error of the given kind from a format string.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a Kind to an existing error.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// ExitCodeFor maps a fatal error's Kind to the process exit code the
// orchestrator reports when it aborts before completing the passes.
func ExitCodeFor(err error) ExitCode {
	var fe *Error
	if !asError(err, &fe) {
		return ExitError
	}
	switch fe.Kind {
	case KindUsage:
		return ExitUsage
	case KindCanceled:
		return ExitCanceled
	case KindResourceExhaustion, KindIO:
		return ExitError
	default:
		return ExitError
	}
}

func asError(err error, target **Error) bool {
	for err != nil {
		if fe, ok := err.(*Error); ok {
			*target = fe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ExitCodeForCounts derives the exit code from the cumulative counters
// when the checker ran to completion without a fatal error, per the
// "Exit code" invariant in spec.md §8.
func ExitCodeForCounts(errorsFound, errorsCorrected int) ExitCode {
	switch {
	case errorsFound == 0:
		return ExitOK
	case errorsCorrected == errorsFound:
		return ExitNondestruct
	default:
		return ExitUncorrected
	}
}
