// Package ferrors defines the error kinds used across the fuzzer (see
// spec section 7: Error Handling Design) and the propagation rules that
// keep worker tasks from unwinding the driver.
package ferrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error the way the driver's worker tasks need to
// react to it: some are expected and routed elsewhere (TargetCrash,
// TargetTimeout), some are logged and the affected operation skipped
// without any retry (TransientIO), some are logged and shrugged off
// (MalformedModelRef), and only Init is fatal.
type Kind string

const (
	TransientIO         Kind = "TransientIO"
	MalformedModelRef   Kind = "MalformedModelRef"
	ArenaFault          Kind = "ArenaFault"
	TargetCrash         Kind = "TargetCrash"
	TargetTimeout       Kind = "TargetTimeout"
	PopulationUnderflow Kind = "PopulationUnderflow"
	Init                Kind = "Init"
)

// Location pinpoints where an error originated, mirroring the
// teacher's SourceLocation (internal/errors/errors.go) but over the
// fuzzer's own subsystems instead of source lines.
type Location struct {
	Subsystem string
	Detail    string
}

// FuzzError is the fuzzer's error type. Only Init-kind errors are
// meant to propagate out of main(); every other kind is handled at the
// point it's constructed (logged, or folded into a testcase's
// outcome).
type FuzzError struct {
	Kind     Kind
	Message  string
	Location Location
	cause    error
}

func (e *FuzzError) Error() string {
	if e.Location.Subsystem != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Location.Subsystem, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FuzzError) Unwrap() error { return e.cause }

// New builds a FuzzError, wrapping cause (if any) with pkg/errors so
// the original stack is retrievable via errors.Cause.
func New(kind Kind, subsystem, detail, message string, cause error) *FuzzError {
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrap(cause, message)
	}
	return &FuzzError{
		Kind:     kind,
		Message:  message,
		Location: Location{Subsystem: subsystem, Detail: detail},
		cause:    wrapped,
	}
}

// Cause unwraps to the deepest pkg/errors-wrapped cause, or err itself
// if it carries none.
func Cause(err error) error {
	return errors.Cause(err)
}

// IsFatal reports whether err must abort the driver's main loop. Per
// spec section 7, only initialization failures are fatal; everything
// else is handled where it's produced.
func IsFatal(err error) bool {
	fe, ok := err.(*FuzzError)
	if !ok {
		return false
	}
	return fe.Kind == Init
}
