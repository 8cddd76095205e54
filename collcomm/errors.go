package collcomm

import (
	"fmt"

	"github.com/pkg/errors"
)

// A Code classifies why a planning or execution step
// failed.
type Code int

const (
	CodeSuccess Code = iota
	CodeParameter
	CodeInternal
	CodeNotFound
	CodeNotSupported
	CodeTransientTeardown
	CodeUnknown
)

// String returns the name of the code.
func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "Success"
	case CodeParameter:
		return "ParameterError"
	case CodeInternal:
		return "InternalInvariantViolation"
	case CodeNotFound:
		return "NotFound"
	case CodeNotSupported:
		return "NotSupported"
	case CodeTransientTeardown:
		return "TransientTeardown"
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

var (
	ErrParameter         = errors.New("parameter error")
	ErrInternal          = errors.New("internal invariant violation")
	ErrNotFound          = errors.New("not found")
	ErrNotSupported      = errors.New("not supported")
	ErrTransientTeardown = errors.New("communicator torn down")
)

// ParameterErrorf reports malformed input: size
// mismatches, invalid peers, self-connections.
func ParameterErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrParameter, format, args...)
}

// InternalErrorf reports an impossible state.
func InternalErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInternal, format, args...)
}

// NotFoundErrorf reports a rank or tag lookup miss.
func NotFoundErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// NotSupportedErrorf reports a pattern or mode that is
// not implemented on the requested path.
func NotSupportedErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNotSupported, format, args...)
}

// TeardownErrorf reports that a peer communicator was
// destroyed while an operation was in flight.
func TeardownErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrTransientTeardown, format, args...)
}

// IsTransientTeardown checks if the operation failed
// only because the communicator is being torn down.
// In that case the communicator state is not corrupted
// and the failure needs no retry.
func IsTransientTeardown(err error) bool {
	return errors.Is(err, ErrTransientTeardown)
}

// CodeOf classifies an error.
// A nil error yields CodeSuccess.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrTransientTeardown):
		return CodeTransientTeardown
	case errors.Is(err, ErrParameter):
		return CodeParameter
	case errors.Is(err, ErrInternal):
		return CodeInternal
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNotSupported):
		return CodeNotSupported
	}
	return CodeUnknown
}
