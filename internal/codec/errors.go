package codec

import (
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every Decode failure caused by the payload
// itself rather than by the runtime.
var ErrMalformed = errors.New("malformed payload")

// SerializationError reports a value the codec cannot encode.
type SerializationError struct {
	// Type is the Starlark type name of the offending value.
	Type string

	// Path locates the value inside the root value, e.g. "[2].f".
	// Empty for the root itself.
	Path string

	Reason string
	Err    error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	at := ""
	if e.Path != "" {
		at = " at " + e.Path
	}
	msg := fmt.Sprintf("cannot serialize %s%s: %s", e.Type, at, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// IsSerializationError returns true if err is (or wraps) a *SerializationError.
func IsSerializationError(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
