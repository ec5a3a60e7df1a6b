package notebook

import (
	"errors"
	"fmt"

	"go.starlark.net/starlark"
)

// ErrUnknownNode is returned when an operation names a node the chain does
// not contain.
var ErrUnknownNode = errors.New("unknown node")

// UndefinedNameError reports an input with no defining ancestor that is not
// a builtin. Nothing is executed when it is returned for the target node.
type UndefinedNameError struct {
	// Node is the node whose input could not be resolved.
	Node string

	// Name is the unresolved variable.
	Name string
}

func (e *UndefinedNameError) Error() string {
	return fmt.Sprintf("node %s: name %q is not defined", e.Node, e.Name)
}

// ExecutionError wraps a failure raised while executing a cell.
type ExecutionError struct {
	Node string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Node, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Backtrace returns the interpreter backtrace when the failure came from a
// running cell, or the plain message otherwise.
func (e *ExecutionError) Backtrace() string {
	var ee *starlark.EvalError
	if errors.As(e.Err, &ee) {
		return ee.Backtrace()
	}
	return e.Err.Error()
}

// IsUndefinedNameError returns true if err is or wraps an UndefinedNameError.
func IsUndefinedNameError(err error) bool {
	var ue *UndefinedNameError
	return errors.As(err, &ue)
}

// IsExecutionError returns true if err is or wraps an ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
