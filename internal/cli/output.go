package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/nodebook/internal/analysis"
	"github.com/roach88/nodebook/internal/codec"
	"github.com/roach88/nodebook/internal/compiler"
	"github.com/roach88/nodebook/internal/export"
	"github.com/roach88/nodebook/internal/notebook"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // A cell or scenario failed
	ExitCommandError = 2 // Command error (bad config, unreadable file, unknown cell, etc.)
)

// Error codes reported in CLIError.Code.
const (
	CodeCommand           = "E001" // command or configuration error
	CodeNotebook          = "E002" // notebook document does not compile or validate
	CodeSyntax            = "E200"
	CodeUndefinedName     = "E201"
	CodeExecution         = "E202"
	CodeSerialization     = "E203"
	CodeUnknownCell       = "E204"
	CodeStale             = "E205"
	CodeMissingDependency = "E206"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classify maps an error to its CLI error code, exit code and details.
func classify(err error) (string, int, any) {
	var (
		undefined *notebook.UndefinedNameError
		execErr   *notebook.ExecutionError
		missing   *export.MissingDependencyError
		compile   *compiler.CompileError
	)
	switch {
	case analysis.IsSyntaxError(err):
		return CodeSyntax, ExitFailure, nil
	case errors.As(err, &undefined):
		return CodeUndefinedName, ExitFailure, map[string]string{"cell": undefined.Node, "name": undefined.Name}
	case codec.IsSerializationError(err):
		return CodeSerialization, ExitFailure, nil
	case errors.As(err, &execErr):
		return CodeExecution, ExitFailure, execErr.Backtrace()
	case errors.Is(err, notebook.ErrUnknownNode):
		return CodeUnknownCell, ExitCommandError, nil
	case errors.Is(err, export.ErrStale):
		return CodeStale, ExitFailure, nil
	case errors.As(err, &missing):
		return CodeMissingDependency, ExitFailure, missing.Missing
	case errors.As(err, &compile):
		return CodeNotebook, ExitCommandError, nil
	default:
		return CodeCommand, GetExitCode(err), nil
	}
}

// textRenderer is implemented by command results with a custom text form.
type textRenderer interface {
	RenderText(w io.Writer)
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E200", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	if r, ok := data.(textRenderer); ok {
		r.RenderText(f.Writer)
		return nil
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		if s, ok := details.(string); ok {
			fmt.Fprintf(f.Writer, "Details:\n%s\n", s)
		} else {
			fmt.Fprintf(f.Writer, "Details: %v\n", details)
		}
	}
	return nil
}

// Fail reports err and returns the ExitError the command should return.
func (f *OutputFormatter) Fail(err error) error {
	code, exit, details := classify(err)
	if outErr := f.Error(code, err.Error(), details); outErr != nil {
		return outErr
	}
	return WrapExitError(exit, code, err)
}
