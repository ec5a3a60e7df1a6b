package compiler

import (
	"fmt"

	"github.com/roach88/nodebook/internal/analysis"
)

// Validation error codes (E100-E199)
const (
	ErrEmptyCellID     = "E101" // cell id is empty
	ErrDuplicateCellID = "E102" // two cells share an id
	ErrUnknownAfter    = "E103" // after names no earlier cell
	ErrCellSyntax      = "E104" // cell code does not parse
)

// ValidationError represents a notebook validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled notebook.
// Returns all errors found (does not fail-fast).
func Validate(nb *Notebook) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)

	for i, cell := range nb.Cells {
		field := fmt.Sprintf("cells[%d]", i)

		if cell.ID == "" {
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: "id must not be empty",
				Code:    ErrEmptyCellID,
				Line:    cell.Pos.Line(),
			})
		} else if seen[cell.ID] {
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate cell id %q", cell.ID),
				Code:    ErrDuplicateCellID,
				Line:    cell.Pos.Line(),
			})
		}

		if cell.After != "" && !seen[cell.After] {
			errs = append(errs, ValidationError{
				Field:   field + ".after",
				Message: fmt.Sprintf("%q is not an earlier cell", cell.After),
				Code:    ErrUnknownAfter,
				Line:    cell.Pos.Line(),
			})
		}

		if _, err := analysis.Analyze(cell.Code); err != nil {
			errs = append(errs, ValidationError{
				Field:   field + ".code",
				Message: err.Error(),
				Code:    ErrCellSyntax,
				Line:    cell.Pos.Line(),
			})
		}

		seen[cell.ID] = true
	}

	return errs
}
