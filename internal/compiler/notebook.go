package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Notebook is a compiled notebook document: cells in the order they are
// applied.
type Notebook struct {
	Name  string
	Cells []Cell
}

// Cell is one cell of a notebook document.
type Cell struct {
	ID string

	// After is the id of the cell this one is placed after, "" for the head.
	// When the document omits it, the cell follows the previous cell.
	After string

	Code string
	Pos  token.Pos
}

// LoadNotebook reads and compiles a CUE notebook document.
func LoadNotebook(path string) (*Notebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read notebook: %w", err)
	}
	v := cuecontext.New().CompileBytes(data, cue.Filename(path))
	return CompileNotebook(v)
}

// CompileNotebook parses a CUE value into a Notebook.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The document shape is:
//
//	name: "analysis"            // optional
//	cells: [
//		{id: "load", code: "x = 42"},
//		{id: "inc", code: "x += 10"},
//		{id: "first", after: "", code: "y = 1"},
//	]
func CompileNotebook(v cue.Value) (*Notebook, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	nb := &Notebook{}

	if nameVal := v.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		nb.Name = name
	}

	cellsVal := v.LookupPath(cue.ParsePath("cells"))
	if !cellsVal.Exists() {
		return nil, &CompileError{
			Field:   "cells",
			Message: "cells is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := cellsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	prev := ""
	for i := 0; iter.Next(); i++ {
		cell, err := parseCell(iter.Value(), i, prev)
		if err != nil {
			return nil, err
		}
		nb.Cells = append(nb.Cells, cell)
		prev = cell.ID
	}

	if len(nb.Cells) == 0 {
		return nil, &CompileError{
			Field:   "cells",
			Message: "at least one cell is required",
			Pos:     cellsVal.Pos(),
		}
	}

	return nb, nil
}

// parseCell parses one entry of the cells list.
func parseCell(v cue.Value, index int, prev string) (Cell, error) {
	cell := Cell{Pos: v.Pos(), After: prev}
	field := func(name string) string { return fmt.Sprintf("cells[%d].%s", index, name) }

	idVal := v.LookupPath(cue.ParsePath("id"))
	if !idVal.Exists() {
		return cell, &CompileError{Field: field("id"), Message: "id is required", Pos: v.Pos()}
	}
	id, err := idVal.String()
	if err != nil {
		return cell, formatCUEError(err)
	}
	cell.ID = id

	codeVal := v.LookupPath(cue.ParsePath("code"))
	if !codeVal.Exists() {
		return cell, &CompileError{Field: field("code"), Message: "code is required", Pos: v.Pos()}
	}
	code, err := codeVal.String()
	if err != nil {
		return cell, formatCUEError(err)
	}
	cell.Code = code

	if afterVal := v.LookupPath(cue.ParsePath("after")); afterVal.Exists() {
		after, err := afterVal.String()
		if err != nil {
			return cell, formatCUEError(err)
		}
		cell.After = after
	}

	return cell, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
