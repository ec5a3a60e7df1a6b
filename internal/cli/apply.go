package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nodebook/internal/compiler"
	"github.com/roach88/nodebook/internal/notebook"
)

// ApplyOutput reports the cells run from a notebook document.
type ApplyOutput struct {
	Notebook  string              `json:"notebook,omitempty"`
	Cells     []CellResult        `json:"cells"`
	Failed    int                 `json:"failed"`
	Positions []notebook.Position `json:"positions"`
}

// CellResult is the outcome of one document cell.
type CellResult struct {
	ID      string            `json:"id"`
	Display string            `json:"display,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
	Error   *CLIError         `json:"error,omitempty"`
}

// RenderText prints each cell outcome followed by the chain.
func (o ApplyOutput) RenderText(w io.Writer) {
	for _, c := range o.Cells {
		if c.Error != nil {
			fmt.Fprintf(w, "%s: Error [%s]: %s\n", c.ID, c.Error.Code, c.Error.Message)
			continue
		}
		if c.Display != "" {
			fmt.Fprintf(w, "%s: Out[%s]: %s\n", c.ID, labelOf(o.Positions, c.ID), c.Display)
		} else {
			fmt.Fprintf(w, "%s: ok\n", c.ID)
		}
		for _, name := range sortedKeys(c.Outputs) {
			fmt.Fprintf(w, "  %s = %s\n", name, c.Outputs[name])
		}
	}
	renderPositions(w, o.Positions)
	fmt.Fprintf(w, "%d cells, %d failed\n", len(o.Cells), o.Failed)
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <notebook.cue>",
		Short: "Run the cells of a CUE notebook document",
		Long: `Compile a CUE notebook document and run its cells in order.

Each cell is placed after the cell listed before it unless it names another
cell in "after" ("" for the head). Cells that fail are reported and the
remaining cells still run.

Example:
  nodebook apply analysis.cue
  nodebook --mode memory apply analysis.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return applyNotebook(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func applyNotebook(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	nb, err := compiler.LoadNotebook(path)
	if err != nil {
		return f.Fail(err)
	}
	if errs := compiler.Validate(nb); len(errs) > 0 {
		lines := make([]string, len(errs))
		for i, e := range errs {
			lines[i] = e.Error()
		}
		msg := "notebook validation failed:\n  " + strings.Join(lines, "\n  ")
		if err := f.Error(CodeNotebook, msg, errs); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, "notebook validation failed")
	}

	sess, err := opts.openSession(cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer opts.closeSession(sess)

	ctx := commandContext(cmd)
	out := ApplyOutput{Notebook: nb.Name, Cells: make([]CellResult, 0, len(nb.Cells))}
	for _, cell := range nb.Cells {
		opts.Logger().Debug("applying cell", "cell", cell.ID, "after", cell.After)

		res, err := sess.InsertAndRun(ctx, cell.ID, cell.After, cell.Code)
		if err != nil {
			code, _, details := classify(err)
			out.Cells = append(out.Cells, CellResult{
				ID:    cell.ID,
				Error: &CLIError{Code: code, Message: err.Error(), Details: details},
			})
			out.Failed++
			continue
		}
		ro := newRunOutput(cell.ID, res, nil)
		out.Cells = append(out.Cells, CellResult{ID: ro.Cell, Display: ro.Display, Outputs: ro.Outputs})
	}
	out.Positions = sess.Positions()

	if err := f.Success(out); err != nil {
		return err
	}
	if out.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d cells failed", out.Failed, len(out.Cells)))
	}
	return nil
}
