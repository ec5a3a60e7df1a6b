package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nodebook/internal/notebook"
)

// PositionsOutput lists the chain in order with prompt labels.
type PositionsOutput struct {
	Session   string              `json:"session"`
	Positions []notebook.Position `json:"positions"`
}

// RenderText prints one "[label] id" line per cell.
func (o PositionsOutput) RenderText(w io.Writer) {
	if len(o.Positions) == 0 {
		fmt.Fprintln(w, "No cells.")
		return
	}
	for _, p := range o.Positions {
		fmt.Fprintf(w, "[%s] %s\n", p.Label, p.ID)
	}
}

// NewPositionsCommand creates the positions command.
func NewPositionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List cells with their prompt labels",
		Long: `List the cells of the session in chain order.

Valid cells are labelled with their 1-based position; cells that must be
re-run are labelled ` + notebook.InvalidLabel + `.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			sess, err := rootOpts.openSession(cmd)
			if err != nil {
				return f.Fail(err)
			}
			defer rootOpts.closeSession(sess)

			return f.Success(PositionsOutput{
				Session:   sess.ID(),
				Positions: sess.Positions(),
			})
		},
	}
	return cmd
}

// ShowOutput describes one cell.
type ShowOutput struct {
	ID            string            `json:"id"`
	Label         string            `json:"label"`
	After         string            `json:"after"`
	Valid         bool              `json:"valid"`
	Code          string            `json:"code"`
	StaticInputs  []string          `json:"static_inputs"`
	StaticImports []string          `json:"static_imports"`
	Inputs        map[string]string `json:"inputs"`
	Outputs       map[string]string `json:"outputs"`
}

// RenderText prints the cell header, its code and its bindings.
func (o ShowOutput) RenderText(w io.Writer) {
	after := o.After
	if after == "" {
		after = "(head)"
	}
	fmt.Fprintf(w, "In[%s]: %s  after %s  valid=%t\n", o.Label, o.ID, after, o.Valid)
	for _, line := range strings.Split(strings.TrimRight(o.Code, "\n"), "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
	if len(o.StaticImports) > 0 {
		fmt.Fprintf(w, "imports: %s\n", strings.Join(o.StaticImports, ", "))
	}
	renderBindings(w, "inputs", o.Inputs)
	renderBindings(w, "outputs", o.Outputs)
}

func renderBindings(w io.Writer, title string, bindings map[string]string) {
	if len(bindings) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, name := range sortedKeys(bindings) {
		fmt.Fprintf(w, "  %s  %s\n", name, shortHash(bindings[name]))
	}
}

// shortHash abbreviates a content hash for display.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <cell-id>",
		Short: "Show a cell's code, names and bindings",
		Long: `Show one cell: its code, the names it reads and imports, and the
content hashes of the values it read and produced on its last run.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			sess, err := rootOpts.openSession(cmd)
			if err != nil {
				return f.Fail(err)
			}
			defer rootOpts.closeSession(sess)

			n, ok := sess.Chain().Node(args[0])
			if !ok {
				return f.Fail(fmt.Errorf("show %q: %w", args[0], notebook.ErrUnknownNode))
			}
			return f.Success(ShowOutput{
				ID:            n.ID(),
				Label:         labelOf(sess.Positions(), n.ID()),
				After:         n.Prev(),
				Valid:         n.Valid(),
				Code:          n.Code(),
				StaticInputs:  n.StaticInputs(),
				StaticImports: n.StaticImports(),
				Inputs:        n.InputBindings(),
				Outputs:       n.OutputBindings(),
			})
		},
	}
	return cmd
}
