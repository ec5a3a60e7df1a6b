package cli

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nodebook/internal/harness"
	"github.com/roach88/nodebook/internal/ir"
	"github.com/roach88/nodebook/internal/notebook"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	After string
	File  string
}

// RunOutput is the result of running one cell.
type RunOutput struct {
	Cell      string              `json:"cell"`
	Display   string              `json:"display,omitempty"`
	Outputs   map[string]string   `json:"outputs"`
	Positions []notebook.Position `json:"positions"`
}

// RenderText prints the display value, the changed bindings and the chain.
func (o RunOutput) RenderText(w io.Writer) {
	if o.Display != "" {
		fmt.Fprintf(w, "Out[%s]: %s\n", labelOf(o.Positions, o.Cell), o.Display)
	}
	for _, name := range sortedKeys(o.Outputs) {
		fmt.Fprintf(w, "  %s = %s\n", name, o.Outputs[name])
	}
	renderPositions(w, o.Positions)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [cell-id]",
		Short: "Set a cell's code and run it",
		Long: `Place a cell, replace its code and run it.

The code is read from --file, or from stdin when --file is not given. A new
id is generated when cell-id is omitted. Without --after, an existing cell
keeps its place and a new cell is appended to the end of the chain; use
--after "" to move a cell to the head.

Example:
  echo 'x = 42' | nodebook run load
  nodebook run inc --after load --file inc.star
  nodebook --mode memory run --file scratch.star`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCell(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.After, "after", "", "place the cell after this cell id (\"\" for the head)")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the cell code from this file instead of stdin")

	return cmd
}

func runCell(opts *RunOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	code, err := readCode(cmd, opts.File)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to read code", err))
	}

	sess, err := opts.openSession(cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer opts.closeSession(sess)

	var id string
	if len(args) == 1 {
		id = args[0]
	} else {
		id = sess.NewCellID()
	}

	after := opts.After
	if !cmd.Flags().Changed("after") {
		after = defaultAfter(sess.Chain(), id)
	}

	res, err := sess.InsertAndRun(commandContext(cmd), id, after, code)
	if err != nil {
		return f.Fail(err)
	}
	return f.Success(newRunOutput(id, res, sess.Positions()))
}

// readCode reads cell code from path, or from stdin when path is empty.
func readCode(cmd *cobra.Command, path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// defaultAfter keeps an existing cell in place and appends a new one.
func defaultAfter(chain *notebook.Chain, id string) string {
	if n, ok := chain.Node(id); ok {
		return n.Prev()
	}
	nodes := chain.Nodes()
	if len(nodes) == 0 {
		return ""
	}
	return nodes[len(nodes)-1].ID()
}

func newRunOutput(id string, res *notebook.RunResult, positions []notebook.Position) RunOutput {
	out := RunOutput{
		Cell:      ir.NormalizeID(id),
		Display:   harness.Repr(res.Display),
		Outputs:   make(map[string]string, len(res.Outputs)),
		Positions: positions,
	}
	for name, v := range res.Outputs {
		out.Outputs[name] = harness.Repr(v)
	}
	return out
}

// NewRerunCommand creates the rerun command.
func NewRerunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rerun <cell-id>",
		Short: "Run a cell with its current code",
		Long: `Run an existing cell again, re-running stale cells above it first.

Example:
  nodebook rerun report`,
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

			res, err := sess.Run(commandContext(cmd), args[0])
			if err != nil {
				return f.Fail(err)
			}
			return f.Success(newRunOutput(args[0], res, sess.Positions()))
		},
	}
	return cmd
}

// labelOf returns the prompt label of id, or "?" if it is not in positions.
func labelOf(positions []notebook.Position, id string) string {
	for _, p := range positions {
		if p.ID == id {
			return p.Label
		}
	}
	return "?"
}

// renderPositions prints the chain on one line as "[label] id" entries.
func renderPositions(w io.Writer, positions []notebook.Position) {
	entries := make([]string, len(positions))
	for i, p := range positions {
		entries[i] = fmt.Sprintf("[%s] %s", p.Label, p.ID)
	}
	fmt.Fprintf(w, "chain: %s\n", strings.Join(entries, "  "))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
