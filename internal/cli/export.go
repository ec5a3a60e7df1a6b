package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/nodebook/internal/export"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Main   string
	NoCall bool
	Output string
}

// ExportOutput is the exported script.
type ExportOutput struct {
	Cell   string `json:"cell"`
	Script string `json:"script"`
}

// RenderText prints the script as is.
func (o ExportOutput) RenderText(w io.Writer) {
	fmt.Fprint(w, o.Script)
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <cell-id>",
		Short: "Export a cell and the cells it depends on as a script",
		Long: `Write a standalone Starlark script that recomputes a cell.

Only the cells whose values the target transitively reads are included, each
as a function of its inputs, and a main function calls them in chain order.
The target must be valid.

Example:
  nodebook export report > report.star
  nodebook export report --main run --no-call -o report.star`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportCell(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Main, "main", "main", "name of the entry function")
	cmd.Flags().BoolVar(&opts.NoCall, "no-call", false, "omit the call of the entry function")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the script to this file")

	return cmd
}

func exportCell(opts *ExportOptions, id string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	sess, err := opts.openSession(cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer opts.closeSession(sess)

	script, err := sess.Export(id, export.Options{Main: opts.Main, NoCall: opts.NoCall})
	if err != nil {
		return f.Fail(err)
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, []byte(script), 0o644); err != nil {
			return f.Fail(WrapExitError(ExitCommandError, "failed to write script", err))
		}
		opts.Logger().Info("exported cell", "cell", id, "path", opts.Output)
		return f.Success(fmt.Sprintf("Exported %s to %s", id, opts.Output))
	}
	return f.Success(ExportOutput{Cell: id, Script: script})
}
