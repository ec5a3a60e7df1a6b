package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/nodebook/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string // scenario filter (glob pattern on the file name)
}

// TestOutput holds the overall test result.
type TestOutput struct {
	*harness.SuiteResult
}

// RenderText prints failures followed by a summary line.
func (o TestOutput) RenderText(w io.Writer) {
	for _, failure := range o.Failures {
		name := failure.Scenario
		if name == "" {
			name = filepath.Base(failure.ScenarioPath)
		}
		fmt.Fprintf(w, "FAIL %s (%s)\n", name, failure.ScenarioPath)
		for _, msg := range failure.Errors {
			fmt.Fprintf(w, "  %s\n", msg)
		}
	}
	fmt.Fprintf(w, "%d passed, %d failed, %d total\n", o.Passed, o.Failed, o.TotalScenarios)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario-path>...",
		Short: "Run notebook scenarios",
		Long: `Run YAML scenarios against fresh in-memory sessions.

Each path is a scenario file or a directory of *.yaml and *.yml files.
Scenarios never touch the configured session.

Example:
  nodebook test ./scenarios
  nodebook test ./scenarios --filter 'reorder_*'
  nodebook test heal.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenario files whose name matches this glob")

	return cmd
}

func runTests(opts *TestOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	var paths []string
	for _, arg := range args {
		found, err := harness.DiscoverScenarios(arg)
		if err != nil {
			return f.Fail(WrapExitError(ExitCommandError, "failed to find scenarios", err))
		}
		for _, p := range found {
			if opts.Filter != "" {
				ok, err := filepath.Match(opts.Filter, filepath.Base(p))
				if err != nil {
					return f.Fail(WrapExitError(ExitCommandError, "invalid filter", err))
				}
				if !ok {
					continue
				}
			}
			paths = append(paths, p)
		}
	}

	opts.Logger().Debug("running scenarios", "count", len(paths))
	result := harness.RunSuite(commandContext(cmd), paths)

	if err := f.Success(TestOutput{SuiteResult: result}); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.TotalScenarios))
	}
	return nil
}
