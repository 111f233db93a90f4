package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/viewfold/internal/fixture"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Verify  bool
	Timeout time.Duration
}

// ImportResult is the outcome of importing one fixture.
type ImportResult struct {
	Fixture  string            `json:"fixture"`
	Messages int               `json:"messages"`
	Refs     map[string]string `json:"refs,omitempty"`
	Verified bool              `json:"verified"`
}

// Text implements Texter.
func (r ImportResult) Text(w io.Writer) {
	fmt.Fprintf(w, "Imported %d message(s) from %s\n", r.Messages, r.Fixture)
	if r.Verified {
		fmt.Fprintln(w, "✓ All expectations met")
	}
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <fixture.yaml>",
		Short: "Append a YAML message fixture to the log",
		Long: `Append every message of a YAML fixture to the log, in order.

Messages are content-addressed, so importing the same fixture twice
leaves the log unchanged. With --verify the fixture's expect block is
checked against the folded views after import.

Exit codes:
  0 - Import succeeded (and expectations met with --verify)
  1 - An expectation did not hold
  2 - Command error (unreadable fixture, database cannot be opened, etc.)
  3 - A view did not finish replaying before --timeout

Examples:
  viewfold import --db ./viewfold.db testdata/project.yaml
  viewfold import --db ./viewfold.db --verify testdata/project.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "check the fixture's expectations after import")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", DefaultTimeout, "how long verification waits for replay")

	return cmd
}

func runImport(opts *ImportOptions, cmd *cobra.Command, path string) error {
	out := newFormatter(opts.RootOptions, cmd)

	fx, err := fixture.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load fixture", err)
	}

	s, err := openSession(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close(opts.RootOptions)

	ctx, cancel := queryContext(opts.Timeout)
	defer cancel()

	refs, err := fx.Import(ctx, s)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to import fixture", err)
	}
	out.VerboseLog("imported %d message(s) from %s", len(fx.Messages), path)

	result := ImportResult{
		Fixture:  fx.Name,
		Messages: len(fx.Messages),
		Refs:     refs,
	}

	if opts.Verify {
		if err := fx.Verify(ctx, s, refs); err != nil {
			if outErr := out.Error(CodeVerify, "expectations not met", err.Error()); outErr != nil {
				return outErr
			}
			return WrapExitError(ExitFailure, "expectations not met", err)
		}
		result.Verified = true
	}

	return out.Success(result)
}
