package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/viewfold/internal/engine"
)

// TallyOptions holds flags for the tally command.
type TallyOptions struct {
	*RootOptions
	Viewer  string
	Timeout time.Duration
}

// TallyResult is one target's tally with voter names resolved.
type TallyResult struct {
	Target     string         `json:"target"`
	Upvotes    int            `json:"upvotes"`
	Downvotes  int            `json:"downvotes"`
	Upvoters   []engine.Voter `json:"upvoters"`
	Downvoters []engine.Voter `json:"downvoters"`
}

// Text implements Texter.
func (r TallyResult) Text(w io.Writer) {
	fmt.Fprintf(w, "Tally: %s\n", r.Target)
	fmt.Fprintf(w, "  Upvotes: %d\n", r.Upvotes)
	for _, v := range r.Upvoters {
		fmt.Fprintf(w, "    + %s (%s)\n", v.Name, v.ID)
	}
	fmt.Fprintf(w, "  Downvotes: %d\n", r.Downvotes)
	for _, v := range r.Downvoters {
		fmt.Fprintf(w, "    - %s (%s)\n", v.Name, v.ID)
	}
}

// NewTallyCommand creates the tally command.
func NewTallyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TallyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tally <target>",
		Short: "Show the vote tally for a message",
		Long: `Fold every vote on a message and show who voted which way.

Each author counts once, with their latest vote. Voter names are
resolved as seen by --viewer.

Examples:
  viewfold tally --db ./viewfold.db %post.sha256
  viewfold tally --db ./viewfold.db --viewer @me.ed25519 %post.sha256`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTally(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Viewer, "viewer", "", "identity whose naming view is used for voters")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", DefaultTimeout, "how long to wait for replay")

	return cmd
}

func runTally(opts *TallyOptions, cmd *cobra.Command, target string) error {
	out := newFormatter(opts.RootOptions, cmd)

	s, err := openSession(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close(opts.RootOptions)

	ctx, cancel := queryContext(opts.Timeout)
	defer cancel()

	t, err := s.Tally(ctx, target)
	if err != nil {
		return out.QueryFailed("tally "+target, err)
	}
	voters, err := s.Voters(ctx, opts.Viewer, target)
	if err != nil {
		return out.QueryFailed("voters "+target, err)
	}

	return out.Success(TallyResult{
		Target:     target,
		Upvotes:    t.Upvotes,
		Downvotes:  t.Downvotes,
		Upvoters:   voters.Up,
		Downvoters: voters.Down,
	})
}
