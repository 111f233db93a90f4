package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// NameOptions holds flags for the name command.
type NameOptions struct {
	*RootOptions
	Viewer  string
	Owner   string
	Timeout time.Duration
}

// NameResult is the profile a viewer sees for a target.
type NameResult struct {
	Target string `json:"target"`
	Viewer string `json:"viewer,omitempty"`
	Owner  string `json:"owner,omitempty"`
	Name   string `json:"name"`
	Image  string `json:"image,omitempty"`
}

// Text implements Texter.
func (r NameResult) Text(w io.Writer) {
	fmt.Fprintf(w, "%s: %s\n", r.Target, r.Name)
	if r.Image != "" {
		fmt.Fprintf(w, "  Image: %s\n", r.Image)
	}
}

// NewNameCommand creates the name command.
func NewNameCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NameOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "name <target>",
		Short: "Resolve the display name of an identity or message",
		Long: `Resolve the name and image a viewer sees for a target.

Assertions are ranked: the target's own, then the owner's (--owner,
for things like repositories), then the viewer's, then the most recent
from anyone else. With no assertion the truncated id is shown.

Examples:
  viewfold name --db ./viewfold.db @alice.ed25519
  viewfold name --db ./viewfold.db --viewer @me.ed25519 @alice.ed25519
  viewfold name --db ./viewfold.db --owner @alice.ed25519 %repo.sha256`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runName(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Viewer, "viewer", "", "identity whose naming view is used")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "identity that owns the target (defaults to the target)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", DefaultTimeout, "how long to wait for replay")

	return cmd
}

func runName(opts *NameOptions, cmd *cobra.Command, target string) error {
	out := newFormatter(opts.RootOptions, cmd)

	s, err := openSession(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close(opts.RootOptions)

	ctx, cancel := queryContext(opts.Timeout)
	defer cancel()

	p, err := s.Profile(ctx, opts.Viewer, target, opts.Owner)
	if err != nil {
		return out.QueryFailed("name "+target, err)
	}

	return out.Success(NameResult{
		Target: target,
		Viewer: opts.Viewer,
		Owner:  opts.Owner,
		Name:   p.Name,
		Image:  p.Image,
	})
}
