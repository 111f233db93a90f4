package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// OpenOptions holds flags for the open command.
type OpenOptions struct {
	*RootOptions
	Timeout time.Duration
}

// OpenResult is a project's open-item count.
type OpenResult struct {
	Project      string `json:"project"`
	Issues       int    `json:"issues"`
	PullRequests int    `json:"pull_requests"`
	Total        int    `json:"total"`
}

// Text implements Texter.
func (r OpenResult) Text(w io.Writer) {
	fmt.Fprintf(w, "Open items: %s\n", r.Project)
	fmt.Fprintf(w, "  Issues: %d\n", r.Issues)
	fmt.Fprintf(w, "  Pull requests: %d\n", r.PullRequests)
	fmt.Fprintf(w, "  Total: %d\n", r.Total)
}

// NewOpenCommand creates the open command.
func NewOpenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "open <project>",
		Short: "Count a project's open issues and pull requests",
		Long: `Replay every issue, pull request and status edit in the log and
count the items still open for one project.

Examples:
  viewfold open --db ./viewfold.db %repo.sha256
  viewfold open --db ./viewfold.db --format json %repo.sha256`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpen(opts, cmd, args[0])
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", DefaultTimeout, "how long to wait for replay")

	return cmd
}

func runOpen(opts *OpenOptions, cmd *cobra.Command, project string) error {
	out := newFormatter(opts.RootOptions, cmd)

	s, err := openSession(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close(opts.RootOptions)

	ctx, cancel := queryContext(opts.Timeout)
	defer cancel()

	c, err := s.WaitOpenCount(ctx, project)
	if err != nil {
		return out.QueryFailed("open "+project, err)
	}

	return out.Success(OpenResult{
		Project:      project,
		Issues:       c.Issues,
		PullRequests: c.PullRequests,
		Total:        c.Total(),
	})
}
