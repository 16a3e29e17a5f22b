package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		Long: `Show the number of pending and dead-lettered mutations and the time of the
last successful sync.

Exits 1 when dead letters need attention.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			st, err := s.Service.GetSyncStatus(commandContext(cmd))
			if err != nil {
				return opError("status failed", err)
			}
			if err := s.out.Render(st, func(w io.Writer) {
				fmt.Fprintf(w, "pending: %d\n", st.PendingCount)
				fmt.Fprintf(w, "failed:  %d\n", st.FailedCount)
				if st.LastSyncAt != nil {
					fmt.Fprintf(w, "last sync: %s\n", st.LastSyncAt.Format(time.RFC3339))
				} else {
					fmt.Fprintln(w, "last sync: never")
				}
			}); err != nil {
				return err
			}
			if st.FailedCount > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d dead letters need attention", st.FailedCount))
			}
			return nil
		},
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one drain pass now",
		Long: `Deliver queued mutations until the queue is empty, the terminal goes
offline or only dead letters remain. Transient failures are retried with
backoff inside the pass.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()
			ctx := commandContext(cmd)

			if err := s.Service.Sync(ctx); err != nil {
				return opError("sync failed", err)
			}
			st, err := s.Service.GetSyncStatus(ctx)
			if err != nil {
				return opError("status failed", err)
			}
			return s.out.Render(st, func(w io.Writer) {
				fmt.Fprintf(w, "applied %d, superseded %d, failed %d; %d still pending\n",
					st.Stats.Applied, st.Stats.Superseded, st.Stats.Failed, st.PendingCount)
			})
		},
	}
}
