package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewDeadLetterCommand creates the deadletter command group.
func NewDeadLetterCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dl"},
		Short:   "Inspect and resolve mutations that failed to sync",
	}
	cmd.AddCommand(newDeadLetterListCommand(rootOpts))
	cmd.AddCommand(newDeadLetterRetryCommand(rootOpts))
	cmd.AddCommand(newDeadLetterDismissCommand(rootOpts))
	return cmd
}

func newDeadLetterListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List dead letters",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			dead, err := s.Service.DeadLetters(commandContext(cmd))
			if err != nil {
				return opError("list failed", err)
			}
			return s.out.Render(dead, func(w io.Writer) {
				if len(dead) == 0 {
					fmt.Fprintln(w, "No dead letters.")
					return
				}
				for _, m := range dead {
					fmt.Fprintf(w, "%s  %-14s %-22s %-22s attempts=%d  %s\n",
						m.ID, m.Kind, m.Target, m.Reason, m.AttemptCount, m.Payload)
				}
			})
		},
	}
}

func newDeadLetterRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "retry <mutation-id>",
		Short:         "Requeue a dead letter with a fresh retry budget",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			m, err := s.Service.RetryDeadLetter(commandContext(cmd), args[0])
			if err != nil {
				return opError("retry failed", err)
			}
			return s.out.Render(m, func(w io.Writer) {
				fmt.Fprintf(w, "%s requeued\n", m.ID)
			})
		},
	}
}

func newDeadLetterDismissCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "dismiss <mutation-id>",
		Short:         "Give up on a dead letter",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.Service.DismissDeadLetter(commandContext(cmd), args[0]); err != nil {
				return opError("dismiss failed", err)
			}
			return s.out.Render(map[string]string{"id": args[0], "outcome": "dismissed"}, func(w io.Writer) {
				fmt.Fprintf(w, "%s dismissed\n", args[0])
			})
		},
	}
}
