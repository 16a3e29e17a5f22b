package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe the local ledger",
		Long: `Delete every cached entity, queued mutation and history entry.

Refuses while unsynced mutations exist unless --force is given; forcing
discards them for good.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.Service.Reset(commandContext(cmd), force)
			if err != nil {
				return opError("reset refused", err)
			}
			return s.out.Render(res, func(w io.Writer) {
				fmt.Fprintf(w, "removed %d entities, %d mutations, %d history entries\n",
					res.Entities, res.Mutations, res.History)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "discard unsynced mutations")
	return cmd
}
