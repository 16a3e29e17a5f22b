package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sync daemon",
		Long: `Start the sync daemon: connectivity prober and sync scheduler.

Queued mutations are delivered whenever the terminal is online. With no
remote configured the daemon uses an in-memory store, served over HTTP
when remote.listen is set.

Example:
  posync run --config ./posync.yaml
  POSYNC_REMOTE_LISTEN=127.0.0.1:8088 posync run --ledger /tmp/dev.db -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(rootOpts, cmd)
		},
	}
	return cmd
}

func runDaemon(opts *RootOptions, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			s.Logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if opts.Format == "text" {
		fmt.Fprintln(cmd.OutOrStdout(), "Sync daemon started. Press Ctrl-C to stop.")
	}
	if err := s.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "sync daemon failed", err)
	}
	return nil
}
