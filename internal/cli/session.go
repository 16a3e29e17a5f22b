package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/app"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/config"
)

// session is an opened application plus the output formatter for one
// command invocation.
type session struct {
	*app.App
	out *OutputFormatter
}

// loadConfig reads the config and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Ledger != "" {
		cfg.Ledger.Path = opts.Ledger
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if !opts.Verbose && cmd.Name() != "run" {
		// One-shot commands stay quiet unless asked.
		logger = slog.New(slog.DiscardHandler)
	}

	a, err := app.New(commandContext(cmd), cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	return &session{
		App: a,
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
	}, nil
}

func (s *session) close() {
	if err := s.Close(); err != nil {
		s.Logger.Error("error closing ledger", "error", err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
