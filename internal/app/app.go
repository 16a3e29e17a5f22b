// Package app assembles the sync core from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/config"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/conflict"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/connectivity"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/engine"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/gate"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/ledger"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/remote"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/service"
)

const shutdownTimeout = 5 * time.Second

// App is the wired component graph.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Ledger    *ledger.Ledger
	Monitor   *connectivity.Monitor
	Remote    remote.Client
	Scheduler *engine.Scheduler
	Service   *service.Service

	// Memory is set when no remote base URL is configured.
	Memory *remote.Memory
	prober *connectivity.Prober
}

// New opens the ledger and wires every component. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	policy, err := model.ParseOversellPolicy(cfg.Ledger.OversellPolicy)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	rate, err := cfg.Loyalty.Rate()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{Config: cfg, Logger: logger}

	if cfg.Remote.BaseURL == "" {
		a.Memory = remote.NewMemory(time.Now)
		a.Remote = a.Memory
		logger.Warn("no remote configured, using in-memory store")
	} else {
		hc, err := remote.NewHTTPClient(cfg.Remote.BaseURL,
			remote.WithToken(cfg.Remote.Token),
			remote.WithHTTPClient(&http.Client{Timeout: cfg.Remote.Timeout}),
		)
		if err != nil {
			return nil, fmt.Errorf("app: remote: %w", err)
		}
		a.Remote = hc
	}

	// Without a prober the terminal assumes it is online and relies on
	// transient errors to back off.
	a.Monitor = connectivity.NewMonitor(cfg.Connectivity.ProbeURL == "",
		connectivity.WithMonitorLogger(logger))
	if cfg.Connectivity.ProbeURL != "" {
		a.prober = &connectivity.Prober{
			URL:      cfg.Connectivity.ProbeURL,
			Interval: cfg.Connectivity.ProbeInterval,
			Timeout:  cfg.Connectivity.ProbeTimeout,
			Monitor:  a.Monitor,
			Logger:   logger,
		}
	}

	a.Ledger, err = ledger.Open(ctx, cfg.Ledger.Path,
		ledger.WithOversellPolicy(policy),
		ledger.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	resolver := conflict.NewResolver(a.Remote, policy, logger)
	a.Scheduler = engine.New(a.Ledger, resolver, a.Monitor, engine.Config{
		BaseDelay:      cfg.Sync.BaseDelay,
		MaxDelay:       cfg.Sync.MaxDelay,
		MaxAttempts:    cfg.Sync.MaxAttempts,
		SafetyInterval: cfg.Sync.SafetyInterval,
		SettleDelay:    cfg.Sync.SettleDelay,
	}, engine.WithLogger(logger))

	g := gate.New(a.Ledger, a.Remote, a.Monitor, time.Now, logger)
	a.Service = service.New(a.Ledger, g, a.Scheduler, a.Monitor, a.Remote,
		service.WithPointsPerUnit(rate),
		service.WithLogger(logger),
	)
	return a, nil
}

// Run runs the scheduler, the prober and, for the in-memory store with a
// listen address, its HTTP surface until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	var ln net.Listener
	if a.Memory != nil && a.Config.Remote.Listen != "" {
		var err error
		if ln, err = net.Listen("tcp", a.Config.Remote.Listen); err != nil {
			return fmt.Errorf("app: listen %s: %w", a.Config.Remote.Listen, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.Scheduler.Run(ctx) })
	if a.prober != nil {
		g.Go(func() error { return a.prober.Run(ctx) })
	}
	if ln != nil {
		srv := &http.Server{
			Handler:           remote.Handler(a.Memory, a.Logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		a.Logger.Info("serving in-memory remote", "addr", ln.Addr().String())
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	a.Logger.Info("sync daemon started",
		slog.Bool("online", a.Monitor.Online()),
		slog.String("ledger", a.Config.Ledger.Path),
	)
	err := g.Wait()
	a.Logger.Info("sync daemon stopped")
	return err
}

// Close releases the ledger.
func (a *App) Close() error {
	return a.Ledger.Close()
}
