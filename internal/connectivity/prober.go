package connectivity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Default probe settings.
const (
	DefaultProbeInterval = 5 * time.Second
	DefaultProbeTimeout  = 2 * time.Second
)

// Prober derives connectivity from periodic HTTP health checks. Any response
// below 500 counts as online; a transport error or 5xx counts as offline.
// It is best effort: the scheduler still handles transient errors itself.
type Prober struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
	Monitor  *Monitor
	Logger   *slog.Logger
}

// Run probes until ctx is cancelled, reporting each result to the monitor.
// The first probe runs immediately.
func (p *Prober) Run(ctx context.Context) error {
	if p.Monitor == nil {
		return fmt.Errorf("prober: monitor is required")
	}
	if p.URL == "" {
		return fmt.Errorf("prober: url is required")
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultProbeInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.Monitor.Set(p.Probe(ctx))

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Probe performs one health check.
func (p *Prober) Probe(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		p.logger().Debug("probe request", "error", err)
		return false
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		p.logger().Debug("probe failed", "url", p.URL, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode < http.StatusInternalServerError
}

func (p *Prober) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger
}
