package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/conflict"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/connectivity"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/ledger"
)

// Scheduler defaults.
const (
	DefaultSafetyInterval = 30 * time.Second
	DefaultSettleDelay    = 250 * time.Millisecond
)

// Config tunes retry and trigger timing.
type Config struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int
	SafetyInterval time.Duration
	// SettleDelay debounces online transitions. Zero drains immediately.
	SettleDelay time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		MaxAttempts:    DefaultMaxAttempts,
		SafetyInterval: DefaultSafetyInterval,
		SettleDelay:    DefaultSettleDelay,
	}
}

// Scheduler drains the ledger into the remote while online.
//
// Thread-safety model:
//   - Trigger(), State(), Stats(): safe from any goroutine
//   - DrainOnce(): safe from any goroutine; concurrent calls are absorbed
//   - Run(): must be called from exactly one goroutine
type Scheduler struct {
	ledger   *ledger.Ledger
	resolver *conflict.Resolver
	monitor  *connectivity.Monitor
	cfg      Config

	now      func() time.Time
	logger   *slog.Logger
	observer Observer
	clock    *Clock

	kick     *signal
	online   *signal
	draining atomic.Bool
	ready    chan struct{}
	once     sync.Once

	mu    sync.Mutex
	state State
	stats Stats
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithObserver installs a trace observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// WithNow overrides the wall clock used for backoff deadlines.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a scheduler. Zero fields in cfg take their defaults, except
// SettleDelay where zero disables the settle window.
func New(l *ledger.Ledger, r *conflict.Resolver, m *connectivity.Monitor, cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.SafetyInterval <= 0 {
		cfg.SafetyInterval = def.SafetyInterval
	}

	s := &Scheduler{
		ledger:   l,
		resolver: r,
		monitor:  m,
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.New(slog.DiscardHandler),
		clock:    NewClock(),
		kick:     newSignal(),
		online:   newSignal(),
		ready:    make(chan struct{}),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// Trigger requests a drain pass. Non-blocking; coalesces with pending
// requests. Has no effect unless Run is active.
func (s *Scheduler) Trigger() {
	s.kick.Notify()
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a copy of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Ready is closed once Run is subscribed to connectivity changes.
func (s *Scheduler) Ready() <-chan struct{} {
	return s.ready
}

// Run drives drain passes until ctx is cancelled. Returns nil on shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	unsubscribe := s.monitor.Subscribe(func(st connectivity.State) {
		if st.Online {
			s.online.Notify()
		}
	})
	defer unsubscribe()
	s.once.Do(func() { close(s.ready) })

	ticker := time.NewTicker(s.cfg.SafetyInterval)
	defer ticker.Stop()

	var (
		settle  *time.Timer
		settleC <-chan time.Time
	)
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	s.logger.Info("scheduler starting", "online", s.monitor.Online())
	if s.monitor.Online() {
		s.kick.Notify()
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return nil

		case <-s.kick.C():
			s.pass(ctx)

		case <-s.online.C():
			if s.cfg.SettleDelay <= 0 {
				s.pass(ctx)
				continue
			}
			// Restart the window on every online transition.
			if settle != nil {
				settle.Stop()
			}
			settle = time.NewTimer(s.cfg.SettleDelay)
			settleC = settle.C

		case <-settleC:
			settle, settleC = nil, nil
			s.pass(ctx)

		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	if err := s.DrainOnce(ctx); err != nil {
		s.logger.Error("drain pass failed", "error", err)
	}
}

// DrainOnce runs one drain pass: it delivers Queued mutations in seq order
// until the queue is empty, connectivity drops or ctx ends.
//
// Returns immediately if offline or if another pass is already running.
// Only ledger storage failures are returned; delivery problems are recorded
// on the mutations themselves.
func (s *Scheduler) DrainOnce(ctx context.Context) error {
	if !s.monitor.Online() {
		return nil
	}
	if !s.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer s.draining.Store(false)

	s.mu.Lock()
	s.stats.Passes++
	s.mu.Unlock()

	s.setState(StateDraining)
	s.emit(Event{Type: EventPassStarted})
	defer func() {
		s.setState(StateIdle)
		s.emit(Event{Type: EventPassFinished})
	}()

	var slept string
	for ctx.Err() == nil && s.monitor.Online() {
		m, ok, err := s.ledger.NextQueued(ctx)
		if err != nil {
			return fmt.Errorf("next queued: %w", err)
		}
		if !ok {
			return nil
		}

		// Wait out the head's backoff once, then deliver it regardless of
		// what the clock says.
		if wait := m.NextAttemptAt.Sub(s.now()); wait > 0 && slept != m.ID {
			slept = m.ID
			s.setState(StateBackoff)
			sleepErr := sleep(ctx, wait)
			s.setState(StateDraining)
			if sleepErr != nil {
				return nil
			}
			continue
		}

		if err := s.deliver(ctx, m.ID); err != nil {
			return err
		}
		slept = ""
	}
	return nil
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.mu.Unlock()

	if changed {
		s.logger.Debug("state changed", "state", st)
		s.emit(Event{Type: EventStateChanged, State: st})
	}
}

func (s *Scheduler) emit(ev Event) {
	if s.observer == nil {
		return
	}
	ev.Seq = s.clock.Next()
	s.observer(ev)
}

func (s *Scheduler) count(fn func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
