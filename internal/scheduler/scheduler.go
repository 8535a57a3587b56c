// Package scheduler owns the live capture plans: it reconciles the
// reservation set against the upstream schedule, arms a timer per pending
// broadcast and drives one capture worker per due plan.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/airwavehq/aircheck/internal/capture"
	"github.com/airwavehq/aircheck/internal/clock"
	"github.com/airwavehq/aircheck/internal/log"
	"github.com/airwavehq/aircheck/internal/nhk"
	"github.com/airwavehq/aircheck/internal/store"
)

// Upstream is the slice of the NHK client the scheduler consumes.
type Upstream interface {
	FetchEvents(ctx context.Context, seriesKey string, horizon time.Duration) ([]nhk.Event, error)
	StreamURL(ctx context.Context, serviceID, areaID string) (string, error)
}

// Runner executes one capture attempt.
type Runner interface {
	Run(ctx context.Context, req capture.Request) (store.Recording, error)
}

// Config tunes the scheduler.
type Config struct {
	ReconcileInterval time.Duration
	EventHorizon      time.Duration // series watch lookahead
	ArmHorizon        time.Duration // how far ahead plans are armed
	LeadIn            time.Duration // arming offset before broadcast start
	MinRemaining      time.Duration // shortest late-start window worth capturing
}

func (c *Config) applyDefaults() {
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 30 * time.Second
	}
	if c.EventHorizon <= 0 {
		c.EventHorizon = 7 * 24 * time.Hour
	}
	if c.ArmHorizon <= 0 {
		c.ArmHorizon = 25 * time.Hour
	}
	if c.LeadIn < 0 {
		c.LeadIn = 0
	}
	if c.MinRemaining <= 0 {
		c.MinRemaining = time.Minute
	}
}

// Scheduler coordinates reconciliation and capture plans. All plan state is
// guarded by mu; reconciliation holds it for the duration of a tick.
type Scheduler struct {
	cfg      Config
	clock    clock.Clock
	store    *store.Store
	upstream Upstream
	runner   Runner
	logger   zerolog.Logger

	mu    sync.Mutex
	plans map[string]*plan

	wake chan struct{}
	wg   sync.WaitGroup
}

// New builds a Scheduler.
func New(cfg Config, clk clock.Clock, st *store.Store, up Upstream, runner Runner) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:      cfg,
		clock:    clk,
		store:    st,
		upstream: up,
		runner:   runner,
		logger:   log.WithComponent("scheduler"),
		plans:    make(map[string]*plan),
		wake:     make(chan struct{}, 1),
	}
}

// Wake requests a reconciliation ahead of the next tick. Non-blocking;
// coalesces with a pending wake.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run reconciles immediately, then on every tick or wake signal, until ctx
// is cancelled. On shutdown all live plans are cancelled and their workers
// awaited.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.cfg.ReconcileInterval).Msg("scheduler started")
	s.Reconcile(ctx)

	for {
		tickCtx, cancelTick := context.WithCancel(ctx)
		tickCh := make(chan struct{})
		go func() {
			if err := s.clock.SleepUntil(tickCtx, s.clock.Now().Add(s.cfg.ReconcileInterval)); err == nil {
				close(tickCh)
			}
		}()

		select {
		case <-ctx.Done():
			cancelTick()
			s.shutdown()
			return ctx.Err()
		case <-tickCh:
		case <-s.wake:
		}
		cancelTick()
		s.Reconcile(ctx)
	}
}

// Cancel aborts the live plan for a reservation, if any. The worker is
// signalled and will discard its staging output; no recording is committed.
func (s *Scheduler) Cancel(reservationID string) {
	s.mu.Lock()
	p, ok := s.plans[reservationID]
	s.mu.Unlock()
	if ok {
		p.cancel()
	}
}

// ActivePlans reports the number of live plans (for tests and health).
func (s *Scheduler) ActivePlans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plans)
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	for _, p := range s.plans {
		p.cancel()
	}
	s.mu.Unlock()
	// Workers honour the muxer stop grace internally.
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}
