package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/airwavehq/aircheck/internal/capture"
	"github.com/airwavehq/aircheck/internal/fault"
	"github.com/airwavehq/aircheck/internal/store"
)

// PlanState is the lifecycle of one armed capture.
type PlanState string

const (
	PlanScheduled  PlanState = "scheduled"
	PlanArming     PlanState = "arming"
	PlanRunning    PlanState = "running"
	PlanFinalising PlanState = "finalising"
	PlanCommitted  PlanState = "committed"
	PlanFailed     PlanState = "failed"
	PlanCanceled   PlanState = "canceled"
)

// plan is one armed reservation. There is at most one plan per reservation
// id; state is guarded by the scheduler mutex.
type plan struct {
	reservationID string
	start         time.Time
	end           time.Time
	state         PlanState
	cancel        context.CancelFunc
}

// armLocked registers a plan for a pending single-event reservation and
// starts its goroutine. Caller holds s.mu.
func (s *Scheduler) armLocked(r store.Reservation) {
	if _, exists := s.plans[r.ID]; exists {
		return
	}
	ev := r.SingleEvent.Event
	planCtx, cancel := context.WithCancel(context.Background())
	p := &plan{
		reservationID: r.ID,
		start:         ev.Start,
		end:           ev.End,
		state:         PlanScheduled,
		cancel:        cancel,
	}
	s.plans[r.ID] = p
	s.logger.Info().
		Str("reservation_id", r.ID).
		Str("broadcast_event_id", ev.BroadcastEventID).
		Time("start", ev.Start).
		Msg("plan armed")

	s.wg.Add(1)
	go s.runPlan(planCtx, p, r)
}

func (s *Scheduler) setPlanState(p *plan, state PlanState) {
	s.mu.Lock()
	p.state = state
	s.mu.Unlock()
}

func (s *Scheduler) dropPlan(p *plan) {
	s.mu.Lock()
	if cur, ok := s.plans[p.reservationID]; ok && cur == p {
		delete(s.plans, p.reservationID)
	}
	s.mu.Unlock()
}

// runPlan sleeps until the lead-in point, then drives one capture attempt to
// a terminal state. Reservation status mirrors the plan outcome.
func (s *Scheduler) runPlan(ctx context.Context, p *plan, r store.Reservation) {
	defer s.wg.Done()
	defer s.dropPlan(p)

	logger := s.logger.With().Str("reservation_id", r.ID).Logger()
	armAt := p.start.Add(-s.cfg.LeadIn)
	if err := s.clock.SleepUntil(ctx, armAt); err != nil {
		s.setPlanState(p, PlanCanceled)
		logger.Info().Msg("plan canceled before start")
		return
	}

	s.setPlanState(p, PlanArming)
	ev := r.SingleEvent.Event
	streamURL, err := s.upstream.StreamURL(ctx, ev.ServiceID, ev.AreaID)
	if err != nil {
		if ctx.Err() != nil {
			s.setPlanState(p, PlanCanceled)
			return
		}
		s.failPlan(p, r.ID, logger, "stream url resolution failed", err)
		return
	}

	if err := s.store.SetReservationStatus(r.ID, store.StatusInProgress); err != nil {
		// Reservation deleted while arming: nothing to record.
		if fault.IsKind(err, fault.NotFound) {
			s.setPlanState(p, PlanCanceled)
			return
		}
		s.failPlan(p, r.ID, logger, "status transition failed", err)
		return
	}

	s.setPlanState(p, PlanRunning)
	rec, err := s.runner.Run(ctx, capture.Request{
		Reservation: r,
		StreamURL:   streamURL,
		Start:       ev.Start,
		End:         ev.End,
	})
	s.setPlanState(p, PlanFinalising)

	switch {
	case err == nil:
		s.setPlanState(p, PlanCommitted)
		if err := s.store.SetReservationStatus(r.ID, store.StatusDone); err != nil && !fault.IsKind(err, fault.NotFound) {
			logger.Error().Err(err).Msg("failed to mark reservation done")
		}
		logger.Info().Str("recording_id", rec.ID).Msg("plan committed")
	case capture.IsCanceled(err):
		s.setPlanState(p, PlanCanceled)
		if err := s.store.SetReservationStatus(r.ID, store.StatusCanceled); err != nil && !fault.IsKind(err, fault.NotFound) {
			logger.Error().Err(err).Msg("failed to mark reservation canceled")
		}
		logger.Info().Msg("plan canceled")
	default:
		s.failPlan(p, r.ID, logger, "capture failed", err)
	}
}

func (s *Scheduler) failPlan(p *plan, reservationID string, logger zerolog.Logger, msg string, err error) {
	s.setPlanState(p, PlanFailed)
	logger.Error().Err(err).Msg(msg)
	if serr := s.store.SetReservationStatus(reservationID, store.StatusFailed); serr != nil && !fault.IsKind(serr, fault.NotFound) {
		logger.Error().Err(serr).Msg("failed to mark reservation failed")
	}
}
