package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/airwavehq/aircheck/internal/fault"
	"github.com/airwavehq/aircheck/internal/metrics"
	"github.com/airwavehq/aircheck/internal/nhk"
	"github.com/airwavehq/aircheck/internal/store"
)

// Reconcile runs one reconciliation pass: series watches are expanded into
// child reservations, due single events are armed, and stale plans reaped.
// The scheduler mutex is held for the whole pass, so plan bookkeeping is
// consistent with the snapshot it acts on.
func (s *Scheduler) Reconcile(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome := "ok"
	if err := s.expandWatchesLocked(ctx); err != nil {
		outcome = "degraded"
	}
	s.armDueLocked()
	s.reapLocked()
	metrics.IncReconcileTick(outcome)
}

// expandWatchesLocked materialises unseen upcoming broadcasts of every
// pending series watch into single-event children. Upstream failures degrade
// the tick but never abort it; a watch that cannot be refreshed keeps its
// existing children.
func (s *Scheduler) expandWatchesLocked(ctx context.Context) error {
	var firstErr error
	for _, r := range s.store.ListReservations() {
		if r.Type != store.TypeSeriesWatch || r.Status != store.StatusPending {
			continue
		}
		if err := s.expandOneWatch(ctx, r); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.logger.Warn().Err(err).
				Str("reservation_id", r.ID).
				Str("series_key", r.SeriesWatch.SeriesKey()).
				Msg("series watch expansion failed")
		}
	}
	return firstErr
}

func (s *Scheduler) expandOneWatch(ctx context.Context, r store.Reservation) error {
	watch := r.SeriesWatch
	events, err := s.upstream.FetchEvents(ctx, watch.SeriesKey(), s.cfg.EventHorizon)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	var children []store.Reservation
	var seen []string
	for _, ev := range events {
		if ev.BroadcastEventID == "" || watch.Seen(ev.BroadcastEventID) {
			continue
		}
		if watch.AreaID != "" && ev.AreaID != "" && ev.AreaID != watch.AreaID {
			continue
		}
		seen = append(seen, ev.BroadcastEventID)
		if !ev.End.After(now) {
			continue
		}
		children = append(children, store.Reservation{
			ID:        uuid.NewString(),
			Type:      store.TypeSingleEvent,
			CreatedAt: now.UTC(),
			Status:    store.StatusPending,
			SingleEvent: &store.SingleEvent{
				SeriesID:   watch.SeriesID,
				SeriesCode: watch.SeriesCode,
				Event:      ev,
				ParentID:   r.ID,
				Metadata:   childMetadata(watch, ev),
			},
		})
	}
	if len(children) == 0 && len(seen) == 0 {
		return nil
	}
	if err := s.store.AppendWatchChildren(r.ID, children, seen); err != nil {
		return err
	}
	if len(children) > 0 {
		s.logger.Info().
			Str("reservation_id", r.ID).
			Int("children", len(children)).
			Msg("series watch materialised new broadcasts")
	}
	return nil
}

// childMetadata records provenance on a materialised child so the catalogue
// row is self-describing even after the parent watch is deleted.
func childMetadata(watch *store.SeriesWatch, ev nhk.Event) map[string]string {
	md := map[string]string{
		"broadcast_event_id": ev.BroadcastEventID,
		"series_key":         watch.SeriesKey(),
	}
	if ev.RadioSeriesID != "" {
		md["radio_series_id"] = ev.RadioSeriesID
	}
	if ev.RadioEpisodeID != "" {
		md["radio_episode_id"] = ev.RadioEpisodeID
	}
	if watch.ProgramURL != "" {
		md["program_url"] = watch.ProgramURL
	}
	if ev.EventURL != "" {
		md["broadcast_event_info_url"] = ev.EventURL
	}
	if ev.EpisodeAPIURL != "" {
		md["episode_api_url"] = ev.EpisodeAPIURL
	}
	if ev.SeriesAPIURL != "" {
		md["series_api_url"] = ev.SeriesAPIURL
	}
	return md
}

// armDueLocked creates plans for pending single events starting inside the
// arm horizon. A broadcast already under way is still armed if enough of its
// window remains; otherwise the reservation is marked failed.
func (s *Scheduler) armDueLocked() {
	now := s.clock.Now()
	horizon := now.Add(s.cfg.ArmHorizon)
	for _, r := range s.store.ListReservations() {
		if r.Type != store.TypeSingleEvent || r.Status != store.StatusPending {
			continue
		}
		if _, exists := s.plans[r.ID]; exists {
			continue
		}
		ev := r.SingleEvent.Event
		if ev.Start.After(horizon) {
			continue
		}
		if ev.Start.Before(now) && ev.End.Sub(now) < s.cfg.MinRemaining {
			s.logger.Warn().
				Str("reservation_id", r.ID).
				Time("end", ev.End).
				Msg("broadcast window already elapsed, marking failed")
			if err := s.store.SetReservationStatus(r.ID, store.StatusFailed); err != nil && !fault.IsKind(err, fault.NotFound) {
				s.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("failed to mark reservation failed")
			}
			continue
		}
		s.armLocked(r)
	}
}

// reapLocked cancels plans whose reservation has disappeared from the
// catalogue (deleted out from under them).
func (s *Scheduler) reapLocked() {
	for id, p := range s.plans {
		if _, err := s.store.GetReservation(id); fault.IsKind(err, fault.NotFound) {
			s.logger.Info().Str("reservation_id", id).Msg("reaping plan for deleted reservation")
			p.cancel()
		}
	}
}

// NextWakeHint reports the earliest plan start, for diagnostics.
func (s *Scheduler) NextWakeHint() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var earliest time.Time
	found := false
	for _, p := range s.plans {
		if !found || p.start.Before(earliest) {
			earliest = p.start
			found = true
		}
	}
	return earliest, found
}
