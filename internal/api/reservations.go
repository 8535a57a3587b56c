package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/airwavehq/aircheck/internal/fault"
	"github.com/airwavehq/aircheck/internal/nhk"
	"github.com/airwavehq/aircheck/internal/store"
)

// startGrace tolerates clock skew and just-started broadcasts when a single
// event is reserved directly.
const startGrace = 10 * time.Second

func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	list := s.store.ListReservations()
	if list == nil {
		list = []store.Reservation{}
	}
	writeJSON(w, http.StatusOK, list)
}

type singleEventRequest struct {
	SeriesID   int       `json:"series_id"`
	SeriesCode string    `json:"series_code,omitempty"`
	Event      nhk.Event `json:"event"`
}

func (s *Server) handleCreateSingleEvent(w http.ResponseWriter, r *http.Request) {
	var req singleEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.validateEvent(req.Event); err != nil {
		writeError(w, r, err)
		return
	}
	// Lenient input, canonical storage: the stream table is keyed by
	// r1/r2/fm, so the raw id must not survive into the catalogue.
	req.Event.ServiceID = nhk.NormalizeService(req.Event.ServiceID)

	res := store.Reservation{
		ID:        uuid.NewString(),
		Type:      store.TypeSingleEvent,
		CreatedAt: s.clock.Now().UTC(),
		Status:    store.StatusPending,
		SingleEvent: &store.SingleEvent{
			SeriesID:   req.SeriesID,
			SeriesCode: req.SeriesCode,
			Event:      req.Event,
			Metadata:   eventMetadata(req.Event),
		},
	}
	if err := s.store.CreateReservation(res); err != nil {
		writeError(w, r, err)
		return
	}
	s.control.Wake()
	writeJSON(w, http.StatusCreated, res)
}

type seriesWatchRequest struct {
	SeriesID              int      `json:"series_id"`
	SeriesCode            string   `json:"series_code,omitempty"`
	AreaID                string   `json:"area_id,omitempty"`
	SeenBroadcastEventIDs []string `json:"seen_broadcast_event_ids,omitempty"`

	SeriesTitle        string `json:"series_title,omitempty"`
	SeriesArea         string `json:"series_area,omitempty"`
	SeriesSchedule     string `json:"series_schedule,omitempty"`
	ProgramURL         string `json:"program_url,omitempty"`
	SeriesThumbnailURL string `json:"series_thumbnail_url,omitempty"`
}

func (s *Server) handleCreateSeriesWatch(w http.ResponseWriter, r *http.Request) {
	var req seriesWatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.SeriesID <= 0 && req.SeriesCode == "" {
		writeError(w, r, fault.Invalid("api.watch", "series_id", "series_id or series_code required"))
		return
	}

	seen := append([]string{}, req.SeenBroadcastEventIDs...)
	sort.Strings(seen)
	res := store.Reservation{
		ID:        uuid.NewString(),
		Type:      store.TypeSeriesWatch,
		CreatedAt: s.clock.Now().UTC(),
		Status:    store.StatusPending,
		SeriesWatch: &store.SeriesWatch{
			SeriesID:              req.SeriesID,
			SeriesCode:            req.SeriesCode,
			AreaID:                req.AreaID,
			SeenBroadcastEventIDs: seen,
			SeriesTitle:           req.SeriesTitle,
			SeriesArea:            req.SeriesArea,
			SeriesSchedule:        req.SeriesSchedule,
			ProgramURL:            req.ProgramURL,
			SeriesThumbnailURL:    req.SeriesThumbnailURL,
		},
	}
	if err := s.store.CreateReservation(res); err != nil {
		writeError(w, r, err)
		return
	}
	s.control.Wake()
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleDeleteReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.DeleteReservation(id); err != nil {
		writeError(w, r, err)
		return
	}
	// A live plan holds its own context; cancelling after the row is gone
	// guarantees the worker cannot commit.
	s.control.Cancel(id)
	s.control.Wake()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) validateEvent(ev nhk.Event) error {
	if ev.BroadcastEventID == "" {
		return fault.Invalid("api.reserve", "event.broadcastEventId", "required")
	}
	if nhk.NormalizeService(ev.ServiceID) == "" {
		return fault.Invalid("api.reserve", "event.serviceId", "must be one of r1, r2, fm")
	}
	if ev.AreaID == "" {
		return fault.Invalid("api.reserve", "event.areaId", "required")
	}
	if ev.Start.IsZero() || ev.End.IsZero() {
		return fault.Invalid("api.reserve", "event.startDate", "start and end required")
	}
	if !ev.End.After(ev.Start) {
		return fault.Invalid("api.reserve", "event.endDate", "end must be after start")
	}
	if ev.Start.Before(s.clock.Now().Add(-startGrace)) {
		return fault.Invalid("api.reserve", "event.startDate", "start is in the past")
	}
	return nil
}

// eventMetadata records provenance identifiers on a directly created
// reservation, mirroring what series watch materialisation stores.
func eventMetadata(ev nhk.Event) map[string]string {
	md := map[string]string{"broadcast_event_id": ev.BroadcastEventID}
	if ev.RadioSeriesID != "" {
		md["radio_series_id"] = ev.RadioSeriesID
	}
	if ev.RadioEpisodeID != "" {
		md["radio_episode_id"] = ev.RadioEpisodeID
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

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fault.Wrap(fault.BadRequest, "api.decode", err)
	}
	return nil
}
