package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/airwavehq/aircheck/internal/fault"
	"github.com/airwavehq/aircheck/internal/nhk"
)

func (s *Server) handleListSeries(w http.ResponseWriter, r *http.Request) {
	series, err := s.upstream.ListSeries(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if series == nil {
		series = []nhk.Series{}
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleResolveSeries(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("series_url")
	if rawURL == "" {
		writeError(w, r, fault.Invalid("api.resolve", "series_url", "query parameter required"))
		return
	}
	code, err := s.upstream.ResolveSeriesCode(r.Context(), rawURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if code == "" {
		writeError(w, r, fault.New(fault.NotFound, "api.resolve", "no series code in "+rawURL))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"seriesCode": code})
}

// handleListEvents accepts the series key in three forms; series_code wins
// over series_url, which wins over the bare numeric series_id.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := strings.TrimSpace(q.Get("series_code"))
	if key == "" {
		if rawURL := q.Get("series_url"); rawURL != "" {
			code, err := s.upstream.ResolveSeriesCode(r.Context(), rawURL)
			if err != nil {
				writeError(w, r, err)
				return
			}
			key = code
		}
	}
	if key == "" {
		if rawID := q.Get("series_id"); rawID != "" {
			if _, err := strconv.Atoi(rawID); err != nil {
				writeError(w, r, fault.Invalid("api.events", "series_id", "must be numeric"))
				return
			}
			key = rawID
		}
	}
	if key == "" {
		writeError(w, r, fault.Invalid("api.events", "series_code", "one of series_code, series_url, series_id required"))
		return
	}

	events, err := s.upstream.FetchEvents(r.Context(), key, s.eventHorizon)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []nhk.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
