// Package api exposes the reservation and recording catalogue over a small
// HTTP/JSON surface plus static HLS playback.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/airwavehq/aircheck/internal/clock"
	"github.com/airwavehq/aircheck/internal/nhk"
	"github.com/airwavehq/aircheck/internal/store"
)

// Upstream is the slice of the NHK client the handlers consume.
type Upstream interface {
	ListSeries(ctx context.Context) ([]nhk.Series, error)
	ResolveSeriesCode(ctx context.Context, rawURL string) (string, error)
	FetchEvents(ctx context.Context, seriesKey string, horizon time.Duration) ([]nhk.Event, error)
}

// Control is the scheduler surface reachable from handlers.
type Control interface {
	Wake()
	Cancel(reservationID string)
	ActivePlans() int
	NextWakeHint() (time.Time, bool)
}

// Converter produces downloadable artefacts from recordings.
type Converter interface {
	ToM4A(ctx context.Context, rec store.Recording) (string, error)
	WriteZip(ctx context.Context, w io.Writer, recs []store.Recording) error
}

// Options wires a Server.
type Options struct {
	Store        *store.Store
	Upstream     Upstream
	Control      Control
	Converter    Converter
	Clock        clock.Clock
	EventHorizon time.Duration
}

// Server holds the handler dependencies.
type Server struct {
	store        *store.Store
	upstream     Upstream
	control      Control
	converter    Converter
	clock        clock.Clock
	eventHorizon time.Duration
}

// New builds a Server.
func New(opts Options) *Server {
	horizon := opts.EventHorizon
	if horizon <= 0 {
		horizon = 7 * 24 * time.Hour
	}
	return &Server{
		store:        opts.Store,
		upstream:     opts.Upstream,
		control:      opts.Control,
		converter:    opts.Converter,
		clock:        opts.Clock,
		eventHorizon: horizon,
	}
}

// Routes assembles the router with the full middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Route("/api", func(r chi.Router) {
		r.Get("/series", s.handleListSeries)
		r.Get("/series/resolve", s.handleResolveSeries)
		r.Get("/events", s.handleListEvents)

		r.Get("/reservations", s.handleListReservations)
		r.Post("/reservation/single-event", s.handleCreateSingleEvent)
		r.Post("/reservation/watch-series", s.handleCreateSeriesWatch)
		r.Delete("/reservations/{id}", s.handleDeleteReservation)

		r.Get("/recordings", s.handleListRecordings)
		r.Patch("/recordings/{id}/metadata", s.handlePatchRecordingMetadata)
		r.Get("/recordings/{id}/download", s.handleDownloadRecording)
		r.Post("/recordings/bulk-download", s.handleBulkDownload)
		r.Delete("/recordings/{id}", s.handleDeleteRecording)
	})

	r.Get("/recordings/{id}/recording.m3u8", s.handlePlaylist)
	r.Get("/recordings/{id}/segments/{segment}", s.handleSegment)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealthz)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":       "ok",
		"active_plans": s.control.ActivePlans(),
	}
	if next, ok := s.control.NextWakeHint(); ok {
		body["next_capture_start"] = next.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}
