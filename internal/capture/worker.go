// Package capture runs one supervised muxer attempt per broadcast and
// decides whether its output is good enough to publish.
package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/airwavehq/aircheck/internal/clock"
	"github.com/airwavehq/aircheck/internal/fault"
	"github.com/airwavehq/aircheck/internal/log"
	"github.com/airwavehq/aircheck/internal/metrics"
	"github.com/airwavehq/aircheck/internal/playlist"
	"github.com/airwavehq/aircheck/internal/store"
)

// Request describes one capture attempt. Start and End are the broadcast
// window; the worker applies its own tail-out on top.
type Request struct {
	Reservation store.Reservation
	StreamURL   string
	Start       time.Time
	End         time.Time
}

// Config tunes the worker.
type Config struct {
	FFmpegPath      string
	TailOut         time.Duration
	StopGrace       time.Duration
	SpawnRetries    int           // further attempts after the first spawn failure
	SpawnRetryDelay time.Duration // delay between spawn attempts
}

// Worker executes capture attempts. One Worker is shared by all plans; each
// Run call owns its staging directory exclusively.
type Worker struct {
	cfg     Config
	clock   clock.Clock
	store   *store.Store
	factory ProcessFactory
	logger  zerolog.Logger
}

// New builds a Worker. A nil factory selects the real exec-based muxer.
func New(cfg Config, clk clock.Clock, st *store.Store, factory ProcessFactory) *Worker {
	if cfg.SpawnRetries == 0 {
		cfg.SpawnRetries = 2
	}
	if cfg.SpawnRetryDelay <= 0 {
		cfg.SpawnRetryDelay = 2 * time.Second
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 10 * time.Second
	}
	if factory == nil {
		factory = NewExecProcess
	}
	return &Worker{
		cfg:     cfg,
		clock:   clk,
		store:   st,
		factory: factory,
		logger:  log.WithComponent("capture"),
	}
}

// Run performs one capture attempt and, on success, commits the recording.
// Cancellation via ctx discards the staging tree and returns a Canceled
// error. The commit policy failures return CaptureFailed.
func (w *Worker) Run(ctx context.Context, req Request) (store.Recording, error) {
	captureID := uuid.NewString()
	stagingDir := filepath.Join(w.store.StagingRoot(), captureID)
	logger := w.logger.With().
		Str("capture_id", captureID).
		Str("reservation_id", req.Reservation.ID).
		Logger()

	if err := os.MkdirAll(filepath.Join(stagingDir, SegmentsDir), 0o755); err != nil {
		return store.Recording{}, fault.Wrap(fault.StorageIO, "capture.staging", err)
	}
	defer func() {
		// Left in place only when the commit renamed it away.
		if _, err := os.Stat(stagingDir); err == nil {
			_ = os.RemoveAll(stagingDir)
		}
	}()

	metrics.IncCaptureStarted()
	rec, err := w.run(ctx, req, stagingDir, logger)
	switch {
	case err == nil:
		metrics.IncCaptureFinished("committed")
	case fault.IsKind(err, fault.Canceled):
		metrics.IncCaptureFinished("canceled")
	default:
		metrics.IncCaptureFinished("failed")
	}
	return rec, err
}

func (w *Worker) run(ctx context.Context, req Request, stagingDir string, logger zerolog.Logger) (store.Recording, error) {
	stopAt := req.End.Add(w.cfg.TailOut)
	argv := muxerArgs(w.cfg.FFmpegPath, req.StreamURL, stagingDir)

	proc, err := w.spawn(ctx, argv, stopAt, logger)
	if err != nil {
		return store.Recording{}, err
	}
	logger.Info().Time("stop_at", stopAt).Msg("muxer started")

	// Supervise: muxer exit, absolute stop deadline, or cancellation.
	deadlineCtx, cancelDeadline := context.WithCancel(context.Background())
	defer cancelDeadline()
	deadlineCh := make(chan struct{})
	go func() {
		if err := w.clock.SleepUntil(deadlineCtx, stopAt); err == nil {
			close(deadlineCh)
		}
	}()

	var exitErr error
	canceled := false
	select {
	case exitErr = <-proc.Done():
		logger.Info().AnErr("exit", exitErr).Msg("muxer exited before stop deadline")
	case <-deadlineCh:
		logger.Info().Msg("stop deadline reached, terminating muxer")
		proc.Stop(w.cfg.StopGrace)
	case <-ctx.Done():
		canceled = true
		logger.Info().Msg("capture canceled, terminating muxer")
		proc.Stop(w.cfg.StopGrace)
	}

	// The exit arm can win the select against a simultaneous cancellation;
	// re-check ctx before committing so a deleted reservation never
	// publishes a recording.
	if canceled || ctx.Err() != nil {
		return store.Recording{}, fault.Wrap(fault.Canceled, "capture.run", ctx.Err())
	}
	return w.commit(req, stagingDir, logger)
}

// spawn starts the muxer, retrying a bounded number of times. Retries stop
// once the stop deadline leaves no room for a meaningful capture.
func (w *Worker) spawn(ctx context.Context, argv []string, stopAt time.Time, logger zerolog.Logger) (process, error) {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.SpawnRetries; attempt++ {
		if attempt > 0 {
			if w.clock.Now().Add(w.cfg.SpawnRetryDelay).After(stopAt) {
				break
			}
			if err := w.clock.SleepUntil(ctx, w.clock.Now().Add(w.cfg.SpawnRetryDelay)); err != nil {
				return nil, fault.Wrap(fault.Canceled, "capture.spawn", err)
			}
		}
		proc := w.factory(argv)
		if err := proc.Start(); err != nil {
			lastErr = err
			logger.Warn().Err(err).Int("attempt", attempt+1).Msg("muxer spawn failed")
			continue
		}
		return proc, nil
	}
	return nil, fault.Wrap(fault.CaptureFailed, "capture.spawn", lastErr)
}

// commit applies the commit policy and publishes the recording atomically.
func (w *Worker) commit(req Request, stagingDir string, logger zerolog.Logger) (store.Recording, error) {
	playlistPath := filepath.Join(stagingDir, PlaylistName)
	raw, err := os.ReadFile(playlistPath)
	if err != nil {
		return store.Recording{}, fault.New(fault.CaptureFailed, "capture.commit", "no playlist produced")
	}
	media, err := playlist.Parse(string(raw))
	if err != nil {
		return store.Recording{}, fault.Wrap(fault.CaptureFailed, "capture.commit", err)
	}
	if media.SegmentCount() == 0 {
		return store.Recording{}, fault.New(fault.CaptureFailed, "capture.commit", "playlist has no segments")
	}

	scheduled := req.End.Sub(req.Start)
	captured := media.TotalDuration
	floor := scheduled / 2
	if minute := time.Minute; floor > minute {
		floor = minute
	}
	if captured < floor {
		return store.Recording{}, fault.New(fault.CaptureFailed, "capture.commit",
			"captured "+captured.String()+" below floor "+floor.String())
	}

	last := segmentPath(stagingDir, media.LastSegment())
	info, err := os.Stat(last)
	if err != nil || info.Size() == 0 {
		return store.Recording{}, fault.New(fault.CaptureFailed, "capture.commit", "last segment missing or empty")
	}

	// Publish a complete non-live playlist so playback is a plain file serve.
	if !media.HasEndList {
		finalized := playlist.Finalize(string(raw))
		if err := renameio.WriteFile(playlistPath, []byte(finalized), 0o644); err != nil {
			return store.Recording{}, fault.Wrap(fault.StorageIO, "capture.commit", err)
		}
	}

	event := req.Reservation.SingleEvent.Event
	rec := store.Recording{
		ID:              uuid.NewString(),
		ReservationID:   req.Reservation.ID,
		Event:           event,
		Metadata:        BuildMetadata(event),
		CreatedAt:       w.clock.Now().UTC(),
		DurationSeconds: captured.Seconds(),
	}
	if err := w.store.CommitRecording(rec, stagingDir); err != nil {
		return store.Recording{}, err
	}
	logger.Info().
		Str("recording_id", rec.ID).
		Dur("captured", captured).
		Dur("scheduled", scheduled).
		Msg("capture committed")
	return rec, nil
}

// IsCanceled reports whether err stems from cancellation rather than a
// capture fault.
func IsCanceled(err error) bool {
	return fault.IsKind(err, fault.Canceled) || errors.Is(err, context.Canceled)
}
