package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwavehq/aircheck/internal/clock"
	"github.com/airwavehq/aircheck/internal/fault"
	"github.com/airwavehq/aircheck/internal/nhk"
	"github.com/airwavehq/aircheck/internal/store"
)

// fakeProcess stands in for the ffmpeg muxer. It derives the staging dir
// from the argv it is handed, exactly like the real process would.
type fakeProcess struct {
	argv    []string
	onStart func(stagingDir string) error
	exit    chan error

	mu      sync.Mutex
	stopped bool
}

func (p *fakeProcess) Start() error {
	if p.onStart != nil {
		return p.onStart(p.stagingDir())
	}
	return nil
}

func (p *fakeProcess) Done() <-chan error { return p.exit }

func (p *fakeProcess) Stop(time.Duration) {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

func (p *fakeProcess) wasStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *fakeProcess) stagingDir() string {
	return filepath.Dir(p.argv[len(p.argv)-1])
}

func writeCapturedTree(t *testing.T, stagingDir, playlist string, segments map[string]string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, PlaylistName), []byte(playlist), 0o644))
	for name, content := range segments {
		require.NoError(t, os.WriteFile(filepath.Join(stagingDir, SegmentsDir, name), []byte(content), 0o644))
	}
}

const goodPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXTINF:6.000000,
segments/00000.ts
#EXTINF:6.000000,
segments/00001.ts
#EXTINF:6.000000,
segments/00002.ts
`

func testRequest(start time.Time) Request {
	ev := nhk.Event{
		BroadcastEventID: "be-1",
		ServiceID:        "r1",
		AreaID:           "130",
		Start:            start,
		End:              start.Add(30 * time.Second),
		Name:             "あさのニュース",
		DetailedDescription: map[string]string{
			"epg80": "短い説明",
		},
	}
	return Request{
		Reservation: store.Reservation{
			ID:          "res-1",
			Type:        store.TypeSingleEvent,
			Status:      store.StatusInProgress,
			SingleEvent: &store.SingleEvent{SeriesID: 101, Event: ev},
		},
		StreamURL: "https://stream.example/r1/tokyo/master.m3u8",
		Start:     ev.Start,
		End:       ev.End,
	}
}

// advanceUntil drives the fake clock forward in small steps while run is
// still in flight, releasing whatever the worker is sleeping on.
func advanceUntil(clk *clock.Fake, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		if clk.Waiters() > 0 {
			clk.Advance(2 * time.Second)
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

func newWorkerFixture(t *testing.T, factory ProcessFactory) (*Worker, *store.Store, *clock.Fake) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	w := New(Config{
		FFmpegPath: "ffmpeg",
		TailOut:    5 * time.Second,
		StopGrace:  time.Second,
	}, clk, st, factory)
	return w, st, clk
}

func TestRunCommitsAndFinalisesPlaylist(t *testing.T) {
	var proc *fakeProcess
	factory := func(argv []string) process {
		proc = &fakeProcess{argv: argv, exit: make(chan error, 1)}
		proc.onStart = func(stagingDir string) error {
			writeCapturedTree(t, stagingDir, goodPlaylist, map[string]string{
				"00000.ts": "aaaa", "00001.ts": "bbbb", "00002.ts": "cccc",
			})
			return nil
		}
		return proc
	}
	w, st, clk := newWorkerFixture(t, factory)
	req := testRequest(clk.Now())
	require.NoError(t, st.CreateReservation(req.Reservation))

	done := make(chan struct{})
	go advanceUntil(clk, done)
	rec, err := w.Run(context.Background(), req)
	close(done)
	require.NoError(t, err)

	assert.True(t, proc.wasStopped())
	assert.Equal(t, "res-1", rec.ReservationID)
	assert.InDelta(t, 18.0, rec.DurationSeconds, 0.01)
	assert.Equal(t, "あさのニュース", rec.Metadata["title"])
	assert.Equal(t, "短い説明", rec.Metadata["description"])

	got, err := st.GetRecording(rec.ID)
	require.NoError(t, err)
	dir, err := st.RecordingDir(got)
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(dir, PlaylistName))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), "#EXT-X-ENDLIST\n"))

	entries, err := os.ReadDir(st.StagingRoot())
	require.NoError(t, err)
	assert.Empty(t, entries, "staging must be empty after commit")
}

func TestRunRejectsShortCapture(t *testing.T) {
	shortPlaylist := "#EXTM3U\n#EXTINF:2.000000,\nsegments/00000.ts\n"
	factory := func(argv []string) process {
		p := &fakeProcess{argv: argv, exit: make(chan error, 1)}
		p.onStart = func(stagingDir string) error {
			writeCapturedTree(t, stagingDir, shortPlaylist, map[string]string{"00000.ts": "aa"})
			// Muxer dies early, well before the stop deadline.
			p.exit <- errors.New("exit status 1")
			return nil
		}
		return p
	}
	w, st, clk := newWorkerFixture(t, factory)

	done := make(chan struct{})
	go advanceUntil(clk, done)
	_, err := w.Run(context.Background(), testRequest(clk.Now()))
	close(done)

	// 2s captured of a 30s window: below the min(50%, 60s) floor.
	assert.True(t, fault.IsKind(err, fault.CaptureFailed), "got %v", err)
	assert.Empty(t, st.ListRecordings())
	entries, rdErr := os.ReadDir(st.StagingRoot())
	require.NoError(t, rdErr)
	assert.Empty(t, entries)
}

func TestRunRejectsEmptyLastSegment(t *testing.T) {
	factory := func(argv []string) process {
		p := &fakeProcess{argv: argv, exit: make(chan error, 1)}
		p.onStart = func(stagingDir string) error {
			writeCapturedTree(t, stagingDir, goodPlaylist, map[string]string{
				"00000.ts": "aaaa", "00001.ts": "bbbb", "00002.ts": "",
			})
			return nil
		}
		return p
	}
	w, st, clk := newWorkerFixture(t, factory)

	done := make(chan struct{})
	go advanceUntil(clk, done)
	_, err := w.Run(context.Background(), testRequest(clk.Now()))
	close(done)

	assert.True(t, fault.IsKind(err, fault.CaptureFailed), "got %v", err)
	assert.Empty(t, st.ListRecordings())
}

func TestRunCancellationDiscardsStaging(t *testing.T) {
	started := make(chan struct{})
	var proc *fakeProcess
	factory := func(argv []string) process {
		proc = &fakeProcess{argv: argv, exit: make(chan error, 1)}
		proc.onStart = func(stagingDir string) error {
			writeCapturedTree(t, stagingDir, goodPlaylist, map[string]string{
				"00000.ts": "aaaa", "00001.ts": "bbbb", "00002.ts": "cccc",
			})
			close(started)
			return nil
		}
		return proc
	}
	w, st, clk := newWorkerFixture(t, factory)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := w.Run(ctx, testRequest(clk.Now()))

	assert.True(t, IsCanceled(err), "got %v", err)
	assert.True(t, proc.wasStopped())
	assert.Empty(t, st.ListRecordings())
	entries, rdErr := os.ReadDir(st.StagingRoot())
	require.NoError(t, rdErr)
	assert.Empty(t, entries)
}

func TestRunRetriesSpawnFailures(t *testing.T) {
	attempts := 0
	factory := func(argv []string) process {
		p := &fakeProcess{argv: argv, exit: make(chan error, 1)}
		attempts++
		if attempts < 3 {
			p.onStart = func(string) error { return errors.New("spawn failed") }
			return p
		}
		p.onStart = func(stagingDir string) error {
			writeCapturedTree(t, stagingDir, goodPlaylist, map[string]string{
				"00000.ts": "aaaa", "00001.ts": "bbbb", "00002.ts": "cccc",
			})
			return nil
		}
		return p
	}
	w, st, clk := newWorkerFixture(t, factory)
	req := testRequest(clk.Now().Add(time.Minute))
	require.NoError(t, st.CreateReservation(req.Reservation))

	done := make(chan struct{})
	go advanceUntil(clk, done)
	rec, err := w.Run(context.Background(), req)
	close(done)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.NotEmpty(t, rec.ID)
}

func TestRunCancelRacingMuxerExitDoesNotCommit(t *testing.T) {
	// The muxer exit and the cancellation are both ready when supervision
	// starts selecting; whichever arm wins, nothing may be committed once
	// the reservation is gone. Several iterations cover both arms.
	for i := 0; i < 25; i++ {
		factory := func(argv []string) process {
			p := &fakeProcess{argv: argv, exit: make(chan error, 1)}
			p.onStart = func(stagingDir string) error {
				writeCapturedTree(t, stagingDir, goodPlaylist, map[string]string{
					"00000.ts": "aaaa", "00001.ts": "bbbb", "00002.ts": "cccc",
				})
				p.exit <- nil
				return nil
			}
			return p
		}
		w, st, clk := newWorkerFixture(t, factory)
		req := testRequest(clk.Now())
		require.NoError(t, st.CreateReservation(req.Reservation))

		ctx, cancel := context.WithCancel(context.Background())
		_, err := st.DeleteReservation(req.Reservation.ID)
		require.NoError(t, err)
		cancel()

		_, err = w.Run(ctx, req)
		assert.True(t, IsCanceled(err), "iteration %d: got %v", i, err)
		assert.Empty(t, st.ListRecordings(), "iteration %d", i)
		entries, rdErr := os.ReadDir(st.StagingRoot())
		require.NoError(t, rdErr)
		assert.Empty(t, entries, "iteration %d", i)
	}
}

func TestRunGivesUpWhenSpawnNeverSucceeds(t *testing.T) {
	attempts := 0
	factory := func(argv []string) process {
		attempts++
		p := &fakeProcess{argv: argv, exit: make(chan error, 1)}
		p.onStart = func(string) error { return errors.New("no such binary") }
		return p
	}
	w, st, clk := newWorkerFixture(t, factory)

	done := make(chan struct{})
	go advanceUntil(clk, done)
	_, err := w.Run(context.Background(), testRequest(clk.Now()))
	close(done)

	assert.True(t, fault.IsKind(err, fault.CaptureFailed), "got %v", err)
	assert.Equal(t, 3, attempts)
	assert.Empty(t, st.ListRecordings())
}
