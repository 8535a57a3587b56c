package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwavehq/aircheck/internal/clock"
	"github.com/airwavehq/aircheck/internal/nhk"
	"github.com/airwavehq/aircheck/internal/store"
)

type stubUpstream struct {
	series    []nhk.Series
	seriesErr error
	code      string
	codeErr   error
	events    []nhk.Event
	eventsErr error
	lastKey   string
}

func (u *stubUpstream) ListSeries(ctx context.Context) ([]nhk.Series, error) {
	return u.series, u.seriesErr
}

func (u *stubUpstream) ResolveSeriesCode(ctx context.Context, rawURL string) (string, error) {
	return u.code, u.codeErr
}

func (u *stubUpstream) FetchEvents(ctx context.Context, seriesKey string, horizon time.Duration) ([]nhk.Event, error) {
	u.lastKey = seriesKey
	return u.events, u.eventsErr
}

type stubControl struct {
	mu       sync.Mutex
	wakes    int
	canceled []string
}

func (c *stubControl) Wake() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wakes++
}

func (c *stubControl) Cancel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled = append(c.canceled, id)
}

func (c *stubControl) ActivePlans() int { return 0 }

func (c *stubControl) NextWakeHint() (time.Time, bool) { return time.Time{}, false }

func (c *stubControl) wakeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wakes
}

type stubConverter struct {
	path string
	err  error
}

func (c *stubConverter) ToM4A(ctx context.Context, rec store.Recording) (string, error) {
	return c.path, c.err
}

func (c *stubConverter) WriteZip(ctx context.Context, w io.Writer, recs []store.Recording) error {
	for _, rec := range recs {
		fmt.Fprintf(w, "%s;", rec.ID)
	}
	return nil
}

type fixture struct {
	server   *httptest.Server
	store    *store.Store
	upstream *stubUpstream
	control  *stubControl
	conv     *stubConverter
	clock    *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	up := &stubUpstream{}
	ctl := &stubControl{}
	conv := &stubConverter{}
	srv := New(Options{
		Store:        st,
		Upstream:     up,
		Control:      ctl,
		Converter:    conv,
		Clock:        clk,
		EventHorizon: 7 * 24 * time.Hour,
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &fixture{server: ts, store: st, upstream: up, control: ctl, conv: conv, clock: clk}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	res, err := f.server.Client().Do(req)
	require.NoError(t, err)
	return res
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	defer res.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func errorKind(t *testing.T, res *http.Response) (string, string) {
	t.Helper()
	body := decodeBody[errorBody](t, res)
	return body.Error.Kind, body.Error.Field
}

func futureEvent(f *fixture, id string) nhk.Event {
	start := f.clock.Now().Add(2 * time.Hour)
	return nhk.Event{
		BroadcastEventID: id,
		ServiceID:        "r1",
		AreaID:           "130",
		Start:            start,
		End:              start.Add(30 * time.Minute),
		Name:             "あさのニュース",
	}
}

func TestSeriesEndpoints(t *testing.T) {
	f := newFixture(t)
	f.upstream.series = []nhk.Series{{ID: 101, Title: "あさのニュース", URL: "https://x/rs/AAA111/"}}

	res := f.do(t, http.MethodGet, "/api/series", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	series := decodeBody[[]nhk.Series](t, res)
	require.Len(t, series, 1)
	assert.Equal(t, 101, series[0].ID)

	f.upstream.seriesErr = nhk.ErrUnavailable
	res = f.do(t, http.MethodGet, "/api/series", nil)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	kind, _ := errorKind(t, res)
	assert.Equal(t, "upstream_unavailable", kind)
}

func TestResolveSeries(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodGet, "/api/series/resolve", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	kind, field := errorKind(t, res)
	assert.Equal(t, "bad_request", kind)
	assert.Equal(t, "series_url", field)

	f.upstream.code = "AAA111"
	res = f.do(t, http.MethodGet, "/api/series/resolve?series_url=https://x/programme", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeBody[map[string]string](t, res)
	assert.Equal(t, "AAA111", body["seriesCode"])

	f.upstream.code = ""
	res = f.do(t, http.MethodGet, "/api/series/resolve?series_url=https://x/unknown", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func TestListEventsKeyPrecedence(t *testing.T) {
	f := newFixture(t)
	f.upstream.events = []nhk.Event{futureEvent(f, "be-1")}
	f.upstream.code = "FROMURL"

	res := f.do(t, http.MethodGet, "/api/events?series_code=AAA111&series_url=https://x&series_id=101", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()
	assert.Equal(t, "AAA111", f.upstream.lastKey)

	res = f.do(t, http.MethodGet, "/api/events?series_url=https://x&series_id=101", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()
	assert.Equal(t, "FROMURL", f.upstream.lastKey)

	res = f.do(t, http.MethodGet, "/api/events?series_id=101", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()
	assert.Equal(t, "101", f.upstream.lastKey)

	res = f.do(t, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res.Body.Close()

	res = f.do(t, http.MethodGet, "/api/events?series_id=abc", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	_, field := errorKind(t, res)
	assert.Equal(t, "series_id", field)
}

func TestCreateSingleEventReservation(t *testing.T) {
	f := newFixture(t)
	ev := futureEvent(f, "be-1")

	res := f.do(t, http.MethodPost, "/api/reservation/single-event", singleEventRequest{
		SeriesID: 101, SeriesCode: "AAA111", Event: ev,
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	created := decodeBody[store.Reservation](t, res)
	assert.Equal(t, store.TypeSingleEvent, created.Type)
	assert.Equal(t, store.StatusPending, created.Status)
	assert.Equal(t, "be-1", created.SingleEvent.Event.BroadcastEventID)
	assert.Equal(t, 1, f.control.wakeCount())

	// Same broadcast event again: conflict.
	res = f.do(t, http.MethodPost, "/api/reservation/single-event", singleEventRequest{
		SeriesID: 101, Event: ev,
	})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	res.Body.Close()
}

func TestCreateSingleEventNormalisesServiceID(t *testing.T) {
	f := newFixture(t)
	ev := futureEvent(f, "be-fm")
	ev.ServiceID = "NHK-FM"

	res := f.do(t, http.MethodPost, "/api/reservation/single-event", singleEventRequest{
		SeriesID: 101, Event: ev,
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	created := decodeBody[store.Reservation](t, res)
	assert.Equal(t, "fm", created.SingleEvent.Event.ServiceID)
}

func TestCreateSingleEventValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name      string
		mutate    func(*nhk.Event)
		wantField string
	}{
		{"missing id", func(e *nhk.Event) { e.BroadcastEventID = "" }, "event.broadcastEventId"},
		{"bad service", func(e *nhk.Event) { e.ServiceID = "tv" }, "event.serviceId"},
		{"missing area", func(e *nhk.Event) { e.AreaID = "" }, "event.areaId"},
		{"end before start", func(e *nhk.Event) { e.End = e.Start.Add(-time.Minute) }, "event.endDate"},
		{"start in the past", func(e *nhk.Event) {
			e.Start = e.Start.Add(-3 * time.Hour)
			e.End = e.Start.Add(30 * time.Minute)
		}, "event.startDate"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev := futureEvent(f, "be-x")
			tc.mutate(&ev)
			res := f.do(t, http.MethodPost, "/api/reservation/single-event", singleEventRequest{
				SeriesID: 101, Event: ev,
			})
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			kind, field := errorKind(t, res)
			assert.Equal(t, "bad_request", kind)
			assert.Equal(t, tc.wantField, field)
		})
	}
	assert.Equal(t, 0, f.control.wakeCount())
}

func TestCreateSeriesWatch(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPost, "/api/reservation/watch-series", seriesWatchRequest{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res.Body.Close()

	res = f.do(t, http.MethodPost, "/api/reservation/watch-series", seriesWatchRequest{
		SeriesID:              101,
		SeriesCode:            "AAA111",
		AreaID:                "130",
		SeenBroadcastEventIDs: []string{"z", "a"},
		SeriesTitle:           "あさのニュース",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	created := decodeBody[store.Reservation](t, res)
	assert.Equal(t, store.TypeSeriesWatch, created.Type)
	assert.Equal(t, []string{"a", "z"}, created.SeriesWatch.SeenBroadcastEventIDs)
	assert.Equal(t, 1, f.control.wakeCount())
}

func TestDeleteReservation(t *testing.T) {
	f := newFixture(t)
	ev := futureEvent(f, "be-1")
	res := f.do(t, http.MethodPost, "/api/reservation/single-event", singleEventRequest{SeriesID: 101, Event: ev})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	created := decodeBody[store.Reservation](t, res)

	res = f.do(t, http.MethodDelete, "/api/reservations/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res.Body.Close()
	assert.Equal(t, []string{created.ID}, f.control.canceled)

	res = f.do(t, http.MethodDelete, "/api/reservations/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func commitTestRecording(t *testing.T, st *store.Store, id string) store.Recording {
	t.Helper()
	staging := filepath.Join(st.StagingRoot(), "cap-"+id)
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "segments"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "recording.m3u8"),
		[]byte("#EXTM3U\n#EXTINF:6.0,\nsegments/00000.ts\n#EXT-X-ENDLIST\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "segments", "00000.ts"),
		[]byte("ts-payload"), 0o644))
	require.NoError(t, st.CommitRecording(store.Recording{
		ID:        id,
		Metadata:  map[string]string{"title": "番組"},
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}, staging))
	rec, err := st.GetRecording(id)
	require.NoError(t, err)
	return rec
}

func TestRecordingMetadataPatch(t *testing.T) {
	f := newFixture(t)
	commitTestRecording(t, f.store, "rec-1")

	res := f.do(t, http.MethodPatch, "/api/recordings/rec-1/metadata", map[string]string{"rating": "5"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	rec := decodeBody[store.Recording](t, res)
	assert.Equal(t, "5", rec.Metadata["rating"])
	assert.Equal(t, "番組", rec.Metadata["title"])

	res = f.do(t, http.MethodPatch, "/api/recordings/rec-1/metadata", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res.Body.Close()

	res = f.do(t, http.MethodPatch, "/api/recordings/missing/metadata", map[string]string{"x": "y"})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func TestDownloadRecording(t *testing.T) {
	f := newFixture(t)
	commitTestRecording(t, f.store, "rec-1")

	artefact := filepath.Join(t.TempDir(), "download.m4a")
	require.NoError(t, os.WriteFile(artefact, []byte("m4a-bytes"), 0o644))
	f.conv.path = artefact

	res := f.do(t, http.MethodGet, "/api/recordings/rec-1/download", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "audio/mp4", res.Header.Get("Content-Type"))
	assert.Contains(t, res.Header.Get("Content-Disposition"), `番組.m4a`)
	raw, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "m4a-bytes", string(raw))

	res = f.do(t, http.MethodGet, "/api/recordings/missing/download", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func TestBulkDownload(t *testing.T) {
	f := newFixture(t)
	commitTestRecording(t, f.store, "rec-1")
	commitTestRecording(t, f.store, "rec-2")
	artefact := filepath.Join(t.TempDir(), "download.m4a")
	require.NoError(t, os.WriteFile(artefact, []byte("m4a"), 0o644))
	f.conv.path = artefact

	res := f.do(t, http.MethodPost, "/api/recordings/bulk-download", bulkDownloadRequest{IDs: []string{"rec-2", "rec-1"}})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/zip", res.Header.Get("Content-Type"))
	raw, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	// The stub preserves request order.
	assert.Equal(t, "rec-2;rec-1;", string(raw))

	res = f.do(t, http.MethodPost, "/api/recordings/bulk-download", bulkDownloadRequest{IDs: []string{"rec-1", "missing"}})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()

	res = f.do(t, http.MethodPost, "/api/recordings/bulk-download", bulkDownloadRequest{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res.Body.Close()
}

func TestDeleteRecording(t *testing.T) {
	f := newFixture(t)
	rec := commitTestRecording(t, f.store, "rec-1")
	dir, err := f.store.RecordingDir(rec)
	require.NoError(t, err)

	res := f.do(t, http.MethodDelete, "/api/recordings/rec-1", nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res.Body.Close()
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestStaticPlayback(t *testing.T) {
	f := newFixture(t)
	commitTestRecording(t, f.store, "rec-1")

	res := f.do(t, http.MethodGet, "/recordings/rec-1/recording.m3u8", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/vnd.apple.mpegurl", res.Header.Get("Content-Type"))
	raw, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "#EXT-X-ENDLIST")

	res = f.do(t, http.MethodGet, "/recordings/rec-1/segments/00000.ts", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "video/mp2t", res.Header.Get("Content-Type"))
	res.Body.Close()

	res = f.do(t, http.MethodGet, "/recordings/missing/recording.m3u8", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()

	// Traversal out of the segments directory is rejected.
	res = f.do(t, http.MethodGet, "/recordings/rec-1/segments/..%2Frecording.m3u8", nil)
	assert.NotEqual(t, http.StatusOK, res.StatusCode)
	res.Body.Close()
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	res := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeBody[map[string]any](t, res)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["active_plans"])
}
