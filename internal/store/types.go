package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/airwavehq/aircheck/internal/nhk"
)

// ReservationType discriminates the reservation union.
type ReservationType string

const (
	TypeSingleEvent ReservationType = "single_event"
	TypeSeriesWatch ReservationType = "series_watch"
)

// Status is the reservation lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// SingleEvent is the payload of a single-broadcast reservation. The event
// snapshot is frozen at reservation time.
type SingleEvent struct {
	SeriesID   int               `json:"series_id"`
	SeriesCode string            `json:"series_code,omitempty"`
	Event      nhk.Event         `json:"event"`
	ParentID   string            `json:"parent_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SeriesWatch is the payload of a watch-this-series reservation. It never
// records directly; it materialises SingleEvent children and tracks which
// broadcast events it has already seen.
type SeriesWatch struct {
	SeriesID              int      `json:"series_id"`
	SeriesCode            string   `json:"series_code,omitempty"`
	AreaID                string   `json:"area_id,omitempty"`
	SeenBroadcastEventIDs []string `json:"seen_broadcast_event_ids"`

	SeriesTitle        string `json:"series_title,omitempty"`
	SeriesArea         string `json:"series_area,omitempty"`
	SeriesSchedule     string `json:"series_schedule,omitempty"`
	ProgramURL         string `json:"program_url,omitempty"`
	SeriesThumbnailURL string `json:"series_thumbnail_url,omitempty"`
}

// SeriesKey returns the key used against the event API: the series code
// when present, otherwise the numeric id.
func (w *SeriesWatch) SeriesKey() string {
	if w.SeriesCode != "" {
		return w.SeriesCode
	}
	return fmt.Sprintf("%d", w.SeriesID)
}

// Seen reports whether the watch already materialised this broadcast event.
func (w *SeriesWatch) Seen(broadcastEventID string) bool {
	for _, id := range w.SeenBroadcastEventIDs {
		if id == broadcastEventID {
			return true
		}
	}
	return false
}

// Reservation is a tagged union of SingleEvent and SeriesWatch.
type Reservation struct {
	ID        string          `json:"id"`
	Type      ReservationType `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Status    Status          `json:"status"`

	SingleEvent *SingleEvent `json:"single_event,omitempty"`
	SeriesWatch *SeriesWatch `json:"series_watch,omitempty"`
}

// UnmarshalJSON rejects unknown type tags and payloads that do not match
// their tag.
func (r *Reservation) UnmarshalJSON(data []byte) error {
	type alias Reservation
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	switch a.Type {
	case TypeSingleEvent:
		if a.SingleEvent == nil {
			return fmt.Errorf("reservation %s: single_event payload missing", a.ID)
		}
	case TypeSeriesWatch:
		if a.SeriesWatch == nil {
			return fmt.Errorf("reservation %s: series_watch payload missing", a.ID)
		}
	default:
		return fmt.Errorf("reservation %s: unknown type %q", a.ID, a.Type)
	}
	*r = Reservation(a)
	return nil
}

// Recording is one committed capture. Dir is relative to the recordings
// root; the directory is owned exclusively by this row.
type Recording struct {
	ID              string            `json:"id"`
	ReservationID   string            `json:"reservation_id"`
	Event           nhk.Event         `json:"event"`
	Dir             string            `json:"dir"`
	Metadata        map[string]string `json:"metadata"`
	CreatedAt       time.Time         `json:"created_at"`
	SizeBytes       int64             `json:"size_bytes"`
	DurationSeconds float64           `json:"duration_seconds"`
}

// catalogue is the single persisted document.
type catalogue struct {
	Reservations []Reservation `json:"reservations"`
	Recordings   []Recording   `json:"recordings"`
}
