package nhk

import "time"

// Series describes one entry of the NHK radio programme index.
type Series struct {
	ID           int      `json:"id"`
	Title        string   `json:"title"`
	Broadcasts   []string `json:"broadcasts"`
	URL          string   `json:"url"`
	ThumbnailURL string   `json:"thumbnailUrl,omitempty"`
	ScheduleText string   `json:"scheduleText,omitempty"`
	AreaName     string   `json:"areaName,omitempty"`
}

// MusicArtist is a performer or contributor attached to a music item.
type MusicArtist struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
	Part string `json:"part,omitempty"`
}

// MusicItem describes one piece of music listed for a broadcast.
type MusicItem struct {
	Name     string        `json:"name,omitempty"`
	Lyricist string        `json:"lyricist,omitempty"`
	Composer string        `json:"composer,omitempty"`
	Arranger string        `json:"arranger,omitempty"`
	Duration string        `json:"duration,omitempty"`
	ByArtist []MusicArtist `json:"byArtist,omitempty"`
}

// Event is the canonical, normalised form of one scheduled broadcast.
// Instants are stored in UTC.
type Event struct {
	BroadcastEventID    string            `json:"broadcastEventId"`
	RadioSeriesID       string            `json:"radioSeriesId,omitempty"`
	RadioEpisodeID      string            `json:"radioEpisodeId,omitempty"`
	ServiceID           string            `json:"serviceId"`
	AreaID              string            `json:"areaId"`
	Start               time.Time         `json:"startDate"`
	End                 time.Time         `json:"endDate"`
	Name                string            `json:"name"`
	Description         string            `json:"description,omitempty"`
	DetailedDescription map[string]string `json:"detailedDescription,omitempty"`
	Genres              []string          `json:"genres,omitempty"`
	Duration            string            `json:"duration,omitempty"`
	Location            string            `json:"location,omitempty"`
	EventURL            string            `json:"eventUrl,omitempty"`
	EpisodeURL          string            `json:"episodeUrl,omitempty"`
	EpisodeAPIURL       string            `json:"episodeApiUrl,omitempty"`
	SeriesURL           string            `json:"seriesUrl,omitempty"`
	SeriesAPIURL        string            `json:"seriesApiUrl,omitempty"`
	ServiceName         string            `json:"serviceName,omitempty"`
	MusicList           []MusicItem       `json:"musicList,omitempty"`
}

// ScheduledDuration returns end-start.
func (e Event) ScheduledDuration() time.Duration { return e.End.Sub(e.Start) }

// Area maps one broadcast region to its live HLS playlist URLs.
type Area struct {
	Key       string            `json:"areaKey"`
	Slug      string            `json:"areaSlug,omitempty"`
	NameJP    string            `json:"areaNameJp,omitempty"`
	StationID string            `json:"stationId,omitempty"`
	Streams   map[string]string `json:"streams"` // keys: r1, r2, fm
}

// Catalog indexes areas by key and slug.
type Catalog struct {
	areas map[string]Area
}

// Area looks up an area by key or slug (case-insensitive).
func (c *Catalog) Area(id string) (Area, bool) {
	a, ok := c.areas[normalizeAreaID(id)]
	return a, ok
}

// StreamKey maps a service id onto the catalog's stream table key.
// Radio 3 is carried on the FM stream.
func StreamKey(serviceID string) string {
	if serviceID == "r3" {
		return "fm"
	}
	return serviceID
}
