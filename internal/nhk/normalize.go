package nhk

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// The broadcaster publishes local times without an offset in several feeds.
var tokyo = loadTokyo()

func loadTokyo() *time.Location {
	if loc, err := time.LoadLocation("Asia/Tokyo"); err == nil {
		return loc
	}
	return time.FixedZone("JST", 9*60*60)
}

// Candidate field names per canonical field, applied in order. The upstream
// payload shape varies between feed revisions; any object carrying both a
// start-like and an end-like timestamp is considered an event.
var (
	startFields = []string{"startDate", "start", "startTime", "start_time"}
	endFields   = []string{"endDate", "end", "endTime", "end_time"}
	nameFields  = []string{"name", "title"}
)

// ParseTimestamp accepts RFC 3339 (with or without fractional seconds or an
// explicit offset), the compact YYYYMMDDHHMMSS form, and numeric epoch
// seconds. Values without a zone are interpreted as broadcaster-local time.
// The result is normalised to UTC.
func ParseTimestamp(v any) (time.Time, error) {
	switch value := v.(type) {
	case float64:
		return time.Unix(int64(value), 0).UTC(), nil
	case string:
		s := strings.TrimSpace(value)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty timestamp")
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		// RFC 3339 without offset: broadcaster-local wall time.
		for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02T15:04"} {
			if t, err := time.ParseInLocation(layout, s, tokyo); err == nil {
				return t.UTC(), nil
			}
		}
		if len(s) == 14 {
			if t, err := time.ParseInLocation("20060102150405", s, tokyo); err == nil {
				return t.UTC(), nil
			}
		}
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(epoch, 0).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
	default:
		return time.Time{}, fmt.Errorf("timestamp has type %T", v)
	}
}

// NormalizeService maps upstream service identifiers onto the canonical set
// {r1, r2, fm} by case-insensitive substring. Radio 3 is carried on FM.
// Unknown identifiers return "".
func NormalizeService(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "fm"), strings.Contains(s, "r3"):
		return "fm"
	case strings.Contains(s, "r2"), strings.Contains(s, "rs"):
		return "r2"
	case strings.Contains(s, "r1"):
		return "r1"
	default:
		return ""
	}
}

func normalizeAreaID(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// normalizeEvents walks a decoded payload, collects every object that looks
// like a broadcast event and converts it to canonical form. Events whose end
// does not lie after their start are dropped; a missing end defaults to
// start plus thirty minutes before that check.
func normalizeEvents(payload any) ([]Event, error) {
	if payload == nil {
		return nil, nil
	}
	root, ok := payload.(map[string]any)
	if !ok {
		return nil, &APIError{Sentinel: ErrMalformed, Operation: "events", Err: fmt.Errorf("payload is %T, expected object", payload)}
	}

	var candidates []map[string]any
	collectEventObjects(root, &candidates)

	events := make([]Event, 0, len(candidates))
	for _, obj := range candidates {
		ev, ok := normalizeOne(obj)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}

func collectEventObjects(v any, out *[]map[string]any) {
	switch value := v.(type) {
	case map[string]any:
		// An end field may legitimately be absent (defaulted later), so an
		// identifier group also qualifies an object as an event.
		_, hasIdentifiers := value["identifierGroup"]
		if firstField(value, startFields) != nil && (firstField(value, endFields) != nil || hasIdentifiers) {
			*out = append(*out, value)
			return
		}
		// Deterministic walk order for stable output.
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectEventObjects(value[k], out)
		}
	case []any:
		for _, item := range value {
			collectEventObjects(item, out)
		}
	}
}

func firstField(obj map[string]any, names []string) any {
	for _, name := range names {
		if v, ok := obj[name]; ok && v != nil {
			return v
		}
	}
	return nil
}

func normalizeOne(obj map[string]any) (Event, bool) {
	start, err := ParseTimestamp(firstField(obj, startFields))
	if err != nil {
		return Event{}, false
	}
	var end time.Time
	if raw := firstField(obj, endFields); raw != nil {
		end, err = ParseTimestamp(raw)
		if err != nil {
			end = start.Add(30 * time.Minute)
		}
	} else {
		end = start.Add(30 * time.Minute)
	}
	if !end.After(start) {
		return Event{}, false
	}

	ig, _ := obj["identifierGroup"].(map[string]any)
	serviceID := NormalizeService(stringAt(ig, "serviceId"))
	if serviceID == "" {
		serviceID = NormalizeService(stringAt(obj, "serviceId"))
	}
	areaID := normalizeAreaID(stringAt(ig, "areaId"))
	if areaID == "" {
		areaID = normalizeAreaID(stringAt(obj, "areaId"))
	}
	if serviceID == "" || areaID == "" {
		return Event{}, false
	}

	ev := Event{
		BroadcastEventID: stringAt(ig, "broadcastEventId"),
		RadioSeriesID:    stringAt(ig, "radioSeriesId"),
		RadioEpisodeID:   stringAt(ig, "radioEpisodeId"),
		ServiceID:        serviceID,
		AreaID:           areaID,
		Start:            start,
		End:              end,
		Name:             stringAt(obj, nameFields...),
		Description:      stringAt(obj, "description"),
		Duration:         stringAt(obj, "duration"),
	}
	if ev.BroadcastEventID == "" {
		ev.BroadcastEventID = stringAt(obj, "broadcastEventId", "id")
	}
	if ev.BroadcastEventID == "" {
		return Event{}, false
	}

	if dd, ok := obj["detailedDescription"].(map[string]any); ok {
		cleaned := make(map[string]string, len(dd))
		for k, v := range dd {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				cleaned[k] = strings.TrimSpace(s)
			}
		}
		if len(cleaned) > 0 {
			ev.DetailedDescription = cleaned
		}
	}

	if ig != nil {
		if rawGenres, ok := ig["genre"].([]any); ok {
			for _, g := range rawGenres {
				gm, ok := g.(map[string]any)
				if !ok {
					continue
				}
				name := stringAt(gm, "name2", "name1")
				if name != "" {
					ev.Genres = append(ev.Genres, name)
				}
			}
		}
	}

	if pub, ok := obj["publishedOn"].(map[string]any); ok {
		ev.ServiceName = stringAt(pub, "broadcastDisplayName", "name")
	}
	if loc, ok := obj["location"].(map[string]any); ok {
		ev.Location = stringAt(loc, "name")
	}
	ev.EventURL = stringAt(obj, "url")
	if about, ok := obj["about"].(map[string]any); ok {
		ev.EpisodeAPIURL = stringAt(about, "url")
		ev.EpisodeURL = stringAt(about, "canonical")
		if ps, ok := about["partOfSeries"].(map[string]any); ok {
			ev.SeriesAPIURL = stringAt(ps, "url")
			ev.SeriesURL = stringAt(ps, "canonical")
		}
	}
	if misc, ok := obj["misc"].(map[string]any); ok {
		if rawList, ok := misc["musicList"].([]any); ok {
			ev.MusicList = normalizeMusicList(rawList)
		}
	}
	return ev, true
}

func normalizeMusicList(raw []any) []MusicItem {
	items := make([]MusicItem, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := MusicItem{
			Name:     stringAt(m, "name"),
			Lyricist: stringAt(m, "lyricist"),
			Composer: stringAt(m, "composer"),
			Arranger: stringAt(m, "arranger"),
			Duration: stringAt(m, "duration"),
		}
		if artists, ok := m["byArtist"].([]any); ok {
			for _, a := range artists {
				am, ok := a.(map[string]any)
				if !ok {
					continue
				}
				name := stringAt(am, "name")
				if name == "" {
					continue
				}
				item.ByArtist = append(item.ByArtist, MusicArtist{
					Name: name,
					Role: stringAt(am, "role"),
					Part: stringAt(am, "part"),
				})
			}
		}
		if item.Name != "" || len(item.ByArtist) > 0 {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return nil
	}
	return items
}

func stringAt(obj map[string]any, names ...string) string {
	if obj == nil {
		return ""
	}
	for _, name := range names {
		if v, ok := obj[name].(string); ok {
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		}
	}
	return ""
}
