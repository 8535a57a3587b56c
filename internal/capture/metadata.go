package capture

import (
	"fmt"
	"sort"
	"strings"

	"github.com/airwavehq/aircheck/internal/nhk"
)

// BuildMetadata seeds a recording's editable metadata map from the event
// snapshot. The EPG description variants map onto conventional tag names so
// the converter can stamp them into the container later.
func BuildMetadata(ev nhk.Event) map[string]string {
	dd := ev.DetailedDescription

	description := dd["epg80"]
	if description == "" {
		description = dd["epg40"]
	}
	if description == "" {
		description = ev.Description
	}

	title := ev.Name
	if title == "" {
		title = "Untitled"
	}
	tags := map[string]string{
		"title":       title,
		"description": description,
	}
	if v := dd["epg200"]; v != "" {
		tags["long_description"] = v
	}
	if v := dd["epgInformation"]; v != "" {
		tags["comment"] = v
	}

	var remain []string
	keys := make([]string, 0, len(dd))
	for k := range dd {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch k {
		case "epg80", "epg40", "epg200", "epgInformation":
			continue
		}
		remain = append(remain, fmt.Sprintf("%s: %s", k, dd[k]))
	}
	if len(remain) > 0 {
		tags["detailed_description"] = strings.Join(remain, "\n")
	}

	var musicLines []string
	for _, m := range ev.MusicList {
		var artists []string
		for _, a := range m.ByArtist {
			artists = append(artists, fmt.Sprintf("%s(%s/%s)", a.Name, a.Role, a.Part))
		}
		musicLines = append(musicLines, fmt.Sprintf("%s | %s", m.Name, strings.Join(artists, "; ")))
	}
	if len(musicLines) > 0 {
		tags["music_list"] = strings.Join(musicLines, "\n")
	}
	return tags
}
