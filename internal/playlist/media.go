// Package playlist parses and finalises HLS media playlists.
package playlist

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Media holds the facts a capture commit decision needs from a playlist.
type Media struct {
	Segments      []string // segment URIs in order
	TotalDuration time.Duration
	LastDuration  time.Duration
	HasEndList    bool
}

// SegmentCount returns the number of segment entries.
func (m *Media) SegmentCount() int { return len(m.Segments) }

// LastSegment returns the final segment URI, or "" when empty.
func (m *Media) LastSegment() string {
	if len(m.Segments) == 0 {
		return ""
	}
	return m.Segments[len(m.Segments)-1]
}

// Parse reads an HLS media playlist. It sums EXTINF durations per segment
// URI and records whether the end marker is present. Master playlists and
// corrupt EXTINF lines are rejected.
func Parse(content string) (*Media, error) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	m := &Media{}

	var sawHeader bool
	var nextDuration time.Duration

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "#EXTM3U":
			sawHeader = true
		case line == "#EXT-X-ENDLIST":
			m.HasEndList = true
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			return nil, fmt.Errorf("playlist: master playlist, expected media playlist")
		case strings.HasPrefix(line, "#EXTINF:"):
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			secs, err := strconv.ParseFloat(strings.TrimSpace(durPart), 64)
			if err != nil {
				return nil, fmt.Errorf("playlist: invalid EXTINF duration %q", durPart)
			}
			nextDuration = time.Duration(secs * float64(time.Second))
		case strings.HasPrefix(line, "#"):
			// Other tags carry nothing the commit decision needs.
		default:
			m.Segments = append(m.Segments, line)
			m.TotalDuration += nextDuration
			m.LastDuration = nextDuration
			nextDuration = 0
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, fmt.Errorf("playlist: missing #EXTM3U header")
	}
	return m, nil
}

// Finalize appends the end marker to content when it is missing, so a
// captured playlist plays back as a complete non-live file.
func Finalize(content string) string {
	if strings.Contains(content, "#EXT-X-ENDLIST") {
		return content
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + "#EXT-X-ENDLIST\n"
}
