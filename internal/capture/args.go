package capture

import (
	"path/filepath"
)

// PlaylistName is the playlist filename inside every capture tree.
const PlaylistName = "recording.m3u8"

// SegmentsDir is the segment subdirectory inside every capture tree.
const SegmentsDir = "segments"

// muxerArgs builds the segment muxer invocation: copy the live HLS input
// into a local segmented tree, reconnect on network errors, no video, no
// re-encode. Segment filenames are zero-padded sequence numbers.
func muxerArgs(ffmpegPath, streamURL, stagingDir string) []string {
	return []string{
		ffmpegPath,
		"-nostdin",
		"-y",
		"-loglevel", "error",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "10",
		"-i", streamURL,
		"-vn",
		"-c", "copy",
		"-f", "hls",
		"-hls_time", "6",
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(stagingDir, SegmentsDir, "%05d.ts"),
		filepath.Join(stagingDir, PlaylistName),
	}
}

// segmentPath resolves a playlist segment URI against the capture tree.
func segmentPath(stagingDir, uri string) string {
	if filepath.IsAbs(uri) {
		return uri
	}
	return filepath.Join(stagingDir, uri)
}
