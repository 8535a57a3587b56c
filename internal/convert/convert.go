// Package convert turns committed HLS recordings into downloadable m4a
// files and bundles them into archives.
package convert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/airwavehq/aircheck/internal/capture"
	"github.com/airwavehq/aircheck/internal/fault"
	"github.com/airwavehq/aircheck/internal/log"
	"github.com/airwavehq/aircheck/internal/store"
)

// DownloadName is the converted artefact filename inside a recording dir.
const DownloadName = "download.m4a"

// Converter produces m4a artefacts from recording directories. Conversions
// of the same recording are deduplicated; the artefact is cached next to the
// playlist it came from.
type Converter struct {
	ffmpegPath string
	store      *store.Store
	group      singleflight.Group
	logger     zerolog.Logger
}

// New builds a Converter.
func New(ffmpegPath string, st *store.Store) *Converter {
	return &Converter{
		ffmpegPath: ffmpegPath,
		store:      st,
		logger:     log.WithComponent("convert"),
	}
}

// ToM4A returns the path of the m4a artefact for a recording, converting it
// on first use. The recording's metadata map is stamped into the container
// as format tags; the audio stream is copied, never re-encoded.
func (c *Converter) ToM4A(ctx context.Context, rec store.Recording) (string, error) {
	dir, err := c.store.RecordingDir(rec)
	if err != nil {
		return "", fault.Wrap(fault.StorageIO, "convert.dir", err)
	}
	target := filepath.Join(dir, DownloadName)
	if info, err := os.Stat(target); err == nil && info.Size() > 0 {
		return target, nil
	}

	_, err, _ = c.group.Do(rec.ID, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have finished.
		if info, err := os.Stat(target); err == nil && info.Size() > 0 {
			return nil, nil
		}
		return nil, c.convert(ctx, rec, dir, target)
	})
	if err != nil {
		return "", err
	}
	return target, nil
}

func (c *Converter) convert(ctx context.Context, rec store.Recording, dir, target string) error {
	playlist := filepath.Join(dir, capture.PlaylistName)
	if _, err := os.Stat(playlist); err != nil {
		return fault.Wrap(fault.StorageIO, "convert.playlist", err)
	}

	tmp := target + ".tmp"
	argv := muxArgs(c.ffmpegPath, playlist, tmp, rec.Metadata)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) // #nosec G204 -- argv is built internally
	out, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(tmp)
		if ctx.Err() != nil {
			return fault.Wrap(fault.Canceled, "convert.run", ctx.Err())
		}
		c.logger.Error().Err(err).
			Str("recording_id", rec.ID).
			Str("output", string(out)).
			Msg("conversion failed")
		return fault.Wrap(fault.CaptureFailed, "convert.run", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fault.Wrap(fault.StorageIO, "convert.publish", err)
	}
	c.logger.Info().Str("recording_id", rec.ID).Msg("recording converted")
	return nil
}

// muxArgs remuxes the segmented capture into a single m4a container.
// Metadata keys are stamped in sorted order so the invocation is stable.
func muxArgs(ffmpegPath, playlist, target string, metadata map[string]string) []string {
	argv := []string{
		ffmpegPath,
		"-nostdin",
		"-y",
		"-loglevel", "error",
		"-i", playlist,
		"-vn",
		"-c", "copy",
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		argv = append(argv, "-metadata", fmt.Sprintf("%s=%s", k, metadata[k]))
	}
	return append(argv, "-f", "mp4", target)
}
