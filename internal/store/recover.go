package store

import (
	"os"
	"path/filepath"
)

// recover reconciles the on-disk state with the loaded catalogue. It runs
// once inside Open, before any concurrent access exists.
func (s *Store) recover() error {
	// Staging output never survives a restart.
	entries, err := os.ReadDir(s.StagingRoot())
	if err == nil {
		for _, e := range entries {
			path := filepath.Join(s.StagingRoot(), e.Name())
			if err := os.RemoveAll(path); err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("failed to clear staging entry")
			}
		}
	}

	// Directories without a catalogue row are orphans from interrupted
	// commits; delete them.
	entries, err = os.ReadDir(s.RecordingsRoot())
	if err == nil {
		for _, e := range entries {
			if _, known := s.recordings[e.Name()]; known {
				continue
			}
			path := filepath.Join(s.RecordingsRoot(), e.Name())
			s.logger.Warn().Str("path", path).Msg("removing orphaned recording directory")
			if err := os.RemoveAll(path); err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("failed to remove orphan")
			}
		}
	}

	// Rows whose directory is gone cannot be served; drop them and mark the
	// source reservation failed unless it already completed.
	changed := false
	for id, rec := range s.recordings {
		dir, err := s.RecordingDir(rec)
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(filepath.Join(dir, "recording.m3u8")); statErr == nil {
			continue
		}
		s.logger.Warn().Str("recording_id", id).Msg("recording directory missing, dropping row")
		delete(s.recordings, id)
		changed = true
		if r, ok := s.reservations[rec.ReservationID]; ok && r.Status != StatusDone {
			r.Status = StatusFailed
			s.reservations[r.ID] = r
		}
	}
	// Reservations left in_progress by a crash can never resume.
	for id, r := range s.reservations {
		if r.Status == StatusInProgress {
			r.Status = StatusFailed
			s.reservations[id] = r
			changed = true
		}
	}
	if changed {
		return s.persist()
	}
	return nil
}
