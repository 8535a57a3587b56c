package store

import (
	"os"
	"path/filepath"

	"github.com/airwavehq/aircheck/internal/fault"
)

// CommitRecording publishes a finished capture: the staging directory is
// renamed into the recordings root under the recording id, and the catalogue
// row is inserted in the same logical transaction. On any failure nothing
// observable changes; the staging tree is left for the caller to discard.
func (s *Store) CommitRecording(rec Recording, stagingDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.recordings[rec.ID]; exists {
		return fault.New(fault.Conflict, "store.commit", "duplicate recording id "+rec.ID)
	}
	// Deletes serialise on the same mutex, so a reservation removed while
	// the capture was finishing is caught here and nothing is published.
	if rec.ReservationID != "" {
		if _, live := s.reservations[rec.ReservationID]; !live {
			return fault.New(fault.NotFound, "store.commit", "reservation "+rec.ReservationID+" no longer exists")
		}
	}
	rec.Dir = rec.ID
	target := filepath.Join(s.RecordingsRoot(), rec.ID)
	if _, err := os.Stat(target); err == nil {
		return fault.New(fault.Conflict, "store.commit", "recording directory already exists: "+rec.ID)
	}

	rec.SizeBytes = dirSize(stagingDir)

	if err := os.Rename(stagingDir, target); err != nil {
		return fault.Wrap(fault.StorageIO, "store.commit", err)
	}
	s.recordings[rec.ID] = rec
	if err := s.persist(); err != nil {
		// Roll the rename back so the failed commit leaves no trace in the
		// published tree.
		delete(s.recordings, rec.ID)
		if mvErr := os.Rename(target, stagingDir); mvErr != nil {
			_ = os.RemoveAll(target)
		}
		return err
	}
	s.logger.Info().
		Str("recording_id", rec.ID).
		Str("reservation_id", rec.ReservationID).
		Int64("size_bytes", rec.SizeBytes).
		Msg("recording committed")
	return nil
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total
}
