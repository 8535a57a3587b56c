// Package store persists reservations and recordings in a single catalogue
// document, atomically replaced on every write, plus the recording
// directories it owns under the data root.
package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/airwavehq/aircheck/internal/fault"
	"github.com/airwavehq/aircheck/internal/fsutil"
	"github.com/airwavehq/aircheck/internal/log"
)

const catalogueFile = "catalogue.json"

// Store owns all persisted entities. Writers serialise through the mutex
// and replace the catalogue copy-on-write (temp file, fsync, rename).
type Store struct {
	mu       sync.RWMutex
	dataRoot string
	logger   zerolog.Logger

	reservations map[string]Reservation
	recordings   map[string]Recording
}

// Open loads (or initialises) the catalogue under dataRoot and runs startup
// recovery: staging leftovers are discarded, orphaned recording directories
// deleted, and rows whose directory vanished dropped.
func Open(dataRoot string) (*Store, error) {
	s := &Store{
		dataRoot:     dataRoot,
		logger:       log.WithComponent("store"),
		reservations: make(map[string]Reservation),
		recordings:   make(map[string]Recording),
	}
	for _, dir := range []string{dataRoot, s.RecordingsRoot(), s.StagingRoot()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fault.Wrap(fault.StorageIO, "store.open", err)
		}
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

// RecordingsRoot returns the directory holding committed recordings.
func (s *Store) RecordingsRoot() string { return filepath.Join(s.dataRoot, "recordings") }

// StagingRoot returns the directory for in-flight capture output.
func (s *Store) StagingRoot() string { return filepath.Join(s.dataRoot, "staging") }

// RecordingDir resolves a recording's directory below the recordings root.
func (s *Store) RecordingDir(rec Recording) (string, error) {
	return fsutil.ConfineRelPath(s.RecordingsRoot(), rec.Dir)
}

func (s *Store) cataloguePath() string { return filepath.Join(s.dataRoot, catalogueFile) }

func (s *Store) load() error {
	raw, err := os.ReadFile(s.cataloguePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fault.Wrap(fault.StorageIO, "store.load", err)
	}
	var cat catalogue
	if err := json.Unmarshal(raw, &cat); err != nil {
		return fault.Wrap(fault.StorageIO, "store.load", err)
	}
	for _, r := range cat.Reservations {
		s.reservations[r.ID] = r
	}
	for _, rec := range cat.Recordings {
		s.recordings[rec.ID] = rec
	}
	return nil
}

// persist writes the catalogue atomically. Callers must hold the write lock.
func (s *Store) persist() error {
	cat := catalogue{
		Reservations: s.sortedReservationsLocked(),
		Recordings:   s.sortedRecordingsLocked(),
	}
	raw, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return fault.Wrap(fault.StorageIO, "store.persist", err)
	}
	// renameio: temp file in the same directory, fsync, atomic rename.
	if err := renameio.WriteFile(s.cataloguePath(), raw, 0o644); err != nil {
		return fault.Wrap(fault.StorageIO, "store.persist", err)
	}
	return nil
}

func (s *Store) sortedReservationsLocked() []Reservation {
	out := make([]Reservation, 0, len(s.reservations))
	for _, r := range s.reservations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) sortedRecordingsLocked() []Recording {
	out := make([]Recording, 0, len(s.recordings))
	for _, rec := range s.recordings {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListReservations returns all reservations in created_at order.
func (s *Store) ListReservations() []Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedReservationsLocked()
}

// GetReservation looks one reservation up by id.
func (s *Store) GetReservation(id string) (Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return Reservation{}, fault.New(fault.NotFound, "store.reservation", id)
	}
	return r, nil
}

// CreateReservation inserts a new reservation. A duplicate id, or a
// single-event reservation for a broadcast event that is already pending or
// in progress, is a Conflict.
func (s *Store) CreateReservation(r Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reservations[r.ID]; exists {
		return fault.New(fault.Conflict, "store.create", "duplicate reservation id "+r.ID)
	}
	if r.Type == TypeSingleEvent {
		beid := r.SingleEvent.Event.BroadcastEventID
		for _, other := range s.reservations {
			if other.Type != TypeSingleEvent {
				continue
			}
			if other.Status != StatusPending && other.Status != StatusInProgress {
				continue
			}
			if other.SingleEvent.Event.BroadcastEventID == beid {
				return fault.New(fault.Conflict, "store.create",
					"broadcast event "+beid+" already reserved by "+other.ID)
			}
		}
	}
	s.reservations[r.ID] = r
	if err := s.persist(); err != nil {
		delete(s.reservations, r.ID)
		return err
	}
	return nil
}

// PutReservation upserts a reservation (used by the scheduler for status
// transitions).
func (s *Store) PutReservation(r Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.reservations[r.ID]
	s.reservations[r.ID] = r
	if err := s.persist(); err != nil {
		if existed {
			s.reservations[r.ID] = prev
		} else {
			delete(s.reservations, r.ID)
		}
		return err
	}
	return nil
}

// SetReservationStatus transitions one reservation's status.
func (s *Store) SetReservationStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return fault.New(fault.NotFound, "store.status", id)
	}
	prev := r.Status
	r.Status = status
	s.reservations[id] = r
	if err := s.persist(); err != nil {
		r.Status = prev
		s.reservations[id] = r
		return err
	}
	return nil
}

// DeleteReservation removes a reservation and returns the removed value.
func (s *Store) DeleteReservation(id string) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return Reservation{}, fault.New(fault.NotFound, "store.delete", id)
	}
	delete(s.reservations, id)
	if err := s.persist(); err != nil {
		s.reservations[id] = r
		return Reservation{}, err
	}
	return r, nil
}

// AppendWatchChildren extends a series watch's seen set and inserts its new
// child reservations in one catalogue write. On failure nothing changes.
func (s *Store) AppendWatchChildren(watchID string, children []Reservation, seen []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	watch, ok := s.reservations[watchID]
	if !ok {
		return fault.New(fault.NotFound, "store.watch", watchID)
	}
	if watch.Type != TypeSeriesWatch {
		return fault.New(fault.Conflict, "store.watch", watchID+" is not a series watch")
	}

	prevWatch := watch
	updated := *watch.SeriesWatch
	merged := append([]string{}, updated.SeenBroadcastEventIDs...)
	for _, id := range seen {
		if !contains(merged, id) {
			merged = append(merged, id)
		}
	}
	sort.Strings(merged)
	updated.SeenBroadcastEventIDs = merged
	watch.SeriesWatch = &updated
	s.reservations[watchID] = watch
	for _, child := range children {
		s.reservations[child.ID] = child
	}
	if err := s.persist(); err != nil {
		s.reservations[watchID] = prevWatch
		for _, child := range children {
			delete(s.reservations, child.ID)
		}
		return err
	}
	return nil
}

// ListRecordings returns all recordings in created_at order.
func (s *Store) ListRecordings() []Recording {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedRecordingsLocked()
}

// GetRecording looks one recording up by id.
func (s *Store) GetRecording(id string) (Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recordings[id]
	if !ok {
		return Recording{}, fault.New(fault.NotFound, "store.recording", id)
	}
	return rec, nil
}

// UpdateRecordingMetadata applies a partial patch to a recording's metadata
// map and returns the updated row.
func (s *Store) UpdateRecordingMetadata(id string, patch map[string]string) (Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recordings[id]
	if !ok {
		return Recording{}, fault.New(fault.NotFound, "store.metadata", id)
	}
	prev := rec.Metadata
	merged := make(map[string]string, len(prev)+len(patch))
	for k, v := range prev {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	rec.Metadata = merged
	s.recordings[id] = rec
	if err := s.persist(); err != nil {
		rec.Metadata = prev
		s.recordings[id] = rec
		return Recording{}, err
	}
	return rec, nil
}

// DeleteRecording removes the catalogue row and the recording directory.
func (s *Store) DeleteRecording(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recordings[id]
	if !ok {
		return fault.New(fault.NotFound, "store.delete_recording", id)
	}
	delete(s.recordings, id)
	if err := s.persist(); err != nil {
		s.recordings[id] = rec
		return err
	}
	if dir, err := s.RecordingDir(rec); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn().Err(err).Str("recording_id", id).Msg("failed to remove recording directory")
		}
	}
	return nil
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
