package api

import (
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/airwavehq/aircheck/internal/capture"
	"github.com/airwavehq/aircheck/internal/fault"
	"github.com/airwavehq/aircheck/internal/fsutil"
)

// handlePlaylist serves a recording's finalised media playlist. Committed
// playlists always carry ENDLIST, so this is a plain file serve.
func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.recordingDir(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	http.ServeFile(w, r, filepath.Join(dir, capture.PlaylistName))
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.recordingDir(w, r)
	if !ok {
		return
	}
	segment := chi.URLParam(r, "segment")
	path, err := fsutil.ConfineRelPath(filepath.Join(dir, capture.SegmentsDir), segment)
	if err != nil {
		writeError(w, r, fault.Invalid("api.segment", "segment", "invalid segment path"))
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	http.ServeFile(w, r, path)
}

func (s *Server) recordingDir(w http.ResponseWriter, r *http.Request) (string, bool) {
	rec, err := s.store.GetRecording(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return "", false
	}
	dir, err := s.store.RecordingDir(rec)
	if err != nil {
		writeError(w, r, fault.Wrap(fault.StorageIO, "api.static", err))
		return "", false
	}
	return dir, true
}
