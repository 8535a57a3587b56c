package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/airwavehq/aircheck/internal/fault"
	"github.com/airwavehq/aircheck/internal/store"
)

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	list := s.store.ListRecordings()
	if list == nil {
		list = []store.Recording{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handlePatchRecordingMetadata(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch map[string]string
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	if len(patch) == 0 {
		writeError(w, r, fault.Invalid("api.metadata", "body", "patch must not be empty"))
		return
	}
	rec, err := s.store.UpdateRecordingMetadata(id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDownloadRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetRecording(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	path, err := s.converter.ToM4A(r.Context(), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mp4")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", downloadName(rec)))
	http.ServeFile(w, r, path)
}

type bulkDownloadRequest struct {
	IDs []string `json:"ids"`
}

// handleBulkDownload streams a stored ZIP of the requested recordings.
// Conversions run before the first response byte so missing recordings and
// converter failures still produce a proper error envelope.
func (s *Server) handleBulkDownload(w http.ResponseWriter, r *http.Request) {
	var req bulkDownloadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, r, fault.Invalid("api.bulk", "ids", "at least one recording id required"))
		return
	}

	recs := make([]store.Recording, 0, len(req.IDs))
	for _, id := range req.IDs {
		rec, err := s.store.GetRecording(id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		recs = append(recs, rec)
	}
	for _, rec := range recs {
		if _, err := s.converter.ToM4A(r.Context(), rec); err != nil {
			writeError(w, r, err)
			return
		}
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="recordings.zip"`)
	if err := s.converter.WriteZip(r.Context(), w, recs); err != nil {
		// Headers are gone; all we can do is log and drop the connection.
		writeErrorLogOnly(r, err)
	}
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteRecording(id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// downloadName derives a safe attachment filename from the recording title.
func downloadName(rec store.Recording) string {
	title := rec.Metadata["title"]
	if title == "" {
		title = rec.ID
	}
	title = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '"', '\x00':
			return '_'
		}
		return r
	}, title)
	return title + ".m4a"
}
