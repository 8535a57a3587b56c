package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/airwavehq/aircheck/internal/fault"
	"github.com/airwavehq/aircheck/internal/log"
	"github.com/airwavehq/aircheck/internal/nhk"
)

// errorBody is the wire form of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// classify folds upstream sentinel errors into the shared taxonomy so the
// HTTP mapping has a single source of truth.
func classify(err error) (fault.Kind, string) {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fe.Kind, fe.Field
	}
	switch {
	case errors.Is(err, nhk.ErrNotFound):
		return fault.NotFound, ""
	case errors.Is(err, nhk.ErrMalformed):
		return fault.UpstreamMalformed, ""
	case errors.Is(err, nhk.ErrUnavailable), errors.Is(err, nhk.ErrUpstream):
		return fault.UpstreamUnavailable, ""
	}
	return fault.Internal, ""
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind, field := classify(err)
	status := fault.HTTPStatus(kind)

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		l := log.FromContext(r.Context())
		l.Error().Err(err).Msg("request failed")
		// Internal detail stays in the log.
		msg = "internal error"
		if kind == fault.UpstreamUnavailable || kind == fault.UpstreamMalformed {
			msg = "upstream unavailable"
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Kind:    string(kind),
		Message: msg,
		Field:   field,
	}})
}

// writeErrorLogOnly is for failures after the response has started
// streaming, when the status line is already on the wire.
func writeErrorLogOnly(r *http.Request, err error) {
	l := log.FromContext(r.Context())
	l.Error().Err(err).Msg("streaming response failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
