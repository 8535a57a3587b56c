package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfUnwrapsThroughLayers(t *testing.T) {
	base := New(Conflict, "store.create", "duplicate id")
	wrapped := fmt.Errorf("handler: %w", base)

	assert.Equal(t, Conflict, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, Conflict))
	assert.False(t, IsKind(wrapped, NotFound))
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, Internal))
}

func TestInvalidCarriesField(t *testing.T) {
	err := Invalid("api.reserve", "event.endDate", "end must be after start")

	var fe *Error
	assert.ErrorAs(t, err, &fe)
	assert.Equal(t, BadRequest, fe.Kind)
	assert.Equal(t, "event.endDate", fe.Field)
	assert.Contains(t, err.Error(), "event.endDate")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(StorageIO, "store.persist", cause)
	assert.ErrorIs(t, err, cause)
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{BadRequest, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{Conflict, http.StatusConflict},
		{UpstreamUnavailable, http.StatusBadGateway},
		{UpstreamMalformed, http.StatusBadGateway},
		{CaptureFailed, http.StatusInternalServerError},
		{StorageIO, http.StatusInternalServerError},
		{Canceled, 499},
		{Internal, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, HTTPStatus(tc.kind), string(tc.kind))
	}
}
