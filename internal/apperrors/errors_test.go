package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_FormatWithCause(t *testing.T) {
	err := Persistence("save failed", errors.New("disk full"))
	assert.Equal(t, "[PERSISTENCE_FAILURE:persistence_failure] save failed: disk full", err.Error())
}

func TestError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", Persistence("save failed", cause))

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, Persistence("other message", nil))
	assert.NotErrorIs(t, err, Validation("x"))
}

func TestKindAndCodeOf_ForeignError(t *testing.T) {
	err := errors.New("plain")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, "internal server error", PublicMessage(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{Blocked("held"), http.StatusForbidden},
		{SessionRequired(), http.StatusUnauthorized},
		{Validation("bad"), http.StatusBadRequest},
		{New(KindConflict, CodeNoOpenSegment, "nothing open"), http.StatusConflict},
		{Persistence("x", nil), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, HTTPStatus(tt.err), tt.err.Error())
	}
}
