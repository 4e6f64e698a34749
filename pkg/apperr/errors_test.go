package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"BadRequest", BadRequest("size mismatch for %s", "one"), KindBadRequest},
		{"Forbidden", Forbidden("nope"), KindForbidden},
		{"NotFound", NotFound("no such file"), KindNotFound},
		{"Conflict", Conflict(time.Second, "not expired"), KindConflict},
		{"Wrapped", fmt.Errorf("outer: %w", NotFound("inner")), KindNotFound},
		{"Plain error", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestInternal_HidesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal(cause, "metadata lookup failed")

	assert.Equal(t, "metadata lookup failed", Message(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "internal server error", Message(cause))
}

func TestRetryAfter(t *testing.T) {
	err := Conflict(6*time.Second, "upload window still open")
	assert.Equal(t, 6*time.Second, RetryAfter(err))
	assert.Equal(t, time.Duration(0), RetryAfter(BadRequest("x")))
}
