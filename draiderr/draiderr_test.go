package draiderr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesByKindOnly(t *testing.T) {
	err := New(KindNotFound, "no entry for children=%d", 9)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrInvalidInput))
}

func TestWrap_PreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("disk offline")
	err := Wrap(KindIoError, cause, "child %d read failed", 3)

	assert.True(t, errors.Is(err, ErrIoError))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "disk offline")
}

func TestError_FormatsKindAndMessage(t *testing.T) {
	err := New(KindChecksumMismatch, "got %#x want %#x", 0xdead, 0xbeef)
	assert.Contains(t, err.Error(), "ChecksumMismatch")
	assert.Contains(t, err.Error(), "0xdead")
}
