package taskerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryableByKind(t *testing.T) {
	tests := []struct {
		kind      Kind
		retryable bool
	}{
		{Validation, false},
		{Integrity, false},
		{Transient, true},
		{LockContention, true},
		{Timeout, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := Newf(tt.kind, "boom")
			assert.Equal(t, tt.retryable, err.Retryable())
			assert.Equal(t, !tt.retryable, Fatal(err))
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestUnclassifiedDefaultsToTransient(t *testing.T) {
	plain := errors.New("connection reset")
	assert.False(t, Fatal(plain))
	assert.Equal(t, Transient, KindOf(plain))
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	inner := New(Validation, errors.New("missing message_id"))
	wrapped := fmt.Errorf("process_email: %w", inner)
	assert.True(t, Fatal(wrapped))
	assert.Equal(t, Validation, KindOf(wrapped))
	assert.ErrorIs(t, wrapped, inner)
}
