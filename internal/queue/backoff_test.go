package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialDelay(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
		{60, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestLinearDelay(t *testing.T) {
	p := RetryPolicy{Strategy: StrategyLinear, Initial: 2 * time.Second, Cap: 7 * time.Second}

	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 6*time.Second, p.Delay(3))
	assert.Equal(t, 7*time.Second, p.Delay(4)) // capped
}

func TestDelayDefaults(t *testing.T) {
	var p RetryPolicy
	assert.Equal(t, time.Second, p.Delay(0), "zero-value policy falls back to sane defaults")
}
