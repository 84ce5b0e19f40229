package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func noJitter() float64 { return 0 }

func TestBackoffDelayExponential(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Hour, ExponentialBase: 2}
	require.Equal(t, time.Second, backoffDelay(cfg, 1, noJitter))
	require.Equal(t, 2*time.Second, backoffDelay(cfg, 2, noJitter))
	require.Equal(t, 4*time.Second, backoffDelay(cfg, 3, noJitter))
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 20, InitialDelay: time.Second, MaxDelay: 5 * time.Second, ExponentialBase: 2}
	require.Equal(t, 5*time.Second, backoffDelay(cfg, 10, noJitter))
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	cfg := DefaultRetryConfig()
	for _, j := range []float64{-1, -0.5, 0, 0.5, 1} {
		d := backoffDelay(cfg, 1, func() float64 { return j })
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, cfg.InitialDelay*2)
	}
}
