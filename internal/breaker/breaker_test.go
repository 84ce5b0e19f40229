package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"siteguard/internal/clock"
)

func TestOpensAfterThreshold(t *testing.T) {
	fc := clock.NewFake(time.Now())
	b := New(Config{FailureThreshold: 3, RecoveryTimeout: time.Minute}, fc)

	require.True(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, Closed, b.CurrentState())
	b.RecordFailure()
	require.Equal(t, Closed, b.CurrentState())
	b.RecordFailure()
	require.Equal(t, Open, b.CurrentState())
	require.False(t, b.Allow())
}

func TestHalfOpenProbeSucceeds(t *testing.T) {
	fc := clock.NewFake(time.Now())
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Second}, fc)

	b.RecordFailure()
	require.Equal(t, Open, b.CurrentState())
	require.False(t, b.Allow())

	fc.Advance(11 * time.Second)
	require.True(t, b.Allow(), "probe should be allowed after recovery timeout")
	require.Equal(t, HalfOpen, b.CurrentState())

	// While the probe is in flight, no other caller may proceed.
	require.False(t, b.Allow())

	b.RecordSuccess()
	require.Equal(t, Closed, b.CurrentState())
	require.Equal(t, 0, b.ConsecutiveFailures())
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	fc := clock.NewFake(time.Now())
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: 5 * time.Second}, fc)

	b.RecordFailure()
	fc.Advance(6 * time.Second)
	require.True(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, Open, b.CurrentState())
}

func TestResetForcesClosed(t *testing.T) {
	fc := clock.NewFake(time.Now())
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute}, fc)
	b.RecordFailure()
	require.Equal(t, Open, b.CurrentState())
	b.Reset()
	require.Equal(t, Closed, b.CurrentState())
	require.True(t, b.Allow())
}

func TestDefaultsAppliedForZeroConfig(t *testing.T) {
	b := New(Config{}, nil)
	require.Equal(t, DefaultConfig().FailureThreshold, b.cfg.FailureThreshold)
	require.Equal(t, DefaultConfig().RecoveryTimeout, b.cfg.RecoveryTimeout)
}
