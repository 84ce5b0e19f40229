package scheduler

import (
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures exponential backoff between failed job attempts
// (spec §4.6: "initial · base^(attempt−1), capped at max_delay, ±50% jitter").
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
}

// DefaultRetryConfig matches spec §6's retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      5,
		InitialDelay:    time.Second,
		MaxDelay:        5 * time.Minute,
		ExponentialBase: 2.0,
	}
}

// backoffDelay computes the delay before the attempt'th retry (1-indexed),
// capped at MaxDelay and jittered by ±50%.
func backoffDelay(cfg RetryConfig, attempt int, jitter func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := cfg.ExponentialBase
	if base <= 0 {
		base = DefaultRetryConfig().ExponentialBase
	}
	initial := cfg.InitialDelay
	if initial <= 0 {
		initial = DefaultRetryConfig().InitialDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultRetryConfig().MaxDelay
	}

	delay := float64(initial) * math.Pow(base, float64(attempt-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	j := jitter()
	// j in [-1, 1] maps to a ±50% swing around delay.
	delay = delay * (1 + 0.5*j)
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func defaultJitter() float64 {
	return rand.Float64()*2 - 1
}
