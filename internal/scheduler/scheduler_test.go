package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"siteguard/internal/clock"
	"siteguard/internal/model"
)

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.FailNow(t, "condition not met before timeout")
}

func TestRegisterAndUnregisterSite(t *testing.T) {
	defer goleak.VerifyNone(t)
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(DefaultConfig(), clk, func(ctx context.Context, siteID string) error { return nil })
	s.Start()
	defer s.Stop()

	site := model.Site{ID: "site-1", Schedule: "5m"}
	require.NoError(t, s.RegisterSite(site))

	job, ok := s.JobStatus("site-1")
	require.True(t, ok)
	require.Equal(t, model.JobScheduled, job.Status)

	require.NoError(t, s.UnregisterSite("site-1"))
	_, ok = s.JobStatus("site-1")
	require.False(t, ok)
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	defer goleak.VerifyNone(t)
	clk := clock.NewFake(time.Now())
	s := New(DefaultConfig(), clk, func(ctx context.Context, siteID string) error { return nil })
	s.Start()
	defer s.Stop()

	err := s.RegisterSite(model.Site{ID: "bad", Schedule: "not-a-schedule"})
	require.Error(t, err)
}

func TestDueJobRunsAndReschedules(t *testing.T) {
	defer goleak.VerifyNone(t)
	var calls int32
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	s := New(cfg, clk, func(ctx context.Context, siteID string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	s.Start()
	defer s.Stop()

	require.NoError(t, s.RegisterSite(model.Site{ID: "site-due", Schedule: "1s"}))
	require.NoError(t, s.TriggerImmediate("site-due"))

	waitForCondition(t, time.Second, func() bool {
		return atomic.LoadInt32(&calls) >= 1
	})

	job, ok := s.JobStatus("site-due")
	require.True(t, ok)
	require.Equal(t, model.JobScheduled, job.Status)
}

func TestPauseSkipsDueJobs(t *testing.T) {
	defer goleak.VerifyNone(t)
	var calls int32
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	s := New(cfg, clk, func(ctx context.Context, siteID string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	s.Start()
	defer s.Stop()

	require.NoError(t, s.RegisterSite(model.Site{ID: "site-paused", Schedule: "1s"}))
	require.NoError(t, s.Pause("site-paused"))
	require.NoError(t, s.TriggerImmediate("site-paused"))

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&calls))

	job, _ := s.JobStatus("site-paused")
	require.Equal(t, model.JobPaused, job.Status)
}

func TestFailedCheckSchedulesRetryWithBackoff(t *testing.T) {
	defer goleak.VerifyNone(t)
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.Retry = RetryConfig{MaxRetries: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, ExponentialBase: 2}
	s := New(cfg, clk, func(ctx context.Context, siteID string) error {
		return require.AnError
	})
	s.Start()
	defer s.Stop()

	require.NoError(t, s.RegisterSite(model.Site{ID: "site-fail", Schedule: "1s"}))
	require.NoError(t, s.TriggerImmediate("site-fail"))

	waitForCondition(t, time.Second, func() bool {
		job, ok := s.JobStatus("site-fail")
		return ok && job.RetryCount >= 1
	})

	job, _ := s.JobStatus("site-fail")
	require.Equal(t, model.JobScheduled, job.Status)
	require.True(t, job.NextRunAt.After(clk.Now()))
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	defer goleak.VerifyNone(t)
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.Retry = RetryConfig{MaxRetries: 100, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 1}
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.RecoveryTimeout = time.Hour
	s := New(cfg, clk, func(ctx context.Context, siteID string) error {
		return require.AnError
	})
	s.Start()
	defer s.Stop()

	require.NoError(t, s.RegisterSite(model.Site{ID: "site-breaker", Schedule: "1s"}))

	// The fake clock never advances on its own, so each failed attempt's
	// backoff pushes next_run_at into a "future" the frozen clock will never
	// reach; force every attempt with TriggerImmediate instead of waiting on
	// the schedule.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := s.JobStatus("site-breaker")
		if ok && job.Status == model.JobCircuitOpen {
			break
		}
		_ = s.TriggerImmediate("site-breaker")
		time.Sleep(10 * time.Millisecond)
	}

	job, ok := s.JobStatus("site-breaker")
	require.True(t, ok)
	require.Equal(t, model.JobCircuitOpen, job.Status)
}
