package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"siteguard/internal/breaker"
	"siteguard/internal/clock"
	"siteguard/internal/logging"
	"siteguard/internal/model"
)

// Config tunes the scheduler's concurrency and timing behavior.
type Config struct {
	MaxConcurrentJobs   int
	MisfireGraceSeconds int
	Retry               RetryConfig
	Breaker             breaker.Config
	PollInterval        time.Duration
}

// DefaultConfig matches spec §6's scheduler defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs:   10,
		MisfireGraceSeconds: 30,
		Retry:               DefaultRetryConfig(),
		Breaker:             breaker.DefaultConfig(),
		PollInterval:        time.Second,
	}
}

// CheckFunc performs one site check (the workflow engine's entrypoint).
// A non-nil error is treated as a failed run for retry/breaker purposes.
type CheckFunc func(ctx context.Context, siteID string) error

// siteEntry is the scheduler's per-site control block. All mutation goes
// through the scheduler's single control loop, not ad hoc locking per site
// (spec §9: "avoid a lock-per-site by funneling state changes through the
// scheduler's control channel").
type siteEntry struct {
	job      model.Job
	schedule Schedule
	breaker  *breaker.Breaker
	running  bool
	paused   bool
}

// command is a control-channel message mutating scheduler state.
type command struct {
	kind     string // "register", "unregister", "pause", "resume", "trigger"
	siteID   string
	job      model.Job
	schedule Schedule
	resultCh chan error
}

// Scheduler drives per-site checks honoring schedules, concurrency caps,
// retries, and circuit breakers (spec §4.6).
type Scheduler struct {
	cfg   Config
	clk   clock.Clock
	check CheckFunc

	mu       sync.Mutex
	sites    map[string]*siteEntry
	inFlight map[string]bool

	sem chan struct{}

	commands chan command
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Scheduler. check is invoked once per due, non-paused,
// non-in-flight site.
func New(cfg Config, clk clock.Clock, check CheckFunc) *Scheduler {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = DefaultConfig().MaxConcurrentJobs
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		cfg:      cfg,
		clk:      clk,
		check:    check,
		sites:    make(map[string]*siteEntry),
		inFlight: make(map[string]bool),
		sem:      make(chan struct{}, cfg.MaxConcurrentJobs),
		commands: make(chan command, 64),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the scheduler's control loop in the background.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the control loop. In-flight checks are not cancelled; callers
// wanting a bounded drain should track workflow completion separately
// (spec §5's drain deadline is the orchestrator's responsibility).
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// RegisterSite adds a site to the schedule, computing its first next_run_at.
func (s *Scheduler) RegisterSite(site model.Site) error {
	sched, err := ParseSchedule(site.Schedule)
	if err != nil {
		return fmt.Errorf("register site %s: %w", site.ID, err)
	}
	job := model.Job{
		ID:         site.ID,
		SiteID:     site.ID,
		NextRunAt:  sched.NextFire(s.clk.Now()),
		Status:     model.JobScheduled,
		Priority:   site.Priority,
		MaxRetries: s.cfg.Retry.MaxRetries,
	}
	return s.send(command{kind: "register", siteID: site.ID, job: job, schedule: sched})
}

// UnregisterSite removes a site's job entirely.
func (s *Scheduler) UnregisterSite(siteID string) error {
	return s.send(command{kind: "unregister", siteID: siteID})
}

// Pause marks a site's job paused; paused jobs never count against
// concurrency and are skipped by the due-job scan.
func (s *Scheduler) Pause(siteID string) error {
	return s.send(command{kind: "pause", siteID: siteID})
}

// Resume un-pauses a site's job and re-arms its next_run_at.
func (s *Scheduler) Resume(siteID string) error {
	return s.send(command{kind: "resume", siteID: siteID})
}

// TriggerImmediate forces next_run_at to now, bypassing the schedule (the
// per-site coalescing and concurrency cap still apply).
func (s *Scheduler) TriggerImmediate(siteID string) error {
	return s.send(command{kind: "trigger", siteID: siteID})
}

func (s *Scheduler) send(cmd command) error {
	cmd.resultCh = make(chan error, 1)
	select {
	case s.commands <- cmd:
	case <-s.stopCh:
		return fmt.Errorf("scheduler stopped")
	}
	select {
	case err := <-cmd.resultCh:
		return err
	case <-s.stopCh:
		return fmt.Errorf("scheduler stopped")
	}
}

// JobStatus returns a snapshot of a site's job, for status reporting.
func (s *Scheduler) JobStatus(siteID string) (model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sites[siteID]
	if !ok {
		return model.Job{}, false
	}
	return entry.job, true
}

// BreakerState reports a site's circuit breaker state and consecutive
// failure count, for status/health reporting (SPEC_FULL §6).
func (s *Scheduler) BreakerState(siteID string) (breaker.State, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sites[siteID]
	if !ok {
		return breaker.Closed, 0, false
	}
	return entry.breaker.CurrentState(), entry.breaker.ConsecutiveFailures(), true
}

// ActiveJobCount returns the number of checks currently in flight.
func (s *Scheduler) ActiveJobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, in := range s.inFlight {
		if in {
			n++
		}
	}
	return n
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case cmd := <-s.commands:
			s.handleCommand(cmd)
		case <-ticker.C:
			s.dispatchDue()
		}
	}
}

func (s *Scheduler) handleCommand(cmd command) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.kind {
	case "register":
		s.sites[cmd.siteID] = &siteEntry{job: cmd.job, schedule: cmd.schedule, breaker: breaker.New(s.cfg.Breaker, s.clk)}
		logging.Scheduler("registered job for site %s, next run %s", cmd.siteID, cmd.job.NextRunAt)
		cmd.resultCh <- nil
	case "unregister":
		delete(s.sites, cmd.siteID)
		delete(s.inFlight, cmd.siteID)
		cmd.resultCh <- nil
	case "pause":
		if entry, ok := s.sites[cmd.siteID]; ok {
			entry.paused = true
			entry.job.Status = model.JobPaused
			cmd.resultCh <- nil
		} else {
			cmd.resultCh <- fmt.Errorf("site %s not registered", cmd.siteID)
		}
	case "resume":
		if entry, ok := s.sites[cmd.siteID]; ok {
			entry.paused = false
			entry.job.Status = model.JobScheduled
			entry.job.NextRunAt = entry.schedule.NextFire(s.clk.Now())
			cmd.resultCh <- nil
		} else {
			cmd.resultCh <- fmt.Errorf("site %s not registered", cmd.siteID)
		}
	case "trigger":
		if entry, ok := s.sites[cmd.siteID]; ok {
			entry.job.NextRunAt = s.clk.Now()
			cmd.resultCh <- nil
		} else {
			cmd.resultCh <- fmt.Errorf("site %s not registered", cmd.siteID)
		}
	default:
		cmd.resultCh <- fmt.Errorf("unknown command %q", cmd.kind)
	}
}

// dispatchDue scans all registered sites and fires checks for any that are
// due, not paused, not already in flight, and whose breaker allows it.
func (s *Scheduler) dispatchDue() {
	now := s.clk.Now()
	misfireFloor := now.Add(-time.Duration(s.cfg.MisfireGraceSeconds) * time.Second)

	s.mu.Lock()
	var toRun []string
	for siteID, entry := range s.sites {
		if entry.paused || entry.running || s.inFlight[siteID] {
			continue
		}
		if entry.job.NextRunAt.After(now) {
			continue
		}
		if entry.job.NextRunAt.Before(misfireFloor) {
			// Dropped misfire: too old to still be worth running. Reschedule
			// from now rather than compounding a backlog.
			entry.job.NextRunAt = entry.schedule.NextFire(now)
			logging.SchedulerDebug("dropped stale misfire for site %s, rescheduled to %s", siteID, entry.job.NextRunAt)
			continue
		}
		if !entry.breaker.Allow() {
			entry.job.Status = model.JobCircuitOpen
			continue
		}
		entry.running = true
		s.inFlight[siteID] = true
		toRun = append(toRun, siteID)
	}
	s.mu.Unlock()

	for _, siteID := range toRun {
		select {
		case s.sem <- struct{}{}:
			s.wg.Add(1)
			go s.runCheck(siteID)
		default:
			// Global cap saturated; put it back for the next poll tick.
			s.mu.Lock()
			if entry, ok := s.sites[siteID]; ok {
				entry.running = false
			}
			delete(s.inFlight, siteID)
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) runCheck(siteID string) {
	defer s.wg.Done()
	defer func() { <-s.sem }()

	s.mu.Lock()
	entry, ok := s.sites[siteID]
	if !ok {
		s.mu.Unlock()
		return
	}
	entry.job.Status = model.JobRunning
	entry.job.LastRunAt = s.clk.Now()
	s.mu.Unlock()

	ctx := context.Background()
	err := s.check(ctx, siteID)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok = s.sites[siteID]
	if !ok {
		delete(s.inFlight, siteID)
		return
	}
	entry.running = false
	delete(s.inFlight, siteID)

	if err == nil {
		entry.breaker.RecordSuccess()
		entry.job.Status = model.JobScheduled
		entry.job.LastSuccessAt = s.clk.Now()
		entry.job.RetryCount = 0
		entry.job.ConsecutiveFailures = 0
		entry.job.NextRunAt = entry.schedule.NextFire(s.clk.Now())
		logging.SchedulerDebug("check succeeded for site %s, next run %s", siteID, entry.job.NextRunAt)
		return
	}

	entry.breaker.RecordFailure()
	entry.job.ConsecutiveFailures++
	logging.Get(logging.CategoryScheduler).Warn("check failed for site %s: %v", siteID, err)

	if entry.breaker.CurrentState() == breaker.Open {
		entry.job.Status = model.JobCircuitOpen
		return
	}

	if entry.job.RetryCount >= entry.job.MaxRetries {
		entry.job.Status = model.JobFailed
		entry.job.NextRunAt = entry.schedule.NextFire(s.clk.Now())
		entry.job.RetryCount = 0
		return
	}

	entry.job.RetryCount++
	entry.job.Status = model.JobScheduled
	delay := backoffDelay(s.cfg.Retry, entry.job.RetryCount, defaultJitter)
	entry.job.NextRunAt = s.clk.Now().Add(delay)
}
