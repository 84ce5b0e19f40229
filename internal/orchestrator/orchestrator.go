// Package orchestrator owns the monitoring core's lifecycle (spec §4.8):
// startup/shutdown ordering across the store, scheduler, and workflow
// engine, and the operator-facing surface (register/pause/trigger/status).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"siteguard/internal/clock"
	"siteguard/internal/logging"
	"siteguard/internal/model"
	"siteguard/internal/scheduler"
	"siteguard/internal/store"
	"siteguard/internal/workflow"
)

// Config tunes orchestrator-level behavior.
type Config struct {
	// DrainTimeout bounds how long Stop waits for in-flight checks before
	// returning anyway (spec §4.8 default 30s).
	DrainTimeout time.Duration
}

// DefaultConfig matches spec §6's orchestrator defaults.
func DefaultConfig() Config {
	return Config{DrainTimeout: 30 * time.Second}
}

// ComponentHealth reports one subsystem's liveness for Status() (SPEC_FULL
// §6 supplemented feature).
type ComponentHealth struct {
	Name    string
	Healthy bool
	Detail  string
}

// SiteStatus summarizes one registered site for Status().
type SiteStatus struct {
	SiteID              string
	Job                 model.Job
	BreakerState        string
	ConsecutiveFailures int
}

// Status is the orchestrator's full operator-facing snapshot.
type Status struct {
	Uptime     time.Duration
	ActiveJobs int
	Components []ComponentHealth
	Sites      []SiteStatus
}

// Orchestrator wires together the store, scheduler, and workflow engine and
// owns their startup/shutdown order: store opens first and closes last;
// the scheduler starts only once the workflow engine's dependencies
// (browser pool, embedding engine) are ready, and stops before them on
// shutdown (spec §4.8, §9).
type Orchestrator struct {
	cfg Config
	clk clock.Clock

	store     *store.Store
	scheduler *scheduler.Scheduler
	engine    *workflow.Engine

	mu        sync.Mutex
	startedAt time.Time
	running   bool
	paused    bool
}

// New constructs an Orchestrator from already-built components. It does not
// wire the scheduler's CheckFunc: the caller passes CheckFunc(st, engine) to
// scheduler.New before calling New.
func New(cfg Config, clk clock.Clock, st *store.Store, sched *scheduler.Scheduler, engine *workflow.Engine) *Orchestrator {
	if cfg.DrainTimeout <= 0 {
		cfg = DefaultConfig()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Orchestrator{cfg: cfg, clk: clk, store: st, scheduler: sched, engine: engine}
}

// Start brings up the scheduler's control loop and registers every active
// site from the store. The store itself is assumed already open (it has no
// background loop of its own to start).
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.mu.Unlock()

	sites, err := o.store.ListSites()
	if err != nil {
		return fmt.Errorf("list sites at startup: %w", err)
	}

	o.scheduler.Start()

	for _, site := range sites {
		if !site.Active {
			continue
		}
		if err := o.scheduler.RegisterSite(site); err != nil {
			logging.Orchestrator("failed to register site %s at startup: %v", site.ID, err)
		}
	}

	o.mu.Lock()
	o.startedAt = o.clk.Now()
	o.running = true
	o.mu.Unlock()

	logging.Orchestrator("started with %d active site(s)", len(sites))
	return nil
}

// Stop halts the scheduler and waits up to DrainTimeout for in-flight
// checks to finish before returning. Shutdown order is the reverse of
// startup: scheduler stops first (no new checks dispatched), then the
// store is left for the caller to close once Stop returns (spec §4.8:
// "store closes last").
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
		logging.Orchestrator("stopped cleanly")
	case <-time.After(o.cfg.DrainTimeout):
		logging.Get(logging.CategoryOrchestrator).Warn("drain timeout of %s exceeded, returning anyway", o.cfg.DrainTimeout)
	case <-ctx.Done():
		logging.Get(logging.CategoryOrchestrator).Warn("stop context cancelled before drain completed")
	}
	return nil
}

// PauseAll pauses every registered site's job without removing them.
func (o *Orchestrator) PauseAll() error {
	sites, err := o.store.ListSites()
	if err != nil {
		return fmt.Errorf("list sites: %w", err)
	}
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
	var firstErr error
	for _, site := range sites {
		if err := o.scheduler.Pause(site.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ResumeAll resumes every registered site's job.
func (o *Orchestrator) ResumeAll() error {
	sites, err := o.store.ListSites()
	if err != nil {
		return fmt.Errorf("list sites: %w", err)
	}
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	var firstErr error
	for _, site := range sites {
		if err := o.scheduler.Resume(site.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RegisterSite persists a new site and schedules its checks.
func (o *Orchestrator) RegisterSite(site model.Site) error {
	if site.ID == "" {
		site.ID = uuid.NewString()
	}
	if err := o.store.CreateSite(site); err != nil {
		return fmt.Errorf("create site: %w", err)
	}
	if !site.Active {
		return nil
	}
	return o.scheduler.RegisterSite(site)
}

// UnregisterSite removes a site's schedule and deletes it (DeleteSite also
// removes its snapshots/alerts/jobs/vectors).
func (o *Orchestrator) UnregisterSite(siteID string) error {
	if err := o.scheduler.UnregisterSite(siteID); err != nil {
		logging.Orchestrator("unregister from scheduler for site %s: %v (continuing with delete)", siteID, err)
	}
	return o.store.DeleteSite(siteID)
}

// UpdateSite persists changes to a site's configuration and re-registers it
// with the scheduler so schedule/threshold changes take effect immediately.
func (o *Orchestrator) UpdateSite(site model.Site) error {
	if err := o.store.UpdateSite(site); err != nil {
		return fmt.Errorf("update site: %w", err)
	}
	if !site.Active {
		return o.scheduler.UnregisterSite(site.ID)
	}
	return o.scheduler.RegisterSite(site)
}

// TriggerImmediate forces an out-of-band check. When dryRun is true, the
// workflow engine runs through detection (and classification, if
// triggered) but persists nothing and raises no alert — useful for
// threshold tuning (SPEC_FULL §6).
func (o *Orchestrator) TriggerImmediate(ctx context.Context, siteID string, dryRun bool) (workflow.Result, error) {
	if !dryRun {
		if err := o.scheduler.TriggerImmediate(siteID); err != nil {
			return workflow.Result{}, fmt.Errorf("trigger site %s: %w", siteID, err)
		}
		return workflow.Result{SiteID: siteID}, nil
	}

	site, err := o.store.GetSite(siteID)
	if err != nil {
		return workflow.Result{}, fmt.Errorf("get site %s: %w", siteID, err)
	}
	return o.engine.Simulate(ctx, site)
}

// Status reports uptime, in-flight job count, component health, and a
// per-site snapshot of scheduler state for every site registered with the
// scheduler.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	uptime := time.Duration(0)
	if o.running {
		uptime = o.clk.Now().Sub(o.startedAt)
	}
	o.mu.Unlock()

	st := Status{
		Uptime:     uptime,
		ActiveJobs: o.scheduler.ActiveJobCount(),
		Components: o.componentHealth(),
	}

	sites, err := o.store.ListSites()
	if err != nil {
		return st
	}
	for _, site := range sites {
		job, ok := o.scheduler.JobStatus(site.ID)
		if !ok {
			continue // not registered with the scheduler (e.g. inactive)
		}
		state, failures, _ := o.scheduler.BreakerState(site.ID)
		st.Sites = append(st.Sites, SiteStatus{
			SiteID:              site.ID,
			Job:                 job,
			BreakerState:        state.String(),
			ConsecutiveFailures: failures,
		})
	}
	return st
}

func (o *Orchestrator) componentHealth() []ComponentHealth {
	health := []ComponentHealth{{Name: "store", Healthy: o.store != nil, Detail: "sqlite"}}

	o.mu.Lock()
	running := o.running
	o.mu.Unlock()
	health = append(health, ComponentHealth{Name: "scheduler", Healthy: running})
	health = append(health, ComponentHealth{Name: "workflow_engine", Healthy: o.engine != nil})
	return health
}

// CheckFunc returns the closure the scheduler invokes for each due site. It
// is wired in by the caller that constructs both the Scheduler and the
// Orchestrator, since the Scheduler needs a CheckFunc at construction time
// (before the Orchestrator exists).
func CheckFunc(st *store.Store, engine *workflow.Engine) scheduler.CheckFunc {
	return func(ctx context.Context, siteID string) error {
		site, err := st.GetSite(siteID)
		if err != nil {
			return fmt.Errorf("get site %s: %w", siteID, err)
		}
		_, err = engine.Run(ctx, site)
		return err
	}
}
