package main

import (
	"fmt"
	"time"

	"siteguard/internal/breaker"
	"siteguard/internal/browser"
	"siteguard/internal/classifier"
	"siteguard/internal/clock"
	"siteguard/internal/config"
	"siteguard/internal/detector"
	"siteguard/internal/embedding"
	"siteguard/internal/extractor"
	"siteguard/internal/logging"
	"siteguard/internal/model"
	"siteguard/internal/orchestrator"
	"siteguard/internal/scheduler"
	"siteguard/internal/store"
	"siteguard/internal/workflow"
)

// app bundles every wired component so commands can share one assembly path.
type app struct {
	cfg          *config.Config
	store        *store.Store
	browserPool  *browser.Pool
	engine       *workflow.Engine
	scheduler    *scheduler.Scheduler
	orchestrator *orchestrator.Orchestrator
}

// buildApp wires the monitoring core end to end from a loaded Config,
// following the same dependency order the orchestrator expects at startup:
// store, then the workflow engine's collaborators, then the scheduler
// (holding a CheckFunc closure into the engine), then the orchestrator.
func buildApp(cfg *config.Config) (*app, error) {
	st, err := store.NewAtPath(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	browserCfg := browser.DefaultConfig()
	browserCfg.PoolSize = cfg.Browser.PoolSize
	browserCfg.NavigationTimeoutMs = cfg.Browser.NavigationTimeoutMs
	browserCfg.BlockImages = cfg.Browser.BlockImages
	browserCfg.BlockMedia = cfg.Browser.BlockMedia

	pool, err := browser.New(browserCfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("start browser pool: %w", err)
	}

	embedCfg := embedding.DefaultConfig()
	embedCfg.MaxContentLength = cfg.Vectorizer.MaxContentLength
	embedCfg.ChunkThreshold = cfg.Vectorizer.ChunkThreshold
	if cfg.Vectorizer.Dimension > 0 {
		embedCfg.Dimension = cfg.Vectorizer.Dimension
	}
	embedEngine, err := embedding.NewEngine(embedCfg)
	if err != nil {
		pool.Close()
		st.Close()
		return nil, fmt.Errorf("start embedding engine: %w", err)
	}

	var llmClassifier *classifier.LLMClassifier
	if cfg.Classifier.LLMAPIKey != "" {
		llmClassifier, err = classifier.NewLLMClassifier(cfg.Classifier.LLMAPIKey, cfg.Classifier.LLMModel)
		if err != nil {
			pool.Close()
			st.Close()
			return nil, fmt.Errorf("start LLM classifier: %w", err)
		}
	}

	thresholds := detector.Thresholds{
		SimilarityThreshold:     cfg.Detector.SimilarityThreshold,
		StructuralThreshold:     cfg.Detector.StructuralThreshold,
		CriticalChangeThreshold: cfg.Detector.CriticalChangeThreshold,
	}

	clk := clock.New()
	engine := workflow.New(workflow.DefaultConfig(), workflow.Deps{
		BrowserPool:        pool,
		ExtractorConfig:    extractor.DefaultConfig(),
		EmbedEngine:        embedEngine,
		EmbedConfig:        embedCfg,
		RuleClassifier:     classifier.DefaultRuleClassifier(),
		SemanticClassifier: classifier.NewSemanticClassifier(),
		LLMClassifier:      llmClassifier,
		DetectorThresholds: thresholds,
		Store:              st,
		Notifier:           logNotifier{},
		Clock:              clk,
	})

	initialDelay, err := time.ParseDuration(cfg.Retry.InitialDelay)
	if err != nil {
		initialDelay = time.Second
	}
	maxDelay, err := time.ParseDuration(cfg.Retry.MaxDelay)
	if err != nil {
		maxDelay = 5 * time.Minute
	}

	sched := scheduler.New(scheduler.Config{
		MaxConcurrentJobs:   cfg.Scheduler.MaxConcurrentJobs,
		MisfireGraceSeconds: cfg.Scheduler.MisfireGraceSeconds,
		Retry: scheduler.RetryConfig{
			MaxRetries:      cfg.Retry.MaxAttempts,
			InitialDelay:    initialDelay,
			MaxDelay:        maxDelay,
			ExponentialBase: cfg.Retry.ExponentialBase,
		},
		Breaker: breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			RecoveryTimeout:  time.Duration(cfg.Breaker.RecoveryTimeoutSeconds) * time.Second,
		},
	}, clk, orchestrator.CheckFunc(st, engine))

	orch := orchestrator.New(orchestrator.DefaultConfig(), clk, st, sched, engine)

	return &app{
		cfg:          cfg,
		store:        st,
		browserPool:  pool,
		engine:       engine,
		scheduler:    sched,
		orchestrator: orch,
	}, nil
}

func (a *app) Close() {
	a.browserPool.Close()
	a.store.Close()
}

// onConfigReload applies the live-tunable subset of a hot-reloaded Config:
// detector thresholds, per spec §9's "accept an injectable clock" sibling
// requirement that timing/threshold tuning not require a restart (SPEC_FULL
// §3). Scheduler concurrency, browser pool size, and storage path are
// process-lifetime settings and are intentionally not swapped live.
func (a *app) onConfigReload(cfg *config.Config) {
	a.cfg = cfg
	a.engine.UpdateDetectorThresholds(detector.Thresholds{
		SimilarityThreshold:     cfg.Detector.SimilarityThreshold,
		StructuralThreshold:     cfg.Detector.StructuralThreshold,
		CriticalChangeThreshold: cfg.Detector.CriticalChangeThreshold,
	})
}

// logNotifier is the default Notifier: in the absence of an operator-wired
// notification channel (webhook, email, pager), alerts still land in the
// store via CreateAlert; this just surfaces them to the alert log too.
type logNotifier struct{}

func (logNotifier) Emit(a model.Alert) {
	logging.Get(logging.CategoryAlert).Info("alert %s kind=%s severity=%s site=%s: %s", a.ID, a.Kind, a.Severity, a.SiteID, a.Title)
}
