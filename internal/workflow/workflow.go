// Package workflow implements the Workflow Engine (spec §4.7): the
// per-check pipeline fetch → extract → detect → [vectorize] → [classify] →
// persist → alert, expressed as a DAG with partial-failure semantics.
// Independent steps (detect and vectorize) run concurrently; classify only
// runs when the detector decides a change is significant or ambiguous.
package workflow

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/sync/errgroup"

	"siteguard/internal/browser"
	"siteguard/internal/classifier"
	"siteguard/internal/clock"
	"siteguard/internal/detector"
	"siteguard/internal/embedding"
	"siteguard/internal/errkind"
	"siteguard/internal/extractor"
	"siteguard/internal/logging"
	"siteguard/internal/model"
	"siteguard/internal/store"
)

// Notifier is the fire-and-forget alert port (spec §6). The core never
// blocks on it; implementations own routing, retries, rate-limiting, and
// deduplication.
type Notifier interface {
	Emit(alert model.Alert)
}

// Store is the subset of the Storage port the workflow engine depends on.
// Satisfied by *store.Store.
type Store interface {
	Baseline(siteID string) (model.Snapshot, error)
	CreateSnapshot(snap model.Snapshot) error
	UpdateVerdict(snapshotID string, verdict model.Verdict, confidence float64) error
	InsertVector(v model.Vector) error
	VectorsForSnapshot(snapshotID string) ([]model.Vector, error)
	CreateAlert(alert model.Alert) error
	PruneSnapshots(siteID string, keep int) error
	GetWeights(siteID string) (store.SiteWeights, error)
	SetWeights(w store.SiteWeights) error
}

// Config tunes the workflow engine's timeouts and behavior (spec §5).
type Config struct {
	TotalDeadline  time.Duration // default 120s
	FetchTimeout   time.Duration // default 30s
	ClassifyTimeout time.Duration // default 60s (LLM call budget)
	DefaultKeepScans int         // global retention fallback (§9 Open Question, resolved in DESIGN.md)
}

// DefaultConfig matches spec §5's per-step defaults.
func DefaultConfig() Config {
	return Config{
		TotalDeadline:   120 * time.Second,
		FetchTimeout:    30 * time.Second,
		ClassifyTimeout: 60 * time.Second,
	}
}

// Engine owns one Workflow Engine instance shared across all sites. Its
// per-site mutable state is the baseline content cache, the classifier
// circuit breakers, the recent-agreement window used for adaptive
// weighting, and the consecutive-fetch-failure counters with their
// site-down flags — all funneled through a single mutex rather than one
// lock per site, matching the scheduler's control-channel idiom (§9).
type Engine struct {
	cfg Config
	clk clock.Clock

	browserPool *browser.Pool
	extractCfg  extractor.Config

	embedEngine embedding.Engine
	embedCfg    embedding.Config

	rules    *classifier.RuleClassifier
	semantic *classifier.SemanticClassifier
	llm      *classifier.LLMClassifier // nil disables the LLM sub-classifier (always abstains)

	store    Store
	notifier Notifier

	mu                 sync.Mutex
	detectorThresholds detector.Thresholds
	baselineCache      map[string]model.ExtractedContent
	breakers           map[string]classifier.Breakers
	agreementHist      map[string][]float64
	fetchFailures      map[string]int
	siteDownOpen       map[string]bool
}

// Deps bundles the Engine's collaborators.
type Deps struct {
	BrowserPool        *browser.Pool
	ExtractorConfig    extractor.Config
	EmbedEngine        embedding.Engine
	EmbedConfig        embedding.Config
	RuleClassifier     *classifier.RuleClassifier
	SemanticClassifier *classifier.SemanticClassifier
	LLMClassifier      *classifier.LLMClassifier
	DetectorThresholds detector.Thresholds
	Store              Store
	Notifier           Notifier
	Clock              clock.Clock
}

// New constructs a workflow Engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.TotalDeadline <= 0 {
		cfg = DefaultConfig()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		cfg:                cfg,
		clk:                clk,
		browserPool:        deps.BrowserPool,
		extractCfg:         deps.ExtractorConfig,
		embedEngine:        deps.EmbedEngine,
		embedCfg:           deps.EmbedConfig,
		rules:              deps.RuleClassifier,
		semantic:           deps.SemanticClassifier,
		llm:                deps.LLMClassifier,
		detectorThresholds: deps.DetectorThresholds,
		store:              deps.Store,
		notifier:           deps.Notifier,
		baselineCache:      make(map[string]model.ExtractedContent),
		breakers:           make(map[string]classifier.Breakers),
		agreementHist:      make(map[string][]float64),
		fetchFailures:      make(map[string]int),
		siteDownOpen:       make(map[string]bool),
	}
}

// DetectorThresholds returns the engine's current global detector
// thresholds, safe for concurrent use alongside UpdateDetectorThresholds.
func (e *Engine) DetectorThresholds() detector.Thresholds {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detectorThresholds
}

// UpdateDetectorThresholds swaps the engine's global detector thresholds,
// taking effect on the next check for every site without a per-site
// override. Used by the config hot-reload watcher (SPEC_FULL §3) so
// threshold tuning doesn't require a restart.
func (e *Engine) UpdateDetectorThresholds(t detector.Thresholds) {
	e.mu.Lock()
	e.detectorThresholds = t
	e.mu.Unlock()
}

// Result summarizes one workflow run, useful for dry-run/status reporting.
type Result struct {
	ExecutionID string
	SiteID      string
	Magnitude   model.ChangeMagnitude
	Verdict     model.Verdict
	Confidence  float64
	AlertRaised bool
	Simulated   bool
}

// Run executes the full per-check DAG for one site. A non-nil error means
// the check did not complete and should count against the scheduler's
// retry/breaker accounting; a nil error with a persisted "unclear" verdict
// is a handled failure (extraction failure, classifier abstention), not a
// scheduler-level one.
func (e *Engine) Run(ctx context.Context, site model.Site) (Result, error) {
	return e.run(ctx, site, false)
}

// Simulate runs the DAG through detect (and classify, if triggered) but
// skips persist and alert, returning the would-be verdict. Used for
// threshold tuning (SPEC_FULL §6 dry-run mode).
func (e *Engine) Simulate(ctx context.Context, site model.Site) (Result, error) {
	return e.run(ctx, site, true)
}

func (e *Engine) run(ctx context.Context, site model.Site, dryRun bool) (Result, error) {
	execID := uuid.NewString()
	result := Result{ExecutionID: execID, SiteID: site.ID, Simulated: dryRun}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.TotalDeadline)
	defer cancel()

	logging.Workflow("execution %s starting for site %s (%s)", execID, site.ID, site.URL)

	// --- fetch ---
	fetchResult, fetchKind, fetchErr := e.fetch(ctx, site)
	if fetchErr != nil {
		e.recordFetchFailure(site, fetchErr, dryRun)
		return result, fetchErr
	}
	e.clearFetchFailure(site.ID, dryRun)
	_ = fetchKind

	// --- extract ---
	hostURL, _ := url.Parse(site.URL)
	extractCfg := e.extractCfg
	if hostURL != nil {
		extractCfg.SiteHost = hostURL.Host
	}
	content, fp := extractor.Extract(fetchResult.RawHTML, extractCfg)

	if isEmptyExtraction(content) {
		logging.Get(logging.CategoryWorkflow).Warn("execution %s: extraction produced no content, aborting with unclear verdict", execID)
		if !dryRun {
			snap := e.buildSnapshot(site, fetchResult, content, fp, model.VerdictUnclear, 0)
			if err := e.persistSnapshot(snap); err != nil {
				return result, errkind.Wrap(errkind.KindStorage, err)
			}
		}
		result.Magnitude = model.ChangeUnchanged
		result.Verdict = model.VerdictUnclear
		return result, nil
	}

	// --- baseline lookup ---
	baselineSnap, err := e.store.Baseline(site.ID)
	if err != nil {
		// No baseline yet: this is the site's first snapshot.
		result.Magnitude = model.ChangeUnchanged
		result.Verdict = model.VerdictInitial
		result.Confidence = 1

		if dryRun {
			return result, nil
		}
		snap := e.buildSnapshot(site, fetchResult, content, fp, model.VerdictInitial, 1)
		if err := e.persistSnapshot(snap); err != nil {
			return result, errkind.Wrap(errkind.KindStorage, err)
		}
		e.setBaselineCache(site.ID, content)
		e.prune(site)
		return result, nil
	}

	baselineContent := e.baselineContentFor(site.ID, baselineSnap)

	// --- detect & vectorize (concurrent; independent steps) ---
	var decision detector.Decision
	var mainVec, titleVec, metaVec, blocksVec *model.Vector
	var embedErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		decision = detector.Compare(baselineContent, content, baselineSnap.Fingerprints, fp, detector.Resolve(e.DetectorThresholds(), site))
		return nil
	})
	g.Go(func() error {
		mainVec, titleVec, metaVec, blocksVec, embedErr = e.vectorize(gctx, site, execID, content)
		return nil
	})
	_ = g.Wait() // both goroutines are infallible by construction; errors are captured in embedErr

	if embedErr != nil {
		logging.Get(logging.CategoryWorkflow).Warn("execution %s: vectorization failed, classifier proceeds without vectors: %v", execID, embedErr)
	}

	result.Magnitude = decision.Magnitude

	if decision.Magnitude == model.ChangeUnchanged {
		result.Verdict = baselineSnap.Verdict
		result.Confidence = baselineSnap.Confidence
		if dryRun {
			return result, nil
		}
		snap := e.buildSnapshot(site, fetchResult, content, fp, baselineSnap.Verdict, baselineSnap.Confidence)
		snap.PrevSimilarity = 1
		if err := e.persistSnapshot(snap); err != nil {
			return result, errkind.Wrap(errkind.KindStorage, err)
		}
		e.prune(site)
		return result, nil
	}

	if decision.Magnitude == model.ChangeMinor {
		result.Verdict = model.VerdictBenign
		result.Confidence = 1
		if dryRun {
			return result, nil
		}
		snap := e.buildSnapshot(site, fetchResult, content, fp, model.VerdictBenign, 1)
		snap.PrevSimilarity = decision.KeywordSimilarity
		if err := e.persistSnapshot(snap); err != nil {
			return result, errkind.Wrap(errkind.KindStorage, err)
		}
		e.setBaselineCache(site.ID, content)
		e.prune(site)
		return result, nil
	}

	// --- classify (significant or ambiguous change) ---
	baselineVectors, _ := e.store.VectorsForSnapshot(baselineSnap.ID)
	classifyCtx, classifyCancel := context.WithTimeout(ctx, e.cfg.ClassifyTimeout)
	classification := e.classify(classifyCtx, site, content, baselineContent, baselineSnap, mainVec, titleVec, metaVec, blocksVec, baselineVectors)
	classifyCancel()

	result.Verdict = classification.Verdict
	result.Confidence = classification.Confidence

	if dryRun {
		return result, nil
	}

	// --- persist ---
	snap := e.buildSnapshot(site, fetchResult, content, fp, classification.Verdict, classification.Confidence)
	snap.PrevSimilarity = decision.KeywordSimilarity
	if err := e.persistSnapshot(snap); err != nil {
		return result, errkind.Wrap(errkind.KindStorage, err)
	}
	for _, v := range []*model.Vector{mainVec, titleVec, metaVec, blocksVec} {
		if v == nil {
			continue
		}
		v.ID = uuid.NewString()
		v.SnapshotID = snap.ID
		if err := e.store.InsertVector(*v); err != nil {
			logging.Get(logging.CategoryWorkflow).Warn("execution %s: insert vector failed (non-fatal): %v", execID, err)
		}
	}
	if classification.Verdict.IsBaselineEligible() {
		e.setBaselineCache(site.ID, content)
	}
	e.persistAdaptiveWeights(site.ID, classification)
	e.prune(site)

	// --- alert ---
	if alertRaised := e.maybeAlert(site, snap, classification, baselineContent, content); alertRaised {
		result.AlertRaised = true
	}

	return result, nil
}

func isEmptyExtraction(c model.ExtractedContent) bool {
	return c.Title == "" && c.NormalizedText == "" && len(c.Outline) == 0 && len(c.TextBlocks) == 0
}

func (e *Engine) fetch(ctx context.Context, site model.Site) (browser.FetchResult, errkind.Kind, error) {
	timer := logging.StartTimer(logging.CategoryWorkflow, "fetch")
	defer timer.Stop()

	if e.browserPool == nil {
		return browser.FetchResult{}, errkind.KindTransientFetch, errkind.Wrap(errkind.KindTransientFetch, fmt.Errorf("no browser pool configured"))
	}

	sess, err := e.browserPool.Acquire(ctx)
	if err != nil {
		return browser.FetchResult{}, errkind.KindTransientFetch, errkind.Wrap(errkind.KindTransientFetch, fmt.Errorf("acquire browser session: %w", err))
	}
	defer e.browserPool.Release(sess)

	res, err := sess.Fetch(ctx, site.URL, e.cfg.FetchTimeout)
	if err != nil {
		kind := errkind.KindTransientFetch
		var navErr *browser.NavigationError
		if asNavErr(err, &navErr) && navErr.Kind == browser.NavErrHTTP {
			kind = errkind.KindPermanentFetch
		}
		return browser.FetchResult{}, kind, errkind.Wrap(kind, err)
	}

	if res.HTTPStatus >= 500 || res.HTTPStatus == 408 || res.HTTPStatus == 429 {
		return res, errkind.KindTransientFetch, errkind.Wrap(errkind.KindTransientFetch, fmt.Errorf("http status %d", res.HTTPStatus))
	}
	if res.HTTPStatus >= 400 {
		return res, errkind.KindPermanentFetch, errkind.Wrap(errkind.KindPermanentFetch, fmt.Errorf("http status %d", res.HTTPStatus))
	}
	return res, errkind.KindUnknown, nil
}

func asNavErr(err error, target **browser.NavigationError) bool {
	for err != nil {
		if ne, ok := err.(*browser.NavigationError); ok {
			*target = ne
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (e *Engine) vectorize(ctx context.Context, site model.Site, execID string, content model.ExtractedContent) (main, title, meta, blocks *model.Vector, err error) {
	timer := logging.StartTimer(logging.CategoryWorkflow, "vectorize")
	defer timer.Stop()

	if e.embedEngine == nil {
		return nil, nil, nil, nil, fmt.Errorf("no embedding engine configured")
	}

	main, mErr := embedding.EmbedForSnapshot(ctx, e.embedEngine, site.ID, "", model.VectorMain, content.NormalizedText, e.embedCfg)
	if mErr != nil {
		return nil, nil, nil, nil, errkind.Wrap(errkind.KindVectorization, mErr)
	}
	if content.Title != "" {
		title, _ = embedding.EmbedForSnapshot(ctx, e.embedEngine, site.ID, "", model.VectorTitle, content.Title, e.embedCfg)
	}
	if content.MetaDescription != "" {
		meta, _ = embedding.EmbedForSnapshot(ctx, e.embedEngine, site.ID, "", model.VectorMeta, content.MetaDescription, e.embedCfg)
	}
	if len(content.TextBlocks) > 0 {
		blocks, _ = embedding.EmbedForSnapshot(ctx, e.embedEngine, site.ID, "", model.VectorTextBlocks, strings.Join(content.TextBlocks, " "), e.embedCfg)
	}
	return main, title, meta, blocks, nil
}

func (e *Engine) baselineContentFor(siteID string, baseline model.Snapshot) model.ExtractedContent {
	e.mu.Lock()
	cached, ok := e.baselineCache[siteID]
	e.mu.Unlock()
	if ok {
		return cached
	}
	// Process restarted since the baseline was captured: reconstruct a
	// best-effort content from the persisted normalized text. Outline is
	// not persisted, so structural_similarity degrades to comparing
	// against an empty outline until the next in-memory baseline lands.
	return model.ExtractedContent{
		NormalizedText: baseline.ExtractedText,
		Keywords:       extractor.Keywords(baseline.ExtractedText),
	}
}

func (e *Engine) setBaselineCache(siteID string, content model.ExtractedContent) {
	e.mu.Lock()
	e.baselineCache[siteID] = content
	e.mu.Unlock()
}

func (e *Engine) buildSnapshot(site model.Site, fetch browser.FetchResult, content model.ExtractedContent, fp model.Fingerprints, verdict model.Verdict, confidence float64) model.Snapshot {
	return model.Snapshot{
		ID:            uuid.NewString(),
		SiteID:        site.ID,
		CapturedAt:    e.clk.Now(),
		HTTPStatus:    fetch.HTTPStatus,
		ResponseTime:  fetch.Elapsed,
		ExtractedText: content.NormalizedText,
		Fingerprints:  fp,
		Verdict:       verdict,
		Confidence:    confidence,
		Truncated:     content.Truncated,
	}
}

func (e *Engine) persistSnapshot(snap model.Snapshot) error {
	err := e.store.CreateSnapshot(snap)
	if err == nil {
		return nil
	}
	logging.Get(logging.CategoryWorkflow).Warn("persist snapshot %s failed, retrying once: %v", snap.ID, err)
	return e.store.CreateSnapshot(snap)
}

func (e *Engine) prune(site model.Site) {
	keep := e.cfg.DefaultKeepScans
	if site.KeepScans > 0 {
		keep = site.KeepScans
	}
	if keep <= 0 {
		return
	}
	if err := e.store.PruneSnapshots(site.ID, keep); err != nil {
		logging.Get(logging.CategoryWorkflow).Warn("prune snapshots for site %s failed: %v", site.ID, err)
	}
}

func (e *Engine) recordFetchFailure(site model.Site, err error, dryRun bool) {
	if dryRun {
		return
	}
	if errkind.Classify(err) != errkind.KindTransientFetch {
		return
	}
	e.mu.Lock()
	e.fetchFailures[site.ID]++
	n := e.fetchFailures[site.ID]
	already := e.siteDownOpen[site.ID]
	if n >= 5 && !already {
		e.siteDownOpen[site.ID] = true
	}
	shouldAlert := n >= 5 && !already
	e.mu.Unlock()

	if shouldAlert {
		alert := model.Alert{
			ID:           uuid.NewString(),
			SiteID:       site.ID,
			Kind:         model.AlertSiteDown,
			Severity:     model.SeverityCritical,
			Title:        fmt.Sprintf("%s appears to be down", site.DisplayName),
			Description:  fmt.Sprintf("%d consecutive fetch failures; last error: %v", n, err),
			VerdictLabel: model.VerdictUnclear,
			Status:       model.AlertOpen,
		}
		if cerr := e.store.CreateAlert(alert); cerr != nil {
			logging.Get(logging.CategoryWorkflow).Error("create site_down alert for %s failed: %v", site.ID, cerr)
		}
		if e.notifier != nil {
			go e.notifier.Emit(alert)
		}
	}
}

func (e *Engine) clearFetchFailure(siteID string, dryRun bool) {
	if dryRun {
		return
	}
	e.mu.Lock()
	e.fetchFailures[siteID] = 0
	e.siteDownOpen[siteID] = false
	e.mu.Unlock()
}

func (e *Engine) maybeAlert(site model.Site, snap model.Snapshot, result model.ClassificationResult, baselineContent, newContent model.ExtractedContent) bool {
	if result.Verdict == model.VerdictBenign {
		return false
	}

	kind := model.AlertSuspicious
	if result.Verdict == model.VerdictDefacement {
		kind = model.AlertDefacement
	}
	severity := severityFor(result.Verdict, result.Confidence)

	description := fmt.Sprintf("%s classified the change as %s (confidence %.2f): %s",
		site.DisplayName, result.Verdict, result.Confidence, result.Reasoning)
	if d := diffSummary(baselineContent.NormalizedText, newContent.NormalizedText); d != "" {
		description += "\n\n" + d
	}

	alert := model.Alert{
		ID:           uuid.NewString(),
		SiteID:       site.ID,
		SnapshotID:   snap.ID,
		Kind:         kind,
		Severity:     severity,
		Title:        fmt.Sprintf("%s: %s", alertKindLabel(kind), site.DisplayName),
		Description:  description,
		VerdictLabel: result.Verdict,
		Confidence:   result.Confidence,
		Status:       model.AlertOpen,
	}

	if err := e.store.CreateAlert(alert); err != nil {
		logging.Get(logging.CategoryWorkflow).Error("create alert for snapshot %s failed: %v", snap.ID, err)
		return false
	}
	if e.notifier != nil {
		go e.notifier.Emit(alert)
	}
	return true
}

func alertKindLabel(kind model.AlertKind) string {
	switch kind {
	case model.AlertDefacement:
		return "Defacement"
	case model.AlertSuspicious:
		return "Suspicious change"
	case model.AlertSiteDown:
		return "Site down"
	default:
		return string(kind)
	}
}

func severityFor(verdict model.Verdict, confidence float64) model.AlertSeverity {
	switch verdict {
	case model.VerdictDefacement:
		switch {
		case confidence >= 0.8:
			return model.SeverityHigh
		case confidence >= 0.6:
			return model.SeverityMedium
		default:
			return model.SeverityLow
		}
	case model.VerdictSuspicious:
		if confidence >= 0.6 {
			return model.SeverityMedium
		}
		return model.SeverityLow
	default: // unclear
		return model.SeverityLow
	}
}

// maxDiffSummaryLines bounds how many +/- lines diffSummary renders, so a
// wholesale page rewrite doesn't dump its entire content into an alert.
const maxDiffSummaryLines = 20

// diffSummary renders a short evidence snippet of what changed between the
// baseline and current normalized text, built directly on diffmatchpatch's
// line-mode diff (DiffLinesToChars collapses each line to one rune so
// DiffMain runs a whole-line LCS instead of a character-level one).
func diffSummary(oldText, newText string) string {
	if oldText == "" && newText == "" {
		return ""
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var sb strings.Builder
	rendered := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			continue
		}
		prefix := "+ "
		if d.Type == diffmatchpatch.DiffDelete {
			prefix = "- "
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			if line == "" {
				continue
			}
			if rendered >= maxDiffSummaryLines {
				sb.WriteString("…\n")
				return "changed excerpt:\n" + sb.String()
			}
			sb.WriteString(prefix + truncate(line, 200) + "\n")
			rendered++
		}
	}
	if rendered == 0 {
		return ""
	}
	return "changed excerpt:\n" + sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
