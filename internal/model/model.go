// Package model defines the persistent and transient data types shared
// across the monitoring core: sites, snapshots, fingerprints, vectors,
// classification results, alerts, and jobs.
package model

import "time"

// Verdict is the adjudicated classification of a snapshot.
type Verdict string

const (
	VerdictBenign     Verdict = "benign"
	VerdictSuspicious Verdict = "suspicious"
	VerdictDefacement Verdict = "defacement"
	VerdictUnclear    Verdict = "unclear"
	// VerdictInitial marks the very first snapshot taken for a site, before
	// any comparison baseline exists. It counts as a baseline candidate the
	// same way VerdictBenign does.
	VerdictInitial Verdict = "initial"
)

// IsBaselineEligible reports whether a snapshot with this verdict can serve
// as a site's baseline.
func (v Verdict) IsBaselineEligible() bool {
	return v == VerdictBenign || v == VerdictInitial
}

// ChangeMagnitude is the Change Detector's classification of how much two
// snapshots differ, before any classifier has run.
type ChangeMagnitude string

const (
	ChangeUnchanged   ChangeMagnitude = "unchanged"
	ChangeMinor       ChangeMagnitude = "minor"
	ChangeSignificant ChangeMagnitude = "significant"
	ChangeAmbiguous   ChangeMagnitude = "ambiguous"
)

// RequiresClassification reports whether this magnitude should invoke the
// classification pipeline.
func (m ChangeMagnitude) RequiresClassification() bool {
	return m == ChangeSignificant || m == ChangeAmbiguous
}

// AlertKind categorizes why an alert was raised.
type AlertKind string

const (
	AlertDefacement AlertKind = "defacement"
	AlertSuspicious AlertKind = "suspicious"
	AlertSiteDown   AlertKind = "site_down"
)

// AlertSeverity ranks how urgently an alert needs operator attention.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus tracks an alert's lifecycle. Only an operator surface (outside
// the core) transitions an alert out of AlertOpen.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// JobStatus is the Job Scheduler's per-site state machine position.
type JobStatus string

const (
	JobScheduled   JobStatus = "scheduled"
	JobRunning     JobStatus = "running"
	JobPaused      JobStatus = "paused"
	JobFailed      JobStatus = "failed"
	JobCircuitOpen JobStatus = "circuit_open"
	JobRemoved     JobStatus = "removed"
)

// VectorKind distinguishes which projection of a snapshot's content a
// vector embeds.
type VectorKind string

const (
	VectorMain       VectorKind = "main"
	VectorTitle      VectorKind = "title"
	VectorTextBlocks VectorKind = "text_blocks"
	VectorMeta       VectorKind = "meta"
	VectorCombined   VectorKind = "combined"
)

// Site is a monitored target. Created and mutated by operator action;
// removal cascades to its snapshots/alerts via store policy.
type Site struct {
	ID          string
	URL         string
	DisplayName string
	// Schedule is either an interval expression ("5m", "1h") or a five-field
	// cron expression; ParseSchedule in the scheduler package disambiguates.
	Schedule string
	Active   bool
	MaxDepth int
	Priority int
	CreatedAt time.Time
	UpdatedAt time.Time

	// SimilarityThreshold, StructuralThreshold, and CriticalChangeThreshold
	// override the detector's global defaults when non-zero (§4.3).
	SimilarityThreshold      float64
	StructuralThreshold      float64
	CriticalChangeThreshold  float64

	// KeepScans overrides the global retention policy for this site when
	// non-zero. See DESIGN.md for the conflict-resolution rule.
	KeepScans int
}

// Fingerprints is the family of four content hashes computed for a snapshot.
// All four change independently; equality of any one implies equality of
// the corresponding projection of content.
type Fingerprints struct {
	ContentHash   string // Blake3 of normalized text
	StructureHash string // Blake2b of the DOM outline tuple sequence
	TextBlockHash string // Blake2b of sorted text blocks
	SemanticHash  string // Blake2b of alphanumeric-only normalized text
}

// Equal reports whether all four fingerprints match.
func (f Fingerprints) Equal(o Fingerprints) bool {
	return f.ContentHash == o.ContentHash &&
		f.StructureHash == o.StructureHash &&
		f.TextBlockHash == o.TextBlockHash &&
		f.SemanticHash == o.SemanticHash
}

// DOMNode is one entry in a page's depth-first outline.
type DOMNode struct {
	Tag     string
	Depth   int
	Classes []string
	ID      string
}

// LinkRef is an extracted anchor.
type LinkRef struct {
	Href     string
	Text     string
	Internal bool
}

// FormField describes one input of an extracted form.
type FormField struct {
	Name string
	Type string
}

// FormRef is an extracted form and its fields.
type FormRef struct {
	Action string
	Method string
	Fields []FormField
}

// ExtractedContent is the transient output of the Extractor for one fetch.
// It is never persisted directly; Fingerprints and a text summary derived
// from it are what land on a Snapshot.
type ExtractedContent struct {
	Title           string
	MetaDescription string
	NormalizedText  string
	Keywords        map[string]struct{}
	Outline         []DOMNode
	TextBlocks      []string
	Links           []LinkRef
	Forms           []FormRef
	Truncated       bool
}

// Snapshot is one immutable capture of a site's state. verdict/confidence
// may be back-filled after persistence once the classifier completes.
type Snapshot struct {
	ID                string
	SiteID            string
	CapturedAt        time.Time
	HTTPStatus        int
	ResponseTime      time.Duration
	RawHTML           string // optional; empty when not retained
	ExtractedText     string
	Fingerprints      Fingerprints
	VectorRef         string
	PrevSimilarity    float64
	Verdict           Verdict
	Confidence        float64
	Truncated         bool
}

// Vector is a stored embedding tied to a snapshot.
type Vector struct {
	ID         string
	SiteID     string
	SnapshotID string
	Kind       VectorKind
	Dimension  int
	Payload    []float32
}

// ClassifierVerdict is one sub-classifier's tagged result. Abstained is a
// distinct tag, not an error condition.
type ClassifierVerdict struct {
	Source     string // "rules", "semantic", "llm"
	Verdict    Verdict
	Confidence float64
	Reasoning  string
	Evidence   []string
	Abstained  bool
}

// ClassificationResult is the ensemble's adjudication of a significant
// change, persisted into the triggering Snapshot.
type ClassificationResult struct {
	Verdict         Verdict
	Confidence      float64
	ConfidenceLabel string
	Reasoning       string
	SubResults      []ClassifierVerdict
	WeightsUsed     map[string]float64
	ProcessingTime  time.Duration
}

// Alert is raised by the core on adverse classifications or sustained fetch
// failure. Mutated only by operator commands outside the core.
type Alert struct {
	ID           string
	SiteID       string
	SnapshotID   string
	Kind         AlertKind
	Severity     AlertSeverity
	Title        string
	Description  string
	VerdictLabel Verdict
	Confidence   float64
	Similarity   float64
	Status       AlertStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Job is the scheduler's per-site execution record.
type Job struct {
	ID            string
	SiteID        string
	NextRunAt     time.Time
	LastRunAt     time.Time
	LastSuccessAt time.Time
	RetryCount    int
	MaxRetries    int
	Status        JobStatus
	Priority      int

	// ConsecutiveFailures counts failed runs since the last success; reset
	// to 0 on any success. The site's circuit breaker keeps its own count.
	ConsecutiveFailures int
}
