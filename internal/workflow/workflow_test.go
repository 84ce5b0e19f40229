package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"siteguard/internal/errkind"
	"siteguard/internal/model"
	"siteguard/internal/store"
)

// fakeStore is an in-memory stand-in for the Storage port, just enough to
// exercise the workflow engine's persist/alert/prune steps without a real
// sqlite file.
type fakeStore struct {
	baseline     model.Snapshot
	baselineErr  error
	snapshots    []model.Snapshot
	vectors      []model.Vector
	alerts       []model.Alert
	weights      store.SiteWeights
	weightsErr   error
	pruneCalls   []string
	createErr    error
	createErrLeft int
}

func (f *fakeStore) Baseline(siteID string) (model.Snapshot, error) { return f.baseline, f.baselineErr }

func (f *fakeStore) CreateSnapshot(snap model.Snapshot) error {
	if f.createErrLeft > 0 {
		f.createErrLeft--
		return f.createErr
	}
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fakeStore) UpdateVerdict(snapshotID string, verdict model.Verdict, confidence float64) error {
	return nil
}

func (f *fakeStore) InsertVector(v model.Vector) error {
	f.vectors = append(f.vectors, v)
	return nil
}

func (f *fakeStore) VectorsForSnapshot(snapshotID string) ([]model.Vector, error) {
	var out []model.Vector
	for _, v := range f.vectors {
		if v.SnapshotID == snapshotID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateAlert(alert model.Alert) error {
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeStore) PruneSnapshots(siteID string, keep int) error {
	f.pruneCalls = append(f.pruneCalls, siteID)
	return nil
}

func (f *fakeStore) GetWeights(siteID string) (store.SiteWeights, error) {
	return f.weights, f.weightsErr
}

func (f *fakeStore) SetWeights(w store.SiteWeights) error {
	f.weights = w
	return nil
}

func newTestEngine(st Store) *Engine {
	return New(DefaultConfig(), Deps{Store: st})
}

func TestIsEmptyExtraction(t *testing.T) {
	require.True(t, isEmptyExtraction(model.ExtractedContent{}))
	require.False(t, isEmptyExtraction(model.ExtractedContent{Title: "hi"}))
	require.False(t, isEmptyExtraction(model.ExtractedContent{NormalizedText: "hi"}))
}

func TestAlertKindLabel(t *testing.T) {
	require.Equal(t, "Defacement", alertKindLabel(model.AlertDefacement))
	require.Equal(t, "Suspicious change", alertKindLabel(model.AlertSuspicious))
	require.Equal(t, "Site down", alertKindLabel(model.AlertSiteDown))
}

func TestSeverityFor(t *testing.T) {
	require.Equal(t, model.SeverityHigh, severityFor(model.VerdictDefacement, 0.9))
	require.Equal(t, model.SeverityMedium, severityFor(model.VerdictDefacement, 0.65))
	require.Equal(t, model.SeverityLow, severityFor(model.VerdictDefacement, 0.1))
	require.Equal(t, model.SeverityMedium, severityFor(model.VerdictSuspicious, 0.7))
	require.Equal(t, model.SeverityLow, severityFor(model.VerdictSuspicious, 0.1))
	require.Equal(t, model.SeverityLow, severityFor(model.VerdictUnclear, 0.99))
}

func TestDiffSummaryEmptyWhenNoChange(t *testing.T) {
	require.Equal(t, "", diffSummary("", ""))
	require.Equal(t, "", diffSummary("same text", "same text"))
}

func TestDiffSummaryReportsChangedLines(t *testing.T) {
	out := diffSummary("welcome to our site", "hacked by someone")
	require.Contains(t, out, "changed excerpt:")
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 10))
	require.Equal(t, "ab…", truncate("abcdef", 2))
}

func TestMaybeAlertSkipsBenignVerdict(t *testing.T) {
	fs := &fakeStore{}
	e := newTestEngine(fs)
	site := model.Site{ID: "s1", DisplayName: "Example"}
	snap := model.Snapshot{ID: "snap-1"}
	result := model.ClassificationResult{Verdict: model.VerdictBenign, Confidence: 0.9}

	raised := e.maybeAlert(site, snap, result, model.ExtractedContent{}, model.ExtractedContent{})
	require.False(t, raised)
	require.Empty(t, fs.alerts)
}

func TestMaybeAlertRaisesForDefacement(t *testing.T) {
	fs := &fakeStore{}
	e := newTestEngine(fs)
	site := model.Site{ID: "s1", DisplayName: "Example"}
	snap := model.Snapshot{ID: "snap-1"}
	result := model.ClassificationResult{Verdict: model.VerdictDefacement, Confidence: 0.85, Reasoning: "hacked markers found"}

	raised := e.maybeAlert(site, snap, result, model.ExtractedContent{NormalizedText: "old"}, model.ExtractedContent{NormalizedText: "new"})
	require.True(t, raised)
	require.Len(t, fs.alerts, 1)
	require.Equal(t, model.AlertDefacement, fs.alerts[0].Kind)
	require.Equal(t, model.SeverityHigh, fs.alerts[0].Severity)
}

func TestMaybeAlertRaisesForUnclearAsSuspiciousLow(t *testing.T) {
	fs := &fakeStore{}
	e := newTestEngine(fs)
	site := model.Site{ID: "s1", DisplayName: "Example"}
	snap := model.Snapshot{ID: "snap-1"}
	result := model.ClassificationResult{Verdict: model.VerdictUnclear, Confidence: 0.4}

	raised := e.maybeAlert(site, snap, result, model.ExtractedContent{}, model.ExtractedContent{})
	require.True(t, raised)
	require.Equal(t, model.AlertSuspicious, fs.alerts[0].Kind)
	require.Equal(t, model.SeverityLow, fs.alerts[0].Severity)
}

func TestPruneUsesSiteOverrideWhenSet(t *testing.T) {
	fs := &fakeStore{}
	e := newTestEngine(fs)
	e.cfg.DefaultKeepScans = 10

	e.prune(model.Site{ID: "s1", KeepScans: 3})
	require.Equal(t, []string{"s1"}, fs.pruneCalls)
}

func TestPruneSkippedWhenNoKeepConfigured(t *testing.T) {
	fs := &fakeStore{}
	e := newTestEngine(fs)

	e.prune(model.Site{ID: "s1"})
	require.Empty(t, fs.pruneCalls)
}

func TestPersistSnapshotRetriesOnceThenSucceeds(t *testing.T) {
	fs := &fakeStore{createErr: errors.New("boom"), createErrLeft: 1}
	e := newTestEngine(fs)

	err := e.persistSnapshot(model.Snapshot{ID: "snap-1"})
	require.NoError(t, err)
	require.Len(t, fs.snapshots, 1)
}

func transientFetchErr() error {
	return errkind.Wrap(errkind.KindTransientFetch, errors.New("transient"))
}

func TestRecordFetchFailureOpensSiteDownAtThreshold(t *testing.T) {
	fs := &fakeStore{}
	e := newTestEngine(fs)
	site := model.Site{ID: "s1", DisplayName: "Example"}

	for i := 0; i < 4; i++ {
		e.recordFetchFailure(site, transientFetchErr(), false)
	}
	require.Empty(t, fs.alerts, "should not alert before the threshold")

	e.recordFetchFailure(site, transientFetchErr(), false)
	require.Len(t, fs.alerts, 1)
	require.Equal(t, model.AlertSiteDown, fs.alerts[0].Kind)

	// A sixth consecutive failure must not re-raise (edge-triggered).
	e.recordFetchFailure(site, transientFetchErr(), false)
	require.Len(t, fs.alerts, 1)
}

func TestClearFetchFailureResetsCounterAndOpenState(t *testing.T) {
	fs := &fakeStore{}
	e := newTestEngine(fs)
	site := model.Site{ID: "s1"}

	for i := 0; i < 5; i++ {
		e.recordFetchFailure(site, transientFetchErr(), false)
	}
	require.Len(t, fs.alerts, 1)

	e.clearFetchFailure(site.ID, false)
	for i := 0; i < 4; i++ {
		e.recordFetchFailure(site, transientFetchErr(), false)
	}
	require.Len(t, fs.alerts, 1, "counter should have reset, so four more failures stay under threshold")
}
