package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"siteguard/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func sampleSite(id string) model.Site {
	return model.Site{
		ID:          id,
		URL:         "https://example.com/" + id,
		DisplayName: "Example " + id,
		Schedule:    "5m",
		Active:      true,
		MaxDepth:    1,
		Priority:    5,
	}
}

func TestCreateAndGetSite(t *testing.T) {
	s := newTestStore(t)
	site := sampleSite("site-1")
	require.NoError(t, s.CreateSite(site))

	got, err := s.GetSite("site-1")
	require.NoError(t, err)
	require.Equal(t, site.URL, got.URL)
	require.True(t, got.Active)
}

func TestGetSiteMissingReturnsErrNoRows(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSite("missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListSitesOrdersActiveFirst(t *testing.T) {
	s := newTestStore(t)
	inactive := sampleSite("site-inactive")
	inactive.Active = false
	require.NoError(t, s.CreateSite(inactive))
	require.NoError(t, s.CreateSite(sampleSite("site-active")))

	sites, err := s.ListSites()
	require.NoError(t, err)
	require.Len(t, sites, 2)
	require.True(t, sites[0].Active)
}

func TestUpdateSiteMissingIsError(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateSite(sampleSite("nope"))
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDeleteSiteCascadesSnapshots(t *testing.T) {
	s := newTestStore(t)
	site := sampleSite("site-cascade")
	require.NoError(t, s.CreateSite(site))
	snap := model.Snapshot{ID: "snap-1", SiteID: site.ID, CapturedAt: time.Now(), Verdict: model.VerdictInitial}
	require.NoError(t, s.CreateSnapshot(snap))

	require.NoError(t, s.DeleteSite(site.ID))
	_, err := s.LatestSnapshot(site.ID)
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSnapshotBaselineSkipsNonEligibleVerdicts(t *testing.T) {
	s := newTestStore(t)
	site := sampleSite("site-baseline")
	require.NoError(t, s.CreateSite(site))

	base := time.Now().Add(-time.Hour)
	require.NoError(t, s.CreateSnapshot(model.Snapshot{
		ID: "snap-initial", SiteID: site.ID, CapturedAt: base, Verdict: model.VerdictInitial,
	}))
	require.NoError(t, s.CreateSnapshot(model.Snapshot{
		ID: "snap-defacement", SiteID: site.ID, CapturedAt: base.Add(time.Minute), Verdict: model.VerdictDefacement,
	}))

	baseline, err := s.Baseline(site.ID)
	require.NoError(t, err)
	require.Equal(t, "snap-initial", baseline.ID)

	latest, err := s.LatestSnapshot(site.ID)
	require.NoError(t, err)
	require.Equal(t, "snap-defacement", latest.ID)
}

func TestUpdateVerdictAndLastN(t *testing.T) {
	s := newTestStore(t)
	site := sampleSite("site-n")
	require.NoError(t, s.CreateSite(site))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateSnapshot(model.Snapshot{
			ID:         "snap-" + string(rune('a'+i)),
			SiteID:     site.ID,
			CapturedAt: time.Now().Add(time.Duration(i) * time.Minute),
			Verdict:    model.VerdictInitial,
		}))
	}

	require.NoError(t, s.UpdateVerdict("snap-c", model.VerdictDefacement, 0.92))
	latest, err := s.LatestSnapshot(site.ID)
	require.NoError(t, err)
	require.Equal(t, model.VerdictDefacement, latest.Verdict)
	require.InDelta(t, 0.92, latest.Confidence, 1e-9)

	last2, err := s.LastNSnapshots(site.ID, 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
}

func TestPruneSnapshotsKeepsMostRecent(t *testing.T) {
	s := newTestStore(t)
	site := sampleSite("site-prune")
	require.NoError(t, s.CreateSite(site))
	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateSnapshot(model.Snapshot{
			ID:         "snap-p" + string(rune('a'+i)),
			SiteID:     site.ID,
			CapturedAt: time.Now().Add(time.Duration(i) * time.Minute),
			Verdict:    model.VerdictInitial,
		}))
	}
	require.NoError(t, s.PruneSnapshots(site.ID, 2))
	remaining, err := s.LastNSnapshots(site.ID, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
}

func TestAlertLifecycle(t *testing.T) {
	s := newTestStore(t)
	site := sampleSite("site-alert")
	require.NoError(t, s.CreateSite(site))
	require.NoError(t, s.CreateSnapshot(model.Snapshot{ID: "snap-alert", SiteID: site.ID, CapturedAt: time.Now(), Verdict: model.VerdictDefacement}))
	require.NoError(t, s.CreateAlert(model.Alert{
		ID: "alert-1", SiteID: site.ID, SnapshotID: "snap-alert",
		Kind: model.AlertDefacement, Severity: model.SeverityCritical, VerdictLabel: model.VerdictDefacement,
	}))

	open, err := s.OpenAlerts()
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, s.UpdateAlertStatus("alert-1", model.AlertAcknowledged))
	open, err = s.OpenAlerts()
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestJobCRUDAndDueJobs(t *testing.T) {
	s := newTestStore(t)
	site := sampleSite("site-job")
	require.NoError(t, s.CreateSite(site))
	past := time.Now().Add(-time.Minute)
	require.NoError(t, s.CreateJob(model.Job{
		ID: "job-1", SiteID: site.ID, NextRunAt: past, Status: model.JobScheduled, MaxRetries: 3,
	}))

	due, err := s.DueJobs(time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	job := due[0]
	job.Status = model.JobRunning
	require.NoError(t, s.UpdateJob(job))

	due, err = s.DueJobs(time.Now())
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestVectorInsertAndNearestNeighbors(t *testing.T) {
	s := newTestStore(t)
	site := sampleSite("site-vec")
	require.NoError(t, s.CreateSite(site))
	for _, snapID := range []string{"snap-v1", "snap-v2"} {
		require.NoError(t, s.CreateSnapshot(model.Snapshot{ID: snapID, SiteID: site.ID, CapturedAt: time.Now(), Verdict: model.VerdictInitial}))
	}
	require.NoError(t, s.InsertVector(model.Vector{ID: "vec-1", SiteID: site.ID, SnapshotID: "snap-v1", Kind: model.VectorMain, Dimension: 3, Payload: []float32{1, 0, 0}}))
	require.NoError(t, s.InsertVector(model.Vector{ID: "vec-2", SiteID: site.ID, SnapshotID: "snap-v2", Kind: model.VectorMain, Dimension: 3, Payload: []float32{0, 1, 0}}))

	neighbors, err := s.NearestNeighbors(site.ID, model.VectorMain, []float32{1, 0, 0}, "snap-v1", 5)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	require.Equal(t, "vec-2", neighbors[0].ID)
}

func TestVectorsForSnapshot(t *testing.T) {
	s := newTestStore(t)
	site := sampleSite("site-vec2")
	require.NoError(t, s.CreateSite(site))
	require.NoError(t, s.CreateSnapshot(model.Snapshot{ID: "snap-vv", SiteID: site.ID, CapturedAt: time.Now(), Verdict: model.VerdictInitial}))
	require.NoError(t, s.InsertVector(model.Vector{ID: "vec-t", SiteID: site.ID, SnapshotID: "snap-vv", Kind: model.VectorTitle, Dimension: 2, Payload: []float32{0.5, 0.5}}))

	vectors, err := s.VectorsForSnapshot("snap-vv")
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.Equal(t, model.VectorTitle, vectors[0].Kind)
	require.InDeltaSlice(t, []float64{0.5, 0.5}, toFloat64(vectors[0].Payload), 1e-6)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func TestWeightsGetSetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	site := sampleSite("site-weights")
	require.NoError(t, s.CreateSite(site))

	_, err := s.GetWeights(site.ID)
	require.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, s.SetWeights(SiteWeights{SiteID: site.ID, LLM: 0.4, Semantic: 0.24, Rules: 0.16}))
	w, err := s.GetWeights(site.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.4, w.LLM, 1e-9)

	require.NoError(t, s.SetWeights(SiteWeights{SiteID: site.ID, LLM: 0.3, Semantic: 0.3, Rules: 0.2}))
	w, err = s.GetWeights(site.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.3, w.LLM, 1e-9)
}
