package store

import (
	"database/sql"
	"fmt"
	"time"

	"siteguard/internal/model"
)

// CreateSnapshot inserts a new snapshot row.
func (s *Store) CreateSnapshot(snap model.Snapshot) error {
	fp := snap.Fingerprints
	_, err := s.db.Exec(`
		INSERT INTO snapshots (id, site_id, captured_at, http_status, response_time_ms,
			raw_html, extracted_text, content_hash, structure_hash, text_block_hash, semantic_hash,
			vector_ref, prev_similarity, verdict, confidence, truncated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.SiteID, snap.CapturedAt, snap.HTTPStatus, snap.ResponseTime.Milliseconds(),
		snap.RawHTML, snap.ExtractedText, fp.ContentHash, fp.StructureHash, fp.TextBlockHash, fp.SemanticHash,
		snap.VectorRef, snap.PrevSimilarity, string(snap.Verdict), snap.Confidence, boolToInt(snap.Truncated))
	if err != nil {
		return fmt.Errorf("create snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// LatestSnapshot returns the most recently captured snapshot for a site.
func (s *Store) LatestSnapshot(siteID string) (model.Snapshot, error) {
	row := s.db.QueryRow(`
		SELECT id, site_id, captured_at, http_status, response_time_ms, raw_html, extracted_text,
			content_hash, structure_hash, text_block_hash, semantic_hash, vector_ref, prev_similarity,
			verdict, confidence, truncated
		FROM snapshots WHERE site_id = ? ORDER BY captured_at DESC LIMIT 1`, siteID)
	return scanSnapshot(row)
}

// Baseline returns the most recent snapshot whose verdict is baseline-eligible
// (benign or initial), per the Glossary's definition of Baseline.
func (s *Store) Baseline(siteID string) (model.Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, captured_at, http_status, response_time_ms, raw_html, extracted_text,
			content_hash, structure_hash, text_block_hash, semantic_hash, vector_ref, prev_similarity,
			verdict, confidence, truncated
		FROM snapshots WHERE site_id = ? AND verdict IN (?, ?) ORDER BY captured_at DESC LIMIT 1`,
		siteID, string(model.VerdictBenign), string(model.VerdictInitial))
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("baseline for site %s: %w", siteID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return model.Snapshot{}, sql.ErrNoRows
	}
	return scanSnapshot(rows)
}

// LastNSnapshots returns the n most recent snapshots for a site, newest first.
func (s *Store) LastNSnapshots(siteID string, n int) ([]model.Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, captured_at, http_status, response_time_ms, raw_html, extracted_text,
			content_hash, structure_hash, text_block_hash, semantic_hash, vector_ref, prev_similarity,
			verdict, confidence, truncated
		FROM snapshots WHERE site_id = ? ORDER BY captured_at DESC LIMIT ?`, siteID, n)
	if err != nil {
		return nil, fmt.Errorf("last %d snapshots for site %s: %w", n, siteID, err)
	}
	defer rows.Close()

	var snaps []model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// UpdateVerdict records the classification pipeline's adjudication for a
// snapshot after the fact (snapshots are created with a provisional verdict
// before classification runs).
func (s *Store) UpdateVerdict(snapshotID string, verdict model.Verdict, confidence float64) error {
	res, err := s.db.Exec(`UPDATE snapshots SET verdict = ?, confidence = ? WHERE id = ?`,
		string(verdict), confidence, snapshotID)
	if err != nil {
		return fmt.Errorf("update verdict for snapshot %s: %w", snapshotID, err)
	}
	return checkRowsAffected(res, "snapshot", snapshotID)
}

// PruneSnapshots deletes all but the keep most recent snapshots for a site,
// and the vectors of the snapshots it deletes, implementing the site's (or
// global) keep_scans retention policy.
func (s *Store) PruneSnapshots(siteID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.Exec(`
		DELETE FROM vectors WHERE site_id = ? AND snapshot_id NOT IN (
			SELECT id FROM snapshots WHERE site_id = ? ORDER BY captured_at DESC LIMIT ?
		)`, siteID, siteID, keep)
	if err != nil {
		return fmt.Errorf("prune vectors for site %s: %w", siteID, err)
	}
	_, err = s.db.Exec(`
		DELETE FROM snapshots WHERE site_id = ? AND id NOT IN (
			SELECT id FROM snapshots WHERE site_id = ? ORDER BY captured_at DESC LIMIT ?
		)`, siteID, siteID, keep)
	if err != nil {
		return fmt.Errorf("prune snapshots for site %s: %w", siteID, err)
	}
	return nil
}

func scanSnapshot(row rowScanner) (model.Snapshot, error) {
	var snap model.Snapshot
	var respMs int64
	var truncated int
	var verdict string
	var rawHTML, extractedText, vectorRef sql.NullString
	if err := row.Scan(&snap.ID, &snap.SiteID, &snap.CapturedAt, &snap.HTTPStatus, &respMs,
		&rawHTML, &extractedText, &snap.Fingerprints.ContentHash, &snap.Fingerprints.StructureHash,
		&snap.Fingerprints.TextBlockHash, &snap.Fingerprints.SemanticHash, &vectorRef, &snap.PrevSimilarity,
		&verdict, &snap.Confidence, &truncated); err != nil {
		return model.Snapshot{}, rowScanErr("scan snapshot", err)
	}
	snap.RawHTML = rawHTML.String
	snap.ExtractedText = extractedText.String
	snap.VectorRef = vectorRef.String
	snap.ResponseTime = time.Duration(respMs) * time.Millisecond
	snap.Verdict = model.Verdict(verdict)
	snap.Truncated = intToBool(truncated)
	return snap, nil
}
