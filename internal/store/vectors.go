package store

import (
	"fmt"

	"siteguard/internal/model"
)

// InsertVector stores an embedding for a snapshot.
func (s *Store) InsertVector(v model.Vector) error {
	_, err := s.db.Exec(`
		INSERT INTO vectors (id, site_id, snapshot_id, kind, dimension, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.SiteID, v.SnapshotID, string(v.Kind), v.Dimension, encodeFloat32(v.Payload))
	if err != nil {
		return fmt.Errorf("insert vector %s: %w", v.ID, err)
	}
	return nil
}

// VectorsForSnapshot returns every vector kind stored for a snapshot.
func (s *Store) VectorsForSnapshot(snapshotID string) ([]model.Vector, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, snapshot_id, kind, dimension, payload FROM vectors WHERE snapshot_id = ?`,
		snapshotID)
	if err != nil {
		return nil, fmt.Errorf("vectors for snapshot %s: %w", snapshotID, err)
	}
	defer rows.Close()
	return scanVectors(rows)
}

// NearestNeighbors returns the n snapshots whose vector of the given kind is
// closest (by cosine distance) to query, ordered nearest first. It excludes
// excludeSnapshotID (typically the snapshot being classified) so a snapshot
// never matches itself.
func (s *Store) NearestNeighbors(siteID string, kind model.VectorKind, query []float32, excludeSnapshotID string, n int) ([]model.Vector, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, snapshot_id, kind, dimension, payload
		FROM vectors
		WHERE site_id = ? AND kind = ? AND snapshot_id != ?
		ORDER BY vector_distance_cos(payload, ?) ASC
		LIMIT ?`,
		siteID, string(kind), excludeSnapshotID, encodeFloat32(query), n)
	if err != nil {
		return nil, fmt.Errorf("nearest neighbors for site %s: %w", siteID, err)
	}
	defer rows.Close()
	return scanVectors(rows)
}

// DeleteVectorsForSnapshot removes all vectors tied to one snapshot.
// PruneSnapshots and DeleteSite delete the vectors of the snapshots they
// remove on their own, without calling it.
func (s *Store) DeleteVectorsForSnapshot(snapshotID string) error {
	_, err := s.db.Exec(`DELETE FROM vectors WHERE snapshot_id = ?`, snapshotID)
	if err != nil {
		return fmt.Errorf("delete vectors for snapshot %s: %w", snapshotID, err)
	}
	return nil
}

func scanVectors(rows rowsIface) ([]model.Vector, error) {
	var vectors []model.Vector
	for rows.Next() {
		var v model.Vector
		var kind string
		var payload []byte
		if err := rows.Scan(&v.ID, &v.SiteID, &v.SnapshotID, &kind, &v.Dimension, &payload); err != nil {
			return nil, rowScanErr("scan vector", err)
		}
		v.Kind = model.VectorKind(kind)
		decoded, err := decodeFloat32(payload)
		if err != nil {
			return nil, err
		}
		v.Payload = decoded
		vectors = append(vectors, v)
	}
	return vectors, rows.Err()
}

type rowsIface interface {
	Next() bool
	Err() error
	Scan(dest ...interface{}) error
}
