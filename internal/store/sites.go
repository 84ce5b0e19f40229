package store

import (
	"database/sql"
	"fmt"
	"time"

	"siteguard/internal/model"
)

// CreateSite inserts a new monitored site.
func (s *Store) CreateSite(site model.Site) error {
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO sites (id, url, display_name, schedule, active, max_depth, priority,
			similarity_threshold, structural_threshold, critical_change_threshold, keep_scans,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		site.ID, site.URL, site.DisplayName, site.Schedule, boolToInt(site.Active), site.MaxDepth, site.Priority,
		site.SimilarityThreshold, site.StructuralThreshold, site.CriticalChangeThreshold, site.KeepScans,
		now, now)
	if err != nil {
		return fmt.Errorf("create site %s: %w", site.ID, err)
	}
	return nil
}

// GetSite fetches one site by ID.
func (s *Store) GetSite(id string) (model.Site, error) {
	row := s.db.QueryRow(`
		SELECT id, url, display_name, schedule, active, max_depth, priority,
			similarity_threshold, structural_threshold, critical_change_threshold, keep_scans,
			created_at, updated_at
		FROM sites WHERE id = ?`, id)
	return scanSite(row)
}

// ListSites returns all sites, active first then by priority descending.
func (s *Store) ListSites() ([]model.Site, error) {
	rows, err := s.db.Query(`
		SELECT id, url, display_name, schedule, active, max_depth, priority,
			similarity_threshold, structural_threshold, critical_change_threshold, keep_scans,
			created_at, updated_at
		FROM sites ORDER BY active DESC, priority DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// UpdateSite overwrites the mutable fields of a site.
func (s *Store) UpdateSite(site model.Site) error {
	res, err := s.db.Exec(`
		UPDATE sites SET url = ?, display_name = ?, schedule = ?, active = ?, max_depth = ?, priority = ?,
			similarity_threshold = ?, structural_threshold = ?, critical_change_threshold = ?, keep_scans = ?,
			updated_at = ?
		WHERE id = ?`,
		site.URL, site.DisplayName, site.Schedule, boolToInt(site.Active), site.MaxDepth, site.Priority,
		site.SimilarityThreshold, site.StructuralThreshold, site.CriticalChangeThreshold, site.KeepScans,
		time.Now(), site.ID)
	if err != nil {
		return fmt.Errorf("update site %s: %w", site.ID, err)
	}
	return checkRowsAffected(res, "site", site.ID)
}

// DeleteSite removes a site together with its snapshots, alerts, jobs,
// vectors and stored classifier weights. The connection does not enable
// SQLite foreign-key enforcement, so the schema's ON DELETE CASCADE clauses
// do not fire and the dependent rows are deleted here.
func (s *Store) DeleteSite(id string) error {
	for _, table := range []string{"vectors", "alerts", "jobs", "snapshots", "classifier_weights"} {
		if _, err := s.db.Exec(`DELETE FROM `+table+` WHERE site_id = ?`, id); err != nil {
			return fmt.Errorf("delete site %s: clear %s: %w", id, table, err)
		}
	}
	res, err := s.db.Exec(`DELETE FROM sites WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete site %s: %w", id, err)
	}
	return checkRowsAffected(res, "site", id)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, sql.ErrNoRows)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSite(row rowScanner) (model.Site, error) {
	var site model.Site
	var active int
	if err := row.Scan(&site.ID, &site.URL, &site.DisplayName, &site.Schedule, &active, &site.MaxDepth, &site.Priority,
		&site.SimilarityThreshold, &site.StructuralThreshold, &site.CriticalChangeThreshold, &site.KeepScans,
		&site.CreatedAt, &site.UpdatedAt); err != nil {
		return model.Site{}, rowScanErr("scan site", err)
	}
	site.Active = intToBool(active)
	return site, nil
}
