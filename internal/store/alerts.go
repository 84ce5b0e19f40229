package store

import (
	"database/sql"
	"fmt"
	"time"

	"siteguard/internal/model"
)

// CreateAlert inserts a new alert.
func (s *Store) CreateAlert(alert model.Alert) error {
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO alerts (id, site_id, snapshot_id, kind, severity, title, description,
			verdict, confidence, similarity, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.SiteID, alert.SnapshotID, string(alert.Kind), string(alert.Severity),
		alert.Title, alert.Description, string(alert.VerdictLabel), alert.Confidence, alert.Similarity,
		string(model.AlertOpen), now, now)
	if err != nil {
		return fmt.Errorf("create alert %s: %w", alert.ID, err)
	}
	return nil
}

// OpenAlerts returns all alerts in the open status, newest first.
func (s *Store) OpenAlerts() ([]model.Alert, error) {
	return s.alertsByStatus(model.AlertOpen)
}

// AlertsForSite returns every alert raised for a site, newest first.
func (s *Store) AlertsForSite(siteID string) ([]model.Alert, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, snapshot_id, kind, severity, title, description, verdict, confidence,
			similarity, status, created_at, updated_at
		FROM alerts WHERE site_id = ? ORDER BY created_at DESC`, siteID)
	if err != nil {
		return nil, fmt.Errorf("alerts for site %s: %w", siteID, err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (s *Store) alertsByStatus(status model.AlertStatus) ([]model.Alert, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, snapshot_id, kind, severity, title, description, verdict, confidence,
			similarity, status, created_at, updated_at
		FROM alerts WHERE status = ? ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("alerts with status %s: %w", status, err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// UpdateAlertStatus transitions an alert's operator-facing status. Only an
// operator surface outside the core is expected to call this.
func (s *Store) UpdateAlertStatus(alertID string, status model.AlertStatus) error {
	res, err := s.db.Exec(`UPDATE alerts SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now(), alertID)
	if err != nil {
		return fmt.Errorf("update alert %s status: %w", alertID, err)
	}
	return checkRowsAffected(res, "alert", alertID)
}

func scanAlerts(rows *sql.Rows) ([]model.Alert, error) {
	var alerts []model.Alert
	for rows.Next() {
		var a model.Alert
		var kind, severity, verdict, status string
		if err := rows.Scan(&a.ID, &a.SiteID, &a.SnapshotID, &kind, &severity, &a.Title, &a.Description,
			&verdict, &a.Confidence, &a.Similarity, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, rowScanErr("scan alert", err)
		}
		a.Kind = model.AlertKind(kind)
		a.Severity = model.AlertSeverity(severity)
		a.VerdictLabel = model.Verdict(verdict)
		a.Status = model.AlertStatus(status)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
