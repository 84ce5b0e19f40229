package store

import (
	"database/sql"
	"fmt"
	"time"

	"siteguard/internal/model"
)

// CreateJob inserts the per-site job record. Schema enforces one job per
// site via a unique index.
func (s *Store) CreateJob(job model.Job) error {
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, site_id, next_run_at, last_run_at, last_success_at, retry_count,
			max_retries, status, priority, consecutive_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SiteID, nullTime(job.NextRunAt), nullTime(job.LastRunAt), nullTime(job.LastSuccessAt),
		job.RetryCount, job.MaxRetries, string(job.Status), job.Priority, job.ConsecutiveFailures)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// JobForSite fetches the job record owned by a site.
func (s *Store) JobForSite(siteID string) (model.Job, error) {
	row := s.db.QueryRow(`
		SELECT id, site_id, next_run_at, last_run_at, last_success_at, retry_count, max_retries,
			status, priority, consecutive_failures
		FROM jobs WHERE site_id = ?`, siteID)
	return scanJob(row)
}

// DueJobs returns scheduled jobs whose next_run_at has passed, ordered by
// priority descending then next_run_at ascending (oldest-due first).
func (s *Store) DueJobs(asOf time.Time) ([]model.Job, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, next_run_at, last_run_at, last_success_at, retry_count, max_retries,
			status, priority, consecutive_failures
		FROM jobs WHERE status = ? AND next_run_at <= ? ORDER BY priority DESC, next_run_at ASC`,
		string(model.JobScheduled), asOf)
	if err != nil {
		return nil, fmt.Errorf("due jobs as of %s: %w", asOf, err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob overwrites a job's mutable scheduling state.
func (s *Store) UpdateJob(job model.Job) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET next_run_at = ?, last_run_at = ?, last_success_at = ?, retry_count = ?,
			max_retries = ?, status = ?, priority = ?, consecutive_failures = ?
		WHERE id = ?`,
		nullTime(job.NextRunAt), nullTime(job.LastRunAt), nullTime(job.LastSuccessAt), job.RetryCount,
		job.MaxRetries, string(job.Status), job.Priority, job.ConsecutiveFailures, job.ID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return checkRowsAffected(res, "job", job.ID)
}

// DeleteJob removes a job record, e.g. when its site is unregistered.
func (s *Store) DeleteJob(id string) error {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return checkRowsAffected(res, "job", id)
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func scanJob(row rowScanner) (model.Job, error) {
	var job model.Job
	var status string
	var nextRun, lastRun, lastSuccess sql.NullTime
	if err := row.Scan(&job.ID, &job.SiteID, &nextRun, &lastRun, &lastSuccess, &job.RetryCount,
		&job.MaxRetries, &status, &job.Priority, &job.ConsecutiveFailures); err != nil {
		return model.Job{}, rowScanErr("scan job", err)
	}
	job.NextRunAt = nextRun.Time
	job.LastRunAt = lastRun.Time
	job.LastSuccessAt = lastSuccess.Time
	job.Status = model.JobStatus(status)
	return job, nil
}
