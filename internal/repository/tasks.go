package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"condoscan/internal/models"

	"github.com/jackc/pgx/v5"
)

const taskColumns = `task_id, status, scrapers, area_codes, max_properties, force_detail_fetch,
	parallel, total_processed, total_new, total_updated, total_errors, elapsed_time,
	logs, error_logs, warning_logs, created_at, started_at, completed_at, pause_timestamp, updated_at`

func scanTask(row pgx.Row) (*models.ScrapeTask, error) {
	var t models.ScrapeTask
	var scrapers []string
	var logs, errorLogs, warningLogs []byte
	err := row.Scan(
		&t.TaskID, &t.Status, &scrapers, &t.AreaCodes, &t.MaxProperties, &t.ForceDetailFetch,
		&t.Parallel, &t.TotalProcessed, &t.TotalNew, &t.TotalUpdated, &t.TotalErrors, &t.ElapsedTime,
		&logs, &errorLogs, &warningLogs, &t.CreatedAt, &t.StartedAt, &t.CompletedAt, &t.PauseTimestamp, &t.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, s := range scrapers {
		t.Scrapers = append(t.Scrapers, models.SourceSite(s))
	}
	if err := json.Unmarshal(logs, &t.Logs); err != nil {
		return nil, fmt.Errorf("decode task logs: %w", err)
	}
	if err := json.Unmarshal(errorLogs, &t.ErrorLogs); err != nil {
		return nil, fmt.Errorf("decode task error logs: %w", err)
	}
	if err := json.Unmarshal(warningLogs, &t.WarningLogs); err != nil {
		return nil, fmt.Errorf("decode task warning logs: %w", err)
	}
	return &t, nil
}

func encodeLogs(entries []models.TaskLogEntry) ([]byte, error) {
	if entries == nil {
		entries = []models.TaskLogEntry{}
	}
	return json.Marshal(entries)
}

func (r *Repository) CreateTask(ctx context.Context, t *models.ScrapeTask) error {
	scrapers := make([]string, len(t.Scrapers))
	for i, s := range t.Scrapers {
		scrapers[i] = string(s)
	}
	logs, err := encodeLogs(t.Logs)
	if err != nil {
		return err
	}
	errorLogs, err := encodeLogs(t.ErrorLogs)
	if err != nil {
		return err
	}
	warningLogs, err := encodeLogs(t.WarningLogs)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO scrape_tasks (task_id, status, scrapers, area_codes, max_properties,
			force_detail_fetch, parallel, logs, error_logs, warning_logs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`,
		t.TaskID, t.Status, scrapers, t.AreaCodes, t.MaxProperties,
		t.ForceDetailFetch, t.Parallel, logs, errorLogs, warningLogs)
	return err
}

func (r *Repository) GetTask(ctx context.Context, taskID string) (*models.ScrapeTask, error) {
	row := r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM scrape_tasks WHERE task_id = $1`, taskID)
	return scanTask(row)
}

// SaveTask persists the full mutable state of a task. Called from the
// periodic checkpoint and at every status transition.
func (r *Repository) SaveTask(ctx context.Context, t *models.ScrapeTask) error {
	logs, err := encodeLogs(t.Logs)
	if err != nil {
		return err
	}
	errorLogs, err := encodeLogs(t.ErrorLogs)
	if err != nil {
		return err
	}
	warningLogs, err := encodeLogs(t.WarningLogs)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		UPDATE scrape_tasks SET
			status = $2, total_processed = $3, total_new = $4, total_updated = $5,
			total_errors = $6, elapsed_time = $7, logs = $8, error_logs = $9, warning_logs = $10,
			started_at = $11, completed_at = $12, pause_timestamp = $13, updated_at = NOW()
		WHERE task_id = $1`,
		t.TaskID, t.Status, t.TotalProcessed, t.TotalNew, t.TotalUpdated,
		t.TotalErrors, t.ElapsedTime, logs, errorLogs, warningLogs,
		t.StartedAt, t.CompletedAt, t.PauseTimestamp)
	return err
}

func (r *Repository) UpdateTaskStatus(ctx context.Context, taskID, status string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE scrape_tasks SET status = $2, updated_at = NOW() WHERE task_id = $1`, taskID, status)
	return err
}

// ListTasks returns the most recent tasks, newest first.
func (r *Repository) ListTasks(ctx context.Context, limit int) ([]*models.ScrapeTask, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+taskColumns+` FROM scrape_tasks ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ScrapeTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTask removes a task and its progress rows (cascade). Only terminal
// tasks may be deleted; the caller checks status first.
func (r *Repository) DeleteTask(ctx context.Context, taskID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM scrape_tasks WHERE task_id = $1`, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecoverOrphanedTasks marks tasks left in running as paused. Run once at
// startup: a running row with no process behind it can only be a crash
// leftover, and paused keeps it resumable.
func (r *Repository) RecoverOrphanedTasks(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE scrape_tasks
		SET status = $1, pause_timestamp = NOW(), updated_at = NOW()
		WHERE status = $2
		RETURNING task_id`, models.TaskStatusPaused, models.TaskStatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StalledTasks returns running tasks whose last update predates
// runningCutoff plus paused tasks whose pause began before pausedCutoff.
func (r *Repository) StalledTasks(ctx context.Context, runningCutoff, pausedCutoff time.Time) ([]*models.ScrapeTask, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+taskColumns+` FROM scrape_tasks
		WHERE (status = $1 AND updated_at < $2)
		   OR (status = $3 AND pause_timestamp IS NOT NULL AND pause_timestamp < $4)
		ORDER BY created_at`,
		models.TaskStatusRunning, runningCutoff,
		models.TaskStatusPaused, pausedCutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ScrapeTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertTaskProgress writes one scraper×area progress row. Stats are merged
// in SQL-side JSON so a zero counter never overwrites a persisted value;
// the caller passes the already-merged block.
func (r *Repository) UpsertTaskProgress(ctx context.Context, p *models.ScrapeTaskProgress) error {
	stats, err := json.Marshal(p.Stats)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO scrape_task_progress (task_id, scraper, area_code, status, stats, resume_state, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (task_id, scraper, area_code) DO UPDATE SET
			status = EXCLUDED.status,
			stats = EXCLUDED.stats,
			resume_state = EXCLUDED.resume_state,
			last_updated = NOW()`,
		p.TaskID, string(p.Scraper), p.AreaCode, p.Status, stats, p.ResumeState)
	return err
}

func (r *Repository) ListTaskProgress(ctx context.Context, taskID string) ([]*models.ScrapeTaskProgress, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, task_id, scraper, area_code, status, stats, resume_state, last_updated
		FROM scrape_task_progress WHERE task_id = $1 ORDER BY scraper, area_code`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ScrapeTaskProgress
	for rows.Next() {
		var p models.ScrapeTaskProgress
		var stats []byte
		if err := rows.Scan(&p.ID, &p.TaskID, &p.Scraper, &p.AreaCode, &p.Status, &stats, &p.ResumeState, &p.LastUpdated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(stats, &p.Stats); err != nil {
			return nil, fmt.Errorf("decode progress stats: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ForceCleanupTasks flips every non-terminal task to cancelled and returns
// the affected IDs.
func (r *Repository) ForceCleanupTasks(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE scrape_tasks
		SET status = $1, completed_at = NOW(), updated_at = NOW()
		WHERE status IN ($2, $3, $4)
		RETURNING task_id`,
		models.TaskStatusCancelled,
		models.TaskStatusPending, models.TaskStatusRunning, models.TaskStatusPaused)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) GetTaskProgress(ctx context.Context, taskID string, scraper models.SourceSite, areaCode string) (*models.ScrapeTaskProgress, error) {
	var p models.ScrapeTaskProgress
	var stats []byte
	err := r.db.QueryRow(ctx, `
		SELECT id, task_id, scraper, area_code, status, stats, resume_state, last_updated
		FROM scrape_task_progress
		WHERE task_id = $1 AND scraper = $2 AND area_code = $3`,
		taskID, string(scraper), areaCode).Scan(
		&p.ID, &p.TaskID, &p.Scraper, &p.AreaCode, &p.Status, &stats, &p.ResumeState, &p.LastUpdated)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stats, &p.Stats); err != nil {
		return nil, fmt.Errorf("decode progress stats: %w", err)
	}
	return &p, nil
}
