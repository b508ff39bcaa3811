package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-records-api/internal/models"
)

const reportJobColumns = `id, type, params, status, progress, result_url, created_by, created_at, finished_at, error_message`

// ReportRepository persists register job metadata.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a queued register job.
func (r *ReportRepository) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ReportStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO report_jobs (` + reportJobColumns + `)
VALUES (:id, :type, :params, :status, :progress, :result_url, :created_by, :created_at, :finished_at, :error_message)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create report job: %w", err)
	}
	return nil
}

// GetByID returns a job row or sql.ErrNoRows.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	const query = `SELECT ` + reportJobColumns + ` FROM report_jobs WHERE id = $1`
	var job models.ReportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, fmt.Errorf("get report job: %w", err)
	}
	return &job, nil
}

// FindActive returns the newest queued or processing job of createdBy that covers
// the same register, or sql.ErrNoRows.
func (r *ReportRepository) FindActive(ctx context.Context, reportType models.ReportType, params models.ReportJobParams, createdBy string) (*models.ReportJob, error) {
	const query = `SELECT ` + reportJobColumns + ` FROM report_jobs
WHERE type = $1 AND created_by = $2 AND status IN ('QUEUED', 'PROCESSING')
AND params->>'schoolYear' = $3 AND params->>'classId' = $4
AND COALESCE(params->>'termId', '') = $5 AND params->>'format' = $6
ORDER BY created_at DESC LIMIT 1`
	var job models.ReportJob
	if err := r.db.GetContext(ctx, &job, query, reportType, createdBy, params.SchoolYear, params.ClassID, params.TermID, params.Format); err != nil {
		return nil, fmt.Errorf("find active report job: %w", err)
	}
	return &job, nil
}

// UpdateReportJobParams defines the mutable fields; nil fields are left unchanged.
type UpdateReportJobParams struct {
	Status       *models.ReportStatus
	Progress     *int
	ResultURL    *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update applies the non-nil fields of params to a job row. A missing row is sql.ErrNoRows.
func (r *ReportRepository) Update(ctx context.Context, id string, params UpdateReportJobParams) error {
	const query = `UPDATE report_jobs SET
status = COALESCE($1, status),
progress = COALESCE($2, progress),
result_url = COALESCE($3, result_url),
error_message = COALESCE($4, error_message),
finished_at = COALESCE($5, finished_at)
WHERE id = $6`
	var status interface{}
	if params.Status != nil {
		status = string(*params.Status)
	}
	var progress interface{}
	if params.Progress != nil {
		progress = int64(*params.Progress)
	}
	var resultURL interface{}
	if params.ResultURL != nil {
		resultURL = *params.ResultURL
	}
	var errorMessage interface{}
	if params.ErrorMessage != nil {
		errorMessage = *params.ErrorMessage
	}
	var finishedAt interface{}
	if params.FinishedAt != nil {
		finishedAt = *params.FinishedAt
	}
	res, err := r.db.ExecContext(ctx, query, status, progress, resultURL, errorMessage, finishedAt, id)
	if err != nil {
		return fmt.Errorf("update report job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update report job %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// ListQueued fetches queued jobs, oldest first, so they can be re-enqueued after a restart.
func (r *ReportRepository) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	return r.listByStatus(ctx, models.ReportStatusQueued, `created_at`, nil, limit, 20)
}

// ListFinishedBefore retrieves jobs finished before cutoff whose files may be purged.
func (r *ReportRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	return r.listByStatus(ctx, models.ReportStatusFinished, `finished_at`, &cutoff, limit, 50)
}

func (r *ReportRepository) listByStatus(ctx context.Context, status models.ReportStatus, orderBy string, before *time.Time, limit, defaultLimit int) ([]models.ReportJob, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	query := `SELECT ` + reportJobColumns + ` FROM report_jobs WHERE status = $1`
	args := []interface{}{string(status)}
	if before != nil {
		args = append(args, *before)
		query += fmt.Sprintf(` AND %s IS NOT NULL AND %s < $%d`, orderBy, orderBy, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY %s ASC LIMIT $%d`, orderBy, len(args))

	var jobs []models.ReportJob
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("list %s report jobs: %w", status, err)
	}
	return jobs, nil
}
