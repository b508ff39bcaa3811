package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/repository"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
	"github.com/noah-isme/sma-records-api/pkg/jobs"
)

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error)
}

// ReportWorker is the queue handler for register jobs. Each generated register
// leaves an audit entry attributed to the requester.
type ReportWorker struct {
	repo       reportJobStore
	exporter   exportGenerator
	audit      auditWriter
	logger     *zap.Logger
	maxRetries int
}

// NewReportWorker constructs a worker. audit may be nil.
func NewReportWorker(repo reportJobStore, exporter exportGenerator, audit auditWriter, maxRetries int, logger *zap.Logger) *ReportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ReportWorker{
		repo:       repo,
		exporter:   exporter,
		audit:      audit,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Handle generates the register of one queued job. Domain failures end the job
// at once; other failures put it back in QUEUED until the retry budget is spent.
func (w *ReportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if !record.Status.Active() {
		w.logger.Debug("skipping settled register job", zap.String("job_id", job.ID), zap.String("status", string(record.Status)))
		return nil
	}
	if err := w.transition(ctx, job.ID, models.ReportStatusProcessing, 10, nil); err != nil {
		return err
	}

	result, genErr := w.exporter.Generate(ctx, record)
	if genErr != nil {
		return w.fail(ctx, job, genErr)
	}

	url := result.URL
	noError := ""
	now := time.Now().UTC()
	if err := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
		Status:       statusPtr(models.ReportStatusFinished),
		Progress:     intPtr(100),
		ResultURL:    &url,
		ErrorMessage: &noError,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Warn("failed to mark job finished", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	w.recordAudit(ctx, record)
	return nil
}

func (w *ReportWorker) fail(ctx context.Context, job jobs.Job, cause error) error {
	msg := cause.Error()
	permanent := isPermanentExportError(cause)
	if permanent || job.Attempt >= w.maxRetries {
		now := time.Now().UTC()
		if err := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
			Status:       statusPtr(models.ReportStatusFailed),
			Progress:     intPtr(100),
			ErrorMessage: &msg,
			FinishedAt:   &now,
		}); err != nil {
			w.logger.Warn("failed to mark job failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	} else if err := w.transition(ctx, job.ID, models.ReportStatusQueued, 0, &msg); err != nil {
		w.logger.Warn("failed to requeue job", zap.String("job_id", job.ID), zap.Error(err))
	}
	if permanent {
		return jobs.Permanent(cause)
	}
	return cause
}

func (w *ReportWorker) transition(ctx context.Context, id string, status models.ReportStatus, progress int, message *string) error {
	return w.repo.Update(ctx, id, repository.UpdateReportJobParams{
		Status:       &status,
		Progress:     &progress,
		ErrorMessage: message,
	})
}

func (w *ReportWorker) recordAudit(ctx context.Context, record *models.ReportJob) {
	if w.audit == nil {
		return
	}
	values, _ := json.Marshal(map[string]interface{}{
		"type":   record.Type,
		"params": record.Params,
	})
	createdBy := record.CreatedBy
	jobID := record.ID
	if err := w.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &createdBy,
		Action:     models.AuditActionRegisterGenerate,
		Resource:   "report_job:" + string(record.Type),
		ResourceID: &jobID,
		NewValues:  values,
	}); err != nil {
		w.logger.Warn("failed to audit register generation", zap.String("job_id", record.ID), zap.Error(err))
	}
}

// isPermanentExportError reports domain failures that a retry cannot fix.
func isPermanentExportError(err error) bool {
	var appErr *appErrors.Error
	return errors.As(err, &appErr) && appErr.Code != appErrors.ErrInternal.Code
}

func statusPtr(s models.ReportStatus) *models.ReportStatus { return &s }

func intPtr(v int) *int { return &v }
