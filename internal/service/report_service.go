package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/dto"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/repository"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
	"github.com/noah-isme/sma-records-api/pkg/jobs"
	"github.com/noah-isme/sma-records-api/pkg/storage"
)

type classAccessChecker interface {
	HasClassAccess(ctx context.Context, teacherID, classID, schoolYear string) (bool, error)
}

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	FindActive(ctx context.Context, reportType models.ReportType, params models.ReportJobParams, createdBy string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

const cleanupBatchSize = 100

// ReportService accepts register requests, tracks their jobs and serves the
// resulting files behind signed links.
type ReportService struct {
	repo     reportJobStore
	access   classAccessChecker
	queue    jobDispatcher
	exporter *ExportService
	logger   *zap.Logger
	cfg      ReportServiceConfig
}

// ReportServiceConfig governs queue recovery and cleanup.
type ReportServiceConfig struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
}

// ReportDownload is an opened register file ready to stream.
type ReportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ReportFormat
	ExpiresAt time.Time
}

// NewReportService constructs the report service. access is consulted for teachers only.
func NewReportService(repo reportJobStore, access classAccessChecker, queue jobDispatcher, exporter *ExportService, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &ReportService{
		repo:     repo,
		access:   access,
		queue:    queue,
		exporter: exporter,
		logger:   logger,
		cfg:      cfg,
	}
}

// CreateJob queues a register. A request identical to one of the caller's jobs
// that is still queued or running returns that job instead of a new one.
func (s *ReportService) CreateJob(ctx context.Context, req dto.ReportRequest, actorID string, role models.UserRole) (*dto.ReportJobResponse, error) {
	if err := s.validateRequest(ctx, req, actorID, role); err != nil {
		return nil, err
	}
	params := models.ReportJobParams{SchoolYear: req.SchoolYear, ClassID: req.ClassID, TermID: req.TermID, Format: req.Format}

	existing, err := s.repo.FindActive(ctx, req.Type, params, actorID)
	switch {
	case err == nil:
		s.logger.Debug("register request coalesced", zap.String("job_id", existing.ID), zap.String("actor", actorID))
		return &dto.ReportJobResponse{ID: existing.ID, Status: existing.Status, Progress: existing.Progress, Reused: true}, nil
	case !errors.Is(err, sql.ErrNoRows):
		s.logger.Warn("active register lookup failed", zap.Error(err))
	}

	job := &models.ReportJob{
		Type:      req.Type,
		Params:    params,
		Status:    models.ReportStatusQueued,
		CreatedBy: actorID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		failed := models.ReportStatusFailed
		msg := "failed to enqueue job"
		done := 100
		now := time.Now().UTC()
		if updateErr := s.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
			Status:       &failed,
			Progress:     &done,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		}); updateErr != nil {
			s.logger.Warn("failed to mark unqueued job", zap.String("job_id", job.ID), zap.Error(updateErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}
	return &dto.ReportJobResponse{ID: job.ID, Status: job.Status, Progress: job.Progress}, nil
}

// GetStatus reports job progress. Teachers only see their own jobs.
func (s *ReportService) GetStatus(ctx context.Context, id string, actorID string, role models.UserRole) (*dto.ReportStatusResponse, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if role == models.RoleTeacher && job.CreatedBy != actorID {
		return nil, appErrors.ErrForbidden
	}
	resp := &dto.ReportStatusResponse{
		ID:         job.ID,
		Type:       job.Type,
		Status:     job.Status,
		Progress:   job.Progress,
		FinishedAt: job.FinishedAt,
	}
	if job.Status == models.ReportStatusFinished && job.ResultURL != nil && *job.ResultURL != "" {
		resp.ResultURL = job.ResultURL
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp, nil
}

// ResolveDownload checks a signed token against its job and opens the register file.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	jobID, relPath, expiresAt, err := s.exporter.ParseToken(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch {
	case job.Status == models.ReportStatusExpired:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
	case job.Status != models.ReportStatusFinished:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report not ready")
	case job.ResultURL == nil || tokenFromURL(*job.ResultURL) != token:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token does not match the current register")
	}
	file, err := s.exporter.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ReportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    job.Params.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// RecoverPendingJobs re-enqueues jobs left queued by a previous process.
func (s *ReportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Warn("failed to recover queued report jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Warn("failed to requeue pending job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("recovered queued report jobs", zap.Int("count", len(pending)))
	}
}

// StartCleanup purges expired registers every CleanupInterval until ctx ends.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.purgeExpired(ctx)
			}
		}
	}()
}

// purgeExpired deletes the files of registers finished before the TTL and marks
// their jobs EXPIRED so they leave the FINISHED listing.
func (s *ReportService) purgeExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.ResultTTL)
	expired := models.ReportStatusExpired
	for {
		batch, err := s.repo.ListFinishedBefore(ctx, cutoff, cleanupBatchSize)
		if err != nil {
			s.logger.Warn("cleanup list failed", zap.Error(err))
			return
		}
		for _, job := range batch {
			if relPath, ok := s.registerPath(job); ok {
				if err := s.exporter.Delete(relPath); err != nil {
					s.logger.Warn("cleanup delete failed", zap.String("job_id", job.ID), zap.Error(err))
				}
			}
			if err := s.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{Status: &expired}); err != nil {
				s.logger.Warn("cleanup status update failed", zap.String("job_id", job.ID), zap.Error(err))
				return
			}
		}
		if len(batch) < cleanupBatchSize {
			break
		}
	}
	if removed, err := s.exporter.Cleanup(s.cfg.ResultTTL); err != nil {
		s.logger.Warn("filesystem cleanup failed", zap.Error(err))
	} else if len(removed) > 0 {
		s.logger.Info("removed orphaned register files", zap.Int("count", len(removed)))
	}
}

func (s *ReportService) registerPath(job models.ReportJob) (string, bool) {
	if job.ResultURL == nil {
		return "", false
	}
	token := tokenFromURL(*job.ResultURL)
	if token == "" {
		return "", false
	}
	_, relPath, _, err := s.exporter.ParseToken(token, true)
	if err != nil {
		return "", false
	}
	return relPath, true
}

func (s *ReportService) load(ctx context.Context, id string) (*models.ReportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	return job, nil
}

func (s *ReportService) validateRequest(ctx context.Context, req dto.ReportRequest, actorID string, role models.UserRole) error {
	switch {
	case req.SchoolYear == "" || req.ClassID == "":
		return appErrors.Clone(appErrors.ErrValidation, "schoolYear and classId are required")
	case req.Type != models.ReportTypeAverages && req.Type != models.ReportTypePromotions:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported report type %q", req.Type))
	case req.Type == models.ReportTypePromotions && req.TermID != "":
		return appErrors.Clone(appErrors.ErrValidation, "promotion registers cover a whole school year")
	case req.Format != models.ReportFormatCSV && req.Format != models.ReportFormatPDF:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported report format %q", req.Format))
	}
	if role != models.RoleTeacher {
		return nil
	}
	if s.access == nil {
		return appErrors.Wrap(errors.New("class access checker missing"), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "report access validation error")
	}
	allowed, err := s.access.HasClassAccess(ctx, actorID, req.ClassID, req.SchoolYear)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate class access")
	}
	if !allowed {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("no evaluation plan of class %s in %s is assigned to you", req.ClassID, req.SchoolYear))
	}
	return nil
}

func tokenFromURL(url string) string {
	return url[strings.LastIndex(url, "/")+1:]
}
