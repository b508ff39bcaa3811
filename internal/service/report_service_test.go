package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/dto"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/repository"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
	"github.com/noah-isme/sma-records-api/pkg/jobs"
)

type reportRepoStub struct {
	jobs map[string]*models.ReportJob
}

func newReportRepoStub() *reportRepoStub {
	return &reportRepoStub{jobs: map[string]*models.ReportJob{}}
}

func (r *reportRepoStub) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *reportRepoStub) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return job, nil
}

func (r *reportRepoStub) FindActive(ctx context.Context, reportType models.ReportType, params models.ReportJobParams, createdBy string) (*models.ReportJob, error) {
	for _, job := range r.jobs {
		if job.Type == reportType && job.CreatedBy == createdBy && job.Params == params && job.Status.Active() {
			return job, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *reportRepoStub) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	job, ok := r.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (r *reportRepoStub) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	var queued []models.ReportJob
	for _, job := range r.jobs {
		if job.Status == models.ReportStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

func (r *reportRepoStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	var finished []models.ReportJob
	for _, job := range r.jobs {
		if job.Status == models.ReportStatusFinished && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			finished = append(finished, *job)
		}
		if len(finished) == limit {
			break
		}
	}
	return finished, nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type assignmentStub struct {
	allow bool
	err   error
}

func (a assignmentStub) HasClassAccess(ctx context.Context, teacherID, classID, schoolYear string) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	return a.allow, nil
}

func newReportServiceForTest(t *testing.T) (*ReportService, *reportRepoStub, *queueStub, *ExportService) {
	t.Helper()
	repo := newReportRepoStub()
	queue := &queueStub{}
	exportSvc, _ := newExportServiceForTest(t)
	service := NewReportService(repo, assignmentStub{allow: false}, queue, exportSvc, zap.NewNop(), ReportServiceConfig{
		ResultTTL:       time.Hour,
		CleanupInterval: time.Hour,
		MaxRetries:      3,
	})
	return service, repo, queue, exportSvc
}

func registerRequest(reportType models.ReportType) dto.ReportRequest {
	return dto.ReportRequest{Type: reportType, SchoolYear: testYear, ClassID: testClass, Format: models.ReportFormatCSV}
}

func TestReportServiceCreateJob(t *testing.T) {
	svc, repo, queue, _ := newReportServiceForTest(t)
	resp, err := svc.CreateJob(context.Background(), registerRequest(models.ReportTypeAverages), "admin", models.RoleAdmin)
	require.NoError(t, err)
	require.NotEmpty(t, resp.ID)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)
	require.Contains(t, repo.jobs, resp.ID)
	assert.Equal(t, testYear, repo.jobs[resp.ID].Params.SchoolYear)
	assert.Equal(t, testClass, repo.jobs[resp.ID].Params.ClassID)
}

func TestReportServiceCreateJobValidation(t *testing.T) {
	svc, _, queue, _ := newReportServiceForTest(t)

	req := registerRequest(models.ReportTypeAverages)
	req.ClassID = ""
	_, err := svc.CreateJob(context.Background(), req, "admin", models.RoleAdmin)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.CreateJob(context.Background(), registerRequest("attendance"), "admin", models.RoleAdmin)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	req = registerRequest(models.ReportTypePromotions)
	req.TermID = "T1"
	_, err = svc.CreateJob(context.Background(), req, "admin", models.RoleAdmin)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	req = registerRequest(models.ReportTypePromotions)
	req.Format = "xlsx"
	_, err = svc.CreateJob(context.Background(), req, "admin", models.RoleAdmin)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	assert.Empty(t, queue.jobs)
}

func TestReportServiceCreateJobTeacherValidation(t *testing.T) {
	svc, _, _, _ := newReportServiceForTest(t)
	_, err := svc.CreateJob(context.Background(), registerRequest(models.ReportTypePromotions), "teacher-1", models.RoleTeacher)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestReportServiceGetStatus(t *testing.T) {
	svc, repo, _, _ := newReportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeAverages,
		Params:    models.ReportJobParams{SchoolYear: testYear, ClassID: testClass, Format: models.ReportFormatCSV},
		Status:    models.ReportStatusFinished,
		Progress:  100,
		CreatedBy: "admin",
	}
	repo.jobs[job.ID] = job
	resp, err := svc.GetStatus(context.Background(), job.ID, "admin", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, job.Status, resp.Status)
	assert.Equal(t, job.Progress, resp.Progress)
}

func TestReportServiceResolveDownload(t *testing.T) {
	svc, repo, _, exportSvc := newReportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-download",
		Type:      models.ReportTypeAverages,
		Params:    models.ReportJobParams{SchoolYear: testYear, ClassID: testClass, Format: models.ReportFormatCSV},
		Status:    models.ReportStatusFinished,
		Progress:  100,
		CreatedBy: "admin",
	}
	repo.jobs[job.ID] = job
	result, err := exportSvc.Generate(context.Background(), job)
	require.NoError(t, err)
	job.ResultURL = &result.URL
	now := time.Now()
	job.FinishedAt = &now

	download, err := svc.ResolveDownload(context.Background(), result.Token)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(result.RelativePath), download.Filename)
	download.File.Close()
}

func TestReportServiceCreateJobReusesActiveJob(t *testing.T) {
	svc, repo, queue, _ := newReportServiceForTest(t)
	ctx := context.Background()
	first, err := svc.CreateJob(ctx, registerRequest(models.ReportTypeAverages), "admin", models.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, first.Reused)

	second, err := svc.CreateJob(ctx, registerRequest(models.ReportTypeAverages), "admin", models.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, queue.jobs, 1)

	other, err := svc.CreateJob(ctx, registerRequest(models.ReportTypeAverages), "superadmin", models.RoleSuperAdmin)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	repo.jobs[first.ID].Status = models.ReportStatusFinished
	third, err := svc.CreateJob(ctx, registerRequest(models.ReportTypeAverages), "admin", models.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, third.Reused)
	assert.Len(t, queue.jobs, 3)
}

func TestReportServiceGetStatusHidesOtherTeachersJobs(t *testing.T) {
	svc, repo, _, _ := newReportServiceForTest(t)
	repo.jobs["job-t"] = &models.ReportJob{ID: "job-t", Type: models.ReportTypeAverages, Status: models.ReportStatusQueued, CreatedBy: "teacher-1"}

	_, err := svc.GetStatus(context.Background(), "job-t", "teacher-2", models.RoleTeacher)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = svc.GetStatus(context.Background(), "missing", "admin", models.RoleAdmin)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReportServicePurgeExpiredMarksJobs(t *testing.T) {
	svc, repo, _, exportSvc := newReportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-old",
		Type:      models.ReportTypeAverages,
		Params:    models.ReportJobParams{SchoolYear: testYear, ClassID: testClass, Format: models.ReportFormatCSV},
		Status:    models.ReportStatusFinished,
		Progress:  100,
		CreatedBy: "admin",
	}
	repo.jobs[job.ID] = job
	result, err := exportSvc.Generate(context.Background(), job)
	require.NoError(t, err)
	job.ResultURL = &result.URL
	finished := time.Now().Add(-2 * time.Hour)
	job.FinishedAt = &finished

	svc.purgeExpired(context.Background())

	assert.Equal(t, models.ReportStatusExpired, repo.jobs[job.ID].Status)
	_, err = exportSvc.Open(result.RelativePath)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = svc.ResolveDownload(context.Background(), result.Token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestReportServiceRecoverPendingJobs(t *testing.T) {
	svc, repo, queue, _ := newReportServiceForTest(t)
	repo.jobs["job-q"] = &models.ReportJob{ID: "job-q", Type: models.ReportTypePromotions, Status: models.ReportStatusQueued}
	repo.jobs["job-f"] = &models.ReportJob{ID: "job-f", Type: models.ReportTypeAverages, Status: models.ReportStatusFailed}

	svc.RecoverPendingJobs(context.Background())

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "job-q", queue.jobs[0].ID)
	assert.Equal(t, string(models.ReportTypePromotions), queue.jobs[0].Type)
}
