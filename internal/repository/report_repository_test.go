package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-records-api/internal/models"
)

var reportJobRowColumns = []string{"id", "type", "params", "status", "progress", "result_url", "created_by", "created_at", "finished_at", "error_message"}

func TestReportRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewReportRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO report_jobs")).
		WithArgs(sqlmock.AnyArg(), "averages", sqlmock.AnyArg(), "QUEUED", 0, nil, "user-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	job := &models.ReportJob{
		Type:      models.ReportTypeAverages,
		Params:    models.ReportJobParams{SchoolYear: "2024-2025", ClassID: "C1", TermID: "T1", Format: models.ReportFormatCSV},
		CreatedBy: "user-1",
	}
	require.NoError(t, repo.Create(context.Background(), job))
	require.NotEmpty(t, job.ID)

	rows := sqlmock.NewRows(reportJobRowColumns).
		AddRow(job.ID, "averages", `{"schoolYear":"2024-2025","classId":"C1","termId":"T1","format":"csv"}`, "QUEUED", 0, nil, "user-1", time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM report_jobs WHERE id = $1")).
		WithArgs(job.ID).
		WillReturnRows(rows)

	fetched, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, fetched.ID)
	assert.Equal(t, job.Params, fetched.Params)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryFindActive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	params := models.ReportJobParams{SchoolYear: "2024-2025", ClassID: "C1", Format: models.ReportFormatPDF}
	mock.ExpectQuery(regexp.QuoteMeta("status IN ('QUEUED', 'PROCESSING')")).
		WithArgs(models.ReportTypePromotions, "admin-1", "2024-2025", "C1", "", models.ReportFormatPDF).
		WillReturnRows(sqlmock.NewRows(reportJobRowColumns).
			AddRow("job-7", "promotions", `{"schoolYear":"2024-2025","classId":"C1","format":"pdf"}`, "PROCESSING", 10, nil, "admin-1", time.Now(), nil, nil))

	job, err := repo.FindActive(context.Background(), models.ReportTypePromotions, params, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "job-7", job.ID)
	assert.Equal(t, models.ReportStatusProcessing, job.Status)

	mock.ExpectQuery(regexp.QuoteMeta("status IN ('QUEUED', 'PROCESSING')")).
		WillReturnRows(sqlmock.NewRows(reportJobRowColumns))
	_, err = repo.FindActive(context.Background(), models.ReportTypePromotions, params, "admin-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryUpdate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	now := time.Now()
	status := models.ReportStatusFinished
	progress := 100
	result := "/api/v1/export/token"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE report_jobs SET")).
		WithArgs("FINISHED", int64(100), result, nil, now, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "job-1", UpdateReportJobParams{
		Status:     &status,
		Progress:   &progress,
		ResultURL:  &result,
		FinishedAt: &now,
	})
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE report_jobs SET")).
		WithArgs("FAILED", nil, nil, nil, nil, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	failed := models.ReportStatusFailed
	err = repo.Update(context.Background(), "missing", UpdateReportJobParams{Status: &failed})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryListQueued(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	rows := sqlmock.NewRows(reportJobRowColumns).
		AddRow("job-1", "promotions", `{"schoolYear":"2024-2025","classId":"C1","format":"csv"}`, "QUEUED", 0, nil, "user-1", time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM report_jobs WHERE status = $1 ORDER BY created_at ASC LIMIT $2")).
		WithArgs("QUEUED", 20).
		WillReturnRows(rows)

	jobs, err := repo.ListQueued(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryListFinishedBefore(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	cutoff := time.Now()
	rows := sqlmock.NewRows(reportJobRowColumns).
		AddRow("job-1", "averages", `{"schoolYear":"2024-2025","classId":"C1","format":"csv"}`, "FINISHED", 100, "/api/v1/export/token", "user-1", cutoff.Add(-48*time.Hour), cutoff.Add(-25*time.Hour), nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM report_jobs WHERE status = $1 AND finished_at IS NOT NULL AND finished_at < $2 ORDER BY finished_at ASC LIMIT $3")).
		WithArgs("FINISHED", cutoff, 50).
		WillReturnRows(rows)

	jobs, err := repo.ListFinishedBefore(context.Background(), cutoff, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
