package dto

import (
	"time"

	"github.com/noah-isme/sma-records-api/internal/models"
)

// ReportRequest captures POST /reports/generate payload.
type ReportRequest struct {
	Type       models.ReportType   `json:"type"`
	SchoolYear string              `json:"schoolYear"`
	ClassID    string              `json:"classId"`
	TermID     string              `json:"termId,omitempty"`
	Format     models.ReportFormat `json:"format"`
}

// ReportJobResponse is returned after enqueueing a register. Reused is set when
// an identical request was still running and its job is returned instead.
type ReportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ReportStatus `json:"status"`
	Progress int                 `json:"progress"`
	Reused   bool                `json:"reused,omitempty"`
}

// ReportStatusResponse is the GET /reports/status/:id payload.
type ReportStatusResponse struct {
	ID         string              `json:"id"`
	Type       models.ReportType   `json:"type"`
	Status     models.ReportStatus `json:"status"`
	Progress   int                 `json:"progress"`
	ResultURL  *string             `json:"resultUrl,omitempty"`
	Error      *string             `json:"error,omitempty"`
	FinishedAt *time.Time          `json:"finishedAt,omitempty"`
}
