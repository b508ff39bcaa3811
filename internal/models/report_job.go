package models

import (
	"database/sql/driver"
	"time"
)

// ReportType names a class register. Averages registers list the calculations of a
// class; promotions registers list the year-end decisions.
type ReportType string

const (
	ReportTypeAverages   ReportType = "averages"
	ReportTypePromotions ReportType = "promotions"
)

// ReportFormat is the rendering of a register.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ReportStatus is the lifecycle state of a register job.
type ReportStatus string

const (
	ReportStatusQueued     ReportStatus = "QUEUED"
	ReportStatusProcessing ReportStatus = "PROCESSING"
	ReportStatusFinished   ReportStatus = "FINISHED"
	ReportStatusFailed     ReportStatus = "FAILED"
	ReportStatusExpired    ReportStatus = "EXPIRED"
)

// Active reports whether the job may still produce a file.
func (s ReportStatus) Active() bool {
	return s == ReportStatusQueued || s == ReportStatusProcessing
}

// ReportJob is the persisted state of one register generation.
type ReportJob struct {
	ID           string          `db:"id" json:"id"`
	Type         ReportType      `db:"type" json:"type"`
	Params       ReportJobParams `db:"params" json:"params"`
	Status       ReportStatus    `db:"status" json:"status"`
	Progress     int             `db:"progress" json:"progress"`
	ResultURL    *string         `db:"result_url" json:"result_url,omitempty"`
	CreatedBy    string          `db:"created_by" json:"created_by"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
}

// ReportJobParams selects the records a register covers. It is stored as JSONB.
// TermID narrows an averages register to term calculations; empty means year calculations.
type ReportJobParams struct {
	SchoolYear string       `json:"schoolYear"`
	ClassID    string       `json:"classId"`
	TermID     string       `json:"termId,omitempty"`
	Format     ReportFormat `json:"format"`
}

// Value implements driver.Valuer.
func (p ReportJobParams) Value() (driver.Value, error) {
	return jsonValue(p, "report job params")
}

// Scan implements sql.Scanner.
func (p *ReportJobParams) Scan(value interface{}) error {
	var decoded ReportJobParams
	if _, err := scanJSON(value, &decoded, "report job params"); err != nil {
		return err
	}
	*p = decoded
	return nil
}
