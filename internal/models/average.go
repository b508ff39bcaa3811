package models

import (
	"database/sql/driver"
	"time"
)

// CalculationScope distinguishes term-level and year-level calculations.
type CalculationScope string

const (
	CalculationScopePeriod CalculationScope = "PERIOD"
	CalculationScopeYear   CalculationScope = "YEAR"
)

// SubjectAverage is a derived per-subject mean paired with its curriculum coefficient.
type SubjectAverage struct {
	SubjectID   string  `json:"subject_id"`
	Coefficient float64 `json:"coefficient"`
	Average     float64 `json:"average"`
	GradeCount  int     `json:"grade_count"`
}

// SubjectAverages is persisted as JSONB alongside its calculation.
type SubjectAverages []SubjectAverage

// Value marshals subject averages for persistence.
func (s SubjectAverages) Value() (driver.Value, error) {
	if s == nil {
		s = SubjectAverages{}
	}
	return jsonValue(s, "subject averages")
}

// Scan unmarshals JSONB payloads into subject averages.
func (s *SubjectAverages) Scan(value interface{}) error {
	var decoded SubjectAverages
	ok, err := scanJSON(value, &decoded, "subject averages")
	if err != nil {
		return err
	}
	if !ok || decoded == nil {
		decoded = SubjectAverages{}
	}
	*s = decoded
	return nil
}

// AverageCalculation holds a student's weighted averages for a term or a school year.
// TermID is set only for PERIOD scope.
type AverageCalculation struct {
	ID              string           `db:"id" json:"id"`
	StudentID       string           `db:"student_id" json:"student_id"`
	ClassID         string           `db:"class_id" json:"class_id"`
	SchoolYear      string           `db:"school_year" json:"school_year"`
	Scope           CalculationScope `db:"scope" json:"scope"`
	TermID          *string          `db:"term_id" json:"term_id,omitempty"`
	Subjects        SubjectAverages  `db:"subjects" json:"subjects"`
	GeneralAverage  float64          `db:"general_average" json:"general_average"`
	IsFinalized     bool             `db:"is_finalized" json:"is_finalized"`
	ComputedBy      string           `db:"computed_by" json:"computed_by"`
	ComputedAt      time.Time        `db:"computed_at" json:"computed_at"`
	FinalizedBy     *string          `db:"finalized_by" json:"finalized_by,omitempty"`
	FinalizedAt     *time.Time       `db:"finalized_at" json:"finalized_at,omitempty"`
	SupersedesID    *string          `db:"supersedes_id" json:"supersedes_id,omitempty"`
	SupersededBy    *string          `db:"superseded_by" json:"superseded_by,omitempty"`
	SupersededAt    *time.Time       `db:"superseded_at" json:"superseded_at,omitempty"`
	// SupersedeReason is set on the prior row when a correction replaces it.
	SupersedeReason *string          `db:"supersede_reason" json:"supersede_reason,omitempty"`
}

// CalculationKey identifies the current calculation for a student.
type CalculationKey struct {
	StudentID  string
	SchoolYear string
	Scope      CalculationScope
	TermID     string
}

// Key derives the lookup key of a calculation.
func (c *AverageCalculation) Key() CalculationKey {
	key := CalculationKey{StudentID: c.StudentID, SchoolYear: c.SchoolYear, Scope: c.Scope}
	if c.TermID != nil {
		key.TermID = *c.TermID
	}
	return key
}

// CalculationFilter scopes list queries over calculations.
type CalculationFilter struct {
	ClassID    string
	SchoolYear string
	Scope      CalculationScope
	TermID     string
}
