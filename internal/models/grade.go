package models

import "time"

// GradeEntry is one student's grade on an evaluation, held by the grade store.
type GradeEntry struct {
	ID           string    `db:"id" json:"id"`
	PlanID       string    `db:"plan_id" json:"plan_id"`
	EvaluationID string    `db:"evaluation_id" json:"evaluation_id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	ClassID      string    `db:"class_id" json:"class_id"`
	SubjectID    string    `db:"subject_id" json:"subject_id"`
	TermID       string    `db:"term_id" json:"term_id"`
	SchoolYear   string    `db:"school_year" json:"school_year"`
	Kind         GradeKind `db:"kind" json:"kind"`
	Value        float64   `db:"value" json:"value"`
	RecordedBy   string    `db:"recorded_by" json:"recorded_by"`
	RecordedAt   time.Time `db:"recorded_at" json:"recorded_at"`
}

// GradeFilter scopes grade store reads. Empty fields are ignored.
type GradeFilter struct {
	StudentID  string
	SubjectID  string
	TermID     string
	SchoolYear string
	Kind       GradeKind
}

// GradeScale bounds valid grade values.
type GradeScale struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the scale.
func (s GradeScale) Contains(v float64) bool {
	return v >= s.Min && v <= s.Max
}
