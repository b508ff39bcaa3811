package models

import "time"

// GradeKind classifies a graded item against the evaluation plan.
type GradeKind string

const (
	GradeKindInterrogation   GradeKind = "INTERROGATION"
	GradeKindHomework        GradeKind = "HOMEWORK"
	GradeKindFinalEvaluation GradeKind = "FINAL_EVALUATION"
)

// Valid reports whether the kind is one of the known plan items.
func (k GradeKind) Valid() bool {
	switch k {
	case GradeKindInterrogation, GradeKindHomework, GradeKindFinalEvaluation:
		return true
	default:
		return false
	}
}

// EvaluationPlan tracks required gradeable events for a class+subject+term+teacher.
type EvaluationPlan struct {
	ID                       string    `db:"id" json:"id"`
	SchoolYear               string    `db:"school_year" json:"school_year"`
	TermID                   string    `db:"term_id" json:"term_id"`
	ClassID                  string    `db:"class_id" json:"class_id"`
	SubjectID                string    `db:"subject_id" json:"subject_id"`
	TeacherID                string    `db:"teacher_id" json:"teacher_id"`
	InterrogationsPlanned    int       `db:"interrogations_planned" json:"interrogations_planned"`
	InterrogationsCompleted  int       `db:"interrogations_completed" json:"interrogations_completed"`
	HomeworksPlanned         int       `db:"homeworks_planned" json:"homeworks_planned"`
	HomeworksCompleted       int       `db:"homeworks_completed" json:"homeworks_completed"`
	FinalEvaluationPlanned   bool      `db:"final_evaluation_planned" json:"final_evaluation_planned"`
	FinalEvaluationCompleted bool      `db:"final_evaluation_completed" json:"final_evaluation_completed"`
	Locked                   bool      `db:"locked" json:"locked"`
	CreatedAt                time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time `db:"updated_at" json:"updated_at"`
}

// Evaluation is a gradeable event held once for the whole class. Opening one
// advances the plan counter; each student's grade then attaches to it.
type Evaluation struct {
	ID       string    `db:"id" json:"id"`
	PlanID   string    `db:"plan_id" json:"plan_id"`
	Kind     GradeKind `db:"kind" json:"kind"`
	Sequence int       `db:"sequence" json:"sequence"`
	OpenedBy string    `db:"opened_by" json:"opened_by"`
	OpenedAt time.Time `db:"opened_at" json:"opened_at"`
}

// EvaluationPlanScope identifies the assignment owning a plan.
type EvaluationPlanScope struct {
	SchoolYear string
	TermID     string
	ClassID    string
	SubjectID  string
	TeacherID  string
}

// PlanCompletion summarises tracker predicates for responses.
type PlanCompletion struct {
	Complete bool `json:"complete"`
	Eligible bool `json:"eligible"`
}

// EvaluationPlanDetail bundles a plan with its completion state.
type EvaluationPlanDetail struct {
	EvaluationPlan
	Completion  PlanCompletion `json:"completion"`
	Evaluations []Evaluation   `json:"evaluations,omitempty"`
}
