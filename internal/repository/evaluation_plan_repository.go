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

const planColumns = `id, school_year, term_id, class_id, subject_id, teacher_id,
interrogations_planned, interrogations_completed, homeworks_planned, homeworks_completed,
final_evaluation_planned, final_evaluation_completed, locked, created_at, updated_at`

// EvaluationPlanRepository persists evaluation plans, their evaluations and the grades recorded against them.
type EvaluationPlanRepository struct {
	db *sqlx.DB
}

// NewEvaluationPlanRepository constructs the repository.
func NewEvaluationPlanRepository(db *sqlx.DB) *EvaluationPlanRepository {
	return &EvaluationPlanRepository{db: db}
}

// Create inserts a plan. A second plan for the same scope returns ErrDuplicate.
func (r *EvaluationPlanRepository) Create(ctx context.Context, plan *models.EvaluationPlan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now
	const query = `INSERT INTO evaluation_plans (` + planColumns + `)
VALUES (:id, :school_year, :term_id, :class_id, :subject_id, :teacher_id,
:interrogations_planned, :interrogations_completed, :homeworks_planned, :homeworks_completed,
:final_evaluation_planned, :final_evaluation_completed, :locked, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, plan); err != nil {
		return wrapWriteError("create evaluation plan", err)
	}
	return nil
}

// FindByID returns a plan or sql.ErrNoRows.
func (r *EvaluationPlanRepository) FindByID(ctx context.Context, id string) (*models.EvaluationPlan, error) {
	query := `SELECT ` + planColumns + ` FROM evaluation_plans WHERE id = $1`
	var plan models.EvaluationPlan
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		return nil, err
	}
	return &plan, nil
}

// FindByScope returns the plan owned by a class+subject+term+teacher assignment.
func (r *EvaluationPlanRepository) FindByScope(ctx context.Context, scope models.EvaluationPlanScope) (*models.EvaluationPlan, error) {
	query := `SELECT ` + planColumns + ` FROM evaluation_plans
WHERE school_year = $1 AND term_id = $2 AND class_id = $3 AND subject_id = $4 AND teacher_id = $5`
	var plan models.EvaluationPlan
	if err := r.db.GetContext(ctx, &plan, query, scope.SchoolYear, scope.TermID, scope.ClassID, scope.SubjectID, scope.TeacherID); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListByClass returns the plans of a class for a school year, optionally narrowed to a term.
func (r *EvaluationPlanRepository) ListByClass(ctx context.Context, classID, schoolYear, termID string) ([]models.EvaluationPlan, error) {
	query := `SELECT ` + planColumns + ` FROM evaluation_plans WHERE class_id = $1 AND school_year = $2`
	args := []interface{}{classID, schoolYear}
	if termID != "" {
		query += fmt.Sprintf(" AND term_id = $%d", len(args)+1)
		args = append(args, termID)
	}
	query += " ORDER BY subject_id, term_id"
	var plans []models.EvaluationPlan
	if err := r.db.SelectContext(ctx, &plans, query, args...); err != nil {
		return nil, fmt.Errorf("list evaluation plans: %w", err)
	}
	return plans, nil
}

// HasClassAccess reports whether the teacher owns at least one plan of the class in the school year.
func (r *EvaluationPlanRepository) HasClassAccess(ctx context.Context, teacherID, classID, schoolYear string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM evaluation_plans WHERE teacher_id = $1 AND class_id = $2 AND school_year = $3)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, teacherID, classID, schoolYear); err != nil {
		return false, fmt.Errorf("check class access: %w", err)
	}
	return exists, nil
}

const evaluationColumns = `id, plan_id, kind, sequence, opened_by, opened_at`

// OpenEvaluation locks the plan row, lets apply advance the counter of the
// evaluation kind and stores the evaluation with the next sequence number.
// Nothing is written when apply fails.
func (r *EvaluationPlanRepository) OpenEvaluation(ctx context.Context, planID string, evaluation *models.Evaluation, apply func(*models.EvaluationPlan) error) (*models.EvaluationPlan, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin open evaluation: %w", err)
	}

	plan, err := lockPlan(ctx, tx, planID, "FOR UPDATE")
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	if err := apply(plan); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	const next = `SELECT COALESCE(MAX(sequence), 0) + 1 FROM evaluations WHERE plan_id = $1 AND kind = $2`
	if err := tx.GetContext(ctx, &evaluation.Sequence, next, planID, evaluation.Kind); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("next evaluation sequence: %w", err)
	}
	if evaluation.ID == "" {
		evaluation.ID = uuid.NewString()
	}
	if evaluation.OpenedAt.IsZero() {
		evaluation.OpenedAt = time.Now().UTC()
	}
	evaluation.PlanID = plan.ID

	const insert = `INSERT INTO evaluations (` + evaluationColumns + `)
VALUES (:id, :plan_id, :kind, :sequence, :opened_by, :opened_at)`
	if _, err := tx.NamedExecContext(ctx, insert, evaluation); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, wrapWriteError("insert evaluation", err)
	}
	if err := updateCounters(ctx, tx, plan); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit open evaluation: %w", err)
	}
	return plan, nil
}

// ListEvaluations returns the evaluations opened under a plan.
func (r *EvaluationPlanRepository) ListEvaluations(ctx context.Context, planID string) ([]models.Evaluation, error) {
	query := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE plan_id = $1 ORDER BY kind, sequence`
	var evaluations []models.Evaluation
	if err := r.db.SelectContext(ctx, &evaluations, query, planID); err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	return evaluations, nil
}

// RecordGrade stores one student's grade on an evaluation of the plan. The plan
// row is share-locked so a concurrent close waits; counters are not touched.
// A second grade for the same student and evaluation returns ErrDuplicate.
func (r *EvaluationPlanRepository) RecordGrade(ctx context.Context, planID string, entry *models.GradeEntry, check func(*models.EvaluationPlan, *models.Evaluation) error) (*models.EvaluationPlan, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin record grade: %w", err)
	}

	plan, err := lockPlan(ctx, tx, planID, "FOR SHARE")
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	var evaluation models.Evaluation
	query := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE id = $1 AND plan_id = $2`
	if err := tx.GetContext(ctx, &evaluation, query, entry.EvaluationID, planID); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	if err := check(plan, &evaluation); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	entry.PlanID = plan.ID
	entry.Kind = evaluation.Kind
	entry.ClassID = plan.ClassID
	entry.SubjectID = plan.SubjectID
	entry.TermID = plan.TermID
	entry.SchoolYear = plan.SchoolYear

	const insert = `INSERT INTO grade_entries (` + gradeColumns + `)
VALUES (:id, :plan_id, :evaluation_id, :student_id, :class_id, :subject_id, :term_id, :school_year, :kind, :value, :recorded_by, :recorded_at)`
	if _, err := tx.NamedExecContext(ctx, insert, entry); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, wrapWriteError("insert grade entry", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record grade: %w", err)
	}
	return plan, nil
}

// WithdrawGrade removes one student's grade. The evaluation stays open, so the
// plan counters are unchanged.
func (r *EvaluationPlanRepository) WithdrawGrade(ctx context.Context, planID, gradeID string, check func(*models.EvaluationPlan) error) (*models.EvaluationPlan, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin withdraw grade: %w", err)
	}

	plan, err := lockPlan(ctx, tx, planID, "FOR SHARE")
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	if err := check(plan); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM grade_entries WHERE id = $1 AND plan_id = $2`, gradeID, planID)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("delete grade entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("check withdraw rows: %w", err)
	}
	if rows == 0 {
		tx.Rollback() //nolint:errcheck
		return nil, sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit withdraw grade: %w", err)
	}
	return plan, nil
}

// WithdrawEvaluation removes an evaluation with every grade attached to it and
// lets revert roll the matching counter back. It is the only path that lowers a counter.
func (r *EvaluationPlanRepository) WithdrawEvaluation(ctx context.Context, planID, evaluationID string, revert func(*models.EvaluationPlan, models.GradeKind) error) (*models.EvaluationPlan, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin withdraw evaluation: %w", err)
	}

	plan, err := lockPlan(ctx, tx, planID, "FOR UPDATE")
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	var kind models.GradeKind
	if err := tx.GetContext(ctx, &kind, `SELECT kind FROM evaluations WHERE id = $1 AND plan_id = $2`, evaluationID, planID); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	if err := revert(plan, kind); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM grade_entries WHERE evaluation_id = $1`, evaluationID); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("delete evaluation grades: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM evaluations WHERE id = $1`, evaluationID); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("delete evaluation: %w", err)
	}
	if err := updateCounters(ctx, tx, plan); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit withdraw evaluation: %w", err)
	}
	return plan, nil
}

// Lock closes a plan for the term. Locking an already locked plan is a no-op.
func (r *EvaluationPlanRepository) Lock(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE evaluation_plans SET locked = TRUE, updated_at = $2 WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("lock evaluation plan: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check lock rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func lockPlan(ctx context.Context, tx *sqlx.Tx, planID, mode string) (*models.EvaluationPlan, error) {
	query := `SELECT ` + planColumns + ` FROM evaluation_plans WHERE id = $1 ` + mode
	var plan models.EvaluationPlan
	if err := tx.GetContext(ctx, &plan, query, planID); err != nil {
		return nil, err
	}
	return &plan, nil
}

func updateCounters(ctx context.Context, tx *sqlx.Tx, plan *models.EvaluationPlan) error {
	plan.UpdatedAt = time.Now().UTC()
	const query = `UPDATE evaluation_plans SET interrogations_completed = :interrogations_completed,
homeworks_completed = :homeworks_completed, final_evaluation_completed = :final_evaluation_completed,
updated_at = :updated_at WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, plan); err != nil {
		return fmt.Errorf("update plan counters: %w", err)
	}
	return nil
}
