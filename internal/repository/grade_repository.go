package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-records-api/internal/models"
)

const gradeColumns = `id, plan_id, evaluation_id, student_id, class_id, subject_id, term_id, school_year, kind, value, recorded_by, recorded_at`

// GradeRepository reads the grade store. Writes go through EvaluationPlanRepository
// so counters and entries never diverge.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository creates a new grade repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// List returns grade entries matching the filter in recording order.
func (r *GradeRepository) List(ctx context.Context, filter models.GradeFilter) ([]models.GradeEntry, error) {
	query := `SELECT ` + gradeColumns + ` FROM grade_entries WHERE 1=1`
	var args []interface{}
	if filter.StudentID != "" {
		query += fmt.Sprintf(" AND student_id = $%d", len(args)+1)
		args = append(args, filter.StudentID)
	}
	if filter.SubjectID != "" {
		query += fmt.Sprintf(" AND subject_id = $%d", len(args)+1)
		args = append(args, filter.SubjectID)
	}
	if filter.TermID != "" {
		query += fmt.Sprintf(" AND term_id = $%d", len(args)+1)
		args = append(args, filter.TermID)
	}
	if filter.SchoolYear != "" {
		query += fmt.Sprintf(" AND school_year = $%d", len(args)+1)
		args = append(args, filter.SchoolYear)
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", len(args)+1)
		args = append(args, filter.Kind)
	}
	query += " ORDER BY recorded_at ASC, id ASC"
	var grades []models.GradeEntry
	if err := r.db.SelectContext(ctx, &grades, query, args...); err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	return grades, nil
}

// FetchByStudents groups the school-year grades of several students by student ID.
// An empty termID covers the whole year.
func (r *GradeRepository) FetchByStudents(ctx context.Context, studentIDs []string, schoolYear, termID string) (map[string][]models.GradeEntry, error) {
	result := make(map[string][]models.GradeEntry, len(studentIDs))
	if len(studentIDs) == 0 {
		return result, nil
	}
	query := `SELECT ` + gradeColumns + ` FROM grade_entries WHERE student_id = ANY($1) AND school_year = $2`
	args := []interface{}{pq.Array(studentIDs), schoolYear}
	if termID != "" {
		query += " AND term_id = $3"
		args = append(args, termID)
	}
	query += " ORDER BY recorded_at ASC, id ASC"
	var grades []models.GradeEntry
	if err := r.db.SelectContext(ctx, &grades, query, args...); err != nil {
		return nil, fmt.Errorf("fetch grades by students: %w", err)
	}
	for _, g := range grades {
		result[g.StudentID] = append(result[g.StudentID], g)
	}
	return result, nil
}
