package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-records-api/internal/models"
)

const promotionColumns = `id, student_id, from_school_year, calculation_id, from_class_id, to_class_id,
final_average, promotion_threshold, decision, notes, decided_by, decided_at, retracted_at`

// PromotionRepository persists promotion results.
type PromotionRepository struct {
	db *sqlx.DB
}

// NewPromotionRepository constructs the repository.
func NewPromotionRepository(db *sqlx.DB) *PromotionRepository {
	return &PromotionRepository{db: db}
}

// Create inserts a result. A second live result for the same student and year returns ErrDuplicate.
func (r *PromotionRepository) Create(ctx context.Context, result *models.PromotionResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.DecidedAt.IsZero() {
		result.DecidedAt = time.Now().UTC()
	}
	const query = `INSERT INTO promotion_results (` + promotionColumns + `)
VALUES (:id, :student_id, :from_school_year, :calculation_id, :from_class_id, :to_class_id,
:final_average, :promotion_threshold, :decision, :notes, :decided_by, :decided_at, :retracted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, result); err != nil {
		return wrapWriteError("create promotion result", err)
	}
	return nil
}

// FindByID returns a result or sql.ErrNoRows.
func (r *PromotionRepository) FindByID(ctx context.Context, id string) (*models.PromotionResult, error) {
	query := `SELECT ` + promotionColumns + ` FROM promotion_results WHERE id = $1`
	var result models.PromotionResult
	if err := r.db.GetContext(ctx, &result, query, id); err != nil {
		return nil, err
	}
	return &result, nil
}

// FindByStudentYear returns the live result for a student's school year or sql.ErrNoRows.
func (r *PromotionRepository) FindByStudentYear(ctx context.Context, studentID, schoolYear string) (*models.PromotionResult, error) {
	query := `SELECT ` + promotionColumns + ` FROM promotion_results
WHERE student_id = $1 AND from_school_year = $2 AND retracted_at IS NULL`
	var result models.PromotionResult
	if err := r.db.GetContext(ctx, &result, query, studentID, schoolYear); err != nil {
		return nil, err
	}
	return &result, nil
}

// List returns live results matching the filter ordered by student.
func (r *PromotionRepository) List(ctx context.Context, filter models.PromotionFilter) ([]models.PromotionResult, error) {
	conditions := []string{"retracted_at IS NULL"}
	var args []interface{}
	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		conditions = append(conditions, fmt.Sprintf("from_class_id = $%d", len(args)))
	}
	if filter.SchoolYear != "" {
		args = append(args, filter.SchoolYear)
		conditions = append(conditions, fmt.Sprintf("from_school_year = $%d", len(args)))
	}
	if filter.Decision != "" {
		args = append(args, filter.Decision)
		conditions = append(conditions, fmt.Sprintf("decision = $%d", len(args)))
	}
	query := `SELECT ` + promotionColumns + ` FROM promotion_results WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY student_id ASC`
	var results []models.PromotionResult
	if err := r.db.SelectContext(ctx, &results, query, args...); err != nil {
		return nil, fmt.Errorf("list promotion results: %w", err)
	}
	return results, nil
}
