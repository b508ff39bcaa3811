package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-records-api/internal/models"
)

// PolicyRepository reads promotion thresholds and curriculum coefficients.
type PolicyRepository struct {
	db *sqlx.DB
}

// NewPolicyRepository constructs the repository.
func NewPolicyRepository(db *sqlx.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// FindPromotionPolicy returns the threshold row for a school year and level or sql.ErrNoRows.
func (r *PolicyRepository) FindPromotionPolicy(ctx context.Context, schoolYear, level string) (*models.PromotionPolicy, error) {
	const query = `SELECT id, school_year, level, threshold, updated_at FROM promotion_policies WHERE school_year = $1 AND level = $2`
	var policy models.PromotionPolicy
	if err := r.db.GetContext(ctx, &policy, query, schoolYear, level); err != nil {
		return nil, err
	}
	return &policy, nil
}

// ListCurriculum returns the subject coefficients of a class level.
func (r *PolicyRepository) ListCurriculum(ctx context.Context, level string) ([]models.CurriculumSubject, error) {
	const query = `SELECT level, subject_id, coefficient, required FROM curriculum_subjects WHERE level = $1 ORDER BY subject_id ASC`
	var subjects []models.CurriculumSubject
	if err := r.db.SelectContext(ctx, &subjects, query, level); err != nil {
		return nil, fmt.Errorf("list curriculum: %w", err)
	}
	return subjects, nil
}
