package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-records-api/internal/models"
)

const calculationColumns = `id, student_id, class_id, school_year, scope, term_id, subjects, general_average,
is_finalized, computed_by, computed_at, finalized_by, finalized_at, supersedes_id, superseded_by, superseded_at,
supersede_reason`

const insertCalculation = `INSERT INTO average_calculations (` + calculationColumns + `)
VALUES (:id, :student_id, :class_id, :school_year, :scope, :term_id, :subjects, :general_average,
:is_finalized, :computed_by, :computed_at, :finalized_by, :finalized_at, :supersedes_id, :superseded_by, :superseded_at,
:supersede_reason)`

// AverageRepository persists average calculations. Superseded rows are kept for provenance
// and excluded from current lookups.
type AverageRepository struct {
	db *sqlx.DB
}

// NewAverageRepository constructs the repository.
func NewAverageRepository(db *sqlx.DB) *AverageRepository {
	return &AverageRepository{db: db}
}

// Create inserts a draft calculation. A live calculation for the same key returns ErrDuplicate.
func (r *AverageRepository) Create(ctx context.Context, calc *models.AverageCalculation) error {
	if calc.ID == "" {
		calc.ID = uuid.NewString()
	}
	if _, err := r.db.NamedExecContext(ctx, insertCalculation, calc); err != nil {
		return wrapWriteError("create average calculation", err)
	}
	return nil
}

// UpdateDraft replaces the computed values of a draft. Finalized rows are never touched;
// sql.ErrNoRows is returned when the row is missing or no longer a draft.
func (r *AverageRepository) UpdateDraft(ctx context.Context, calc *models.AverageCalculation) error {
	const query = `UPDATE average_calculations SET class_id = :class_id, subjects = :subjects,
general_average = :general_average, computed_by = :computed_by, computed_at = :computed_at
WHERE id = :id AND is_finalized = FALSE AND superseded_at IS NULL`
	result, err := r.db.NamedExecContext(ctx, query, calc)
	if err != nil {
		return fmt.Errorf("update average calculation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check calculation update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindByID returns a calculation or sql.ErrNoRows.
func (r *AverageRepository) FindByID(ctx context.Context, id string) (*models.AverageCalculation, error) {
	query := `SELECT ` + calculationColumns + ` FROM average_calculations WHERE id = $1`
	var calc models.AverageCalculation
	if err := r.db.GetContext(ctx, &calc, query, id); err != nil {
		return nil, err
	}
	return &calc, nil
}

// FindCurrent returns the live calculation for a key or sql.ErrNoRows.
func (r *AverageRepository) FindCurrent(ctx context.Context, key models.CalculationKey) (*models.AverageCalculation, error) {
	query := `SELECT ` + calculationColumns + ` FROM average_calculations
WHERE student_id = $1 AND school_year = $2 AND scope = $3 AND COALESCE(term_id, '') = $4 AND superseded_at IS NULL`
	var calc models.AverageCalculation
	if err := r.db.GetContext(ctx, &calc, query, key.StudentID, key.SchoolYear, key.Scope, key.TermID); err != nil {
		return nil, err
	}
	return &calc, nil
}

// MarkFinalized flips a draft to finalized with a compare-and-set on is_finalized.
// sql.ErrNoRows means another caller finalized or superseded the row first.
func (r *AverageRepository) MarkFinalized(ctx context.Context, calc *models.AverageCalculation) error {
	const query = `UPDATE average_calculations SET is_finalized = TRUE, subjects = :subjects,
general_average = :general_average, finalized_by = :finalized_by, finalized_at = :finalized_at
WHERE id = :id AND is_finalized = FALSE AND superseded_at IS NULL`
	result, err := r.db.NamedExecContext(ctx, query, calc)
	if err != nil {
		return fmt.Errorf("finalize average calculation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check finalize rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Supersede un-finalizes prior, inserts draft and retracts the promotion decisions
// taken on prior, all in one transaction. It returns the number of retracted decisions.
func (r *AverageRepository) Supersede(ctx context.Context, prior, draft *models.AverageCalculation) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin supersede: %w", err)
	}

	const release = `UPDATE average_calculations SET is_finalized = FALSE, superseded_by = :superseded_by,
superseded_at = :superseded_at, supersede_reason = :supersede_reason
WHERE id = :id AND is_finalized = TRUE AND superseded_at IS NULL`
	result, err := tx.NamedExecContext(ctx, release, prior)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("release prior calculation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("check supersede rows: %w", err)
	}
	if rows == 0 {
		tx.Rollback() //nolint:errcheck
		return 0, sql.ErrNoRows
	}
	if _, err := tx.NamedExecContext(ctx, insertCalculation, draft); err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, wrapWriteError("insert superseding calculation", err)
	}

	const retract = `UPDATE promotion_results SET retracted_at = :superseded_at
WHERE calculation_id = :id AND retracted_at IS NULL`
	result, err = tx.NamedExecContext(ctx, retract, prior)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("retract promotion results: %w", err)
	}
	retracted, err := result.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("check retracted rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit supersede: %w", err)
	}
	return retracted, nil
}

// List returns live calculations matching the filter ordered by student.
func (r *AverageRepository) List(ctx context.Context, filter models.CalculationFilter) ([]models.AverageCalculation, error) {
	conditions := []string{"superseded_at IS NULL"}
	var args []interface{}
	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)))
	}
	if filter.SchoolYear != "" {
		args = append(args, filter.SchoolYear)
		conditions = append(conditions, fmt.Sprintf("school_year = $%d", len(args)))
	}
	if filter.Scope != "" {
		args = append(args, filter.Scope)
		conditions = append(conditions, fmt.Sprintf("scope = $%d", len(args)))
	}
	if filter.TermID != "" {
		args = append(args, filter.TermID)
		conditions = append(conditions, fmt.Sprintf("term_id = $%d", len(args)))
	}
	query := `SELECT ` + calculationColumns + ` FROM average_calculations WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY student_id ASC`
	var calcs []models.AverageCalculation
	if err := r.db.SelectContext(ctx, &calcs, query, args...); err != nil {
		return nil, fmt.Errorf("list average calculations: %w", err)
	}
	return calcs, nil
}
