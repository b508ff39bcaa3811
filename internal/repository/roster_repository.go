package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-records-api/internal/models"
)

// RosterRepository resolves class placements and the students enrolled in them.
type RosterRepository struct {
	db *sqlx.DB
}

// NewRosterRepository constructs the repository.
func NewRosterRepository(db *sqlx.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

// FindPlacement returns the level of a class for a school year or sql.ErrNoRows.
func (r *RosterRepository) FindPlacement(ctx context.Context, classID, schoolYear string) (*models.ClassPlacement, error) {
	const query = `SELECT class_id, level, school_year FROM class_placements WHERE class_id = $1 AND school_year = $2`
	var placement models.ClassPlacement
	if err := r.db.GetContext(ctx, &placement, query, classID, schoolYear); err != nil {
		return nil, err
	}
	return &placement, nil
}

// ListStudentIDs returns the active students of a class for a school year.
func (r *RosterRepository) ListStudentIDs(ctx context.Context, classID, schoolYear string) ([]string, error) {
	const query = `SELECT student_id FROM class_rosters WHERE class_id = $1 AND school_year = $2 AND active = TRUE ORDER BY student_id ASC`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, classID, schoolYear); err != nil {
		return nil, fmt.Errorf("list class roster: %w", err)
	}
	return ids, nil
}
