package models

import "time"

// PromotionDecision is the year-end outcome for a student.
type PromotionDecision string

const (
	DecisionPromoted    PromotionDecision = "PROMOTED"
	DecisionRepeated    PromotionDecision = "REPEATED"
	DecisionSpecialCase PromotionDecision = "SPECIAL_CASE"
)

// PromotionResult records the promotion decision for a student's school year.
// ToClassID is present only for PROMOTED, Notes only for SPECIAL_CASE. A result
// is retracted when its calculation is superseded, freeing the year for a new decision.
type PromotionResult struct {
	ID                 string            `db:"id" json:"id"`
	StudentID          string            `db:"student_id" json:"student_id"`
	FromSchoolYear     string            `db:"from_school_year" json:"from_school_year"`
	CalculationID      string            `db:"calculation_id" json:"calculation_id"`
	FromClassID        string            `db:"from_class_id" json:"from_class_id"`
	ToClassID          *string           `db:"to_class_id" json:"to_class_id,omitempty"`
	FinalAverage       float64           `db:"final_average" json:"final_average"`
	PromotionThreshold float64           `db:"promotion_threshold" json:"promotion_threshold"`
	Decision           PromotionDecision `db:"decision" json:"decision"`
	Notes              *string           `db:"notes" json:"notes,omitempty"`
	DecidedBy          string            `db:"decided_by" json:"decided_by"`
	DecidedAt          time.Time         `db:"decided_at" json:"decided_at"`
	RetractedAt        *time.Time        `db:"retracted_at" json:"retracted_at,omitempty"`
}

// PromotionFilter scopes promotion listings.
type PromotionFilter struct {
	ClassID    string
	SchoolYear string
	Decision   PromotionDecision
}
