package grading

import (
	"fmt"
	"math"
	"strings"

	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

// Outcome is a validated promotion decision. Build it with Promoted, Repeated or
// SpecialCase; the constructors reject the combinations a PromotionResult forbids.
type Outcome struct {
	decision           models.PromotionDecision
	destinationClassID string
	notes              string
}

// Promoted requires the class the student moves to.
func Promoted(destinationClassID string) (Outcome, error) {
	dest := strings.TrimSpace(destinationClassID)
	if dest == "" {
		return Outcome{}, appErrors.Clone(appErrors.ErrInvalidPromotionResult, "promoted decision requires a destination class")
	}
	return Outcome{decision: models.DecisionPromoted, destinationClassID: dest}, nil
}

// Repeated carries neither destination nor notes.
func Repeated() Outcome {
	return Outcome{decision: models.DecisionRepeated}
}

// SpecialCase requires notes explaining the administrative override.
func SpecialCase(notes string) (Outcome, error) {
	n := strings.TrimSpace(notes)
	if n == "" {
		return Outcome{}, appErrors.Clone(appErrors.ErrInvalidPromotionResult, "special case decision requires notes")
	}
	return Outcome{decision: models.DecisionSpecialCase, notes: n}, nil
}

// Decision returns the outcome variant.
func (o Outcome) Decision() models.PromotionDecision { return o.decision }

// DestinationClassID is set only for promoted outcomes.
func (o Outcome) DestinationClassID() (string, bool) {
	return o.destinationClassID, o.decision == models.DecisionPromoted
}

// Notes is set only for special cases.
func (o Outcome) Notes() (string, bool) {
	return o.notes, o.decision == models.DecisionSpecialCase
}

// Override forces a special case regardless of the numeric rule.
type Override struct {
	Notes string `json:"notes"`
}

// DecisionInput gathers everything the promotion decision depends on.
type DecisionInput struct {
	Calculation        *models.AverageCalculation
	Threshold          float64
	DestinationClassID string
	Override           *Override
}

// Rule applies the numeric promotion rule. It is monotonic in finalAverage.
func Rule(finalAverage, threshold float64) models.PromotionDecision {
	if finalAverage >= threshold {
		return models.DecisionPromoted
	}
	return models.DecisionRepeated
}

// Decide computes the promotion outcome from a finalized year calculation.
// It does not modify the calculation.
func Decide(in DecisionInput) (Outcome, error) {
	calc := in.Calculation
	if calc == nil {
		return Outcome{}, appErrors.Clone(appErrors.ErrValidation, "average calculation required")
	}
	if !calc.IsFinalized {
		return Outcome{}, appErrors.Clone(appErrors.ErrNotFinalized, fmt.Sprintf("calculation %s is not finalized", calc.ID))
	}
	if calc.Scope != models.CalculationScopeYear {
		return Outcome{}, appErrors.Clone(appErrors.ErrValidation, "promotion requires a year-level calculation")
	}
	if in.Threshold < 0 || math.IsNaN(in.Threshold) {
		return Outcome{}, appErrors.Clone(appErrors.ErrValidation, "promotion threshold must not be negative")
	}
	dest := strings.TrimSpace(in.DestinationClassID)

	if in.Override != nil {
		if dest != "" {
			return Outcome{}, appErrors.Clone(appErrors.ErrInvalidPromotionResult, "special case decision must not carry a destination class")
		}
		return SpecialCase(in.Override.Notes)
	}

	switch Rule(calc.GeneralAverage, in.Threshold) {
	case models.DecisionPromoted:
		return Promoted(dest)
	default:
		if dest != "" {
			return Outcome{}, appErrors.Clone(appErrors.ErrInvalidPromotionResult, "repeated decision must not carry a destination class")
		}
		return Repeated(), nil
	}
}

// Result materialises an outcome into a promotion record. FinalAverage is copied
// from the calculation so the record always matches its source.
func Result(calc *models.AverageCalculation, threshold float64, outcome Outcome) models.PromotionResult {
	result := models.PromotionResult{
		StudentID:          calc.StudentID,
		FromSchoolYear:     calc.SchoolYear,
		CalculationID:      calc.ID,
		FromClassID:        calc.ClassID,
		FinalAverage:       calc.GeneralAverage,
		PromotionThreshold: threshold,
		Decision:           outcome.Decision(),
	}
	if dest, ok := outcome.DestinationClassID(); ok {
		result.ToClassID = &dest
	}
	if notes, ok := outcome.Notes(); ok {
		result.Notes = &notes
	}
	return result
}
