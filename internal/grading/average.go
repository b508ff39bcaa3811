package grading

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

// Round applies the published two-decimal increment using banker's rounding.
func Round(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

// ComputeSubjectAverage returns the unweighted mean of grades paired with coefficient.
// The mean keeps full precision; rounding happens at finalization.
func ComputeSubjectAverage(subjectID string, grades []float64, coefficient float64, scale models.GradeScale) (models.SubjectAverage, error) {
	if len(grades) == 0 {
		return models.SubjectAverage{}, appErrors.Clone(appErrors.ErrInsufficientGrades, fmt.Sprintf("no grades recorded for subject %s", subjectID))
	}
	if coefficient <= 0 || math.IsNaN(coefficient) {
		return models.SubjectAverage{}, appErrors.Clone(appErrors.ErrInvalidCoefficient, fmt.Sprintf("coefficient for subject %s must be positive", subjectID))
	}
	sum := 0.0
	for _, g := range grades {
		if math.IsNaN(g) || !scale.Contains(g) {
			return models.SubjectAverage{}, appErrors.Clone(appErrors.ErrGradeOutOfScale, fmt.Sprintf("grade %v outside [%v, %v]", g, scale.Min, scale.Max))
		}
		sum += g
	}
	avg := sum / float64(len(grades))
	// guard against float drift past the bounds
	avg = math.Max(scale.Min, math.Min(scale.Max, avg))
	return models.SubjectAverage{
		SubjectID:   subjectID,
		Coefficient: coefficient,
		Average:     avg,
		GradeCount:  len(grades),
	}, nil
}

// ComputeGeneralAverage returns Σ(average×coefficient)/Σcoefficient.
// Every subject in required must be present.
func ComputeGeneralAverage(subjects []models.SubjectAverage, required []string) (float64, error) {
	if len(subjects) == 0 {
		return 0, appErrors.Clone(appErrors.ErrInsufficientGrades, "no subject averages to aggregate")
	}
	present := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		if s.Coefficient <= 0 || math.IsNaN(s.Coefficient) {
			return 0, appErrors.Clone(appErrors.ErrInvalidCoefficient, fmt.Sprintf("coefficient for subject %s must be positive", s.SubjectID))
		}
		if s.GradeCount <= 0 {
			return 0, appErrors.Clone(appErrors.ErrInsufficientGrades, fmt.Sprintf("subject %s has no contributing grades", s.SubjectID))
		}
		if _, dup := present[s.SubjectID]; dup {
			return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("subject %s listed twice", s.SubjectID))
		}
		present[s.SubjectID] = struct{}{}
	}
	var missing []string
	for _, id := range required {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return 0, appErrors.Clone(appErrors.ErrInsufficientGrades, fmt.Sprintf("missing required subjects: %s", strings.Join(missing, ", ")))
	}

	// sum in subject order so the result does not depend on input order
	ordered := SortSubjects(subjects)
	weighted := 0.0
	totalCoefficient := 0.0
	for _, s := range ordered {
		weighted += s.Average * s.Coefficient
		totalCoefficient += s.Coefficient
	}
	return weighted / totalCoefficient, nil
}

// SortSubjects returns a copy ordered by subject ID.
func SortSubjects(subjects []models.SubjectAverage) []models.SubjectAverage {
	ordered := make([]models.SubjectAverage, len(subjects))
	copy(ordered, subjects)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SubjectID < ordered[j].SubjectID })
	return ordered
}

// NewCalculation assembles a draft calculation and derives its general average.
func NewCalculation(base models.AverageCalculation, subjects []models.SubjectAverage, required []string) (*models.AverageCalculation, error) {
	if base.Scope == models.CalculationScopePeriod && (base.TermID == nil || *base.TermID == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "period calculation requires a term")
	}
	if base.Scope == models.CalculationScopeYear && base.TermID != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "year calculation must not reference a term")
	}
	if base.Scope != models.CalculationScopePeriod && base.Scope != models.CalculationScopeYear {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown calculation scope %q", base.Scope))
	}
	general, err := ComputeGeneralAverage(subjects, required)
	if err != nil {
		return nil, err
	}
	calc := base
	calc.Subjects = SortSubjects(subjects)
	calc.GeneralAverage = general
	calc.IsFinalized = false
	calc.FinalizedBy = nil
	calc.FinalizedAt = nil
	return &calc, nil
}

// Finalize moves a draft calculation to finalized, rounding its published values.
// Finalizing twice is an error so the original provenance is never overwritten.
func Finalize(calc *models.AverageCalculation, actor string, at time.Time) error {
	if calc == nil {
		return appErrors.Clone(appErrors.ErrValidation, "calculation required")
	}
	if calc.IsFinalized {
		return appErrors.Clone(appErrors.ErrAlreadyFinalized, fmt.Sprintf("calculation %s already finalized", calc.ID))
	}
	if calc.SupersededAt != nil {
		return appErrors.Clone(appErrors.ErrFinalized, fmt.Sprintf("calculation %s has been superseded", calc.ID))
	}
	if len(calc.Subjects) == 0 {
		return appErrors.Clone(appErrors.ErrInsufficientGrades, "calculation has no subject averages")
	}
	general, err := ComputeGeneralAverage(calc.Subjects, nil)
	if err != nil {
		return err
	}
	rounded := make(models.SubjectAverages, len(calc.Subjects))
	for i, s := range calc.Subjects {
		s.Average = Round(s.Average)
		rounded[i] = s
	}
	calc.Subjects = rounded
	calc.GeneralAverage = Round(general)
	calc.IsFinalized = true
	calc.FinalizedBy = &actor
	finalizedAt := at.UTC()
	calc.FinalizedAt = &finalizedAt
	return nil
}

// Supersede un-finalizes prior and returns the draft that replaces it.
// The draft keeps prior's subjects so a correction can be recomputed on top of them.
func Supersede(prior *models.AverageCalculation, newID, actor string, at time.Time) (*models.AverageCalculation, error) {
	if prior == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "calculation required")
	}
	if !prior.IsFinalized {
		return nil, appErrors.Clone(appErrors.ErrNotFinalized, "only finalized calculations can be superseded")
	}
	ts := at.UTC()
	priorID := prior.ID
	draft := *prior
	draft.ID = newID
	draft.Subjects = SortSubjects(prior.Subjects)
	draft.IsFinalized = false
	draft.FinalizedBy = nil
	draft.FinalizedAt = nil
	draft.ComputedBy = actor
	draft.ComputedAt = ts
	draft.SupersedesID = &priorID
	draft.SupersededAt = nil
	draft.SupersededBy = nil
	draft.SupersedeReason = nil

	prior.IsFinalized = false
	prior.SupersededBy = &newID
	prior.SupersededAt = &ts
	return &draft, nil
}
