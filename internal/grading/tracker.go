// Package grading holds the pure computations behind academic records: evaluation
// plan tracking, subject and general averages, and the promotion decision.
// Functions here never perform I/O and never log; every failure is returned to
// the caller as a *errors.Error from pkg/errors.
package grading

import (
	"fmt"

	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

// EligibilityPolicy decides when a plan is complete enough for averaging.
// The zero value requires every planned item.
type EligibilityPolicy struct {
	Minimum                bool
	MinInterrogations      int
	MinHomeworks           int
	RequireFinalEvaluation bool
}

// ValidatePlan checks the counter invariants of a plan.
func ValidatePlan(plan *models.EvaluationPlan) error {
	if plan == nil {
		return appErrors.Clone(appErrors.ErrValidation, "evaluation plan required")
	}
	if plan.InterrogationsPlanned < 0 || plan.HomeworksPlanned < 0 {
		return appErrors.Clone(appErrors.ErrValidation, "planned counts must not be negative")
	}
	if plan.InterrogationsCompleted < 0 || plan.InterrogationsCompleted > plan.InterrogationsPlanned {
		return appErrors.Clone(appErrors.ErrPlanExceeded, "interrogations completed exceed plan")
	}
	if plan.HomeworksCompleted < 0 || plan.HomeworksCompleted > plan.HomeworksPlanned {
		return appErrors.Clone(appErrors.ErrPlanExceeded, "homeworks completed exceed plan")
	}
	if plan.FinalEvaluationCompleted && !plan.FinalEvaluationPlanned {
		return appErrors.Clone(appErrors.ErrPlanExceeded, "final evaluation completed but not planned")
	}
	return nil
}

// RecordGrade advances the counter matching kind when an evaluation is held for
// the class. The plan is left untouched on error.
func RecordGrade(plan *models.EvaluationPlan, kind models.GradeKind) error {
	if plan == nil {
		return appErrors.Clone(appErrors.ErrValidation, "evaluation plan required")
	}
	if plan.Locked {
		return appErrors.Clone(appErrors.ErrFinalized, "evaluation plan locked")
	}
	switch kind {
	case models.GradeKindInterrogation:
		if plan.InterrogationsCompleted >= plan.InterrogationsPlanned {
			return appErrors.Clone(appErrors.ErrPlanExceeded, fmt.Sprintf("all %d planned interrogations already recorded", plan.InterrogationsPlanned))
		}
		plan.InterrogationsCompleted++
	case models.GradeKindHomework:
		if plan.HomeworksCompleted >= plan.HomeworksPlanned {
			return appErrors.Clone(appErrors.ErrPlanExceeded, fmt.Sprintf("all %d planned homeworks already recorded", plan.HomeworksPlanned))
		}
		plan.HomeworksCompleted++
	case models.GradeKindFinalEvaluation:
		if !plan.FinalEvaluationPlanned {
			return appErrors.Clone(appErrors.ErrPlanExceeded, "final evaluation not planned")
		}
		if plan.FinalEvaluationCompleted {
			return appErrors.Clone(appErrors.ErrPlanExceeded, "final evaluation already recorded")
		}
		plan.FinalEvaluationCompleted = true
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown grade kind %q", kind))
	}
	return nil
}

// EnsureOpen rejects student grade writes against a locked plan.
func EnsureOpen(plan *models.EvaluationPlan) error {
	if plan == nil {
		return appErrors.Clone(appErrors.ErrValidation, "evaluation plan required")
	}
	if plan.Locked {
		return appErrors.Clone(appErrors.ErrFinalized, "evaluation plan locked")
	}
	return nil
}

// CorrectGrade reverts one recorded item of kind. It is the only way counters go down.
func CorrectGrade(plan *models.EvaluationPlan, kind models.GradeKind) error {
	if plan == nil {
		return appErrors.Clone(appErrors.ErrValidation, "evaluation plan required")
	}
	if plan.Locked {
		return appErrors.Clone(appErrors.ErrFinalized, "evaluation plan locked")
	}
	switch kind {
	case models.GradeKindInterrogation:
		if plan.InterrogationsCompleted == 0 {
			return appErrors.Clone(appErrors.ErrValidation, "no interrogation to correct")
		}
		plan.InterrogationsCompleted--
	case models.GradeKindHomework:
		if plan.HomeworksCompleted == 0 {
			return appErrors.Clone(appErrors.ErrValidation, "no homework to correct")
		}
		plan.HomeworksCompleted--
	case models.GradeKindFinalEvaluation:
		if !plan.FinalEvaluationCompleted {
			return appErrors.Clone(appErrors.ErrValidation, "no final evaluation to correct")
		}
		plan.FinalEvaluationCompleted = false
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown grade kind %q", kind))
	}
	return nil
}

// IsComplete reports whether every planned item has been recorded.
func IsComplete(plan *models.EvaluationPlan) bool {
	if plan == nil {
		return false
	}
	if plan.InterrogationsCompleted != plan.InterrogationsPlanned {
		return false
	}
	if plan.HomeworksCompleted != plan.HomeworksPlanned {
		return false
	}
	if plan.FinalEvaluationPlanned && !plan.FinalEvaluationCompleted {
		return false
	}
	return true
}

// IsEligibleForAverage reports whether the subject may be averaged for the term.
func IsEligibleForAverage(plan *models.EvaluationPlan, policy EligibilityPolicy) bool {
	if plan == nil {
		return false
	}
	if !policy.Minimum {
		return IsComplete(plan)
	}
	if plan.InterrogationsCompleted < minInt(policy.MinInterrogations, plan.InterrogationsPlanned) {
		return false
	}
	if plan.HomeworksCompleted < minInt(policy.MinHomeworks, plan.HomeworksPlanned) {
		return false
	}
	if policy.RequireFinalEvaluation && plan.FinalEvaluationPlanned && !plan.FinalEvaluationCompleted {
		return false
	}
	return true
}

// Completion evaluates both tracker predicates.
func Completion(plan *models.EvaluationPlan, policy EligibilityPolicy) models.PlanCompletion {
	return models.PlanCompletion{Complete: IsComplete(plan), Eligible: IsEligibleForAverage(plan, policy)}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
