package grading

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

func standardPlan() *models.EvaluationPlan {
	return &models.EvaluationPlan{
		ID:                     "plan-1",
		SchoolYear:             "2024-2025",
		TermID:                 "T1",
		ClassID:                "C1",
		SubjectID:              "MATH",
		TeacherID:              "teacher-1",
		InterrogationsPlanned:  2,
		HomeworksPlanned:       2,
		FinalEvaluationPlanned: true,
	}
}

func TestRecordGradeCompletesPlan(t *testing.T) {
	plan := standardPlan()
	kinds := []models.GradeKind{
		models.GradeKindInterrogation,
		models.GradeKindInterrogation,
		models.GradeKindHomework,
		models.GradeKindHomework,
	}
	for _, kind := range kinds {
		require.NoError(t, RecordGrade(plan, kind))
		assert.False(t, IsComplete(plan))
	}
	require.NoError(t, RecordGrade(plan, models.GradeKindFinalEvaluation))

	assert.True(t, IsComplete(plan))
	assert.True(t, IsEligibleForAverage(plan, EligibilityPolicy{}))
	assert.Equal(t, 2, plan.InterrogationsCompleted)
	assert.Equal(t, 2, plan.HomeworksCompleted)
	assert.True(t, plan.FinalEvaluationCompleted)
	require.NoError(t, ValidatePlan(plan))
}

func TestRecordGradeRejectsBeyondPlan(t *testing.T) {
	plan := standardPlan()
	plan.InterrogationsCompleted = 2

	err := RecordGrade(plan, models.GradeKindInterrogation)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPlanExceeded))
	assert.Equal(t, 2, plan.InterrogationsCompleted)

	plan.FinalEvaluationCompleted = true
	err = RecordGrade(plan, models.GradeKindFinalEvaluation)
	assert.True(t, errors.Is(err, appErrors.ErrPlanExceeded))

	unplanned := standardPlan()
	unplanned.FinalEvaluationPlanned = false
	err = RecordGrade(unplanned, models.GradeKindFinalEvaluation)
	assert.True(t, errors.Is(err, appErrors.ErrPlanExceeded))
	assert.False(t, unplanned.FinalEvaluationCompleted)
}

func TestRecordGradeRejectsLockedAndUnknown(t *testing.T) {
	plan := standardPlan()
	plan.Locked = true
	err := RecordGrade(plan, models.GradeKindHomework)
	assert.True(t, errors.Is(err, appErrors.ErrFinalized))
	assert.Zero(t, plan.HomeworksCompleted)

	plan.Locked = false
	err = RecordGrade(plan, models.GradeKind("QUIZ"))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestEnsureOpen(t *testing.T) {
	plan := standardPlan()
	require.NoError(t, EnsureOpen(plan))

	plan.Locked = true
	assert.True(t, errors.Is(EnsureOpen(plan), appErrors.ErrFinalized))
	assert.True(t, errors.Is(EnsureOpen(nil), appErrors.ErrValidation))
}

func TestIsCompleteIsIdempotent(t *testing.T) {
	plan := standardPlan()
	plan.InterrogationsCompleted = 2
	plan.HomeworksCompleted = 2
	plan.FinalEvaluationCompleted = true

	snapshot := *plan
	for i := 0; i < 3; i++ {
		assert.True(t, IsComplete(plan))
	}
	assert.Equal(t, snapshot, *plan)
	assert.False(t, IsComplete(nil))
}

func TestIsEligibleForAverageMinimumMode(t *testing.T) {
	plan := standardPlan()
	plan.InterrogationsCompleted = 1
	plan.HomeworksCompleted = 1

	policy := EligibilityPolicy{Minimum: true, MinInterrogations: 1, MinHomeworks: 1}
	assert.False(t, IsComplete(plan))
	assert.True(t, IsEligibleForAverage(plan, policy))
	assert.False(t, IsEligibleForAverage(plan, EligibilityPolicy{}))

	policy.RequireFinalEvaluation = true
	assert.False(t, IsEligibleForAverage(plan, policy))
	plan.FinalEvaluationCompleted = true
	assert.True(t, IsEligibleForAverage(plan, policy))

	// a minimum above the planned count is capped by the plan
	small := standardPlan()
	small.InterrogationsPlanned = 1
	small.InterrogationsCompleted = 1
	small.HomeworksCompleted = 1
	assert.True(t, IsEligibleForAverage(small, EligibilityPolicy{Minimum: true, MinInterrogations: 3, MinHomeworks: 1}))

	completion := Completion(plan, policy)
	assert.Equal(t, models.PlanCompletion{Complete: false, Eligible: true}, completion)
}

func TestCorrectGrade(t *testing.T) {
	plan := standardPlan()
	require.NoError(t, RecordGrade(plan, models.GradeKindHomework))
	require.NoError(t, CorrectGrade(plan, models.GradeKindHomework))
	assert.Zero(t, plan.HomeworksCompleted)

	err := CorrectGrade(plan, models.GradeKindHomework)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	err = CorrectGrade(plan, models.GradeKindFinalEvaluation)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestValidatePlan(t *testing.T) {
	plan := standardPlan()
	plan.HomeworksCompleted = 3
	assert.True(t, errors.Is(ValidatePlan(plan), appErrors.ErrPlanExceeded))

	plan = standardPlan()
	plan.InterrogationsPlanned = -1
	assert.True(t, errors.Is(ValidatePlan(plan), appErrors.ErrValidation))

	assert.Error(t, ValidatePlan(nil))
}
