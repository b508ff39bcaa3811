package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

func newBatchFixture(t *testing.T, roster fakeRoster) (*BatchService, *averageFixture) {
	t.Helper()
	f := newAverageFixture(t)
	f.grades.add("S2", "MATH", "T1", 8, 10)
	f.grades.add("S2", "PHYS", "T1", 12)
	f.grades.add("S3", "MATH", "T1", 16)
	return NewBatchService(f.svc, f.grades, roster, f.metrics, 2, nil, zap.NewNop()), f
}

func TestBatchServiceComputesEveryStudent(t *testing.T) {
	roster := fakeRoster{testClass + "/" + testYear: {"S3", "S1", "S2"}}
	batch, f := newBatchFixture(t, roster)

	result, err := batch.ComputeClass(context.Background(), BatchAveragesRequest{
		ClassID:    testClass,
		SchoolYear: testYear,
		Scope:      models.CalculationScopePeriod,
		TermID:     "T1",
		Finalize:   true,
	}, "registrar")
	require.NoError(t, err)

	assert.Equal(t, 2, result.SuccessCount)
	require.Len(t, result.Calculations, 2)
	assert.Equal(t, "S1", result.Calculations[0].StudentID)
	assert.Equal(t, "S2", result.Calculations[1].StudentID)
	for _, calc := range result.Calculations {
		assert.True(t, calc.IsFinalized)
	}
	assert.Equal(t, 10.2, result.Calculations[1].GeneralAverage)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "S3", result.Failures[0].StudentID)
	assert.Equal(t, appErrors.ErrInsufficientGrades.Code, result.Failures[0].Code)

	assert.Equal(t, uint64(2), f.metrics.Snapshot().CalculationsFinalized)
}

func TestBatchServiceDraftsOnly(t *testing.T) {
	roster := fakeRoster{testClass + "/" + testYear: {"S1", "S2"}}
	batch, f := newBatchFixture(t, roster)

	result, err := batch.ComputeClass(context.Background(), BatchAveragesRequest{
		ClassID:    testClass,
		SchoolYear: testYear,
		Scope:      models.CalculationScopePeriod,
		TermID:     "T1",
	}, "registrar")
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Empty(t, result.Failures)
	for _, calc := range result.Calculations {
		assert.False(t, calc.IsFinalized)
	}
	assert.Len(t, f.repo.calcs, 2)
}

func TestBatchServiceValidation(t *testing.T) {
	batch, _ := newBatchFixture(t, fakeRoster{})

	_, err := batch.ComputeClass(context.Background(), BatchAveragesRequest{ClassID: testClass, SchoolYear: testYear, Scope: models.CalculationScopePeriod}, "registrar")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = batch.ComputeClass(context.Background(), BatchAveragesRequest{ClassID: testClass, SchoolYear: testYear, Scope: models.CalculationScopeYear}, "registrar")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestBatchServiceComputesClassGradedThroughPlans(t *testing.T) {
	ctx := context.Background()
	store := newFakePlanStore()
	policy := newTestPolicy(newFakePolicyRepo())
	metrics := NewMetricsService()
	roster := classRoster("S1", "S2", "S3")
	plans := NewEvaluationPlanService(store, roster, policy, metrics, nil, zap.NewNop())
	averages := NewAverageService(newFakeAverageRepo(), store.grades, store, policy, metrics, nil, zap.NewNop())
	batch := NewBatchService(averages, store.grades, roster, metrics, 2, nil, zap.NewNop())

	students := []string{"S1", "S2", "S3"}
	values := map[string]float64{"S1": 12, "S2": 15, "S3": 9}
	teacher := teacherClaims("teacher-1")
	kinds := []models.GradeKind{
		models.GradeKindInterrogation,
		models.GradeKindInterrogation,
		models.GradeKindHomework,
		models.GradeKindFinalEvaluation,
	}
	for _, subjectID := range []string{"MATH", "PHYS"} {
		req := planRequest()
		req.SubjectID = subjectID
		plan, err := plans.Create(ctx, req)
		require.NoError(t, err)
		for _, kind := range kinds {
			evaluation := openEvaluation(t, plans, plan.ID, kind, teacher)
			for _, studentID := range students {
				_, err := plans.RecordGrade(ctx, plan.ID, RecordGradeRequest{EvaluationID: evaluation.ID, StudentID: studentID, Value: values[studentID]}, teacher)
				require.NoError(t, err, "%s %s for %s", subjectID, kind, studentID)
			}
		}
		detail, err := plans.Get(ctx, plan.ID)
		require.NoError(t, err)
		assert.True(t, detail.Completion.Complete)
	}
	assert.Len(t, store.grades.entries, 2*len(kinds)*len(students))

	result, err := batch.ComputeClass(ctx, BatchAveragesRequest{
		ClassID:    testClass,
		SchoolYear: testYear,
		Scope:      models.CalculationScopePeriod,
		TermID:     "T1",
		Finalize:   true,
	}, "registrar")
	require.NoError(t, err)

	assert.Equal(t, len(students), result.SuccessCount)
	assert.Empty(t, result.Failures)
	require.Len(t, result.Calculations, len(students))
	for _, calc := range result.Calculations {
		assert.True(t, calc.IsFinalized)
		require.Len(t, calc.Subjects, 2)
		assert.Equal(t, len(kinds), calc.Subjects[0].GradeCount)
		assert.InDelta(t, values[calc.StudentID], calc.GeneralAverage, 1e-9)
	}
}
