package grading

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

var scale = models.GradeScale{Min: 0, Max: 20}

func TestComputeSubjectAverage(t *testing.T) {
	avg, err := ComputeSubjectAverage("MATH", []float64{12, 15, 10, 14, 16}, 3, scale)
	require.NoError(t, err)
	assert.InDelta(t, 13.4, avg.Average, 1e-9)
	assert.Equal(t, 3.0, avg.Coefficient)
	assert.Equal(t, 5, avg.GradeCount)
	assert.Equal(t, "MATH", avg.SubjectID)
}

func TestComputeSubjectAverageErrors(t *testing.T) {
	_, err := ComputeSubjectAverage("MATH", nil, 3, scale)
	assert.True(t, errors.Is(err, appErrors.ErrInsufficientGrades))

	_, err = ComputeSubjectAverage("MATH", []float64{10}, 0, scale)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCoefficient))

	_, err = ComputeSubjectAverage("MATH", []float64{10}, -2, scale)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCoefficient))

	_, err = ComputeSubjectAverage("MATH", []float64{10, 21}, 2, scale)
	assert.True(t, errors.Is(err, appErrors.ErrGradeOutOfScale))

	_, err = ComputeSubjectAverage("MATH", []float64{-0.5}, 2, scale)
	assert.True(t, errors.Is(err, appErrors.ErrGradeOutOfScale))
}

func TestComputeSubjectAverageStaysInScale(t *testing.T) {
	scales := []models.GradeScale{
		{Min: 0, Max: 20},
		{Min: 0, Max: 100},
		{Min: 1, Max: 10},
		{Min: 0, Max: 4},
	}
	rng := rand.New(rand.NewSource(20240901))

	for _, sc := range scales {
		for i := 0; i < 500; i++ {
			grades := make([]float64, 1+rng.Intn(12))
			lowest, highest := sc.Max, sc.Min
			for j := range grades {
				switch rng.Intn(8) {
				case 0:
					grades[j] = sc.Min
				case 1:
					grades[j] = sc.Max
				default:
					// quarter points, as entered by hand
					steps := int((sc.Max - sc.Min) * 4)
					grades[j] = sc.Min + float64(rng.Intn(steps+1))/4
				}
				lowest = math.Min(lowest, grades[j])
				highest = math.Max(highest, grades[j])
			}

			avg, err := ComputeSubjectAverage("PE", grades, 1+float64(rng.Intn(4)), sc)
			require.NoError(t, err, "grades %v on %+v", grades, sc)
			assert.True(t, sc.Contains(avg.Average), "average %v of %v outside %+v", avg.Average, grades, sc)
			assert.GreaterOrEqual(t, avg.Average, lowest-1e-9)
			assert.LessOrEqual(t, avg.Average, highest+1e-9)
		}
	}

	// a run of maximum grades must not drift past the bound
	avg, err := ComputeSubjectAverage("PE", []float64{19.9, 19.9, 19.9, 19.9, 19.9, 19.9, 19.9}, 1, models.GradeScale{Min: 0, Max: 19.9})
	require.NoError(t, err)
	assert.LessOrEqual(t, avg.Average, 19.9)
}

func sampleSubjects() []models.SubjectAverage {
	return []models.SubjectAverage{
		{SubjectID: "MATH", Coefficient: 3, Average: 13.4, GradeCount: 5},
		{SubjectID: "FR", Coefficient: 2, Average: 9, GradeCount: 5},
	}
}

func TestComputeGeneralAverage(t *testing.T) {
	general, err := ComputeGeneralAverage(sampleSubjects(), []string{"MATH", "FR"})
	require.NoError(t, err)
	assert.InDelta(t, 11.64, general, 1e-9)
}

func TestComputeGeneralAverageOrderIndependent(t *testing.T) {
	subjects := sampleSubjects()
	subjects = append(subjects, models.SubjectAverage{SubjectID: "HIST", Coefficient: 1.5, Average: 12.25, GradeCount: 3})

	forward, err := ComputeGeneralAverage(subjects, nil)
	require.NoError(t, err)

	reversed := []models.SubjectAverage{subjects[2], subjects[0], subjects[1]}
	backward, err := ComputeGeneralAverage(reversed, nil)
	require.NoError(t, err)

	assert.Equal(t, forward, backward)
}

func TestComputeGeneralAverageErrors(t *testing.T) {
	_, err := ComputeGeneralAverage(nil, nil)
	assert.True(t, errors.Is(err, appErrors.ErrInsufficientGrades))

	_, err = ComputeGeneralAverage(sampleSubjects(), []string{"MATH", "FR", "PHYS"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInsufficientGrades))
	assert.Contains(t, err.Error(), "PHYS")

	bad := sampleSubjects()
	bad[1].Coefficient = 0
	_, err = ComputeGeneralAverage(bad, nil)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCoefficient))

	dup := append(sampleSubjects(), sampleSubjects()[0])
	_, err = ComputeGeneralAverage(dup, nil)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestNewCalculationScopes(t *testing.T) {
	term := "T1"
	calc, err := NewCalculation(models.AverageCalculation{
		ID: "calc-1", StudentID: "S1", SchoolYear: "2024-2025", Scope: models.CalculationScopePeriod, TermID: &term,
	}, sampleSubjects(), nil)
	require.NoError(t, err)
	assert.False(t, calc.IsFinalized)
	assert.Equal(t, "FR", calc.Subjects[0].SubjectID)
	assert.InDelta(t, 11.64, calc.GeneralAverage, 1e-9)

	_, err = NewCalculation(models.AverageCalculation{Scope: models.CalculationScopePeriod}, sampleSubjects(), nil)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = NewCalculation(models.AverageCalculation{Scope: models.CalculationScopeYear, TermID: &term}, sampleSubjects(), nil)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = NewCalculation(models.AverageCalculation{Scope: "WEEK"}, sampleSubjects(), nil)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestFinalizeTwiceFails(t *testing.T) {
	calc, err := NewCalculation(models.AverageCalculation{ID: "calc-1", StudentID: "S1", Scope: models.CalculationScopeYear}, sampleSubjects(), nil)
	require.NoError(t, err)

	at := time.Date(2025, 6, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, Finalize(calc, "admin-1", at))
	assert.True(t, calc.IsFinalized)
	require.NotNil(t, calc.FinalizedBy)
	assert.Equal(t, "admin-1", *calc.FinalizedBy)
	assert.Equal(t, at, *calc.FinalizedAt)
	assert.Equal(t, 11.64, calc.GeneralAverage)

	err = Finalize(calc, "admin-2", at.Add(time.Hour))
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyFinalized))
	assert.Equal(t, "admin-1", *calc.FinalizedBy)
	assert.Equal(t, at, *calc.FinalizedAt)
}

func TestFinalizeRoundsToTwoDecimals(t *testing.T) {
	subjects := []models.SubjectAverage{
		{SubjectID: "A", Coefficient: 1, Average: 40.0 / 3.0, GradeCount: 3},
		{SubjectID: "B", Coefficient: 2, Average: 11, GradeCount: 2},
	}
	calc, err := NewCalculation(models.AverageCalculation{ID: "c", Scope: models.CalculationScopeYear}, subjects, nil)
	require.NoError(t, err)
	require.NoError(t, Finalize(calc, "admin", time.Now()))

	assert.Equal(t, 13.33, calc.Subjects[0].Average)
	assert.Equal(t, 11.78, calc.GeneralAverage)
	assert.Equal(t, 0.38, Round(0.375))
	assert.Equal(t, 0.62, Round(0.625))
}

func TestSupersede(t *testing.T) {
	calc, err := NewCalculation(models.AverageCalculation{ID: "calc-1", StudentID: "S1", Scope: models.CalculationScopeYear}, sampleSubjects(), nil)
	require.NoError(t, err)

	_, err = Supersede(calc, "calc-2", "admin", time.Now())
	assert.True(t, errors.Is(err, appErrors.ErrNotFinalized))

	require.NoError(t, Finalize(calc, "admin", time.Now()))
	draft, err := Supersede(calc, "calc-2", "admin-2", time.Now())
	require.NoError(t, err)

	assert.Equal(t, "calc-2", draft.ID)
	assert.False(t, draft.IsFinalized)
	require.NotNil(t, draft.SupersedesID)
	assert.Equal(t, "calc-1", *draft.SupersedesID)
	assert.Equal(t, "admin-2", draft.ComputedBy)

	assert.False(t, calc.IsFinalized)
	require.NotNil(t, calc.SupersededBy)
	assert.Equal(t, "calc-2", *calc.SupersededBy)

	err = Finalize(calc, "admin", time.Now())
	assert.True(t, errors.Is(err, appErrors.ErrFinalized))
}
