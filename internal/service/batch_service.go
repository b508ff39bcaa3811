package service

import (
	"context"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

type rosterReader interface {
	ListStudentIDs(ctx context.Context, classID, schoolYear string) ([]string, error)
}

// BatchAveragesRequest computes the calculations of every student of a class.
type BatchAveragesRequest struct {
	ClassID    string                  `json:"class_id" validate:"required"`
	SchoolYear string                  `json:"school_year" validate:"required"`
	Scope      models.CalculationScope `json:"scope" validate:"required,oneof=PERIOD YEAR"`
	TermID     string                  `json:"term_id" validate:"required_if=Scope PERIOD"`
	Finalize   bool                    `json:"finalize"`
}

// BatchAveragesResult summarises partial outcomes; one student's failure never aborts the others.
type BatchAveragesResult struct {
	SuccessCount int                         `json:"success_count"`
	Calculations []models.AverageCalculation `json:"calculations"`
	Failures     []BatchFailure              `json:"failures,omitempty"`
}

// BatchFailure captures a student whose calculation failed.
type BatchFailure struct {
	StudentID string `json:"student_id"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
}

type studentOutcome struct {
	studentID string
	calc      *models.AverageCalculation
	err       error
}

// BatchService runs class-wide computations on a bounded worker pool.
type BatchService struct {
	averages  *AverageService
	grades    gradeReader
	roster    rosterReader
	metrics   *MetricsService
	workers   int
	validator *validator.Validate
	logger    *zap.Logger
}

// NewBatchService constructs the batch runner. workers bounds concurrent students.
func NewBatchService(averages *AverageService, grades gradeReader, roster rosterReader, metrics *MetricsService, workers int, validate *validator.Validate, logger *zap.Logger) *BatchService {
	if workers <= 0 {
		workers = 4
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchService{averages: averages, grades: grades, roster: roster, metrics: metrics, workers: workers, validator: validate, logger: logger}
}

// ComputeClass computes (and optionally finalizes) every student of the class.
func (s *BatchService) ComputeClass(ctx context.Context, req BatchAveragesRequest, actor string) (*BatchAveragesResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	start := time.Now()

	studentIDs, err := s.roster.ListStudentIDs(ctx, req.ClassID, req.SchoolYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class roster")
	}
	if len(studentIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "class has no enrolled students")
	}
	termID := req.TermID
	if req.Scope == models.CalculationScopeYear {
		termID = ""
	}
	inputs, err := s.averages.PrepareClass(ctx, req.Scope, req.ClassID, req.SchoolYear, termID)
	if err != nil {
		return nil, err
	}
	grades, err := s.grades.FetchByStudents(ctx, studentIDs, req.SchoolYear, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class grades")
	}

	p := pool.NewWithResults[studentOutcome]().WithMaxGoroutines(s.workers)
	for _, studentID := range studentIDs {
		studentID := studentID
		p.Go(func() studentOutcome {
			calc, err := s.averages.ComputeStudent(ctx, inputs, studentID, grades[studentID], actor)
			if err == nil && req.Finalize {
				calc, err = s.averages.Finalize(ctx, calc.ID, actor)
			}
			return studentOutcome{studentID: studentID, calc: calc, err: err}
		})
	}
	outcomes := p.Wait()
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].studentID < outcomes[j].studentID })

	result := &BatchAveragesResult{Calculations: []models.AverageCalculation{}}
	for _, o := range outcomes {
		if o.err != nil {
			appErr := appErrors.FromError(o.err)
			result.Failures = append(result.Failures, BatchFailure{StudentID: o.studentID, Code: appErr.Code, Reason: appErr.Error()})
			continue
		}
		result.SuccessCount++
		result.Calculations = append(result.Calculations, *o.calc)
	}

	s.metrics.ObserveBatch(result.SuccessCount, len(result.Failures), time.Since(start))
	s.logger.Info("class batch computed",
		zap.String("class_id", req.ClassID),
		zap.String("scope", string(req.Scope)),
		zap.Int("succeeded", result.SuccessCount),
		zap.Int("failed", len(result.Failures)),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}
