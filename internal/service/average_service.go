package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/grading"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/repository"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

type averageRepository interface {
	Create(ctx context.Context, calc *models.AverageCalculation) error
	UpdateDraft(ctx context.Context, calc *models.AverageCalculation) error
	FindByID(ctx context.Context, id string) (*models.AverageCalculation, error)
	FindCurrent(ctx context.Context, key models.CalculationKey) (*models.AverageCalculation, error)
	MarkFinalized(ctx context.Context, calc *models.AverageCalculation) error
	Supersede(ctx context.Context, prior, draft *models.AverageCalculation) (int64, error)
	List(ctx context.Context, filter models.CalculationFilter) ([]models.AverageCalculation, error)
}

type gradeReader interface {
	List(ctx context.Context, filter models.GradeFilter) ([]models.GradeEntry, error)
	FetchByStudents(ctx context.Context, studentIDs []string, schoolYear, termID string) (map[string][]models.GradeEntry, error)
}

type planLister interface {
	ListByClass(ctx context.Context, classID, schoolYear, termID string) ([]models.EvaluationPlan, error)
}

// ComputeTermRequest asks for a student's PERIOD calculation.
type ComputeTermRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	ClassID    string `json:"class_id" validate:"required"`
	SchoolYear string `json:"school_year" validate:"required"`
	TermID     string `json:"term_id" validate:"required"`
}

// ComputeYearRequest asks for a student's YEAR calculation.
type ComputeYearRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	ClassID    string `json:"class_id" validate:"required"`
	SchoolYear string `json:"school_year" validate:"required"`
}

// SupersedeRequest records why a finalized calculation is reopened.
type SupersedeRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// ClassInputs is everything a calculation needs that is shared by all students of a class.
type ClassInputs struct {
	Scope      models.CalculationScope
	ClassID    string
	SchoolYear string
	TermID     string
	Curriculum models.Curriculum
	// eligible holds, per subject with at least one plan, whether every plan allows averaging.
	eligible map[string]bool
}

// AverageService computes, finalizes and supersedes average calculations.
type AverageService struct {
	repo      averageRepository
	grades    gradeReader
	plans     planLister
	policy    *PolicyService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAverageService constructs the service.
func NewAverageService(repo averageRepository, grades gradeReader, plans planLister, policy *PolicyService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AverageService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AverageService{
		repo:      repo,
		grades:    grades,
		plans:     plans,
		policy:    policy,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ComputeTerm computes (or recomputes) the draft PERIOD calculation of a student.
func (s *AverageService) ComputeTerm(ctx context.Context, req ComputeTermRequest, actor string) (*models.AverageCalculation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term calculation payload")
	}
	return s.computeOne(ctx, models.CalculationScopePeriod, req.StudentID, req.ClassID, req.SchoolYear, req.TermID, actor)
}

// ComputeYear computes (or recomputes) the draft YEAR calculation of a student from
// every grade of the school year.
func (s *AverageService) ComputeYear(ctx context.Context, req ComputeYearRequest, actor string) (*models.AverageCalculation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid year calculation payload")
	}
	return s.computeOne(ctx, models.CalculationScopeYear, req.StudentID, req.ClassID, req.SchoolYear, "", actor)
}

func (s *AverageService) computeOne(ctx context.Context, scope models.CalculationScope, studentID, classID, schoolYear, termID, actor string) (*models.AverageCalculation, error) {
	inputs, err := s.PrepareClass(ctx, scope, classID, schoolYear, termID)
	if err != nil {
		return nil, err
	}
	grades, err := s.grades.List(ctx, models.GradeFilter{StudentID: studentID, SchoolYear: schoolYear, TermID: termID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grades")
	}
	return s.ComputeStudent(ctx, inputs, studentID, grades, actor)
}

// PrepareClass loads the curriculum and plan eligibility for a class.
func (s *AverageService) PrepareClass(ctx context.Context, scope models.CalculationScope, classID, schoolYear, termID string) (*ClassInputs, error) {
	if scope == models.CalculationScopeYear {
		termID = ""
	} else if termID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term calculation requires term_id")
	}
	placement, err := s.policy.Placement(ctx, classID, schoolYear)
	if err != nil {
		return nil, err
	}
	curriculum, err := s.policy.Curriculum(ctx, placement.Level)
	if err != nil {
		return nil, err
	}
	plans, err := s.plans.ListByClass(ctx, classID, schoolYear, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluation plans")
	}
	policy := s.policy.Eligibility()
	eligible := make(map[string]bool)
	for i := range plans {
		ok := grading.IsEligibleForAverage(&plans[i], policy)
		prev, seen := eligible[plans[i].SubjectID]
		eligible[plans[i].SubjectID] = ok && (!seen || prev)
	}
	return &ClassInputs{
		Scope:      scope,
		ClassID:    classID,
		SchoolYear: schoolYear,
		TermID:     termID,
		Curriculum: curriculum,
		eligible:   eligible,
	}, nil
}

// ComputeStudent derives and saves the draft calculation of one student from their grades.
func (s *AverageService) ComputeStudent(ctx context.Context, inputs *ClassInputs, studentID string, grades []models.GradeEntry, actor string) (*models.AverageCalculation, error) {
	subjects, err := s.subjectAverages(inputs, grades)
	if err != nil {
		return nil, err
	}
	base := models.AverageCalculation{
		StudentID:  studentID,
		ClassID:    inputs.ClassID,
		SchoolYear: inputs.SchoolYear,
		Scope:      inputs.Scope,
		ComputedBy: actor,
		ComputedAt: s.now(),
	}
	if inputs.Scope == models.CalculationScopePeriod {
		termID := inputs.TermID
		base.TermID = &termID
	}
	calc, err := grading.NewCalculation(base, subjects, inputs.Curriculum.RequiredSubjects())
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, calc); err != nil {
		return nil, err
	}
	s.logger.Info("average calculation computed",
		zap.String("calculation_id", calc.ID),
		zap.String("student_id", studentID),
		zap.String("scope", string(calc.Scope)),
		zap.Float64("general_average", calc.GeneralAverage),
	)
	return calc, nil
}

func (s *AverageService) subjectAverages(inputs *ClassInputs, grades []models.GradeEntry) ([]models.SubjectAverage, error) {
	bySubject := make(map[string][]float64)
	for _, g := range grades {
		if inputs.Scope == models.CalculationScopePeriod && g.TermID != inputs.TermID {
			continue
		}
		bySubject[g.SubjectID] = append(bySubject[g.SubjectID], g.Value)
	}

	coefficients := inputs.Curriculum.Coefficients()
	var unknown []string
	for subjectID := range bySubject {
		if _, ok := coefficients[subjectID]; !ok {
			unknown = append(unknown, subjectID)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, appErrors.Clone(appErrors.ErrInvalidCoefficient, fmt.Sprintf("no coefficient for subjects %v at level %s", unknown, inputs.Curriculum.Level))
	}

	scale := s.policy.Scale()
	var subjects []models.SubjectAverage
	for _, entry := range inputs.Curriculum.Subjects {
		eligible, planned := inputs.eligible[entry.SubjectID]
		values := bySubject[entry.SubjectID]
		if !planned || !eligible {
			if entry.Required {
				return nil, appErrors.Clone(appErrors.ErrInsufficientGrades, fmt.Sprintf("subject %s is not ready for averaging", entry.SubjectID))
			}
			continue
		}
		if len(values) == 0 && !entry.Required {
			continue
		}
		avg, err := grading.ComputeSubjectAverage(entry.SubjectID, values, entry.Coefficient, scale)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, avg)
	}
	return subjects, nil
}

// save replaces the live draft for the calculation key or inserts a new one.
func (s *AverageService) save(ctx context.Context, calc *models.AverageCalculation) error {
	current, err := s.repo.FindCurrent(ctx, calc.Key())
	switch {
	case err == nil:
		if current.IsFinalized {
			return appErrors.Clone(appErrors.ErrAlreadyFinalized, fmt.Sprintf("calculation %s is finalized; supersede it before recomputing", current.ID))
		}
		calc.ID = current.ID
		calc.SupersedesID = current.SupersedesID
		if err := s.repo.UpdateDraft(ctx, calc); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrAlreadyFinalized, fmt.Sprintf("calculation %s was finalized concurrently", current.ID))
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update average calculation")
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
		if err := s.repo.Create(ctx, calc); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return appErrors.Clone(appErrors.ErrConflict, "calculation computed concurrently; retry")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create average calculation")
		}
		return nil
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current calculation")
	}
}

// Get returns a calculation by ID.
func (s *AverageService) Get(ctx context.Context, id string) (*models.AverageCalculation, error) {
	calc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "average calculation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load average calculation")
	}
	return calc, nil
}

// List returns the live calculations of a class.
func (s *AverageService) List(ctx context.Context, filter models.CalculationFilter) ([]models.AverageCalculation, error) {
	calcs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list average calculations")
	}
	return calcs, nil
}

// Finalize publishes a draft. Only one of several concurrent callers succeeds;
// the others receive ALREADY_FINALIZED.
func (s *AverageService) Finalize(ctx context.Context, id, actor string) (*models.AverageCalculation, error) {
	calc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := grading.Finalize(calc, actor, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.MarkFinalized(ctx, calc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyFinalized, fmt.Sprintf("calculation %s already finalized", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize average calculation")
	}
	s.metrics.RecordFinalization(calc.Scope)
	s.logger.Info("average calculation finalized",
		zap.String("calculation_id", calc.ID),
		zap.String("student_id", calc.StudentID),
		zap.String("finalized_by", actor),
	)
	return calc, nil
}

// Supersede reopens a finalized calculation: the prior record keeps its provenance
// and the reason, and a new draft referencing it becomes the live calculation.
// Promotion decisions taken on the prior record are retracted so the year can be
// decided again once the draft is finalized.
func (s *AverageService) Supersede(ctx context.Context, id string, req SupersedeRequest, actor string) (*models.AverageCalculation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid supersede payload")
	}
	prior, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	draft, err := grading.Supersede(prior, uuid.NewString(), actor, s.now())
	if err != nil {
		return nil, err
	}
	reason := req.Reason
	prior.SupersedeReason = &reason
	retracted, err := s.repo.Supersede(ctx, prior, draft)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFinalized, fmt.Sprintf("calculation %s is no longer finalized", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to supersede average calculation")
	}
	s.logger.Warn("average calculation superseded",
		zap.String("prior_id", prior.ID),
		zap.String("draft_id", draft.ID),
		zap.String("reason", req.Reason),
		zap.Int64("promotions_retracted", retracted),
		zap.String("actor", actor),
	)
	return draft, nil
}
