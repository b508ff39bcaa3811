package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/grading"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/repository"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

type promotionRepository interface {
	Create(ctx context.Context, result *models.PromotionResult) error
	FindByID(ctx context.Context, id string) (*models.PromotionResult, error)
	List(ctx context.Context, filter models.PromotionFilter) ([]models.PromotionResult, error)
}

type calculationReader interface {
	FindByID(ctx context.Context, id string) (*models.AverageCalculation, error)
	FindCurrent(ctx context.Context, key models.CalculationKey) (*models.AverageCalculation, error)
}

// DecidePromotionRequest asks for the promotion decision of a student's school year.
// CalculationID is optional; the live YEAR calculation is used when omitted.
type DecidePromotionRequest struct {
	StudentID          string            `json:"student_id" validate:"required"`
	SchoolYear         string            `json:"school_year" validate:"required"`
	CalculationID      string            `json:"calculation_id"`
	DestinationClassID string            `json:"destination_class_id"`
	Override           *grading.Override `json:"override"`
}

// PromotionService applies the promotion rule to finalized year calculations and records the outcome.
type PromotionService struct {
	repo         promotionRepository
	calculations calculationReader
	policy       *PolicyService
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewPromotionService constructs the service.
func NewPromotionService(repo promotionRepository, calculations calculationReader, policy *PolicyService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *PromotionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromotionService{repo: repo, calculations: calculations, policy: policy, metrics: metrics, validator: validate, logger: logger}
}

// Decide computes and records the decision. A student has at most one result per school year.
func (s *PromotionService) Decide(ctx context.Context, req DecidePromotionRequest, actor string) (*models.PromotionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid promotion payload")
	}
	calc, err := s.loadCalculation(ctx, req)
	if err != nil {
		return nil, err
	}
	placement, err := s.policy.Placement(ctx, calc.ClassID, calc.SchoolYear)
	if err != nil {
		return nil, err
	}
	threshold, err := s.policy.Threshold(ctx, calc.SchoolYear, placement.Level)
	if err != nil {
		return nil, err
	}

	outcome, err := grading.Decide(grading.DecisionInput{
		Calculation:        calc,
		Threshold:          threshold,
		DestinationClassID: req.DestinationClassID,
		Override:           req.Override,
	})
	if err != nil {
		return nil, err
	}

	result := grading.Result(calc, threshold, outcome)
	result.DecidedBy = actor
	result.DecidedAt = time.Now().UTC()
	if err := s.repo.Create(ctx, &result); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("promotion already recorded for student %s in %s", calc.StudentID, calc.SchoolYear))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record promotion result")
	}

	s.metrics.RecordDecision(result.Decision)
	s.logger.Info("promotion decided",
		zap.String("student_id", result.StudentID),
		zap.String("school_year", result.FromSchoolYear),
		zap.String("decision", string(result.Decision)),
		zap.Float64("final_average", result.FinalAverage),
		zap.Float64("threshold", threshold),
	)
	return &result, nil
}

func (s *PromotionService) loadCalculation(ctx context.Context, req DecidePromotionRequest) (*models.AverageCalculation, error) {
	var (
		calc *models.AverageCalculation
		err  error
	)
	if req.CalculationID != "" {
		calc, err = s.calculations.FindByID(ctx, req.CalculationID)
	} else {
		calc, err = s.calculations.FindCurrent(ctx, models.CalculationKey{StudentID: req.StudentID, SchoolYear: req.SchoolYear, Scope: models.CalculationScopeYear})
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "year calculation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load average calculation")
	}
	if calc.StudentID != req.StudentID || calc.SchoolYear != req.SchoolYear {
		return nil, appErrors.Clone(appErrors.ErrValidation, "calculation does not belong to the requested student and school year")
	}
	return calc, nil
}

// Get returns a promotion result by ID.
func (s *PromotionService) Get(ctx context.Context, id string) (*models.PromotionResult, error) {
	result, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "promotion result not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load promotion result")
	}
	return result, nil
}

// List returns the results of a class for a school year.
func (s *PromotionService) List(ctx context.Context, filter models.PromotionFilter) ([]models.PromotionResult, error) {
	if filter.ClassID == "" || filter.SchoolYear == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class_id and school_year are required")
	}
	results, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list promotion results")
	}
	return results, nil
}
