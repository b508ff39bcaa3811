package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/grading"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/pkg/config"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

const policyCachePattern = "policy:*"

// PolicyRepository reads stored policy rows.
type PolicyRepository interface {
	FindPromotionPolicy(ctx context.Context, schoolYear, level string) (*models.PromotionPolicy, error)
	ListCurriculum(ctx context.Context, level string) ([]models.CurriculumSubject, error)
}

// PlacementReader resolves the level of a class.
type PlacementReader interface {
	FindPlacement(ctx context.Context, classID, schoolYear string) (*models.ClassPlacement, error)
}

// PolicyService is the policy source: stored thresholds and coefficients with
// configuration fallbacks, read through the cache.
type PolicyService struct {
	repo       PolicyRepository
	placements PlacementReader
	cache      *CacheService
	cfg        config.PolicyConfig
	logger     *zap.Logger
}

// NewPolicyService constructs the policy source.
func NewPolicyService(repo PolicyRepository, placements PlacementReader, cache *CacheService, cfg config.PolicyConfig, logger *zap.Logger) *PolicyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyService{repo: repo, placements: placements, cache: cache, cfg: cfg, logger: logger}
}

// Scale returns the configured grading scale.
func (s *PolicyService) Scale() models.GradeScale {
	return models.GradeScale{Min: s.cfg.GradeScaleMin, Max: s.cfg.GradeScaleMax}
}

// Eligibility returns the tracker policy used to decide when a subject may be averaged.
func (s *PolicyService) Eligibility() grading.EligibilityPolicy {
	if s.cfg.EligibilityMode != config.EligibilityMinimum {
		return grading.EligibilityPolicy{}
	}
	return grading.EligibilityPolicy{
		Minimum:                true,
		MinInterrogations:      s.cfg.MinInterrogations,
		MinHomeworks:           s.cfg.MinHomeworks,
		RequireFinalEvaluation: s.cfg.RequireFinalEvaluation,
	}
}

// ApplyPlanDefaults fills the planned counts a request left unset.
func (s *PolicyService) ApplyPlanDefaults(plan *models.EvaluationPlan, interrogations, homeworks *int, final *bool) {
	plan.InterrogationsPlanned = s.cfg.InterrogationsPlanned
	if interrogations != nil {
		plan.InterrogationsPlanned = *interrogations
	}
	plan.HomeworksPlanned = s.cfg.HomeworksPlanned
	if homeworks != nil {
		plan.HomeworksPlanned = *homeworks
	}
	plan.FinalEvaluationPlanned = s.cfg.FinalEvaluationPlanned
	if final != nil {
		plan.FinalEvaluationPlanned = *final
	}
}

// Placement returns the level of a class for a school year.
func (s *PolicyService) Placement(ctx context.Context, classID, schoolYear string) (*models.ClassPlacement, error) {
	placement, _, err := remember(ctx, s.cache, fmt.Sprintf("policy:placement:%s:%s", schoolYear, classID),
		func(ctx context.Context) (models.ClassPlacement, error) {
			found, err := s.placements.FindPlacement(ctx, classID, schoolYear)
			switch {
			case err == nil:
				return *found, nil
			case errors.Is(err, sql.ErrNoRows):
				return models.ClassPlacement{}, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("class %s has no placement for %s", classID, schoolYear))
			default:
				return models.ClassPlacement{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class placement")
			}
		})
	if err != nil {
		return nil, err
	}
	return &placement, nil
}

// Threshold returns the promotion threshold for a school year and level, falling
// back to PROMOTION_THRESHOLD when no row is stored.
func (s *PolicyService) Threshold(ctx context.Context, schoolYear, level string) (float64, error) {
	threshold, _, err := remember(ctx, s.cache, fmt.Sprintf("policy:threshold:%s:%s", schoolYear, level),
		func(ctx context.Context) (float64, error) {
			policy, err := s.repo.FindPromotionPolicy(ctx, schoolYear, level)
			switch {
			case err == nil:
				return policy.Threshold, nil
			case errors.Is(err, sql.ErrNoRows):
				s.logger.Debug("no stored promotion policy, using default", zap.String("school_year", schoolYear), zap.String("level", level))
				return s.cfg.PromotionThreshold, nil
			default:
				return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load promotion policy")
			}
		})
	return threshold, err
}

// Curriculum returns the coefficient table of a level.
func (s *PolicyService) Curriculum(ctx context.Context, level string) (models.Curriculum, error) {
	curriculum, _, err := remember(ctx, s.cache, "policy:curriculum:"+level,
		func(ctx context.Context) (models.Curriculum, error) {
			subjects, err := s.repo.ListCurriculum(ctx, level)
			if err != nil {
				return models.Curriculum{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load curriculum")
			}
			if len(subjects) == 0 {
				return models.Curriculum{}, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no curriculum configured for level %s", level))
			}
			return models.Curriculum{Level: level, Subjects: subjects}, nil
		})
	return curriculum, err
}

// ClassPolicy resolves the full policy of a class. The boolean reports whether
// the answer came from the cache.
func (s *PolicyService) ClassPolicy(ctx context.Context, classID, schoolYear string) (*models.ClassPolicy, bool, error) {
	if classID == "" || schoolYear == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "class and school year required")
	}
	resolved, hit, err := remember(ctx, s.cache, fmt.Sprintf("policy:class:%s:%s", schoolYear, classID), func(ctx context.Context) (models.ClassPolicy, error) {
		placement, err := s.Placement(ctx, classID, schoolYear)
		if err != nil {
			return models.ClassPolicy{}, err
		}
		threshold, err := s.Threshold(ctx, schoolYear, placement.Level)
		if err != nil {
			return models.ClassPolicy{}, err
		}
		curriculum, err := s.Curriculum(ctx, placement.Level)
		if err != nil {
			return models.ClassPolicy{}, err
		}
		return models.ClassPolicy{Placement: *placement, Scale: s.Scale(), Threshold: threshold, Curriculum: curriculum}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return &resolved, hit, nil
}

// Invalidate drops every cached policy value.
func (s *PolicyService) Invalidate(ctx context.Context) error {
	return s.cache.Invalidate(ctx, policyCachePattern)
}
