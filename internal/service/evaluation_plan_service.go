package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/grading"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/repository"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

type evaluationPlanRepository interface {
	Create(ctx context.Context, plan *models.EvaluationPlan) error
	FindByID(ctx context.Context, id string) (*models.EvaluationPlan, error)
	OpenEvaluation(ctx context.Context, planID string, evaluation *models.Evaluation, apply func(*models.EvaluationPlan) error) (*models.EvaluationPlan, error)
	ListEvaluations(ctx context.Context, planID string) ([]models.Evaluation, error)
	RecordGrade(ctx context.Context, planID string, entry *models.GradeEntry, check func(*models.EvaluationPlan, *models.Evaluation) error) (*models.EvaluationPlan, error)
	WithdrawGrade(ctx context.Context, planID, gradeID string, check func(*models.EvaluationPlan) error) (*models.EvaluationPlan, error)
	WithdrawEvaluation(ctx context.Context, planID, evaluationID string, revert func(*models.EvaluationPlan, models.GradeKind) error) (*models.EvaluationPlan, error)
	Lock(ctx context.Context, id string) error
}

// CreateEvaluationPlanRequest captures the assignment a plan belongs to. Planned
// counts left empty take the configured defaults.
type CreateEvaluationPlanRequest struct {
	SchoolYear             string `json:"school_year" validate:"required"`
	TermID                 string `json:"term_id" validate:"required"`
	ClassID                string `json:"class_id" validate:"required"`
	SubjectID              string `json:"subject_id" validate:"required"`
	TeacherID              string `json:"teacher_id" validate:"required"`
	InterrogationsPlanned  *int   `json:"interrogations_planned" validate:"omitempty,min=0"`
	HomeworksPlanned       *int   `json:"homeworks_planned" validate:"omitempty,min=0"`
	FinalEvaluationPlanned *bool  `json:"final_evaluation_planned"`
}

// OpenEvaluationRequest holds a class-wide evaluation of the given kind.
type OpenEvaluationRequest struct {
	Kind models.GradeKind `json:"kind" validate:"required,oneof=INTERROGATION HOMEWORK FINAL_EVALUATION"`
}

// OpenEvaluationResult returns the opened evaluation with the updated plan.
type OpenEvaluationResult struct {
	Plan       models.EvaluationPlanDetail `json:"plan"`
	Evaluation models.Evaluation           `json:"evaluation"`
}

// RecordGradeRequest is one student's grade on an opened evaluation.
type RecordGradeRequest struct {
	EvaluationID string  `json:"evaluation_id" validate:"required"`
	StudentID    string  `json:"student_id" validate:"required"`
	Value        float64 `json:"value"`
}

// CorrectGradeRequest withdraws either one student's grade or a whole evaluation.
// Exactly one of GradeID and EvaluationID is set.
type CorrectGradeRequest struct {
	GradeID      string `json:"grade_id"`
	EvaluationID string `json:"evaluation_id"`
	Reason       string `json:"reason" validate:"required"`
}

// RecordGradeResult returns the stored grade with the plan it belongs to.
type RecordGradeResult struct {
	Plan  models.EvaluationPlanDetail `json:"plan"`
	Grade models.GradeEntry           `json:"grade"`
}

// EvaluationPlanService tracks evaluation plans, the evaluations held under them
// and the students' grades on those evaluations.
type EvaluationPlanService struct {
	repo      evaluationPlanRepository
	roster    rosterReader
	policy    *PolicyService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEvaluationPlanService constructs the service.
func NewEvaluationPlanService(repo evaluationPlanRepository, roster rosterReader, policy *PolicyService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EvaluationPlanService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvaluationPlanService{repo: repo, roster: roster, policy: policy, metrics: metrics, validator: validate, logger: logger}
}

// Create stores a new plan with zeroed counters.
func (s *EvaluationPlanService) Create(ctx context.Context, req CreateEvaluationPlanRequest) (*models.EvaluationPlanDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid evaluation plan payload")
	}
	plan := &models.EvaluationPlan{
		SchoolYear: req.SchoolYear,
		TermID:     req.TermID,
		ClassID:    req.ClassID,
		SubjectID:  req.SubjectID,
		TeacherID:  req.TeacherID,
	}
	s.policy.ApplyPlanDefaults(plan, req.InterrogationsPlanned, req.HomeworksPlanned, req.FinalEvaluationPlanned)
	if err := grading.ValidatePlan(plan); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, plan); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "evaluation plan already exists for this assignment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create evaluation plan")
	}
	detail := s.detail(plan)
	return &detail, nil
}

// Get returns a plan with its completion state and the evaluations held so far.
func (s *EvaluationPlanService) Get(ctx context.Context, id string) (*models.EvaluationPlanDetail, error) {
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, planError(err, "evaluation plan not found", "failed to load evaluation plan")
	}
	evaluations, err := s.repo.ListEvaluations(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluations")
	}
	detail := s.detail(plan)
	detail.Evaluations = evaluations
	return &detail, nil
}

// OpenEvaluation holds an evaluation for the whole class and advances the plan
// counter of its kind in one transaction. Teachers may only open evaluations on
// their own plans.
func (s *EvaluationPlanService) OpenEvaluation(ctx context.Context, planID string, req OpenEvaluationRequest, actor *models.JWTClaims) (*OpenEvaluationResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid evaluation payload")
	}

	evaluation := &models.Evaluation{Kind: req.Kind, OpenedBy: actor.UserID}
	plan, err := s.repo.OpenEvaluation(ctx, planID, evaluation, func(p *models.EvaluationPlan) error {
		if err := ensureOwner(p, actor); err != nil {
			return err
		}
		return grading.RecordGrade(p, req.Kind)
	})
	if err != nil {
		return nil, planError(err, "evaluation plan not found", "failed to open evaluation")
	}

	s.logger.Info("evaluation opened",
		zap.String("plan_id", plan.ID),
		zap.String("evaluation_id", evaluation.ID),
		zap.String("kind", string(evaluation.Kind)),
		zap.Int("sequence", evaluation.Sequence),
		zap.String("opened_by", actor.UserID),
	)
	return &OpenEvaluationResult{Plan: s.detail(plan), Evaluation: *evaluation}, nil
}

// RecordGrade stores one enrolled student's grade on an opened evaluation. The
// plan counters are untouched, so every student of the class can be graded on
// the same evaluation.
func (s *EvaluationPlanService) RecordGrade(ctx context.Context, planID string, req RecordGradeRequest, actor *models.JWTClaims) (*RecordGradeResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	scale := s.policy.Scale()
	if !scale.Contains(req.Value) {
		return nil, appErrors.Clone(appErrors.ErrGradeOutOfScale, fmt.Sprintf("grade %v outside [%v, %v]", req.Value, scale.Min, scale.Max))
	}

	plan, err := s.repo.FindByID(ctx, planID)
	if err != nil {
		return nil, planError(err, "evaluation plan not found", "failed to load evaluation plan")
	}
	if err := ensureOwner(plan, actor); err != nil {
		return nil, err
	}
	if err := s.ensureEnrolled(ctx, plan, req.StudentID); err != nil {
		return nil, err
	}

	entry := &models.GradeEntry{
		EvaluationID: req.EvaluationID,
		StudentID:    req.StudentID,
		Value:        req.Value,
		RecordedBy:   actor.UserID,
	}
	plan, err = s.repo.RecordGrade(ctx, planID, entry, func(p *models.EvaluationPlan, _ *models.Evaluation) error {
		if err := ensureOwner(p, actor); err != nil {
			return err
		}
		return grading.EnsureOpen(p)
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("student %s already graded on this evaluation", req.StudentID))
		}
		return nil, planError(err, "evaluation plan or evaluation not found", "failed to record grade")
	}

	s.metrics.RecordGrade(entry.Kind)
	s.logger.Info("grade recorded",
		zap.String("plan_id", plan.ID),
		zap.String("evaluation_id", entry.EvaluationID),
		zap.String("student_id", entry.StudentID),
		zap.String("kind", string(entry.Kind)),
		zap.String("recorded_by", actor.UserID),
	)
	return &RecordGradeResult{Plan: s.detail(plan), Grade: *entry}, nil
}

// CorrectGrade withdraws one student's grade, or a whole evaluation with its
// grades. Withdrawing an evaluation is the only operation that lowers a counter.
func (s *EvaluationPlanService) CorrectGrade(ctx context.Context, planID string, req CorrectGradeRequest, actor *models.JWTClaims) (*models.EvaluationPlanDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid correction payload")
	}
	if (req.GradeID == "") == (req.EvaluationID == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exactly one of grade_id or evaluation_id is required")
	}

	var (
		plan *models.EvaluationPlan
		err  error
	)
	if req.GradeID != "" {
		plan, err = s.repo.WithdrawGrade(ctx, planID, req.GradeID, grading.EnsureOpen)
	} else {
		plan, err = s.repo.WithdrawEvaluation(ctx, planID, req.EvaluationID, grading.CorrectGrade)
	}
	if err != nil {
		return nil, planError(err, "evaluation plan, evaluation or grade not found", "failed to correct grade")
	}
	actorID := ""
	if actor != nil {
		actorID = actor.UserID
	}
	s.logger.Info("grade corrected",
		zap.String("plan_id", plan.ID),
		zap.String("grade_id", req.GradeID),
		zap.String("evaluation_id", req.EvaluationID),
		zap.String("reason", req.Reason),
		zap.String("corrected_by", actorID),
	)
	detail := s.detail(plan)
	return &detail, nil
}

func (s *EvaluationPlanService) ensureEnrolled(ctx context.Context, plan *models.EvaluationPlan, studentID string) error {
	studentIDs, err := s.roster.ListStudentIDs(ctx, plan.ClassID, plan.SchoolYear)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class roster")
	}
	for _, id := range studentIDs {
		if id == studentID {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("student %s is not enrolled in class %s for %s", studentID, plan.ClassID, plan.SchoolYear))
}

func ensureOwner(plan *models.EvaluationPlan, actor *models.JWTClaims) error {
	if !actor.Role.IsAdministrative() && plan.TeacherID != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "plan belongs to another teacher")
	}
	return nil
}

// Close locks a plan at term close; later grades and corrections are rejected.
func (s *EvaluationPlanService) Close(ctx context.Context, id string) (*models.EvaluationPlanDetail, error) {
	if err := s.repo.Lock(ctx, id); err != nil {
		return nil, planError(err, "evaluation plan not found", "failed to close evaluation plan")
	}
	return s.Get(ctx, id)
}

func (s *EvaluationPlanService) detail(plan *models.EvaluationPlan) models.EvaluationPlanDetail {
	return models.EvaluationPlanDetail{
		EvaluationPlan: *plan,
		Completion:     grading.Completion(plan, s.policy.Eligibility()),
	}
}

// planError keeps typed errors, maps missing rows to NOT_FOUND and wraps the rest.
func planError(err error, notFound, internal string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}
