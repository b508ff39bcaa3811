package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-records-api/internal/middleware"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/service"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
	"github.com/noah-isme/sma-records-api/pkg/response"
)

type evaluationPlanService interface {
	Create(ctx context.Context, req service.CreateEvaluationPlanRequest) (*models.EvaluationPlanDetail, error)
	Get(ctx context.Context, id string) (*models.EvaluationPlanDetail, error)
	OpenEvaluation(ctx context.Context, planID string, req service.OpenEvaluationRequest, actor *models.JWTClaims) (*service.OpenEvaluationResult, error)
	RecordGrade(ctx context.Context, planID string, req service.RecordGradeRequest, actor *models.JWTClaims) (*service.RecordGradeResult, error)
	CorrectGrade(ctx context.Context, planID string, req service.CorrectGradeRequest, actor *models.JWTClaims) (*models.EvaluationPlanDetail, error)
	Close(ctx context.Context, id string) (*models.EvaluationPlanDetail, error)
}

// EvaluationPlanHandler exposes evaluation plan and grade recording endpoints.
type EvaluationPlanHandler struct {
	plans evaluationPlanService
}

// NewEvaluationPlanHandler constructs handler.
func NewEvaluationPlanHandler(plans evaluationPlanService) *EvaluationPlanHandler {
	return &EvaluationPlanHandler{plans: plans}
}

// Create godoc
// @Summary Create evaluation plan
// @Tags EvaluationPlans
// @Accept json
// @Produce json
// @Param payload body service.CreateEvaluationPlanRequest true "Plan payload"
// @Success 201 {object} response.Envelope
// @Router /evaluation-plans [post]
func (h *EvaluationPlanHandler) Create(c *gin.Context) {
	var req service.CreateEvaluationPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	plan, err := h.plans.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.AuditTarget(c, plan.ID)
	response.Created(c, plan)
}

// Get godoc
// @Summary Get evaluation plan with completion state
// @Tags EvaluationPlans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /evaluation-plans/{id} [get]
func (h *EvaluationPlanHandler) Get(c *gin.Context) {
	plan, err := h.plans.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// OpenEvaluation godoc
// @Summary Hold a class-wide evaluation under a plan
// @Tags EvaluationPlans
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param payload body service.OpenEvaluationRequest true "Evaluation payload"
// @Success 201 {object} response.Envelope
// @Router /evaluation-plans/{id}/evaluations [post]
func (h *EvaluationPlanHandler) OpenEvaluation(c *gin.Context) {
	claims := middleware.CurrentUser(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.OpenEvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.plans.OpenEvaluation(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.AuditTarget(c, result.Evaluation.ID)
	response.Created(c, result)
}

// RecordGrade godoc
// @Summary Record a student's grade on an evaluation
// @Tags EvaluationPlans
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param payload body service.RecordGradeRequest true "Grade payload"
// @Success 201 {object} response.Envelope
// @Router /evaluation-plans/{id}/grades [post]
func (h *EvaluationPlanHandler) RecordGrade(c *gin.Context) {
	claims := middleware.CurrentUser(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.RecordGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.plans.RecordGrade(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// CorrectGrade godoc
// @Summary Withdraw a student's grade or a whole evaluation
// @Tags EvaluationPlans
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param payload body service.CorrectGradeRequest true "Correction payload"
// @Success 200 {object} response.Envelope
// @Router /evaluation-plans/{id}/corrections [post]
func (h *EvaluationPlanHandler) CorrectGrade(c *gin.Context) {
	var req service.CorrectGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	plan, err := h.plans.CorrectGrade(c.Request.Context(), c.Param("id"), req, middleware.CurrentUser(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// Close godoc
// @Summary Lock an evaluation plan at term close
// @Tags EvaluationPlans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /evaluation-plans/{id}/close [post]
func (h *EvaluationPlanHandler) Close(c *gin.Context) {
	plan, err := h.plans.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}
