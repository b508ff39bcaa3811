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

type promotionService interface {
	Decide(ctx context.Context, req service.DecidePromotionRequest, actor string) (*models.PromotionResult, error)
	Get(ctx context.Context, id string) (*models.PromotionResult, error)
	List(ctx context.Context, filter models.PromotionFilter) ([]models.PromotionResult, error)
}

// PromotionHandler exposes promotion decision endpoints.
type PromotionHandler struct {
	promotions promotionService
}

// NewPromotionHandler constructs handler.
func NewPromotionHandler(promotions promotionService) *PromotionHandler {
	return &PromotionHandler{promotions: promotions}
}

// Decide godoc
// @Summary Decide and record a student's promotion
// @Tags Promotions
// @Accept json
// @Produce json
// @Param payload body service.DecidePromotionRequest true "Decision payload"
// @Success 201 {object} response.Envelope
// @Router /promotions [post]
func (h *PromotionHandler) Decide(c *gin.Context) {
	claims := middleware.CurrentUser(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.DecidePromotionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.promotions.Decide(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.AuditTarget(c, result.ID)
	response.Created(c, result)
}

// Get godoc
// @Summary Get promotion result
// @Tags Promotions
// @Produce json
// @Param id path string true "Promotion result ID"
// @Success 200 {object} response.Envelope
// @Router /promotions/{id} [get]
func (h *PromotionHandler) Get(c *gin.Context) {
	result, err := h.promotions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List promotion results of a class
// @Tags Promotions
// @Produce json
// @Param classId query string true "Class ID"
// @Param schoolYear query string true "School year"
// @Param decision query string false "PROMOTED, REPEATED or SPECIAL_CASE"
// @Success 200 {object} response.Envelope
// @Router /promotions [get]
func (h *PromotionHandler) List(c *gin.Context) {
	filter := models.PromotionFilter{
		ClassID:    c.Query("classId"),
		SchoolYear: c.Query("schoolYear"),
		Decision:   models.PromotionDecision(c.Query("decision")),
	}
	results, err := h.promotions.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, results, nil)
}
