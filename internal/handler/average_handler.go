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

type averageService interface {
	ComputeTerm(ctx context.Context, req service.ComputeTermRequest, actor string) (*models.AverageCalculation, error)
	ComputeYear(ctx context.Context, req service.ComputeYearRequest, actor string) (*models.AverageCalculation, error)
	Get(ctx context.Context, id string) (*models.AverageCalculation, error)
	List(ctx context.Context, filter models.CalculationFilter) ([]models.AverageCalculation, error)
	Finalize(ctx context.Context, id, actor string) (*models.AverageCalculation, error)
	Supersede(ctx context.Context, id string, req service.SupersedeRequest, actor string) (*models.AverageCalculation, error)
}

// AverageHandler exposes average calculation endpoints.
type AverageHandler struct {
	averages averageService
}

// NewAverageHandler constructs handler.
func NewAverageHandler(averages averageService) *AverageHandler {
	return &AverageHandler{averages: averages}
}

// ComputeTerm godoc
// @Summary Compute a student's term averages
// @Tags Averages
// @Accept json
// @Produce json
// @Param payload body service.ComputeTermRequest true "Term payload"
// @Success 200 {object} response.Envelope
// @Router /averages/term [post]
func (h *AverageHandler) ComputeTerm(c *gin.Context) {
	claims := middleware.CurrentUser(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.ComputeTermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	calc, err := h.averages.ComputeTerm(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.AuditTarget(c, calc.ID)
	response.JSON(c, http.StatusOK, calc, nil)
}

// ComputeYear godoc
// @Summary Compute a student's school year averages
// @Tags Averages
// @Accept json
// @Produce json
// @Param payload body service.ComputeYearRequest true "Year payload"
// @Success 200 {object} response.Envelope
// @Router /averages/year [post]
func (h *AverageHandler) ComputeYear(c *gin.Context) {
	claims := middleware.CurrentUser(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.ComputeYearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	calc, err := h.averages.ComputeYear(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.AuditTarget(c, calc.ID)
	response.JSON(c, http.StatusOK, calc, nil)
}

// Get godoc
// @Summary Get average calculation
// @Tags Averages
// @Produce json
// @Param id path string true "Calculation ID"
// @Success 200 {object} response.Envelope
// @Router /averages/{id} [get]
func (h *AverageHandler) Get(c *gin.Context) {
	calc, err := h.averages.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, calc, nil)
}

// List godoc
// @Summary List the live calculations of a class
// @Tags Averages
// @Produce json
// @Param classId query string true "Class ID"
// @Param schoolYear query string true "School year"
// @Param scope query string false "PERIOD or YEAR"
// @Param termId query string false "Term ID"
// @Success 200 {object} response.Envelope
// @Router /averages [get]
func (h *AverageHandler) List(c *gin.Context) {
	filter := models.CalculationFilter{
		ClassID:    c.Query("classId"),
		SchoolYear: c.Query("schoolYear"),
		Scope:      models.CalculationScope(c.Query("scope")),
		TermID:     c.Query("termId"),
	}
	if filter.ClassID == "" || filter.SchoolYear == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "classId and schoolYear required"))
		return
	}
	calcs, err := h.averages.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, calcs, nil)
}

// Finalize godoc
// @Summary Finalize an average calculation
// @Tags Averages
// @Produce json
// @Param id path string true "Calculation ID"
// @Success 200 {object} response.Envelope
// @Router /averages/{id}/finalize [post]
func (h *AverageHandler) Finalize(c *gin.Context) {
	claims := middleware.CurrentUser(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	calc, err := h.averages.Finalize(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, calc, nil)
}

// Supersede godoc
// @Summary Reopen a finalized calculation as a new draft
// @Tags Averages
// @Accept json
// @Produce json
// @Param id path string true "Calculation ID"
// @Param payload body service.SupersedeRequest true "Reason"
// @Success 201 {object} response.Envelope
// @Router /averages/{id}/supersede [post]
func (h *AverageHandler) Supersede(c *gin.Context) {
	claims := middleware.CurrentUser(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.SupersedeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	draft, err := h.averages.Supersede(c.Request.Context(), c.Param("id"), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, draft)
}
