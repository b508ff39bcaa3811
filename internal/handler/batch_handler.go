package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-records-api/internal/middleware"
	"github.com/noah-isme/sma-records-api/internal/service"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
	"github.com/noah-isme/sma-records-api/pkg/response"
)

type batchService interface {
	ComputeClass(ctx context.Context, req service.BatchAveragesRequest, actor string) (*service.BatchAveragesResult, error)
}

// BatchHandler exposes class-wide computations.
type BatchHandler struct {
	batches batchService
}

// NewBatchHandler constructs handler.
func NewBatchHandler(batches batchService) *BatchHandler {
	return &BatchHandler{batches: batches}
}

// Averages godoc
// @Summary Compute the averages of every student of a class
// @Tags Batches
// @Accept json
// @Produce json
// @Param payload body service.BatchAveragesRequest true "Batch payload"
// @Success 200 {object} response.Envelope
// @Router /batches/averages [post]
func (h *BatchHandler) Averages(c *gin.Context) {
	claims := middleware.CurrentUser(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.BatchAveragesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.batches.ComputeClass(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := map[string]interface{}{"success_count": result.SuccessCount, "failure_count": len(result.Failures)}
	response.JSON(c, http.StatusOK, result, nil, meta)
}
