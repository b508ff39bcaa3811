package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-records-api/internal/middleware"
	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
	"github.com/noah-isme/sma-records-api/pkg/response"
)

type policyService interface {
	ClassPolicy(ctx context.Context, classID, schoolYear string) (*models.ClassPolicy, bool, error)
	Invalidate(ctx context.Context) error
}

// PolicyHandler exposes the resolved grading policy of a class.
type PolicyHandler struct {
	policy policyService
}

// NewPolicyHandler constructs handler.
func NewPolicyHandler(policy policyService) *PolicyHandler {
	return &PolicyHandler{policy: policy}
}

// ClassPolicy godoc
// @Summary Resolved grading policy of a class
// @Tags Policy
// @Produce json
// @Param classId path string true "Class ID"
// @Param schoolYear query string true "School year"
// @Success 200 {object} response.Envelope
// @Router /policies/classes/{classId} [get]
func (h *PolicyHandler) ClassPolicy(c *gin.Context) {
	schoolYear := c.Query("schoolYear")
	if schoolYear == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "schoolYear required"))
		return
	}
	start := time.Now()
	resolved, cacheHit, err := h.policy.ClassPolicy(c.Request.Context(), c.Param("classId"), schoolYear)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = make(map[string]interface{})
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, resolved, nil, meta)
}

// Invalidate godoc
// @Summary Drop cached policy values after an administrative change
// @Tags Policy
// @Success 204
// @Router /policies/cache/invalidate [post]
func (h *PolicyHandler) Invalidate(c *gin.Context) {
	if err := h.policy.Invalidate(c.Request.Context()); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to invalidate policy cache"))
		return
	}
	response.NoContent(c)
}
