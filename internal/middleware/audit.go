package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/models"
)

const auditTargetKey = "auditTarget"

// AuditStore persists audit entries.
type AuditStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditTarget names the record a request created. Handlers of create endpoints
// call it so the entry points at the new row rather than at nothing.
func AuditTarget(c *gin.Context, id string) {
	if id != "" {
		c.Set(auditTargetKey, id)
	}
}

// Audit records one entry per successful mutation of a record. The target is
// the id set through AuditTarget, else the :id route parameter.
func Audit(store AuditStore, logger *zap.Logger, action, resource string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		began := time.Now()
		c.Next()

		status := c.Writer.Status()
		if store == nil || status >= 400 {
			return
		}

		entry := &models.AuditLog{
			Action:    action,
			Resource:  resource,
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		}
		details := map[string]interface{}{
			"route":      c.FullPath(),
			"status":     status,
			"latency_ms": time.Since(began).Milliseconds(),
		}
		if user := CurrentUser(c); user != nil {
			id := user.UserID
			entry.UserID = &id
			details["role"] = user.Role
		}
		if target := auditTargetOf(c); target != "" {
			entry.ResourceID = &target
		}
		entry.NewValues, _ = json.Marshal(details)

		if err := store.CreateAuditLog(c.Request.Context(), entry); err != nil {
			logger.Warn("audit entry dropped", zap.String("action", action), zap.String("resource", resource), zap.Error(err))
		}
	}
}

func auditTargetOf(c *gin.Context) string {
	if v, ok := c.Get(auditTargetKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return c.Param("id")
}
