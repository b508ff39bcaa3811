package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/service"
)

type auditRecorder struct {
	logs []*models.AuditLog
}

func (a *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newTestRouter(auth *service.AuthService, store AuditStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(WithResponseMeta())
	protected := r.Group("/", JWT(auth))
	protected.POST("/averages/:id/finalize",
		RequireRoles(models.RoleAdmin, models.RoleSuperAdmin),
		Audit(store, nil, models.AuditActionAverageFinalize, "average_calculation"),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)
	return r
}

func TestJWTRejectsMissingHeader(t *testing.T) {
	auth := service.NewAuthService(nil, service.AuthConfig{AccessTokenSecret: "secret"})
	r := newTestRouter(auth, &auditRecorder{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/averages/calc-1/finalize", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRBACForbidsTeacherAndAuditsAdmin(t *testing.T) {
	auth := service.NewAuthService(nil, service.AuthConfig{AccessTokenSecret: "secret"})
	store := &auditRecorder{}
	r := newTestRouter(auth, store)

	teacherToken, err := auth.SignToken(models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/averages/calc-1/finalize", nil)
	req.Header.Set("Authorization", "Bearer "+teacherToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, store.logs)

	adminToken, err := auth.SignToken(models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/averages/calc-1/finalize", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	require.Len(t, store.logs, 1)
	entry := store.logs[0]
	assert.Equal(t, models.AuditActionAverageFinalize, entry.Action)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "admin-1", *entry.UserID)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, "calc-1", *entry.ResourceID)
}

func TestMetricsMiddlewareObservesRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, uint64(1), metrics.Snapshot().RequestsTotal)
}

func TestAuditUsesCreatedTargetAndSkipsFailures(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &auditRecorder{}
	r := gin.New()
	r.POST("/promotions", Audit(store, nil, models.AuditActionPromotionDecide, "promotion_result"), func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
		if c.Query("fail") != "" {
			c.Status(http.StatusUnprocessableEntity)
			return
		}
		AuditTarget(c, "promo-9")
		c.Status(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/promotions?fail=1", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, store.logs)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/promotions", nil))
	require.Len(t, store.logs, 1)
	entry := store.logs[0]
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, "promo-9", *entry.ResourceID)
	assert.Contains(t, string(entry.NewValues), `"role":"ADMIN"`)
	assert.Contains(t, string(entry.NewValues), `"route":"/promotions"`)
}
