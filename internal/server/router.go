// Package server assembles the HTTP surface: global middleware, the route
// table with its role requirements, and the operational endpoints.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/handler"
	"github.com/noah-isme/sma-records-api/internal/middleware"
	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-records-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-records-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-records-api/pkg/response"
)

// Handlers groups the HTTP handlers mounted by the router. Reports is optional.
type Handlers struct {
	Plans      *handler.EvaluationPlanHandler
	Averages   *handler.AverageHandler
	Promotions *handler.PromotionHandler
	Batches    *handler.BatchHandler
	Policy     *handler.PolicyHandler
	Reports    *handler.ReportHandler
	Metrics    *handler.MetricsHandler
}

// Options configures the router.
type Options struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	Tokens         middleware.TokenValidator
	Audit          middleware.AuditStore
	Requests       middleware.RequestObserver
	// Ready reports whether backing stores answer; nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

// NewRouter builds the gin engine.
func NewRouter(h Handlers, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api/v1"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(opts.Logger))
	r.Use(corsmiddleware.New(opts.AllowedOrigins))
	r.Use(middleware.Metrics(opts.Requests))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", readyHandler(opts.Ready))
	r.GET("/metrics", h.Metrics.Prometheus)
	if opts.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(opts.APIPrefix)
	secured := api.Group("", middleware.JWT(opts.Tokens))
	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(opts.Audit, opts.Logger, action, resource)
	}

	admins := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	staff := middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin, models.RoleSuperAdmin)
	superAdmin := middleware.RequireRoles(models.RoleSuperAdmin)

	plans := secured.Group("/evaluation-plans")
	plans.POST("", admins, audit(models.AuditActionPlanCreate, "evaluation_plan"), h.Plans.Create)
	plans.GET("/:id", middleware.Any(), h.Plans.Get)
	plans.POST("/:id/evaluations", staff, audit(models.AuditActionEvaluationOpen, "evaluation"), h.Plans.OpenEvaluation)
	plans.POST("/:id/grades", staff, audit(models.AuditActionGradeRecord, "evaluation_plan"), h.Plans.RecordGrade)
	plans.POST("/:id/corrections", admins, audit(models.AuditActionGradeCorrect, "evaluation_plan"), h.Plans.CorrectGrade)
	plans.POST("/:id/close", admins, audit(models.AuditActionPlanClose, "evaluation_plan"), h.Plans.Close)

	averages := secured.Group("/averages")
	averages.GET("", staff, h.Averages.List)
	averages.POST("/term", staff, audit(models.AuditActionAverageCompute, "average_calculation"), h.Averages.ComputeTerm)
	averages.POST("/year", admins, audit(models.AuditActionAverageCompute, "average_calculation"), h.Averages.ComputeYear)
	averages.GET("/:id", middleware.Any(), h.Averages.Get)
	averages.POST("/:id/finalize", admins, audit(models.AuditActionAverageFinalize, "average_calculation"), h.Averages.Finalize)
	averages.POST("/:id/supersede", superAdmin, audit(models.AuditActionAverageSupersede, "average_calculation"), h.Averages.Supersede)

	promotions := secured.Group("/promotions")
	promotions.POST("", admins, audit(models.AuditActionPromotionDecide, "promotion_result"), h.Promotions.Decide)
	promotions.GET("", staff, h.Promotions.List)
	promotions.GET("/:id", staff, h.Promotions.Get)

	secured.POST("/batches/averages", admins, audit(models.AuditActionBatchAverages, "class"), h.Batches.Averages)

	secured.GET("/policies/classes/:classId", staff, h.Policy.ClassPolicy)
	secured.POST("/policies/cache/invalidate", superAdmin, h.Policy.Invalidate)

	if h.Reports != nil {
		reports := secured.Group("/reports", staff)
		reports.POST("/generate", h.Reports.GenerateReport)
		reports.GET("/status/:id", h.Reports.ReportStatus)
		// the signed token is the credential for downloads
		api.GET("/export/:token", h.Reports.DownloadReport)
	}

	secured.GET("/metrics/summary", admins, h.Metrics.Snapshot)

	return r
}

func readyHandler(ready func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			if err := ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		response.JSON(c, http.StatusOK, gin.H{"status": "ready"}, nil)
	}
}
