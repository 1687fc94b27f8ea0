// Package handler assembles the HTTP surface.
package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/config"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/handler/middleware"
	v1 "github.com/dmehra2102/prod-golang-projects/medvision/internal/handler/v1"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/service"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/auth"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/imagestore"
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Dependencies struct {
	Config    *config.Config
	Diagnoses *service.DiagnosisService
	Reviews   *service.ReviewService
	Queries   *service.QueryService
	Auth      *service.AuthService
	Images    imagestore.Store
	Tokens    *auth.JWTManager
	Metrics   *metrics.Collector
	Log       *zap.Logger
	// Ready reports whether backing stores are reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}

func NewRouter(d Dependencies) *gin.Engine {
	if d.Config.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(d.Log),
		middleware.Logger(d.Log),
		middleware.Metrics(d.Metrics),
		middleware.CORS(d.Config.CORS),
		middleware.RateLimit(d.Config.RateLimit.RequestsPerSecond, d.Config.RateLimit.BurstSize),
	)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", readiness(d.Ready))
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	resolver := auth.NewDoctorResolver(d.Tokens)
	diagnoses := v1.NewDiagnosisHandler(d.Diagnoses, d.Reviews, d.Queries, resolver, d.Log)
	images := v1.NewImageHandler(d.Images, d.Log)
	login := v1.NewAuthHandler(d.Auth, d.Log)

	prefix := "/" + strings.Trim(d.Config.Storage.PublicPrefix, "/")
	r.GET(prefix+"/:key", images.Get)

	api := r.Group(d.Config.Server.BasePath)
	api.POST("/auth/login", middleware.PerMinute(d.Config.RateLimit.AuthRequestsPerMinute), login.Login)

	// Upload routes rely on the resolver alone for attribution.
	uploads := api.Group("/diagnoses", middleware.BodyLimit(d.Config.Server.MaxUploadBytes))
	uploads.POST("", diagnoses.Create)
	uploads.POST("/analyze", diagnoses.Analyze)

	authed := api.Group("/diagnoses", middleware.Authenticate(d.Tokens, d.Log))
	authed.POST("/save", diagnoses.Save)
	authed.GET("", diagnoses.List)
	authed.GET("/:id", diagnoses.Get)
	authed.PUT("/:id/review", diagnoses.Review)

	return r
}

func readiness(ready func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
