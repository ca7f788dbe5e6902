package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/roadcall/backend/internal/config"
	"github.com/roadcall/backend/internal/http/handlers"
	"github.com/roadcall/backend/internal/http/middleware"
	"github.com/roadcall/backend/internal/service"

	_ "github.com/roadcall/backend/docs"
)

func Router(cfg config.Config, coordinator *service.Coordinator, sweeper *service.Sweeper, directory handlers.Directory, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Coordinator: coordinator,
		Sweeper:     sweeper,
		Directory:   directory,
		Validator:   validator.New(),
		Logger:      logger,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.POST("/requests", h.CreateRequest)
		api.GET("/requests", h.RequestsList)
		api.GET("/requests/:id", h.RequestDetails)
		api.POST("/requests/:id/claim", h.Claim)
		api.POST("/requests/:id/cancel", h.CancelRequest)
		api.GET("/requests/:id/candidates", h.RequestCandidates)
		api.POST("/rank", h.Rank)
		api.GET("/sessions/:id", h.SessionDetails)
		api.POST("/sessions/:id/start", h.StartSession)
		api.POST("/sessions/:id/complete", h.CompleteSession)
		api.POST("/sessions/:id/cancel", h.CancelSession)
		api.POST("/sessions/:id/waiver", h.SignWaiver)
		api.POST("/sessions/:id/heartbeat", h.Heartbeat)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/sweep", h.TriggerSweep)
		admin.GET("/sweeps/latest", h.SweepsLatest)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
