package app

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shiftsight/core/internal/middleware"
	"github.com/shiftsight/core/internal/modules/analysis"
	"github.com/shiftsight/core/internal/modules/auth"
	"github.com/shiftsight/core/internal/modules/legacy"
	"github.com/shiftsight/core/internal/pkg/jobqueue"
	"github.com/shiftsight/core/internal/pkg/response"
)

const apiPrefix = "/api/v2"

func (a *App) registerRoutes(store *analysis.Store, queue *jobqueue.Queue) {
	r := a.router
	db := a.db
	authMW := middleware.Auth(db)

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})
	r.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c)
	})

	r.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{
			"status": "ok",
			"uptime": time.Since(processStart).Round(time.Second).String(),
		})
	})

	api := r.Group(apiPrefix)

	auth.NewHandler(auth.NewService(db, a.logger)).RegisterRoutes(api, authMW)

	analysisSvc := analysis.NewService(store, queue, a.cfg.Pipeline, a.logger)
	analysis.NewHandler(analysisSvc, a.cfg.Upload, a.logger).RegisterRoutes(api, authMW)

	legacy.NewHandler(legacy.NewImporter(db, a.cfg.LegacyMongo, a.logger)).RegisterRoutes(api, authMW)
}

var processStart = time.Now()
