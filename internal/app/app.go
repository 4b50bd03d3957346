package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shiftsight/core/internal/config"
	"github.com/shiftsight/core/internal/database"
	"github.com/shiftsight/core/internal/middleware"
	"github.com/shiftsight/core/internal/modules/analysis"
	pkgcron "github.com/shiftsight/core/internal/pkg/cron"
	"github.com/shiftsight/core/internal/pkg/jobqueue"
	"github.com/shiftsight/core/internal/pkg/jwt"
	pkgredis "github.com/shiftsight/core/internal/pkg/redis"
	"github.com/shiftsight/core/internal/pkg/s3store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const analysisQueueName = "analysis"

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	rc     *pkgredis.Client
	queue  *jobqueue.Queue
	logger *zap.Logger
	cancel context.CancelFunc
	sched  *pkgcron.Scheduler
}

// New initializes the application: config → DB → Redis → queue → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if cfg.JWTSecret != "" {
		jwt.SetSecret(cfg.JWTSecret)
	}

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.Redis.RedisURLValue())
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.MaxMultipartMemory = int64(cfg.Upload.MaxFileSizeMB) << 20
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(buildCORSConfig(cfg)))

	queue := jobqueue.New(rc, analysisQueueName, jobqueue.Options{
		MaxAttempts: cfg.Pipeline.QueueMaxAttempts,
		Backoff:     time.Duration(cfg.Pipeline.QueueBackoffMS) * time.Millisecond,
	}, logger)

	provider := cfg.AI.ActiveProvider()
	if provider == nil {
		return nil, errors.New("no analysis provider is enabled")
	}

	store := analysis.NewStore(db)
	cache := analysis.NewCache(db, cfg.Pipeline.CacheRetentionDays, logger)
	dispatcher := analysis.NewDispatcher(provider, logger)

	var archiver *analysis.ReportArchive
	if cfg.Archive.Enable {
		archiver = analysis.NewReportArchive(s3store.New(cfg.Archive))
	}

	worker := buildWorker(store, cache, dispatcher, archiver, cfg, provider, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go queue.Consume(ctx, analysis.QueueHandler(worker))

	sched := pkgcron.New()
	registerCronJobs(sched, cache)
	go sched.Start(ctx)

	app := &App{
		cfg:    cfg,
		router: router,
		db:     db,
		rc:     rc,
		queue:  queue,
		logger: logger,
		cancel: cancel,
		sched:  sched,
	}
	app.registerRoutes(store, queue)

	return app, nil
}

func buildWorker(store *analysis.Store, cache *analysis.Cache, dispatcher *analysis.Dispatcher, archiver *analysis.ReportArchive, cfg *config.AppConfig, provider *config.AIProvider, logger *zap.Logger) *analysis.Worker {
	// A nil *ReportArchive inside a non-nil interface would dodge the
	// worker's nil check, so only hand it over when archiving is on.
	if archiver != nil {
		return analysis.NewWorker(store, cache, dispatcher, archiver, cfg.Pipeline, provider.ModelVersion(), cfg.AI.PromptVersion, logger)
	}
	return analysis.NewWorker(store, cache, dispatcher, nil, cfg.Pipeline, provider.ModelVersion(), cfg.AI.PromptVersion, logger)
}

func buildCORSConfig(cfg *config.AppConfig) cors.Config {
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}
	if len(cfg.AllowedOrigins) > 0 && !cfg.IsDev() {
		allowed := cfg.AllowedOrigins
		corsConfig.AllowOriginFunc = func(origin string) bool {
			for _, candidate := range allowed {
				if candidate == origin {
					return true
				}
			}
			return false
		}
	} else {
		corsConfig.AllowOriginFunc = func(origin string) bool { return true }
	}
	return corsConfig
}

// registerCronJobs wires recurring maintenance.
func registerCronJobs(sched *pkgcron.Scheduler, cache *analysis.Cache) {
	sched.Register(pkgcron.Job{
		Name:        "cache-eviction",
		Description: "delete analysis cache entries past the retention window",
		Interval:    6 * time.Hour,
		Fn: func(ctx context.Context) error {
			return cache.EvictExpired(ctx)
		},
	})
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops the queue consumer and scheduled jobs.
func (a *App) Shutdown() {
	a.cancel()
	if err := a.rc.Close(); err != nil {
		a.logger.Warn("redis close failed", zap.Error(err))
	}
}
