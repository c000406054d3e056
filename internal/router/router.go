package router

import (
	"context"
	"fmt"
	"time"

	"github.com/vwinv/backend-almadina/internal/config"
	"github.com/vwinv/backend-almadina/internal/dto"
	"github.com/vwinv/backend-almadina/internal/handler"
	"github.com/vwinv/backend-almadina/internal/infra"
	"github.com/vwinv/backend-almadina/internal/middleware"
	"github.com/vwinv/backend-almadina/internal/model"
	"github.com/vwinv/backend-almadina/internal/repository"
	"github.com/vwinv/backend-almadina/internal/scheduler"
	"github.com/vwinv/backend-almadina/internal/service"
	"github.com/vwinv/backend-almadina/internal/worker"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Dependencies is the wired object graph shared by the HTTP server, the
// worker pool, the scheduler and the operator CLI.
type Dependencies struct {
	DB          *gorm.DB
	Redis       *redis.Client
	EventsCB    *infra.CircuitBreaker
	ReportCache *infra.ReportCache
	Locker      *infra.Locker
	Service     service.CashRegisterService
}

// Wire builds the service layer.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
func Wire(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*Dependencies, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("business location: %w", err)
	}

	eventsCB := infra.NewCircuitBreaker(infra.DefaultCBConfig())
	reportCache := infra.NewReportCache(rdb, cfg.ReportCacheTTL())
	dispatcher := worker.NewDispatcher(rdb, eventsCB)

	svc := service.NewCashRegisterService(
		repository.NewCashRegisterRepository(db),
		repository.NewUserRepository(db),
		repository.NewOrderRepository(db),
		service.WithLocation(loc),
		service.WithEventPublisher(dispatcher),
		service.WithReportCache(reportCache),
	)

	return &Dependencies{
		DB:          db,
		Redis:       rdb,
		EventsCB:    eventsCB,
		ReportCache: reportCache,
		Locker:      infra.NewLocker(rdb),
		Service:     svc,
	}, nil
}

// AutoClose runs one sweep under the cross-instance lock.
func (d *Dependencies) AutoClose(lockTTL time.Duration) handler.AutoCloseFunc {
	return func(ctx context.Context) (dto.AutoCloseResult, bool) {
		return scheduler.RunAutoClose(ctx, d.Service, d.Locker, lockTTL)
	}
}

// New returns a configured Gin engine. Background housekeeping started here
// stops when ctx is done.
func New(ctx context.Context, cfg *config.Config, deps *Dependencies) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	go limiter.RunPurge(ctx.Done(), 5*time.Minute)

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.ErrorHandler())
	r.Use(limiter.Middleware())

	// ── Handlers ─────────────────────────────────────────────────────────────
	registersH := handler.NewCashRegistersHandler(deps.Service)
	adminH := handler.NewAdminCashRegistersHandler(deps.Service, deps.AutoClose(cfg.AutoCloseLockTTL()))

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(deps.DB, deps.Redis, deps.EventsCB))

	v1 := r.Group("/v1", middleware.JWTAuth(cfg.JWTSecret))
	{
		regs := v1.Group("/cash-registers", middleware.RequireRole(model.RoleManager))
		{
			regs.POST("/open", registersH.Open)
			regs.GET("/today", registersH.Today)
			regs.GET("/history", registersH.History)
			regs.GET("/:id", registersH.Get)
			regs.POST("/:id/close", registersH.Close)
			regs.POST("/:id/reconcile", registersH.Reconcile)
			regs.POST("/:id/transactions", registersH.AddTransaction)
		}

		admin := v1.Group("/admin", middleware.RequireRole(model.RoleAdmin, model.RoleSuperAdmin))
		{
			mgr := admin.Group("/managers/:managerId")
			mgr.GET("/cash-registers", adminH.History)
			mgr.POST("/cash-registers", adminH.Provision)
			mgr.GET("/reconciliation", adminH.Reconciliation)
			mgr.PATCH("/cash-registers/:id/opening-balance", adminH.UpdateOpeningBalance)

			admin.POST("/cash-registers/auto-close", adminH.AutoClose)
		}
	}

	// Swagger UI, only enabled outside production
	if cfg.Env != "production" {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
