package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exchange-allocator/internal/config"
	"github.com/stemsi/exchange-allocator/internal/handler"
	"github.com/stemsi/exchange-allocator/internal/middleware"
	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/response"
)

// multipartOverhead leaves room for the form fields and part headers of an
// upload carrying two workbooks of MaxUploadBytes each.
const multipartOverhead = 1 << 20

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth       *handler.AuthHandler
	Allocation *handler.AllocationHandler
	AdminUser  *handler.AdminUserHandler
	WS         *handler.WSHandler
	Monitor    *handler.MonitorHandler
	System     *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds background helpers such as the rate limiter sweeper.
func SetupRouter(
	ctx context.Context,
	auth middleware.TokenAuthenticator,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log.With().Str("component", "http").Logger()))

	// XLSX is already a zip archive.
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality:   middleware.DefaultBrotliConfig.Quality,
		MinLength: middleware.DefaultBrotliConfig.MinLength,
		Skipper: func(c *gin.Context) bool {
			return strings.HasSuffix(c.FullPath(), "/export") && !strings.EqualFold(c.Query("format"), "csv")
		},
	}))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(ctx, 30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	authAPI := router.Group("/api/v1/auth")
	authAPI.Use(authLimiter.Middleware(), middleware.CacheControl("no-store"))
	{
		authAPI.POST("/admin/login", handlers.Auth.AdminLogin)

		// Authenticated profile routes
		authAPI.POST("/admin/logout", middleware.RequireAdminJWT(auth), handlers.Auth.AdminLogout)
		authAPI.GET("/admin/me", middleware.RequireAdminJWT(auth), handlers.Auth.GetAdminProfile)
	}

	// ─── 2. WebSocket Group (Admin WS Auth) ────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAdminWSAuth(auth), middleware.RequirePermission(model.PermissionRunsRead))
	{
		ws.GET("/runs/:id/events", handlers.WS.RunEventStream)
	}

	// ─── 3. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(auth))
	{
		// Allocation runs
		runs := adminAPI.Group("/runs")
		{
			runs.GET("", middleware.RequirePermission(model.PermissionRunsRead), handlers.Allocation.ListRuns)
			runs.POST("", middleware.RequirePermission(model.PermissionRunsWrite), handlers.Allocation.SubmitRun)
			runs.POST("/upload",
				middleware.RequirePermission(model.PermissionRunsWrite),
				middleware.BodyLimit(2*cfg.MaxUploadBytes+multipartOverhead),
				handlers.Allocation.UploadRun,
			)
			runs.GET("/:id", middleware.RequirePermission(model.PermissionRunsRead), handlers.Allocation.GetRun)
			runs.GET("/:id/outcome", middleware.RequirePermission(model.PermissionRunsRead), handlers.Allocation.GetOutcome)
			runs.GET("/:id/assignments", middleware.RequirePermission(model.PermissionRunsRead), handlers.Allocation.ListAssignments)
			runs.GET("/:id/exclusions", middleware.RequirePermission(model.PermissionRunsRead), handlers.Allocation.ListExclusions)
			runs.GET("/:id/monitor", middleware.RequirePermission(model.PermissionRunsRead), handlers.Monitor.MonitorRunSSE)
			runs.GET("/:id/export",
				middleware.RequirePermission(model.PermissionRunsRead, model.PermissionRunsExport),
				handlers.Allocation.ExportRun,
			)
		}

		// Scoring
		adminAPI.POST("/scores/preview",
			middleware.RequireAnyPermission(model.PermissionScoresPreview, model.PermissionRunsWrite),
			handlers.Allocation.PreviewScores,
		)

		// Admin User Management
		adminAPI.GET("/roles",
			middleware.RequirePermission(model.PermissionAdminsWrite),
			handlers.AdminUser.GetRoles,
		)
		adminAPI.GET("/users",
			middleware.RequirePermission(model.PermissionAdminsWrite),
			handlers.AdminUser.ListAdmins,
		)
		adminAPI.POST("/users",
			middleware.RequirePermission(model.PermissionAdminsWrite),
			handlers.AdminUser.CreateAdmin,
		)

		// System Monitoring
		adminAPI.GET("/system/status",
			handlers.System.SystemStatus, // Open to all admins
		)
		adminAPI.GET("/system/metrics",
			handlers.System.SystemMetricsSSE, // Open to all admins
		)
	}

	return router
}
