package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	StudentPortal *handler.StudentPortalHandler
	Grading       *handler.GradingHandler
	WS            *handler.WSHandler
	Monitor       *handler.MonitorHandler
	Health        *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	limiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally. SSE and WebSocket requests pass through.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", handlers.Health.Health)

	// Student mutations share one per-user bucket.
	throttle := limiter.Middleware()

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.NoStore(),
		middleware.RequestTimeout(cfg.RequestTimeout),
	)
	{
		studentAPI.POST("/exams/:exam_id/start", handlers.StudentPortal.StartSession)
		studentAPI.GET("/sessions/:session_id", handlers.StudentPortal.GetSessionState)
		studentAPI.PUT("/sessions/:session_id/answers/:question_id", throttle, handlers.StudentPortal.SaveAnswer)
		studentAPI.POST("/sessions/:session_id/submit", handlers.StudentPortal.SubmitSession)
		studentAPI.POST("/sessions/:session_id/events", throttle, handlers.StudentPortal.RecordEvent)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		sessions := adminAPI.Group("/sessions", middleware.RequestTimeout(cfg.RequestTimeout))
		sessions.GET("/:session_id",
			middleware.RequirePermission(string(model.PermissionSessionsRead)),
			handlers.Grading.GetSession,
		)
		sessions.GET("/:session_id/events",
			middleware.RequirePermission(string(model.PermissionSessionsRead)),
			handlers.Grading.ListEvents,
		)
		sessions.POST("/:session_id/grade",
			middleware.RequirePermission(string(model.PermissionSessionsGrade)),
			handlers.Grading.GradeSession,
		)

		// Live monitor (SSE)
		adminAPI.GET("/exams/:exam_id/monitor",
			middleware.RequirePermission(string(model.PermissionSessionsRead)),
			handlers.Monitor.MonitorExamSSE,
		)
	}

	return router
}
