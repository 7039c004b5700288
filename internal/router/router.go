package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/observability"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	StudentPortal *handler.StudentPortalHandler
	Grading       *handler.GradingHandler
	WS            *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))
	router.Use(observability.Middleware())
	router.Use(middleware.Brotli())

	// Health check and Prometheus scrape endpoint.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", observability.MetricsHandler())

	authLimiter := middleware.NewRateLimiter(cfg.AuthRateLimit, time.Minute).WithKey(middleware.ByUserOrIP)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		// Password guessing is throttled per student.
		studentAPI.POST("/exams/:exam_id/authenticate", authLimiter.Middleware(), handlers.StudentPortal.Authenticate)

		studentAPI.PUT("/sessions/:session_id/answers/:question_id", handlers.StudentPortal.SaveAnswer)
		studentAPI.POST("/sessions/:session_id/submit", handlers.StudentPortal.Submit)
		studentAPI.GET("/sessions/:session_id/state", handlers.StudentPortal.GetState)
		studentAPI.GET("/sessions/:session_id/result", handlers.StudentPortal.GetResult)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Creator Group (JWT + RBAC) ─────────────────────────────────
	creatorAPI := router.Group("/api/v1/creator")
	creatorAPI.Use(middleware.RequireCreatorJWT(authService))
	{
		creatorAPI.GET("/sessions/:session_id/result",
			middleware.RequireAnyPermission(model.PermissionResultsRead, model.PermissionSessionsGrade),
			handlers.Grading.GetResult,
		)
		creatorAPI.POST("/sessions/:session_id/grade",
			middleware.RequirePermission(model.PermissionSessionsGrade),
			handlers.Grading.ManualGrade,
		)
	}

	return router
}
