package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-composer/internal/config"
	"github.com/stemsi/exstem-composer/internal/handler"
	"github.com/stemsi/exstem-composer/internal/middleware"
	"github.com/stemsi/exstem-composer/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session  *handler.SessionHandler
	Question *handler.QuestionHandler
	Errors   *handler.ErrorHandler
	Focus    *handler.FocusHandler
	Stream   *handler.StreamHandler
}

// SetupRouter configures the observer API. Routes that end up as calls to
// the exam server go through limiter.
func SetupRouter(handlers *Handlers, limiter *middleware.RateLimiter, cfg *config.Config) *gin.Engine {
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Observer API ───────────────────────────────────────────────
	v1 := router.Group("/api/v1")
	v1.Use(middleware.NoStore(), middleware.Compress(middleware.DefaultCompressConfig))
	{
		v1.GET("/session", handlers.Session.GetSession)
		v1.GET("/errors", handlers.Errors.ListErrors)
		v1.DELETE("/errors/:id", handlers.Errors.DismissError)
		v1.POST("/focus-events", handlers.Focus.PostFocusEvent)
		v1.PUT("/questions/:id/initial-answer", handlers.Question.SetInitialAnswer)
		v1.PUT("/questions/:id/final-answer", handlers.Question.SetFinalAnswer)
		v1.DELETE("/session/submit-confirmation", handlers.Session.RollbackOnSubmit)
	}

	// ─── 2. Upstream Actions (Rate Limited) ────────────────────────────
	actions := v1.Group("")
	actions.Use(limiter.Middleware())
	{
		actions.POST("/session/start", handlers.Session.Start)
		actions.PUT("/session/current-question", handlers.Session.ChangeQuestion)
		actions.POST("/session/submit-confirmation", handlers.Session.GoOnSubmit)
		actions.POST("/session/submit", handlers.Session.Submit)
		actions.POST("/questions/:id/resync", handlers.Question.Resync)
		actions.POST("/questions/:id/chat", handlers.Question.AskChat)
		actions.POST("/questions/:id/resources", handlers.Question.AddResource)
		actions.DELETE("/questions/:id/resources/:resource_id", handlers.Question.DeleteResource)
	}

	// ─── 3. Change Stream ──────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/session/stream", handlers.Stream.SessionStream)
	}

	return router
}
