package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/fabcam/config"
	"github.com/mossy-p/fabcam/internal/middleware"
	"github.com/mossy-p/fabcam/internal/scoring"
	"github.com/mossy-p/fabcam/internal/store"
)

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Signals store.SignalStore
	Frames  store.FrameStore
	Scorer  scoring.Scorer
	Events  *EventHub
}

// SetupRouter wires the signaling, capture and auth routes.
func SetupRouter(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.Scorer == nil {
		d.Scorer = scoring.Fixed{Scores: scoring.Fallback}
	}
	if d.Events == nil {
		d.Events = NewEventHub()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.AuthEnabled() {
		router.POST("/api/auth/login", Login(cfg.JWTSecret, cfg.AgentKey))
	}

	signal := router.Group("/signal")
	if cfg.AuthEnabled() {
		signal.Use(middleware.JWTAuth(cfg.JWTSecret))
	}
	{
		sh := NewSignalHandler(d.Signals)
		signal.GET("", sh.Get)
		signal.POST("", sh.Post)

		ch := NewCaptureHandler(d.Frames, d.Scorer, d.Events)
		signal.POST("/capture", ch.Post)
		signal.GET("/capture/events", d.Events.Handle)
	}

	return router
}
