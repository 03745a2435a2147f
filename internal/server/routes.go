package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/driftsync/driftsync/internal/server/handlers/api"
	eventsh "github.com/driftsync/driftsync/internal/server/handlers/events"
	indexh "github.com/driftsync/driftsync/internal/server/handlers/index"
	"github.com/driftsync/driftsync/internal/server/middlewares"
	"github.com/driftsync/driftsync/internal/version"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// setupRoutes builds the HTTP mux. Exactly one of events/index is non-nil,
// matching the configured protocol.
func setupRoutes(cfg *Config, events *eventsh.Handler, index *indexh.Handler) http.Handler {
	r := gin.New()
	r.Use(
		middlewares.Logger(),
		gin.Recovery(),
		gzip.Gzip(gzip.BestSpeed),
		cors.Default(),
	)
	if cfg.RateLimit != "" {
		r.Use(middlewares.RateLimiter(cfg.RateLimit))
	}
	if cfg.HTTP.CertFile != "" && cfg.HTTP.KeyFile != "" {
		r.Use(middlewares.HSTS())
	}

	r.GET("/", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, "%s %s", version.AppName, version.Detailed())
	})
	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
	})

	v1 := r.Group("/api/v1")
	if events != nil {
		v1.POST("/event", events.PushEvent)
		v1.GET("/sync", events.Sync)
	}
	if index != nil {
		v1.GET("/index", index.GetIndex)
		v1.GET("/download", index.Download)
		v1.POST("/upload", index.Upload)
		v1.POST("/delete", index.Delete)
	}

	r.NoRoute(func(ctx *gin.Context) {
		ctx.JSON(http.StatusNotFound, &api.Error{Code: api.CodeInvalidRequest, Message: "not found"})
	})
	r.NoMethod(func(ctx *gin.Context) {
		ctx.JSON(http.StatusMethodNotAllowed, &api.Error{Code: api.CodeInvalidRequest, Message: "method not allowed"})
	})

	return r.Handler()
}
