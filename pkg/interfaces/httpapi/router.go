package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/vsinha/bomengine/pkg/infrastructure/logger"
	"github.com/vsinha/bomengine/pkg/infrastructure/metrics"
)

type RouterConfig struct {
	Service        BOMService
	Log            *logger.Logger
	AllowedOrigins []string // CORS is off when empty
}

// NewRouter builds the gin engine serving the BOM API, /healthz and /metrics
func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = logger.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware("bomengine"), requestMetrics(log.With("component", "HTTP")))
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Content-Type", "X-Requested-With"},
			MaxAge:       12 * time.Hour,
		}))
	}

	router.GET("/healthz", HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewBOMHandler(cfg.Service, log)
	api := router.Group("/api/bom")
	{
		api.POST("/lines", h.CreateLine)
		api.GET("/lines", h.ListLines)
		api.GET("/lines/:id", h.GetLine)
		api.PATCH("/lines/:id", h.UpdateLine)
		api.DELETE("/lines/:id", h.DeleteLine)

		api.GET("/products/:id/tree", h.GetTree)
		api.GET("/products/:id/cost", h.GetCost)
		api.POST("/products/:id/versions", h.CreateVersion)
		api.GET("/products/:id/versions", h.GetVersionHistory)
		api.GET("/products/:id/versions/current", h.GetCurrentVersion)
		api.GET("/products/:id/versions/at", h.GetVersionAt)
	}

	return router
}

func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// requestMetrics logs each request and records its duration and status.
// Paths are labelled by route template to keep label cardinality bounded.
func requestMetrics(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", duration.String(),
		)
		metrics.HttpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration.Seconds())
		metrics.HttpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
	}
}
