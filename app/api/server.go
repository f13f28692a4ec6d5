package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/news-comb/app/metrics"
)

// NewServer creates the HTTP engine with all routes configured. collector may
// be nil, in which case /metrics is not served.
func NewServer(handler *Handler, apiAccessKey string, collector *metrics.Collector) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health", "/metrics"},
	}))

	r.Use(gin.Recovery())

	if collector != nil {
		r.Use(metricsMiddleware(collector))
	}

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, apiAccessKey, collector)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string, collector *metrics.Collector) {
	r.GET("/feed.xml", handler.GetFeed)

	r.GET("/health", handler.GetHealth)
	r.GET("/stats", handler.GetStats)

	if collector != nil {
		r.GET("/metrics", gin.WrapH(collector.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/items", handler.APIListItems)
		api.GET("/items/:id", handler.APIGetItem)
		api.GET("/sources", handler.APIListSources)
	}

	// Write endpoints only exist when a key is configured.
	if apiAccessKey != "" {
		write := api.Group("")
		write.Use(authMiddleware(apiAccessKey))
		{
			write.POST("/items/:id/save", handler.APISaveItem)
			write.DELETE("/items/:id/save", handler.APIUnsaveItem)
		}
		slog.Info("API write endpoints enabled with authentication")
	} else {
		slog.Info("API write endpoints disabled (API_ACCESS_KEY not set)")
	}

	r.GET("/", func(c *gin.Context) {
		endpoints := map[string]string{
			"feed":    "/feed.xml",
			"health":  "/health",
			"stats":   "/stats",
			"items":   "/api/items",
			"item":    "/api/items/<id>",
			"sources": "/api/sources",
		}
		if collector != nil {
			endpoints["metrics"] = "/metrics"
		}
		if apiAccessKey != "" {
			endpoints["save"] = "/api/items/<id>/save (POST/DELETE, requires X-API-Key header)"
		}

		c.JSON(http.StatusOK, gin.H{
			"service":     "News Comb",
			"description": "Summarized, categorized and sentiment-scored news items",
			"endpoints":   endpoints,
		})
	})

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			c.Abort()
			return
		}

		if providedKey != apiAccessKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func metricsMiddleware(collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		collector.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		collector.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
