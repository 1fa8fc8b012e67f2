package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bookstore/checkout/internal/events"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const (
	// OwnerHeader identifies the shopper. Authentication happens upstream.
	OwnerHeader = "X-User-ID"
	// CorrelationHeader is echoed back and attached to published events
	CorrelationHeader = "X-Correlation-ID"

	ownerKey = "owner_id"
	// maxOwnerIDLen matches the owner_id column width
	maxOwnerIDLen = 64
)

// HealthChecker reports whether the service can take traffic
type HealthChecker interface {
	Serving() bool
}

// RouterConfig holds what NewRouter wires besides the handlers
type RouterConfig struct {
	ServiceName string
	Health      HealthChecker
	Metrics     http.Handler
	Log         *zap.Logger
}

// NewRouter builds the gin engine with tracing, correlation ids, request
// logging, health and metrics endpoints.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.ServiceName),
		correlation(),
		requestLogger(cfg.Log),
	)

	r.GET("/healthz", func(c *gin.Context) {
		if cfg.Health != nil && !cfg.Health.Serving() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": cfg.ServiceName})
	})
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	api := r.Group("/api", requireOwner())
	h.Register(api)
	return r
}

func requireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetHeader(OwnerHeader)
		if owner == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "MISSING_OWNER",
				"message": OwnerHeader + " header is required",
			})
			return
		}
		if len(owner) > maxOwnerIDLen {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "INVALID_OWNER",
				"message": fmt.Sprintf("%s must be at most %d characters", OwnerHeader, maxOwnerIDLen),
			})
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

func ownerID(c *gin.Context) string {
	return c.GetString(ownerKey)
}

func correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Header(CorrelationHeader, id)
		c.Request = c.Request.WithContext(events.WithCorrelationID(c.Request.Context(), id))
		c.Next()
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("correlation_id", events.CorrelationID(c.Request.Context())),
		)
	}
}
