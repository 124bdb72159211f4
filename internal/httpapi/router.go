// Package httpapi exposes the REST surface over the message/conversation/
// reaction/session operations, grounded on the teacher's router.go
// route-group layout (health routes, auth routes, API routes) trimmed to
// this core's domain and reusing the same gin-contrib/cors + otelgin
// middleware stack.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Logan27/1000-messenger-sub005/internal/apperr"
	"github.com/Logan27/1000-messenger-sub005/internal/config"
	"github.com/Logan27/1000-messenger-sub005/internal/messageservice"
	"github.com/Logan27/1000-messenger-sub005/internal/metrics"
	"github.com/Logan27/1000-messenger-sub005/internal/middleware"
	"github.com/Logan27/1000-messenger-sub005/internal/session"
	"github.com/Logan27/1000-messenger-sub005/internal/store"
)

// HealthChecker is the narrow dependency set the readiness/detailed
// health routes need from the database; satisfied by *store.Postgres.
// Redis health comes from RedisHealth, satisfied by *redisx.Clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	ReplicaLag(ctx context.Context) (time.Duration, error)
}

type RedisHealth interface {
	Healthy(ctx context.Context) bool
}

type Deps struct {
	Config            *config.Config
	Store             store.Store
	Health            HealthChecker
	Redis             RedisHealth
	RateLimitCounters *redis.Client
	Messages          *messageservice.Service
	Sessions          *session.Service
	Verifier          *middleware.Verifier
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("1000-messenger"))
	r.Use(metricsMiddleware())

	corsCfg := cors.Config{
		AllowOrigins:     []string{d.Config.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	r.Use(cors.New(corsCfg))
	r.Use(middleware.GlobalRateLimit(d.Config.RateLimitEnabled, d.Config.RateLimitLimit, d.Config.RateLimitBurst))

	registerHealthRoutes(r, d)

	api := r.Group("/api/v1")
	api.Use(middleware.RequireAuth(d.Verifier))
	api.Use(middleware.ActionRateLimit(d.RateLimitCounters, middleware.APILimit))
	registerConversationRoutes(api, d)
	registerMessageRoutes(api, d)
	registerReactionRoutes(api, d)
	registerSessionRoutes(api, d)

	return r
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.HTTPRequestDuration.WithLabelValues(
			c.FullPath(), c.Request.Method, statusClass(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func registerHealthRoutes(r *gin.Engine, d Deps) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status := gin.H{}
		code := http.StatusOK

		if err := d.Health.HealthCheck(ctx); err != nil {
			status["database"] = "unavailable"
			code = http.StatusServiceUnavailable
		} else {
			status["database"] = "available"
		}

		if !d.Redis.Healthy(ctx) {
			status["redis"] = "unavailable"
			code = http.StatusServiceUnavailable
		} else {
			status["redis"] = "available"
		}

		c.JSON(code, status)
	})

	r.GET("/healthz/detailed", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		detail := gin.H{}
		if err := d.Health.HealthCheck(ctx); err != nil {
			detail["database"] = err.Error()
		} else {
			detail["database"] = "ok"
		}
		if lag, err := d.Health.ReplicaLag(ctx); err == nil {
			detail["replicaLagSeconds"] = lag.Seconds()
		}
		detail["redis"] = d.Redis.Healthy(ctx)
		c.JSON(http.StatusOK, detail)
	})
}

func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	c.JSON(apperr.HTTPStatus(kind), apperr.ToEnvelope(err))
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(middleware.ContextUserIDKey)
	if !ok {
		return uuid.UUID{}, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
