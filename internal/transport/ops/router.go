// Package ops exposes the operational HTTP surface: liveness, readiness and
// Prometheus metrics. The gatekeeper's decision operations are consumed
// in-process by the platform services, not over HTTP.
package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/qisslab/entativa-id-security/internal/infra/logger"
	redisinfra "github.com/qisslab/entativa-id-security/internal/infra/redis"
)

const requestIDHeader = "X-Request-ID"

// Dependencies carries everything the ops router probes.
type Dependencies struct {
	Env      string
	Logger   *zap.Logger
	Database *pgxpool.Pool
	Cache    *redisinfra.Client
}

// Register builds the gin engine with the operational routes.
func Register(deps Dependencies) *gin.Engine {
	if deps.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), accessLog(deps.Logger))

	startedAt := time.Now().UTC()

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"started_at": startedAt,
		})
	})

	engine.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{}
		healthy := true

		if deps.Database != nil {
			if err := deps.Database.Ping(ctx); err != nil {
				checks["postgres"] = err.Error()
				healthy = false
			} else {
				checks["postgres"] = "ok"
			}
		}
		if deps.Cache != nil {
			if err := deps.Cache.HealthCheck(ctx); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			} else {
				checks["redis"] = "ok"
			}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"checks": checks})
	})

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return engine
}

// requestID injects a correlation identifier into the context and headers.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}

		c.Writer.Header().Set(requestIDHeader, reqID)
		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey{}, reqID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// accessLog emits access logs with correlation identifiers and masked PII.
func accessLog(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		requestID := ""
		if id, ok := c.Request.Context().Value(logger.RequestIDKey{}).(string); ok {
			requestID = id
		}

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", logger.MaskIP(c.ClientIP())),
		}

		if len(c.Errors) > 0 {
			log.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}

		log.Info("request completed", fields...)
	}
}
