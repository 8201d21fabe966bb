package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mealsub-backend/internal/auth"
	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/infrastructure/provider"
	"mealsub-backend/internal/metrics"
)

const (
	ctxRequestID = "requestID"
	ctxActor     = "actor"
)

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString(ctxRequestID),
		)
	}
}

func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key, X-Client-Channel, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			s.fail(c, errUnauthorized)
			c.Abort()
			return
		}
		actor, err := s.Tokens.Verify(strings.TrimSpace(token))
		if err != nil {
			s.fail(c, err)
			c.Abort()
			return
		}
		c.Set(ctxActor, actor)
		c.Next()
	}
}

var (
	errUnauthorized    = errors.New("missing bearer token")
	errBadWebhookToken = errors.New("webhook token mismatch")
	// errWebhookUnauthenticated rejects providers that have no token and no
	// signature check of their own.
	errWebhookUnauthenticated = errors.New("webhook authentication not configured for provider")
)

func actorOf(c *gin.Context) domain.Actor {
	if v, ok := c.Get(ctxActor); ok {
		if a, ok := v.(domain.Actor); ok {
			return a
		}
	}
	return domain.Actor{}
}

func isUnauthorized(err error) bool {
	return errors.Is(err, errUnauthorized) ||
		errors.Is(err, errBadWebhookToken) ||
		errors.Is(err, errWebhookUnauthenticated) ||
		errors.Is(err, auth.ErrInvalidToken) ||
		errors.Is(err, provider.ErrBadSignature)
}
