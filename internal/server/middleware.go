package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/pavetrack/internal/actorcontext"
	obscontext "github.com/smallbiznis/pavetrack/internal/observability/context"
	obslogger "github.com/smallbiznis/pavetrack/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	HeaderUserID     = "X-User-Id"
	contextUserIDKey = "user_id"
)

// ActorContext trusts the gateway-provided user header and carries it on the request context.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID != "" {
			ctx := actorcontext.WithUserID(c.Request.Context(), userID)
			ctx = obscontext.WithActor(ctx, actorcontext.ActorTypeUser, userID)
			c.Request = c.Request.WithContext(ctx)
			c.Set(contextUserIDKey, userID)
		}
		c.Next()
	}
}

func (s *Server) requirePermission(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := actorcontext.UserIDFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), userID, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// limitFieldWrites fails open when the limiter backend is unreachable.
func (s *Server) limitFieldWrites() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.writeLimiter.Enabled() {
			c.Next()
			return
		}
		userID, _ := actorcontext.UserIDFromContext(c.Request.Context())
		result, err := s.writeLimiter.AllowUser(c.Request.Context(), userID)
		if err != nil {
			obslogger.WithContext(c.Request.Context(), s.log).Warn("field write rate limit unavailable", zap.Error(err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
