package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suPer8Hu/specforge/internal/auth"
	"github.com/suPer8Hu/specforge/internal/common"
)

const (
	UserIDKey    = "user_id"
	RequestIDKey = "request_id"

	requestIDHeader = "X-Request-ID"
)

// Recovery turns a handler panic into the standard 500 envelope.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(RequestIDKey)),
					zap.Stack("stack"),
				)
				common.Fail(c, http.StatusInternalServerError, 50000, "internal server error")
			}
		}()
		c.Next()
	}
}

// RequestID keeps the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// AuthRequired accepts "Authorization: Bearer <jwt>", or ?token= when no
// header is sent, since browsers cannot set headers on EventSource.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if h := c.GetHeader("Authorization"); h != "" {
			parts := strings.SplitN(h, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
				return
			}
			token = strings.TrimSpace(parts[1])
		} else {
			token = c.Query("token")
		}
		if token == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}

		uid, err := auth.ParseJWT(secret, token)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			return
		}
		c.Set(UserIDKey, uid)
		c.Next()
	}
}
