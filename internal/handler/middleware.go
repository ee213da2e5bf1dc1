package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"checkout-core/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ctxCustomerID = "customer_id"
	ctxRole       = "role"
)

// Auth reads an optional bearer token. Requests without one continue as
// guests; a token that is present but invalid is rejected.
func Auth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			abortUnauthorized(c, "malformed Authorization header")
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if len(key) == 0 {
				return nil, errors.New("no signing key configured")
			}
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			abortUnauthorized(c, "invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			abortUnauthorized(c, "invalid token")
			return
		}
		sub, err := claims.GetSubject()
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}
		customerID, err := uuid.Parse(sub)
		if err != nil {
			abortUnauthorized(c, "invalid subject")
			return
		}

		c.Set(ctxCustomerID, customerID)
		if role, ok := claims["role"].(string); ok {
			c.Set(ctxRole, role)
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": "UNAUTHORIZED"})
}

// RequireCustomer rejects guests.
func RequireCustomer(c *gin.Context) {
	if _, ok := c.Get(ctxCustomerID); !ok {
		abortUnauthorized(c, "authentication required")
		return
	}
	c.Next()
}

// RequireAdmin lets only the admin role through.
func RequireAdmin(c *gin.Context) {
	if role, _ := c.Get(ctxRole); role != "admin" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only", "code": "FORBIDDEN"})
		return
	}
	c.Next()
}

func requester(c *gin.Context) service.Requester {
	var r service.Requester
	if id, ok := c.Get(ctxCustomerID); ok {
		r.CustomerID = uuid.NullUUID{UUID: id.(uuid.UUID), Valid: true}
	}
	role, _ := c.Get(ctxRole)
	r.Admin = role == "admin"
	return r
}

func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}
