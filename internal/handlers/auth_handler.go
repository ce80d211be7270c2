package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"milk-ticket-backend/internal/auth"
	"milk-ticket-backend/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// usernameKey is where AuthMiddleware leaves the signed-in operator.
const usernameKey = "username"

type AuthHandler struct {
	authenticator auth.Authenticator
}

func NewAuthHandler(a auth.Authenticator) *AuthHandler {
	return &AuthHandler{authenticator: a}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var creds auth.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	token, err := h.authenticator.Authenticate(c.Request.Context(), creds)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		config.LogError(config.GetLogger(), "handler", "Login", "issue token", creds.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// AuthMiddleware rejects requests without a valid bearer token.
func AuthMiddleware(a auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := a.Validate(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(usernameKey, claims.Username)
		c.Next()
	}
}

// RequestLogger writes one structured entry per request.
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"status":   c.Writer.Status(),
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"latency":  time.Since(start).String(),
			"username": c.GetString(usernameKey),
		}).Info("request")
	}
}
