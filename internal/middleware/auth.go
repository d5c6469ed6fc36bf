package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/stationchat/internal/auth"
)

// Context keys for the authenticated identity in gin.Context. Handlers use
// the getters below rather than reading these directly.
const (
	ContextKeyUserID   = "user_id"
	ContextKeyBranchID = "branch_id"
)

// AuthMiddleware rejects requests without a valid bearer token and stores
// the caller's identity for the handlers behind it.
//
// It takes the same Validator the websocket handshake uses, so a token
// that opens a live connection also opens the REST surface.
func AuthMiddleware(validator auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		// "Bearer eyJhbG..." -> ["Bearer", "eyJhbG..."]
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization format, expected: Bearer <token>",
			})
			return
		}

		id, err := validator.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ContextKeyUserID, id.UserID)
		c.Set(ContextKeyBranchID, id.BranchID)
		c.Next()
	}
}

// GetUserID returns uuid.Nil when the middleware did not run.
func GetUserID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func GetBranchID(c *gin.Context) string {
	return c.GetString(ContextKeyBranchID)
}
