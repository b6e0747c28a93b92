package middleware

import (
	"net/http"
	"strings"

	"github.com/fleetdeck/fleetdeck/internal/auth"
	"github.com/gin-gonic/gin"
)

const operatorKey = "operator"

func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := ""
		switch {
		case strings.HasPrefix(header, "Bearer "):
			token = strings.TrimPrefix(header, "Bearer ")
		case c.Query("token") != "":
			// Browser WebSocket clients cannot set headers.
			token = c.Query("token")
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			return
		}

		claims, err := auth.ValidateToken(secret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(operatorKey, auth.Operator{
			ID:       claims.UserID,
			Username: claims.Username,
			Role:     claims.Role,
		})
		c.Next()
	}
}

func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		operator, ok := CurrentOperator(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		for _, r := range roles {
			if r == operator.Role {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// CurrentOperator returns the authenticated operator set by JWTAuth.
func CurrentOperator(c *gin.Context) (auth.Operator, bool) {
	value, exists := c.Get(operatorKey)
	if !exists {
		return auth.Operator{}, false
	}
	operator, ok := value.(auth.Operator)
	return operator, ok
}
