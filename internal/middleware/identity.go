package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"splitride/internal/domain"
	"splitride/internal/repository"
)

// UserIDHeader carries the caller's user ID, set by the upstream gateway.
const UserIDHeader = "X-User-ID"

const userContextKey = "splitride.user"

// Identity resolves the caller from UserIDHeader and stores the user in the
// gin context. When required is false an anonymous request passes through.
func Identity(users repository.UserRepository, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserIDHeader)
		if userID == "" {
			userID = c.Query("userId") // Browsers cannot set headers on websocket upgrades.
		}
		if userID == "" {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + UserIDHeader + " header"})
				return
			}
			c.Next()
			return
		}

		user, err := users.GetByID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// CurrentUser returns the caller resolved by Identity, or nil.
func CurrentUser(c *gin.Context) *domain.User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	user, _ := v.(*domain.User)
	return user
}

// CurrentUserID returns the caller's ID, or "" for anonymous requests.
func CurrentUserID(c *gin.Context) string {
	if user := CurrentUser(c); user != nil {
		return user.ID
	}
	return ""
}
