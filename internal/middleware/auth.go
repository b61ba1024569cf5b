package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"github.com/vip4dfw/vip4dfw-backend/pkg/utils"
	"gorm.io/gorm"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "session-token"

// tokenFromRequest looks at the Authorization header, then the session
// cookie, then the token query parameter used by WebSocket clients.
func tokenFromRequest(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie
	}
	return c.Query("token")
}

func setClaims(c *gin.Context, claims *utils.SessionClaims) {
	c.Set("userId", claims.UserID)
	c.Set("userRole", claims.Role)
	c.Set("userEmail", claims.Email)
	c.Set("userName", claims.Name)
}

func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := tokenFromRequest(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		claims, err := utils.ValidateToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// OptionalAuth identifies signed in users but lets guests through. An
// invalid token is treated as a guest.
func OptionalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := tokenFromRequest(c); tokenString != "" {
			if claims, err := utils.ValidateToken(tokenString, secret); err == nil {
				setClaims(c, claims)
			}
		}
		c.Next()
	}
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := ConfirmAdmin(c, db)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify role"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

// ConfirmAdmin checks the admin claim against the users table. A token
// keeps the role it was signed with, so a demotion only shows up here.
func ConfirmAdmin(c *gin.Context, db *gorm.DB) (bool, error) {
	if !IsAdmin(c) {
		return false, nil
	}
	id, _ := CurrentUserID(c)

	var user models.User
	err := db.WithContext(c.Request.Context()).Select("id", "role").Take(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.Set("userRole", "")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c.Set("userRole", string(user.Role))
	return user.IsAdmin(), nil
}

// CurrentUserID returns the signed in user's id, if any.
func CurrentUserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get("userId")
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}

func IsAdmin(c *gin.Context) bool {
	return c.GetString("userRole") == string(models.UserRoleAdmin)
}
