package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vip4dfw/vip4dfw-backend/internal/middleware"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"github.com/vip4dfw/vip4dfw-backend/internal/services"
	"gorm.io/gorm/clause"
)

type DeviceTokenInput struct {
	FCMToken string `json:"fcmToken" binding:"required"`
	Platform string `json:"platform"`
}

// RegisterDeviceToken stores an admin device for booking push alerts. A
// token already registered by another account moves to the caller.
func RegisterDeviceToken(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.CurrentUserID(c)

		var input DeviceTokenInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		token := models.DeviceToken{
			UserID:   userID,
			Token:    strings.TrimSpace(input.FCMToken),
			Platform: strings.ToLower(strings.TrimSpace(input.Platform)),
		}
		err := env.DB.WithContext(c.Request.Context()).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "updated_at"}),
		}).Create(&token).Error
		if err != nil {
			env.Logger.Error("register device token", "user_id", userID, "error", err)
			c.JSON(500, gin.H{"error": "Failed to register FCM token"})
			return
		}

		c.JSON(200, gin.H{"message": "FCM token registered successfully"})
	}
}

// RemoveDeviceToken forgets one device, or every device of the caller when
// no token is given.
func RemoveDeviceToken(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.CurrentUserID(c)

		var input struct {
			FCMToken string `json:"fcmToken"`
		}
		_ = c.ShouldBindJSON(&input)

		query := env.DB.WithContext(c.Request.Context()).Where("user_id = ?", userID)
		if token := strings.TrimSpace(input.FCMToken); token != "" {
			query = query.Where("token = ?", token)
		}
		if err := query.Delete(&models.DeviceToken{}).Error; err != nil {
			env.Logger.Error("remove device token", "user_id", userID, "error", err)
			c.JSON(500, gin.H{"error": "Failed to remove FCM token"})
			return
		}

		c.JSON(200, gin.H{"message": "FCM token removed successfully"})
	}
}

// SendTestNotification pushes a sample alert to the caller's own devices.
func SendTestNotification(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !env.Push.Enabled() {
			c.JSON(503, gin.H{"error": "Push notifications are not configured"})
			return
		}
		userID, _ := middleware.CurrentUserID(c)

		var tokens []string
		if err := env.DB.Model(&models.DeviceToken{}).Where("user_id = ?", userID).Pluck("token", &tokens).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to load device tokens"})
			return
		}
		if len(tokens) == 0 {
			c.JSON(400, gin.H{"error": "No FCM token registered for this user"})
			return
		}

		stale, err := env.Push.SendToTokens(c.Request.Context(), tokens, services.NotificationPayload{
			Title: "Test Notification",
			Body:  "This is a test notification from VIP4DFW",
			Data:  map[string]any{"type": "test", "userId": userID},
		})
		if err != nil {
			c.JSON(502, gin.H{"error": "Failed to send test notification", "details": err.Error()})
			return
		}
		if len(stale) > 0 {
			if err := env.DB.Where("token IN ?", stale).Delete(&models.DeviceToken{}).Error; err != nil {
				env.Logger.Warn("remove stale device tokens", "count", len(stale), "error", err)
			}
		}

		c.JSON(200, gin.H{
			"message":      "Test notification sent successfully",
			"deviceCount":  len(tokens),
			"removedStale": len(stale),
		})
	}
}
