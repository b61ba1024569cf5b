package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vip4dfw/vip4dfw-backend/internal/middleware"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"github.com/vip4dfw/vip4dfw-backend/pkg/utils"
	"gorm.io/gorm"
)

type UpdateProfileInput struct {
	Name        *string `json:"name"`
	PhoneNumber *string `json:"phoneNumber"`
}

// UpdateProfile changes the caller's display name and phone number.
func UpdateProfile(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.CurrentUserID(c)

		var input UpdateProfileInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		updates := map[string]any{}
		if input.Name != nil {
			name := strings.TrimSpace(*input.Name)
			if name == "" {
				c.JSON(400, gin.H{"error": "Name cannot be empty"})
				return
			}
			updates["name"] = name
		}
		if input.PhoneNumber != nil {
			updates["phone_number"] = strings.TrimSpace(*input.PhoneNumber)
		}
		if len(updates) > 0 {
			if err := env.DB.Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
				c.JSON(500, gin.H{"error": "Failed to update profile"})
				return
			}
		}

		var user models.User
		if err := env.DB.First(&user, userID).Error; err != nil {
			c.JSON(404, gin.H{"error": "User not found"})
			return
		}
		c.JSON(200, gin.H{"user": userResponse(&user)})
	}
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func ChangePassword(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.CurrentUserID(c)

		var input ChangePasswordInput
		if err := c.ShouldBindJSON(&input); err != nil || input.CurrentPassword == "" || input.NewPassword == "" {
			c.JSON(400, gin.H{"error": "Current and new password are required"})
			return
		}
		if len(input.NewPassword) < minPasswordLength {
			c.JSON(400, gin.H{"error": "Password must be at least 6 characters"})
			return
		}

		var user models.User
		if err := env.DB.First(&user, userID).Error; err != nil {
			c.JSON(404, gin.H{"error": "User not found"})
			return
		}
		if err := user.CheckPassword(input.CurrentPassword); err != nil {
			c.JSON(401, gin.H{"error": "Current password is incorrect"})
			return
		}

		user.Password = input.NewPassword
		if err := user.HashPassword(); err != nil {
			c.JSON(500, gin.H{"error": "Failed to update password"})
			return
		}
		if err := env.DB.Model(&user).Update("password_hash", user.PasswordHash).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to update password"})
			return
		}
		c.JSON(200, gin.H{"message": "Password updated"})
	}
}

// ListUsers is the admin view of registered accounts.
func ListUsers(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		pagination := utils.GetPagination(c)

		filtered := func() *gorm.DB {
			query := env.DB.WithContext(c.Request.Context()).Model(&models.User{})
			if role := models.UserRole(c.Query("role")); role == models.UserRoleAdmin || role == models.UserRoleCustomer {
				query = query.Where("role = ?", role)
			}
			if search := strings.ToLower(strings.TrimSpace(c.Query("search"))); search != "" {
				pattern := "%" + likeEscaper.Replace(search) + "%"
				query = query.Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\')`, pattern, pattern)
			}
			return query
		}

		var total int64
		if err := filtered().Count(&total).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch users"})
			return
		}
		var users []models.User
		if err := filtered().Order("created_at DESC").Offset(pagination.Skip).Limit(pagination.Limit).Find(&users).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch users"})
			return
		}

		out := make([]gin.H, 0, len(users))
		for i := range users {
			out = append(out, userResponse(&users[i]))
		}
		c.JSON(200, gin.H{
			"users": out,
			"pagination": gin.H{
				"page":       pagination.Page,
				"limit":      pagination.Limit,
				"total":      total,
				"totalPages": pagination.TotalPages(total),
			},
		})
	}
}

// UpdateUserRole promotes or demotes an account. Admins cannot demote
// themselves, so the dashboard always keeps at least the caller.
func UpdateUserRole(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid user id"})
			return
		}

		var input struct {
			Role models.UserRole `json:"role"`
		}
		if err := c.ShouldBindJSON(&input); err != nil || (input.Role != models.UserRoleAdmin && input.Role != models.UserRoleCustomer) {
			c.JSON(400, gin.H{"error": "Role must be admin or customer"})
			return
		}

		callerID, _ := middleware.CurrentUserID(c)
		if uint(id) == callerID && input.Role != models.UserRoleAdmin {
			c.JSON(409, gin.H{"error": "You cannot remove your own admin role"})
			return
		}

		var user models.User
		err = env.DB.First(&user, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(404, gin.H{"error": "User not found"})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to load user"})
			return
		}

		if err := env.DB.Model(&user).Update("role", input.Role).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to update role"})
			return
		}
		if input.Role != models.UserRoleAdmin {
			if err := env.DB.Where("user_id = ?", user.ID).Delete(&models.DeviceToken{}).Error; err != nil {
				env.Logger.Warn("remove device tokens of demoted admin", "user_id", user.ID, "error", err)
			}
		}
		user.Role = input.Role
		c.JSON(200, gin.H{"user": userResponse(&user)})
	}
}
