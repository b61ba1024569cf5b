package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"gorm.io/gorm"
)

const fleetImageFolder = "fleet"

// GetFleet lists the vehicles shown on the public site.
func GetFleet(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var vehicles []models.Vehicle
		err := env.DB.WithContext(c.Request.Context()).
			Where("is_active = ?", true).
			Order("sort_order ASC, id ASC").
			Find(&vehicles).Error
		if err != nil {
			env.Logger.Error("list fleet", "error", err)
			c.JSON(500, gin.H{"error": "Failed to load fleet"})
			return
		}
		c.JSON(200, gin.H{"vehicles": vehicles})
	}
}

// CreateVehicle adds a vehicle from a multipart form with an optional image.
func CreateVehicle(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := strings.TrimSpace(c.PostForm("name"))
		if name == "" {
			c.JSON(400, gin.H{"error": "Vehicle name is required"})
			return
		}

		capacity := 6
		if raw := strings.TrimSpace(c.PostForm("capacity")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 20 {
				c.JSON(400, gin.H{"error": "Capacity must be between 1 and 20"})
				return
			}
			capacity = n
		}

		vehicle := models.Vehicle{
			Name:        name,
			Description: strings.TrimSpace(c.PostForm("description")),
			Capacity:    capacity,
			IsActive:    true,
		}

		if file, err := c.FormFile("image"); err == nil {
			url, key, err := env.Storage.Upload(c.Request.Context(), file, fleetImageFolder)
			if err != nil {
				env.Logger.Warn("upload vehicle image", "error", err)
				c.JSON(400, gin.H{"error": "Failed to upload image", "details": err.Error()})
				return
			}
			vehicle.ImageURL = url
			vehicle.ImageKey = key
		}

		var maxOrder int
		if err := env.DB.WithContext(c.Request.Context()).Model(&models.Vehicle{}).Select("COALESCE(MAX(sort_order), 0)").Scan(&maxOrder).Error; err != nil {
			env.Logger.Error("read fleet sort order", "error", err)
			if vehicle.ImageKey != "" {
				_ = env.Storage.Delete(c.Request.Context(), vehicle.ImageKey)
			}
			c.JSON(500, gin.H{"error": "Failed to create vehicle"})
			return
		}
		vehicle.SortOrder = maxOrder + 1

		if err := env.DB.WithContext(c.Request.Context()).Create(&vehicle).Error; err != nil {
			env.Logger.Error("create vehicle", "error", err)
			if vehicle.ImageKey != "" {
				_ = env.Storage.Delete(c.Request.Context(), vehicle.ImageKey)
			}
			c.JSON(500, gin.H{"error": "Failed to create vehicle"})
			return
		}
		c.JSON(201, gin.H{"message": "Vehicle added", "vehicle": vehicle})
	}
}

// DeleteVehicle removes a vehicle and its uploaded image.
func DeleteVehicle(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid vehicle id"})
			return
		}

		var vehicle models.Vehicle
		err = env.DB.WithContext(c.Request.Context()).First(&vehicle, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(404, gin.H{"error": "Vehicle not found"})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to load vehicle"})
			return
		}

		if err := env.DB.WithContext(c.Request.Context()).Delete(&vehicle).Error; err != nil {
			env.Logger.Error("delete vehicle", "vehicle_id", vehicle.ID, "error", err)
			c.JSON(500, gin.H{"error": "Failed to delete vehicle"})
			return
		}
		if vehicle.ImageKey != "" {
			if err := env.Storage.Delete(c.Request.Context(), vehicle.ImageKey); err != nil {
				env.Logger.Warn("delete vehicle image", "key", vehicle.ImageKey, "error", err)
			}
		}
		c.JSON(200, gin.H{"message": "Vehicle deleted"})
	}
}
