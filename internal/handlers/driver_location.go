package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"github.com/vip4dfw/vip4dfw-backend/internal/observability"
	"github.com/vip4dfw/vip4dfw-backend/internal/services"
	"github.com/vip4dfw/vip4dfw-backend/pkg/utils"
)

// fixes closer than this to the previous one are not sent to the event stream
const minEventDistanceKm = 0.005

type DriverLocationInput struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// UpdateDriverLocation stores the chauffeur's GPS fix for a confirmed booking.
func UpdateDriverLocation(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input DriverLocationInput
		if err := c.ShouldBindJSON(&input); err != nil || input.Latitude == nil || input.Longitude == nil {
			c.JSON(400, gin.H{"error": "Latitude and longitude are required"})
			return
		}
		lat, lng := *input.Latitude, *input.Longitude
		if !utils.ValidCoordinates(lat, lng) {
			c.JSON(400, gin.H{"error": "Invalid coordinates"})
			return
		}

		booking, err := env.loadBooking(c)
		if err != nil {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}
		if booking.Status != models.BookingStatusConfirmed {
			c.JSON(409, gin.H{"error": "Location can only be shared for confirmed bookings"})
			return
		}

		moved := !booking.HasDriverLocation() ||
			utils.HaversineDistance(*booking.DriverLatitude, *booking.DriverLongitude, lat, lng) >= minEventDistanceKm

		now := env.now().UTC()
		res := env.DB.Model(&models.Booking{}).
			Where("id = ? AND status = ?", booking.ID, models.BookingStatusConfirmed).
			Updates(map[string]any{
				"driver_latitude":            lat,
				"driver_longitude":           lng,
				"driver_location_updated_at": now,
			})
		if res.Error != nil {
			env.Logger.Error("store driver location", "booking_id", booking.ID, "error", res.Error)
			c.JSON(500, gin.H{"error": "Failed to update location"})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(409, gin.H{"error": "Location can only be shared for confirmed bookings"})
			return
		}

		loc := services.DriverLocation{Latitude: lat, Longitude: lng, UpdatedAt: now}
		if err := env.Cache.SetDriverLocation(c.Request.Context(), booking.ID, loc); err != nil {
			env.Logger.Warn("cache driver location", "booking_id", booking.ID, "error", err)
		}
		env.Broadcaster.DriverLocation(c.Request.Context(), booking.ID, loc)
		if moved {
			env.Notifier.DriverLocationUpdated(booking.ID, loc)
		}
		observability.DriverLocationUpdates.Inc()

		c.JSON(200, gin.H{
			"success":  true,
			"message":  "Location updated successfully",
			"location": loc,
		})
	}
}
