package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
)

// BookingStream upgrades to a websocket that receives driver location and
// status updates for one booking. Like the tracking page it needs only the
// booking id.
func BookingStream(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		booking, err := env.loadBooking(c)
		if errors.Is(err, ErrNotFound) {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}
		if err != nil {
			env.Logger.Error("load booking for stream", "booking_id", c.Param("id"), "error", err)
			c.JSON(500, gin.H{"error": "Failed to load booking"})
			return
		}

		if err := env.Hub.ServeBooking(c.Writer, c.Request, booking.ID); err != nil {
			env.Logger.Warn("websocket upgrade", "booking_id", booking.ID, "error", err)
		}
	}
}
