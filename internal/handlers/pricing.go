package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vip4dfw/vip4dfw-backend/pkg/utils"
)

// GetFareQuote prices a trip before it is booked so the form can show the
// total. It applies the same flat-rate rule as CreateBooking.
func GetFareQuote() gin.HandlerFunc {
	return func(c *gin.Context) {
		pickup := strings.TrimSpace(c.Query("pickup"))
		dropoff := strings.TrimSpace(c.Query("dropoff"))
		if pickup == "" || dropoff == "" {
			c.JSON(400, gin.H{"error": "pickup and dropoff are required"})
			return
		}

		fare := utils.ClassifyFare(pickup, dropoff)
		c.JSON(200, gin.H{
			"serviceType":   fare.ServiceType,
			"serviceLabel":  utils.ServiceTypeLabel(fare.ServiceType),
			"flatRateCents": fare.FlatRateCents,
			"totalCents":    fare.TotalCents,
			"total":         utils.FormatCents(fare.TotalCents),
			"currency":      "usd",
		})
	}
}
