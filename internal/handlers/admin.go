package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"github.com/vip4dfw/vip4dfw-backend/pkg/utils"
	"gorm.io/gorm"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// statusFilter keeps the known statuses from ?status=a&status=b or ?status=a,b.
func statusFilter(c *gin.Context) []models.BookingStatus {
	var statuses []models.BookingStatus
	seen := map[models.BookingStatus]bool{}
	for _, raw := range c.QueryArray("status") {
		for _, part := range strings.Split(raw, ",") {
			s := models.BookingStatus(strings.ToLower(strings.TrimSpace(part)))
			if s.IsValid() && !seen[s] {
				seen[s] = true
				statuses = append(statuses, s)
			}
		}
	}
	return statuses
}

func applySearch(query *gorm.DB, search string) *gorm.DB {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return query
	}
	pattern := "%" + likeEscaper.Replace(search) + "%"
	return query.Where(
		`(LOWER(id) LIKE ? ESCAPE '\' OR LOWER(contact_name) LIKE ? ESCAPE '\' OR LOWER(contact_email) LIKE ? ESCAPE '\' `+
			`OR LOWER(contact_phone) LIKE ? ESCAPE '\' OR LOWER(pickup_location) LIKE ? ESCAPE '\' OR LOWER(dropoff_location) LIKE ? ESCAPE '\')`,
		pattern, pattern, pattern, pattern, pattern, pattern,
	)
}

// GetAdminBookings lists every booking with status filters and search.
func GetAdminBookings(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		pagination := utils.GetPagination(c)
		statuses := statusFilter(c)

		filtered := func() *gorm.DB {
			query := env.DB.WithContext(c.Request.Context()).Model(&models.Booking{})
			if len(statuses) > 0 {
				query = query.Where("status IN ?", statuses)
			}
			return applySearch(query, c.Query("search"))
		}

		var total int64
		if err := filtered().Count(&total).Error; err != nil {
			env.Logger.Error("count admin bookings", "error", err)
			c.JSON(500, gin.H{"success": false, "error": "Failed to fetch bookings"})
			return
		}

		var bookings []models.Booking
		err := filtered().Order("created_at DESC").
			Offset(pagination.Skip).
			Limit(pagination.Limit).
			Find(&bookings).Error
		if err != nil {
			env.Logger.Error("list admin bookings", "error", err)
			c.JSON(500, gin.H{"success": false, "error": "Failed to fetch bookings"})
			return
		}

		c.JSON(200, gin.H{
			"success":  true,
			"bookings": bookings,
			"filters": gin.H{
				"statuses":  statuses,
				"search":    c.Query("search"),
				"available": models.AllBookingStatuses,
			},
			"pagination": gin.H{
				"page":       pagination.Page,
				"limit":      pagination.Limit,
				"total":      total,
				"totalPages": pagination.TotalPages(total),
			},
		})
	}
}

type UpdateStatusInput struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// UpdateBookingStatus is the admin accept, decline, complete and cancel action.
func UpdateBookingStatus(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input UpdateStatusInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": "Invalid request body"})
			return
		}
		next := models.BookingStatus(strings.ToLower(strings.TrimSpace(input.Status)))
		if !next.IsValid() {
			c.JSON(400, gin.H{"error": "Invalid status"})
			return
		}

		booking, err := env.loadBooking(c)
		if err != nil {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}

		var extra map[string]any
		if next == models.BookingStatusCancelled {
			reason := strings.TrimSpace(input.Reason)
			if reason == "" {
				reason = "Cancelled by VIP4DFW"
			}
			booking.CancellationReason = reason
			extra = map[string]any{"cancellation_reason": reason}
		}

		if !env.transition(c, booking, next, extra, false) {
			return
		}
		c.JSON(200, gin.H{
			"success": true,
			"message": "Booking status updated to " + string(next),
			"booking": booking,
		})
	}
}

type UpdatePaymentInput struct {
	PaymentStatus string `json:"paymentStatus"`
}

// UpdatePaymentStatus lets the admin reconcile payments, e.g. cash collected.
func UpdatePaymentStatus(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input UpdatePaymentInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": "Invalid request body"})
			return
		}
		status := models.PaymentStatus(strings.ToLower(strings.TrimSpace(input.PaymentStatus)))
		if !status.IsValid() {
			c.JSON(400, gin.H{"error": "Invalid payment status"})
			return
		}

		booking, err := env.loadBooking(c)
		if err != nil {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}

		previous := booking.PaymentStatus
		if err := env.DB.Model(booking).Update("payment_status", status).Error; err != nil {
			env.Logger.Error("update payment status", "booking_id", booking.ID, "error", err)
			c.JSON(500, gin.H{"error": "Failed to update payment status"})
			return
		}
		booking.PaymentStatus = status

		env.Broadcaster.BookingStatus(c.Request.Context(), booking)
		env.Notifier.PaymentUpdated(*booking, previous)
		c.JSON(200, gin.H{"success": true, "booking": booking})
	}
}
