package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vip4dfw/vip4dfw-backend/internal/middleware"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"github.com/vip4dfw/vip4dfw-backend/internal/observability"
	"github.com/vip4dfw/vip4dfw-backend/internal/services"
	"github.com/vip4dfw/vip4dfw-backend/pkg/utils"
)

const (
	msgBookingFieldsRequired = "All booking fields and payment method are required."
	msgInvalidDateTime       = "Invalid date and time."
	msgCashBooking           = "Booking confirmed! Cash payment due upon arrival."
	msgCardBooking           = "Booking received! You will pay by card after your ride."

	trackPollIntervalSeconds = 5
	// pickups slightly in the past are tolerated for clock skew
	pickupGracePeriod = 5 * time.Minute
)

// passengerCount accepts a number or a numeric string from forms and JSON.
type passengerCount int

func (p *passengerCount) UnmarshalParam(param string) error {
	n, err := strconv.Atoi(strings.TrimSpace(param))
	if err != nil {
		return err
	}
	*p = passengerCount(n)
	return nil
}

func (p *passengerCount) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*p = passengerCount(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return p.UnmarshalParam(s)
}

type CreateBookingInput struct {
	PickupLocation  string         `form:"pickup-location" json:"pickup-location"`
	DropoffLocation string         `form:"dropoff-location" json:"dropoff-location"`
	DateTime        string         `form:"date-time" json:"date-time"`
	Passengers      passengerCount `form:"passengers" json:"passengers"`
	ContactName     string         `form:"contact-name" json:"contact-name"`
	ContactEmail    string         `form:"contact-email" json:"contact-email"`
	ContactPhone    string         `form:"contact-phone" json:"contact-phone"`
	PaymentMethod   string         `form:"payment-method" json:"payment-method"`
	CustomMessage   string         `form:"custom-message" json:"custom-message"`
	UserTimezone    string         `form:"user-timezone" json:"user-timezone"`
}

func (in *CreateBookingInput) trim() {
	in.PickupLocation = strings.TrimSpace(in.PickupLocation)
	in.DropoffLocation = strings.TrimSpace(in.DropoffLocation)
	in.DateTime = strings.TrimSpace(in.DateTime)
	in.ContactName = strings.TrimSpace(in.ContactName)
	in.ContactEmail = strings.TrimSpace(in.ContactEmail)
	in.ContactPhone = strings.TrimSpace(in.ContactPhone)
	in.PaymentMethod = strings.ToLower(strings.TrimSpace(in.PaymentMethod))
	in.CustomMessage = strings.TrimSpace(in.CustomMessage)
	in.UserTimezone = strings.TrimSpace(in.UserTimezone)
}

func (in *CreateBookingInput) complete() bool {
	return in.PickupLocation != "" &&
		in.DropoffLocation != "" &&
		in.DateTime != "" &&
		in.Passengers >= 1 &&
		in.ContactName != "" &&
		strings.Contains(in.ContactEmail, "@") &&
		in.ContactPhone != "" &&
		models.PaymentMethod(in.PaymentMethod).IsValid()
}

func bookingFailure(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message, "error": message})
}

// CreateBooking prices and stores a ride request. Guests may book; the
// booking is attached to the user when a session is present.
func CreateBooking(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input CreateBookingInput
		if err := c.ShouldBind(&input); err != nil {
			bookingFailure(c, 400, msgBookingFieldsRequired)
			return
		}
		input.trim()
		if !input.complete() {
			bookingFailure(c, 400, msgBookingFieldsRequired)
			return
		}

		timezone := input.UserTimezone
		if _, err := time.LoadLocation(timezone); timezone == "" || err != nil {
			timezone = env.DefaultTimezone
		}
		pickupTime, err := utils.ParsePickupTime(input.DateTime, timezone, env.DefaultTimezone)
		if err != nil {
			bookingFailure(c, 400, msgInvalidDateTime)
			return
		}
		if pickupTime.Before(env.now().Add(-pickupGracePeriod)) {
			bookingFailure(c, 400, "Pickup time must be in the future.")
			return
		}

		fare := utils.ClassifyFare(input.PickupLocation, input.DropoffLocation)
		method := models.PaymentMethod(input.PaymentMethod)

		booking := models.Booking{
			PickupLocation:  input.PickupLocation,
			DropoffLocation: input.DropoffLocation,
			PickupTime:      pickupTime,
			Timezone:        timezone,
			NumPassengers:   int(input.Passengers),
			ContactName:     input.ContactName,
			ContactEmail:    input.ContactEmail,
			ContactPhone:    input.ContactPhone,
			CustomMessage:   input.CustomMessage,
			ServiceType:     fare.ServiceType,
			FlatRateCents:   fare.FlatRateCents,
			TotalPriceCents: fare.TotalCents,
			PaymentMethod:   method,
			Status:          models.BookingStatusPending,
			PaymentStatus:   method.InitialPaymentStatus(),
		}
		userID, signedIn := middleware.CurrentUserID(c)
		if signedIn {
			booking.UserID = &userID
		}

		if err := env.DB.WithContext(c.Request.Context()).Create(&booking).Error; err != nil {
			env.Logger.Error("create booking", "error", err)
			bookingFailure(c, 500, "Failed to create booking")
			return
		}

		observability.BookingsCreated.WithLabelValues(booking.ServiceType, string(method)).Inc()
		env.Notifier.BookingCreated(booking)

		message := msgCashBooking
		if method == models.PaymentMethodCard {
			message = msgCardBooking
		}
		redirectURL := "/booking-success-guest?booking_id=" + url.QueryEscape(booking.ID)
		if signedIn {
			redirectURL = "/dashboard?booking_success=true&booking_id=" + url.QueryEscape(booking.ID)
		}

		c.JSON(201, gin.H{
			"success":     true,
			"message":     message,
			"booking":     booking,
			"redirectUrl": redirectURL,
		})
	}
}

// GetUserBookings lists the caller's bookings, latest pickup first.
func GetUserBookings(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.CurrentUserID(c)

		var bookings []models.Booking
		err := env.DB.WithContext(c.Request.Context()).
			Where("user_id = ?", userID).
			Order("pickup_time DESC").
			Find(&bookings).Error
		if err != nil {
			env.Logger.Error("list user bookings", "user_id", userID, "error", err)
			c.JSON(500, gin.H{"success": false, "error": "Failed to fetch bookings"})
			return
		}

		c.JSON(200, gin.H{"success": true, "bookings": bookings})
	}
}

// GetBooking returns the full record to its owner or an admin and the
// tracking view to anyone else holding the id.
func GetBooking(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		booking, err := env.loadBooking(c)
		if errors.Is(err, ErrNotFound) {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}
		if err != nil {
			env.Logger.Error("load booking", "booking_id", c.Param("id"), "error", err)
			c.JSON(500, gin.H{"error": "Failed to load booking"})
			return
		}

		userID, _ := middleware.CurrentUserID(c)
		if booking.IsOwnedBy(userID) {
			c.JSON(200, gin.H{"booking": booking})
			return
		}
		isAdmin, err := middleware.ConfirmAdmin(c, env.DB)
		if err != nil {
			env.Logger.Warn("verify admin role", "user_id", userID, "error", err)
		}
		if isAdmin {
			c.JSON(200, gin.H{"booking": booking})
			return
		}
		c.JSON(200, gin.H{"booking": env.trackingView(c, booking)})
	}
}

func (env *Env) driverLocation(c *gin.Context, booking *models.Booking) *services.DriverLocation {
	if booking.Status != models.BookingStatusConfirmed {
		return nil
	}

	loc, err := env.Cache.GetDriverLocation(c.Request.Context(), booking.ID)
	if err != nil {
		env.Logger.Warn("read cached driver location", "booking_id", booking.ID, "error", err)
	}
	if loc != nil {
		return loc
	}

	if !booking.HasDriverLocation() {
		return nil
	}
	loc = &services.DriverLocation{
		Latitude:  *booking.DriverLatitude,
		Longitude: *booking.DriverLongitude,
	}
	if booking.DriverLocationUpdatedAt != nil {
		loc.UpdatedAt = *booking.DriverLocationUpdatedAt
	}
	return loc
}

func (env *Env) trackingView(c *gin.Context, booking *models.Booking) gin.H {
	return gin.H{
		"id":                  booking.ID,
		"status":              booking.Status,
		"paymentStatus":       booking.PaymentStatus,
		"serviceType":         booking.ServiceType,
		"pickupLocation":      booking.PickupLocation,
		"dropoffLocation":     booking.DropoffLocation,
		"pickupTime":          booking.PickupTime,
		"pickupTimeFormatted": utils.FormatInZone(booking.PickupTime, booking.Timezone),
		"timezone":            booking.Timezone,
		"driverLocation":      env.driverLocation(c, booking),
		"pollIntervalSeconds": trackPollIntervalSeconds,
	}
}

// TrackBooking is polled by the tracking page.
func TrackBooking(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		booking, err := env.loadBooking(c)
		if errors.Is(err, ErrNotFound) {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}
		if err != nil {
			env.Logger.Error("load booking", "booking_id", c.Param("id"), "error", err)
			c.JSON(500, gin.H{"error": "Failed to load booking"})
			return
		}
		c.JSON(200, env.trackingView(c, booking))
	}
}

// transition applies a status change and writes the error response when
// it fails. It reports whether the change was stored.
func (env *Env) transition(c *gin.Context, booking *models.Booking, next models.BookingStatus, extra map[string]any, byCustomer bool) bool {
	from := booking.Status
	err := booking.Transition(env.DB.WithContext(c.Request.Context()), next, extra)
	switch {
	case errors.Is(err, models.ErrInvalidTransition):
		c.JSON(409, gin.H{"error": fmt.Sprintf("Cannot change booking from %s to %s", from, next)})
		return false
	case errors.Is(err, models.ErrStaleBooking):
		c.JSON(409, gin.H{"error": "Booking was updated by someone else, please refresh"})
		return false
	case err != nil:
		env.Logger.Error("update booking status", "booking_id", booking.ID, "error", err)
		c.JSON(500, gin.H{"error": "Failed to update booking status"})
		return false
	}

	observability.BookingTransitions.WithLabelValues(string(from), string(next)).Inc()
	if next != models.BookingStatusConfirmed {
		if err := env.Cache.DeleteDriverLocation(c.Request.Context(), booking.ID); err != nil {
			env.Logger.Warn("clear cached driver location", "booking_id", booking.ID, "error", err)
		}
	}
	env.Broadcaster.BookingStatus(c.Request.Context(), booking)
	env.Notifier.BookingStatusChanged(*booking, from, byCustomer)
	return true
}

type CancelBookingInput struct {
	Reason string `json:"reason"`
}

// CancelBooking lets the owner cancel a confirmed ride.
func CancelBooking(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		booking := env.loadOwnedBooking(c)
		if booking == nil {
			return
		}

		var input CancelBookingInput
		_ = c.ShouldBindJSON(&input)
		reason := strings.TrimSpace(input.Reason)
		if reason == "" {
			reason = "Cancelled by customer"
		}
		booking.CancellationReason = reason

		if !env.transition(c, booking, models.BookingStatusCancelled, map[string]any{"cancellation_reason": reason}, true) {
			return
		}
		c.JSON(200, gin.H{"success": true, "message": "Booking cancelled", "booking": booking})
	}
}

func checkoutDescription(b *models.Booking) string {
	when := b.PickupTime.In(utils.LoadLocation(b.Timezone, utils.DefaultTimezone)).Format("January 2, 2006 3:04 PM")
	return fmt.Sprintf("For %d passengers on %s", b.NumPassengers, when)
}

// PayBooking opens a Stripe Checkout session for the ride fare.
func PayBooking(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		booking := env.loadOwnedBooking(c)
		if booking == nil {
			return
		}

		if booking.Status != models.BookingStatusConfirmed && booking.Status != models.BookingStatusCompleted {
			c.JSON(409, gin.H{"error": "Only confirmed or completed bookings can be paid"})
			return
		}
		if booking.PaymentStatus == models.PaymentStatusPaid {
			c.JSON(409, gin.H{"error": "Booking is already paid"})
			return
		}

		userID, _ := middleware.CurrentUserID(c)
		id := url.QueryEscape(booking.ID)
		session, err := env.Payments.CreateCheckoutSession(c.Request.Context(), services.CheckoutRequest{
			BookingID:     booking.ID,
			UserID:        userID,
			CustomerEmail: booking.ContactEmail,
			AmountCents:   booking.TotalPriceCents,
			ProductName:   fmt.Sprintf("%s from %s to %s", utils.ServiceTypeLabel(booking.ServiceType), booking.PickupLocation, booking.DropoffLocation),
			Description:   checkoutDescription(booking),
			SuccessURL:    env.BaseURL + "/dashboard?payment_success=true&booking_id=" + id,
			CancelURL:     env.BaseURL + "/dashboard?payment_cancelled=true&booking_id=" + id,
		})
		if errors.Is(err, services.ErrPaymentsDisabled) {
			c.JSON(503, gin.H{"error": "Card payments are not available right now"})
			return
		}
		if err != nil || session.URL == "" {
			env.Logger.Error("create checkout session", "booking_id", booking.ID, "error", err)
			if uerr := env.DB.Model(booking).Update("payment_status", models.PaymentStatusFailed).Error; uerr != nil {
				env.Logger.Error("mark payment failed", "booking_id", booking.ID, "error", uerr)
			}
			c.JSON(502, gin.H{"success": false, "error": "Payment processing error"})
			return
		}

		if err := env.DB.Model(booking).Update("stripe_checkout_session_id", session.ID).Error; err != nil {
			env.Logger.Warn("store checkout session id", "booking_id", booking.ID, "error", err)
		}

		c.JSON(200, gin.H{
			"success":     true,
			"message":     "Redirecting to payment...",
			"redirectUrl": session.URL,
		})
	}
}
