package handlers

import (
	"context"
	"errors"
	"math"

	"github.com/gin-gonic/gin"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"github.com/vip4dfw/vip4dfw-backend/internal/observability"
	"github.com/vip4dfw/vip4dfw-backend/internal/services"
	"github.com/vip4dfw/vip4dfw-backend/pkg/utils"
)

const maxTipDollars = 1000

var QuickTipAmounts = []int{5, 10, 15, 20, 25}

type TipInput struct {
	Amount float64 `json:"amount"`
}

type ConfirmTipInput struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

// TipOptions feeds the tip form.
func TipOptions() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"quickAmounts": QuickTipAmounts,
			"maxAmount":    maxTipDollars,
		})
	}
}

// CreateTipPaymentIntent starts a card tip for a completed ride.
func CreateTipPaymentIntent(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input TipInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"success": false, "error": "Please select or enter a valid tip amount."})
			return
		}
		if math.IsNaN(input.Amount) || input.Amount <= 0 || input.Amount > maxTipDollars {
			c.JSON(400, gin.H{"success": false, "error": "Tip amount must be between $0.01 and $1,000."})
			return
		}
		amountCents := utils.DollarsToCents(input.Amount)
		if amountCents < 1 {
			c.JSON(400, gin.H{"success": false, "error": "Tip amount must be between $0.01 and $1,000."})
			return
		}

		booking := env.loadOwnedBooking(c)
		if booking == nil {
			return
		}
		if booking.Status != models.BookingStatusCompleted {
			c.JSON(409, gin.H{"success": false, "error": "Tips can only be added to completed rides"})
			return
		}
		if booking.TipPaid() {
			c.JSON(409, gin.H{"success": false, "error": "A tip has already been paid for this ride"})
			return
		}

		intent, err := env.Payments.CreateTipIntent(c.Request.Context(), booking.ID, amountCents)
		if errors.Is(err, services.ErrPaymentsDisabled) {
			c.JSON(503, gin.H{"success": false, "error": "Card payments are not available right now"})
			return
		}
		if err != nil {
			env.Logger.Error("create tip intent", "booking_id", booking.ID, "error", err)
			observability.Tips.WithLabelValues("intent_failed").Inc()
			c.JSON(502, gin.H{"success": false, "error": "Failed to create tip payment"})
			return
		}

		pending := models.TipStatusPending
		err = env.DB.Model(&models.Booking{}).
			Where("id = ?", booking.ID).
			Updates(map[string]any{
				"tip_amount_cents":      amountCents,
				"tip_status":            pending,
				"tip_payment_intent_id": intent.ID,
			}).Error
		if err != nil {
			env.Logger.Error("store tip intent", "booking_id", booking.ID, "error", err)
			c.JSON(500, gin.H{"success": false, "error": "Failed to create tip payment"})
			return
		}
		observability.Tips.WithLabelValues("created").Inc()

		c.JSON(200, gin.H{
			"success":         true,
			"clientSecret":    intent.ClientSecret,
			"paymentIntentId": intent.ID,
			"amountCents":     amountCents,
		})
	}
}

// markTipPaid records a successful tip. It is safe to call more than once.
func (env *Env) markTipPaid(ctx context.Context, booking *models.Booking, intentID string) error {
	if booking.TipPaid() {
		return nil
	}

	paid := models.TipStatusPaid
	updates := map[string]any{"tip_status": paid, "tip_payment_intent_id": intentID}
	if err := env.DB.WithContext(ctx).Model(&models.Booking{}).Where("id = ?", booking.ID).Updates(updates).Error; err != nil {
		return err
	}
	booking.TipStatus = &paid
	booking.TipPaymentIntentID = intentID

	observability.Tips.WithLabelValues("paid").Inc()
	env.Notifier.TipUpdated(*booking)
	return nil
}

var errTipAlreadyPaid = errors.New("tip already paid")

// setTipStatus never overwrites a paid tip; it returns errTipAlreadyPaid instead.
func (env *Env) setTipStatus(ctx context.Context, booking *models.Booking, status models.TipStatus, clearAmount bool) error {
	updates := map[string]any{"tip_status": status}
	if clearAmount {
		updates["tip_amount_cents"] = nil
		updates["tip_payment_intent_id"] = ""
	}
	res := env.DB.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND (tip_status IS NULL OR tip_status <> ?)", booking.ID, models.TipStatusPaid).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errTipAlreadyPaid
	}
	booking.TipStatus = &status
	if clearAmount {
		booking.TipAmountCents = nil
		booking.TipPaymentIntentID = ""
	}

	observability.Tips.WithLabelValues(string(status)).Inc()
	env.Notifier.TipUpdated(*booking)
	return nil
}

// ConfirmTipPayment checks with Stripe that the tip went through.
func ConfirmTipPayment(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input ConfirmTipInput
		if err := c.ShouldBindJSON(&input); err != nil || input.PaymentIntentID == "" {
			c.JSON(400, gin.H{"success": false, "error": "Payment intent id is required"})
			return
		}

		booking := env.loadOwnedBooking(c)
		if booking == nil {
			return
		}
		if booking.TipPaymentIntentID != input.PaymentIntentID {
			c.JSON(400, gin.H{"success": false, "error": "Payment does not belong to this booking"})
			return
		}
		if booking.TipPaid() {
			c.JSON(200, gin.H{"success": true, "message": "Tip already confirmed"})
			return
		}

		intent, err := env.Payments.GetPaymentIntent(c.Request.Context(), input.PaymentIntentID)
		if err != nil {
			env.Logger.Error("retrieve tip intent", "booking_id", booking.ID, "error", err)
			c.JSON(502, gin.H{"success": false, "error": "Failed to verify tip payment"})
			return
		}
		if intent.Metadata["bookingId"] != booking.ID {
			c.JSON(400, gin.H{"success": false, "error": "Payment does not belong to this booking"})
			return
		}
		if intent.Status != "succeeded" {
			c.JSON(409, gin.H{"success": false, "error": "Payment has not completed", "status": intent.Status})
			return
		}

		if err := env.markTipPaid(c.Request.Context(), booking, intent.ID); err != nil {
			env.Logger.Error("mark tip paid", "booking_id", booking.ID, "error", err)
			c.JSON(500, gin.H{"success": false, "error": "Failed to confirm tip payment"})
			return
		}
		c.JSON(200, gin.H{"success": true, "message": "Thank you for your tip!"})
	}
}

// CancelTipPayment abandons a pending tip.
func CancelTipPayment(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		booking := env.loadOwnedBooking(c)
		if booking == nil {
			return
		}
		if booking.TipStatus == nil || *booking.TipStatus != models.TipStatusPending {
			c.JSON(409, gin.H{"success": false, "error": "There is no pending tip to cancel"})
			return
		}

		if booking.TipPaymentIntentID != "" {
			if err := env.Payments.CancelPaymentIntent(c.Request.Context(), booking.TipPaymentIntentID); err != nil {
				env.Logger.Error("cancel tip intent", "booking_id", booking.ID, "error", err)
				c.JSON(502, gin.H{"success": false, "error": "Failed to cancel tip payment"})
				return
			}
		}

		err := env.setTipStatus(c.Request.Context(), booking, models.TipStatusCancelled, true)
		if errors.Is(err, errTipAlreadyPaid) {
			c.JSON(409, gin.H{"success": false, "error": "Tip has already been paid"})
			return
		}
		if err != nil {
			env.Logger.Error("cancel tip", "booking_id", booking.ID, "error", err)
			c.JSON(500, gin.H{"success": false, "error": "Failed to cancel tip payment"})
			return
		}
		c.JSON(200, gin.H{"success": true, "message": "Tip cancelled"})
	}
}
