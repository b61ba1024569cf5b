package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"github.com/vip4dfw/vip4dfw-backend/internal/observability"
	"github.com/vip4dfw/vip4dfw-backend/internal/services"
	"gorm.io/gorm/clause"
)

const maxWebhookBody = 65536

// stripeObject holds the fields read from payment intents and checkout
// sessions. Stripe sends payment_intent as an id or an expanded object.
type stripeObject struct {
	ID            string            `json:"id"`
	Metadata      map[string]string `json:"metadata"`
	PaymentStatus string            `json:"payment_status"`
	PaymentIntent json.RawMessage   `json:"payment_intent"`
}

func (o stripeObject) bookingID() string {
	if id := o.Metadata["booking_id"]; id != "" {
		return id
	}
	return o.Metadata["bookingId"]
}

func (o stripeObject) paymentIntentID() string {
	if len(o.PaymentIntent) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(o.PaymentIntent, &id); err == nil {
		return id
	}
	var expanded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(o.PaymentIntent, &expanded); err == nil {
		return expanded.ID
	}
	return ""
}

// errSkip marks an event that is acknowledged without any change.
var errSkip = errors.New("event skipped")

// StripeWebhook applies Stripe payment events to bookings. Processing
// failures answer 500 so Stripe retries. Replays of a recorded event id
// are acknowledged without reprocessing.
func StripeWebhook(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		signature := c.GetHeader("Stripe-Signature")
		if signature == "" {
			c.String(400, "No stripe-signature header found")
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			c.String(400, "Failed to read body")
			return
		}

		event, err := env.Payments.ParseWebhook(payload, signature)
		if err != nil {
			env.Logger.Warn("stripe webhook signature", "error", err)
			c.String(400, "Webhook Error: %s", err.Error())
			return
		}

		// Claim the event id before processing so concurrent deliveries of
		// the same event cannot both apply it.
		record := models.WebhookEvent{ID: event.ID, Type: event.Type, ProcessedAt: env.now().UTC()}
		claim := env.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
		if claim.Error != nil {
			env.Logger.Error("record webhook event", "event_id", event.ID, "error", claim.Error)
			c.String(500, "Failed to process event")
			return
		}
		if claim.RowsAffected == 0 {
			observability.WebhookEvents.WithLabelValues(event.Type, "duplicate").Inc()
			c.String(200, "Received")
			return
		}

		err = env.handleStripeEvent(c.Request.Context(), event)
		switch {
		case errors.Is(err, errSkip):
			observability.WebhookEvents.WithLabelValues(event.Type, "skipped").Inc()
		case err != nil:
			env.Logger.Error("process stripe event", "event_id", event.ID, "type", event.Type, "error", err)
			observability.WebhookEvents.WithLabelValues(event.Type, "error").Inc()
			// release the claim so Stripe's retry is processed
			if err := env.DB.Delete(&models.WebhookEvent{}, "id = ?", event.ID).Error; err != nil {
				env.Logger.Warn("release webhook event", "event_id", event.ID, "error", err)
			}
			c.String(500, "Failed to process event: %s", err.Error())
			return
		default:
			observability.WebhookEvents.WithLabelValues(event.Type, "processed").Inc()
		}

		c.String(200, "Received")
	}
}

func (env *Env) handleStripeEvent(ctx context.Context, event services.StripeEvent) error {
	var obj stripeObject
	if len(event.Raw) > 0 {
		if err := json.Unmarshal(event.Raw, &obj); err != nil {
			return fmt.Errorf("decode %s object: %w", event.Type, err)
		}
	}

	switch event.Type {
	case "payment_intent.succeeded":
		return env.tipIntentEvent(ctx, obj, true)
	case "payment_intent.payment_failed":
		return env.tipIntentEvent(ctx, obj, false)
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		if obj.PaymentStatus != "" && obj.PaymentStatus != "paid" && obj.PaymentStatus != "no_payment_required" {
			env.Logger.Info("checkout completed without payment yet", "session_id", obj.ID, "payment_status", obj.PaymentStatus)
			return errSkip
		}
		return env.checkoutEvent(ctx, obj, models.PaymentStatusPaid)
	case "checkout.session.async_payment_failed":
		return env.checkoutEvent(ctx, obj, models.PaymentStatusFailed)
	default:
		env.Logger.Info("unhandled stripe event", "type", event.Type)
		return errSkip
	}
}

func (env *Env) tipIntentEvent(ctx context.Context, obj stripeObject, succeeded bool) error {
	bookingID := obj.bookingID()
	if bookingID == "" || obj.Metadata["type"] != "tip" {
		env.Logger.Warn("payment intent event missing bookingId or type metadata", "payment_intent", obj.ID)
		return errSkip
	}

	booking, err := env.findBooking(ctx, bookingID)
	if errors.Is(err, ErrNotFound) {
		env.Logger.Warn("tip event for unknown booking", "booking_id", bookingID)
		return errSkip
	}
	if err != nil {
		return err
	}
	if booking.TipPaymentIntentID != "" && booking.TipPaymentIntentID != obj.ID {
		env.Logger.Warn("tip event for superseded payment intent", "booking_id", bookingID, "payment_intent", obj.ID)
		return errSkip
	}

	if succeeded {
		return env.markTipPaid(ctx, booking, obj.ID)
	}
	// Stripe may deliver an earlier failed attempt after the success.
	err = env.setTipStatus(ctx, booking, models.TipStatusFailed, false)
	if errors.Is(err, errTipAlreadyPaid) {
		env.Logger.Info("failure event for a paid tip", "booking_id", bookingID, "payment_intent", obj.ID)
		return errSkip
	}
	return err
}

func (env *Env) checkoutEvent(ctx context.Context, obj stripeObject, status models.PaymentStatus) error {
	bookingID := obj.bookingID()
	if bookingID == "" {
		env.Logger.Warn("checkout session event missing booking_id metadata", "session_id", obj.ID)
		return errSkip
	}

	booking, err := env.findBooking(ctx, bookingID)
	if errors.Is(err, ErrNotFound) {
		env.Logger.Warn("checkout event for unknown booking", "booking_id", bookingID)
		return errSkip
	}
	if err != nil {
		return err
	}
	if booking.PaymentStatus == models.PaymentStatusPaid {
		return errSkip
	}

	updates := map[string]any{
		"payment_status":             status,
		"stripe_checkout_session_id": obj.ID,
	}
	if intentID := obj.paymentIntentID(); intentID != "" {
		updates["stripe_payment_intent_id"] = intentID
		booking.StripePaymentIntentID = intentID
	}
	if err := env.DB.WithContext(ctx).Model(&models.Booking{}).Where("id = ?", booking.ID).Updates(updates).Error; err != nil {
		return err
	}
	previous := booking.PaymentStatus
	booking.PaymentStatus = status
	booking.StripeCheckoutSessionID = obj.ID

	env.Broadcaster.BookingStatus(ctx, booking)
	env.Notifier.PaymentUpdated(*booking, previous)
	return nil
}
