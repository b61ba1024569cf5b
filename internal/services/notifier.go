package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"github.com/vip4dfw/vip4dfw-backend/pkg/utils"
	"gorm.io/gorm"
)

const notifyTimeout = 30 * time.Second

// Notifier fans booking events out to email, push and the event stream.
// Every delivery is best effort: failures are logged and never reach the
// caller.
type Notifier struct {
	db         *gorm.DB
	mailer     Mailer
	push       *PushSender
	events     EventPublisher
	logger     *slog.Logger
	adminEmail string
	baseURL    string
	wg         sync.WaitGroup
}

type NotifierOptions struct {
	DB         *gorm.DB
	Mailer     Mailer
	Push       *PushSender
	Events     EventPublisher
	Logger     *slog.Logger
	AdminEmail string
	BaseURL    string
}

func NewNotifier(opts NotifierOptions) *Notifier {
	events := opts.Events
	if events == nil {
		events = NopPublisher{}
	}
	return &Notifier{
		db:         opts.DB,
		mailer:     opts.Mailer,
		push:       opts.Push,
		events:     events,
		logger:     opts.Logger,
		adminEmail: opts.AdminEmail,
		baseURL:    opts.BaseURL,
	}
}

// Wait blocks until queued deliveries finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) async(fn func(ctx context.Context)) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (n *Notifier) link(path string) string {
	return n.baseURL + path
}

func bookingEmailData(b *models.Booking) utils.EmailData {
	return utils.EmailData{
		BookingID:     b.ID,
		Pickup:        b.PickupLocation,
		Dropoff:       b.DropoffLocation,
		PickupTime:    utils.FormatInZone(b.PickupTime, b.Timezone),
		Passengers:    b.NumPassengers,
		ServiceType:   utils.ServiceTypeLabel(b.ServiceType),
		Total:         utils.FormatCents(b.TotalPriceCents),
		ContactName:   b.ContactName,
		ContactEmail:  b.ContactEmail,
		ContactPhone:  b.ContactPhone,
		CustomMessage: b.CustomMessage,
		PaymentLabel:  b.PaymentStatus.Label(),
		Reason:        b.CancellationReason,
	}
}

func (n *Notifier) sendEmail(ctx context.Context, template, to string, data utils.EmailData) {
	if to == "" || n.mailer == nil {
		return
	}
	email, err := utils.RenderEmail(template, to, data)
	if err != nil {
		n.logger.Error("render email", "template", template, "error", err)
		return
	}
	if err := n.mailer.Send(ctx, email); err != nil {
		n.logger.Error("send email", "template", template, "booking_id", data.BookingID, "error", err)
	}
}

func (n *Notifier) publish(ctx context.Context, eventType, bookingID string, data any) {
	err := n.events.Publish(ctx, Event{Type: eventType, BookingID: bookingID, OccurredAt: time.Now().UTC(), Data: data})
	if err != nil {
		n.logger.Warn("publish event", "type", eventType, "booking_id", bookingID, "error", err)
	}
}

// pushAdmins notifies every registered admin device and forgets tokens
// FCM no longer knows.
func (n *Notifier) pushAdmins(ctx context.Context, payload NotificationPayload) {
	if !n.push.Enabled() || n.db == nil {
		return
	}

	var tokens []string
	err := n.db.WithContext(ctx).Model(&models.DeviceToken{}).
		Joins("JOIN users ON users.id = device_tokens.user_id").
		Where("users.role = ?", models.UserRoleAdmin).
		Pluck("device_tokens.token", &tokens).Error
	if err != nil {
		n.logger.Error("load admin device tokens", "error", err)
		return
	}

	stale, err := n.push.SendToTokens(ctx, tokens, payload)
	if err != nil {
		n.logger.Error("push admins", "error", err)
		return
	}
	if len(stale) > 0 {
		if err := n.db.WithContext(ctx).Where("token IN ?", stale).Delete(&models.DeviceToken{}).Error; err != nil {
			n.logger.Warn("remove stale device tokens", "error", err)
		}
	}
}

// BookingCreated alerts the admin and acknowledges the customer.
func (n *Notifier) BookingCreated(b models.Booking) {
	n.async(func(ctx context.Context) {
		admin := bookingEmailData(&b)
		admin.Link = n.link("/admin")
		n.sendEmail(ctx, "admin_new_booking", n.adminEmail, admin)

		customer := bookingEmailData(&b)
		if b.UserID != nil {
			customer.Link = n.link("/dashboard")
		} else {
			customer.Link = n.link("/track/" + b.ID)
		}
		n.sendEmail(ctx, "booking_received", b.ContactEmail, customer)

		n.pushAdmins(ctx, NotificationPayload{
			Title: "New booking",
			Body:  b.ContactName + ": " + b.PickupLocation + " to " + b.DropoffLocation,
			Tag:   "booking_" + b.ID,
			Data:  map[string]any{"type": "booking_created", "bookingId": b.ID},
		})

		n.publish(ctx, EventBookingCreated, b.ID, map[string]any{
			"serviceType":     b.ServiceType,
			"paymentMethod":   b.PaymentMethod,
			"totalPriceCents": b.TotalPriceCents,
			"pickupTime":      b.PickupTime,
			"guest":           b.UserID == nil,
		})
	})
}

// BookingStatusChanged emails the customer about the new status. A
// cancellation made by the customer also alerts the admin.
func (n *Notifier) BookingStatusChanged(b models.Booking, from models.BookingStatus, byCustomer bool) {
	n.async(func(ctx context.Context) {
		data := bookingEmailData(&b)

		switch b.Status {
		case models.BookingStatusConfirmed:
			data.Link = n.link("/track/" + b.ID)
			n.sendEmail(ctx, "booking_confirmed", b.ContactEmail, data)
		case models.BookingStatusDeclined:
			n.sendEmail(ctx, "booking_declined", b.ContactEmail, data)
		case models.BookingStatusCompleted:
			if b.UserID != nil && b.PaymentMethod == models.PaymentMethodCard && b.PaymentStatus != models.PaymentStatusPaid {
				data.Link = n.link("/dashboard")
			}
			n.sendEmail(ctx, "booking_completed", b.ContactEmail, data)
		case models.BookingStatusCancelled:
			if byCustomer {
				n.sendEmail(ctx, "booking_cancelled", n.adminEmail, data)
				n.pushAdmins(ctx, NotificationPayload{
					Title: "Booking cancelled",
					Body:  b.ContactName + " cancelled their ride",
					Tag:   "booking_" + b.ID,
					Data:  map[string]any{"type": "booking_cancelled", "bookingId": b.ID},
				})
			} else {
				n.sendEmail(ctx, "booking_cancelled", b.ContactEmail, data)
			}
		}

		n.publish(ctx, EventBookingStatusChanged, b.ID, map[string]any{
			"from":       from,
			"to":         b.Status,
			"byCustomer": byCustomer,
		})
	})
}

// PaymentUpdated emails a receipt when the booking has just become paid,
// whichever way the fare was settled.
func (n *Notifier) PaymentUpdated(b models.Booking, previous models.PaymentStatus) {
	n.async(func(ctx context.Context) {
		if b.PaymentStatus == models.PaymentStatusPaid && previous != models.PaymentStatusPaid {
			data := bookingEmailData(&b)
			data.Amount = utils.FormatCents(b.TotalPriceCents)
			n.sendEmail(ctx, "payment_receipt", b.ContactEmail, data)
		}
		n.publish(ctx, EventBookingPaymentUpdated, b.ID, map[string]any{
			"paymentStatus": b.PaymentStatus,
		})
	})
}

func (n *Notifier) TipUpdated(b models.Booking) {
	n.async(func(ctx context.Context) {
		var amount int64
		if b.TipAmountCents != nil {
			amount = *b.TipAmountCents
		}
		if b.TipPaid() {
			data := bookingEmailData(&b)
			data.Amount = utils.FormatCents(amount)
			n.sendEmail(ctx, "tip_thank_you", b.ContactEmail, data)
		}
		n.publish(ctx, EventBookingTipUpdated, b.ID, map[string]any{
			"tipStatus":      b.TipStatus,
			"tipAmountCents": amount,
		})
	})
}

func (n *Notifier) DriverLocationUpdated(bookingID string, loc DriverLocation) {
	n.async(func(ctx context.Context) {
		n.publish(ctx, EventDriverLocationUpdated, bookingID, loc)
	})
}

func (n *Notifier) PasswordResetRequested(user models.User, code string) {
	n.async(func(ctx context.Context) {
		n.sendEmail(ctx, "password_reset", user.Email, utils.EmailData{
			ContactName: user.Name,
			Code:        code,
		})
	})
}
