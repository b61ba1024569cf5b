package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusDeclined  BookingStatus = "declined"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// AllBookingStatuses is the order the admin dashboard lists filters in.
var AllBookingStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusConfirmed,
	BookingStatusDeclined,
	BookingStatusCompleted,
	BookingStatusCancelled,
}

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusDeclined},
	BookingStatusConfirmed: {BookingStatusCompleted, BookingStatusCancelled},
}

var (
	// ErrInvalidTransition is returned when a status change is not part of the lifecycle.
	ErrInvalidTransition = errors.New("invalid booking status transition")
	// ErrStaleBooking means the row changed status between read and write.
	ErrStaleBooking = errors.New("booking was modified concurrently")
)

func (s BookingStatus) IsValid() bool {
	for _, status := range AllBookingStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	return len(bookingTransitions[s]) == 0
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusUnpaid      PaymentStatus = "unpaid"
	PaymentStatusPendingCash PaymentStatus = "pending_cash"
	PaymentStatusPaid        PaymentStatus = "paid"
	PaymentStatusFailed      PaymentStatus = "failed"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusUnpaid, PaymentStatusPendingCash, PaymentStatusPaid, PaymentStatusFailed:
		return true
	}
	return false
}

// Label is the text the dashboards show for a payment status.
func (s PaymentStatus) Label() string {
	switch s {
	case PaymentStatusPendingCash:
		return "Cash on Arrival"
	case PaymentStatusPaid:
		return "Credit Card (Paid)"
	case PaymentStatusUnpaid:
		return "unpaid"
	case PaymentStatusFailed:
		return "failed"
	}
	return "N/A"
}

type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "cash"
	PaymentMethodCard PaymentMethod = "card"
)

func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodCash || m == PaymentMethodCard
}

// InitialPaymentStatus is the payment status a new booking starts with.
func (m PaymentMethod) InitialPaymentStatus() PaymentStatus {
	if m == PaymentMethodCash {
		return PaymentStatusPendingCash
	}
	return PaymentStatusUnpaid
}

type TipStatus string

const (
	TipStatusPending   TipStatus = "pending"
	TipStatusPaid      TipStatus = "paid"
	TipStatusFailed    TipStatus = "failed"
	TipStatusCancelled TipStatus = "cancelled"
)

const (
	ServiceTypeAirportTransfer = "airport_transfer"
	ServiceTypeCityRide        = "city_ride"
)

type Booking struct {
	ID                      string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID                  *uint         `json:"userId" gorm:"index"`
	User                    *User         `json:"-" gorm:"foreignKey:UserID"`
	PickupLocation          string        `json:"pickupLocation" gorm:"not null"`
	DropoffLocation         string        `json:"dropoffLocation" gorm:"not null"`
	PickupTime              time.Time     `json:"pickupTime" gorm:"not null;index"`
	Timezone                string        `json:"timezone"`
	NumPassengers           int           `json:"numPassengers" gorm:"not null"`
	ContactName             string        `json:"contactName" gorm:"not null"`
	ContactEmail            string        `json:"contactEmail" gorm:"not null"`
	ContactPhone            string        `json:"contactPhone" gorm:"not null"`
	CustomMessage           string        `json:"customMessage,omitempty"`
	ServiceType             string        `json:"serviceType" gorm:"not null"`
	FlatRateCents           *int64        `json:"flatRateCents"`
	TotalPriceCents         int64         `json:"totalPriceCents" gorm:"not null"`
	PaymentMethod           PaymentMethod `json:"paymentMethod" gorm:"not null"`
	Status                  BookingStatus `json:"status" gorm:"not null;default:pending;index"`
	PaymentStatus           PaymentStatus `json:"paymentStatus" gorm:"not null;default:unpaid"`
	StripeCheckoutSessionID string        `json:"-"`
	StripePaymentIntentID   string        `json:"-"`
	CancellationReason      string        `json:"cancellationReason,omitempty"`
	DriverLatitude          *float64      `json:"driverLatitude"`
	DriverLongitude         *float64      `json:"driverLongitude"`
	DriverLocationUpdatedAt *time.Time    `json:"driverLocationUpdatedAt,omitempty"`
	ReviewRating            *int          `json:"reviewRating"`
	ReviewMessage           string        `json:"reviewMessage,omitempty"`
	ReviewIsPublished       bool          `json:"reviewIsPublished" gorm:"not null;default:false"`
	ReviewedAt              *time.Time    `json:"reviewedAt,omitempty"`
	TipAmountCents          *int64        `json:"tipAmountCents"`
	TipStatus               *TipStatus    `json:"tipStatus"`
	TipPaymentIntentID      string        `json:"-"`
	CompletedAt             *time.Time    `json:"completedAt,omitempty"`
	CancelledAt             *time.Time    `json:"cancelledAt,omitempty"`
	CreatedAt               time.Time     `json:"createdAt"`
	UpdatedAt               time.Time     `json:"updatedAt"`
}

// TableName specifies the table name
func (Booking) TableName() string {
	return "bookings"
}

// BeforeCreate assigns a random id so tracking links cannot be guessed.
func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

func (b *Booking) IsOwnedBy(userID uint) bool {
	return b.UserID != nil && *b.UserID == userID
}

func (b *Booking) HasReview() bool {
	return b.ReviewRating != nil
}

func (b *Booking) TipPaid() bool {
	return b.TipStatus != nil && *b.TipStatus == TipStatusPaid
}

// HasDriverLocation reports whether a driver position should be shown on the tracking map.
func (b *Booking) HasDriverLocation() bool {
	return b.Status == BookingStatusConfirmed && b.DriverLatitude != nil && b.DriverLongitude != nil
}

// Transition moves the booking to next. The write only matches while the
// row still holds the status that was read, so two concurrent admin
// actions cannot both win. Extra columns are written in the same UPDATE.
func (b *Booking) Transition(db *gorm.DB, next BookingStatus, extra map[string]any) error {
	if !b.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	updates := map[string]any{"status": next, "updated_at": now}
	switch next {
	case BookingStatusCompleted:
		updates["completed_at"] = now
	case BookingStatusCancelled:
		updates["cancelled_at"] = now
	}
	for k, v := range extra {
		updates[k] = v
	}

	res := db.Model(&Booking{}).
		Where("id = ? AND status = ?", b.ID, b.Status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleBooking
	}

	b.Status = next
	b.UpdatedAt = now
	switch next {
	case BookingStatusCompleted:
		b.CompletedAt = &now
	case BookingStatusCancelled:
		b.CancelledAt = &now
	}
	return nil
}
