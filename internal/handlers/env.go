package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vip4dfw/vip4dfw-backend/internal/middleware"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"github.com/vip4dfw/vip4dfw-backend/internal/services"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not found")

// Env carries the shared dependencies of every handler.
type Env struct {
	DB          *gorm.DB
	Cache       *services.Cache
	Hub         *services.Hub
	Broadcaster *services.Broadcaster
	Notifier    *services.Notifier
	Push        *services.PushSender
	Payments    services.PaymentGateway
	Storage     services.ImageStore
	Logger      *slog.Logger

	JWTSecret       string
	JWTTTL          time.Duration
	BaseURL         string
	DefaultTimezone string
	SecureCookies   bool

	// Now is swapped in tests.
	Now func() time.Time
}

func (env *Env) now() time.Time {
	if env.Now != nil {
		return env.Now()
	}
	return time.Now()
}

// findBooking fetches a booking by id.
func (env *Env) findBooking(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	err := env.DB.WithContext(ctx).First(&booking, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// loadBooking fetches the booking named by the :id path parameter.
func (env *Env) loadBooking(c *gin.Context) (*models.Booking, error) {
	return env.findBooking(c.Request.Context(), c.Param("id"))
}

// loadOwnedBooking is loadBooking restricted to the signed in owner. It
// writes the error response itself and returns nil when the caller should stop.
func (env *Env) loadOwnedBooking(c *gin.Context) *models.Booking {
	booking, err := env.loadBooking(c)
	if errors.Is(err, ErrNotFound) {
		c.JSON(404, gin.H{"error": "Booking not found"})
		return nil
	}
	if err != nil {
		env.Logger.Error("load booking", "booking_id", c.Param("id"), "error", err)
		c.JSON(500, gin.H{"error": "Failed to load booking"})
		return nil
	}

	userID, _ := middleware.CurrentUserID(c)
	if !booking.IsOwnedBy(userID) {
		c.JSON(403, gin.H{"error": "Unauthorized"})
		return nil
	}
	return booking
}
