package database

import (
	"fmt"

	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"gorm.io/gorm"
)

// Models is every table the service owns, in creation order.
var Models = []any{
	&models.User{},
	&models.Booking{},
	&models.OTP{},
	&models.WebhookEvent{},
	&models.Vehicle{},
	&models.DeviceToken{},
}

type checkConstraint struct {
	table string
	name  string
	expr  string
}

var checkConstraints = []checkConstraint{
	{"users", "users_role_check", "role IN ('customer', 'admin')"},
	{"bookings", "bookings_status_check", "status IN ('pending', 'confirmed', 'declined', 'completed', 'cancelled')"},
	{"bookings", "bookings_payment_status_check", "payment_status IN ('unpaid', 'pending_cash', 'paid', 'failed')"},
	{"bookings", "bookings_payment_method_check", "payment_method IN ('cash', 'card')"},
	{"bookings", "bookings_tip_status_check", "tip_status IS NULL OR tip_status IN ('pending', 'paid', 'failed', 'cancelled')"},
	{"bookings", "bookings_review_rating_check", "review_rating IS NULL OR review_rating BETWEEN 1 AND 5"},
	{"bookings", "bookings_num_passengers_check", "num_passengers > 0"},
}

func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// SQLite test databases cannot alter constraints in place.
	if db.Dialector.Name() != "postgres" {
		return nil
	}

	for _, c := range checkConstraints {
		drop := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", c.table, c.name)
		if err := db.Exec(drop).Error; err != nil {
			return fmt.Errorf("drop %s: %w", c.name, err)
		}
		add := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s)", c.table, c.name, c.expr)
		if err := db.Exec(add).Error; err != nil {
			return fmt.Errorf("add %s: %w", c.name, err)
		}
	}

	return nil
}

// SeedFleet inserts the default vehicles when the fleet table is empty.
func SeedFleet(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Vehicle{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	fleet := make([]models.Vehicle, len(models.DefaultFleet))
	copy(fleet, models.DefaultFleet)
	return db.Create(&fleet).Error
}
