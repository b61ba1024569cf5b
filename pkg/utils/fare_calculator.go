package utils

import (
	"fmt"
	"strings"

	"github.com/vip4dfw/vip4dfw-backend/internal/models"
)

const (
	// Flat rates in US cents
	AirportTransferRateCents int64 = 8500
	CityRideRateCents        int64 = 10000
)

// Fare is the result of classifying a trip.
type Fare struct {
	ServiceType   string `json:"serviceType"`
	FlatRateCents *int64 `json:"flatRateCents"`
	TotalCents    int64  `json:"totalCents"`
}

func isDFW(location string) bool {
	return strings.Contains(strings.ToLower(location), "dfw")
}

func isLoveField(location string) bool {
	return strings.Contains(strings.ToLower(location), "dallas love field")
}

// IsAirportTransfer is true when exactly one end of the trip is DFW, or
// exactly one end is Dallas Love Field.
func IsAirportTransfer(pickup, dropoff string) bool {
	return isDFW(pickup) != isDFW(dropoff) || isLoveField(pickup) != isLoveField(dropoff)
}

// ClassifyFare picks the service type and flat-rate price for a trip.
func ClassifyFare(pickup, dropoff string) Fare {
	if IsAirportTransfer(pickup, dropoff) {
		rate := AirportTransferRateCents
		return Fare{
			ServiceType:   models.ServiceTypeAirportTransfer,
			FlatRateCents: &rate,
			TotalCents:    rate,
		}
	}
	return Fare{
		ServiceType: models.ServiceTypeCityRide,
		TotalCents:  CityRideRateCents,
	}
}

// FormatCents renders an amount of cents as dollars, e.g. "$85.00".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// DollarsToCents converts a dollar amount as entered in a form.
func DollarsToCents(dollars float64) int64 {
	if dollars < 0 {
		return -int64(-dollars*100 + 0.5)
	}
	return int64(dollars*100 + 0.5)
}

// ServiceTypeLabel turns "airport_transfer" into "airport transfer".
func ServiceTypeLabel(serviceType string) string {
	return strings.ReplaceAll(serviceType, "_", " ")
}
