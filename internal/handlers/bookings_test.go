package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"github.com/vip4dfw/vip4dfw-backend/internal/services"
)

func bookingPayload() map[string]any {
	return map[string]any{
		"pickup-location":  "DFW International Airport",
		"dropoff-location": "2201 N Field St, Dallas",
		"date-time":        "2025-06-02T10:00",
		"passengers":       "2",
		"contact-name":     "Avery Stone",
		"contact-email":    "avery@example.com",
		"contact-phone":    "214-555-0199",
		"payment-method":   "cash",
		"user-timezone":    "America/Chicago",
	}
}

func TestCreateBookingGuestCash(t *testing.T) {
	te := newTestEnv(t)

	w := te.do("POST", "/api/bookings", bookingPayload(), "")
	require.Equal(t, 201, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, msgCashBooking, body["message"])
	assert.True(t, strings.HasPrefix(body["redirectUrl"].(string), "/booking-success-guest?booking_id="))

	booking := body["booking"].(map[string]any)
	assert.Equal(t, models.ServiceTypeAirportTransfer, booking["serviceType"])
	assert.Equal(t, float64(8500), booking["totalPriceCents"])
	assert.Equal(t, float64(8500), booking["flatRateCents"])
	assert.Equal(t, "pending", booking["status"])
	assert.Equal(t, "pending_cash", booking["paymentStatus"])
	assert.Nil(t, booking["userId"])

	stored := te.reload(booking["id"].(string))
	assert.Equal(t, time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC), stored.PickupTime.UTC())
	assert.Equal(t, 2, stored.NumPassengers)

	require.Len(t, te.mailer.to(testAdminEmail), 1)
	assert.Contains(t, te.mailer.to(testAdminEmail)[0].Subject, "New Booking Alert")
	require.Len(t, te.mailer.to("avery@example.com"), 1)
	assert.Contains(t, te.events.types(), services.EventBookingCreated)
}

func TestCreateBookingSignedInCardForm(t *testing.T) {
	te := newTestEnv(t)
	user, token := te.createUser("avery@example.com", models.UserRoleCustomer)

	form := url.Values{}
	for k, v := range bookingPayload() {
		form.Set(k, v.(string))
	}
	form.Set("pickup-location", "Uptown Dallas")
	form.Set("dropoff-location", "Deep Ellum")
	form.Set("payment-method", "card")

	req := httptest.NewRequest("POST", "/api/bookings", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	w := te.serve(req)
	require.Equal(t, 201, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, msgCardBooking, body["message"])
	assert.True(t, strings.HasPrefix(body["redirectUrl"].(string), "/dashboard?booking_success=true"))

	booking := body["booking"].(map[string]any)
	assert.Equal(t, models.ServiceTypeCityRide, booking["serviceType"])
	assert.Equal(t, float64(10000), booking["totalPriceCents"])
	assert.Nil(t, booking["flatRateCents"])
	assert.Equal(t, "unpaid", booking["paymentStatus"])
	assert.Equal(t, float64(user.ID), booking["userId"])
}

func TestCreateBookingValidation(t *testing.T) {
	te := newTestEnv(t)

	tests := []struct {
		name    string
		mutate  func(map[string]any)
		message string
	}{
		{"missing pickup", func(p map[string]any) { delete(p, "pickup-location") }, msgBookingFieldsRequired},
		{"zero passengers", func(p map[string]any) { p["passengers"] = "0" }, msgBookingFieldsRequired},
		{"unknown payment method", func(p map[string]any) { p["payment-method"] = "crypto" }, msgBookingFieldsRequired},
		{"bad email", func(p map[string]any) { p["contact-email"] = "nobody" }, msgBookingFieldsRequired},
		{"bad date", func(p map[string]any) { p["date-time"] = "next tuesday" }, msgInvalidDateTime},
		{"past pickup", func(p map[string]any) { p["date-time"] = "2025-05-30T10:00" }, "Pickup time must be in the future."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := bookingPayload()
			tt.mutate(payload)
			w := te.do("POST", "/api/bookings", payload, "")
			require.Equal(t, 400, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.message, body["message"])
		})
	}

	var count int64
	te.DB.Model(&models.Booking{}).Count(&count)
	assert.Zero(t, count)
}

func TestGetUserBookingsOnlyOwn(t *testing.T) {
	te := newTestEnv(t)
	user, token := te.createUser("avery@example.com", models.UserRoleCustomer)
	other, _ := te.createUser("other@example.com", models.UserRoleCustomer)

	early := te.createBooking(user, models.BookingStatusPending, models.PaymentMethodCash)
	late := te.createBooking(user, models.BookingStatusPending, models.PaymentMethodCash)
	te.DB.Model(late).Update("pickup_time", testNow.Add(96*time.Hour))
	te.createBooking(other, models.BookingStatusPending, models.PaymentMethodCash)

	w := te.do("GET", "/api/bookings", nil, token)
	require.Equal(t, 200, w.Code)
	bookings := decode(t, w)["bookings"].([]any)
	require.Len(t, bookings, 2)
	assert.Equal(t, late.ID, bookings[0].(map[string]any)["id"])
	assert.Equal(t, early.ID, bookings[1].(map[string]any)["id"])

	assert.Equal(t, 401, te.do("GET", "/api/bookings", nil, "").Code)
}

func TestGetBookingViews(t *testing.T) {
	te := newTestEnv(t)
	owner, ownerToken := te.createUser("avery@example.com", models.UserRoleCustomer)
	_, strangerToken := te.createUser("stranger@example.com", models.UserRoleCustomer)
	_, adminToken := te.createUser("admin@example.com", models.UserRoleAdmin)
	booking := te.createBooking(owner, models.BookingStatusPending, models.PaymentMethodCash)

	for _, token := range []string{ownerToken, adminToken} {
		w := te.do("GET", "/api/bookings/"+booking.ID, nil, token)
		require.Equal(t, 200, w.Code)
		view := decode(t, w)["booking"].(map[string]any)
		assert.Equal(t, "jordan@example.com", view["contactEmail"])
	}

	for _, token := range []string{strangerToken, ""} {
		w := te.do("GET", "/api/bookings/"+booking.ID, nil, token)
		require.Equal(t, 200, w.Code)
		view := decode(t, w)["booking"].(map[string]any)
		assert.NotContains(t, view, "contactEmail")
		assert.Equal(t, "pending", view["status"])
	}

	assert.Equal(t, 404, te.do("GET", "/api/bookings/does-not-exist", nil, "").Code)
}

func TestTrackBookingDriverLocation(t *testing.T) {
	te := newTestEnv(t)
	booking := te.createBooking(nil, models.BookingStatusConfirmed, models.PaymentMethodCash)

	w := te.do("GET", "/api/bookings/"+booking.ID+"/track", nil, "")
	require.Equal(t, 200, w.Code)
	body := decode(t, w)
	assert.Nil(t, body["driverLocation"])
	assert.Equal(t, float64(trackPollIntervalSeconds), body["pollIntervalSeconds"])

	loc := services.DriverLocation{Latitude: 32.8998, Longitude: -97.0403, UpdatedAt: testNow}
	require.NoError(t, te.Cache.SetDriverLocation(context.Background(), booking.ID, loc))

	body = decode(t, te.do("GET", "/api/bookings/"+booking.ID+"/track", nil, ""))
	driver := body["driverLocation"].(map[string]any)
	assert.InDelta(t, 32.8998, driver["latitude"], 1e-9)
	assert.InDelta(t, -97.0403, driver["longitude"], 1e-9)

	// location is hidden once the ride is no longer confirmed
	te.DB.Model(booking).Update("status", models.BookingStatusCompleted)
	body = decode(t, te.do("GET", "/api/bookings/"+booking.ID+"/track", nil, ""))
	assert.Nil(t, body["driverLocation"])

	assert.Equal(t, 404, te.do("GET", "/api/bookings/missing/track", nil, "").Code)
}

func TestCancelBooking(t *testing.T) {
	te := newTestEnv(t)
	owner, token := te.createUser("avery@example.com", models.UserRoleCustomer)
	_, strangerToken := te.createUser("stranger@example.com", models.UserRoleCustomer)

	pending := te.createBooking(owner, models.BookingStatusPending, models.PaymentMethodCash)
	w := te.do("POST", "/api/bookings/"+pending.ID+"/cancel", map[string]any{}, token)
	assert.Equal(t, 409, w.Code)

	confirmed := te.createBooking(owner, models.BookingStatusConfirmed, models.PaymentMethodCash)
	assert.Equal(t, 403, te.do("POST", "/api/bookings/"+confirmed.ID+"/cancel", map[string]any{}, strangerToken).Code)

	w = te.do("POST", "/api/bookings/"+confirmed.ID+"/cancel", map[string]any{"reason": "Flight delayed"}, token)
	require.Equal(t, 200, w.Code, w.Body.String())

	stored := te.reload(confirmed.ID)
	assert.Equal(t, models.BookingStatusCancelled, stored.Status)
	assert.Equal(t, "Flight delayed", stored.CancellationReason)
	assert.NotNil(t, stored.CancelledAt)

	adminMail := te.mailer.to(testAdminEmail)
	require.Len(t, adminMail, 1)
	assert.Contains(t, adminMail[0].HTML, "Flight delayed")
	assert.Contains(t, te.events.types(), services.EventBookingStatusChanged)

	// a second cancel is an invalid transition
	assert.Equal(t, 409, te.do("POST", "/api/bookings/"+confirmed.ID+"/cancel", map[string]any{}, token).Code)
}

func TestPayBooking(t *testing.T) {
	te := newTestEnv(t)
	owner, token := te.createUser("avery@example.com", models.UserRoleCustomer)

	pending := te.createBooking(owner, models.BookingStatusPending, models.PaymentMethodCard)
	assert.Equal(t, 409, te.do("POST", "/api/bookings/"+pending.ID+"/pay", nil, token).Code)

	completed := te.createBooking(owner, models.BookingStatusCompleted, models.PaymentMethodCard)
	w := te.do("POST", "/api/bookings/"+completed.ID+"/pay", nil, token)
	require.Equal(t, 200, w.Code, w.Body.String())
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", decode(t, w)["redirectUrl"])

	require.Len(t, te.gateway.checkouts, 1)
	req := te.gateway.checkouts[0]
	assert.Equal(t, completed.ID, req.BookingID)
	assert.Equal(t, owner.ID, req.UserID)
	assert.Equal(t, int64(8500), req.AmountCents)
	assert.Equal(t, "airport transfer from DFW Airport Terminal D to 1500 Main St, Dallas", req.ProductName)
	assert.True(t, strings.HasPrefix(req.Description, "For 3 passengers on "))
	assert.Equal(t, "cs_test_1", te.reload(completed.ID).StripeCheckoutSessionID)

	te.gateway.checkoutErr = errors.New("stripe down")
	w = te.do("POST", "/api/bookings/"+completed.ID+"/pay", nil, token)
	assert.Equal(t, 502, w.Code)
	assert.Equal(t, models.PaymentStatusFailed, te.reload(completed.ID).PaymentStatus)

	te.gateway.checkoutErr = nil
	te.gateway.disabled = true
	assert.Equal(t, 503, te.do("POST", "/api/bookings/"+completed.ID+"/pay", nil, token).Code)

	te.DB.Model(completed).Update("payment_status", models.PaymentStatusPaid)
	assert.Equal(t, 409, te.do("POST", "/api/bookings/"+completed.ID+"/pay", nil, token).Code)
}

func TestHealthz(t *testing.T) {
	te := newTestEnv(t)

	w := te.do("GET", "/healthz", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, "ok", body["redis"])

	te.redis.Close()
	w = te.do("GET", "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
