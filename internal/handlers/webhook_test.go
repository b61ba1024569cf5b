package handlers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
)

func (te *testEnv) webhook(signature string, event map[string]any) *httptest.ResponseRecorder {
	te.t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(te.t, err)
	req := httptest.NewRequest("POST", "/api/stripe-webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	return te.serve(req)
}

func stripeEvent(id, eventType string, object map[string]any) map[string]any {
	return map[string]any{"id": id, "type": eventType, "data": map[string]any{"object": object}}
}

func TestStripeWebhookSignature(t *testing.T) {
	te := newTestEnv(t)
	event := stripeEvent("evt_1", "payment_intent.succeeded", map[string]any{"id": "pi_1"})

	w := te.webhook("", event)
	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "No stripe-signature header found", w.Body.String())

	assert.Equal(t, 400, te.webhook("t=1,v1=forged", event).Code)

	var recorded int64
	te.DB.Model(&models.WebhookEvent{}).Count(&recorded)
	assert.Zero(t, recorded)
}

func TestStripeWebhookTipSucceeded(t *testing.T) {
	te := newTestEnv(t)
	owner, token := te.createUser("avery@example.com", models.UserRoleCustomer)
	booking := te.createBooking(owner, models.BookingStatusCompleted, models.PaymentMethodCash)
	require.Equal(t, 200, te.do("POST", "/api/bookings/"+booking.ID+"/tip", map[string]any{"amount": 10}, token).Code)

	event := stripeEvent("evt_tip", "payment_intent.succeeded", map[string]any{
		"id":       "pi_tip_1",
		"metadata": map[string]any{"bookingId": booking.ID, "type": "tip"},
	})
	w := te.webhook(validSignature, event)
	require.Equal(t, 200, w.Code, w.Body.String())
	assert.Equal(t, "Received", w.Body.String())
	stored := te.reload(booking.ID)
	assert.True(t, stored.TipPaid())
	assert.Len(t, te.mailer.to("jordan@example.com"), 1)

	// Stripe retries deliver the same event id
	require.Equal(t, 200, te.webhook(validSignature, event).Code)
	assert.Len(t, te.mailer.to("jordan@example.com"), 1)

	var recorded int64
	te.DB.Model(&models.WebhookEvent{}).Where("id = ?", "evt_tip").Count(&recorded)
	assert.Equal(t, int64(1), recorded)
}

func TestStripeWebhookTipFailed(t *testing.T) {
	te := newTestEnv(t)
	owner, token := te.createUser("avery@example.com", models.UserRoleCustomer)
	booking := te.createBooking(owner, models.BookingStatusCompleted, models.PaymentMethodCash)
	require.Equal(t, 200, te.do("POST", "/api/bookings/"+booking.ID+"/tip", map[string]any{"amount": 10}, token).Code)

	w := te.webhook(validSignature, stripeEvent("evt_fail", "payment_intent.payment_failed", map[string]any{
		"id":       "pi_tip_1",
		"metadata": map[string]any{"bookingId": booking.ID, "type": "tip"},
	}))
	require.Equal(t, 200, w.Code)

	stored := te.reload(booking.ID)
	require.NotNil(t, stored.TipStatus)
	assert.Equal(t, models.TipStatusFailed, *stored.TipStatus)
}

func TestStripeWebhookLateFailureKeepsPaidTip(t *testing.T) {
	te := newTestEnv(t)
	owner, token := te.createUser("avery@example.com", models.UserRoleCustomer)
	booking := te.createBooking(owner, models.BookingStatusCompleted, models.PaymentMethodCash)
	require.Equal(t, 200, te.do("POST", "/api/bookings/"+booking.ID+"/tip", map[string]any{"amount": 10}, token).Code)

	intent := map[string]any{
		"id":       "pi_tip_1",
		"metadata": map[string]any{"bookingId": booking.ID, "type": "tip"},
	}
	require.Equal(t, 200, te.webhook(validSignature, stripeEvent("evt_ok", "payment_intent.succeeded", intent)).Code)

	w := te.webhook(validSignature, stripeEvent("evt_late", "payment_intent.payment_failed", intent))
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "Received", w.Body.String())

	stored := te.reload(booking.ID)
	require.NotNil(t, stored.TipStatus)
	assert.Equal(t, models.TipStatusPaid, *stored.TipStatus)
	assert.Len(t, te.mailer.to("jordan@example.com"), 1)

	// a paid tip cannot be cancelled either
	assert.Equal(t, 409, te.do("POST", "/api/bookings/"+booking.ID+"/tip/cancel", nil, token).Code)
}

func TestStripeWebhookCheckoutCompleted(t *testing.T) {
	te := newTestEnv(t)
	owner, _ := te.createUser("avery@example.com", models.UserRoleCustomer)
	booking := te.createBooking(owner, models.BookingStatusCompleted, models.PaymentMethodCard)

	w := te.webhook(validSignature, stripeEvent("evt_cs", "checkout.session.completed", map[string]any{
		"id":             "cs_live_9",
		"payment_status": "paid",
		"payment_intent": "pi_fare_9",
		"metadata":       map[string]any{"booking_id": booking.ID, "user_id": "1", "type": "fare"},
	}))
	require.Equal(t, 200, w.Code, w.Body.String())

	stored := te.reload(booking.ID)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, "cs_live_9", stored.StripeCheckoutSessionID)
	assert.Equal(t, "pi_fare_9", stored.StripePaymentIntentID)

	receipts := te.mailer.to("jordan@example.com")
	require.Len(t, receipts, 1)
	assert.Contains(t, receipts[0].Subject, "Payment Receipt")
	assert.Contains(t, receipts[0].HTML, "$85.00")
}

func TestStripeWebhookCheckoutForCashBooking(t *testing.T) {
	te := newTestEnv(t)
	owner, _ := te.createUser("avery@example.com", models.UserRoleCustomer)
	booking := te.createBooking(owner, models.BookingStatusCompleted, models.PaymentMethodCash)

	w := te.webhook(validSignature, stripeEvent("evt_cash_cs", "checkout.session.completed", map[string]any{
		"id":             "cs_cash",
		"payment_status": "paid",
		"metadata":       map[string]any{"booking_id": booking.ID},
	}))
	require.Equal(t, 200, w.Code)
	assert.Equal(t, models.PaymentStatusPaid, te.reload(booking.ID).PaymentStatus)

	receipts := te.mailer.to("jordan@example.com")
	require.Len(t, receipts, 1)
	assert.Contains(t, receipts[0].Subject, "Payment Receipt")
}

func TestStripeWebhookCheckoutAsync(t *testing.T) {
	te := newTestEnv(t)
	booking := te.createBooking(nil, models.BookingStatusCompleted, models.PaymentMethodCard)
	session := func(status string) map[string]any {
		return map[string]any{
			"id":             "cs_async",
			"payment_status": status,
			"payment_intent": map[string]any{"id": "pi_async"},
			"metadata":       map[string]any{"booking_id": booking.ID},
		}
	}

	require.Equal(t, 200, te.webhook(validSignature, stripeEvent("evt_a1", "checkout.session.completed", session("unpaid"))).Code)
	assert.Equal(t, models.PaymentStatusUnpaid, te.reload(booking.ID).PaymentStatus)

	require.Equal(t, 200, te.webhook(validSignature, stripeEvent("evt_a2", "checkout.session.async_payment_failed", session("unpaid"))).Code)
	assert.Equal(t, models.PaymentStatusFailed, te.reload(booking.ID).PaymentStatus)

	require.Equal(t, 200, te.webhook(validSignature, stripeEvent("evt_a3", "checkout.session.async_payment_succeeded", session("paid"))).Code)
	stored := te.reload(booking.ID)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, "pi_async", stored.StripePaymentIntentID)
}

func TestStripeWebhookIgnoredEvents(t *testing.T) {
	te := newTestEnv(t)

	tests := []map[string]any{
		stripeEvent("evt_x1", "customer.created", map[string]any{"id": "cus_1"}),
		stripeEvent("evt_x2", "payment_intent.succeeded", map[string]any{"id": "pi_no_meta"}),
		stripeEvent("evt_x3", "checkout.session.completed", map[string]any{"id": "cs_no_meta", "payment_status": "paid"}),
		stripeEvent("evt_x4", "payment_intent.succeeded", map[string]any{
			"id":       "pi_unknown",
			"metadata": map[string]any{"bookingId": "missing", "type": "tip"},
		}),
	}
	for _, event := range tests {
		w := te.webhook(validSignature, event)
		assert.Equal(t, 200, w.Code, event["type"])
		assert.Equal(t, "Received", w.Body.String())
	}
	assert.Empty(t, te.mailer.emails())
}

func TestStripeWebhookConcurrentDeliveries(t *testing.T) {
	te := newTestEnv(t)
	owner, _ := te.createUser("avery@example.com", models.UserRoleCustomer)
	booking := te.createBooking(owner, models.BookingStatusCompleted, models.PaymentMethodCard)

	payload, err := json.Marshal(stripeEvent("evt_twice", "checkout.session.completed", map[string]any{
		"id":             "cs_twice",
		"payment_status": "paid",
		"metadata":       map[string]any{"booking_id": booking.ID},
	}))
	require.NoError(t, err)

	codes := make([]int, 2)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest("POST", "/api/stripe-webhook", bytes.NewReader(payload))
			req.Header.Set("Stripe-Signature", validSignature)
			w := httptest.NewRecorder()
			te.router.ServeHTTP(w, req)
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()
	te.Notifier.Wait()

	assert.Equal(t, []int{200, 200}, codes)
	assert.Len(t, te.mailer.to("jordan@example.com"), 1)
	assert.Equal(t, models.PaymentStatusPaid, te.reload(booking.ID).PaymentStatus)
}

func TestStripeWebhookFailureAllowsRetry(t *testing.T) {
	te := newTestEnv(t)
	booking := te.createBooking(nil, models.BookingStatusCompleted, models.PaymentMethodCard)

	broken := map[string]any{"id": "evt_retry", "type": "checkout.session.completed", "data": map[string]any{"object": "garbage"}}
	assert.Equal(t, 500, te.webhook(validSignature, broken).Code)

	var recorded int64
	te.DB.Model(&models.WebhookEvent{}).Where("id = ?", "evt_retry").Count(&recorded)
	assert.Zero(t, recorded)

	w := te.webhook(validSignature, stripeEvent("evt_retry", "checkout.session.completed", map[string]any{
		"id":             "cs_retry",
		"payment_status": "paid",
		"metadata":       map[string]any{"booking_id": booking.ID},
	}))
	require.Equal(t, 200, w.Code)
	assert.Equal(t, models.PaymentStatusPaid, te.reload(booking.ID).PaymentStatus)
}

func TestStripeObjectPaymentIntentID(t *testing.T) {
	assert.Equal(t, "pi_1", stripeObject{PaymentIntent: json.RawMessage(`"pi_1"`)}.paymentIntentID())
	assert.Equal(t, "pi_2", stripeObject{PaymentIntent: json.RawMessage(`{"id":"pi_2"}`)}.paymentIntentID())
	assert.Equal(t, "", stripeObject{PaymentIntent: json.RawMessage(`null`)}.paymentIntentID())
	assert.Equal(t, "", stripeObject{}.paymentIntentID())
}
