package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
)

func TestSubmitReview(t *testing.T) {
	te := newTestEnv(t)
	owner, token := te.createUser("avery@example.com", models.UserRoleCustomer)
	_, strangerToken := te.createUser("stranger@example.com", models.UserRoleCustomer)

	confirmed := te.createBooking(owner, models.BookingStatusConfirmed, models.PaymentMethodCash)
	assert.Equal(t, 409, te.do("POST", "/api/bookings/"+confirmed.ID+"/review", map[string]any{"rating": 5}, token).Code)

	completed := te.createBooking(owner, models.BookingStatusCompleted, models.PaymentMethodCash)
	path := "/api/bookings/" + completed.ID + "/review"

	assert.Equal(t, 400, te.do("POST", path, map[string]any{"rating": 0}, token).Code)
	assert.Equal(t, 400, te.do("POST", path, map[string]any{"rating": 6}, token).Code)
	assert.Equal(t, 403, te.do("POST", path, map[string]any{"rating": 5}, strangerToken).Code)

	w := te.do("POST", path, map[string]any{"rating": 5, "message": "  Smooth ride, great driver!  "}, token)
	require.Equal(t, 201, w.Code, w.Body.String())

	stored := te.reload(completed.ID)
	require.NotNil(t, stored.ReviewRating)
	assert.Equal(t, 5, *stored.ReviewRating)
	assert.Equal(t, "Smooth ride, great driver!", stored.ReviewMessage)
	assert.False(t, stored.ReviewIsPublished)
	assert.NotNil(t, stored.ReviewedAt)

	assert.Equal(t, 409, te.do("POST", path, map[string]any{"rating": 3}, token).Code)
	assert.Equal(t, 5, *te.reload(completed.ID).ReviewRating)
}

func TestPublishedReviewsAndToggle(t *testing.T) {
	te := newTestEnv(t)
	owner, token := te.createUser("avery@example.com", models.UserRoleCustomer)
	_, adminToken := te.createUser("admin@example.com", models.UserRoleAdmin)
	booking := te.createBooking(owner, models.BookingStatusCompleted, models.PaymentMethodCash)

	require.Equal(t, 201, te.do("POST", "/api/bookings/"+booking.ID+"/review", map[string]any{"rating": 4, "message": "Very nice"}, token).Code)

	w := te.do("GET", "/api/reviews", nil, "")
	require.Equal(t, 200, w.Code)
	assert.Empty(t, decode(t, w)["reviews"])
	// empty list is cached until a toggle invalidates it
	assert.True(t, te.redis.Exists("reviews:published"))

	toggle := "/api/admin/reviews/" + booking.ID + "/toggle"
	w = te.do("POST", toggle, nil, adminToken)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, true, decode(t, w)["isPublished"])
	assert.False(t, te.redis.Exists("reviews:published"))

	reviews := decode(t, te.do("GET", "/api/reviews", nil, ""))["reviews"].([]any)
	require.Len(t, reviews, 1)
	review := reviews[0].(map[string]any)
	assert.Equal(t, float64(4), review["rating"])
	assert.Equal(t, "Very nice", review["message"])
	assert.Equal(t, "Jordan", review["name"])

	// served from cache on the second read
	reviews = decode(t, te.do("GET", "/api/reviews", nil, ""))["reviews"].([]any)
	assert.Len(t, reviews, 1)

	w = te.do("POST", toggle, nil, adminToken)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, false, decode(t, w)["isPublished"])
	assert.Empty(t, decode(t, te.do("GET", "/api/reviews", nil, ""))["reviews"])

	unreviewed := te.createBooking(owner, models.BookingStatusCompleted, models.PaymentMethodCash)
	assert.Equal(t, 409, te.do("POST", "/api/admin/reviews/"+unreviewed.ID+"/toggle", nil, adminToken).Code)
}

func TestFirstName(t *testing.T) {
	assert.Equal(t, "Avery", firstName("Avery  Stone"))
	assert.Equal(t, "Guest", firstName("   "))
}
