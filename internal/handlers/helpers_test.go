package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/vip4dfw/vip4dfw-backend/internal/database"
	"github.com/vip4dfw/vip4dfw-backend/internal/middleware"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"github.com/vip4dfw/vip4dfw-backend/internal/services"
	"github.com/vip4dfw/vip4dfw-backend/pkg/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testSecret     = "handler-test-secret"
	testAdminEmail = "dispatch@vip4dfw.test"
	validSignature = "t=1,v1=valid"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeMailer struct {
	mu   sync.Mutex
	sent []utils.Email
}

func (m *fakeMailer) Send(_ context.Context, email utils.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, email)
	return nil
}

func (m *fakeMailer) emails() []utils.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]utils.Email(nil), m.sent...)
}

func (m *fakeMailer) to(addr string) []utils.Email {
	var out []utils.Email
	for _, e := range m.emails() {
		if e.To == addr {
			out = append(out, e)
		}
	}
	return out
}

type fakeEvents struct {
	mu     sync.Mutex
	events []services.Event
}

func (f *fakeEvents) Publish(_ context.Context, event services.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) Close() error { return nil }

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

// fakeGateway stands in for Stripe. Webhook payloads are plain event JSON
// accepted only with validSignature.
type fakeGateway struct {
	mu          sync.Mutex
	disabled    bool
	checkoutErr error
	checkouts   []services.CheckoutRequest
	tipIntents  map[string]int64
	intents     map[string]*services.PaymentIntentInfo
	cancelled   []string
	nextID      int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		tipIntents: map[string]int64{},
		intents:    map[string]*services.PaymentIntentInfo{},
	}
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req services.CheckoutRequest) (*services.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disabled {
		return nil, services.ErrPaymentsDisabled
	}
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	g.checkouts = append(g.checkouts, req)
	return &services.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func (g *fakeGateway) CreateTipIntent(_ context.Context, bookingID string, amountCents int64) (*services.TipIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disabled {
		return nil, services.ErrPaymentsDisabled
	}
	g.nextID++
	id := fmt.Sprintf("pi_tip_%d", g.nextID)
	g.tipIntents[id] = amountCents
	g.intents[id] = &services.PaymentIntentInfo{
		ID:          id,
		Status:      "requires_payment_method",
		AmountCents: amountCents,
		Metadata:    map[string]string{"bookingId": bookingID, "type": "tip"},
	}
	return &services.TipIntent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (g *fakeGateway) GetPaymentIntent(_ context.Context, id string) (*services.PaymentIntentInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[id]
	if !ok {
		return nil, errors.New("no such payment intent")
	}
	copied := *intent
	return &copied, nil
}

func (g *fakeGateway) CancelPaymentIntent(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, id)
	return nil
}

func (g *fakeGateway) ParseWebhook(payload []byte, signature string) (services.StripeEvent, error) {
	if signature != validSignature {
		return services.StripeEvent{}, errors.New("signature mismatch")
	}
	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return services.StripeEvent{}, err
	}
	return services.StripeEvent{ID: event.ID, Type: event.Type, Raw: event.Data.Object}, nil
}

func (g *fakeGateway) succeed(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[id].Status = "succeeded"
}

type testEnv struct {
	*Env
	t       *testing.T
	mailer  *fakeMailer
	events  *fakeEvents
	gateway *fakeGateway
	redis   *miniredis.Miniredis
	router  *gin.Engine
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.RunMigrations(db))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := openTestDB(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := services.NewCache(client)

	hub := services.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	mailer := &fakeMailer{}
	events := &fakeEvents{}
	gateway := newFakeGateway()
	notifier := services.NewNotifier(services.NotifierOptions{
		DB:         db,
		Mailer:     mailer,
		Events:     events,
		Logger:     log,
		AdminEmail: testAdminEmail,
		BaseURL:    "https://vip4dfw.test",
	})

	storage, err := services.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	env := &Env{
		DB:              db,
		Cache:           cache,
		Hub:             hub,
		Broadcaster:     services.NewBroadcaster(hub, cache, log),
		Notifier:        notifier,
		Payments:        gateway,
		Storage:         storage,
		Logger:          log,
		JWTSecret:       testSecret,
		JWTTTL:          time.Hour,
		BaseURL:         "https://vip4dfw.test",
		DefaultTimezone: utils.DefaultTimezone,
		Now:             func() time.Time { return testNow },
	}

	te := &testEnv{Env: env, t: t, mailer: mailer, events: events, gateway: gateway, redis: mr}
	te.router = te.routes()
	return te
}

func (te *testEnv) routes() *gin.Engine {
	env := te.Env
	r := gin.New()
	auth := middleware.AuthMiddleware(testSecret)
	optional := middleware.OptionalAuth(testSecret)
	admin := middleware.RequireAdmin(env.DB)

	r.POST("/api/auth/signup", Signup(env))
	r.POST("/api/auth/signin", Signin(env))
	r.POST("/api/auth/signout", Signout(env))
	r.GET("/api/auth/session", optional, Session(env))
	r.POST("/api/auth/forgot-password", ForgotPassword(env))
	r.POST("/api/auth/reset-password", ResetPassword(env))
	r.PATCH("/api/users/me", auth, UpdateProfile(env))
	r.POST("/api/users/me/password", auth, ChangePassword(env))

	r.GET("/api/fleet", GetFleet(env))
	r.GET("/api/fare-quote", GetFareQuote())
	r.GET("/api/reviews", GetPublishedReviews(env))
	r.GET("/api/tips/options", TipOptions())
	r.POST("/api/stripe-webhook", StripeWebhook(env))
	r.GET("/healthz", Healthz(env))

	r.POST("/api/bookings", optional, CreateBooking(env))
	r.GET("/api/bookings", auth, GetUserBookings(env))
	r.GET("/api/bookings/:id", optional, GetBooking(env))
	r.GET("/api/bookings/:id/track", TrackBooking(env))
	r.POST("/api/bookings/:id/cancel", auth, CancelBooking(env))
	r.POST("/api/bookings/:id/pay", auth, PayBooking(env))
	r.POST("/api/bookings/:id/review", auth, SubmitReview(env))
	r.POST("/api/bookings/:id/tip", auth, CreateTipPaymentIntent(env))
	r.POST("/api/bookings/:id/tip/confirm", auth, ConfirmTipPayment(env))
	r.POST("/api/bookings/:id/tip/cancel", auth, CancelTipPayment(env))

	r.GET("/api/admin/bookings", auth, admin, GetAdminBookings(env))
	r.PATCH("/api/admin/bookings/:id/status", auth, admin, UpdateBookingStatus(env))
	r.PATCH("/api/admin/bookings/:id/payment", auth, admin, UpdatePaymentStatus(env))
	r.POST("/api/admin/bookings/:id/driver-location", auth, admin, UpdateDriverLocation(env))
	r.POST("/api/admin/reviews/:id/toggle", auth, admin, ToggleReviewPublication(env))
	r.POST("/api/admin/fleet", auth, admin, CreateVehicle(env))
	r.DELETE("/api/admin/fleet/:id", auth, admin, DeleteVehicle(env))
	r.GET("/api/admin/users", auth, admin, ListUsers(env))
	r.PATCH("/api/admin/users/:id/role", auth, admin, UpdateUserRole(env))
	r.POST("/api/admin/notifications/register-token", auth, admin, RegisterDeviceToken(env))
	r.DELETE("/api/admin/notifications/remove-token", auth, admin, RemoveDeviceToken(env))
	r.POST("/api/admin/notifications/test", auth, admin, SendTestNotification(env))
	return r
}

func (te *testEnv) createUser(email string, role models.UserRole) (*models.User, string) {
	te.t.Helper()
	user := &models.User{Name: "Jordan Rivers", Email: email, Password: "secret123", Role: role}
	require.NoError(te.t, user.HashPassword())
	require.NoError(te.t, te.DB.Create(user).Error)
	token, err := utils.GenerateToken(user, testSecret, time.Hour)
	require.NoError(te.t, err)
	return user, token
}

// createBooking stores a booking directly, bypassing the API.
func (te *testEnv) createBooking(owner *models.User, status models.BookingStatus, method models.PaymentMethod) *models.Booking {
	te.t.Helper()
	booking := &models.Booking{
		PickupLocation:  "DFW Airport Terminal D",
		DropoffLocation: "1500 Main St, Dallas",
		PickupTime:      testNow.Add(48 * time.Hour),
		Timezone:        utils.DefaultTimezone,
		NumPassengers:   3,
		ContactName:     "Jordan Rivers",
		ContactEmail:    "jordan@example.com",
		ContactPhone:    "214-555-0100",
		ServiceType:     models.ServiceTypeAirportTransfer,
		TotalPriceCents: 8500,
		PaymentMethod:   method,
		Status:          status,
		PaymentStatus:   method.InitialPaymentStatus(),
	}
	if owner != nil {
		booking.UserID = &owner.ID
	}
	require.NoError(te.t, te.DB.Create(booking).Error)
	return booking
}

func (te *testEnv) reload(id string) models.Booking {
	te.t.Helper()
	var booking models.Booking
	require.NoError(te.t, te.DB.First(&booking, "id = ?", id).Error)
	return booking
}

func (te *testEnv) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	te.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(te.t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return te.serve(req)
}

func (te *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	te.router.ServeHTTP(w, req)
	// deliveries run in the background; settle them before assertions
	te.Notifier.Wait()
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
