package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vip4dfw/vip4dfw-backend/internal/handlers"
	"github.com/vip4dfw/vip4dfw-backend/internal/logging"
	"github.com/vip4dfw/vip4dfw-backend/internal/middleware"
	"github.com/vip4dfw/vip4dfw-backend/internal/observability"
)

type Options struct {
	CORSOrigins []string
	// LocalUploadDir is served under /uploads when images are stored on disk.
	LocalUploadDir string
	Limiter        *middleware.RateLimiter
}

func corsConfig(origins []string) cors.Config {
	config := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
		config.AllowCredentials = true
	}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
	config.ExposeHeaders = []string{"X-Request-ID"}
	config.MaxAge = 12 * time.Hour
	return config
}

// NewRouter mounts every route of the API on a fresh gin engine.
func NewRouter(env *handlers.Env, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(logging.RequestID(), logging.GinLogger(env.Logger), observability.GinMetrics(), gin.Recovery())
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))

	limited := func(c *gin.Context) { c.Next() }
	if opts.Limiter != nil {
		limited = opts.Limiter.Middleware()
	}

	if opts.LocalUploadDir != "" {
		r.Static("/uploads", opts.LocalUploadDir)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", handlers.Healthz(env))

	requireAuth := middleware.AuthMiddleware(env.JWTSecret)
	optionalAuth := middleware.OptionalAuth(env.JWTSecret)

	api := r.Group("/api")
	{
		auth := api.Group("/auth", limited)
		{
			auth.POST("/signup", handlers.Signup(env))
			auth.POST("/signin", handlers.Signin(env))
			auth.POST("/signout", handlers.Signout(env))
			auth.GET("/session", optionalAuth, handlers.Session(env))
			auth.POST("/forgot-password", handlers.ForgotPassword(env))
			auth.POST("/reset-password", handlers.ResetPassword(env))
		}

		users := api.Group("/users/me", requireAuth)
		{
			users.PATCH("", handlers.UpdateProfile(env))
			users.POST("/password", handlers.ChangePassword(env))
		}

		api.GET("/fleet", handlers.GetFleet(env))
		api.GET("/reviews", handlers.GetPublishedReviews(env))
		api.GET("/tips/options", handlers.TipOptions())
		api.GET("/fare-quote", handlers.GetFareQuote())
		api.POST("/stripe-webhook", handlers.StripeWebhook(env))
		api.GET("/ws/bookings/:id", limited, handlers.BookingStream(env))

		bookings := api.Group("/bookings")
		{
			bookings.POST("", limited, optionalAuth, handlers.CreateBooking(env))
			bookings.GET("", requireAuth, handlers.GetUserBookings(env))
			bookings.GET("/:id", optionalAuth, handlers.GetBooking(env))
			bookings.GET("/:id/track", limited, handlers.TrackBooking(env))
			bookings.POST("/:id/cancel", requireAuth, handlers.CancelBooking(env))
			bookings.POST("/:id/pay", requireAuth, handlers.PayBooking(env))
			bookings.POST("/:id/review", requireAuth, handlers.SubmitReview(env))
			bookings.POST("/:id/tip", requireAuth, handlers.CreateTipPaymentIntent(env))
			bookings.POST("/:id/tip/confirm", requireAuth, handlers.ConfirmTipPayment(env))
			bookings.POST("/:id/tip/cancel", requireAuth, handlers.CancelTipPayment(env))
		}

		admin := api.Group("/admin", requireAuth, middleware.RequireAdmin(env.DB))
		{
			admin.GET("/bookings", handlers.GetAdminBookings(env))
			admin.PATCH("/bookings/:id/status", handlers.UpdateBookingStatus(env))
			admin.PATCH("/bookings/:id/payment", handlers.UpdatePaymentStatus(env))
			admin.POST("/bookings/:id/driver-location", handlers.UpdateDriverLocation(env))
			admin.POST("/reviews/:id/toggle", handlers.ToggleReviewPublication(env))

			admin.POST("/fleet", handlers.CreateVehicle(env))
			admin.DELETE("/fleet/:id", handlers.DeleteVehicle(env))

			admin.GET("/users", handlers.ListUsers(env))
			admin.PATCH("/users/:id/role", handlers.UpdateUserRole(env))

			admin.POST("/notifications/register-token", handlers.RegisterDeviceToken(env))
			admin.DELETE("/notifications/remove-token", handlers.RemoveDeviceToken(env))
			admin.POST("/notifications/test", handlers.SendTestNotification(env))
		}
	}

	return r
}
