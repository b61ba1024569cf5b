package handlers

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
)

const maxReviewLength = 2000

type ReviewInput struct {
	Rating  int    `json:"rating" form:"rating"`
	Message string `json:"message" form:"review-message"`
}

// PublishedReview is the public shape of a review; only the reviewer's
// first name is shown.
type PublishedReview struct {
	ID        string    `json:"id"`
	Rating    int       `json:"rating"`
	Message   string    `json:"message"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "Guest"
	}
	return fields[0]
}

// SubmitReview stores the single review a customer may leave after a completed ride.
func SubmitReview(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input ReviewInput
		if err := c.ShouldBind(&input); err != nil {
			c.JSON(400, gin.H{"success": false, "error": "Invalid review"})
			return
		}
		if input.Rating < 1 || input.Rating > 5 {
			c.JSON(400, gin.H{"success": false, "error": "Please select a star rating."})
			return
		}
		message := strings.TrimSpace(input.Message)
		if len(message) > maxReviewLength {
			c.JSON(400, gin.H{"success": false, "error": "Review is too long"})
			return
		}

		booking := env.loadOwnedBooking(c)
		if booking == nil {
			return
		}
		if booking.Status != models.BookingStatusCompleted {
			c.JSON(409, gin.H{"success": false, "error": "Reviews can only be left for completed rides"})
			return
		}
		if booking.HasReview() {
			c.JSON(409, gin.H{"success": false, "error": "You have already reviewed this ride"})
			return
		}

		now := env.now().UTC()
		res := env.DB.Model(&models.Booking{}).
			Where("id = ? AND review_rating IS NULL", booking.ID).
			Updates(map[string]any{
				"review_rating":       input.Rating,
				"review_message":      message,
				"review_is_published": false,
				"reviewed_at":         now,
			})
		if res.Error != nil {
			env.Logger.Error("store review", "booking_id", booking.ID, "error", res.Error)
			c.JSON(500, gin.H{"success": false, "error": "Failed to submit review"})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(409, gin.H{"success": false, "error": "You have already reviewed this ride"})
			return
		}

		c.JSON(201, gin.H{"success": true, "message": "Thank you for your review!"})
	}
}

// GetPublishedReviews serves the marketing page, cached for a few minutes.
func GetPublishedReviews(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var reviews []PublishedReview
		hit, err := env.Cache.GetPublishedReviews(ctx, &reviews)
		if err != nil {
			env.Logger.Warn("read review cache", "error", err)
		}
		if hit {
			c.JSON(200, gin.H{"success": true, "reviews": reviews})
			return
		}

		var bookings []models.Booking
		err = env.DB.WithContext(ctx).
			Where("review_is_published = ? AND review_rating IS NOT NULL", true).
			Order("reviewed_at DESC").
			Limit(50).
			Find(&bookings).Error
		if err != nil {
			env.Logger.Error("list published reviews", "error", err)
			c.JSON(500, gin.H{"success": false, "error": "Failed to fetch reviews"})
			return
		}

		reviews = make([]PublishedReview, 0, len(bookings))
		for _, b := range bookings {
			r := PublishedReview{
				ID:      b.ID,
				Rating:  *b.ReviewRating,
				Message: b.ReviewMessage,
				Name:    firstName(b.ContactName),
			}
			if b.ReviewedAt != nil {
				r.CreatedAt = *b.ReviewedAt
			}
			reviews = append(reviews, r)
		}

		if err := env.Cache.SetPublishedReviews(ctx, reviews); err != nil {
			env.Logger.Warn("write review cache", "error", err)
		}
		c.JSON(200, gin.H{"success": true, "reviews": reviews})
	}
}

// ToggleReviewPublication flips whether a review appears on the site.
func ToggleReviewPublication(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		booking, err := env.loadBooking(c)
		if err != nil {
			c.JSON(404, gin.H{"success": false, "error": "Booking not found"})
			return
		}
		if !booking.HasReview() {
			c.JSON(409, gin.H{"success": false, "error": "This booking has no review"})
			return
		}

		published := !booking.ReviewIsPublished
		res := env.DB.Model(&models.Booking{}).
			Where("id = ? AND review_is_published = ?", booking.ID, booking.ReviewIsPublished).
			Update("review_is_published", published)
		if res.Error != nil {
			env.Logger.Error("toggle review", "booking_id", booking.ID, "error", res.Error)
			c.JSON(500, gin.H{"success": false, "error": "Failed to update review"})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(409, gin.H{"success": false, "error": "Review was updated by someone else, please refresh"})
			return
		}

		if err := env.Cache.InvalidatePublishedReviews(c.Request.Context()); err != nil {
			env.Logger.Warn("invalidate review cache", "error", err)
		}

		message := "Review hidden"
		if published {
			message = "Review published"
		}
		c.JSON(200, gin.H{"success": true, "message": message, "isPublished": published})
	}
}
