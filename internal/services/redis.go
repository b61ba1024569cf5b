package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BookingUpdatesChannel = "booking:updates"
	publishedReviewsKey   = "reviews:published"

	driverLocationTTL   = time.Hour
	publishedReviewsTTL = 5 * time.Minute
)

// ConnectRedis parses a redis:// URL and checks the server answers.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// DriverLocation is the last GPS fix shared for a booking.
type DriverLocation struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Cache wraps Redis. A Cache without a client is valid: reads miss and
// writes are dropped, so the service runs without Redis.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func driverLocationKey(bookingID string) string {
	return "booking:location:" + bookingID
}

func (c *Cache) SetDriverLocation(ctx context.Context, bookingID string, loc DriverLocation) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, driverLocationKey(bookingID), data, driverLocationTTL).Err()
}

// GetDriverLocation returns nil without error on a cache miss.
func (c *Cache) GetDriverLocation(ctx context.Context, bookingID string) (*DriverLocation, error) {
	if !c.Enabled() {
		return nil, nil
	}
	data, err := c.client.Get(ctx, driverLocationKey(bookingID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var loc DriverLocation
	if err := json.Unmarshal(data, &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

func (c *Cache) DeleteDriverLocation(ctx context.Context, bookingID string) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Del(ctx, driverLocationKey(bookingID)).Err()
}

// GetPublishedReviews decodes the cached review list into dst and reports a hit.
func (c *Cache) GetPublishedReviews(ctx context.Context, dst any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	data, err := c.client.Get(ctx, publishedReviewsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) SetPublishedReviews(ctx context.Context, reviews any) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(reviews)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, publishedReviewsKey, data, publishedReviewsTTL).Err()
}

func (c *Cache) InvalidatePublishedReviews(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Del(ctx, publishedReviewsKey).Err()
}

// PublishBookingUpdate fans an update out to every API instance.
func (c *Cache) PublishBookingUpdate(ctx context.Context, update BookingUpdate) error {
	if !c.Enabled() {
		return errors.New("redis not configured")
	}
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, BookingUpdatesChannel, data).Err()
}

// SubscribeBookingUpdates feeds updates published by any instance into
// the local hub until ctx is done.
func (c *Cache) SubscribeBookingUpdates(ctx context.Context, hub *Hub, logger *slog.Logger) error {
	if !c.Enabled() {
		return nil
	}
	sub := c.client.Subscribe(ctx, BookingUpdatesChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", BookingUpdatesChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var update BookingUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				logger.Warn("discarding malformed booking update", "error", err)
				continue
			}
			hub.Deliver(update)
		}
	}
}
