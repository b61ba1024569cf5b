package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// NotificationPayload represents the notification data
type NotificationPayload struct {
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Data     map[string]any `json:"data,omitempty"`
	Tag      string         `json:"tag,omitempty"`
	Priority string         `json:"priority,omitempty"` // high or normal
}

// PushSender delivers FCM notifications to admin devices. Without a
// messaging client every send is skipped.
type PushSender struct {
	client *messaging.Client
	logger *slog.Logger
}

func NewPushSender(ctx context.Context, serviceAccountPath string, logger *slog.Logger) (*PushSender, error) {
	if serviceAccountPath == "" {
		logger.Warn("FIREBASE_SERVICE_ACCOUNT_PATH not set, push notifications disabled")
		return &PushSender{logger: logger}, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(serviceAccountPath))
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	logger.Info("firebase cloud messaging initialized")
	return &PushSender{client: client, logger: logger}, nil
}

func (p *PushSender) Enabled() bool {
	return p != nil && p.client != nil
}

// stringData converts payload data to the string map FCM requires.
func stringData(data map[string]any) map[string]string {
	out := make(map[string]string, len(data))
	for key, value := range data {
		switch v := value.(type) {
		case string:
			out[key] = v
		case int, int64, uint, float64, bool:
			out[key] = fmt.Sprintf("%v", v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out[key] = string(raw)
		}
	}
	return out
}

func androidConfig(payload NotificationPayload) *messaging.AndroidConfig {
	priority := messaging.PriorityHigh
	if payload.Priority == "normal" {
		priority = messaging.PriorityDefault
	}
	return &messaging.AndroidConfig{
		Priority: "high",
		Notification: &messaging.AndroidNotification{
			Sound:        "default",
			ChannelID:    "vip4dfw_bookings",
			Priority:     priority,
			DefaultSound: true,
			Color:        "#FF8C00",
			Tag:          payload.Tag,
		},
	}
}

func apnsConfig() *messaging.APNSConfig {
	badge := 1
	return &messaging.APNSConfig{
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{
				Sound:          "default",
				Badge:          &badge,
				MutableContent: true,
			},
		},
	}
}

func buildMulticast(tokens []string, payload NotificationPayload) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
		Data:    stringData(payload.Data),
		Tokens:  tokens,
		Android: androidConfig(payload),
		APNS:    apnsConfig(),
	}
}

// SendToTokens multicasts payload and returns the tokens FCM reported as
// no longer registered so the caller can forget them.
func (p *PushSender) SendToTokens(ctx context.Context, tokens []string, payload NotificationPayload) ([]string, error) {
	if !p.Enabled() || len(tokens) == 0 {
		return nil, nil
	}

	response, err := p.client.SendEachForMulticast(ctx, buildMulticast(tokens, payload))
	if err != nil {
		return nil, fmt.Errorf("error sending multicast message: %w", err)
	}

	var stale []string
	for idx, resp := range response.Responses {
		if resp.Success {
			continue
		}
		if messaging.IsUnregistered(resp.Error) {
			stale = append(stale, tokens[idx])
			continue
		}
		p.logger.Warn("push delivery failed", "error", resp.Error)
	}
	p.logger.Info("push sent", "success", response.SuccessCount, "failure", response.FailureCount)
	return stale, nil
}
