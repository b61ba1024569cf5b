package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/webhook"
)

var ErrPaymentsDisabled = errors.New("payments are not configured")

// CheckoutRequest describes the card payment for a finished ride.
type CheckoutRequest struct {
	BookingID     string
	UserID        uint
	CustomerEmail string
	AmountCents   int64
	ProductName   string
	Description   string
	SuccessURL    string
	CancelURL     string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type TipIntent struct {
	ID           string
	ClientSecret string
}

type PaymentIntentInfo struct {
	ID          string
	Status      string
	AmountCents int64
	Metadata    map[string]string
}

// StripeEvent is a verified webhook event; Raw holds data.object.
type StripeEvent struct {
	ID   string
	Type string
	Raw  json.RawMessage
}

// PaymentGateway is the subset of Stripe the booking flows need.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CreateTipIntent(ctx context.Context, bookingID string, amountCents int64) (*TipIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntentInfo, error)
	CancelPaymentIntent(ctx context.Context, id string) error
	ParseWebhook(payload []byte, signature string) (StripeEvent, error)
}

// StripeGateway talks to Stripe with the process-wide API key.
type StripeGateway struct {
	webhookSecret string
	currency      string
	enabled       bool
}

func NewStripeGateway(secretKey, webhookSecret, currency string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{
		webhookSecret: webhookSecret,
		currency:      currency,
		enabled:       secretKey != "",
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if !g.enabled {
		return nil, ErrPaymentsDisabled
	}

	metadata := map[string]string{
		"booking_id": req.BookingID,
		"user_id":    strconv.FormatUint(uint64(req.UserID), 10),
		"type":       "fare",
	}
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.currency),
					UnitAmount: stripe.Int64(req.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(req.ProductName),
						Description: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	s, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) CreateTipIntent(ctx context.Context, bookingID string, amountCents int64) (*TipIntent, error) {
	if !g.enabled {
		return nil, ErrPaymentsDisabled
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(g.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Description: stripe.String("Tip for booking " + bookingID),
	}
	params.Context = ctx
	params.AddMetadata("bookingId", bookingID)
	params.AddMetadata("type", "tip")

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("create tip payment intent: %w", err)
	}
	return &TipIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *StripeGateway) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntentInfo, error) {
	if !g.enabled {
		return nil, ErrPaymentsDisabled
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent: %w", err)
	}
	return &PaymentIntentInfo{
		ID:          pi.ID,
		Status:      string(pi.Status),
		AmountCents: pi.Amount,
		Metadata:    pi.Metadata,
	}, nil
}

func (g *StripeGateway) CancelPaymentIntent(ctx context.Context, id string) error {
	if !g.enabled {
		return ErrPaymentsDisabled
	}

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := paymentintent.Cancel(id, params); err != nil {
		return fmt.Errorf("cancel payment intent: %w", err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header against the raw body.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (StripeEvent, error) {
	if g.webhookSecret == "" {
		return StripeEvent{}, errors.New("stripe webhook secret not configured")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return StripeEvent{}, err
	}

	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}
	return StripeEvent{ID: event.ID, Type: string(event.Type), Raw: raw}, nil
}
