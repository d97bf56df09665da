// Package payments creates payment intents when a guest booking with
// computed pricing is claimed by an authenticated account. The hosted card
// form and tokenization stay on the processor's side.
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/pkg/logger"
)

var ErrDisabled = errors.New("payments disabled (missing STRIPE_SECRET_KEY)")

type Client struct {
	enabled bool
}

func New(secretKey string) *Client {
	if secretKey != "" {
		stripe.Key = secretKey
	}
	return &Client{enabled: secretKey != ""}
}

func (c *Client) Enabled() bool { return c.enabled }

// CreateIntent creates a payment intent for a priced booking and returns the
// intent ID and client secret.
func (c *Client) CreateIntent(ctx context.Context, pricing *domain.Pricing, trackingNumber, email string) (string, string, error) {
	if !c.enabled {
		return "", "", ErrDisabled
	}
	if pricing == nil || pricing.TotalCents <= 0 {
		return "", "", fmt.Errorf("booking has no computed pricing")
	}

	currency := pricing.Currency
	if currency == "" {
		currency = "usd"
	}

	params := &stripe.PaymentIntentParams{
		Amount:       stripe.Int64(pricing.TotalCents),
		Currency:     stripe.String(currency),
		ReceiptEmail: stripe.String(email),
	}
	params.Context = ctx
	params.AddMetadata("tracking_number", trackingNumber)

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", "", fmt.Errorf("failed to create payment intent: %w", err)
	}

	logger.InfoContext(ctx, "Payment intent created",
		"intent_id", pi.ID, "amount", pricing.TotalCents, "currency", currency)
	return pi.ID, pi.ClientSecret, nil
}
