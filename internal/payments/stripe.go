package payments

import (
	"context"
	"errors"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// ErrNotConfigured is returned when no API key was supplied.
var ErrNotConfigured = errors.New("payments: stripe api key not configured")

// StripeClient is a thin wrapper around stripe-go for PaymentIntent hold/capture/cancel flows.
// Card rides are held for the quoted fare on assignment, captured on
// completion and released on cancellation.
type StripeClient struct {
	intents paymentintent.Client
}

// NewStripeClient talks to the live Stripe API with apiKey.
func NewStripeClient(apiKey string) *StripeClient {
	return NewStripeClientWithBackend(apiKey, "", nil)
}

// NewStripeClientWithBackend points the client at baseURL (empty for the
// Stripe default). Retries are off: callers log and move on.
func NewStripeClientWithBackend(apiKey, baseURL string, httpClient *http.Client) *StripeClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		EnableTelemetry:   stripe.Bool(false),
	}
	if baseURL != "" {
		cfg.URL = stripe.String(baseURL)
	}
	return &StripeClient{intents: paymentintent.Client{
		B:   stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Key: apiKey,
	}}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// It returns the PaymentIntent ID on success.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	if s.intents.Key == "" {
		return "", ErrNotConfigured
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := s.intents.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	if s.intents.Key == "" {
		return ErrNotConfigured
	}
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := s.intents.Capture(paymentIntentID, params)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	if s.intents.Key == "" {
		return ErrNotConfigured
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := s.intents.Cancel(paymentIntentID, params)
	return err
}
