package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"diet-bot/config"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"
)

const EventCheckoutCompleted = "checkout.session.completed"

var (
	ErrWebhookNotConfigured = errors.New("webhook secret is not configured")
	ErrMissingReference     = errors.New("checkout session has no client reference id")
)

type StripeClient struct {
	secretKey     string
	webhookSecret string
	priceID       string
	successURL    string
	cancelURL     string
}

func NewStripeClient(cfg config.StripeConfig) *StripeClient {
	stripe.Key = cfg.SecretKey

	return &StripeClient{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookKey,
		priceID:       cfg.PriceID,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}
}

// CreateCheckoutSession opens a one-off payment for userID and returns the
// session id and the hosted checkout URL. Empty URLs fall back to the configured ones.
func (s *StripeClient) CreateCheckoutSession(userID, successURL, cancelURL string) (string, string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", "", ErrMissingReference
	}
	if successURL == "" {
		successURL = s.successURL
	}
	if cancelURL == "" {
		cancelURL = s.cancelURL
	}
	if stripe.Key != s.secretKey {
		stripe.Key = s.secretKey
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(userID),
	}

	sess, err := session.New(params)
	if err != nil {
		return "", "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess.ID, sess.URL, nil
}

func (s *StripeClient) VerifyWebhookSignature(payload []byte, sig string) (stripe.Event, error) {
	if s.webhookSecret == "" {
		return stripe.Event{}, ErrWebhookNotConfigured
	}
	return webhook.ConstructEvent(payload, sig, s.webhookSecret)
}

// CompletedCheckoutUser extracts the paying user from a checkout.session.completed
// event. ok is false for any other event type.
func CompletedCheckoutUser(event stripe.Event) (userID string, ok bool, err error) {
	if event.Type != EventCheckoutCompleted {
		return "", false, nil
	}
	if event.Data == nil {
		return "", true, fmt.Errorf("checkout event %s has no data", event.ID)
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return "", true, fmt.Errorf("failed to parse checkout session: %w", err)
	}
	if strings.TrimSpace(sess.ClientReferenceID) == "" {
		return "", true, ErrMissingReference
	}
	return sess.ClientReferenceID, true, nil
}
