package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hac-shop/internal/checkout"
	"hac-shop/internal/config"
	"hac-shop/internal/logger"
	"hac-shop/internal/metrics"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrStripeAPIError         = errors.New("stripe API error")
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
	ErrWebhookNotConfigured   = errors.New("stripe webhook secret is not configured")
)

// StripeService is the checkout.Gateway backed by Stripe Checkout.
type StripeService struct {
	client        *client.API
	webhookSecret string
	metrics       *metrics.Metrics
	log           *logger.Logger
}

var _ checkout.Gateway = (*StripeService)(nil)

// NewStripeService builds the client. A nil backends uses Stripe's live API.
func NewStripeService(cfg config.StripeConfig, backends *stripe.Backends, m *metrics.Metrics, log *logger.Logger) (*StripeService, error) {
	if cfg.SecretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY environment variable not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(cfg.SecretKey, backends)
	if sc == nil {
		log.Error("STRIPE", "Failed to initialize Stripe client")
		return nil, ErrStripeClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeService{
		client:        sc,
		webhookSecret: cfg.WebhookSecret,
		metrics:       m,
		log:           log,
	}, nil
}

// CreateCheckoutSession opens a hosted payment page for one line item.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, p checkout.CreateSessionParams) (*checkout.Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.ClientReferenceID),
		CustomerEmail:     stripe.String(p.CustomerEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(p.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.ProductName),
					},
					UnitAmount:  stripe.Int64(p.UnitAmount),
					TaxBehavior: stripe.String(string(stripe.PriceTaxBehaviorInclusive)),
				},
				Quantity: stripe.Int64(p.Quantity),
			},
		},
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	start := time.Now()
	cs, err := s.client.CheckoutSessions.New(params)
	s.metrics.ObserveGatewayCall("create_session", start, err)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create checkout session for %s: %v", p.ClientReferenceID, err))
		return nil, fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}

	s.log.Info("STRIPE", fmt.Sprintf("Checkout session created: %s (reference: %s)", cs.ID, p.ClientReferenceID))
	return toSession(cs), nil
}

func (s *StripeService) RetrieveSession(ctx context.Context, sessionID string) (*checkout.Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	start := time.Now()
	cs, err := s.client.CheckoutSessions.Get(sessionID, params)
	s.metrics.ObserveGatewayCall("retrieve_session", start, err)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to retrieve checkout session %s: %v", sessionID, err))
		return nil, fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}
	return toSession(cs), nil
}

// CreateRefund refunds the whole payment intent.
func (s *StripeService) CreateRefund(ctx context.Context, paymentIntentID string) (*checkout.Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Context = ctx

	start := time.Now()
	r, err := s.client.Refunds.New(params)
	s.metrics.ObserveGatewayCall("create_refund", start, err)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to refund payment intent %s: %v", paymentIntentID, err))
		return nil, fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}

	s.log.Info("STRIPE", fmt.Sprintf("Refund %s created for payment intent %s (status: %s)", r.ID, paymentIntentID, r.Status))
	refund := &checkout.Refund{
		ID:              r.ID,
		Status:          string(r.Status),
		Amount:          r.Amount,
		PaymentIntentID: paymentIntentID,
	}
	return refund, nil
}

// ConstructEvent verifies the Stripe-Signature header against the payload.
func (s *StripeService) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	if s.webhookSecret == "" {
		return stripe.Event{}, ErrWebhookNotConfigured
	}
	opts := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}
	return webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, opts)
}

func toSession(cs *stripe.CheckoutSession) *checkout.Session {
	session := &checkout.Session{
		ID:                cs.ID,
		URL:               cs.URL,
		Status:            string(cs.Status),
		PaymentStatus:     string(cs.PaymentStatus),
		ClientReferenceID: cs.ClientReferenceID,
	}
	if cs.PaymentIntent != nil {
		session.PaymentIntentID = cs.PaymentIntent.ID
	}
	return session
}
