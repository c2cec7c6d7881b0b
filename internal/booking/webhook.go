package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"hac-shop/internal/models"
)

// HandleStripeWebhook applies checkout session events. Events about unknown
// bookings or for bookings already past the target state are acknowledged.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.verifier == nil {
		s.log.Error("WEBHOOK", "Stripe webhook secret is not configured")
		return &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "Stripe webhook secret is not configured",
		}
	}

	event, err := s.verifier.ConstructEvent(payload, signature)
	if err != nil {
		s.log.LogSecurity("WEBHOOK_SIGNATURE", fmt.Sprintf("rejected webhook: %v", err))
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Webhook signature verification failed",
			InternalError: fmt.Sprintf("Webhook signature verification failed: %v", err),
			OriginalErr:   err,
		}
	}

	s.log.Info("WEBHOOK", fmt.Sprintf("Processing Stripe webhook event: %s", event.Type))

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		cs, werr := decodeSession(event)
		if werr != nil {
			return werr
		}
		if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			s.log.Info("WEBHOOK", fmt.Sprintf("Session %s completed without payment (%s)", cs.ID, cs.PaymentStatus))
			return nil
		}
		return s.applyWebhook(ctx, cs, models.StatusPaid)

	case "checkout.session.expired":
		cs, werr := decodeSession(event)
		if werr != nil {
			return werr
		}
		return s.applyWebhook(ctx, cs, models.StatusCancelled)

	default:
		s.log.Info("WEBHOOK", fmt.Sprintf("Unhandled event type: %s", event.Type))
	}
	return nil
}

func decodeSession(event stripe.Event) (*stripe.CheckoutSession, error) {
	var cs stripe.CheckoutSession
	if event.Data == nil {
		return nil, &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid event data",
			InternalError: fmt.Sprintf("Event %s carries no data", event.ID),
		}
	}
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid event data",
			InternalError: fmt.Sprintf("Failed to unmarshal checkout session: %v", err),
			OriginalErr:   err,
		}
	}
	return &cs, nil
}

func (s *Service) applyWebhook(ctx context.Context, cs *stripe.CheckoutSession, to models.PaymentStatus) error {
	b, err := s.bookingForSession(ctx, cs)
	if errors.Is(err, ErrBookingNotFound) {
		s.log.Warn("WEBHOOK", fmt.Sprintf("No booking for checkout session %s", cs.ID))
		return nil
	}
	if err != nil {
		return processingError(cs.ID, err)
	}

	if b.CheckoutSession == nil || b.CheckoutSession.SessionID != cs.ID {
		s.log.LogSecurity("SESSION_MISMATCH", fmt.Sprintf("webhook session %s does not belong to booking %s", cs.ID, b.ID))
		return nil
	}
	if b.Status == to || !b.Status.CanTransitionTo(to) {
		s.log.Info("WEBHOOK", fmt.Sprintf("Booking %s is %s, ignoring %s", b.ID, b.Status, to))
		return nil
	}

	err = s.transition(ctx, b, to)
	switch {
	case err == nil:
		s.log.Info("WEBHOOK", fmt.Sprintf("Booking %s marked %s", b.ID, to))
		return nil
	case errors.Is(err, ErrBookingLocked), errors.Is(err, ErrStaleBooking):
		// let Stripe retry once the competing update finished
		return &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusServiceUnavailable,
			PublicError:   "Booking is busy, retry later",
			InternalError: fmt.Sprintf("Booking %s busy: %v", b.ID, err),
			OriginalErr:   err,
		}
	case errors.Is(err, ErrInvalidTransition):
		return nil
	default:
		return processingError(cs.ID, err)
	}
}

func (s *Service) bookingForSession(ctx context.Context, cs *stripe.CheckoutSession) (*models.Booking, error) {
	if id, err := uuid.Parse(cs.ClientReferenceID); err == nil {
		return s.Store.GetBooking(ctx, id)
	}
	return s.Store.GetBookingBySessionID(ctx, cs.ID)
}

func processingError(sessionID string, err error) error {
	return &WebhookError{
		Category:      "processing",
		StatusCode:    http.StatusInternalServerError,
		PublicError:   "Failed to process checkout session",
		InternalError: fmt.Sprintf("Failed to process checkout session %s: %v", sessionID, err),
		OriginalErr:   err,
	}
}
