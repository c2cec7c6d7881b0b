package booking_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"hac-shop/internal/booking"
	"hac-shop/internal/models"
	"hac-shop/internal/salewindow"
)

type stubVerifier struct {
	event stripe.Event
	err   error
}

func (v stubVerifier) ConstructEvent([]byte, string) (stripe.Event, error) {
	return v.event, v.err
}

func sessionEvent(t *testing.T, eventType, sessionID, clientRef, paymentStatus string) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":                  sessionID,
		"object":              "checkout.session",
		"client_reference_id": clientRef,
		"payment_status":      paymentStatus,
	})
	require.NoError(t, err)
	return stripe.Event{
		ID:   "evt_test",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func webhookService(f *fixture, v booking.EventVerifier) *booking.Service {
	return booking.NewService(f.store, f.checkout, f.lock, f.events, booking.Options{
		Window:   salewindow.New(0),
		Verifier: v,
	})
}

func TestHandleStripeWebhook_NotConfigured(t *testing.T) {
	f := newFixture(t)

	err := f.svc.HandleStripeWebhook(context.Background(), []byte(`{}`), "sig")
	var werr *booking.WebhookError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "configuration", werr.Category)
	assert.Equal(t, http.StatusInternalServerError, werr.StatusCode)
}

func TestHandleStripeWebhook_BadSignature(t *testing.T) {
	f := newFixture(t)
	svc := webhookService(f, stubVerifier{err: errors.New("signature mismatch")})

	err := svc.HandleStripeWebhook(context.Background(), []byte(`{}`), "bad")
	var werr *booking.WebhookError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "validation", werr.Category)
	assert.Equal(t, http.StatusBadRequest, werr.StatusCode)
}

func TestHandleStripeWebhook_CompletedMarksPaid(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, models.StatusAwaitingCheckout)

	ev := sessionEvent(t, "checkout.session.completed", b.CheckoutSession.SessionID, b.ID.String(), "paid")
	svc := webhookService(f, stubVerifier{event: ev})

	require.NoError(t, svc.HandleStripeWebhook(context.Background(), nil, "sig"))
	assert.Equal(t, models.StatusPaid, f.store.status(b.ID))

	// redelivery is acknowledged without a second transition
	require.NoError(t, svc.HandleStripeWebhook(context.Background(), nil, "sig"))
	assert.Len(t, f.events.events, 1)
}

func TestHandleStripeWebhook_FindsBookingBySessionID(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, models.StatusAwaitingCheckout)

	ev := sessionEvent(t, "checkout.session.async_payment_succeeded", b.CheckoutSession.SessionID, "", "paid")
	svc := webhookService(f, stubVerifier{event: ev})

	require.NoError(t, svc.HandleStripeWebhook(context.Background(), nil, "sig"))
	assert.Equal(t, models.StatusPaid, f.store.status(b.ID))
}

func TestHandleStripeWebhook_UnpaidCompletionIgnored(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, models.StatusAwaitingCheckout)

	ev := sessionEvent(t, "checkout.session.completed", b.CheckoutSession.SessionID, b.ID.String(), "unpaid")
	svc := webhookService(f, stubVerifier{event: ev})

	require.NoError(t, svc.HandleStripeWebhook(context.Background(), nil, "sig"))
	assert.Equal(t, models.StatusAwaitingCheckout, f.store.status(b.ID))
}

func TestHandleStripeWebhook_Expired(t *testing.T) {
	f := newFixture(t)
	awaiting := f.seed(t, models.StatusAwaitingCheckout)
	paid := f.seed(t, models.StatusPaid)

	for _, b := range []*models.Booking{awaiting, paid} {
		ev := sessionEvent(t, "checkout.session.expired", b.CheckoutSession.SessionID, b.ID.String(), "unpaid")
		svc := webhookService(f, stubVerifier{event: ev})
		require.NoError(t, svc.HandleStripeWebhook(context.Background(), nil, "sig"))
	}

	assert.Equal(t, models.StatusCancelled, f.store.status(awaiting.ID))
	assert.Equal(t, models.StatusPaid, f.store.status(paid.ID))
}

func TestHandleStripeWebhook_SessionMismatchIgnored(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, models.StatusAwaitingCheckout)

	ev := sessionEvent(t, "checkout.session.completed", "cs_test_forged", b.ID.String(), "paid")
	svc := webhookService(f, stubVerifier{event: ev})

	require.NoError(t, svc.HandleStripeWebhook(context.Background(), nil, "sig"))
	assert.Equal(t, models.StatusAwaitingCheckout, f.store.status(b.ID))
}

func TestHandleStripeWebhook_LockedBookingAsksForRetry(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, models.StatusAwaitingCheckout)
	ok, err := f.lock.LockBooking(context.Background(), b.ID.String(), "other")
	require.NoError(t, err)
	require.True(t, ok)

	ev := sessionEvent(t, "checkout.session.completed", b.CheckoutSession.SessionID, b.ID.String(), "paid")
	svc := webhookService(f, stubVerifier{event: ev})

	err = svc.HandleStripeWebhook(context.Background(), nil, "sig")
	var werr *booking.WebhookError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, http.StatusServiceUnavailable, werr.StatusCode)
	assert.ErrorIs(t, err, booking.ErrBookingLocked)
}

func TestHandleStripeWebhook_UnknownTypesAcknowledged(t *testing.T) {
	f := newFixture(t)
	svc := webhookService(f, stubVerifier{event: stripe.Event{Type: "customer.created"}})
	assert.NoError(t, svc.HandleStripeWebhook(context.Background(), nil, "sig"))
}
