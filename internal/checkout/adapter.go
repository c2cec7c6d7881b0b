package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hac-shop/internal/logger"
	"hac-shop/internal/models"
	"hac-shop/internal/salewindow"
)

// SessionPlaceholder is substituted by the gateway with the real session id.
const SessionPlaceholder = "{CHECKOUT_SESSION_ID}"

var (
	ErrAfterCutOff       = errors.New("refunds are closed after the drill night cut off time")
	ErrNoCheckoutSession = errors.New("booking has no checkout session")
	ErrNoPaymentIntent   = errors.New("checkout session has no payment intent")
)

// SessionStore persists the gateway ids once a session is generated.
type SessionStore interface {
	SaveCheckoutSession(ctx context.Context, session *models.CheckoutSession) error
}

type Options struct {
	BaseURL    string
	UnitAmount int64
	Currency   string
	Location   *time.Location
}

// Adapter maps bookings onto gateway checkout sessions and refunds.
type Adapter struct {
	gateway Gateway
	store   SessionStore
	opts    Options
	log     *logger.Logger
}

func NewAdapter(gateway Gateway, store SessionStore, opts Options, log *logger.Logger) *Adapter {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Currency == "" {
		opts.Currency = "gbp"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Adapter{gateway: gateway, store: store, opts: opts, log: log}
}

func (a *Adapter) SuccessURL(b *models.Booking) string {
	return fmt.Sprintf("%s/supper/%s/purchased?session_id=%s", a.opts.BaseURL, b.ID, SessionPlaceholder)
}

func (a *Adapter) CancelURL(b *models.Booking) string {
	return fmt.Sprintf("%s/supper/%s/cancel?session_id=%s", a.opts.BaseURL, b.ID, SessionPlaceholder)
}

// ProductName is the line item shown on the hosted page.
func (a *Adapter) ProductName(b *models.Booking) string {
	if b.DrillNight == nil {
		return "Drill Supper"
	}
	return "Drill Supper on " + b.DrillNight.Label(a.opts.Location)
}

// CreateSession generates the hosted checkout page for b. A session that was
// already generated is returned as stored without calling the gateway.
func (a *Adapter) CreateSession(ctx context.Context, b *models.Booking, s *models.CheckoutSession) (*models.CheckoutSession, error) {
	if s == nil {
		return nil, ErrNoCheckoutSession
	}
	if s.Generated() {
		a.log.LogCheckout("REUSE", b.ID.String(), fmt.Sprintf("session %s already generated", s.SessionID))
		return s, nil
	}

	params := CreateSessionParams{
		UnitAmount:        a.opts.UnitAmount,
		Currency:          a.opts.Currency,
		Quantity:          int64(b.Quantity),
		ProductName:       a.ProductName(b),
		SuccessURL:        a.SuccessURL(b),
		CancelURL:         a.CancelURL(b),
		CustomerEmail:     b.Email,
		ClientReferenceID: b.ID.String(),
		Metadata: map[string]string{
			"booking_id":     b.ID.String(),
			"drill_night_id": fmt.Sprint(b.DrillNightID),
		},
	}

	session, err := a.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		a.log.Error("CHECKOUT", fmt.Sprintf("Failed to create session for booking %s: %v", b.ID, err))
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	s.SessionID = session.ID
	s.CheckoutURL = session.URL
	if err := a.store.SaveCheckoutSession(ctx, s); err != nil {
		return nil, fmt.Errorf("save checkout session: %w", err)
	}

	a.log.LogCheckout("CREATE", b.ID.String(), fmt.Sprintf("session %s generated", s.SessionID))
	return s, nil
}

// FetchSession retrieves the live session from the gateway.
func (a *Adapter) FetchSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := a.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", sessionID, err)
	}
	return session, nil
}

// IsPaid asks the gateway whether the stored session has been paid.
func (a *Adapter) IsPaid(ctx context.Context, s *models.CheckoutSession) (bool, error) {
	if s == nil || s.SessionID == "" {
		return false, ErrNoCheckoutSession
	}
	session, err := a.FetchSession(ctx, s.SessionID)
	if err != nil {
		return false, err
	}
	return session.Paid(), nil
}

// Refund returns the full payment for b. Unless ignoreChecks is set the
// drill night cutoff must not have passed.
func (a *Adapter) Refund(ctx context.Context, b *models.Booking, s *models.CheckoutSession, ignoreChecks bool, now time.Time) (*Refund, error) {
	if !ignoreChecks {
		if b.DrillNight == nil {
			return nil, fmt.Errorf("refund booking %s: drill night not loaded", b.ID)
		}
		if !salewindow.IsBeforeCutOff(b.DrillNight, now) {
			return nil, ErrAfterCutOff
		}
	}
	if s == nil || s.SessionID == "" {
		return nil, ErrNoCheckoutSession
	}

	session, err := a.FetchSession(ctx, s.SessionID)
	if err != nil {
		return nil, err
	}
	if session.PaymentIntentID == "" {
		return nil, ErrNoPaymentIntent
	}

	refund, err := a.gateway.CreateRefund(ctx, session.PaymentIntentID)
	if err != nil {
		a.log.Error("CHECKOUT", fmt.Sprintf("Refund failed for booking %s: %v", b.ID, err))
		return nil, fmt.Errorf("create refund: %w", err)
	}

	a.log.LogCheckout("REFUND", b.ID.String(), fmt.Sprintf("refund %s for payment intent %s", refund.ID, session.PaymentIntentID))
	return refund, nil
}
