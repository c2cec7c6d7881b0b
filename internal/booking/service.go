package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"hac-shop/internal/checkout"
	"hac-shop/internal/kafka"
	"hac-shop/internal/logger"
	"hac-shop/internal/metrics"
	"hac-shop/internal/models"
	"hac-shop/internal/salewindow"
)

type Store interface {
	GetDrillNight(ctx context.Context, id int64) (*models.DrillNight, error)
	CreateDrillNight(ctx context.Context, n *models.DrillNight) error
	ListSellableDrillNights(ctx context.Context, now time.Time, horizon time.Duration) ([]models.DrillNight, error)
	SetOnSale(ctx context.Context, id int64, onSale bool) (*models.DrillNight, error)
	ListDrillNights(ctx context.Context, from time.Time, limit int) ([]models.DrillNight, error)
	DrillNightTotals(ctx context.Context, id int64) (paid int, meals int, err error)
	DeleteDrillNight(ctx context.Context, id int64) error
	CreateBooking(ctx context.Context, b *models.Booking, s *models.CheckoutSession) error
	GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetBookingBySessionID(ctx context.Context, sessionID string) (*models.Booking, error)
	ListBookings(ctx context.Context, f models.BookingFilter) ([]models.Booking, error)
	UpdateBookingStatus(ctx context.Context, b *models.Booking, to models.PaymentStatus) error
}

type Checkout interface {
	CreateSession(ctx context.Context, b *models.Booking, s *models.CheckoutSession) (*models.CheckoutSession, error)
	IsPaid(ctx context.Context, s *models.CheckoutSession) (bool, error)
	Refund(ctx context.Context, b *models.Booking, s *models.CheckoutSession, ignoreChecks bool, now time.Time) (*checkout.Refund, error)
}

type Locker interface {
	LockBooking(ctx context.Context, bookingID, owner string) (bool, error)
	UnlockBooking(ctx context.Context, bookingID, owner string) error
}

type Publisher interface {
	PublishBookingEvent(ctx context.Context, eventType string, b *models.Booking) error
}

// EventVerifier checks webhook signatures.
type EventVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

type Options struct {
	Window   salewindow.Policy
	Verifier EventVerifier
	Logger   *logger.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
	// Location renders drill nights in log lines; UTC when nil.
	Location *time.Location
}

// Service sequences booking creation, checkout confirmation and refunds.
type Service struct {
	Store    Store
	Checkout Checkout
	Lock     Locker
	Events   Publisher

	verifier EventVerifier
	window   salewindow.Policy
	validate *validator.Validate
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	loc      *time.Location
}

// NewService wires the orchestration. lock and events may be nil.
func NewService(store Store, co Checkout, lock Locker, events Publisher, opts Options) *Service {
	if opts.Window.Horizon <= 0 {
		opts.Window = salewindow.New(0)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		Store:    store,
		Checkout: co,
		Lock:     lock,
		Events:   events,
		verifier: opts.Verifier,
		window:   opts.Window,
		validate: newValidator(),
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
		loc:      opts.Location,
	}
}

// ---------------- DRILL NIGHTS ----------------

func (s *Service) ListSellableDrillNights(ctx context.Context) ([]models.DrillNight, error) {
	return s.Store.ListSellableDrillNights(ctx, s.now(), s.window.Horizon)
}

func (s *Service) CreateDrillNight(ctx context.Context, req models.CreateDrillNightRequest) (*models.DrillNight, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	night := models.NewDrillNight(req.DateTime, req.CutOffTime)
	if req.OnSale != nil {
		night.OnSale = *req.OnSale
	}
	if err := s.Store.CreateDrillNight(ctx, night); err != nil {
		if errors.Is(err, models.ErrInvalidCutOff) {
			return nil, fieldError("cut_off_time", "The cut off time must be before the drill night starts.", err)
		}
		if errors.Is(err, models.ErrInvalidDrillNight) {
			return nil, fieldError("date_time", "This field is required.", err)
		}
		return nil, err
	}
	s.log.Info("BOOKING", fmt.Sprintf("Drill night %d scheduled for %s", night.ID, night.DateTime.Format(time.RFC3339)))
	return night, nil
}

func (s *Service) SetOnSale(ctx context.Context, id int64, req models.UpdateDrillNightRequest) (*models.DrillNight, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	return s.Store.SetOnSale(ctx, id, *req.OnSale)
}

// DrillNightSummaries lists upcoming nights with their paid totals, starting
// from the previous day so tonight's kitchen sheet stays visible.
func (s *Service) DrillNightSummaries(ctx context.Context, limit int) ([]models.DrillNightSummary, error) {
	nights, err := s.Store.ListDrillNights(ctx, s.now().Add(-24*time.Hour), limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.DrillNightSummary, 0, len(nights))
	for _, n := range nights {
		paid, meals, err := s.Store.DrillNightTotals(ctx, n.ID)
		if err != nil {
			return nil, fmt.Errorf("totals of drill night %d: %w", n.ID, err)
		}
		out = append(out, models.DrillNightSummary{DrillNight: n, PaidBookings: paid, MealsSold: meals})
	}
	return out, nil
}

// DeleteDrillNight removes a night together with all of its bookings.
func (s *Service) DeleteDrillNight(ctx context.Context, id int64) error {
	if err := s.Store.DeleteDrillNight(ctx, id); err != nil {
		return err
	}
	s.log.Warn("BOOKING", fmt.Sprintf("Drill night %d deleted with its bookings", id))
	return nil
}

// ---------------- BOOKINGS ----------------

// CreateBooking records the purchase and generates its checkout page. The
// returned URL is where the customer must be sent to pay.
func (s *Service) CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.Booking, string, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.DietaryNotes = strings.TrimSpace(req.DietaryNotes)
	if err := validateStruct(s.validate, req); err != nil {
		return nil, "", err
	}

	night, err := s.Store.GetDrillNight(ctx, req.DrillNightID)
	if err != nil && !errors.Is(err, models.ErrDrillNightNotFound) {
		return nil, "", err
	}
	if err != nil || !s.window.IsSellable(night, s.now()) {
		return nil, "", fieldError("drill_night", "Select a valid choice. That choice is not one of the available choices.", ErrNotSellable)
	}

	b := models.NewBooking(night.ID, req.Name, req.Email, req.Quantity, req.DietaryNotes)
	session := models.NewCheckoutSession(b.ID)
	if err := s.Store.CreateBooking(ctx, b, session); err != nil {
		return nil, "", fmt.Errorf("create booking: %w", err)
	}
	b.DrillNight = night
	b.CheckoutSession = session
	s.metrics.ObserveBookingCreated()
	s.log.LogBooking("CREATE", b.ID.String(), fmt.Sprintf("%d meal(s) for %s", b.Quantity, b.Label(s.loc)))

	// the booking stays AWAITING_CHECKOUT if the gateway is unavailable
	session, err = s.Checkout.CreateSession(ctx, b, session)
	if err != nil {
		return b, "", err
	}
	b.CheckoutSession = session

	s.publish(ctx, kafka.EventCreated, b)
	return b, session.CheckoutURL, nil
}

// ResumeCheckout returns the checkout page of a booking still awaiting
// payment, generating the session if the first attempt never reached the
// gateway.
func (s *Service) ResumeCheckout(ctx context.Context, id uuid.UUID) (string, error) {
	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return "", err
	}
	if b.Status != models.StatusAwaitingCheckout {
		return "", fmt.Errorf("%w: %s bookings have no checkout", ErrInvalidTransition, b.Status)
	}
	if b.CheckoutSession == nil {
		return "", fmt.Errorf("booking %s has no checkout session", b.ID)
	}
	if b.DrillNight == nil || !s.window.IsSellable(b.DrillNight, s.now()) {
		return "", fieldError("drill_night", "This drill night is no longer on sale.", ErrNotSellable)
	}

	session, err := s.Checkout.CreateSession(ctx, b, b.CheckoutSession)
	if err != nil {
		return "", err
	}
	s.log.LogBooking("RESUME", b.ID.String(), fmt.Sprintf("checkout session %s", session.SessionID))
	return session.CheckoutURL, nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return s.Store.GetBooking(ctx, id)
}

func (s *Service) ListBookings(ctx context.Context, f models.BookingFilter) ([]models.Booking, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fieldError("status", "Select a valid choice.", nil)
	}
	return s.Store.ListBookings(ctx, f)
}

// View is the customer facing representation of b.
func (s *Service) View(b *models.Booking, loc *time.Location) models.BookingView {
	v := models.BookingView{
		ID:           b.ID,
		Name:         b.Name,
		Email:        b.Email,
		Quantity:     b.Quantity,
		DietaryNotes: b.DietaryNotes,
		Status:       b.Status,
		StatusLabel:  b.Status.Label(),
		URL:          b.AbsoluteURL(),
	}
	if b.DrillNight != nil {
		v.DrillNight = b.DrillNight.Label(loc)
		v.Refundable = b.Status == models.StatusPaid && salewindow.IsBeforeCutOff(b.DrillNight, s.now())
	}
	return v
}

// ---------------- CHECKOUT CALLBACKS ----------------

// ConfirmPurchase handles the success redirect. A booking that is already
// PAID is accepted again without touching the gateway state.
func (s *Service) ConfirmPurchase(ctx context.Context, id uuid.UUID, sessionID string) (*models.Booking, error) {
	b, err := s.matchCallback(ctx, id, sessionID)
	if err != nil {
		return nil, err
	}
	if b.Status == models.StatusPaid {
		return b, nil
	}
	if err := s.requirePaid(ctx, b); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, b, models.StatusPaid); err != nil {
		return nil, err
	}
	return b, nil
}

// ConfirmCancel handles the cancel redirect. It marks the booking CANCELLED
// only when the gateway reports the session as paid, mirroring the purchase
// callback.
// TODO: confirm with the shop owners whether an unpaid session should cancel instead.
func (s *Service) ConfirmCancel(ctx context.Context, id uuid.UUID, sessionID string) (*models.Booking, error) {
	b, err := s.matchCallback(ctx, id, sessionID)
	if err != nil {
		return nil, err
	}
	if b.Status == models.StatusCancelled {
		return b, nil
	}
	if err := s.requirePaid(ctx, b); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, b, models.StatusCancelled); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) matchCallback(ctx context.Context, id uuid.UUID, sessionID string) (*models.Booking, error) {
	if sessionID == "" {
		return nil, &CallbackError{Reason: ReasonNoSessionID}
	}
	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.CheckoutSession == nil || b.CheckoutSession.SessionID != sessionID {
		s.log.LogSecurity("SESSION_MISMATCH", fmt.Sprintf("booking %s got session %q", id, sessionID))
		return nil, &CallbackError{Reason: ReasonIncorrectSessionID}
	}
	return b, nil
}

func (s *Service) requirePaid(ctx context.Context, b *models.Booking) error {
	paid, err := s.Checkout.IsPaid(ctx, b.CheckoutSession)
	if err != nil {
		return err
	}
	if !paid {
		return &CallbackError{Reason: ReasonNotPaid}
	}
	return nil
}

// ---------------- REFUNDS ----------------

// Refund is the customer refund: the confirmation email must match the one
// used to book and the drill night cutoff must not have passed.
func (s *Service) Refund(ctx context.Context, id uuid.UUID, req models.RefundRequest) (*models.Booking, error) {
	req.ConfirmEmail = strings.TrimSpace(req.ConfirmEmail)
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}

	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.ConfirmEmail != b.Email {
		return nil, fieldError("confirm_email", "This email is not the one used to book the meal", nil)
	}

	if err := s.refundBooking(ctx, b, false); err != nil {
		return nil, err
	}
	return b, nil
}

// BulkRefund refunds every booking in ids regardless of cutoff. Each booking
// is handled on its own so one failure does not stop the rest.
func (s *Service) BulkRefund(ctx context.Context, ids []uuid.UUID) ([]models.RefundResult, error) {
	if err := validateStruct(s.validate, models.BulkRefundRequest{IDs: ids}); err != nil {
		return nil, err
	}

	results := make([]models.RefundResult, 0, len(ids))
	for _, id := range ids {
		res := models.RefundResult{BookingID: id}

		b, err := s.Store.GetBooking(ctx, id)
		if err == nil {
			err = s.refundBooking(ctx, b, true)
			res.Status = b.Status
		}
		if err != nil {
			res.Error = err.Error()
			s.log.Warn("BOOKING", fmt.Sprintf("Bulk refund skipped booking %s: %v", id, err))
		} else {
			res.Refunded = true
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) refundBooking(ctx context.Context, b *models.Booking, ignoreChecks bool) error {
	return s.withLock(ctx, b, func() error {
		if !b.Status.CanTransitionTo(models.StatusRefunded) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, models.StatusRefunded)
		}
		if _, err := s.Checkout.Refund(ctx, b, b.CheckoutSession, ignoreChecks, s.now()); err != nil {
			return err
		}
		return s.applyTransition(ctx, b, models.StatusRefunded)
	})
}

// ---------------- TRANSITIONS ----------------

func (s *Service) transition(ctx context.Context, b *models.Booking, to models.PaymentStatus) error {
	return s.withLock(ctx, b, func() error {
		if b.Status != to && !b.Status.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
		}
		return s.applyTransition(ctx, b, to)
	})
}

// withLock runs fn while holding the Redis lock of b. b is reloaded once the
// lock is held so fn never acts on a snapshot taken before a competing update.
func (s *Service) withLock(ctx context.Context, b *models.Booking, fn func() error) error {
	if s.Lock == nil {
		if err := s.reload(ctx, b); err != nil {
			return err
		}
		return fn()
	}

	id := b.ID.String()
	owner := uuid.NewString()
	ok, err := s.Lock.LockBooking(ctx, id, owner)
	if err != nil {
		return fmt.Errorf("lock booking: %w", err)
	}
	if !ok {
		s.metrics.ObserveLockContention()
		return ErrBookingLocked
	}
	defer func() {
		if err := s.Lock.UnlockBooking(context.WithoutCancel(ctx), id, owner); err != nil {
			s.log.Warn("REDIS", fmt.Sprintf("Failed to release lock of booking %s: %v", id, err))
		}
	}()
	if err := s.reload(ctx, b); err != nil {
		return err
	}
	return fn()
}

func (s *Service) reload(ctx context.Context, b *models.Booking) error {
	fresh, err := s.Store.GetBooking(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("reload booking %s: %w", b.ID, err)
	}
	*b = *fresh
	return nil
}

func (s *Service) applyTransition(ctx context.Context, b *models.Booking, to models.PaymentStatus) error {
	from := b.Status
	if from == to {
		return nil
	}
	if err := s.Store.UpdateBookingStatus(ctx, b, to); err != nil {
		s.log.Error("BOOKING", fmt.Sprintf("Booking %s could not move %s -> %s: %v", b.ID, from, to, err))
		return err
	}
	s.metrics.ObserveTransition(string(from), string(to))
	s.log.LogBooking(strings.ToUpper(string(to)), b.ID.String(), fmt.Sprintf("%s -> %s", from, to))
	s.publish(ctx, eventFor(to), b)
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, b *models.Booking) {
	if s.Events == nil || eventType == "" {
		return
	}
	if err := s.Events.PublishBookingEvent(ctx, eventType, b); err != nil {
		s.log.Warn("KAFKA", fmt.Sprintf("Booking %s event %s not published: %v", b.ID, eventType, err))
	}
}

func eventFor(status models.PaymentStatus) string {
	switch status {
	case models.StatusPaid:
		return kafka.EventPaid
	case models.StatusCancelled:
		return kafka.EventCancelled
	case models.StatusRefunded:
		return kafka.EventRefunded
	default:
		return ""
	}
}
