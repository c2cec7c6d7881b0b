package booking_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hac-shop/internal/booking"
	"hac-shop/internal/checkout"
	"hac-shop/internal/logger"
	"hac-shop/internal/models"
	"hac-shop/internal/utils"
	"hac-shop/internal/voucher"
)

const maxWebhookBytes = 65536

type Handler struct {
	Service  *booking.Service
	Vouchers *voucher.Generator
	Location *time.Location
	Logger   *logger.Logger
}

func NewHandler(svc *booking.Service, vouchers *voucher.Generator, loc *time.Location, log *logger.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{Service: svc, Vouchers: vouchers, Location: loc, Logger: log}
}

// Routes is mounted under /supper.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListDrillNights)
	r.Post("/", h.CreateBooking)
	r.Post("/webhooks/stripe", h.StripeWebhook)
	r.Route("/{bookingId}", func(r chi.Router) {
		r.Get("/", h.GetBooking)
		r.Get("/checkout", h.ResumeCheckout)
		r.Get("/purchased", h.Purchased)
		r.Get("/cancel", h.Cancel)
		r.Post("/refund", h.Refund)
		r.Get("/voucher.png", h.Voucher)
	})
	return r
}

type drillNightChoice struct {
	ID         int64     `json:"id"`
	Label      string    `json:"label"`
	DateTime   time.Time `json:"date_time"`
	CutOffTime time.Time `json:"cut_off_time"`
}

// ListDrillNights returns the nights the booking form may offer.
func (h *Handler) ListDrillNights(w http.ResponseWriter, r *http.Request) {
	nights, err := h.Service.ListSellableDrillNights(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListDrillNights: %v", err))
		h.writeError(w, err)
		return
	}

	choices := make([]drillNightChoice, 0, len(nights))
	for i := range nights {
		n := &nights[i]
		choices = append(choices, drillNightChoice{
			ID:         n.ID,
			Label:      n.Label(h.Location),
			DateTime:   n.DateTime.In(h.Location),
			CutOffTime: n.CutOffTime.In(h.Location),
		})
	}
	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Drill nights on sale", choices))
}

// CreateBooking accepts the booking form and sends the customer to checkout.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBookingRequest
	if err := decodeBookingRequest(r, &req); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CreateBooking: bad body: %v", err))
		_ = utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	b, url, err := h.Service.CreateBooking(r.Context(), req)
	if err != nil {
		if b != nil {
			h.Logger.Error("API", fmt.Sprintf("CreateBooking: booking %s saved without checkout: %v", b.ID, err))
		}
		h.writeError(w, err)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("CreateBooking: booking %s redirected to checkout", b.ID))
	http.Redirect(w, r, url, http.StatusFound)
}

// ResumeCheckout sends an unpaid booking back to its checkout page.
func (h *Handler) ResumeCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	url, err := h.Service.ResumeCheckout(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	b, err := h.Service.GetBooking(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Booking", h.Service.View(b, h.Location)))
}

// Purchased is the checkout success redirect.
func (h *Handler) Purchased(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	b, err := h.Service.ConfirmPurchase(r.Context(), id, r.URL.Query().Get("session_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	http.Redirect(w, r, b.AbsoluteURL(), http.StatusFound)
}

// Cancel is the checkout cancel redirect.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	if _, err := h.Service.ConfirmCancel(r.Context(), id, r.URL.Query().Get("session_id")); err != nil {
		h.writeError(w, err)
		return
	}
	http.Redirect(w, r, "/supper/", http.StatusFound)
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	var req models.RefundRequest
	if err := decodeRefundRequest(r, &req); err != nil {
		_ = utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	b, err := h.Service.Refund(r.Context(), id, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("Refund: booking %s refunded", b.ID))
	http.Redirect(w, r, b.AbsoluteURL(), http.StatusFound)
}

// Voucher renders the meal voucher QR code of a paid booking.
func (h *Handler) Voucher(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	b, err := h.Service.GetBooking(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	png, err := h.Vouchers.PNG(b)
	if errors.Is(err, voucher.ErrNotPaid) {
		_ = utils.WriteError(w, http.StatusNotFound, "No voucher for this booking", "not_paid")
		return
	}
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Voucher: booking %s: %v", id, err))
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to read webhook payload: %v", err))
		_ = utils.WriteError(w, http.StatusBadRequest, "Invalid webhook payload", "read_failed")
		return
	}

	err = h.Service.HandleStripeWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	var werr *booking.WebhookError
	if errors.As(err, &werr) {
		h.Logger.Error("WEBHOOK", werr.InternalError)
		_ = utils.WriteError(w, werr.StatusCode, werr.PublicError, werr.Category)
		return
	}
	if err != nil {
		h.Logger.Error("WEBHOOK", err.Error())
		_ = utils.WriteError(w, http.StatusInternalServerError, "Webhook processing error", "processing")
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) bookingID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "bookingId"))
	if err != nil {
		_ = utils.WriteError(w, http.StatusNotFound, "Booking not found", "not_found")
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps service errors onto status codes. Callback rejections keep
// the bare {"reason": ...} body the checkout pages expect.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var cerr *booking.CallbackError
	var verr *booking.ValidationError

	switch {
	case errors.As(err, &cerr):
		_ = utils.WriteJSON(w, http.StatusBadRequest, map[string]string{"reason": cerr.Reason})
	case errors.As(err, &verr):
		_ = utils.WriteJSON(w, http.StatusBadRequest, utils.FieldErrorResponse("Please correct the errors below", verr.Fields))
	case errors.Is(err, booking.ErrBookingNotFound):
		_ = utils.WriteError(w, http.StatusNotFound, "Booking not found", "not_found")
	case errors.Is(err, booking.ErrDrillNightNotFound):
		_ = utils.WriteError(w, http.StatusNotFound, "Drill night not found", "not_found")
	case errors.Is(err, booking.ErrInvalidTransition):
		_ = utils.WriteError(w, http.StatusConflict, "Booking cannot change to that status", "invalid_transition")
	case errors.Is(err, booking.ErrStaleBooking), errors.Is(err, booking.ErrBookingLocked):
		_ = utils.WriteError(w, http.StatusConflict, "Booking was updated by another request, try again", "conflict")
	case errors.Is(err, checkout.ErrAfterCutOff):
		_ = utils.WriteError(w, http.StatusUnprocessableEntity, "Refunds are closed for this drill night", "after_cut_off")
	default:
		h.Logger.Error("API", err.Error())
		_ = utils.WriteError(w, http.StatusInternalServerError, "Something went wrong", "internal")
	}
}

// ---------------- BINDING ----------------

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func decodeBookingRequest(r *http.Request, req *models.CreateBookingRequest) error {
	if isJSON(r) {
		return json.NewDecoder(r.Body).Decode(req)
	}
	if err := r.ParseForm(); err != nil {
		return err
	}
	req.Name = r.PostForm.Get("name")
	req.Email = r.PostForm.Get("email")
	req.DietaryNotes = r.PostForm.Get("dietary_notes")

	// blank numbers are left at zero for the validator to report
	if v := r.PostForm.Get("drill_night"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("drill_night: %w", err)
		}
		req.DrillNightID = id
	}
	if v := r.PostForm.Get("quantity"); v != "" {
		qty, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("quantity: %w", err)
		}
		req.Quantity = qty
	}
	return nil
}

func decodeRefundRequest(r *http.Request, req *models.RefundRequest) error {
	if isJSON(r) {
		return json.NewDecoder(r.Body).Decode(req)
	}
	if err := r.ParseForm(); err != nil {
		return err
	}
	req.ConfirmEmail = r.PostForm.Get("confirm_email")
	return nil
}
