package booking_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hac-shop/internal/auth"
	"hac-shop/internal/models"
	"hac-shop/internal/report"
	"hac-shop/internal/utils"
	"hac-shop/internal/voucher"
)

const defaultListLimit = 200

// AdminHandler serves the staff endpoints. It shares error mapping with Handler.
type AdminHandler struct {
	*Handler
	Reports *report.Service
}

func NewAdminHandler(h *Handler, reports *report.Service) *AdminHandler {
	return &AdminHandler{Handler: h, Reports: reports}
}

// Routes is mounted under /admin behind the staff guard.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/bookings", h.ListBookings)
	r.Post("/bookings/refund", h.BulkRefund)
	r.Get("/drill-nights", h.ListDrillNights)
	r.Post("/drill-nights", h.CreateDrillNight)
	r.Delete("/drill-nights/{nightId}", h.DeleteDrillNight)
	r.Patch("/drill-nights/{nightId}", h.UpdateDrillNight)
	r.Get("/drill-nights/{nightId}/report", h.DrillNightReport)
	r.Get("/vouchers/{token}", h.CheckVoucher)
	return r
}

type bookingRow struct {
	ID          string               `json:"id"`
	DrillNight  string               `json:"drill_night"`
	Name        string               `json:"name"`
	Email       string               `json:"email"`
	Quantity    int                  `json:"quantity"`
	Status      models.PaymentStatus `json:"status"`
	StatusLabel string               `json:"status_label"`
}

// ListBookings supports ?status= and a name/email search in ?q=.
func (h *AdminHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.BookingFilter{
		Search: q.Get("q"),
		Limit:  defaultListLimit,
	}
	if s := q.Get("status"); s != "" {
		status, _ := models.ParsePaymentStatus(s)
		filter.Status = status
	}
	if n := q.Get("drill_night"); n != "" {
		id, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			_ = utils.WriteError(w, http.StatusBadRequest, "Invalid drill night", "bad_request")
			return
		}
		filter.DrillNightID = id
	}

	bookings, err := h.Service.ListBookings(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rows := make([]bookingRow, 0, len(bookings))
	for _, b := range bookings {
		row := bookingRow{
			ID:          b.ID.String(),
			Name:        b.Name,
			Email:       b.Email,
			Quantity:    b.Quantity,
			Status:      b.Status,
			StatusLabel: b.Status.Label(),
		}
		if b.DrillNight != nil {
			row.DrillNight = b.DrillNight.Label(h.Location)
		}
		rows = append(rows, row)
	}
	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("%d bookings", len(rows)), rows))
}

// BulkRefund refunds the selected bookings, ignoring the cutoff.
func (h *AdminHandler) BulkRefund(w http.ResponseWriter, r *http.Request) {
	var req models.BulkRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	results, err := h.Service.BulkRefund(r.Context(), req.IDs)
	if err != nil {
		h.writeError(w, err)
		return
	}

	refunded := 0
	for _, res := range results {
		if res.Refunded {
			refunded++
		}
	}
	if staff, ok := auth.StaffFrom(r.Context()); ok {
		h.Logger.LogSecurity("BULK_REFUND", fmt.Sprintf("%s refunded %d of %d bookings", staff.Subject, refunded, len(results)))
	}
	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("Refunded %d of %d bookings", refunded, len(results)), results))
}

// ListDrillNights shows upcoming nights with their approximate meals sold.
func (h *AdminHandler) ListDrillNights(w http.ResponseWriter, r *http.Request) {
	nights, err := h.Service.DrillNightSummaries(r.Context(), defaultListLimit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("%d drill nights", len(nights)), nights))
}

func (h *AdminHandler) DeleteDrillNight(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nightID(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeleteDrillNight(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	if staff, ok := auth.StaffFrom(r.Context()); ok {
		h.Logger.LogSecurity("DRILL_NIGHT_DELETED", fmt.Sprintf("%s deleted drill night %d", staff.Subject, id))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) CreateDrillNight(w http.ResponseWriter, r *http.Request) {
	var req models.CreateDrillNightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	night, err := h.Service.CreateDrillNight(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Drill night created", night))
}

func (h *AdminHandler) UpdateDrillNight(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nightID(w, r)
	if !ok {
		return
	}
	var req models.UpdateDrillNightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	night, err := h.Service.SetOnSale(r.Context(), id, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Drill night updated", night))
}

func (h *AdminHandler) DrillNightReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.nightID(w, r)
	if !ok {
		return
	}
	rep, err := h.Reports.DrillNight(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Drill night report", rep))
}

func (h *AdminHandler) nightID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "nightId"), 10, 64)
	if err != nil || id <= 0 {
		_ = utils.WriteError(w, http.StatusNotFound, "Drill night not found", "not_found")
		return 0, false
	}
	return id, true
}

type voucherCheck struct {
	Voucher voucher.Voucher    `json:"voucher"`
	Booking models.BookingView `json:"booking"`
}

// CheckVoucher verifies a scanned voucher against the current booking, so a
// refunded meal cannot be served from an old QR code.
func (h *AdminHandler) CheckVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.Vouchers.Open(chi.URLParam(r, "token"))
	var id uuid.UUID
	if err == nil {
		id, err = uuid.Parse(v.BookingID)
	}
	if err != nil {
		h.Logger.LogSecurity("VOUCHER_REJECTED", fmt.Sprintf("unreadable voucher from %s", r.RemoteAddr))
		_ = utils.WriteError(w, http.StatusBadRequest, "Voucher is not valid", "invalid_voucher")
		return
	}

	b, err := h.Service.GetBooking(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if b.Status != models.StatusPaid {
		h.Logger.LogSecurity("VOUCHER_REVOKED", fmt.Sprintf("voucher of booking %s scanned while %s", id, b.Status))
		_ = utils.WriteError(w, http.StatusConflict, "Voucher is no longer valid", "voucher_revoked")
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Voucher is valid", voucherCheck{
		Voucher: v,
		Booking: h.Service.View(b, h.Location),
	}))
}
