package booking_api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"hac-shop/internal/booking"
	"hac-shop/internal/booking/db"
	"hac-shop/internal/checkout"
	"hac-shop/internal/metrics"
	"hac-shop/internal/models"
	"hac-shop/internal/report"
	"hac-shop/internal/salewindow"
	"hac-shop/internal/voucher"
)

// fakeGateway is a hosted checkout that customers pay by calling pay.
type fakeGateway struct {
	mu       sync.Mutex
	sessions map[string]*checkout.Session
	refunds  []string
	down     bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: map[string]*checkout.Session{}}
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, p checkout.CreateSessionParams) (*checkout.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.down {
		return nil, errors.New("stripe unavailable")
	}
	id := fmt.Sprintf("cs_test_%d", len(g.sessions)+1)
	s := &checkout.Session{
		ID:                id,
		URL:               "https://checkout.stripe.com/c/pay/" + id,
		PaymentStatus:     "unpaid",
		ClientReferenceID: p.ClientReferenceID,
	}
	g.sessions[id] = s
	return s, nil
}

func (g *fakeGateway) RetrieveSession(_ context.Context, id string) (*checkout.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, fmt.Errorf("no such checkout session: %s", id)
	}
	copied := *s
	return &copied, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, pi string) (*checkout.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, pi)
	return &checkout.Refund{ID: "re_" + pi, Status: "succeeded", PaymentIntentID: pi}, nil
}

func (g *fakeGateway) pay(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[id].PaymentStatus = checkout.PaymentStatusPaid
	g.sessions[id].PaymentIntentID = "pi_" + id
}

type testApp struct {
	router   http.Handler
	store    *db.DB
	gateway  *fakeGateway
	metrics  *metrics.Metrics
	vouchers *voucher.Generator
	night    *models.DrillNight
	clock    *time.Time
}

var start = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	_, err = bunDB.ExecContext(ctx, "PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	require.NoError(t, db.CreateSchema(ctx, bunDB))
	store := db.New(bunDB, nil)

	night := models.NewDrillNight(start.Add(33*time.Hour), start.Add(30*time.Hour))
	require.NoError(t, store.CreateDrillNight(ctx, night))

	clock := start
	gateway := newFakeGateway()
	m := metrics.New()
	adapter := checkout.NewAdapter(gateway, store, checkout.Options{BaseURL: "http://shop.test", UnitAmount: 500}, nil)
	svc := booking.NewService(store, adapter, nil, nil, booking.Options{
		Window:  salewindow.New(0),
		Metrics: m,
		Now:     func() time.Time { return clock },
	})
	vouchers, err := voucher.NewGenerator("test-secret", time.UTC)
	require.NoError(t, err)

	h := NewHandler(svc, vouchers, time.UTC, nil)
	admin := NewAdminHandler(h, report.NewService(store, time.UTC))

	r := chi.NewRouter()
	r.Use(RequestLogger(nil, m))
	r.Mount("/supper", h.Routes())
	r.Mount("/admin", admin.Routes())

	return &testApp{router: r, store: store, gateway: gateway, metrics: m, vouchers: vouchers, night: night, clock: &clock}
}

func (a *testApp) do(method, target string, body string, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) form(target string, values url.Values) *httptest.ResponseRecorder {
	return a.do(http.MethodPost, target, values.Encode(), "application/x-www-form-urlencoded")
}

// book submits the booking form and returns the booking id and session id.
func (a *testApp) book(t *testing.T, email string) (uuid.UUID, string) {
	t.Helper()
	rec := a.form("/supper/", url.Values{
		"drill_night":   {fmt.Sprint(a.night.ID)},
		"name":          {"Ada Lovelace"},
		"email":         {email},
		"quantity":      {"2"},
		"dietary_notes": {"no fish"},
	})
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	location := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "https://checkout.stripe.com/c/pay/cs_test_"), location)
	sessionID := strings.TrimPrefix(location, "https://checkout.stripe.com/c/pay/")

	b, err := a.store.GetBookingBySessionID(context.Background(), sessionID)
	require.NoError(t, err)
	return b.ID, sessionID
}

func reason(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1, "callback errors carry only a reason")
	return body["reason"]
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, into))
}

func TestListDrillNights(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodGet, "/supper/", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var choices []drillNightChoice
	decodeData(t, rec, &choices)
	require.Len(t, choices, 1)
	assert.Equal(t, app.night.ID, choices[0].ID)
	assert.Equal(t, "Tue 05 Mar (21:00)", choices[0].Label)
}

func TestPurchaseFlow(t *testing.T) {
	app := newTestApp(t)
	id, sessionID := app.book(t, "ada@example.org")
	base := "/supper/" + id.String()

	rec := app.do(http.MethodGet, base+"/purchased", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no session id", reason(t, rec))

	rec = app.do(http.MethodGet, base+"/purchased?session_id=cs_test_nope", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "incorrect session id", reason(t, rec))

	rec = app.do(http.MethodGet, base+"/purchased?session_id="+sessionID, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "not paid", reason(t, rec))

	app.gateway.pay(sessionID)
	rec = app.do(http.MethodGet, base+"/purchased?session_id="+sessionID, "", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, base+"/", rec.Header().Get("Location"))

	rec = app.do(http.MethodGet, base+"/", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view models.BookingView
	decodeData(t, rec, &view)
	assert.Equal(t, models.StatusPaid, view.Status)
	assert.True(t, view.Refundable)
	assert.Equal(t, 2, view.Quantity)

	rec = app.do(http.MethodGet, base+"/voucher.png", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestCreateBooking_ValidationErrors(t *testing.T) {
	app := newTestApp(t)

	rec := app.form("/supper/", url.Values{
		"drill_night": {fmt.Sprint(app.night.ID)},
		"name":        {"Ada"},
		"email":       {"ada@example.org"},
		"quantity":    {"6"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Errors, "quantity")

	rec = app.do(http.MethodPost, "/supper/", `{"drill_night": 999, "name": "Ada", "email": "ada@example.org", "quantity": 1}`, "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Errors, "drill_night")

	rec = app.form("/supper/", url.Values{"quantity": {"two"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelCallback(t *testing.T) {
	app := newTestApp(t)
	id, sessionID := app.book(t, "ada@example.org")
	base := "/supper/" + id.String()

	rec := app.do(http.MethodGet, base+"/cancel?session_id="+sessionID, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "not paid", reason(t, rec))

	app.gateway.pay(sessionID)
	rec = app.do(http.MethodGet, base+"/cancel?session_id="+sessionID, "", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/supper/", rec.Header().Get("Location"))

	b, err := app.store.GetBooking(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, b.Status)
}

func TestRefund(t *testing.T) {
	app := newTestApp(t)
	id, sessionID := app.book(t, "ada@example.org")
	base := "/supper/" + id.String()
	app.gateway.pay(sessionID)
	require.Equal(t, http.StatusFound, app.do(http.MethodGet, base+"/purchased?session_id="+sessionID, "", "").Code)

	rec := app.form(base+"/refund", url.Values{"confirm_email": {"eve@example.org"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "This email is not the one used to book the meal")

	rec = app.form(base+"/refund", url.Values{"confirm_email": {"ada@example.org"}})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, base+"/", rec.Header().Get("Location"))
	assert.Equal(t, []string{"pi_" + sessionID}, app.gateway.refunds)

	// terminal
	rec = app.form(base+"/refund", url.Values{"confirm_email": {"ada@example.org"}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = app.do(http.MethodGet, base+"/voucher.png", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefund_AfterCutOff(t *testing.T) {
	app := newTestApp(t)
	id, sessionID := app.book(t, "ada@example.org")
	base := "/supper/" + id.String()
	app.gateway.pay(sessionID)
	require.Equal(t, http.StatusFound, app.do(http.MethodGet, base+"/purchased?session_id="+sessionID, "", "").Code)

	*app.clock = app.night.CutOffTime
	rec := app.form(base+"/refund", url.Values{"confirm_email": {"ada@example.org"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, app.gateway.refunds)

	b, err := app.store.GetBooking(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, b.Status)
}

func TestResumeCheckout_AfterGatewayFailure(t *testing.T) {
	app := newTestApp(t)
	app.gateway.down = true

	rec := app.form("/supper/", url.Values{
		"drill_night": {fmt.Sprint(app.night.ID)},
		"name":        {"Ada Lovelace"},
		"email":       {"ada@example.org"},
		"quantity":    {"1"},
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	stuck, err := app.store.ListBookings(context.Background(), models.BookingFilter{})
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, models.StatusAwaitingCheckout, stuck[0].Status)
	base := "/supper/" + stuck[0].ID.String()

	app.gateway.down = false
	rec = app.do(http.MethodGet, base+"/checkout", "", "")
	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, "https://checkout.stripe.com/c/pay/cs_test_"), location)

	// a second visit reuses the stored session
	rec = app.do(http.MethodGet, base+"/checkout", "", "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, location, rec.Header().Get("Location"))
	assert.Len(t, app.gateway.sessions, 1)
}

func TestUnknownBooking(t *testing.T) {
	app := newTestApp(t)

	assert.Equal(t, http.StatusNotFound, app.do(http.MethodGet, "/supper/"+uuid.NewString()+"/", "", "").Code)
	assert.Equal(t, http.StatusNotFound, app.do(http.MethodGet, "/supper/not-a-uuid/", "", "").Code)
	assert.Equal(t, http.StatusNotFound, app.do(http.MethodGet, "/supper/"+uuid.NewString()+"/purchased?session_id=cs_1", "", "").Code)

	rec := app.do(http.MethodGet, "/supper/"+uuid.NewString()+"/purchased", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no session id", reason(t, rec))
}

func TestStripeWebhook_NotConfigured(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(http.MethodPost, "/supper/webhooks/stripe", `{}`, "application/json")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAdmin(t *testing.T) {
	app := newTestApp(t)
	paidID, sessionID := app.book(t, "ada@example.org")
	app.gateway.pay(sessionID)
	require.Equal(t, http.StatusFound, app.do(http.MethodGet, "/supper/"+paidID.String()+"/purchased?session_id="+sessionID, "", "").Code)
	awaitingID, _ := app.book(t, "bob@example.org")

	t.Run("list filters by status and search", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/admin/bookings?status=paid", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var rows []bookingRow
		decodeData(t, rec, &rows)
		require.Len(t, rows, 1)
		assert.Equal(t, paidID.String(), rows[0].ID)
		assert.Equal(t, "Paid", rows[0].StatusLabel)

		rec = app.do(http.MethodGet, "/admin/bookings?q=BOB@", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		decodeData(t, rec, &rows)
		require.Len(t, rows, 1)
		assert.Equal(t, awaitingID.String(), rows[0].ID)

		assert.Equal(t, http.StatusBadRequest, app.do(http.MethodGet, "/admin/bookings?status=lost", "", "").Code)
	})

	t.Run("report", func(t *testing.T) {
		rec := app.do(http.MethodGet, fmt.Sprintf("/admin/drill-nights/%d/report", app.night.ID), "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var rep report.DrillNightReport
		decodeData(t, rec, &rep)
		assert.Equal(t, 1, rep.PaidBookings)
		assert.Equal(t, 2, rep.MealsSold)
		assert.Equal(t, []string{"Ada Lovelace: no fish"}, rep.DietaryNotes)

		assert.Equal(t, http.StatusNotFound, app.do(http.MethodGet, "/admin/drill-nights/999/report", "", "").Code)
	})

	t.Run("voucher check", func(t *testing.T) {
		b, err := app.store.GetBooking(context.Background(), paidID)
		require.NoError(t, err)
		v, err := app.vouchers.FromBooking(b)
		require.NoError(t, err)
		token, err := app.vouchers.Seal(v)
		require.NoError(t, err)

		rec := app.do(http.MethodGet, "/admin/vouchers/"+token, "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var check voucherCheck
		decodeData(t, rec, &check)
		assert.Equal(t, paidID.String(), check.Voucher.BookingID)
		assert.Equal(t, models.StatusPaid, check.Booking.Status)

		assert.Equal(t, http.StatusBadRequest, app.do(http.MethodGet, "/admin/vouchers/forged", "", "").Code)
	})

	t.Run("bulk refund ignores cutoff", func(t *testing.T) {
		*app.clock = app.night.DateTime.Add(time.Hour)
		body := fmt.Sprintf(`{"ids": [%q, %q]}`, paidID, awaitingID)
		rec := app.do(http.MethodPost, "/admin/bookings/refund", body, "application/json")
		require.Equal(t, http.StatusOK, rec.Code)

		var results []models.RefundResult
		decodeData(t, rec, &results)
		require.Len(t, results, 2)
		assert.True(t, results[0].Refunded)
		assert.False(t, results[1].Refunded)
		assert.NotEmpty(t, results[1].Error)
	})

	t.Run("refunded voucher is revoked", func(t *testing.T) {
		b, err := app.store.GetBooking(context.Background(), paidID)
		require.NoError(t, err)
		token, err := app.vouchers.Seal(voucher.Voucher{BookingID: b.ID.String(), Name: b.Name, Quantity: b.Quantity})
		require.NoError(t, err)

		rec := app.do(http.MethodGet, "/admin/vouchers/"+token, "", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("drill nights", func(t *testing.T) {
		body := `{"date_time": "2024-03-12T21:00:00Z", "cut_off_time": "2024-03-12T18:00:00Z"}`
		rec := app.do(http.MethodPost, "/admin/drill-nights", body, "application/json")
		require.Equal(t, http.StatusCreated, rec.Code)
		var night models.DrillNight
		decodeData(t, rec, &night)
		assert.True(t, night.OnSale)

		rec = app.do(http.MethodPatch, fmt.Sprintf("/admin/drill-nights/%d", night.ID), `{"on_sale": false}`, "application/json")
		require.Equal(t, http.StatusOK, rec.Code)
		decodeData(t, rec, &night)
		assert.False(t, night.OnSale)

		bad := `{"date_time": "2024-03-12T21:00:00Z", "cut_off_time": "2024-03-12T22:00:00Z"}`
		assert.Equal(t, http.StatusBadRequest, app.do(http.MethodPost, "/admin/drill-nights", bad, "application/json").Code)
		assert.Equal(t, http.StatusNotFound, app.do(http.MethodPatch, "/admin/drill-nights/999", `{"on_sale": true}`, "application/json").Code)

		rec = app.do(http.MethodGet, "/admin/drill-nights", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var summaries []models.DrillNightSummary
		decodeData(t, rec, &summaries)
		require.Len(t, summaries, 2)
		assert.Equal(t, app.night.ID, summaries[0].ID)

		assert.Equal(t, http.StatusNoContent, app.do(http.MethodDelete, fmt.Sprintf("/admin/drill-nights/%d", night.ID), "", "").Code)
		assert.Equal(t, http.StatusNotFound, app.do(http.MethodDelete, fmt.Sprintf("/admin/drill-nights/%d", night.ID), "", "").Code)
	})
}

func TestRequestLoggerCountsByRoute(t *testing.T) {
	app := newTestApp(t)
	app.do(http.MethodGet, "/supper/"+uuid.NewString()+"/", "", "")
	app.do(http.MethodGet, "/supper/"+uuid.NewString()+"/", "", "")

	count, err := testutil.GatherAndCount(app.metrics.Registry, "hac_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "both requests share one route series")
}
