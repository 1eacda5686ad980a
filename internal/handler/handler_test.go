package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/esim-orders/internal/metrics"
	"github.com/mmeshcher/esim-orders/internal/middleware"
	"github.com/mmeshcher/esim-orders/internal/model"
	"github.com/mmeshcher/esim-orders/internal/payment"
	"github.com/mmeshcher/esim-orders/internal/provider"
	"github.com/mmeshcher/esim-orders/internal/repository"
	"github.com/mmeshcher/esim-orders/internal/service"
	"github.com/mmeshcher/esim-orders/internal/tracking"
)

const webhookSecret = "test-secret"

type stubService struct {
	pingErr error

	packages []model.Package

	checkoutReq service.CheckoutRequest
	checkoutRes *service.CheckoutResult
	checkoutErr error

	order    *model.Order
	orderErr error

	paymentEvent payment.Event
	paymentErr   error

	callback    provider.Callback
	callbackErr error

	trackEmail string
	trackErr   error

	trackOrders    []model.Order
	trackOrdersErr error
}

func (s *stubService) Ping(ctx context.Context) error { return s.pingErr }

func (s *stubService) ListPackages(ctx context.Context) ([]model.Package, error) {
	return s.packages, nil
}

func (s *stubService) Checkout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error) {
	s.checkoutReq = req
	return s.checkoutRes, s.checkoutErr
}

func (s *stubService) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) ConfirmPayment(ctx context.Context, e payment.Event) (*model.Order, error) {
	s.paymentEvent = e
	return s.order, s.paymentErr
}

func (s *stubService) HandleProvisioningCallback(ctx context.Context, cb provider.Callback) (*model.Order, error) {
	s.callback = cb
	return s.order, s.callbackErr
}

func (s *stubService) RequestTrackingLink(ctx context.Context, email string) error {
	s.trackEmail = email
	return s.trackErr
}

func (s *stubService) ResolveTrackingLink(ctx context.Context, token string) ([]model.Order, error) {
	return s.trackOrders, s.trackOrdersErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	sig := middleware.NewSignatureMiddleware(webhookSecret)

	h := NewHandler(svc, logger, sig, metrics.New(), tracking.NewMemoryLimiter(100, time.Minute))
	h.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

func testOrder(status model.OrderStatus) *model.Order {
	return &model.Order{
		ID:            1,
		UUID:          uuid.MustParse("7f0c1a52-3a8e-4c1b-9f51-0d6c2f6f2b11"),
		Number:        "1000000008",
		Status:        status,
		Amount:        decimal.RequireFromString("19.99"),
		CustomerEmail: "user@example.com",
		Package:       model.PackageSnapshot{ID: 1, Name: "Europe 5GB"},
		CreatedAt:     time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func TestListPackages(t *testing.T) {
	svc := &stubService{packages: []model.Package{
		{ID: 1, Slug: "eu-5gb", Name: "Europe 5GB", Price: decimal.RequireFromString("19.99"), Active: true},
	}}
	h := newTestHandler(t, svc)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/packages", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []packageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "eu-5gb", resp[0].Slug)
}

func TestCheckout_Created(t *testing.T) {
	svc := &stubService{checkoutRes: &service.CheckoutResult{
		Order:       testOrder(model.OrderStatusAwaitingPayment),
		RedirectURL: "https://pay.example.com/s/1",
	}}
	h := newTestHandler(t, svc)

	body := `{"package_id":1,"email":"user@example.com","coupon_code":"SAVE10"}`
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "card", svc.checkoutReq.PaymentMethod)
	assert.Equal(t, "SAVE10", svc.checkoutReq.CouponCode)

	var resp struct {
		Order struct {
			Status      string `json:"status"`
			KeepPolling bool   `json:"keep_polling"`
		} `json:"order"`
		RedirectURL string `json:"redirect_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "awaiting_payment", resp.Order.Status)
	assert.True(t, resp.Order.KeepPolling)
	assert.Equal(t, "https://pay.example.com/s/1", resp.RedirectURL)
}

func TestCheckout_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "missing email", body: `{"package_id":1}`, want: http.StatusUnprocessableEntity},
		{name: "bad email", body: `{"package_id":1,"email":"nope"}`, want: http.StatusUnprocessableEntity},
		{name: "bad method", body: `{"package_id":1,"email":"a@b.co","payment_method":"cash"}`, want: http.StatusUnprocessableEntity},
		{name: "unknown package", body: `{"package_id":9,"email":"a@b.co"}`, err: repository.ErrPackageNotFound, want: http.StatusNotFound},
		{name: "bad coupon", body: `{"package_id":1,"email":"a@b.co","coupon_code":"X"}`, err: service.ErrInvalidCoupon, want: http.StatusUnprocessableEntity},
		{name: "gateway down", body: `{"package_id":1,"email":"a@b.co"}`, err: service.ErrPaymentUnavailable, want: http.StatusBadGateway},
		{name: "internal", body: `{"package_id":1,"email":"a@b.co"}`, err: errors.New("db down"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{checkoutErr: tt.err})
			rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestGetOrder(t *testing.T) {
	o := testOrder(model.OrderStatusCompleted)
	h := newTestHandler(t, &stubService{order: o})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/orders/"+o.UUID.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "completed", view["status"])
	assert.Equal(t, true, view["keep_polling"], "completed order without esim keeps polling")
}

func TestGetOrder_NotFound(t *testing.T) {
	h := newTestHandler(t, &stubService{orderErr: repository.ErrOrderNotFound})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/orders/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEsimQR(t *testing.T) {
	o := testOrder(model.OrderStatusCompleted)
	h := newTestHandler(t, &stubService{order: o})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/orders/"+o.UUID.String()+"/esim/qr.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	lpa := "LPA:1$smdp.example.com$ACT-1"
	o.Esim = &model.Esim{ICCID: "8931234567890123456", LPAString: &lpa}

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/orders/"+o.UUID.String()+"/esim/qr.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/orders/"+o.UUID.String()+"/esim/qr.png?size=5000", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func signedRequest(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(middleware.SignatureHeader, middleware.Sign(webhookSecret, []byte(body)))
	return req
}

func TestPaymentWebhook(t *testing.T) {
	svc := &stubService{order: testOrder(model.OrderStatusProcessing)}
	h := newTestHandler(t, svc)

	body := `{"id":"evt_1","order_uuid":"7f0c1a52-3a8e-4c1b-9f51-0d6c2f6f2b11","outcome":"succeeded","method":"card"}`
	rec := serve(h, signedRequest("/api/webhooks/payment", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "evt_1", svc.paymentEvent.ID)
	assert.JSONEq(t, `{"status":"processing"}`, rec.Body.String())
}

func TestPaymentWebhook_Errors(t *testing.T) {
	valid := `{"id":"evt_1","order_uuid":"7f0c1a52-3a8e-4c1b-9f51-0d6c2f6f2b11","outcome":"succeeded"}`

	tests := []struct {
		name string
		req  *http.Request
		err  error
		want int
	}{
		{name: "unsigned", req: httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", strings.NewReader(valid)), want: http.StatusUnauthorized},
		{name: "malformed", req: signedRequest("/api/webhooks/payment", `{"id":"evt_1"}`), want: http.StatusBadRequest},
		{name: "unknown order", req: signedRequest("/api/webhooks/payment", valid), err: repository.ErrOrderNotFound, want: http.StatusNotFound},
		{name: "conflict", req: signedRequest("/api/webhooks/payment", valid), err: repository.ErrStatusConflict, want: http.StatusConflict},
		{name: "bad order number", req: signedRequest("/api/webhooks/payment", `{"id":"evt_1","order_uuid":"7f0c1a52-3a8e-4c1b-9f51-0d6c2f6f2b11","order_number":"12345","outcome":"succeeded"}`), want: http.StatusBadRequest},
		{name: "order mismatch", req: signedRequest("/api/webhooks/payment", valid), err: service.ErrOrderMismatch, want: http.StatusUnprocessableEntity},
		{name: "internal", req: signedRequest("/api/webhooks/payment", valid), err: errors.New("db down"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{order: testOrder(model.OrderStatusProcessing), paymentErr: tt.err})
			rec := serve(h, tt.req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestProvisioningWebhook(t *testing.T) {
	svc := &stubService{order: testOrder(model.OrderStatusCompleted)}
	h := newTestHandler(t, svc)

	body := `{"event_id":"cb_1","order_uuid":"7f0c1a52-3a8e-4c1b-9f51-0d6c2f6f2b11","outcome":"succeeded",` +
		`"profile":{"iccid":"8931234567890123456","lpa":"LPA:1$smdp$code"}}`
	rec := serve(h, signedRequest("/api/webhooks/provisioning", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "8931234567890123456", svc.callback.Profile.ICCID)

	svc.callbackErr = service.ErrInvalidProfile
	rec = serve(h, signedRequest("/api/webhooks/provisioning", body))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRequestTrackingLink(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		want       int
		retryAfter string
	}{
		{name: "sent", body: `{"email":"user@example.com"}`, want: http.StatusAccepted},
		{name: "invalid email", body: `{"email":"user"}`, want: http.StatusUnprocessableEntity},
		{name: "bad json", body: `nope`, want: http.StatusBadRequest},
		{
			name:       "throttled",
			body:       `{"email":"user@example.com"}`,
			err:        &service.ThrottledError{RetryAfter: 30 * time.Minute},
			want:       http.StatusTooManyRequests,
			retryAfter: "1800",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{trackErr: tt.err})
			rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/track", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
		})
	}
}

func TestTrackOrders(t *testing.T) {
	tests := []struct {
		name      string
		orders    []model.Order
		err       error
		wantCode  int
		wantState string
		wantCount int
	}{
		{name: "orders", orders: []model.Order{*testOrder(model.OrderStatusProcessing)}, wantCode: http.StatusOK, wantState: TrackStateOrders, wantCount: 1},
		{name: "empty", wantCode: http.StatusOK, wantState: TrackStateEmpty},
		{name: "expired", err: tracking.ErrLinkExpired, wantCode: http.StatusGone, wantState: TrackStateExpired},
		{name: "invalid", err: tracking.ErrLinkInvalid, wantCode: http.StatusBadRequest, wantState: TrackStateInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{trackOrders: tt.orders, trackOrdersErr: tt.err})
			rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/track/some-token", nil))

			require.Equal(t, tt.wantCode, rec.Code)

			var resp trackResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantState, resp.State)
			assert.Len(t, resp.Orders, tt.wantCount)
		})
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = newTestHandler(t, &stubService{pingErr: errors.New("down")})
	rec = serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/healthz"`)
}
