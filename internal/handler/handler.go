// Package handler содержит HTTP-обработчики API сервиса продажи eSIM.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/esim-orders/internal/metrics"
	"github.com/mmeshcher/esim-orders/internal/middleware"
	"github.com/mmeshcher/esim-orders/internal/model"
	"github.com/mmeshcher/esim-orders/internal/payment"
	"github.com/mmeshcher/esim-orders/internal/presentation"
	"github.com/mmeshcher/esim-orders/internal/provider"
	"github.com/mmeshcher/esim-orders/internal/qrcode"
	"github.com/mmeshcher/esim-orders/internal/repository"
	"github.com/mmeshcher/esim-orders/internal/service"
	"github.com/mmeshcher/esim-orders/internal/tracking"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error
	ListPackages(ctx context.Context) ([]model.Package, error)
	Checkout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ConfirmPayment(ctx context.Context, e payment.Event) (*model.Order, error)
	HandleProvisioningCallback(ctx context.Context, cb provider.Callback) (*model.Order, error)
	RequestTrackingLink(ctx context.Context, email string) error
	ResolveTrackingLink(ctx context.Context, token string) ([]model.Order, error)
}

// Handler реализует HTTP-обработчики API сервиса продажи eSIM.
type Handler struct {
	service   Service
	logger    *zap.Logger
	signature *middleware.SignatureMiddleware
	metrics   *metrics.Metrics
	limiter   tracking.Limiter
	validate  *validator.Validate
	now       func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов. limiter ограничивает
// запросы ссылок отслеживания с одного IP и может быть nil.
func NewHandler(s Service, logger *zap.Logger, sig *middleware.SignatureMiddleware, m *metrics.Metrics, limiter tracking.Limiter) *Handler {
	return &Handler{
		service:   s,
		logger:    logger,
		signature: sig,
		metrics:   m,
		limiter:   limiter,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) validationFailed(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": fields})
}

// Health проверяет доступность хранилища.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

type packageResponse struct {
	ID            int64            `json:"id"`
	Slug          string           `json:"slug"`
	Name          string           `json:"name"`
	DataLabel     string           `json:"data_label"`
	ValidityLabel string           `json:"validity_label"`
	Country       string           `json:"country"`
	DataGB        *decimal.Decimal `json:"data_gb"`
	ValidityDays  int              `json:"validity_days"`
	Price         decimal.Decimal  `json:"price"`
}

// ListPackages возвращает каталог пакетов.
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.service.ListPackages(r.Context())
	if err != nil {
		h.logger.Error("list packages error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]packageResponse, 0, len(packages))
	for _, p := range packages {
		resp = append(resp, packageResponse{
			ID:            p.ID,
			Slug:          p.Slug,
			Name:          p.Name,
			DataLabel:     p.DataLabel,
			ValidityLabel: p.ValidityLabel,
			Country:       p.Country,
			DataGB:        p.DataGB,
			ValidityDays:  p.ValidityDays,
			Price:         p.Price,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type checkoutRequest struct {
	PackageID     int64  `json:"package_id" validate:"required,gt=0"`
	Email         string `json:"email" validate:"required,email,max=254"`
	CouponCode    string `json:"coupon_code" validate:"omitempty,alphanum,max=64"`
	PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=card paypal apple_pay google_pay"`
}

type checkoutResponse struct {
	Order       presentation.OrderView `json:"order"`
	RedirectURL string                 `json:"redirect_url,omitempty"`
}

// Checkout оформляет заказ и возвращает адрес страницы оплаты.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.validationFailed(w, err)
		return
	}

	if req.PaymentMethod == "" {
		req.PaymentMethod = "card"
	}

	res, err := h.service.Checkout(r.Context(), service.CheckoutRequest{
		PackageID:     req.PackageID,
		Email:         req.Email,
		CouponCode:    req.CouponCode,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPackageNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrInvalidCoupon):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"errors": map[string]string{"CouponCode": "invalid"},
			})
		case errors.Is(err, service.ErrPaymentUnavailable):
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		default:
			h.logger.Error("checkout error", zap.Error(err), zap.Int64("package", req.PackageID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		Order:       presentation.BuildOrderView(res.Order, h.now()),
		RedirectURL: res.RedirectURL,
	})
}

// GetOrder возвращает представление заказа. Клиент опрашивает этот эндпоинт,
// пока в ответе keep_polling равен true.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")

	o, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.String("order", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, presentation.BuildOrderView(o, h.now()))
}

// GetEsimQR отдаёт QR-код активации eSIM в формате PNG.
func (h *Handler) GetEsimQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")

	o, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.String("order", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if o.Esim == nil || o.Esim.ActivationPayload() == "" {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	size := qrcode.DefaultSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 128 || n > 1024 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		size = n
	}

	png, err := qrcode.PNG(o.Esim.ActivationPayload(), size)
	if err != nil {
		h.logger.Error("render qr error", zap.Error(err), zap.String("order", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(png)
}
