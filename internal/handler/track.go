package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/esim-orders/internal/middleware"
	"github.com/mmeshcher/esim-orders/internal/presentation"
	"github.com/mmeshcher/esim-orders/internal/service"
	"github.com/mmeshcher/esim-orders/internal/tracking"
)

// Состояния страницы отслеживания заказов.
const (
	TrackStateOrders  = "orders"
	TrackStateEmpty   = "empty"
	TrackStateExpired = "expired"
	TrackStateInvalid = "invalid"
)

type trackRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type trackResponse struct {
	State  string                   `json:"state"`
	Orders []presentation.OrderView `json:"orders"`
}

// RequestTrackingLink отправляет ссылку на список заказов. Ответ не зависит от того,
// есть ли у адреса заказы.
func (h *Handler) RequestTrackingLink(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.validationFailed(w, err)
		return
	}

	if err := h.service.RequestTrackingLink(r.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrThrottled) {
			var throttled *service.ThrottledError
			if errors.As(err, &throttled) {
				w.Header().Set("Retry-After", middleware.RetryAfter(throttled.RetryAfter))
			}
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		h.logger.Error("request tracking link error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// TrackOrders показывает заказы по ссылке из письма.
func (h *Handler) TrackOrders(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	orders, err := h.service.ResolveTrackingLink(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, tracking.ErrLinkExpired):
			writeJSON(w, http.StatusGone, trackResponse{State: TrackStateExpired, Orders: []presentation.OrderView{}})
		case errors.Is(err, tracking.ErrLinkInvalid):
			writeJSON(w, http.StatusBadRequest, trackResponse{State: TrackStateInvalid, Orders: []presentation.OrderView{}})
		default:
			h.logger.Error("resolve tracking link error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	now := h.now()
	views := make([]presentation.OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, presentation.BuildOrderView(&orders[i], now))
	}

	state := TrackStateOrders
	if len(views) == 0 {
		state = TrackStateEmpty
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, trackResponse{State: state, Orders: views})
}
