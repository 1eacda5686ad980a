package handler

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/esim-orders/internal/model"
	"github.com/mmeshcher/esim-orders/internal/payment"
	"github.com/mmeshcher/esim-orders/internal/provider"
	"github.com/mmeshcher/esim-orders/internal/repository"
	"github.com/mmeshcher/esim-orders/internal/service"
)

type webhookResponse struct {
	Status model.OrderStatus `json:"status"`
}

// PaymentWebhook принимает уведомление платёжного шлюза. Подпись проверяется
// middleware до вызова обработчика.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	event, err := payment.ParseEvent(body)
	if err != nil {
		h.logger.Warn("malformed payment event", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.ConfirmPayment(r.Context(), event)
	if err != nil {
		h.webhookFailed(w, err, "payment", event.ID, event.OrderUUID)
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Status: o.Status})
}

// ProvisioningWebhook принимает уведомление провайдера о выпуске профиля.
func (h *Handler) ProvisioningWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	cb, err := provider.ParseCallback(body)
	if err != nil {
		h.logger.Warn("malformed provisioning callback", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.HandleProvisioningCallback(r.Context(), cb)
	if err != nil {
		h.webhookFailed(w, err, "provisioning", cb.EventID, cb.OrderUUID)
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Status: o.Status})
}

func (h *Handler) webhookFailed(w http.ResponseWriter, err error, source, eventID, orderUUID string) {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrStatusConflict):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, service.ErrInvalidProfile),
		errors.Is(err, service.ErrOrderMismatch),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrEsimNotExpected):
		h.logger.Warn("webhook rejected", zap.String("source", source), zap.String("event", eventID),
			zap.String("order", orderUUID), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("webhook error", zap.String("source", source), zap.String("event", eventID),
			zap.String("order", orderUUID), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
