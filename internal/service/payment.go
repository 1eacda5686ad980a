package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/esim-orders/internal/model"
	"github.com/mmeshcher/esim-orders/internal/payment"
	"github.com/mmeshcher/esim-orders/internal/repository"
)

// ErrOrderMismatch возвращается, если номер заказа в уведомлении не совпадает с заказом.
var ErrOrderMismatch = errors.New("event does not match order")

const (
	sourcePayment      = "payment"
	sourceProvisioning = "provisioning"
)

// ConfirmPayment применяет уведомление платёжного шлюза к заказу. Повторная доставка
// того же события ничего не меняет. Уведомления влияют только на заказы, которые
// ещё ожидают оплаты.
func (s *Service) ConfirmPayment(ctx context.Context, e payment.Event) (*model.Order, error) {
	orderUUID, err := uuid.Parse(e.OrderUUID)
	if err != nil {
		return nil, repository.ErrOrderNotFound
	}

	seen, err := s.repo.HasWebhookEvent(ctx, sourcePayment, e.ID)
	if err != nil {
		return nil, err
	}

	o, err := s.repo.GetOrderByUUID(ctx, orderUUID)
	if err != nil {
		return nil, err
	}

	if e.OrderNumber != "" && e.OrderNumber != o.Number {
		return nil, fmt.Errorf("%w: event for %s, order is %s", ErrOrderMismatch, e.OrderNumber, o.Number)
	}

	if seen {
		s.metrics.ObserveWebhookReplay(sourcePayment)
		s.logger.Info("duplicate payment event", zap.String("event", e.ID), zap.String("order", e.OrderUUID))
		return o, nil
	}

	if err := s.applyPayment(ctx, o, e); err != nil {
		return nil, err
	}

	if _, err := s.repo.RecordWebhookEvent(ctx, sourcePayment, e.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) applyPayment(ctx context.Context, o *model.Order, e payment.Event) error {
	if o.Status != model.OrderStatusAwaitingPayment && o.Status != model.OrderStatusPending {
		s.logger.Info("payment event ignored",
			zap.String("event", e.ID),
			zap.String("order", o.UUID.String()),
			zap.String("status", string(o.Status)),
			zap.String("outcome", e.Outcome),
		)
		return nil
	}

	from := o.Status
	now := s.now()

	switch e.Outcome {
	case payment.OutcomeSucceeded:
		return s.markPaid(ctx, o, e.Method)
	case payment.OutcomePending:
		if o.Status == model.OrderStatusPending {
			return nil
		}
		if err := o.TransitionTo(model.OrderStatusPending, now); err != nil {
			return err
		}
	case payment.OutcomeFailed:
		if err := o.TransitionTo(model.OrderStatusFailed, now); err != nil {
			return err
		}
		o.LastError = "payment failed"
		if e.Reason != "" {
			o.LastError = "payment failed: " + e.Reason
		}
	default:
		return fmt.Errorf("%w: unknown outcome %q", payment.ErrMalformedEvent, e.Outcome)
	}

	if e.Method != "" {
		o.PaymentMethod = e.Method
	}

	err := s.save(ctx, o, from)
	if errors.Is(err, repository.ErrStatusConflict) {
		s.logger.Warn("payment event raced with another update", zap.String("order", o.UUID.String()))
	}
	return err
}
