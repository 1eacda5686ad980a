package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/esim-orders/internal/model"
	"github.com/mmeshcher/esim-orders/internal/notify"
	"github.com/mmeshcher/esim-orders/internal/validation"
)

// ErrThrottled возвращается, если ссылки для адреса запрашиваются слишком часто.
var ErrThrottled = errors.New("too many tracking link requests")

// ThrottledError сообщает, через сколько можно повторить запрос ссылки.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return ErrThrottled.Error()
}

// Is позволяет сравнивать ошибку с ErrThrottled.
func (e *ThrottledError) Is(target error) bool {
	return target == ErrThrottled
}

// RequestTrackingLink отправляет на адрес email ссылку на список заказов. Письмо
// уходит и тогда, когда заказов нет, чтобы по ответу нельзя было узнать о покупках.
func (s *Service) RequestTrackingLink(ctx context.Context, email string) error {
	email = validation.NormalizeEmail(email)

	allowed, err := s.limiter.Allow(ctx, "email:"+email)
	if err != nil {
		s.logger.Warn("tracking limiter unavailable", zap.Error(err))
		allowed = true
	}
	if !allowed {
		s.metrics.ObserveTrackingLink("throttled")
		return &ThrottledError{RetryAfter: s.limiter.Window()}
	}

	token, _, err := s.issuer.Issue(email, s.now())
	if err != nil {
		return fmt.Errorf("issue tracking link: %w", err)
	}

	link := s.publicBaseURL + "/track/" + token
	if err := s.mailer.Send(ctx, notify.TrackingLinkMessage(email, link, s.issuer.TTL())); err != nil {
		s.metrics.ObserveTrackingLink("failed")
		return fmt.Errorf("send tracking link: %w", err)
	}

	s.metrics.ObserveTrackingLink("sent")
	return nil
}

// ResolveTrackingLink проверяет ссылку и возвращает заказы покупателя, новые первыми.
// Пустой список не считается ошибкой.
func (s *Service) ResolveTrackingLink(ctx context.Context, token string) ([]model.Order, error) {
	email, err := s.issuer.Verify(token, s.now())
	if err != nil {
		return nil, err
	}

	orders, err := s.repo.GetOrdersByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return orders, nil
}
