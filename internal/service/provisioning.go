package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/esim-orders/internal/model"
	"github.com/mmeshcher/esim-orders/internal/provider"
	"github.com/mmeshcher/esim-orders/internal/repository"
	"github.com/mmeshcher/esim-orders/internal/validation"
)

const provisioningBatchSize = 100

// ErrInvalidProfile возвращается, если провайдер прислал профиль с некорректным ICCID.
var ErrInvalidProfile = errors.New("invalid esim profile")

// HandleProvisioningCallback применяет асинхронное уведомление провайдера к заказу.
func (s *Service) HandleProvisioningCallback(ctx context.Context, cb provider.Callback) (*model.Order, error) {
	orderUUID, err := uuid.Parse(cb.OrderUUID)
	if err != nil {
		return nil, repository.ErrOrderNotFound
	}

	seen := false
	if cb.EventID != "" {
		seen, err = s.repo.HasWebhookEvent(ctx, sourceProvisioning, cb.EventID)
		if err != nil {
			return nil, err
		}
	}

	o, err := s.repo.GetOrderByUUID(ctx, orderUUID)
	if err != nil {
		return nil, err
	}

	if seen {
		s.metrics.ObserveWebhookReplay(sourceProvisioning)
		s.logger.Info("duplicate provisioning event", zap.String("event", cb.EventID), zap.String("order", cb.OrderUUID))
		return o, nil
	}

	if err := s.applyCallback(ctx, o, cb); err != nil {
		return nil, err
	}

	if cb.EventID != "" {
		if _, err := s.repo.RecordWebhookEvent(ctx, sourceProvisioning, cb.EventID); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (s *Service) applyCallback(ctx context.Context, o *model.Order, cb provider.Callback) error {
	from := o.Status

	switch cb.Outcome {
	case provider.CallbackAccepted:
		if o.Status != model.OrderStatusProcessing && o.Status != model.OrderStatusPendingRetry {
			return nil
		}
		// Без ссылки профиль не запросить, заказ остаётся воркеру на покупку
		if cb.Reference == "" {
			return nil
		}
		o.ProviderReference = cb.Reference
		if err := o.TransitionTo(model.OrderStatusProviderPurchased, s.now()); err != nil {
			return err
		}

	case provider.CallbackSucceeded:
		if o.Esim != nil || !acceptsProfile(o) {
			return nil
		}
		if cb.Reference != "" {
			o.ProviderReference = cb.Reference
		}
		if err := s.completeWithProfile(o, cb.Profile); err != nil {
			return err
		}

	case provider.CallbackRecoverable:
		if !inProvisioning(o.Status) {
			return nil
		}
		if err := s.recordFailure(o, cb.Error); err != nil {
			return err
		}

	case provider.CallbackUnrecoverable:
		if !inProvisioning(o.Status) {
			return nil
		}
		o.LastError = cb.Error
		if err := o.TransitionTo(model.OrderStatusFailed, s.now()); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: unknown outcome %q", provider.ErrMalformedCallback, cb.Outcome)
	}

	return s.save(ctx, o, from)
}

func inProvisioning(status model.OrderStatus) bool {
	switch status {
	case model.OrderStatusProcessing, model.OrderStatusProviderPurchased, model.OrderStatusPendingRetry:
		return true
	default:
		return false
	}
}

// acceptsProfile сообщает, может ли заказ в текущем статусе получить профиль eSIM.
// Завершённый заказ без профиля тоже его принимает.
func acceptsProfile(o *model.Order) bool {
	switch o.Status {
	case model.OrderStatusProcessing, model.OrderStatusPendingRetry,
		model.OrderStatusProviderPurchased, model.OrderStatusCompleted:
		return true
	default:
		return false
	}
}

// completeWithProfile привязывает профиль и переводит заказ в completed, проходя
// через provider_purchased, если заказ ещё не был там.
func (s *Service) completeWithProfile(o *model.Order, p *provider.Profile) error {
	if p == nil || !validation.IsValidICCID(p.ICCID) {
		return ErrInvalidProfile
	}

	now := s.now()
	if o.Status == model.OrderStatusProcessing || o.Status == model.OrderStatusPendingRetry {
		if err := o.TransitionTo(model.OrderStatusProviderPurchased, now); err != nil {
			return err
		}
	}

	if err := o.AttachEsim(esimFromProfile(p, now)); err != nil {
		return err
	}

	if o.Status != model.OrderStatusCompleted {
		if err := o.TransitionTo(model.OrderStatusCompleted, now); err != nil {
			return err
		}
	} else {
		o.UpdatedAt = now
	}
	o.LastError = ""
	return nil
}

func esimFromProfile(p *provider.Profile, now time.Time) *model.Esim {
	e := &model.Esim{
		ICCID:          p.ICCID,
		SMDPAddress:    p.SMDPAddress,
		ActivationCode: p.ActivationCode,
		DataUsedGB:     decimal.Zero,
		ExpiresAt:      p.ExpiresAt,
		CreatedAt:      now,
	}
	if p.QRCode != "" {
		qr := p.QRCode
		e.QRCodeData = &qr
	}
	lpa := p.LPA
	if lpa == "" && p.SMDPAddress != "" && p.ActivationCode != "" {
		lpa = "LPA:1$" + p.SMDPAddress + "$" + p.ActivationCode
	}
	if lpa != "" {
		e.LPAString = &lpa
	}
	if p.DataTotalGB != nil {
		total := decimal.NewFromFloat(*p.DataTotalGB)
		e.DataTotalGB = &total
	}
	return e
}

// recordFailure учитывает восстановимую ошибку: заказ уходит в pending_retry, а после
// исчерпания попыток в failed.
func (s *Service) recordFailure(o *model.Order, cause string) error {
	now := s.now()
	o.Attempts++
	o.LastError = cause

	to := model.OrderStatusPendingRetry
	if o.Attempts >= s.maxAttempts {
		to = model.OrderStatusFailed
	}

	if o.Status == to {
		o.UpdatedAt = now
		return nil
	}
	return o.TransitionTo(to, now)
}

// StartProvisioning запускает фоновый процесс выпуска eSIM для оплаченных заказов.
func (s *Service) StartProvisioning(ctx context.Context) {
	if s.provider == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(s.provisionInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processProvisioningBatch(ctx)
			}
		}
	}()
}

func (s *Service) processProvisioningBatch(ctx context.Context) {
	orders, err := s.repo.GetOrdersForProvisioning(ctx, provisioningBatchSize)
	if err != nil {
		s.logger.Error("select orders for provisioning", zap.Error(err))
		return
	}

	for i := range orders {
		o := &orders[i]

		if o.Status == model.OrderStatusPendingRetry && !s.retryDue(o) {
			continue
		}

		var retryAfter time.Duration
		switch o.Status {
		case model.OrderStatusProcessing, model.OrderStatusPendingRetry:
			retryAfter, err = s.purchase(ctx, o)
		case model.OrderStatusProviderPurchased:
			retryAfter, err = s.fetchProfile(ctx, o)
		default:
			continue
		}

		if err != nil && !errors.Is(err, repository.ErrStatusConflict) {
			s.logger.Error("provision order", zap.String("order", o.UUID.String()), zap.Error(err))
		}

		if retryAfter > 0 {
			s.logger.Warn("provider rate limited", zap.Duration("retry_after", retryAfter))
			timer := time.NewTimer(retryAfter)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			return
		}
	}
}

// retryDue сообщает, прошла ли пауза перед следующей попыткой. Пауза растёт
// линейно с числом попыток.
func (s *Service) retryDue(o *model.Order) bool {
	delay := time.Duration(o.Attempts) * s.provisionInterval
	return !s.now().Before(o.UpdatedAt.Add(delay))
}

func (s *Service) purchase(ctx context.Context, o *model.Order) (time.Duration, error) {
	from := o.Status

	resp, code, retryAfter, err := s.provider.Purchase(ctx, provider.PurchaseRequest{
		OrderUUID: o.UUID.String(),
		PackageID: o.Package.ID,
		Country:   o.Package.Country,
		Email:     o.CustomerEmail,
	})
	if code == http.StatusTooManyRequests {
		s.metrics.ObserveProviderCall("purchase", "throttled")
		return retryAfter, nil
	}
	if err != nil {
		return 0, s.providerFailed(ctx, o, from, "purchase", err)
	}
	s.metrics.ObserveProviderCall("purchase", "ok")

	if resp == nil || resp.Reference == "" {
		return 0, s.providerFailed(ctx, o, from, "purchase", errors.New("empty provider reference"))
	}

	o.ProviderReference = resp.Reference
	if o.Status == model.OrderStatusProviderPurchased {
		o.UpdatedAt = s.now()
	} else if err := o.TransitionTo(model.OrderStatusProviderPurchased, s.now()); err != nil {
		return 0, err
	}
	return 0, s.save(ctx, o, from)
}

func (s *Service) fetchProfile(ctx context.Context, o *model.Order) (time.Duration, error) {
	// Ссылки нет: повторная покупка с тем же ключом идемпотентности вернёт её.
	if o.ProviderReference == "" {
		return s.purchase(ctx, o)
	}

	from := o.Status

	profile, code, retryAfter, err := s.provider.GetProfile(ctx, o.ProviderReference)
	if code == http.StatusTooManyRequests {
		s.metrics.ObserveProviderCall("profile", "throttled")
		return retryAfter, nil
	}
	if err != nil {
		return 0, s.providerFailed(ctx, o, from, "profile", err)
	}
	if profile == nil || profile.Status == provider.ProfileStatusPending {
		s.metrics.ObserveProviderCall("profile", "pending")
		return 0, nil
	}
	if profile.Status == provider.ProfileStatusFailed {
		return 0, s.providerFailed(ctx, o, from, "profile",
			fmt.Errorf("%w: %s", provider.ErrRejected, profile.Error))
	}
	s.metrics.ObserveProviderCall("profile", "ok")

	if err := s.completeWithProfile(o, profile); err != nil {
		if errors.Is(err, ErrInvalidProfile) {
			return 0, s.providerFailed(ctx, o, from, "profile", err)
		}
		return 0, err
	}
	return 0, s.save(ctx, o, from)
}

// providerFailed переводит заказ в failed при окончательном отказе провайдера и
// в pending_retry при временной ошибке.
func (s *Service) providerFailed(ctx context.Context, o *model.Order, from model.OrderStatus, op string, cause error) error {
	if errors.Is(cause, provider.ErrRejected) {
		s.metrics.ObserveProviderCall(op, "rejected")
		o.LastError = cause.Error()
		if err := o.TransitionTo(model.OrderStatusFailed, s.now()); err != nil {
			return err
		}
	} else {
		s.metrics.ObserveProviderCall(op, "error")
		if err := s.recordFailure(o, cause.Error()); err != nil {
			return err
		}
	}

	if err := s.save(ctx, o, from); err != nil {
		return err
	}
	return cause
}
