// Package service реализует бизнес-логику сервиса продажи eSIM.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/esim-orders/internal/events"
	"github.com/mmeshcher/esim-orders/internal/metrics"
	"github.com/mmeshcher/esim-orders/internal/model"
	"github.com/mmeshcher/esim-orders/internal/notify"
	"github.com/mmeshcher/esim-orders/internal/payment"
	"github.com/mmeshcher/esim-orders/internal/provider"
	"github.com/mmeshcher/esim-orders/internal/repository"
	"github.com/mmeshcher/esim-orders/internal/tracking"
	"github.com/mmeshcher/esim-orders/internal/validation"
)

var (
	// ErrInvalidCoupon возвращается для неизвестного, неактивного или истёкшего промокода.
	ErrInvalidCoupon = errors.New("coupon is not valid")
	// ErrPaymentUnavailable возвращается, если платёжный шлюз не создал сессию.
	ErrPaymentUnavailable = errors.New("payment gateway unavailable")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error
	ListPackages(ctx context.Context) ([]model.Package, error)
	GetPackage(ctx context.Context, id int64) (*model.Package, error)
	GetCoupon(ctx context.Context, code string) (*model.Coupon, error)
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrderByUUID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetOrdersByEmail(ctx context.Context, email string) ([]model.Order, error)
	GetOrdersForProvisioning(ctx context.Context, limit int) ([]model.Order, error)
	UpdateOrder(ctx context.Context, o *model.Order, expected model.OrderStatus) error
	HasWebhookEvent(ctx context.Context, source, eventID string) (bool, error)
	RecordWebhookEvent(ctx context.Context, source, eventID string) (bool, error)
}

// Provider описывает клиент провайдера eSIM.
type Provider interface {
	Purchase(ctx context.Context, req provider.PurchaseRequest) (*provider.PurchaseResponse, int, time.Duration, error)
	GetProfile(ctx context.Context, reference string) (*provider.Profile, int, time.Duration, error)
}

// PaymentGateway создаёт страницы оплаты.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req payment.SessionRequest) (string, error)
}

// Options содержит зависимости и параметры сервиса. Незаданные поля заменяются
// безопасными значениями по умолчанию.
type Options struct {
	Provider  Provider
	Gateway   PaymentGateway
	Issuer    *tracking.Issuer
	Limiter   tracking.Limiter
	Mailer    notify.Mailer
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger

	VATRate           decimal.Decimal
	PublicBaseURL     string
	ProvisionInterval time.Duration
	MaxAttempts       int

	Now func() time.Time
}

// Service содержит бизнес-логику сервиса продажи eSIM.
type Service struct {
	repo      Repository
	provider  Provider
	gateway   PaymentGateway
	issuer    *tracking.Issuer
	limiter   tracking.Limiter
	mailer    notify.Mailer
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger

	vatRate           decimal.Decimal
	publicBaseURL     string
	provisionInterval time.Duration
	maxAttempts       int

	now func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием и зависимостями.
func NewService(repo Repository, opts Options) *Service {
	s := &Service{
		repo:              repo,
		provider:          opts.Provider,
		gateway:           opts.Gateway,
		issuer:            opts.Issuer,
		limiter:           opts.Limiter,
		mailer:            opts.Mailer,
		publisher:         opts.Publisher,
		metrics:           opts.Metrics,
		logger:            opts.Logger,
		vatRate:           opts.VATRate,
		publicBaseURL:     strings.TrimRight(opts.PublicBaseURL, "/"),
		provisionInterval: opts.ProvisionInterval,
		maxAttempts:       opts.MaxAttempts,
		now:               opts.Now,
	}

	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.mailer == nil {
		s.mailer = notify.NewLogMailer(s.logger)
	}
	if s.issuer == nil {
		s.issuer = tracking.NewEphemeralIssuer(24 * time.Hour)
	}
	if s.limiter == nil {
		s.limiter = tracking.NewMemoryLimiter(5, 15*time.Minute)
	}
	if s.provisionInterval <= 0 {
		s.provisionInterval = 2 * time.Second
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 5
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.repo != nil {
		errs = append(errs, s.repo.Close())
	}
	return errors.Join(errs...)
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// ListPackages возвращает активные пакеты каталога.
func (s *Service) ListPackages(ctx context.Context) ([]model.Package, error) {
	return s.repo.ListPackages(ctx)
}

// GetOrder возвращает заказ по публичному идентификатору.
func (s *Service) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	orderUUID, err := uuid.Parse(id)
	if err != nil {
		return nil, repository.ErrOrderNotFound
	}
	return s.repo.GetOrderByUUID(ctx, orderUUID)
}

// CheckoutRequest описывает оформление заказа покупателем.
type CheckoutRequest struct {
	PackageID     int64
	Email         string
	CouponCode    string
	PaymentMethod string
}

// CheckoutResult содержит созданный заказ и адрес страницы оплаты, если она нужна.
type CheckoutResult struct {
	Order       *model.Order
	RedirectURL string
}

// Checkout рассчитывает стоимость и создаёт заказ в статусе awaiting_payment.
// Заказ с нулевой суммой сразу считается оплаченным.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	pkg, err := s.repo.GetPackage(ctx, req.PackageID)
	if err != nil {
		return nil, err
	}
	if !pkg.Active {
		return nil, repository.ErrPackageNotFound
	}

	var coupon *model.Coupon
	if code := strings.ToUpper(strings.TrimSpace(req.CouponCode)); code != "" {
		coupon, err = s.repo.GetCoupon(ctx, code)
		if err != nil {
			if errors.Is(err, repository.ErrCouponNotFound) {
				return nil, ErrInvalidCoupon
			}
			return nil, err
		}
		if !coupon.IsUsable(s.now()) {
			return nil, ErrInvalidCoupon
		}
	}

	now := s.now()
	o := &model.Order{
		UUID:          uuid.New(),
		Status:        model.OrderStatusAwaitingPayment,
		PaymentMethod: req.PaymentMethod,
		CustomerEmail: validation.NormalizeEmail(req.Email),
		Package: model.PackageSnapshot{
			ID:            pkg.ID,
			Name:          pkg.Name,
			DataLabel:     pkg.DataLabel,
			ValidityLabel: pkg.ValidityLabel,
			Country:       pkg.Country,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	pricing := model.Price(pkg.Price, coupon, s.vatRate)
	pricing.Apply(o)
	if coupon != nil {
		o.Coupon = &model.AppliedCoupon{Code: coupon.Code, Discount: pricing.CouponDiscount}
	}

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.metrics.ObserveOrderCreated()
	s.logger.Info("order created",
		zap.String("order", o.UUID.String()),
		zap.String("number", o.Number),
		zap.String("amount", o.Amount.String()),
	)

	if !o.Amount.IsPositive() {
		if err := s.markPaid(ctx, o, "free"); err != nil {
			return nil, err
		}
		return &CheckoutResult{Order: o}, nil
	}

	if s.gateway == nil {
		return &CheckoutResult{Order: o}, nil
	}

	redirectURL, err := s.gateway.CreateSession(ctx, payment.SessionRequest{
		OrderUUID:   o.UUID.String(),
		OrderNumber: o.Number,
		Amount:      o.Amount,
		Email:       o.CustomerEmail,
		Method:      o.PaymentMethod,
		ReturnURL:   s.publicBaseURL + "/orders/" + o.UUID.String(),
	})
	if err != nil {
		s.logger.Error("create payment session", zap.String("order", o.UUID.String()), zap.Error(err))
		s.abandon(ctx, o, "payment session: "+err.Error())
		return nil, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	return &CheckoutResult{Order: o, RedirectURL: redirectURL}, nil
}

// abandon переводит в failed заказ, который нельзя оплатить. Ошибка сохранения только
// логируется.
func (s *Service) abandon(ctx context.Context, o *model.Order, cause string) {
	from := o.Status
	o.LastError = cause
	if err := o.TransitionTo(model.OrderStatusFailed, s.now()); err != nil {
		s.logger.Error("abandon order", zap.String("order", o.UUID.String()), zap.Error(err))
		return
	}
	if err := s.save(ctx, o, from); err != nil {
		s.logger.Error("abandon order", zap.String("order", o.UUID.String()), zap.Error(err))
	}
}

func (s *Service) markPaid(ctx context.Context, o *model.Order, method string) error {
	from := o.Status
	if err := o.TransitionTo(model.OrderStatusProcessing, s.now()); err != nil {
		return err
	}
	if method != "" {
		o.PaymentMethod = method
	}
	return s.save(ctx, o, from)
}

// save сохраняет заказ, ожидая, что в БД он всё ещё в статусе expected, и сообщает
// о смене статуса.
func (s *Service) save(ctx context.Context, o *model.Order, expected model.OrderStatus) error {
	if err := s.repo.UpdateOrder(ctx, o, expected); err != nil {
		return fmt.Errorf("update order %s: %w", o.UUID, err)
	}
	if o.Status != expected {
		s.statusChanged(ctx, o, expected)
	}
	return nil
}

func (s *Service) statusChanged(ctx context.Context, o *model.Order, from model.OrderStatus) {
	s.metrics.ObserveTransition(string(from), string(o.Status))
	if o.Status == model.OrderStatusCompleted && o.PaidAt != nil {
		s.metrics.ObserveProvisioned(o.UpdatedAt.Sub(*o.PaidAt))
	}

	s.logger.Info("order status changed",
		zap.String("order", o.UUID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(o.Status)),
	)

	err := s.publisher.PublishStatusChanged(ctx, events.StatusChanged{
		OrderUUID:   o.UUID.String(),
		OrderNumber: o.Number,
		From:        string(from),
		To:          string(o.Status),
		HasEsim:     o.Esim != nil,
		OccurredAt:  o.UpdatedAt,
	})
	if err != nil {
		s.logger.Warn("publish status change", zap.String("order", o.UUID.String()), zap.Error(err))
	}
}
