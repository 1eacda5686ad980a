// Package model содержит доменные сущности сервиса продажи eSIM.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrEsimAlreadyAttached возвращается при повторной привязке eSIM к заказу.
var (
	ErrEsimAlreadyAttached = errors.New("esim already attached to order")
	// ErrEsimNotExpected возвращается, если статус заказа не допускает привязку eSIM.
	ErrEsimNotExpected = errors.New("order status does not accept esim data")
)

// Package описывает тарифный пакет каталога.
type Package struct {
	ID            int64
	Slug          string
	Name          string
	DataLabel     string
	ValidityLabel string
	Country       string
	DataGB        *decimal.Decimal
	ValidityDays  int
	Price         decimal.Decimal
	Active        bool
}

// PackageSnapshot содержит денормализованные данные пакета на момент чтения заказа.
type PackageSnapshot struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	DataLabel     string `json:"data_label"`
	ValidityLabel string `json:"validity_label"`
	Country       string `json:"country"`
}

// Coupon описывает промокод со скидкой в процентах или фиксированной суммой.
type Coupon struct {
	Code       string
	PercentOff decimal.Decimal
	AmountOff  decimal.Decimal
	ExpiresAt  *time.Time
	Active     bool
}

// IsUsable сообщает, можно ли применить промокод в момент now.
func (c Coupon) IsUsable(now time.Time) bool {
	if !c.Active {
		return false
	}
	return c.ExpiresAt == nil || now.Before(*c.ExpiresAt)
}

// AppliedCoupon фиксирует промокод, применённый к заказу.
type AppliedCoupon struct {
	Code     string          `json:"code"`
	Discount decimal.Decimal `json:"discount"`
}

// Esim описывает выпущенный провайдером профиль eSIM.
type Esim struct {
	ICCID          string
	QRCodeData     *string
	LPAString      *string
	SMDPAddress    string
	ActivationCode string
	DataUsedGB     decimal.Decimal
	DataTotalGB    *decimal.Decimal
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	UsageSyncedAt  *time.Time
}

// ActivationPayload возвращает строку для QR-кода: QR-данные провайдера, иначе LPA-строку.
func (e *Esim) ActivationPayload() string {
	if e.QRCodeData != nil && *e.QRCodeData != "" {
		return *e.QRCodeData
	}
	if e.LPAString != nil {
		return *e.LPAString
	}
	return ""
}

// Order описывает заказ покупателя.
type Order struct {
	ID                int64
	UUID              uuid.UUID
	Number            string
	Status            OrderStatus
	Amount            decimal.Decimal
	OriginalAmount    decimal.Decimal
	NetAmount         decimal.Decimal
	VATRate           decimal.Decimal
	VATAmount         decimal.Decimal
	CouponDiscount    decimal.Decimal
	PaymentMethod     string
	CustomerEmail     string
	Package           PackageSnapshot
	Esim              *Esim
	Coupon            *AppliedCoupon
	ProviderReference string
	Attempts          int
	LastError         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PaidAt            *time.Time
	CompletedAt       *time.Time
}

// TransitionTo переводит заказ в статус to, проставляя служебные отметки времени.
// Отвечает только за правила автомата и не обращается к внешним системам.
func (o *Order) TransitionTo(to OrderStatus, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}

	if o.PaidAt == nil && to == OrderStatusProcessing {
		paidAt := now
		o.PaidAt = &paidAt
	}
	if to == OrderStatusCompleted {
		completedAt := now
		o.CompletedAt = &completedAt
	}

	o.Status = to
	o.UpdatedAt = now
	return nil
}

// AttachEsim привязывает данные профиля. Профиль создаётся ровно один раз.
func (o *Order) AttachEsim(e *Esim) error {
	if o.Esim != nil {
		return ErrEsimAlreadyAttached
	}
	if o.Status != OrderStatusProviderPurchased && o.Status != OrderStatusCompleted {
		return fmt.Errorf("%w: %s", ErrEsimNotExpected, o.Status)
	}
	o.Esim = e
	return nil
}

// KeepPolling сообщает, должен ли клиент продолжать опрос этого заказа.
func (o *Order) KeepPolling() bool {
	return ShouldKeepPolling(o.Status, o.Esim != nil)
}
