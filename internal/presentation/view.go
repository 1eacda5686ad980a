package presentation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/esim-orders/internal/model"
)

// UsageBar описывает полосу расхода трафика.
type UsageBar struct {
	Width float64 `json:"width"`
	Color Color   `json:"color"`
}

// EsimView содержит данные профиля eSIM в том виде, в котором их показывает клиент.
type EsimView struct {
	ICCID             string     `json:"iccid"`
	QRCodeData        *string    `json:"qr_code_data"`
	LPAString         *string    `json:"lpa_string"`
	ActivationPayload string     `json:"activation_payload"`
	SMDPAddress       string     `json:"smdp_address"`
	ActivationCode    string     `json:"activation_code"`
	ExpiresAt         *time.Time `json:"expires_at"`
	model.EsimUsage
	UsageBar      *UsageBar `json:"usage_bar,omitempty"`
	ExpiryMessage string    `json:"expiry_message,omitempty"`
}

// OrderView описывает заказ в том виде, в котором его отдаёт эндпоинт получения заказа.
type OrderView struct {
	UUID           string                `json:"uuid"`
	OrderNumber    string                `json:"order_number"`
	Status         model.OrderStatus     `json:"status"`
	Badge          StatusBadge           `json:"badge"`
	KeepPolling    bool                  `json:"keep_polling"`
	Amount         decimal.Decimal       `json:"amount"`
	OriginalAmount decimal.Decimal       `json:"original_amount"`
	NetAmount      decimal.Decimal       `json:"net_amount"`
	VATRate        decimal.Decimal       `json:"vat_rate"`
	VATAmount      decimal.Decimal       `json:"vat_amount"`
	CouponDiscount decimal.Decimal       `json:"coupon_discount"`
	PaymentMethod  string                `json:"payment_method"`
	CustomerEmail  string                `json:"customer_email"`
	Package        model.PackageSnapshot `json:"package"`
	Esim           *EsimView             `json:"esim"`
	Coupon         *model.AppliedCoupon  `json:"coupon"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
	PaidAt         *time.Time            `json:"paid_at"`
	CompletedAt    *time.Time            `json:"completed_at"`
}

// BuildOrderView собирает представление заказа на момент now.
func BuildOrderView(o *model.Order, now time.Time) OrderView {
	v := OrderView{
		UUID:           o.UUID.String(),
		OrderNumber:    o.Number,
		Status:         o.Status,
		Badge:          Badge(o.Status),
		KeepPolling:    o.KeepPolling(),
		Amount:         o.Amount,
		OriginalAmount: o.OriginalAmount,
		NetAmount:      o.NetAmount,
		VATRate:        o.VATRate,
		VATAmount:      o.VATAmount,
		CouponDiscount: o.CouponDiscount,
		PaymentMethod:  o.PaymentMethod,
		CustomerEmail:  o.CustomerEmail,
		Package:        o.Package,
		Coupon:         o.Coupon,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		PaidAt:         o.PaidAt,
		CompletedAt:    o.CompletedAt,
	}

	if o.Esim != nil {
		ev := BuildEsimView(o.Esim, now)
		v.Esim = &ev
	}

	return v
}

// BuildEsimView собирает представление профиля eSIM.
func BuildEsimView(e *model.Esim, now time.Time) EsimView {
	usage := e.Usage(now)

	v := EsimView{
		ICCID:             e.ICCID,
		QRCodeData:        e.QRCodeData,
		LPAString:         e.LPAString,
		ActivationPayload: e.ActivationPayload(),
		SMDPAddress:       e.SMDPAddress,
		ActivationCode:    e.ActivationCode,
		ExpiresAt:         e.ExpiresAt,
		EsimUsage:         usage,
		ExpiryMessage:     ExpiryMessage(usage, e.ExpiresAt),
	}

	if usage.UsagePercentage != nil {
		v.UsageBar = &UsageBar{
			Width: UsageBarWidth(*usage.UsagePercentage),
			Color: UsageBarColor(*usage.UsagePercentage),
		}
	}

	return v
}
