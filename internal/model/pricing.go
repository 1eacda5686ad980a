package model

import "github.com/shopspring/decimal"

// Pricing содержит денежные поля заказа. Amount всегда итоговая сумма списания с НДС.
type Pricing struct {
	OriginalAmount decimal.Decimal
	CouponDiscount decimal.Decimal
	Amount         decimal.Decimal
	NetAmount      decimal.Decimal
	VATRate        decimal.Decimal
	VATAmount      decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Price рассчитывает стоимость заказа. vatRate задаётся в процентах, цена пакета уже
// включает НДС. Скидка не может превысить цену.
func Price(base decimal.Decimal, coupon *Coupon, vatRate decimal.Decimal) Pricing {
	discount := decimal.Zero
	if coupon != nil {
		if coupon.PercentOff.IsPositive() {
			discount = base.Mul(coupon.PercentOff).Div(hundred)
		}
		if coupon.AmountOff.IsPositive() {
			discount = discount.Add(coupon.AmountOff)
		}
		discount = decimal.Min(discount, base).Round(2)
	}

	amount := base.Sub(discount).Round(2)
	net := amount
	if vatRate.IsPositive() {
		net = amount.Div(decimal.NewFromInt(1).Add(vatRate.Div(hundred))).Round(2)
	}

	return Pricing{
		OriginalAmount: base.Round(2),
		CouponDiscount: discount,
		Amount:         amount,
		NetAmount:      net,
		VATRate:        vatRate,
		VATAmount:      amount.Sub(net),
	}
}

// Apply копирует денежные поля в заказ.
func (p Pricing) Apply(o *Order) {
	o.OriginalAmount = p.OriginalAmount
	o.CouponDiscount = p.CouponDiscount
	o.Amount = p.Amount
	o.NetAmount = p.NetAmount
	o.VATRate = p.VATRate
	o.VATAmount = p.VATAmount
}
