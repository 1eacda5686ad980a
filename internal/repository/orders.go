package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/esim-orders/internal/model"
)

const orderSelect = `SELECT o.id, o.uuid, o.number, o.status,
	o.amount, o.original_amount, o.net_amount, o.vat_rate, o.vat_amount, o.coupon_discount,
	o.payment_method, o.customer_email, o.coupon_code, o.provider_reference, o.attempts, o.last_error,
	o.created_at, o.updated_at, o.paid_at, o.completed_at,
	p.id, p.name, p.data_label, p.validity_label, p.country,
	e.iccid, e.qr_code_data, e.lpa_string, e.smdp_address, e.activation_code,
	e.data_used_gb, e.data_total_gb, e.expires_at, e.created_at, e.usage_synced_at
	FROM orders o
	JOIN packages p ON p.id = o.package_id
	LEFT JOIN esims e ON e.order_id = o.id`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o          model.Order
		status     string
		couponCode *string

		iccid, smdp, activation  *string
		qrData, lpa              *string
		dataUsed, dataTotal      decimal.NullDecimal
		esimExpires, esimCreated *time.Time
		usageSynced              *time.Time
	)

	err := row.Scan(&o.ID, &o.UUID, &o.Number, &status,
		&o.Amount, &o.OriginalAmount, &o.NetAmount, &o.VATRate, &o.VATAmount, &o.CouponDiscount,
		&o.PaymentMethod, &o.CustomerEmail, &couponCode, &o.ProviderReference, &o.Attempts, &o.LastError,
		&o.CreatedAt, &o.UpdatedAt, &o.PaidAt, &o.CompletedAt,
		&o.Package.ID, &o.Package.Name, &o.Package.DataLabel, &o.Package.ValidityLabel, &o.Package.Country,
		&iccid, &qrData, &lpa, &smdp, &activation,
		&dataUsed, &dataTotal, &esimExpires, &esimCreated, &usageSynced,
	)
	if err != nil {
		return nil, err
	}

	o.Status, _ = model.ParseOrderStatus(status)

	if couponCode != nil {
		o.Coupon = &model.AppliedCoupon{Code: *couponCode, Discount: o.CouponDiscount}
	}

	if iccid != nil {
		e := &model.Esim{
			ICCID:         *iccid,
			QRCodeData:    qrData,
			LPAString:     lpa,
			DataUsedGB:    dataUsed.Decimal,
			ExpiresAt:     esimExpires,
			UsageSyncedAt: usageSynced,
		}
		if smdp != nil {
			e.SMDPAddress = *smdp
		}
		if activation != nil {
			e.ActivationCode = *activation
		}
		if dataTotal.Valid {
			e.DataTotalGB = &dataTotal.Decimal
		}
		if esimCreated != nil {
			e.CreatedAt = *esimCreated
		}
		o.Esim = e
	}

	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateOrder сохраняет новый заказ, присваивая ему внутренний идентификатор и номер.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	number, err := r.nextOrderNumber(ctx, tx)
	if err != nil {
		return err
	}

	var couponCode *string
	if o.Coupon != nil {
		couponCode = &o.Coupon.Code
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO orders (uuid, number, status, amount, original_amount, net_amount, vat_rate,
			vat_amount, coupon_discount, payment_method, customer_email, package_id, coupon_code,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		 RETURNING id`,
		o.UUID, number, string(o.Status), o.Amount, o.OriginalAmount, o.NetAmount, o.VATRate,
		o.VATAmount, o.CouponDiscount, o.PaymentMethod, o.CustomerEmail, o.Package.ID, couponCode,
		o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	o.Number = number
	o.UpdatedAt = o.CreatedAt
	return nil
}

// GetOrderByUUID возвращает заказ вместе с данными пакета и eSIM.
func (r *PostgresRepository) GetOrderByUUID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, orderSelect+` WHERE o.uuid = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrdersByEmail возвращает заказы покупателя, новые первыми.
func (r *PostgresRepository) GetOrdersByEmail(ctx context.Context, email string) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		orderSelect+` WHERE o.customer_email = $1 ORDER BY o.created_at DESC`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	return collectOrders(rows)
}

// GetOrdersForProvisioning возвращает оплаченные заказы, ожидающие выпуска eSIM.
func (r *PostgresRepository) GetOrdersForProvisioning(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		orderSelect+` WHERE o.status IN ($1, $2, $3)
		 ORDER BY o.updated_at
		 LIMIT $4`,
		string(model.OrderStatusProcessing),
		string(model.OrderStatusPendingRetry),
		string(model.OrderStatusProviderPurchased),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders for provisioning: %w", err)
	}
	return collectOrders(rows)
}

// UpdateOrder сохраняет состояние заказа при условии, что в БД он всё ещё в статусе expected.
// Если у заказа появился профиль eSIM, он записывается в той же транзакции.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, o *model.Order, expected model.OrderStatus) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		tag, err := tx.Exec(ctx,
			`UPDATE orders
			 SET status = $3, paid_at = $4, completed_at = $5, provider_reference = $6,
			     attempts = $7, last_error = $8, payment_method = $9, updated_at = $10
			 WHERE uuid = $1 AND status = $2`,
			o.UUID, string(expected), string(o.Status), o.PaidAt, o.CompletedAt, o.ProviderReference,
			o.Attempts, o.LastError, o.PaymentMethod, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrStatusConflict
		}

		if o.Esim != nil {
			e := o.Esim
			var dataTotal decimal.NullDecimal
			if e.DataTotalGB != nil {
				dataTotal = decimal.NewNullDecimal(*e.DataTotalGB)
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO esims (order_id, iccid, qr_code_data, lpa_string, smdp_address,
					activation_code, data_used_gb, data_total_gb, expires_at, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				 ON CONFLICT (order_id) DO NOTHING`,
				o.ID, e.ICCID, e.QRCodeData, e.LPAString, e.SMDPAddress,
				e.ActivationCode, e.DataUsedGB, dataTotal, e.ExpiresAt, e.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert esim: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}
