package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/esim-orders/internal/model"
)

const packageColumns = `id, slug, name, data_label, validity_label, country, data_gb, validity_days, price, active`

func scanPackage(row pgx.Row) (*model.Package, error) {
	var (
		p      model.Package
		dataGB decimal.NullDecimal
	)
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.DataLabel, &p.ValidityLabel, &p.Country,
		&dataGB, &p.ValidityDays, &p.Price, &p.Active)
	if err != nil {
		return nil, err
	}
	if dataGB.Valid {
		p.DataGB = &dataGB.Decimal
	}
	return &p, nil
}

// ListPackages возвращает пакеты, доступные для покупки.
func (r *PostgresRepository) ListPackages(ctx context.Context) ([]model.Package, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+packageColumns+`
		 FROM packages
		 WHERE active
		 ORDER BY country, price`,
	)
	if err != nil {
		return nil, fmt.Errorf("select packages: %w", err)
	}
	defer rows.Close()

	var res []model.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetPackage возвращает активный пакет по идентификатору.
func (r *PostgresRepository) GetPackage(ctx context.Context, id int64) (*model.Package, error) {
	p, err := scanPackage(r.pool.QueryRow(ctx,
		`SELECT `+packageColumns+` FROM packages WHERE id = $1 AND active`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	return p, nil
}

// GetCoupon возвращает промокод по коду.
func (r *PostgresRepository) GetCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	var c model.Coupon
	err := r.pool.QueryRow(ctx,
		`SELECT code, percent_off, amount_off, expires_at, active FROM coupons WHERE code = $1`,
		code,
	).Scan(&c.Code, &c.PercentOff, &c.AmountOff, &c.ExpiresAt, &c.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	return &c, nil
}
