package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// EsimUsage содержит производные показатели расхода трафика и срока действия.
// Рассчитывается один раз на сервере и передаётся клиенту готовыми значениями.
type EsimUsage struct {
	DataUsedGB      float64  `json:"data_used_gb"`
	DataTotalGB     *float64 `json:"data_total_gb"`
	DataRemainingGB *float64 `json:"data_remaining_gb"`
	UsagePercentage *float64 `json:"usage_percentage"`
	DaysRemaining   *int     `json:"days_remaining"`
	IsExpired       bool     `json:"is_expired"`
	IsDataDepleted  bool     `json:"is_data_depleted"`
}

// Usage рассчитывает производные поля профиля на момент now.
func (e *Esim) Usage(now time.Time) EsimUsage {
	used, _ := e.DataUsedGB.Float64()
	u := EsimUsage{DataUsedGB: used}

	if e.DataTotalGB != nil {
		total, _ := e.DataTotalGB.Float64()
		u.DataTotalGB = &total

		remaining, _ := decimal.Max(e.DataTotalGB.Sub(e.DataUsedGB), decimal.Zero).Float64()
		u.DataRemainingGB = &remaining
		u.IsDataDepleted = remaining <= 0

		if e.DataTotalGB.IsPositive() {
			pct, _ := e.DataUsedGB.Div(*e.DataTotalGB).Mul(decimal.NewFromInt(100)).Round(2).Float64()
			u.UsagePercentage = &pct
		}
	}

	if e.ExpiresAt != nil {
		days := DaysBetween(now, *e.ExpiresAt)
		u.DaysRemaining = &days
		u.IsExpired = now.After(*e.ExpiresAt)
	}

	return u
}

// DaysBetween возвращает число календарных дней (UTC) от now до until. Отрицательно,
// если until в прошлом.
func DaysBetween(now, until time.Time) int {
	from := truncateDay(now.UTC())
	to := truncateDay(until.UTC())
	return int(math.Round(to.Sub(from).Hours() / 24))
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
