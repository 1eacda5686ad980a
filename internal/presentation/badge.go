// Package presentation отображает состояние заказа и eSIM в значения для интерфейса.
package presentation

import (
	"fmt"
	"time"

	"github.com/mmeshcher/esim-orders/internal/model"
)

// Color задаёт закрытый набор цветов бейджа статуса.
type Color string

const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
	ColorBlue   Color = "blue"
	ColorGray   Color = "gray"
	ColorOrange Color = "orange"
)

// StatusBadge описывает подпись, цвет и иконку статуса заказа.
type StatusBadge struct {
	Label string `json:"label"`
	Color Color  `json:"color"`
	Icon  string `json:"icon"`
}

// Badge возвращает бейдж для статуса. Статусы, которых нет в автомате, получают серый
// бейдж по умолчанию: провайдеры могут прислать новые значения.
func Badge(status model.OrderStatus) StatusBadge {
	switch status {
	case model.OrderStatusCompleted:
		return StatusBadge{Label: "Completed", Color: ColorGreen, Icon: "check-circle"}
	case model.OrderStatusAwaitingPayment:
		return StatusBadge{Label: "Awaiting payment", Color: ColorYellow, Icon: "credit-card"}
	case model.OrderStatusPending:
		return StatusBadge{Label: "Pending", Color: ColorYellow, Icon: "clock"}
	case model.OrderStatusProcessing:
		return StatusBadge{Label: "Processing", Color: ColorBlue, Icon: "loader"}
	case model.OrderStatusProviderPurchased:
		return StatusBadge{Label: "Preparing your eSIM", Color: ColorBlue, Icon: "loader"}
	case model.OrderStatusPendingRetry:
		return StatusBadge{Label: "Processing", Color: ColorOrange, Icon: "refresh-cw"}
	case model.OrderStatusFailed:
		return StatusBadge{Label: "Failed", Color: ColorRed, Icon: "x-circle"}
	}
	return StatusBadge{Label: humanize(string(status)), Color: ColorGray, Icon: "help-circle"}
}

func humanize(s string) string {
	if s == "" {
		return "Unknown"
	}
	b := []byte(s)
	for i, c := range b {
		if c == '_' {
			b[i] = ' '
		}
	}
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

// UsageBarWidth возвращает ширину полосы расхода в процентах, ограниченную [0, 100].
// Источник данных может отдавать значения больше 100 из-за рассинхронизации счётчиков.
func UsageBarWidth(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// UsageBarColor возвращает цвет полосы расхода по порогам 75% и 90%.
func UsageBarColor(pct float64) Color {
	switch {
	case pct > 90:
		return ColorRed
	case pct > 75:
		return ColorOrange
	default:
		return ColorGreen
	}
}

// ExpiryMessage формирует сообщение о сроке действия: «через N дней», «сегодня» или
// «истёк <дата>». Пустая строка, если срок неизвестен.
func ExpiryMessage(usage model.EsimUsage, expiresAt *time.Time) string {
	if usage.DaysRemaining == nil || expiresAt == nil {
		return ""
	}

	days := *usage.DaysRemaining
	switch {
	case usage.IsExpired || days < 0:
		return fmt.Sprintf("Expired on %s", expiresAt.UTC().Format("Jan 2, 2006"))
	case days == 0:
		return "Expires today"
	case days == 1:
		return "Expires in 1 day"
	default:
		return fmt.Sprintf("Expires in %d days", days)
	}
}
