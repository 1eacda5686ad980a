package model

import "errors"

// OrderStatus описывает статус заказа на пути от оплаты до выдачи eSIM.
type OrderStatus string

const (
	OrderStatusAwaitingPayment   OrderStatus = "awaiting_payment"
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusProcessing        OrderStatus = "processing"
	OrderStatusProviderPurchased OrderStatus = "provider_purchased"
	OrderStatusPendingRetry      OrderStatus = "pending_retry"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusFailed            OrderStatus = "failed"
)

// ErrInvalidTransition возвращается при попытке перевести заказ в недопустимый статус.
var ErrInvalidTransition = errors.New("invalid order status transition")

// KnownStatuses перечисляет все статусы конечного автомата заказа.
var KnownStatuses = []OrderStatus{
	OrderStatusAwaitingPayment,
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusProviderPurchased,
	OrderStatusPendingRetry,
	OrderStatusCompleted,
	OrderStatusFailed,
}

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusAwaitingPayment: {
		OrderStatusProcessing,
		OrderStatusPending,
		OrderStatusPendingRetry,
		OrderStatusFailed,
	},
	OrderStatusPending: {
		OrderStatusProcessing,
		OrderStatusPendingRetry,
		OrderStatusFailed,
	},
	OrderStatusProcessing: {
		OrderStatusProviderPurchased,
		OrderStatusPendingRetry,
		OrderStatusFailed,
	},
	OrderStatusProviderPurchased: {
		OrderStatusCompleted,
		OrderStatusPendingRetry,
		OrderStatusFailed,
	},
	OrderStatusPendingRetry: {
		OrderStatusProcessing,
		OrderStatusProviderPurchased,
		OrderStatusFailed,
	},
}

// ParseOrderStatus приводит строку к статусу. Неизвестное значение сохраняется как есть,
// второй результат сообщает, входит ли оно в конечный автомат.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	status := OrderStatus(s)
	for _, known := range KnownStatuses {
		if status == known {
			return status, true
		}
	}
	return status, false
}

// IsTerminal сообщает, что из статуса нет автоматических переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

// IsPolling сообщает, что клиент должен продолжать опрашивать заказ в этом статусе.
// Неизвестные статусы не опрашиваются.
func (s OrderStatus) IsPolling() bool {
	switch s {
	case OrderStatusAwaitingPayment,
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusProviderPurchased,
		OrderStatusPendingRetry:
		return true
	}
	return false
}

// CanTransition проверяет, определён ли переход from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ShouldKeepPolling объединяет два условия продолжения опроса: статус не конечный,
// либо заказ завершён, но данные eSIM ещё не доехали.
func ShouldKeepPolling(status OrderStatus, hasEsim bool) bool {
	if status.IsPolling() {
		return true
	}
	return status == OrderStatusCompleted && !hasEsim
}
