package provider

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Исходы, которые провайдер сообщает в асинхронном уведомлении.
const (
	CallbackAccepted      = "accepted"
	CallbackSucceeded     = "succeeded"
	CallbackRecoverable   = "recoverable_error"
	CallbackUnrecoverable = "unrecoverable_error"
)

// ErrMalformedCallback возвращается для уведомления без обязательных полей.
var ErrMalformedCallback = errors.New("malformed provisioning callback")

// Callback описывает уведомление провайдера о ходе выпуска профиля.
type Callback struct {
	EventID   string   `json:"event_id"`
	OrderUUID string   `json:"order_uuid"`
	Outcome   string   `json:"outcome"`
	Reference string   `json:"reference,omitempty"`
	Profile   *Profile `json:"profile,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ParseCallback разбирает тело уведомления и проверяет обязательные поля.
func ParseCallback(body []byte) (Callback, error) {
	var c Callback
	if err := json.Unmarshal(body, &c); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if c.OrderUUID == "" {
		return Callback{}, fmt.Errorf("%w: order_uuid is required", ErrMalformedCallback)
	}

	switch c.Outcome {
	case CallbackAccepted:
		if c.Reference == "" {
			return Callback{}, fmt.Errorf("%w: reference is required", ErrMalformedCallback)
		}
	case CallbackRecoverable, CallbackUnrecoverable:
	case CallbackSucceeded:
		if c.Profile == nil || c.Profile.ICCID == "" {
			return Callback{}, fmt.Errorf("%w: profile with iccid is required", ErrMalformedCallback)
		}
	default:
		return Callback{}, fmt.Errorf("%w: unknown outcome %q", ErrMalformedCallback, c.Outcome)
	}
	return c, nil
}
