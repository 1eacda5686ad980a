// Package qrcode рисует QR-коды активации eSIM.
package qrcode

import (
	"errors"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize размер картинки по умолчанию в пикселях.
const DefaultSize = 256

// ErrEmptyPayload возвращается, если кодировать нечего.
var ErrEmptyPayload = errors.New("empty qr payload")

// PNG кодирует payload в PNG размером size×size.
func PNG(payload string, size int) ([]byte, error) {
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	if size <= 0 {
		size = DefaultSize
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}
