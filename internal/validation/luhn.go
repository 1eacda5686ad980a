// Package validation содержит функции валидации и нормализации входных данных.
package validation

import (
	"strconv"
	"strings"
	"unicode"
)

// IsValidOrderNumber проверяет корректность номера заказа по алгоритму Луна.
func IsValidOrderNumber(number string) bool {
	if number == "" {
		return false
	}

	sum, ok := luhnSum(number, false)
	if !ok {
		return false
	}

	return sum%10 == 0
}

// WithCheckDigit дописывает к строке цифр контрольную цифру Луна.
func WithCheckDigit(digits string) string {
	sum, ok := luhnSum(digits, true)
	if !ok {
		return ""
	}
	check := (10 - sum%10) % 10
	return digits + strconv.Itoa(check)
}

func luhnSum(number string, doubleFirst bool) (int, bool) {
	sum := 0
	double := doubleFirst

	for i := len(number) - 1; i >= 0; i-- {
		ch := rune(number[i])
		if !unicode.IsDigit(ch) {
			return 0, false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum, true
}

// IsValidICCID проверяет формат ICCID: 18–22 цифры с префиксом телеком-отрасли 89.
// Контрольная цифра не проверяется, провайдеры выдают ICCID как с ней, так и без неё.
func IsValidICCID(iccid string) bool {
	if len(iccid) < 18 || len(iccid) > 22 || !strings.HasPrefix(iccid, "89") {
		return false
	}
	for _, ch := range iccid {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}

// NormalizeEmail приводит адрес к виду, в котором он хранится и ищется.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
