// Package middleware содержит HTTP middleware сервиса продажи eSIM.
package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

// SignatureHeader содержит подпись тела вебхука в виде "sha256=<hex>".
const SignatureHeader = "X-Signature"

const (
	signaturePrefix = "sha256="
	maxWebhookBody  = 1 << 20
)

// SignatureMiddleware проверяет HMAC-подпись тела входящих вебхуков.
type SignatureMiddleware struct {
	secretKey []byte
}

// NewSignatureMiddleware создаёт SignatureMiddleware с указанным секретом.
// Без секрета используется случайный ключ, и ни один вебхук не пройдёт проверку.
func NewSignatureMiddleware(secret string) *SignatureMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = []byte(rand.Text())
	}

	return &SignatureMiddleware{
		secretKey: key,
	}
}

// Middleware отклоняет запросы с отсутствующей или неверной подписью.
// Тело запроса после проверки снова доступно обработчику.
func (s *SignatureMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		r.Body.Close()
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		if !s.verify(r.Header.Get(SignatureHeader), body) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (s *SignatureMiddleware) verify(header string, body []byte) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}

	signature, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}

	return hmac.Equal(signature, sign(s.secretKey, body))
}

func sign(key, body []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign возвращает значение заголовка подписи для тела body.
func Sign(secret string, body []byte) string {
	return signaturePrefix + hex.EncodeToString(sign([]byte(secret), body))
}
