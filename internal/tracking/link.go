// Package tracking выдаёт и проверяет ссылки для отслеживания заказов по e-mail.
package tracking

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrLinkExpired возвращается для ссылки с истёкшим сроком действия.
	ErrLinkExpired = errors.New("tracking link expired")
	// ErrLinkInvalid возвращается для повреждённой или поддельной ссылки.
	ErrLinkInvalid = errors.New("tracking link invalid")
	// ErrEmptySecret возвращается при попытке создать Issuer без ключа подписи.
	ErrEmptySecret = errors.New("tracking secret is empty")
)

const audience = "order-tracking"

// Issuer подписывает и проверяет токены ссылок отслеживания.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer создаёт Issuer с ключом подписи secret и временем жизни ссылки ttl.
// Пустой ключ недопустим: токен, подписанный пустым ключом, может выпустить кто угодно.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}, nil
}

// NewEphemeralIssuer создаёт Issuer со случайным ключом. Выданные им ссылки перестают
// действовать после перезапуска процесса.
func NewEphemeralIssuer(ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(rand.Text()), ttl: ttl}
}

// TTL возвращает время жизни ссылки.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue выпускает токен для адреса email, действующий до now+TTL.
func (i *Issuer) Issue(email string, now time.Time) (string, time.Time, error) {
	if len(i.secret) == 0 {
		return "", time.Time{}, ErrEmptySecret
	}

	expiresAt := now.Add(i.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   email,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify проверяет токен и возвращает адрес, для которого он выпущен.
func (i *Issuer) Verify(token string, now time.Time) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if len(i.secret) == 0 {
			return nil, ErrEmptySecret
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrLinkExpired
		}
		return "", fmt.Errorf("%w: %v", ErrLinkInvalid, err)
	}
	if claims.Subject == "" {
		return "", ErrLinkInvalid
	}
	return claims.Subject, nil
}
