// Package payment содержит клиент платёжного шлюза и разбор его вебхуков.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/esim-orders/internal/httpclient"
	"github.com/mmeshcher/esim-orders/internal/validation"
)

// Исходы платежа, которые присылает шлюз.
const (
	OutcomeSucceeded = "succeeded"
	OutcomePending   = "pending"
	OutcomeFailed    = "failed"
)

// ErrMalformedEvent возвращается для вебхука без обязательных полей.
var ErrMalformedEvent = errors.New("malformed payment event")

// SessionRequest описывает запрос на создание платёжной страницы.
type SessionRequest struct {
	OrderUUID   string          `json:"order_uuid"`
	OrderNumber string          `json:"order_number"`
	Amount      decimal.Decimal `json:"amount"`
	Email       string          `json:"email"`
	Method      string          `json:"method"`
	ReturnURL   string          `json:"return_url"`
}

type sessionResponse struct {
	RedirectURL string `json:"redirect_url"`
}

// Gateway инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
}

// NewGateway создаёт клиент платёжного шлюза.
func NewGateway(baseURL string) *Gateway {
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpclient.New(httpclient.Options{
			Name:         "payment-gateway",
			Timeout:      10 * time.Second,
			RetryMax:     2,
			RetryWaitMin: 100 * time.Millisecond,
			RetryWaitMax: time.Second,
		}),
	}
}

// CreateSession создаёт платёжную сессию и возвращает адрес страницы оплаты.
func (g *Gateway) CreateSession(ctx context.Context, req SessionRequest) (string, error) {
	if g == nil || g.baseURL == "" {
		return "", fmt.Errorf("payment gateway not configured")
	}

	base := g.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.OrderUUID)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.RedirectURL == "" {
		return "", fmt.Errorf("empty redirect url")
	}

	return result.RedirectURL, nil
}

// Event описывает уведомление шлюза об исходе платежа.
type Event struct {
	ID          string `json:"id"`
	OrderUUID   string `json:"order_uuid"`
	// OrderNumber повторяет номер, переданный при создании сессии. Может отсутствовать.
	OrderNumber string `json:"order_number,omitempty"`
	Outcome     string `json:"outcome"`
	Method      string `json:"method"`
	Reason      string `json:"reason,omitempty"`
}

// ParseEvent разбирает тело вебхука и проверяет обязательные поля.
func ParseEvent(body []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if e.ID == "" || e.OrderUUID == "" {
		return Event{}, fmt.Errorf("%w: id and order_uuid are required", ErrMalformedEvent)
	}
	if e.OrderNumber != "" && !validation.IsValidOrderNumber(e.OrderNumber) {
		return Event{}, fmt.Errorf("%w: invalid order number %q", ErrMalformedEvent, e.OrderNumber)
	}
	switch e.Outcome {
	case OutcomeSucceeded, OutcomePending, OutcomeFailed:
	default:
		return Event{}, fmt.Errorf("%w: unknown outcome %q", ErrMalformedEvent, e.Outcome)
	}
	return e, nil
}
