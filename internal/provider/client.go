// Package provider предоставляет клиент внешнего провайдера, выпускающего профили eSIM.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/esim-orders/internal/httpclient"
)

// ErrRejected возвращается, если провайдер окончательно отказал в выпуске профиля.
var ErrRejected = errors.New("provider rejected the request")

// ErrNoReference возвращается при запросе профиля без ссылки провайдера.
var ErrNoReference = errors.New("provider reference is empty")

// Статусы профиля на стороне провайдера.
const (
	ProfileStatusPending = "pending"
	ProfileStatusReady   = "ready"
	ProfileStatusFailed  = "failed"
)

// Client инкапсулирует HTTP-взаимодействие с провайдером eSIM.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// PurchaseRequest описывает запрос на покупку профиля.
type PurchaseRequest struct {
	OrderUUID string `json:"order_uuid"`
	PackageID int64  `json:"package_id"`
	Country   string `json:"country"`
	Email     string `json:"email"`
}

// PurchaseResponse описывает ответ провайдера на покупку профиля.
type PurchaseResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// Profile описывает выпущенный профиль eSIM.
type Profile struct {
	Reference      string     `json:"reference"`
	Status         string     `json:"status"`
	ICCID          string     `json:"iccid"`
	QRCode         string     `json:"qr_code,omitempty"`
	LPA            string     `json:"lpa,omitempty"`
	SMDPAddress    string     `json:"smdp_address"`
	ActivationCode string     `json:"activation_code"`
	DataTotalGB    *float64   `json:"data_total_gb,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// NewClient создаёт HTTP-клиент провайдера по указанному адресу.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: httpclient.New(httpclient.Options{
			Name:         "esim-provider",
			Timeout:      10 * time.Second,
			RetryMax:     2,
			RetryWaitMin: 100 * time.Millisecond,
			RetryWaitMax: time.Second,
		}),
	}
}

func (c *Client) endpoint(path string) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("provider client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base + path, nil
}

// Purchase отправляет запрос на покупку профиля. Номер заказа передаётся как ключ
// идемпотентности, повторный запрос не приводит к повторной покупке.
func (c *Client) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResponse, int, time.Duration, error) {
	u, err := c.endpoint("/v1/esims/purchase")
	if err != nil {
		return nil, 0, 0, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.OrderUUID)

	var result PurchaseResponse
	code, retryAfter, err := c.do(httpReq, &result, http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusConflict)
	if err != nil || retryAfter > 0 {
		return nil, code, retryAfter, err
	}
	return &result, code, 0, nil
}

// GetProfile запрашивает состояние профиля по ссылке провайдера. Пока профиль не готов,
// провайдер отвечает 202 или 204, и результат равен nil.
func (c *Client) GetProfile(ctx context.Context, reference string) (*Profile, int, time.Duration, error) {
	if reference == "" {
		return nil, 0, 0, ErrNoReference
	}

	u, err := c.endpoint("/v1/esims/" + url.PathEscape(reference))
	if err != nil {
		return nil, 0, 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}

	var result Profile
	code, retryAfter, err := c.do(httpReq, &result, http.StatusOK)
	if err != nil || retryAfter > 0 {
		return nil, code, retryAfter, err
	}
	if code == http.StatusAccepted || code == http.StatusNoContent {
		return nil, code, 0, nil
	}
	return &result, code, 0, nil
}

// do выполняет запрос. Ошибки соединения и ответы 5xx уже повторены транспортом,
// здесь остаётся разобрать итоговый ответ.
func (c *Client) do(req *http.Request, out any, decodeOn ...int) (int, time.Duration, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil && seconds > 0 {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return resp.StatusCode, retryAfter, nil
	}

	for _, code := range decodeOn {
		if resp.StatusCode != code {
			continue
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
		}
		return resp.StatusCode, 0, nil
	}

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, 0, nil
	}

	err = fmt.Errorf("unexpected status: %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		err = fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return resp.StatusCode, 0, err
}
