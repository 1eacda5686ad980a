// Package storefront предоставляет HTTP-клиент публичного API магазина.
package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmeshcher/esim-orders/internal/httpclient"
	"github.com/mmeshcher/esim-orders/internal/presentation"
)

// ErrOrderNotFound возвращается, если магазин не знает заказа.
var ErrOrderNotFound = errors.New("order not found")

// Client обращается к API магазина.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент магазина по указанному адресу.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		httpClient: httpclient.New(httpclient.Options{
			Name:    "storefront",
			Timeout: 10 * time.Second,
		}),
	}
}

// GetOrder запрашивает представление заказа.
func (c *Client) GetOrder(ctx context.Context, orderUUID string) (*presentation.OrderView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/orders/"+url.PathEscape(orderUUID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrOrderNotFound
	default:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var view presentation.OrderView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &view, nil
}
