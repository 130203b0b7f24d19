package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"RestoPOS/app/models"
	"RestoPOS/app/ordersync"
)

// APIKeyHeader carries the till's API key on every /api request
const APIKeyHeader = "X-API-Key"

// StatusError is returned when the order server answers with a non-2xx status
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: API returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

// Client talks to the order server's REST API. It implements ordersync.OrderAPI.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ ordersync.OrderAPI = (*Client)(nil)

// NewClient creates a client for the server at baseURL (e.g. http://10.0.0.5:8080)
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server address the client was created for
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListProducts returns the active catalog
func (c *Client) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := c.do(ctx, http.MethodGet, "/api/products", nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *Client) CreateOrGetOrder(ctx context.Context, tableID uint) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/tables/%d/order", tableID), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := c.do(ctx, http.MethodGet, orderPath(orderID, ""), nil, &order)
	if IsStatus(err, http.StatusNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) UpdateOrder(ctx context.Context, orderID string, req ordersync.UpdateRequest) (*models.Order, error) {
	if req.Items == nil {
		req.Items = []models.LineItem{}
	}
	var order models.Order
	if err := c.do(ctx, http.MethodPut, orderPath(orderID, ""), req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) SendToKitchen(ctx context.Context, orderID string, itemIDs []string) (*models.Order, error) {
	body := map[string][]string{"item_ids": itemIDs}
	var order models.Order
	if err := c.do(ctx, http.MethodPost, orderPath(orderID, "kitchen"), body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) MarkServed(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodPost, orderPath(orderID, "served"), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) Finalize(ctx context.Context, orderID, paymentMethod, receiptURL string) error {
	body := map[string]string{
		"payment_method": paymentMethod,
		"receipt_url":    receiptURL,
	}
	return c.do(ctx, http.MethodPost, orderPath(orderID, "finalize"), body, nil)
}

func (c *Client) CancelUnsentOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, orderPath(orderID, ""), nil, nil)
}

// UploadReceipt stores a PNG receipt on the server and returns its URL
func (c *Client) UploadReceipt(ctx context.Context, orderID string, png []byte) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, orderPath(orderID, "receipt"), bytes.NewReader(png))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "image/png")

	var result struct {
		URL string `json:"url"`
	}
	if err := c.send(req, &result); err != nil {
		return "", err
	}
	if strings.HasPrefix(result.URL, "/") {
		return c.baseURL + result.URL, nil
	}
	return result.URL, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} bodies, falling back to the raw text
func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}

func orderPath(orderID, action string) string {
	path := "/api/orders/" + url.PathEscape(orderID)
	if action != "" {
		path += "/" + action
	}
	return path
}
