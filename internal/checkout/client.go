package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrMissingToken = errors.New("bearer token is required")

// APIError is a non-2xx answer from the storefront API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storefront api: %d %s", e.Status, e.Message)
}

type apiErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type submitResult struct {
	OrderID string          `json:"orderId"`
	ID      json.RawMessage `json:"id"`
}

func (r submitResult) orderID() string {
	if r.OrderID != "" {
		return r.OrderID
	}
	if len(r.ID) == 0 || string(r.ID) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s
	}
	// numeric ids are passed through verbatim
	return string(r.ID)
}

// Client talks to the order endpoint of the storefront REST API.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

// SubmitOrder posts order on behalf of the holder of token and returns the
// order id assigned by the API. Requests are not retried.
func (c *Client) SubmitOrder(ctx context.Context, token string, order OrderSubmission) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}

	var result submitResult
	var apiErr apiErrorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(order).
		SetResult(&result).
		SetError(&apiErr).
		Post("/orders")
	if err != nil {
		return "", fmt.Errorf("submit order: %w", err)
	}

	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error
		}
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return "", &APIError{Status: resp.StatusCode(), Message: msg}
	}

	id := result.orderID()
	if id == "" {
		return "", fmt.Errorf("submit order: response carries no order id")
	}
	return id, nil
}
