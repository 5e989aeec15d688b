package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.razorpay.com/v1"

type razorpayClient struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRazorpayClient builds a Client over the Razorpay REST API. Timeouts are
// enforced per attempt by the caller's context, not by the http.Client.
func NewRazorpayClient(baseURL, keyID, keySecret string, logger *zap.Logger) Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &razorpayClient{
		baseURL:    baseURL,
		keyID:      keyID,
		keySecret:  keySecret,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

type orderWire struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Attempts   int    `json:"attempts"`
}

type paymentWire struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Method           string `json:"method"`
	Email            string `json:"email"`
	Contact          string `json:"contact"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

type gatewayErrorWire struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *razorpayClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	body := map[string]any{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}
	var wire orderWire
	if err := c.do(ctx, http.MethodPost, "/orders", body, &wire); err != nil {
		return nil, err
	}
	return wire.toOrder(), nil
}

func (c *razorpayClient) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	var wire orderWire
	if err := c.do(ctx, http.MethodGet, "/orders/"+orderID, nil, &wire); err != nil {
		return nil, err
	}
	return wire.toOrder(), nil
}

func (c *razorpayClient) FetchOrderPayments(ctx context.Context, orderID string) ([]Payment, error) {
	var wire struct {
		Items []paymentWire `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/orders/"+orderID+"/payments", nil, &wire); err != nil {
		return nil, err
	}
	payments := make([]Payment, 0, len(wire.Items))
	for _, item := range wire.Items {
		payments = append(payments, *item.toPayment())
	}
	return payments, nil
}

func (c *razorpayClient) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var wire paymentWire
	if err := c.do(ctx, http.MethodGet, "/payments/"+paymentID, nil, &wire); err != nil {
		return nil, err
	}
	return wire.toPayment(), nil
}

func (c *razorpayClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode gateway request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode >= 400 {
		gwErr := &Error{
			StatusCode: resp.StatusCode,
			Transient:  resp.StatusCode >= 500,
		}
		var wire gatewayErrorWire
		if json.Unmarshal(raw, &wire) == nil {
			gwErr.Code = wire.Error.Code
			gwErr.Description = wire.Error.Description
		}
		c.logger.Warn("Gateway returned error response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", gwErr.Code),
		)
		return gwErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}

func (w *orderWire) toOrder() *Order {
	return &Order{
		ID:         w.ID,
		Status:     OrderStatus(w.Status),
		Amount:     w.Amount,
		AmountPaid: w.AmountPaid,
		AmountDue:  w.AmountDue,
		Currency:   w.Currency,
		Receipt:    w.Receipt,
		Attempts:   w.Attempts,
	}
}

func (w *paymentWire) toPayment() *Payment {
	return &Payment{
		ID:               w.ID,
		OrderID:          w.OrderID,
		Status:           PaymentStatus(w.Status),
		Amount:           w.Amount,
		Currency:         w.Currency,
		Method:           w.Method,
		Email:            w.Email,
		Contact:          w.Contact,
		ErrorCode:        w.ErrorCode,
		ErrorDescription: w.ErrorDescription,
	}
}
