// Package gateway defines the external payment gateway contract the
// reconciliation core depends on. Implementations talk to the real gateway
// over the network and never retry internally; retry policy lives with the
// caller.
package gateway

import (
	"context"
	"fmt"
)

type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusAttempted OrderStatus = "attempted"
	OrderStatusPaid      OrderStatus = "paid"
)

type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "created"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCaptured   PaymentStatus = "captured"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Order is the gateway-side payment intent, correlated 1:1 with a donation.
// Amounts are in minor units (paise for INR).
type Order struct {
	ID         string
	Status     OrderStatus
	Amount     int64
	AmountPaid int64
	AmountDue  int64
	Currency   string
	Receipt    string
	Attempts   int
}

// Payment is one attempt to pay an order.
type Payment struct {
	ID               string
	OrderID          string
	Status           PaymentStatus
	Amount           int64
	Currency         string
	Method           string
	Email            string
	Contact          string
	ErrorCode        string
	ErrorDescription string
}

// CreateOrderRequest carries the caller-generated Receipt reference; reusing
// the same receipt across retries of one initiation lets a deduplicating
// gateway collapse them into a single order.
type CreateOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

type Client interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	FetchOrder(ctx context.Context, orderID string) (*Order, error)
	FetchOrderPayments(ctx context.Context, orderID string) ([]Payment, error)
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// Error is a classified gateway failure. 5xx and transport-level failures
// are retryable; 4xx (bad request, auth) are permanent.
type Error struct {
	StatusCode  int
	Code        string
	Description string
	Transient   bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway error (status %d, code %s): %s", e.StatusCode, e.Code, e.Description)
}

func (e *Error) Retryable() bool {
	return e.Transient
}
