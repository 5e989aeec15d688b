package reconcile

import (
	"encoding/json"
	"fmt"
)

// Gateway webhook event names this service reacts to. Anything else is
// acknowledged and ignored.
const (
	eventPaymentCaptured   = "payment.captured"
	eventPaymentFailed     = "payment.failed"
	eventPaymentAuthorized = "payment.authorized"
	eventOrderPaid         = "order.paid"
	eventRefundCreated     = "refund.created"
)

type webhookEnvelope struct {
	Event   string         `json:"event"`
	Payload webhookPayload `json:"payload"`
}

type webhookPayload struct {
	Payment *paymentWrapper `json:"payment,omitempty"`
	Order   *orderWrapper   `json:"order,omitempty"`
	Refund  *refundWrapper  `json:"refund,omitempty"`
}

type paymentWrapper struct {
	Entity paymentEntity `json:"entity"`
}

type orderWrapper struct {
	Entity orderEntity `json:"entity"`
}

type refundWrapper struct {
	Entity refundEntity `json:"entity"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Email            string `json:"email"`
	Contact          string `json:"contact"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

type orderEntity struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Receipt    string `json:"receipt"`
}

type refundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

func parseWebhookEnvelope(rawBody []byte) (*webhookEnvelope, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, fmt.Errorf("failed to decode webhook body: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("webhook body has no event name")
	}
	return &env, nil
}

func (e *webhookEnvelope) payment() *paymentEntity {
	if e.Payload.Payment == nil {
		return nil
	}
	return &e.Payload.Payment.Entity
}

func (e *webhookEnvelope) order() *orderEntity {
	if e.Payload.Order == nil {
		return nil
	}
	return &e.Payload.Order.Entity
}

func (e *webhookEnvelope) refund() *refundEntity {
	if e.Payload.Refund == nil {
		return nil
	}
	return &e.Payload.Refund.Entity
}
