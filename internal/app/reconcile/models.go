package reconcile

import (
	"time"

	"donations/internal/domain"
	"donations/internal/gateway"
)

type InitiateOrderRequest struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Notes    string  `json:"notes"`
}

// CheckoutParams is handed to the browser checkout widget.
type CheckoutParams struct {
	Key         string `json:"key"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	OrderID     string `json:"order_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type InitiateOrderResponse struct {
	DonationID     string                `json:"donation_id"`
	OrderID        string                `json:"order_id"`
	Status         domain.DonationStatus `json:"status"`
	CheckoutParams CheckoutParams        `json:"checkout_params"`
}

type VerifyResult struct {
	DonationID    string                `json:"donation_id"`
	Status        domain.DonationStatus `json:"status"`
	ReceiptNumber string                `json:"receipt_number,omitempty"`
	TransactionID string                `json:"transaction_id,omitempty"`
	Applied       bool                  `json:"applied"`
}

type SyncResult struct {
	DonationID         string                `json:"donation_id"`
	Synced             bool                  `json:"synced"`
	Changed            bool                  `json:"changed"`
	Reason             string                `json:"reason,omitempty"`
	PreviousStatus     domain.DonationStatus `json:"previous_status"`
	CurrentStatus      domain.DonationStatus `json:"current_status"`
	GatewayOrderStatus gateway.OrderStatus   `json:"gateway_order_status,omitempty"`
}

type SweepResult struct {
	Total   int `json:"total"`
	Synced  int `json:"synced"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

type AnalyticsSummary struct {
	TotalTransactions      int64   `json:"total_transactions"`
	SuccessfulTransactions int64   `json:"successful_transactions"`
	FailedTransactions     int64   `json:"failed_transactions"`
	PendingTransactions    int64   `json:"pending_transactions"`
	TotalAmountReceived    float64 `json:"total_amount_received"`
	AvgTransactionValue    float64 `json:"avg_transaction_value"`
	SuccessRate            int     `json:"success_rate"`
}

type Analytics struct {
	Summary    AnalyticsSummary         `json:"summary"`
	ByStatus   []domain.StatusAggregate `json:"by_status"`
	ByMethod   []domain.MethodAggregate `json:"by_method"`
	DailyTrend []domain.DailyAggregate  `json:"daily_trend"`
	From       time.Time                `json:"from"`
	To         time.Time                `json:"to"`
}

type StatusResult struct {
	Donation     *domain.Donation      `json:"donation"`
	Timeline     []domain.PaymentEvent `json:"timeline"`
	GatewayOrder *gateway.Order        `json:"gateway_order,omitempty"`
}
