package domain

import "time"

// DonationStatusEvent is the payload published to the donation status topic
// whenever a donation reaches a new status. Downstream consumers (receipt
// mailer, dashboards) key on DonationID.
type DonationStatusEvent struct {
	DonationID       string    `json:"donation_id"`
	GatewayOrderID   string    `json:"gateway_order_id"`
	GatewayPaymentID string    `json:"gateway_payment_id,omitempty"`
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	ReceiptNumber    string    `json:"receipt_number,omitempty"`
	TransactionID    string    `json:"transaction_id,omitempty"`
	Source           string    `json:"source"`
	Timestamp        time.Time `json:"timestamp"`
	Error            string    `json:"error,omitempty"`
}
