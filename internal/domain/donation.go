package domain

import (
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

type DonationStatus string

const (
	DonationStatusPending DonationStatus = "PENDING"
	DonationStatusSuccess DonationStatus = "SUCCESS"
	DonationStatusFailed  DonationStatus = "FAILED"
)

// IsTerminal reports whether no further status transitions are permitted.
func (s DonationStatus) IsTerminal() bool {
	return s == DonationStatusSuccess || s == DonationStatusFailed
}

type PaymentMethod string

const (
	PaymentMethodCard       PaymentMethod = "card"
	PaymentMethodUPI        PaymentMethod = "upi"
	PaymentMethodNetbanking PaymentMethod = "netbanking"
	PaymentMethodWallet     PaymentMethod = "wallet"
	PaymentMethodOther      PaymentMethod = "other"
)

// MapGatewayMethod translates a gateway-reported method string to our enum.
func MapGatewayMethod(method string) PaymentMethod {
	switch method {
	case "card":
		return PaymentMethodCard
	case "upi":
		return PaymentMethodUPI
	case "netbanking", "bank_transfer":
		return PaymentMethodNetbanking
	case "wallet":
		return PaymentMethodWallet
	case "emi":
		return PaymentMethodCard
	default:
		return PaymentMethodOther
	}
}

var (
	ErrDonationNotFound     = errors.New("donation not found")
	ErrInvalidAmount        = errors.New("donation amount must be at least 1")
	ErrUnsupportedCurrency  = errors.New("unsupported currency")
	ErrInvalidDonation      = errors.New("invalid donation data")
	ErrAlreadyTerminal      = errors.New("donation is already in a terminal state")
	ErrInvalidSignature     = errors.New("payment signature verification failed")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrDuplicateEvent       = errors.New("gateway event already processed")
	ErrWebhookSecretMissing = errors.New("webhook secret not configured")
)

// Donation is one monetary pledge by a donor. The current status is a cached
// projection of the append-only payment event log; GatewayOrderID is the
// correlation key for every inbound gateway signal and never changes after
// creation.
type Donation struct {
	ID               string
	Amount           float64
	Currency         string
	Status           DonationStatus
	PaymentMethod    PaymentMethod
	GatewayOrderID   string
	GatewayPaymentID string
	TransactionID    string
	ReceiptNumber    string
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

func NewDonation(id, gatewayOrderID string, amount float64, currency, notes string) (*Donation, error) {
	if id == "" || gatewayOrderID == "" {
		return nil, ErrInvalidDonation
	}
	if amount < 1 {
		return nil, ErrInvalidAmount
	}
	now := time.Now()
	return &Donation{
		ID:             id,
		Amount:         amount,
		Currency:       strings.ToUpper(currency),
		Status:         DonationStatusPending,
		PaymentMethod:  PaymentMethodOther,
		GatewayOrderID: gatewayOrderID,
		Notes:          notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// MarkSucceeded applies the PENDING -> SUCCESS transition. Receipt number,
// transaction id, payment id and completion time are stamped exactly once.
// Returns applied=false without mutation when the donation is already
// terminal: re-affirming SUCCESS is an idempotent no-op (nil error), while a
// SUCCESS signal after FAILED is a conflict (ErrAlreadyTerminal).
func (d *Donation) MarkSucceeded(gatewayPaymentID string, method PaymentMethod, now time.Time) (bool, error) {
	if d.Status == DonationStatusSuccess {
		return false, nil
	}
	if d.Status == DonationStatusFailed {
		return false, ErrAlreadyTerminal
	}
	d.Status = DonationStatusSuccess
	d.GatewayPaymentID = gatewayPaymentID
	d.TransactionID = "TXN" + strconv.FormatInt(now.UnixMilli(), 10)
	d.ReceiptNumber = NewReceiptNumber(now)
	if method != "" {
		d.PaymentMethod = method
	}
	completed := now
	d.CompletedAt = &completed
	d.UpdatedAt = now
	return true, nil
}

// MarkFailed applies the PENDING -> FAILED transition. Same terminal-state
// contract as MarkSucceeded: a FAILED signal never undoes a recorded SUCCESS.
func (d *Donation) MarkFailed(now time.Time) (bool, error) {
	if d.Status == DonationStatusFailed {
		return false, nil
	}
	if d.Status == DonationStatusSuccess {
		return false, ErrAlreadyTerminal
	}
	d.Status = DonationStatusFailed
	d.UpdatedAt = now
	return true, nil
}

const receiptAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewReceiptNumber builds a receipt reference in the form
// <timestamp base36>-<4 random chars>, uppercased.
func NewReceiptNumber(now time.Time) string {
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	var b strings.Builder
	b.Grow(len(ts) + 5)
	b.WriteString(ts)
	b.WriteByte('-')
	for i := 0; i < 4; i++ {
		b.WriteByte(receiptAlphabet[rand.Intn(len(receiptAlphabet))])
	}
	return b.String()
}
