package domain

import "time"

type OutboxMessageStatus string

const (
	OutboxStatusPending OutboxMessageStatus = "PENDING"
	OutboxStatusSent    OutboxMessageStatus = "SENT"
	OutboxStatusFailed  OutboxMessageStatus = "FAILED"
)

// OutboxMessage is a donation status update waiting to be published to
// Kafka. Rows are written in the same transaction as the status transition
// they announce.
type OutboxMessage struct {
	ID          string
	DonationID  string
	MessageType string
	Topic       string
	Key         string
	Payload     []byte
	Status      OutboxMessageStatus
	CreatedAt   time.Time
	SentAt      *time.Time
}
