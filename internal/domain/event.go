package domain

import (
	"encoding/json"
	"time"
)

type EventKind string

const (
	EventKindInitiated  EventKind = "INITIATED"
	EventKindProcessing EventKind = "PROCESSING"
	EventKindSuccess    EventKind = "SUCCESS"
	EventKindFailed     EventKind = "FAILED"
	EventKindRefund     EventKind = "REFUND"
)

type EventSource string

const (
	EventSourceClientCallback EventSource = "client-callback"
	EventSourceWebhook        EventSource = "webhook"
	EventSourcePollSync       EventSource = "poll-sync"
	EventSourceManualTest     EventSource = "manual-test"
)

// PaymentEvent is one immutable audit record of an attempt to affect a
// donation's status. Events are created once, never mutated and never
// deleted; rejected and duplicate attempts are recorded too, with Conflict
// set when a terminal-state violation was refused.
type PaymentEvent struct {
	ID              string
	DonationID      string
	Kind            EventKind
	Source          EventSource
	Payload         json.RawMessage
	ResultCode      string
	ErrorMessage    string
	Conflict        bool
	ExternalEventID string
	Timestamp       time.Time
}
