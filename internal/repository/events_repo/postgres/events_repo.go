package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"donations/internal/domain"
)

type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) CreateTx(ctx context.Context, querier domain.Querier, event *domain.PaymentEvent) error {
	query := `
		INSERT INTO payment_events (id, donation_id, kind, source, payload, result_code,
			error_message, conflict, external_event_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	var payload any
	if len(event.Payload) > 0 {
		payload = []byte(event.Payload)
	}
	_, err := querier.ExecContext(ctx, query,
		event.ID,
		event.DonationID,
		event.Kind,
		event.Source,
		payload,
		nullString(event.ResultCode),
		nullString(event.ErrorMessage),
		event.Conflict,
		nullString(event.ExternalEventID),
		event.Timestamp,
	)
	if err != nil {
		// A unique violation on the external event id means a concurrent
		// delivery of the same gateway event already landed.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "idx_payment_events_external_event_id" {
			return fmt.Errorf("external event %s: %w", event.ExternalEventID, domain.ErrDuplicateEvent)
		}
		return fmt.Errorf("failed to append payment event: %w", err)
	}
	return nil
}

func (r *EventRepository) ExistsByExternalID(ctx context.Context, querier domain.Querier, externalEventID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM payment_events WHERE external_event_id = $1)`
	var exists bool
	if err := querier.QueryRowContext(ctx, query, externalEventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check payment event by external id: %w", err)
	}
	return exists, nil
}

func (r *EventRepository) ListByDonationID(ctx context.Context, querier domain.Querier, donationID string) ([]domain.PaymentEvent, error) {
	query := `
		SELECT id, donation_id, kind, source, payload, result_code, error_message, conflict, external_event_id, created_at
		FROM payment_events
		WHERE donation_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := querier.QueryContext(ctx, query, donationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment events for donation %s: %w", donationID, err)
	}
	defer rows.Close()

	var events []domain.PaymentEvent
	for rows.Next() {
		var event domain.PaymentEvent
		var payload []byte
		var resultCode, errorMessage, externalEventID sql.NullString
		err := rows.Scan(
			&event.ID,
			&event.DonationID,
			&event.Kind,
			&event.Source,
			&payload,
			&resultCode,
			&errorMessage,
			&event.Conflict,
			&externalEventID,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment event: %w", err)
		}
		event.Payload = payload
		event.ResultCode = resultCode.String
		event.ErrorMessage = errorMessage.String
		event.ExternalEventID = externalEventID.String
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
