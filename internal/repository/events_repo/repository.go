package events_repo

import (
	"context"

	"donations/internal/domain"
)

// EventRepository is the append-only payment event log. Rows are never
// updated or deleted.
type EventRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, event *domain.PaymentEvent) error
	ExistsByExternalID(ctx context.Context, querier domain.Querier, externalEventID string) (bool, error)
	ListByDonationID(ctx context.Context, querier domain.Querier, donationID string) ([]domain.PaymentEvent, error)
}
