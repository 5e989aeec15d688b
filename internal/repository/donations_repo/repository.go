package donations_repo

import (
	"context"
	"database/sql"
	"time"

	"donations/internal/domain"
)

// DonationRepository persists donation records. The ForUpdate variants take
// a row-level lock and must run inside a transaction; they serialize
// concurrent status transitions on the same donation.
type DonationRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, donation *domain.Donation) error
	GetByID(ctx context.Context, querier domain.Querier, id string) (*domain.Donation, error)
	GetByOrderID(ctx context.Context, querier domain.Querier, orderID string) (*domain.Donation, error)
	GetByIDForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Donation, error)
	GetByOrderIDForUpdateTx(ctx context.Context, tx *sql.Tx, orderID string) (*domain.Donation, error)
	GetByPaymentIDForUpdateTx(ctx context.Context, tx *sql.Tx, paymentID string) (*domain.Donation, error)
	UpdateTx(ctx context.Context, querier domain.Querier, donation *domain.Donation) error
	ListStalePending(ctx context.Context, querier domain.Querier, cutoff time.Time, limit int) ([]domain.Donation, error)
	StatusAggregates(ctx context.Context, querier domain.Querier, from, to time.Time) ([]domain.StatusAggregate, error)
	MethodAggregates(ctx context.Context, querier domain.Querier, from, to time.Time) ([]domain.MethodAggregate, error)
	DailyAggregates(ctx context.Context, querier domain.Querier, from, to time.Time, limit int) ([]domain.DailyAggregate, error)
}
