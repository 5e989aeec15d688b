package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"donations/internal/domain"
)

type DonationRepository struct {
	db *sql.DB
}

func NewDonationRepository(db *sql.DB) *DonationRepository {
	return &DonationRepository{db: db}
}

const donationColumns = `id, amount, currency, status, payment_method, gateway_order_id,
		gateway_payment_id, transaction_id, receipt_number, notes, created_at, updated_at, completed_at`

func (r *DonationRepository) CreateTx(ctx context.Context, querier domain.Querier, donation *domain.Donation) error {
	query := `
		INSERT INTO donations (id, amount, currency, status, payment_method, gateway_order_id,
			gateway_payment_id, transaction_id, receipt_number, notes, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := querier.ExecContext(ctx, query,
		donation.ID,
		donation.Amount,
		donation.Currency,
		donation.Status,
		donation.PaymentMethod,
		donation.GatewayOrderID,
		nullString(donation.GatewayPaymentID),
		nullString(donation.TransactionID),
		nullString(donation.ReceiptNumber),
		nullString(donation.Notes),
		donation.CreatedAt,
		donation.UpdatedAt,
		nullTime(donation.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create donation: %w", err)
	}
	return nil
}

func (r *DonationRepository) GetByID(ctx context.Context, querier domain.Querier, id string) (*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE id = $1`
	return scanDonation(querier.QueryRowContext(ctx, query, id))
}

func (r *DonationRepository) GetByOrderID(ctx context.Context, querier domain.Querier, orderID string) (*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE gateway_order_id = $1`
	return scanDonation(querier.QueryRowContext(ctx, query, orderID))
}

func (r *DonationRepository) GetByIDForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE id = $1 FOR UPDATE`
	return scanDonation(tx.QueryRowContext(ctx, query, id))
}

func (r *DonationRepository) GetByOrderIDForUpdateTx(ctx context.Context, tx *sql.Tx, orderID string) (*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE gateway_order_id = $1 FOR UPDATE`
	return scanDonation(tx.QueryRowContext(ctx, query, orderID))
}

func (r *DonationRepository) GetByPaymentIDForUpdateTx(ctx context.Context, tx *sql.Tx, paymentID string) (*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE gateway_payment_id = $1 FOR UPDATE`
	return scanDonation(tx.QueryRowContext(ctx, query, paymentID))
}

func (r *DonationRepository) UpdateTx(ctx context.Context, querier domain.Querier, donation *domain.Donation) error {
	query := `
		UPDATE donations
		SET status = $1, payment_method = $2, gateway_payment_id = $3, transaction_id = $4,
			receipt_number = $5, updated_at = $6, completed_at = $7
		WHERE id = $8
	`
	res, err := querier.ExecContext(ctx, query,
		donation.Status,
		donation.PaymentMethod,
		nullString(donation.GatewayPaymentID),
		nullString(donation.TransactionID),
		nullString(donation.ReceiptNumber),
		donation.UpdatedAt,
		nullTime(donation.CompletedAt),
		donation.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update donation %s: %w", donation.ID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for donation update: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrDonationNotFound
	}
	return nil
}

func (r *DonationRepository) ListStalePending(ctx context.Context, querier domain.Querier, cutoff time.Time, limit int) ([]domain.Donation, error) {
	query := `
		SELECT ` + donationColumns + `
		FROM donations
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	rows, err := querier.QueryContext(ctx, query, domain.DonationStatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending donations: %w", err)
	}
	defer rows.Close()

	var donations []domain.Donation
	for rows.Next() {
		donation, err := scanDonationRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale pending donation: %w", err)
		}
		donations = append(donations, *donation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale pending donations: %w", err)
	}
	return donations, nil
}

func (r *DonationRepository) StatusAggregates(ctx context.Context, querier domain.Querier, from, to time.Time) ([]domain.StatusAggregate, error) {
	query := `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0), COALESCE(AVG(amount), 0)
		FROM donations
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY status
	`
	rows, err := querier.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate donations by status: %w", err)
	}
	defer rows.Close()

	var aggregates []domain.StatusAggregate
	for rows.Next() {
		var agg domain.StatusAggregate
		if err := rows.Scan(&agg.Status, &agg.Count, &agg.TotalAmount, &agg.AvgAmount); err != nil {
			return nil, fmt.Errorf("failed to scan status aggregate: %w", err)
		}
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status aggregates: %w", err)
	}
	return aggregates, nil
}

func (r *DonationRepository) MethodAggregates(ctx context.Context, querier domain.Querier, from, to time.Time) ([]domain.MethodAggregate, error) {
	query := `
		SELECT payment_method, COUNT(*), COALESCE(SUM(amount), 0)
		FROM donations
		WHERE status = $1 AND created_at >= $2 AND created_at <= $3
		GROUP BY payment_method
		ORDER BY SUM(amount) DESC
	`
	rows, err := querier.QueryContext(ctx, query, domain.DonationStatusSuccess, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate donations by method: %w", err)
	}
	defer rows.Close()

	var aggregates []domain.MethodAggregate
	for rows.Next() {
		var agg domain.MethodAggregate
		if err := rows.Scan(&agg.Method, &agg.Count, &agg.TotalAmount); err != nil {
			return nil, fmt.Errorf("failed to scan method aggregate: %w", err)
		}
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating method aggregates: %w", err)
	}
	return aggregates, nil
}

func (r *DonationRepository) DailyAggregates(ctx context.Context, querier domain.Querier, from, to time.Time, limit int) ([]domain.DailyAggregate, error) {
	query := `
		SELECT DATE_TRUNC('day', created_at) AS day, COUNT(*), COALESCE(SUM(amount), 0)
		FROM donations
		WHERE status = $1 AND created_at >= $2 AND created_at <= $3
		GROUP BY day
		ORDER BY day ASC
		LIMIT $4
	`
	rows, err := querier.QueryContext(ctx, query, domain.DonationStatusSuccess, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate donations by day: %w", err)
	}
	defer rows.Close()

	var aggregates []domain.DailyAggregate
	for rows.Next() {
		var agg domain.DailyAggregate
		if err := rows.Scan(&agg.Day, &agg.Count, &agg.TotalAmount); err != nil {
			return nil, fmt.Errorf("failed to scan daily aggregate: %w", err)
		}
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily aggregates: %w", err)
	}
	return aggregates, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDonation(row *sql.Row) (*domain.Donation, error) {
	donation, err := scanDonationRows(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrDonationNotFound
		}
		return nil, fmt.Errorf("failed to get donation: %w", err)
	}
	return donation, nil
}

func scanDonationRows(row rowScanner) (*domain.Donation, error) {
	donation := &domain.Donation{}
	var gatewayPaymentID, transactionID, receiptNumber, notes sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&donation.ID,
		&donation.Amount,
		&donation.Currency,
		&donation.Status,
		&donation.PaymentMethod,
		&donation.GatewayOrderID,
		&gatewayPaymentID,
		&transactionID,
		&receiptNumber,
		&notes,
		&donation.CreatedAt,
		&donation.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	donation.GatewayPaymentID = gatewayPaymentID.String
	donation.TransactionID = transactionID.String
	donation.ReceiptNumber = receiptNumber.String
	donation.Notes = notes.String
	if completedAt.Valid {
		donation.CompletedAt = &completedAt.Time
	}
	return donation, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
