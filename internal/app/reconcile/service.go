package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"donations/internal/config"
	"donations/internal/domain"
	"donations/internal/gateway"
	"donations/internal/handler/http/middleware"
	"donations/internal/repository/donations_repo"
	"donations/internal/repository/events_repo"
	"donations/internal/repository/outbox_repo"
	"donations/internal/retry"
	"donations/internal/signature"
	"donations/internal/util"

	"go.uber.org/zap"
)

type ReconcileService interface {
	InitiateOrder(ctx context.Context, req *InitiateOrderRequest) (*InitiateOrderResponse, error)
	VerifyClientCallback(ctx context.Context, orderID, paymentID, sig string) (*VerifyResult, error)
	IngestWebhook(ctx context.Context, rawBody []byte, signatureHeader, externalEventID string) error
	ProcessGatewayEvent(ctx context.Context, rawBody []byte, externalEventID string, source domain.EventSource) error
	SyncStatus(ctx context.Context, donationID string) (*SyncResult, error)
	SweepStalePending(ctx context.Context, olderThan time.Duration) (*SweepResult, error)
	ExpireStalePending(ctx context.Context, olderThan time.Duration) (int, error)
	GetStatus(ctx context.Context, donationID string) (*StatusResult, error)
	MarkFailed(ctx context.Context, donationID, reason string) (*domain.Donation, error)
	GetAnalytics(ctx context.Context, from, to time.Time) (*Analytics, error)
}

// Config carries the reconciliation policy knobs resolved from the
// environment at startup.
type Config struct {
	CheckoutKeyID       string
	KeySecret           string
	WebhookSecret       string
	SignatureMode       string
	RetryPolicy         retry.Policy
	OrderTimeout        time.Duration
	PollTimeout         time.Duration
	SweepBatchSize      int
	MinDonationAmount   float64
	SupportedCurrencies []string
	StatusTopic         string
	SiteName            string
}

type reconcileService struct {
	db           *sql.DB
	donationRepo donations_repo.DonationRepository
	eventRepo    events_repo.EventRepository
	outboxRepo   outbox_repo.OutboxRepository
	gateway      gateway.Client
	cfg          Config
	logger       *zap.Logger
}

func NewReconcileService(
	db *sql.DB,
	donationRepo donations_repo.DonationRepository,
	eventRepo events_repo.EventRepository,
	outboxRepo outbox_repo.OutboxRepository,
	gatewayClient gateway.Client,
	cfg Config,
	logger *zap.Logger,
) ReconcileService {
	return &reconcileService{
		db:           db,
		donationRepo: donationRepo,
		eventRepo:    eventRepo,
		outboxRepo:   outboxRepo,
		gateway:      gatewayClient,
		cfg:          cfg,
		logger:       logger,
	}
}

func (s *reconcileService) InitiateOrder(ctx context.Context, req *InitiateOrderRequest) (*InitiateOrderResponse, error) {
	if req.Amount < s.cfg.MinDonationAmount {
		return nil, fmt.Errorf("amount %.2f is below the minimum of %.2f: %w", req.Amount, s.cfg.MinDonationAmount, domain.ErrInvalidAmount)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !s.isCurrencySupported(currency) {
		return nil, fmt.Errorf("currency %q: %w", req.Currency, domain.ErrUnsupportedCurrency)
	}

	receiptRef := util.NewReceiptRef()
	order, err := retry.Do(ctx, s.cfg.RetryPolicy, s.cfg.OrderTimeout, func(ctx context.Context) (*gateway.Order, error) {
		return s.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
			Amount:   toMinorUnits(req.Amount),
			Currency: currency,
			Receipt:  receiptRef,
			Notes:    map[string]string{"purpose": "donation"},
		})
	})
	if err != nil {
		s.logger.Error("Failed to create gateway order", zap.String("receipt_ref", receiptRef), zap.Error(err))
		if retry.IsRetryable(err) {
			return nil, fmt.Errorf("gateway order creation exhausted retries: %w", domain.ErrGatewayUnavailable)
		}
		return nil, fmt.Errorf("failed to create gateway order: %w", err)
	}

	donation, err := domain.NewDonation(util.GenerateUUID(), order.ID, req.Amount, currency, req.Notes)
	if err != nil {
		return nil, fmt.Errorf("failed to build donation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered panic during donation creation, rolling back", zap.String("donation_id", donation.ID), zap.Any("panic", r))
			tx.Rollback()
			panic(r)
		}
	}()

	if err := s.initiateOrderTx(ctx, tx, donation); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back donation creation", zap.String("donation_id", donation.ID), zap.Error(rbErr))
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit donation creation: %w", err)
	}

	s.logger.Info("Donation order initiated",
		zap.String("donation_id", donation.ID),
		zap.String("gateway_order_id", order.ID),
		zap.Float64("amount", req.Amount),
		zap.String("currency", currency))

	return &InitiateOrderResponse{
		DonationID: donation.ID,
		OrderID:    order.ID,
		Status:     donation.Status,
		CheckoutParams: CheckoutParams{
			Key:         s.cfg.CheckoutKeyID,
			Amount:      order.Amount,
			Currency:    order.Currency,
			OrderID:     order.ID,
			Name:        s.cfg.SiteName,
			Description: "Donation",
		},
	}, nil
}

func (s *reconcileService) initiateOrderTx(ctx context.Context, tx *sql.Tx, donation *domain.Donation) error {
	if err := s.donationRepo.CreateTx(ctx, tx, donation); err != nil {
		return fmt.Errorf("failed to persist donation: %w", err)
	}
	event := &domain.PaymentEvent{
		ID:         util.GenerateUUID(),
		DonationID: donation.ID,
		Kind:       domain.EventKindInitiated,
		Source:     domain.EventSourceClientCallback,
		ResultCode: "order_created",
		Timestamp:  time.Now(),
	}
	if err := s.eventRepo.CreateTx(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to record initiation event: %w", err)
	}
	return nil
}

func (s *reconcileService) VerifyClientCallback(ctx context.Context, orderID, paymentID, sig string) (*VerifyResult, error) {
	donation, err := s.donationRepo.GetByOrderID(ctx, s.db, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load donation for order %s: %w", orderID, err)
	}

	if !signature.VerifyCallback(orderID, paymentID, sig, s.cfg.KeySecret) {
		s.logger.Warn("Client callback signature rejected",
			zap.String("donation_id", donation.ID),
			zap.String("gateway_order_id", orderID))
		event := &domain.PaymentEvent{
			ID:           util.GenerateUUID(),
			DonationID:   donation.ID,
			Kind:         domain.EventKindFailed,
			Source:       domain.EventSourceClientCallback,
			ResultCode:   "signature_mismatch",
			ErrorMessage: "callback signature did not match",
			Timestamp:    time.Now(),
		}
		if evErr := s.eventRepo.CreateTx(ctx, s.db, event); evErr != nil {
			s.logger.Error("Failed to record signature rejection event", zap.String("donation_id", donation.ID), zap.Error(evErr))
		}
		return nil, domain.ErrInvalidSignature
	}

	donation, applied, err := s.applyOutcome(ctx,
		lookup{byOrderID: orderID},
		outcome{
			kind:       domain.EventKindSuccess,
			source:     domain.EventSourceClientCallback,
			paymentID:  paymentID,
			resultCode: "signature_verified",
		})
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		DonationID:    donation.ID,
		Status:        donation.Status,
		ReceiptNumber: donation.ReceiptNumber,
		TransactionID: donation.TransactionID,
		Applied:       applied,
	}, nil
}

func (s *reconcileService) IngestWebhook(ctx context.Context, rawBody []byte, signatureHeader, externalEventID string) error {
	if s.cfg.SignatureMode != config.SignatureModeSkip {
		if s.cfg.WebhookSecret == "" {
			return domain.ErrWebhookSecretMissing
		}
		if !signature.Verify(rawBody, signatureHeader, s.cfg.WebhookSecret) {
			s.logger.Warn("Webhook signature rejected", zap.String("external_event_id", externalEventID))
			return domain.ErrInvalidSignature
		}
	}
	return s.ProcessGatewayEvent(ctx, rawBody, externalEventID, domain.EventSourceWebhook)
}

// ProcessGatewayEvent applies one gateway notification to its donation.
// The webhook handler and the Kafka consumer both land here, so the
// dispatch rules hold regardless of transport.
func (s *reconcileService) ProcessGatewayEvent(ctx context.Context, rawBody []byte, externalEventID string, source domain.EventSource) error {
	if externalEventID != "" {
		seen, err := s.eventRepo.ExistsByExternalID(ctx, s.db, externalEventID)
		if err != nil {
			return fmt.Errorf("failed to check event dedup for %s: %w", externalEventID, err)
		}
		if seen {
			s.logger.Info("Skipping already processed gateway event", zap.String("external_event_id", externalEventID))
			return nil
		}
	}

	env, err := parseWebhookEnvelope(rawBody)
	if err != nil {
		s.logger.Warn("Dropping undecodable gateway event", zap.String("external_event_id", externalEventID), zap.Error(err))
		return nil
	}

	var applyErr error
	switch env.Event {
	case eventPaymentCaptured:
		p := env.payment()
		if p == nil {
			return nil
		}
		_, _, applyErr = s.applyOutcome(ctx,
			lookup{byOrderID: p.OrderID},
			outcome{
				kind:            domain.EventKindSuccess,
				source:          source,
				paymentID:       p.ID,
				method:          domain.MapGatewayMethod(p.Method),
				resultCode:      env.Event,
				payload:         rawBody,
				externalEventID: externalEventID,
			})
	case eventPaymentFailed:
		p := env.payment()
		if p == nil {
			return nil
		}
		_, _, applyErr = s.applyOutcome(ctx,
			lookup{byOrderID: p.OrderID},
			outcome{
				kind:            domain.EventKindFailed,
				source:          source,
				paymentID:       p.ID,
				resultCode:      p.ErrorCode,
				errorMessage:    p.ErrorDescription,
				payload:         rawBody,
				externalEventID: externalEventID,
			})
	case eventPaymentAuthorized:
		p := env.payment()
		if p == nil {
			return nil
		}
		_, _, applyErr = s.applyOutcome(ctx,
			lookup{byOrderID: p.OrderID},
			outcome{
				kind:            domain.EventKindProcessing,
				source:          source,
				paymentID:       p.ID,
				resultCode:      env.Event,
				payload:         rawBody,
				externalEventID: externalEventID,
			})
	case eventOrderPaid:
		o := env.order()
		if o == nil {
			return nil
		}
		out := outcome{
			kind:            domain.EventKindSuccess,
			source:          source,
			resultCode:      env.Event,
			payload:         rawBody,
			externalEventID: externalEventID,
		}
		// order.paid usually arrives with the payment entity attached.
		if p := env.payment(); p != nil {
			out.paymentID = p.ID
			out.method = domain.MapGatewayMethod(p.Method)
		}
		_, _, applyErr = s.applyOutcome(ctx, lookup{byOrderID: o.ID}, out)
	case eventRefundCreated:
		r := env.refund()
		if r == nil {
			return nil
		}
		_, _, applyErr = s.applyOutcome(ctx,
			lookup{byPaymentID: r.PaymentID},
			outcome{
				kind:            domain.EventKindRefund,
				source:          source,
				paymentID:       r.PaymentID,
				resultCode:      env.Event,
				payload:         rawBody,
				externalEventID: externalEventID,
			})
	default:
		s.logger.Info("Ignoring unhandled gateway event", zap.String("event", env.Event))
		return nil
	}

	if applyErr != nil {
		if errors.Is(applyErr, domain.ErrDonationNotFound) {
			s.logger.Warn("Gateway event references unknown donation",
				zap.String("event", env.Event),
				zap.String("external_event_id", externalEventID))
			return nil
		}
		// A concurrent delivery can slip past the pre-check and lose to
		// the unique index instead; that is still just a duplicate.
		if errors.Is(applyErr, domain.ErrDuplicateEvent) {
			s.logger.Info("Skipping concurrently processed gateway event",
				zap.String("event", env.Event),
				zap.String("external_event_id", externalEventID))
			return nil
		}
		return fmt.Errorf("failed to apply gateway event %s: %w", env.Event, applyErr)
	}
	return nil
}

func (s *reconcileService) SyncStatus(ctx context.Context, donationID string) (*SyncResult, error) {
	donation, err := s.donationRepo.GetByID(ctx, s.db, donationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load donation %s: %w", donationID, err)
	}

	result := &SyncResult{
		DonationID:     donation.ID,
		PreviousStatus: donation.Status,
		CurrentStatus:  donation.Status,
	}
	if donation.Status == domain.DonationStatusSuccess {
		result.Synced = true
		result.Reason = "already successful"
		return result, nil
	}

	order, err := retry.Do(ctx, s.cfg.RetryPolicy, s.cfg.PollTimeout, func(ctx context.Context) (*gateway.Order, error) {
		return s.gateway.FetchOrder(ctx, donation.GatewayOrderID)
	})
	if err != nil {
		s.logger.Warn("Gateway order fetch failed during sync",
			zap.String("donation_id", donation.ID),
			zap.Error(err))
		result.Reason = fmt.Sprintf("gateway fetch failed: %v", err)
		return result, nil
	}
	result.GatewayOrderStatus = order.Status

	switch {
	case order.Status == gateway.OrderStatusPaid:
		out := outcome{
			kind:       domain.EventKindSuccess,
			source:     domain.EventSourcePollSync,
			resultCode: "order_paid",
		}
		if p := s.findCapturedPayment(ctx, donation.GatewayOrderID); p != nil {
			out.paymentID = p.ID
			out.method = domain.MapGatewayMethod(p.Method)
		}
		updated, applied, err := s.applyOutcome(ctx, lookup{byID: donation.ID}, out)
		if err != nil {
			return nil, err
		}
		result.Synced = true
		result.Changed = applied
		result.CurrentStatus = updated.Status
	case order.Attempts > 0:
		p := s.findCapturedPayment(ctx, donation.GatewayOrderID)
		if p == nil {
			// Failed attempts alone do not fail the donation. The donor
			// may still retry in the same checkout session.
			result.Synced = true
			result.Reason = "no captured payment yet"
			return result, nil
		}
		updated, applied, err := s.applyOutcome(ctx,
			lookup{byID: donation.ID},
			outcome{
				kind:       domain.EventKindSuccess,
				source:     domain.EventSourcePollSync,
				paymentID:  p.ID,
				method:     domain.MapGatewayMethod(p.Method),
				resultCode: "payment_captured",
			})
		if err != nil {
			return nil, err
		}
		result.Synced = true
		result.Changed = applied
		result.CurrentStatus = updated.Status
	default:
		result.Synced = true
		result.Reason = "no payment attempts yet"
	}
	return result, nil
}

func (s *reconcileService) findCapturedPayment(ctx context.Context, orderID string) *gateway.Payment {
	payments, err := retry.Do(ctx, s.cfg.RetryPolicy, s.cfg.PollTimeout, func(ctx context.Context) ([]gateway.Payment, error) {
		return s.gateway.FetchOrderPayments(ctx, orderID)
	})
	if err != nil {
		s.logger.Warn("Gateway payments fetch failed", zap.String("gateway_order_id", orderID), zap.Error(err))
		return nil
	}
	for i := range payments {
		if payments[i].Status == gateway.PaymentStatusCaptured {
			return &payments[i]
		}
	}
	return nil
}

func (s *reconcileService) SweepStalePending(ctx context.Context, olderThan time.Duration) (*SweepResult, error) {
	cutoff := time.Now().Add(-olderThan)
	stale, err := s.donationRepo.ListStalePending(ctx, s.db, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending donations: %w", err)
	}

	result := &SweepResult{Total: len(stale)}
	for _, donation := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		sync, err := s.SyncStatus(ctx, donation.ID)
		if err != nil {
			s.logger.Error("Sweep failed to sync donation", zap.String("donation_id", donation.ID), zap.Error(err))
			result.Failed++
			continue
		}
		if sync.Synced {
			result.Synced++
		} else {
			// SyncStatus reports an unreachable gateway in Reason rather
			// than an error; the item still failed to sync.
			result.Failed++
		}
		if sync.Changed {
			result.Updated++
		}
	}
	s.logger.Info("Stale pending sweep finished",
		zap.Int("total", result.Total),
		zap.Int("synced", result.Synced),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (s *reconcileService) ExpireStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	stale, err := s.donationRepo.ListStalePending(ctx, s.db, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expirable donations: %w", err)
	}

	expired := 0
	for _, donation := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		_, applied, err := s.applyOutcome(ctx,
			lookup{byID: donation.ID},
			outcome{
				kind:         domain.EventKindFailed,
				source:       domain.EventSourcePollSync,
				resultCode:   "expired",
				errorMessage: "pending donation expired without gateway confirmation",
			})
		if err != nil {
			s.logger.Error("Failed to expire donation", zap.String("donation_id", donation.ID), zap.Error(err))
			continue
		}
		if applied {
			expired++
		}
	}
	if expired > 0 {
		s.logger.Info("Expired stale pending donations", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *reconcileService) GetStatus(ctx context.Context, donationID string) (*StatusResult, error) {
	donation, err := s.donationRepo.GetByID(ctx, s.db, donationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load donation %s: %w", donationID, err)
	}
	timeline, err := s.eventRepo.ListByDonationID(ctx, s.db, donationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load event timeline for %s: %w", donationID, err)
	}

	result := &StatusResult{Donation: donation, Timeline: timeline}
	if donation.Status == domain.DonationStatusPending {
		order, err := retry.Do(ctx, s.cfg.RetryPolicy, s.cfg.PollTimeout, func(ctx context.Context) (*gateway.Order, error) {
			return s.gateway.FetchOrder(ctx, donation.GatewayOrderID)
		})
		if err != nil {
			s.logger.Warn("Gateway order fetch failed for status view", zap.String("donation_id", donationID), zap.Error(err))
		} else {
			result.GatewayOrder = order
		}
	}
	return result, nil
}

func (s *reconcileService) MarkFailed(ctx context.Context, donationID, reason string) (*domain.Donation, error) {
	if reason == "" {
		reason = "cancelled by donor"
	}
	donation, applied, err := s.applyOutcome(ctx,
		lookup{byID: donationID},
		outcome{
			kind:         domain.EventKindFailed,
			source:       domain.EventSourceClientCallback,
			resultCode:   "manual_failure",
			errorMessage: reason,
		})
	if err != nil {
		return nil, err
	}
	if !applied {
		return donation, fmt.Errorf("donation %s is already %s: %w", donationID, donation.Status, domain.ErrAlreadyTerminal)
	}
	return donation, nil
}

func (s *reconcileService) GetAnalytics(ctx context.Context, from, to time.Time) (*Analytics, error) {
	if to.IsZero() {
		to = time.Now()
	}

	byStatus, err := s.donationRepo.StatusAggregates(ctx, s.db, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by status: %w", err)
	}
	byMethod, err := s.donationRepo.MethodAggregates(ctx, s.db, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by method: %w", err)
	}
	daily, err := s.donationRepo.DailyAggregates(ctx, s.db, from, to, 30)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily trend: %w", err)
	}

	summary := AnalyticsSummary{}
	for _, agg := range byStatus {
		summary.TotalTransactions += agg.Count
		switch agg.Status {
		case domain.DonationStatusSuccess:
			summary.SuccessfulTransactions = agg.Count
			summary.TotalAmountReceived = agg.TotalAmount
			summary.AvgTransactionValue = agg.AvgAmount
		case domain.DonationStatusFailed:
			summary.FailedTransactions = agg.Count
		case domain.DonationStatusPending:
			summary.PendingTransactions = agg.Count
		}
	}
	if summary.TotalTransactions > 0 {
		summary.SuccessRate = int(math.Round(float64(summary.SuccessfulTransactions) / float64(summary.TotalTransactions) * 100))
	}

	return &Analytics{
		Summary:    summary,
		ByStatus:   byStatus,
		ByMethod:   byMethod,
		DailyTrend: daily,
		From:       from,
		To:         to,
	}, nil
}

func (s *reconcileService) isCurrencySupported(currency string) bool {
	for _, c := range s.cfg.SupportedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

// lookup selects the key used to lock the donation row. Exactly one
// field must be set.
type lookup struct {
	byID        string
	byOrderID   string
	byPaymentID string
}

// outcome describes one observed gateway result to fold into a donation.
type outcome struct {
	kind            domain.EventKind
	source          domain.EventSource
	paymentID       string
	method          domain.PaymentMethod
	resultCode      string
	errorMessage    string
	payload         json.RawMessage
	externalEventID string
}

// applyOutcome folds a single observed result into the donation inside
// one transaction. The donation row is locked for the duration, the
// transition is applied through the domain state machine, and an event
// row is recorded whether or not the status changed. A status change
// also queues an outbox message.
func (s *reconcileService) applyOutcome(ctx context.Context, look lookup, out outcome) (*domain.Donation, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered panic while applying outcome, rolling back", zap.Any("panic", r))
			tx.Rollback()
			panic(r)
		}
	}()

	donation, applied, err := s.applyOutcomeTx(ctx, tx, look, out)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back outcome transaction", zap.Error(rbErr))
		}
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit outcome transaction: %w", err)
	}

	if applied {
		middleware.RecordDonationReconciled(string(donation.Status), string(out.source))
		s.logger.Info("Donation status updated",
			zap.String("donation_id", donation.ID),
			zap.String("status", string(donation.Status)),
			zap.String("source", string(out.source)))
	}
	return donation, applied, nil
}

func (s *reconcileService) applyOutcomeTx(ctx context.Context, tx *sql.Tx, look lookup, out outcome) (*domain.Donation, bool, error) {
	donation, err := s.lockDonationTx(ctx, tx, look)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	applied := false
	conflict := false
	switch out.kind {
	case domain.EventKindSuccess:
		applied, err = donation.MarkSucceeded(out.paymentID, out.method, now)
	case domain.EventKindFailed:
		applied, err = donation.MarkFailed(now)
	default:
		// Processing and refund notifications never move the status.
	}
	if err != nil {
		if !errors.Is(err, domain.ErrAlreadyTerminal) {
			return nil, false, fmt.Errorf("failed to transition donation %s: %w", donation.ID, err)
		}
		conflict = true
		s.logger.Warn("Conflicting outcome for terminal donation",
			zap.String("donation_id", donation.ID),
			zap.String("status", string(donation.Status)),
			zap.String("attempted", string(out.kind)),
			zap.String("source", string(out.source)))
	}

	if applied {
		if err := s.donationRepo.UpdateTx(ctx, tx, donation); err != nil {
			return nil, false, fmt.Errorf("failed to persist donation %s: %w", donation.ID, err)
		}
		if err := s.queueStatusMessageTx(ctx, tx, donation, out); err != nil {
			return nil, false, err
		}
	}

	event := &domain.PaymentEvent{
		ID:              util.GenerateUUID(),
		DonationID:      donation.ID,
		Kind:            out.kind,
		Source:          out.source,
		Payload:         out.payload,
		ResultCode:      out.resultCode,
		ErrorMessage:    out.errorMessage,
		Conflict:        conflict,
		ExternalEventID: out.externalEventID,
		Timestamp:       now,
	}
	if err := s.eventRepo.CreateTx(ctx, tx, event); err != nil {
		return nil, false, fmt.Errorf("failed to record event for donation %s: %w", donation.ID, err)
	}
	return donation, applied, nil
}

func (s *reconcileService) lockDonationTx(ctx context.Context, tx *sql.Tx, look lookup) (*domain.Donation, error) {
	switch {
	case look.byID != "":
		return s.donationRepo.GetByIDForUpdateTx(ctx, tx, look.byID)
	case look.byOrderID != "":
		return s.donationRepo.GetByOrderIDForUpdateTx(ctx, tx, look.byOrderID)
	case look.byPaymentID != "":
		return s.donationRepo.GetByPaymentIDForUpdateTx(ctx, tx, look.byPaymentID)
	default:
		return nil, fmt.Errorf("no donation lookup key provided")
	}
}

func (s *reconcileService) queueStatusMessageTx(ctx context.Context, tx *sql.Tx, donation *domain.Donation, out outcome) error {
	statusEvent := domain.DonationStatusEvent{
		DonationID:       donation.ID,
		GatewayOrderID:   donation.GatewayOrderID,
		GatewayPaymentID: donation.GatewayPaymentID,
		Amount:           donation.Amount,
		Currency:         donation.Currency,
		Status:           string(donation.Status),
		ReceiptNumber:    donation.ReceiptNumber,
		TransactionID:    donation.TransactionID,
		Source:           string(out.source),
		Timestamp:        time.Now(),
		Error:            out.errorMessage,
	}
	payload, err := json.Marshal(statusEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal status event for donation %s: %w", donation.ID, err)
	}
	msg := &domain.OutboxMessage{
		ID:          util.GenerateUUID(),
		DonationID:  donation.ID,
		MessageType: "donation_status_changed",
		Topic:       s.cfg.StatusTopic,
		Key:         donation.ID,
		Payload:     payload,
		Status:      domain.OutboxStatusPending,
		CreatedAt:   time.Now(),
	}
	if err := s.outboxRepo.CreateMessageTx(ctx, tx, msg); err != nil {
		return fmt.Errorf("failed to queue status message for donation %s: %w", donation.ID, err)
	}
	return nil
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
