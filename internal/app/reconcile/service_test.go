package reconcile

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	"donations/internal/config"
	"donations/internal/domain"
	"donations/internal/gateway"
	"donations/internal/retry"
)

const (
	testKeySecret     = "key_secret_test"
	testWebhookSecret = "whsec_test"
)

func newTestService(t *testing.T, donationRepo *fakeDonationRepo, eventRepo *fakeEventRepo, outboxRepo *fakeOutboxRepo, gw gateway.Client) (ReconcileService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	cfg := Config{
		CheckoutKeyID: "rzp_test_key",
		KeySecret:     testKeySecret,
		WebhookSecret: testWebhookSecret,
		SignatureMode: config.SignatureModeEnforce,
		RetryPolicy: retry.Policy{
			BaseDelay:  time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
			Multiplier: 2,
			MaxRetries: 1,
		},
		OrderTimeout:        time.Second,
		PollTimeout:         time.Second,
		SweepBatchSize:      50,
		MinDonationAmount:   1,
		SupportedCurrencies: []string{"INR", "USD"},
		StatusTopic:         "donation_status_updates",
		SiteName:            "Donations",
	}
	svc := NewReconcileService(db, donationRepo, eventRepo, outboxRepo, gw, cfg, zap.NewNop())
	return svc, mock
}

func expectTxs(mock sqlmock.Sqlmock, commits, rollbacks int) {
	for i := 0; i < commits; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
	for i := 0; i < rollbacks; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}
}

func pendingDonation(id, orderID string) *domain.Donation {
	d, err := domain.NewDonation(id, orderID, 250, "INR", "")
	if err != nil {
		panic(err)
	}
	return d
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func capturedWebhook(orderID, paymentID, method string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"payment.captured","payload":{"payment":{"entity":{"id":%q,"order_id":%q,"status":"captured","method":%q,"amount":25000,"currency":"INR"}}}}`,
		paymentID, orderID, method))
}

func failedWebhook(orderID, paymentID string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"payment.failed","payload":{"payment":{"entity":{"id":%q,"order_id":%q,"status":"failed","error_code":"BAD_REQUEST_ERROR","error_description":"card declined"}}}}`,
		paymentID, orderID))
}

func TestProcessGatewayEventPaymentCaptured(t *testing.T) {
	donationRepo := newFakeDonationRepo(pendingDonation("don-1", "order_1"))
	eventRepo := newFakeEventRepo()
	outboxRepo := &fakeOutboxRepo{}
	svc, mock := newTestService(t, donationRepo, eventRepo, outboxRepo, newFakeGateway())
	expectTxs(mock, 1, 0)

	body := capturedWebhook("order_1", "pay_1", "upi")
	if err := svc.ProcessGatewayEvent(context.Background(), body, "evt_1", domain.EventSourceWebhook); err != nil {
		t.Fatalf("ProcessGatewayEvent returned error: %v", err)
	}

	updated, _ := donationRepo.GetByID(context.Background(), nil, "don-1")
	if updated.Status != domain.DonationStatusSuccess {
		t.Errorf("expected status SUCCESS, got %s", updated.Status)
	}
	if updated.GatewayPaymentID != "pay_1" {
		t.Errorf("expected payment id pay_1, got %q", updated.GatewayPaymentID)
	}
	if updated.PaymentMethod != domain.PaymentMethodUPI {
		t.Errorf("expected method upi, got %s", updated.PaymentMethod)
	}
	if updated.ReceiptNumber == "" || updated.TransactionID == "" {
		t.Error("receipt number and transaction id must be stamped")
	}

	event := eventRepo.lastEvent()
	if event == nil || event.Kind != domain.EventKindSuccess || event.Source != domain.EventSourceWebhook {
		t.Errorf("expected SUCCESS webhook event, got %+v", event)
	}
	if event.ExternalEventID != "evt_1" {
		t.Errorf("expected external event id evt_1, got %q", event.ExternalEventID)
	}
	if outboxRepo.count() != 1 {
		t.Errorf("expected 1 outbox message, got %d", outboxRepo.count())
	}
}

func TestProcessGatewayEventDeduplicatesByExternalID(t *testing.T) {
	donationRepo := newFakeDonationRepo(pendingDonation("don-1", "order_1"))
	eventRepo := newFakeEventRepo()
	outboxRepo := &fakeOutboxRepo{}
	svc, mock := newTestService(t, donationRepo, eventRepo, outboxRepo, newFakeGateway())
	expectTxs(mock, 1, 0)

	body := capturedWebhook("order_1", "pay_1", "card")
	ctx := context.Background()
	if err := svc.ProcessGatewayEvent(ctx, body, "evt_dup", domain.EventSourceWebhook); err != nil {
		t.Fatalf("first delivery returned error: %v", err)
	}
	if err := svc.ProcessGatewayEvent(ctx, body, "evt_dup", domain.EventSourceWebhook); err != nil {
		t.Fatalf("duplicate delivery returned error: %v", err)
	}

	if len(eventRepo.events) != 1 {
		t.Errorf("duplicate delivery must not append events, got %d", len(eventRepo.events))
	}
	if outboxRepo.count() != 1 {
		t.Errorf("duplicate delivery must not queue outbox messages, got %d", outboxRepo.count())
	}
}

func TestProcessGatewayEventAcksConcurrentDuplicate(t *testing.T) {
	// A second in-flight delivery of the same event id can pass the
	// dedup pre-check and then lose to the unique index on insert.
	donationRepo := newFakeDonationRepo(pendingDonation("don-1", "order_1"))
	eventRepo := newFakeEventRepo()
	eventRepo.createErr = fmt.Errorf("external event evt_race: %w", domain.ErrDuplicateEvent)
	outboxRepo := &fakeOutboxRepo{}
	svc, mock := newTestService(t, donationRepo, eventRepo, outboxRepo, newFakeGateway())
	expectTxs(mock, 0, 1)

	body := capturedWebhook("order_1", "pay_1", "card")
	if err := svc.ProcessGatewayEvent(context.Background(), body, "evt_race", domain.EventSourceWebhook); err != nil {
		t.Errorf("losing a duplicate race must still be acknowledged, got %v", err)
	}
}

func TestProcessGatewayEventFailureAfterSuccessIsConflict(t *testing.T) {
	donationRepo := newFakeDonationRepo(pendingDonation("don-1", "order_1"))
	eventRepo := newFakeEventRepo()
	outboxRepo := &fakeOutboxRepo{}
	svc, mock := newTestService(t, donationRepo, eventRepo, outboxRepo, newFakeGateway())
	expectTxs(mock, 2, 0)

	ctx := context.Background()
	if err := svc.ProcessGatewayEvent(ctx, capturedWebhook("order_1", "pay_1", "card"), "evt_1", domain.EventSourceWebhook); err != nil {
		t.Fatalf("captured delivery returned error: %v", err)
	}
	if err := svc.ProcessGatewayEvent(ctx, failedWebhook("order_1", "pay_1"), "evt_2", domain.EventSourceWebhook); err != nil {
		t.Fatalf("conflicting failure delivery returned error: %v", err)
	}

	updated, _ := donationRepo.GetByID(ctx, nil, "don-1")
	if updated.Status != domain.DonationStatusSuccess {
		t.Errorf("recorded SUCCESS must stick, got %s", updated.Status)
	}

	event := eventRepo.lastEvent()
	if event == nil || event.Kind != domain.EventKindFailed {
		t.Fatalf("conflicting signal must still be recorded, got %+v", event)
	}
	if !event.Conflict {
		t.Error("expected the conflicting event to carry the conflict marker")
	}
	if outboxRepo.count() != 1 {
		t.Errorf("conflict must not queue a second outbox message, got %d", outboxRepo.count())
	}
}

func TestProcessGatewayEventAuthorizedIsEventOnly(t *testing.T) {
	donationRepo := newFakeDonationRepo(pendingDonation("don-1", "order_1"))
	eventRepo := newFakeEventRepo()
	outboxRepo := &fakeOutboxRepo{}
	svc, mock := newTestService(t, donationRepo, eventRepo, outboxRepo, newFakeGateway())
	expectTxs(mock, 1, 0)

	body := []byte(`{"event":"payment.authorized","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","status":"authorized"}}}}`)
	if err := svc.ProcessGatewayEvent(context.Background(), body, "evt_1", domain.EventSourceWebhook); err != nil {
		t.Fatalf("ProcessGatewayEvent returned error: %v", err)
	}

	updated, _ := donationRepo.GetByID(context.Background(), nil, "don-1")
	if updated.Status != domain.DonationStatusPending {
		t.Errorf("authorized must not change status, got %s", updated.Status)
	}
	event := eventRepo.lastEvent()
	if event == nil || event.Kind != domain.EventKindProcessing {
		t.Errorf("expected PROCESSING event, got %+v", event)
	}
	if outboxRepo.count() != 0 {
		t.Errorf("event-only notification must not queue outbox messages, got %d", outboxRepo.count())
	}
}

func TestProcessGatewayEventRefundLooksUpByPaymentID(t *testing.T) {
	donation := pendingDonation("don-1", "order_1")
	donation.MarkSucceeded("pay_1", domain.PaymentMethodCard, time.Now())
	donationRepo := newFakeDonationRepo(donation)
	eventRepo := newFakeEventRepo()
	outboxRepo := &fakeOutboxRepo{}
	svc, mock := newTestService(t, donationRepo, eventRepo, outboxRepo, newFakeGateway())
	expectTxs(mock, 1, 0)

	body := []byte(`{"event":"refund.created","payload":{"refund":{"entity":{"id":"rfnd_1","payment_id":"pay_1","amount":25000}}}}`)
	if err := svc.ProcessGatewayEvent(context.Background(), body, "evt_1", domain.EventSourceWebhook); err != nil {
		t.Fatalf("ProcessGatewayEvent returned error: %v", err)
	}

	updated, _ := donationRepo.GetByID(context.Background(), nil, "don-1")
	if updated.Status != domain.DonationStatusSuccess {
		t.Errorf("refund notification must not change status, got %s", updated.Status)
	}
	event := eventRepo.lastEvent()
	if event == nil || event.Kind != domain.EventKindRefund || event.DonationID != "don-1" {
		t.Errorf("expected REFUND event on don-1, got %+v", event)
	}
}

func TestProcessGatewayEventUnknownDonationIsDropped(t *testing.T) {
	donationRepo := newFakeDonationRepo()
	eventRepo := newFakeEventRepo()
	svc, mock := newTestService(t, donationRepo, eventRepo, &fakeOutboxRepo{}, newFakeGateway())
	expectTxs(mock, 0, 1)

	body := capturedWebhook("order_unknown", "pay_1", "card")
	if err := svc.ProcessGatewayEvent(context.Background(), body, "evt_1", domain.EventSourceWebhook); err != nil {
		t.Errorf("unknown donation must be acknowledged, got %v", err)
	}
	if len(eventRepo.events) != 0 {
		t.Errorf("no events expected for unknown donation, got %d", len(eventRepo.events))
	}
}

func TestProcessGatewayEventIgnoresUnhandledEvents(t *testing.T) {
	svc, _ := newTestService(t, newFakeDonationRepo(), newFakeEventRepo(), &fakeOutboxRepo{}, newFakeGateway())
	body := []byte(`{"event":"settlement.processed","payload":{}}`)
	if err := svc.ProcessGatewayEvent(context.Background(), body, "evt_1", domain.EventSourceWebhook); err != nil {
		t.Errorf("unhandled event must be acknowledged, got %v", err)
	}
}

func TestIngestWebhookRejectsBadSignature(t *testing.T) {
	donationRepo := newFakeDonationRepo(pendingDonation("don-1", "order_1"))
	eventRepo := newFakeEventRepo()
	svc, _ := newTestService(t, donationRepo, eventRepo, &fakeOutboxRepo{}, newFakeGateway())

	body := capturedWebhook("order_1", "pay_1", "card")
	err := svc.IngestWebhook(context.Background(), body, "deadbeef", "evt_1")
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}

	updated, _ := donationRepo.GetByID(context.Background(), nil, "don-1")
	if updated.Status != domain.DonationStatusPending {
		t.Errorf("rejected webhook must not change status, got %s", updated.Status)
	}
}

func TestIngestWebhookAcceptsValidSignature(t *testing.T) {
	donationRepo := newFakeDonationRepo(pendingDonation("don-1", "order_1"))
	eventRepo := newFakeEventRepo()
	outboxRepo := &fakeOutboxRepo{}
	svc, mock := newTestService(t, donationRepo, eventRepo, outboxRepo, newFakeGateway())
	expectTxs(mock, 1, 0)

	body := capturedWebhook("order_1", "pay_1", "card")
	if err := svc.IngestWebhook(context.Background(), body, signBody(body, testWebhookSecret), "evt_1"); err != nil {
		t.Fatalf("IngestWebhook returned error: %v", err)
	}

	updated, _ := donationRepo.GetByID(context.Background(), nil, "don-1")
	if updated.Status != domain.DonationStatusSuccess {
		t.Errorf("expected status SUCCESS, got %s", updated.Status)
	}
}

func TestVerifyClientCallback(t *testing.T) {
	donationRepo := newFakeDonationRepo(pendingDonation("don-1", "order_1"))
	eventRepo := newFakeEventRepo()
	svc, mock := newTestService(t, donationRepo, eventRepo, &fakeOutboxRepo{}, newFakeGateway())
	expectTxs(mock, 1, 0)

	sig := signBody([]byte("order_1|pay_1"), testKeySecret)
	result, err := svc.VerifyClientCallback(context.Background(), "order_1", "pay_1", sig)
	if err != nil {
		t.Fatalf("VerifyClientCallback returned error: %v", err)
	}
	if !result.Applied || result.Status != domain.DonationStatusSuccess {
		t.Errorf("expected applied SUCCESS, got %+v", result)
	}
	if result.ReceiptNumber == "" {
		t.Error("expected receipt number in verify result")
	}
}

func TestVerifyClientCallbackRejectsBadSignature(t *testing.T) {
	donationRepo := newFakeDonationRepo(pendingDonation("don-1", "order_1"))
	eventRepo := newFakeEventRepo()
	svc, _ := newTestService(t, donationRepo, eventRepo, &fakeOutboxRepo{}, newFakeGateway())

	_, err := svc.VerifyClientCallback(context.Background(), "order_1", "pay_1", "deadbeef")
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	updated, _ := donationRepo.GetByID(context.Background(), nil, "don-1")
	if updated.Status != domain.DonationStatusPending {
		t.Errorf("failed verification must not change status, got %s", updated.Status)
	}
	event := eventRepo.lastEvent()
	if event == nil || event.ResultCode != "signature_mismatch" {
		t.Errorf("expected a signature_mismatch event, got %+v", event)
	}
}

func TestInitiateOrder(t *testing.T) {
	donationRepo := newFakeDonationRepo()
	eventRepo := newFakeEventRepo()
	svc, mock := newTestService(t, donationRepo, eventRepo, &fakeOutboxRepo{}, newFakeGateway())
	expectTxs(mock, 1, 0)

	resp, err := svc.InitiateOrder(context.Background(), &InitiateOrderRequest{Amount: 500, Currency: "inr"})
	if err != nil {
		t.Fatalf("InitiateOrder returned error: %v", err)
	}
	if resp.Status != domain.DonationStatusPending {
		t.Errorf("expected PENDING donation, got %s", resp.Status)
	}
	if resp.CheckoutParams.OrderID != resp.OrderID || resp.CheckoutParams.Key != "rzp_test_key" {
		t.Errorf("checkout params not populated: %+v", resp.CheckoutParams)
	}
	if resp.CheckoutParams.Amount != 50000 {
		t.Errorf("expected amount in minor units 50000, got %d", resp.CheckoutParams.Amount)
	}

	created, err := donationRepo.GetByID(context.Background(), nil, resp.DonationID)
	if err != nil {
		t.Fatalf("donation was not persisted: %v", err)
	}
	if created.Currency != "INR" {
		t.Errorf("expected normalized currency INR, got %s", created.Currency)
	}
	event := eventRepo.lastEvent()
	if event == nil || event.Kind != domain.EventKindInitiated {
		t.Errorf("expected INITIATED event, got %+v", event)
	}
}

func TestInitiateOrderValidation(t *testing.T) {
	svc, _ := newTestService(t, newFakeDonationRepo(), newFakeEventRepo(), &fakeOutboxRepo{}, newFakeGateway())
	ctx := context.Background()

	if _, err := svc.InitiateOrder(ctx, &InitiateOrderRequest{Amount: 0.5, Currency: "INR"}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.InitiateOrder(ctx, &InitiateOrderRequest{Amount: 10, Currency: "JPY"}); !errors.Is(err, domain.ErrUnsupportedCurrency) {
		t.Errorf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestInitiateOrderGatewayUnavailableAfterRetries(t *testing.T) {
	gw := newFakeGateway()
	gw.createFn = func(req gateway.CreateOrderRequest) (*gateway.Order, error) {
		return nil, &gateway.Error{StatusCode: 502, Code: "SERVER_ERROR", Transient: true}
	}
	svc, _ := newTestService(t, newFakeDonationRepo(), newFakeEventRepo(), &fakeOutboxRepo{}, gw)

	_, err := svc.InitiateOrder(context.Background(), &InitiateOrderRequest{Amount: 10, Currency: "INR"})
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Errorf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestSyncStatusOrderPaid(t *testing.T) {
	donationRepo := newFakeDonationRepo(pendingDonation("don-1", "order_1"))
	gw := newFakeGateway()
	gw.orders["order_1"] = &gateway.Order{ID: "order_1", Status: gateway.OrderStatusPaid, Attempts: 1}
	gw.payments["order_1"] = []gateway.Payment{{ID: "pay_1", OrderID: "order_1", Status: gateway.PaymentStatusCaptured, Method: "upi"}}
	eventRepo := newFakeEventRepo()
	svc, mock := newTestService(t, donationRepo, eventRepo, &fakeOutboxRepo{}, gw)
	expectTxs(mock, 1, 0)

	result, err := svc.SyncStatus(context.Background(), "don-1")
	if err != nil {
		t.Fatalf("SyncStatus returned error: %v", err)
	}
	if !result.Synced || !result.Changed {
		t.Errorf("expected synced and changed, got %+v", result)
	}
	if result.CurrentStatus != domain.DonationStatusSuccess {
		t.Errorf("expected SUCCESS, got %s", result.CurrentStatus)
	}

	updated, _ := donationRepo.GetByID(context.Background(), nil, "don-1")
	if updated.GatewayPaymentID != "pay_1" {
		t.Errorf("expected captured payment id stamped, got %q", updated.GatewayPaymentID)
	}
	event := eventRepo.lastEvent()
	if event == nil || event.Source != domain.EventSourcePollSync {
		t.Errorf("expected poll-sync event, got %+v", event)
	}
}

func TestSyncStatusCapturedPaymentWithoutPaidOrder(t *testing.T) {
	donationRepo := newFakeDonationRepo(pendingDonation("don-1", "order_1"))
	gw := newFakeGateway()
	gw.orders["order_1"] = &gateway.Order{ID: "order_1", Status: gateway.OrderStatusAttempted, Attempts: 2}
	gw.payments["order_1"] = []gateway.Payment{
		{ID: "pay_1", OrderID: "order_1", Status: gateway.PaymentStatusFailed},
		{ID: "pay_2", OrderID: "order_1", Status: gateway.PaymentStatusCaptured, Method: "card"},
	}
	svc, mock := newTestService(t, donationRepo, newFakeEventRepo(), &fakeOutboxRepo{}, gw)
	expectTxs(mock, 1, 0)

	result, err := svc.SyncStatus(context.Background(), "don-1")
	if err != nil {
		t.Fatalf("SyncStatus returned error: %v", err)
	}
	if result.CurrentStatus != domain.DonationStatusSuccess {
		t.Errorf("expected SUCCESS from captured payment, got %s", result.CurrentStatus)
	}
	updated, _ := donationRepo.GetByID(context.Background(), nil, "don-1")
	if updated.GatewayPaymentID != "pay_2" {
		t.Errorf("expected pay_2 stamped, got %q", updated.GatewayPaymentID)
	}
}

func TestSyncStatusFailedAttemptsAloneDoNotFail(t *testing.T) {
	donationRepo := newFakeDonationRepo(pendingDonation("don-1", "order_1"))
	gw := newFakeGateway()
	gw.orders["order_1"] = &gateway.Order{ID: "order_1", Status: gateway.OrderStatusAttempted, Attempts: 1}
	gw.payments["order_1"] = []gateway.Payment{{ID: "pay_1", OrderID: "order_1", Status: gateway.PaymentStatusFailed}}
	svc, _ := newTestService(t, donationRepo, newFakeEventRepo(), &fakeOutboxRepo{}, gw)

	result, err := svc.SyncStatus(context.Background(), "don-1")
	if err != nil {
		t.Fatalf("SyncStatus returned error: %v", err)
	}
	if !result.Synced || result.Changed {
		t.Errorf("expected synced without change, got %+v", result)
	}
	updated, _ := donationRepo.GetByID(context.Background(), nil, "don-1")
	if updated.Status != domain.DonationStatusPending {
		t.Errorf("donation must stay PENDING while the donor can retry, got %s", updated.Status)
	}
}

func TestSyncStatusShortCircuitsOnSuccess(t *testing.T) {
	donation := pendingDonation("don-1", "order_1")
	donation.MarkSucceeded("pay_1", domain.PaymentMethodCard, time.Now())
	gw := newFakeGateway()
	svc, _ := newTestService(t, newFakeDonationRepo(donation), newFakeEventRepo(), &fakeOutboxRepo{}, gw)

	result, err := svc.SyncStatus(context.Background(), "don-1")
	if err != nil {
		t.Fatalf("SyncStatus returned error: %v", err)
	}
	if !result.Synced || result.Changed {
		t.Errorf("successful donation must sync without change, got %+v", result)
	}
	if gw.fetchOrderCalls != 0 {
		t.Errorf("successful donation must not hit the gateway, got %d calls", gw.fetchOrderCalls)
	}
}

func TestSyncStatusGatewayFetchFailure(t *testing.T) {
	donationRepo := newFakeDonationRepo(pendingDonation("don-1", "order_1"))
	gw := newFakeGateway()
	gw.orderErr = &gateway.Error{StatusCode: 503, Code: "SERVER_ERROR", Transient: true}
	svc, _ := newTestService(t, donationRepo, newFakeEventRepo(), &fakeOutboxRepo{}, gw)

	result, err := svc.SyncStatus(context.Background(), "don-1")
	if err != nil {
		t.Fatalf("SyncStatus must not fail hard on gateway errors: %v", err)
	}
	if result.Synced {
		t.Errorf("expected synced=false when the gateway is unreachable, got %+v", result)
	}
	if result.Reason == "" {
		t.Error("expected a reason explaining the failed sync")
	}
}

func TestSweepStalePending(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	d1 := pendingDonation("don-1", "order_1")
	d2 := pendingDonation("don-2", "order_2")
	d3 := pendingDonation("don-3", "order_3")
	for _, d := range []*domain.Donation{d1, d2, d3} {
		d.CreatedAt = old
	}
	donationRepo := newFakeDonationRepo(d1, d2, d3)

	gw := newFakeGateway()
	gw.orders["order_1"] = &gateway.Order{ID: "order_1", Status: gateway.OrderStatusPaid, Attempts: 1}
	gw.payments["order_1"] = []gateway.Payment{{ID: "pay_1", OrderID: "order_1", Status: gateway.PaymentStatusCaptured}}
	gw.orders["order_2"] = &gateway.Order{ID: "order_2", Status: gateway.OrderStatusPaid, Attempts: 1}
	gw.payments["order_2"] = []gateway.Payment{{ID: "pay_2", OrderID: "order_2", Status: gateway.PaymentStatusCaptured}}
	gw.orders["order_3"] = &gateway.Order{ID: "order_3", Status: gateway.OrderStatusCreated, Attempts: 0}

	svc, mock := newTestService(t, donationRepo, newFakeEventRepo(), &fakeOutboxRepo{}, gw)
	expectTxs(mock, 2, 0)

	result, err := svc.SweepStalePending(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("SweepStalePending returned error: %v", err)
	}
	if result.Total != 3 {
		t.Errorf("expected 3 stale donations, got %d", result.Total)
	}
	if result.Synced != 3 {
		t.Errorf("expected 3 synced, got %d", result.Synced)
	}
	if result.Updated != 2 {
		t.Errorf("expected 2 updated, got %d", result.Updated)
	}
	if result.Failed != 0 {
		t.Errorf("expected 0 failed, got %d", result.Failed)
	}
}

func TestSweepStalePendingCountsUnreachableGatewayAsFailed(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	d1 := pendingDonation("don-1", "order_1")
	d2 := pendingDonation("don-2", "order_2")
	d1.CreatedAt = old
	d2.CreatedAt = old
	donationRepo := newFakeDonationRepo(d1, d2)

	gw := newFakeGateway()
	gw.orderErr = &gateway.Error{StatusCode: 503, Code: "SERVER_ERROR", Transient: true}
	svc, _ := newTestService(t, donationRepo, newFakeEventRepo(), &fakeOutboxRepo{}, gw)

	result, err := svc.SweepStalePending(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("SweepStalePending returned error: %v", err)
	}
	if result.Total != 2 {
		t.Errorf("expected 2 stale donations, got %d", result.Total)
	}
	if result.Failed != 2 {
		t.Errorf("unsynced items must count as failed, got %d", result.Failed)
	}
	if result.Synced != 0 || result.Updated != 0 {
		t.Errorf("nothing should sync against an unreachable gateway, got %+v", result)
	}
}

func TestExpireStalePending(t *testing.T) {
	stale := pendingDonation("don-1", "order_1")
	stale.CreatedAt = time.Now().Add(-48 * time.Hour)
	fresh := pendingDonation("don-2", "order_2")
	donationRepo := newFakeDonationRepo(stale, fresh)
	eventRepo := newFakeEventRepo()
	svc, mock := newTestService(t, donationRepo, eventRepo, &fakeOutboxRepo{}, newFakeGateway())
	expectTxs(mock, 1, 0)

	expired, err := svc.ExpireStalePending(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("ExpireStalePending returned error: %v", err)
	}
	if expired != 1 {
		t.Errorf("expected 1 expired donation, got %d", expired)
	}

	updated, _ := donationRepo.GetByID(context.Background(), nil, "don-1")
	if updated.Status != domain.DonationStatusFailed {
		t.Errorf("expected expired donation FAILED, got %s", updated.Status)
	}
	untouched, _ := donationRepo.GetByID(context.Background(), nil, "don-2")
	if untouched.Status != domain.DonationStatusPending {
		t.Errorf("fresh donation must stay PENDING, got %s", untouched.Status)
	}
	event := eventRepo.lastEvent()
	if event == nil || event.ResultCode != "expired" {
		t.Errorf("expected an expired event, got %+v", event)
	}
}

func TestMarkFailed(t *testing.T) {
	donationRepo := newFakeDonationRepo(pendingDonation("don-1", "order_1"))
	svc, mock := newTestService(t, donationRepo, newFakeEventRepo(), &fakeOutboxRepo{}, newFakeGateway())
	expectTxs(mock, 1, 0)

	donation, err := svc.MarkFailed(context.Background(), "don-1", "donor closed checkout")
	if err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}
	if donation.Status != domain.DonationStatusFailed {
		t.Errorf("expected FAILED, got %s", donation.Status)
	}
}

func TestMarkFailedRejectsTerminalDonation(t *testing.T) {
	donation := pendingDonation("don-1", "order_1")
	donation.MarkSucceeded("pay_1", domain.PaymentMethodCard, time.Now())
	svc, mock := newTestService(t, newFakeDonationRepo(donation), newFakeEventRepo(), &fakeOutboxRepo{}, newFakeGateway())
	expectTxs(mock, 1, 0)

	_, err := svc.MarkFailed(context.Background(), "don-1", "")
	if !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestGetStatusReturnsTimeline(t *testing.T) {
	donationRepo := newFakeDonationRepo(pendingDonation("don-1", "order_1"))
	eventRepo := newFakeEventRepo()
	gw := newFakeGateway()
	gw.orders["order_1"] = &gateway.Order{ID: "order_1", Status: gateway.OrderStatusCreated}
	svc, mock := newTestService(t, donationRepo, eventRepo, &fakeOutboxRepo{}, gw)
	expectTxs(mock, 1, 0)

	if err := svc.ProcessGatewayEvent(context.Background(),
		[]byte(`{"event":"payment.authorized","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1"}}}}`),
		"evt_1", domain.EventSourceWebhook); err != nil {
		t.Fatalf("ProcessGatewayEvent returned error: %v", err)
	}

	result, err := svc.GetStatus(context.Background(), "don-1")
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if len(result.Timeline) != 1 {
		t.Errorf("expected 1 timeline event, got %d", len(result.Timeline))
	}
	if result.GatewayOrder == nil || result.GatewayOrder.ID != "order_1" {
		t.Errorf("expected gateway order attached for pending donation, got %+v", result.GatewayOrder)
	}
}

func TestGetAnalyticsSummary(t *testing.T) {
	success := pendingDonation("don-1", "order_1")
	success.MarkSucceeded("pay_1", domain.PaymentMethodCard, time.Now())
	success2 := pendingDonation("don-2", "order_2")
	success2.MarkSucceeded("pay_2", domain.PaymentMethodUPI, time.Now())
	failed := pendingDonation("don-3", "order_3")
	failed.MarkFailed(time.Now())
	pending := pendingDonation("don-4", "order_4")

	donationRepo := newFakeDonationRepo(success, success2, failed, pending)
	svc, _ := newTestService(t, donationRepo, newFakeEventRepo(), &fakeOutboxRepo{}, newFakeGateway())

	analytics, err := svc.GetAnalytics(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("GetAnalytics returned error: %v", err)
	}
	s := analytics.Summary
	if s.TotalTransactions != 4 || s.SuccessfulTransactions != 2 || s.FailedTransactions != 1 || s.PendingTransactions != 1 {
		t.Errorf("unexpected summary counts: %+v", s)
	}
	if s.SuccessRate != 50 {
		t.Errorf("expected success rate 50, got %d", s.SuccessRate)
	}
	if s.TotalAmountReceived != 500 {
		t.Errorf("expected total received 500, got %.2f", s.TotalAmountReceived)
	}
}
