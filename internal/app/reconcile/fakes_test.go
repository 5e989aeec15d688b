package reconcile

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"donations/internal/domain"
	"donations/internal/gateway"
)

type fakeDonationRepo struct {
	mu        sync.Mutex
	donations map[string]*domain.Donation
}

func newFakeDonationRepo(donations ...*domain.Donation) *fakeDonationRepo {
	repo := &fakeDonationRepo{donations: make(map[string]*domain.Donation)}
	for _, d := range donations {
		repo.put(d)
	}
	return repo
}

func (r *fakeDonationRepo) put(d *domain.Donation) {
	copied := *d
	r.donations[d.ID] = &copied
}

func (r *fakeDonationRepo) CreateTx(ctx context.Context, querier domain.Querier, d *domain.Donation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(d)
	return nil
}

func (r *fakeDonationRepo) getCopy(match func(*domain.Donation) bool) (*domain.Donation, error) {
	for _, d := range r.donations {
		if match(d) {
			copied := *d
			return &copied, nil
		}
	}
	return nil, domain.ErrDonationNotFound
}

func (r *fakeDonationRepo) GetByID(ctx context.Context, querier domain.Querier, id string) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCopy(func(d *domain.Donation) bool { return d.ID == id })
}

func (r *fakeDonationRepo) GetByOrderID(ctx context.Context, querier domain.Querier, orderID string) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCopy(func(d *domain.Donation) bool { return d.GatewayOrderID == orderID })
}

func (r *fakeDonationRepo) GetByIDForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Donation, error) {
	return r.GetByID(ctx, nil, id)
}

func (r *fakeDonationRepo) GetByOrderIDForUpdateTx(ctx context.Context, tx *sql.Tx, orderID string) (*domain.Donation, error) {
	return r.GetByOrderID(ctx, nil, orderID)
}

func (r *fakeDonationRepo) GetByPaymentIDForUpdateTx(ctx context.Context, tx *sql.Tx, paymentID string) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCopy(func(d *domain.Donation) bool { return d.GatewayPaymentID == paymentID })
}

func (r *fakeDonationRepo) UpdateTx(ctx context.Context, querier domain.Querier, d *domain.Donation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.donations[d.ID]; !ok {
		return domain.ErrDonationNotFound
	}
	r.put(d)
	return nil
}

func (r *fakeDonationRepo) ListStalePending(ctx context.Context, querier domain.Querier, cutoff time.Time, limit int) ([]domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []domain.Donation
	for _, d := range r.donations {
		if d.Status == domain.DonationStatusPending && d.CreatedAt.Before(cutoff) {
			stale = append(stale, *d)
		}
		if len(stale) == limit {
			break
		}
	}
	return stale, nil
}

func (r *fakeDonationRepo) StatusAggregates(ctx context.Context, querier domain.Querier, from, to time.Time) ([]domain.StatusAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byStatus := make(map[domain.DonationStatus]*domain.StatusAggregate)
	for _, d := range r.donations {
		agg, ok := byStatus[d.Status]
		if !ok {
			agg = &domain.StatusAggregate{Status: d.Status}
			byStatus[d.Status] = agg
		}
		agg.Count++
		agg.TotalAmount += d.Amount
	}
	var out []domain.StatusAggregate
	for _, agg := range byStatus {
		agg.AvgAmount = agg.TotalAmount / float64(agg.Count)
		out = append(out, *agg)
	}
	return out, nil
}

func (r *fakeDonationRepo) MethodAggregates(ctx context.Context, querier domain.Querier, from, to time.Time) ([]domain.MethodAggregate, error) {
	return nil, nil
}

func (r *fakeDonationRepo) DailyAggregates(ctx context.Context, querier domain.Querier, from, to time.Time, limit int) ([]domain.DailyAggregate, error) {
	return nil, nil
}

type fakeEventRepo struct {
	mu        sync.Mutex
	events    []domain.PaymentEvent
	seen      map[string]bool
	createErr error
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{seen: make(map[string]bool)}
}

func (r *fakeEventRepo) CreateTx(ctx context.Context, querier domain.Querier, event *domain.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.events = append(r.events, *event)
	if event.ExternalEventID != "" {
		r.seen[event.ExternalEventID] = true
	}
	return nil
}

func (r *fakeEventRepo) ExistsByExternalID(ctx context.Context, querier domain.Querier, externalEventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[externalEventID], nil
}

func (r *fakeEventRepo) ListByDonationID(ctx context.Context, querier domain.Querier, donationID string) ([]domain.PaymentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PaymentEvent
	for _, e := range r.events {
		if e.DonationID == donationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) lastEvent() *domain.PaymentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	e := r.events[len(r.events)-1]
	return &e
}

type fakeOutboxRepo struct {
	mu       sync.Mutex
	messages []domain.OutboxMessage
}

func (r *fakeOutboxRepo) CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *fakeOutboxRepo) GetPendingMessages(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) > limit {
		return append([]domain.OutboxMessage(nil), r.messages[:limit]...), nil
	}
	return append([]domain.OutboxMessage(nil), r.messages...), nil
}

func (r *fakeOutboxRepo) MarkMessagesAsSent(ctx context.Context, ids []string) error   { return nil }
func (r *fakeOutboxRepo) MarkMessagesAsFailed(ctx context.Context, ids []string) error { return nil }

func (r *fakeOutboxRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type fakeGateway struct {
	mu       sync.Mutex
	orders   map[string]*gateway.Order
	payments map[string][]gateway.Payment
	orderErr error
	createFn func(req gateway.CreateOrderRequest) (*gateway.Order, error)

	fetchOrderCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		orders:   make(map[string]*gateway.Order),
		payments: make(map[string][]gateway.Payment),
	}
}

func (g *fakeGateway) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createFn != nil {
		return g.createFn(req)
	}
	order := &gateway.Order{
		ID:       "order_created",
		Status:   gateway.OrderStatusCreated,
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
	}
	g.orders[order.ID] = order
	return order, nil
}

func (g *fakeGateway) FetchOrder(ctx context.Context, orderID string) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchOrderCalls++
	if g.orderErr != nil {
		return nil, g.orderErr
	}
	order, ok := g.orders[orderID]
	if !ok {
		return nil, &gateway.Error{StatusCode: 404, Code: "BAD_REQUEST_ERROR", Description: "order not found"}
	}
	copied := *order
	return &copied, nil
}

func (g *fakeGateway) FetchOrderPayments(ctx context.Context, orderID string) ([]gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Payment(nil), g.payments[orderID]...), nil
}

func (g *fakeGateway) FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, payments := range g.payments {
		for i := range payments {
			if payments[i].ID == paymentID {
				copied := payments[i]
				return &copied, nil
			}
		}
	}
	return nil, &gateway.Error{StatusCode: 404, Code: "BAD_REQUEST_ERROR", Description: "payment not found"}
}
