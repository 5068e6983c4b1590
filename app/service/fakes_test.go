package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vibast-solutions/ms-go-momo/app/entity"
	"github.com/vibast-solutions/ms-go-momo/app/fanout"
	"github.com/vibast-solutions/ms-go-momo/app/provider"
	"github.com/vibast-solutions/ms-go-momo/app/repository"
	"github.com/vibast-solutions/ms-go-momo/config"
)

type fakeRecordRepo struct {
	mu      sync.Mutex
	records map[string]*entity.PaymentRecord

	findErr   error
	createErr error
	updateErr error
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{records: map[string]*entity.PaymentRecord{}}
}

func (r *fakeRecordRepo) put(record *entity.PaymentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copyItem := *record
	r.records[record.Reference] = &copyItem
}

func (r *fakeRecordRepo) get(reference string) *entity.PaymentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.records[reference]
	if !ok {
		return nil
	}
	copyItem := *item
	return &copyItem
}

func (r *fakeRecordRepo) Create(_ context.Context, record *entity.PaymentRecord) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[record.Reference]; ok {
		return repository.ErrPaymentAlreadyExists
	}
	if record.ActiveOrderKey != nil {
		for _, item := range r.records {
			if item.ActiveOrderKey != nil && *item.ActiveOrderKey == *record.ActiveOrderKey {
				return repository.ErrPaymentAlreadyExists
			}
		}
	}
	copyItem := *record
	r.records[record.Reference] = &copyItem
	return nil
}

func (r *fakeRecordRepo) activeCount(orderID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, item := range r.records {
		if item.OrderID == orderID && item.Status == entity.PaymentStatusPending {
			count++
		}
	}
	return count
}

func (r *fakeRecordRepo) UpdateStatusIf(_ context.Context, record *entity.PaymentRecord, expectedStatus int32) (bool, error) {
	if r.updateErr != nil {
		return false, r.updateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[record.Reference]
	if !ok || current.Status != expectedStatus {
		return false, nil
	}
	copyItem := *record
	r.records[record.Reference] = &copyItem
	return true, nil
}

func (r *fakeRecordRepo) SchedulePoll(_ context.Context, reference string, attempts int32, nextPollAt *time.Time, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.records[reference]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	item.PollAttempts = attempts
	item.NextPollAt = nextPollAt
	item.UpdatedAt = updatedAt
	return nil
}

func (r *fakeRecordRepo) UpdateOrderSync(_ context.Context, record *entity.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.records[record.Reference]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	item.OrderSyncStatus = record.OrderSyncStatus
	item.OrderSyncAttempts = record.OrderSyncAttempts
	item.OrderSyncNextAt = record.OrderSyncNextAt
	item.OrderSyncLastErr = record.OrderSyncLastErr
	item.UpdatedAt = record.UpdatedAt
	return nil
}

func (r *fakeRecordRepo) Delete(_ context.Context, reference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, reference)
	return nil
}

func (r *fakeRecordRepo) FindByReference(_ context.Context, reference string) (*entity.PaymentRecord, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.get(reference), nil
}

func (r *fakeRecordRepo) FindActiveByOrderID(_ context.Context, orderID string) (*entity.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.records {
		if item.OrderID == orderID && item.Status == entity.PaymentStatusPending {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *fakeRecordRepo) FindLatestByOrderID(_ context.Context, orderID string) (*entity.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *entity.PaymentRecord
	for _, item := range r.records {
		if item.OrderID != orderID {
			continue
		}
		if latest == nil || item.CreatedAt.After(latest.CreatedAt) {
			latest = item
		}
	}
	if latest == nil {
		return nil, nil
	}
	copyItem := *latest
	return &copyItem, nil
}

func (r *fakeRecordRepo) FindByOperatorReference(_ context.Context, operatorReference string) (*entity.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.records {
		if item.OperatorReference != nil && *item.OperatorReference == operatorReference {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *fakeRecordRepo) ListDuePoll(_ context.Context, now time.Time, createdBefore time.Time, limit int32) ([]*entity.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.PaymentRecord, 0)
	for _, item := range r.records {
		if item.Status != entity.PaymentStatusPending {
			continue
		}
		if item.CreatedAt.After(createdBefore) {
			continue
		}
		if item.NextPollAt != nil && item.NextPollAt.After(now) {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
	}
	return limitRecords(items, limit), nil
}

func (r *fakeRecordRepo) ListExpiredPending(_ context.Context, now time.Time, limit int32) ([]*entity.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.PaymentRecord, 0)
	for _, item := range r.records {
		if item.Status == entity.PaymentStatusPending && !item.ExpiresAt.After(now) {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	return limitRecords(items, limit), nil
}

func (r *fakeRecordRepo) ListDueOrderSync(_ context.Context, now time.Time, limit int32) ([]*entity.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.PaymentRecord, 0)
	for _, item := range r.records {
		if item.OrderSyncStatus == entity.OrderSyncPending && item.OrderSyncNextAt != nil && !item.OrderSyncNextAt.After(now) {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	return limitRecords(items, limit), nil
}

func (r *fakeRecordRepo) ListPurgeableTerminal(_ context.Context, cutoff time.Time, limit int32) ([]*entity.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.PaymentRecord, 0)
	for _, item := range r.records {
		if !entity.TerminalPaymentStatus(item.Status) {
			continue
		}
		if item.OrderSyncStatus == entity.OrderSyncPending || item.OrderSyncStatus == entity.OrderSyncFailed {
			continue
		}
		if item.UpdatedAt.After(cutoff) {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
	}
	return limitRecords(items, limit), nil
}

func limitRecords(items []*entity.PaymentRecord, limit int32) []*entity.PaymentRecord {
	if limit <= 0 || int(limit) >= len(items) {
		return items
	}
	return items[:limit]
}

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*entity.Order

	updateCalls int
	updateErrs  []error
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: map[string]*entity.Order{}}
}

func (r *fakeOrderRepo) put(order *entity.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copyItem := *order
	r.orders[order.ID] = &copyItem
}

func (r *fakeOrderRepo) get(orderID string) *entity.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.orders[orderID]
	if !ok {
		return nil
	}
	copyItem := *item
	return &copyItem
}

func (r *fakeOrderRepo) updates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateCalls
}

func (r *fakeOrderRepo) failNextUpdate(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateErrs = append(r.updateErrs, err)
}

func (r *fakeOrderRepo) FindByID(_ context.Context, orderID string) (*entity.Order, error) {
	return r.get(orderID), nil
}

func (r *fakeOrderRepo) UpdatePaymentState(_ context.Context, orderID, paymentStatus, fulfillmentStatus string, guardNotPaid bool, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updateErrs) > 0 {
		err := r.updateErrs[0]
		r.updateErrs = r.updateErrs[1:]
		return err
	}
	r.updateCalls++
	item, ok := r.orders[orderID]
	if !ok {
		return nil
	}
	if guardNotPaid && item.PaymentStatus == entity.OrderPaymentPaid {
		return nil
	}
	item.PaymentStatus = paymentStatus
	item.FulfillmentStatus = fulfillmentStatus
	item.UpdatedAt = now
	return nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events []entity.PaymentEvent
}

func (r *fakeEventRepo) Create(_ context.Context, event *entity.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

func (r *fakeEventRepo) byType(eventType string) []entity.PaymentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := make([]entity.PaymentEvent, 0)
	for _, event := range r.events {
		if event.EventType == eventType {
			matches = append(matches, event)
		}
	}
	return matches
}

type fakeHub struct {
	mu          sync.Mutex
	published   map[string][]fanout.Event
	subscribers map[string]bool
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		published:   map[string][]fanout.Event{},
		subscribers: map[string]bool{},
	}
}

func (h *fakeHub) Publish(reference string, event fanout.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published[reference] = append(h.published[reference], event)
}

func (h *fakeHub) HasSubscribers(reference string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribers[reference]
}

func (h *fakeHub) events(reference string) []fanout.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]fanout.Event{}, h.published[reference]...)
}

type fakeProvider struct {
	mu sync.Mutex

	initiateOutput *provider.InitiateOutput
	initiateErr    error
	initiateDelay  time.Duration
	initiateInputs []*provider.InitiateInput

	statusResult *provider.StatusResult
	statusErr    error
	statusCalls  int

	verifyErr error
}

func (p *fakeProvider) Code() int32 {
	return provider.CodeMomo
}

func (p *fakeProvider) InitiatePayment(_ context.Context, input *provider.InitiateInput) (*provider.InitiateOutput, error) {
	p.mu.Lock()
	p.initiateInputs = append(p.initiateInputs, input)
	call := len(p.initiateInputs)
	delay := p.initiateDelay
	err := p.initiateErr
	output := p.initiateOutput
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if output != nil {
		return output, nil
	}
	return &provider.InitiateOutput{
		Reference: fmt.Sprintf("ref-%d", call),
		Status:    entity.PaymentStatusPending,
	}, nil
}

func (p *fakeProvider) GetPaymentStatus(_ context.Context, _ string) (*provider.StatusResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusCalls++
	if p.statusErr != nil {
		return nil, p.statusErr
	}
	if p.statusResult != nil {
		return p.statusResult, nil
	}
	return &provider.StatusResult{Status: 0}, nil
}

func (p *fakeProvider) VerifyWebhookSignature(_ []byte, _ string) error {
	return p.verifyErr
}

func (p *fakeProvider) statusCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusCalls
}

type testEnv struct {
	service    *PaymentService
	recordRepo *fakeRecordRepo
	orderRepo  *fakeOrderRepo
	eventRepo  *fakeEventRepo
	hub        *fakeHub
	provider   *fakeProvider
}

func newTestEnv() *testEnv {
	recordRepo := newFakeRecordRepo()
	orderRepo := newFakeOrderRepo()
	eventRepo := &fakeEventRepo{}
	hub := newFakeHub()
	momo := &fakeProvider{}

	svc := NewPaymentService(
		recordRepo,
		orderRepo,
		eventRepo,
		provider.NewRegistry(momo),
		hub,
		config.PaymentsConfig{
			PendingTTL:             time.Hour,
			PollGrace:              30 * time.Second,
			PollBaseInterval:       30 * time.Second,
			PollMaxInterval:        10 * time.Minute,
			OrderSyncMaxAttempts:   5,
			OrderSyncRetryInterval: time.Minute,
			PurgeTerminalAfter:     24 * time.Hour,
			JobBatchSize:           100,
		},
	)

	return &testEnv{
		service:    svc,
		recordRepo: recordRepo,
		orderRepo:  orderRepo,
		eventRepo:  eventRepo,
		hub:        hub,
		provider:   momo,
	}
}

func seedOrder(env *testEnv, orderID string, totalCents int64) *entity.Order {
	order := &entity.Order{
		ID:                orderID,
		TotalCents:        totalCents,
		Currency:          "XAF",
		PaymentStatus:     entity.OrderPaymentPending,
		FulfillmentStatus: entity.OrderFulfillmentPending,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	env.orderRepo.put(order)
	return order
}

func seedPendingRecord(env *testEnv, reference, orderID string, amountCents int64) *entity.PaymentRecord {
	now := time.Now().UTC()
	activeKey := orderID
	record := &entity.PaymentRecord{
		Reference:      reference,
		OrderID:        orderID,
		ActiveOrderKey: &activeKey,
		PayerHandle:    "+237670000001",
		AmountCents:    amountCents,
		Currency:       "XAF",
		Status:         entity.PaymentStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	}
	env.recordRepo.put(record)
	return record
}
