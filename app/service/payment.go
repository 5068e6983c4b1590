package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-momo/app/entity"
	"github.com/vibast-solutions/ms-go-momo/app/factory"
	"github.com/vibast-solutions/ms-go-momo/app/fanout"
	"github.com/vibast-solutions/ms-go-momo/app/provider"
	"github.com/vibast-solutions/ms-go-momo/app/repository"
	"github.com/vibast-solutions/ms-go-momo/config"
)

const defaultBatchSize = int32(100)

type paymentRecordRepository interface {
	Create(ctx context.Context, record *entity.PaymentRecord) error
	UpdateStatusIf(ctx context.Context, record *entity.PaymentRecord, expectedStatus int32) (bool, error)
	SchedulePoll(ctx context.Context, reference string, attempts int32, nextPollAt *time.Time, updatedAt time.Time) error
	UpdateOrderSync(ctx context.Context, record *entity.PaymentRecord) error
	Delete(ctx context.Context, reference string) error
	FindByReference(ctx context.Context, reference string) (*entity.PaymentRecord, error)
	FindActiveByOrderID(ctx context.Context, orderID string) (*entity.PaymentRecord, error)
	FindLatestByOrderID(ctx context.Context, orderID string) (*entity.PaymentRecord, error)
	FindByOperatorReference(ctx context.Context, operatorReference string) (*entity.PaymentRecord, error)
	ListDuePoll(ctx context.Context, now time.Time, createdBefore time.Time, limit int32) ([]*entity.PaymentRecord, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int32) ([]*entity.PaymentRecord, error)
	ListDueOrderSync(ctx context.Context, now time.Time, limit int32) ([]*entity.PaymentRecord, error)
	ListPurgeableTerminal(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.PaymentRecord, error)
}

type orderRepository interface {
	FindByID(ctx context.Context, orderID string) (*entity.Order, error)
	UpdatePaymentState(ctx context.Context, orderID, paymentStatus, fulfillmentStatus string, guardNotPaid bool, now time.Time) error
}

type paymentEventRepository interface {
	Create(ctx context.Context, event *entity.PaymentEvent) error
}

type fanoutHub interface {
	Publish(reference string, event fanout.Event)
	HasSubscribers(reference string) bool
}

type PaymentService struct {
	recordRepo  paymentRecordRepository
	orderRepo   orderRepository
	eventRepo   paymentEventRepository
	providerReg *provider.Registry
	hub         fanoutHub
	paymentsCfg config.PaymentsConfig
	logger      logrus.FieldLogger
}

func NewPaymentService(
	recordRepo paymentRecordRepository,
	orderRepo orderRepository,
	eventRepo paymentEventRepository,
	providerReg *provider.Registry,
	hub fanoutHub,
	paymentsCfg config.PaymentsConfig,
) *PaymentService {
	return &PaymentService{
		recordRepo:  recordRepo,
		orderRepo:   orderRepo,
		eventRepo:   eventRepo,
		providerReg: providerReg,
		hub:         hub,
		paymentsCfg: paymentsCfg,
		logger:      factory.NewModuleLogger("payments-service"),
	}
}

type InitiatePaymentInput struct {
	OrderID     string
	PayerHandle string
	Description string
}

// InitiatePayment starts a mobile-money collection for the order. The
// settlement amount always comes from the stored order total. An order with
// an active pending record is rejected; the existing record is returned with
// the error so callers can resubscribe to it.
func (s *PaymentService) InitiatePayment(ctx context.Context, input *InitiatePaymentInput) (*entity.PaymentRecord, error) {
	orderID := strings.TrimSpace(input.OrderID)
	payerHandle := strings.TrimSpace(input.PayerHandle)
	if orderID == "" || payerHandle == "" {
		return nil, ErrInvalidRequest
	}

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.PaymentStatus == entity.OrderPaymentPaid {
		return nil, ErrInvalidStatus
	}

	existing, err := s.recordRepo.FindActiveByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrActivePaymentExists
	}

	providerClient, err := s.providerReg.Get(s.providerCode())
	if err != nil {
		if errors.Is(err, provider.ErrProviderNotSupported) {
			return nil, ErrProviderUnsupported
		}
		return nil, err
	}

	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = "Order " + orderID
	}

	output, err := providerClient.InitiatePayment(ctx, &provider.InitiateInput{
		IdempotencyKey:    uuid.NewString(),
		ExternalReference: orderID,
		AmountCents:       order.TotalCents,
		Currency:          order.Currency,
		PayerHandle:       payerHandle,
		Description:       description,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	status := output.Status
	if status == 0 {
		status = entity.PaymentStatusPending
	}

	firstPoll := now.Add(s.paymentsCfg.PollGrace)
	record := &entity.PaymentRecord{
		Reference:   output.Reference,
		OrderID:     orderID,
		PayerHandle: payerHandle,
		Description: description,
		AmountCents: order.TotalCents,
		Currency:    order.Currency,
		Status:      status,
		Operator:    output.Operator,
		NextPollAt:  &firstPoll,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(s.paymentsCfg.PendingTTL),
	}

	if entity.TerminalPaymentStatus(status) {
		markForOrderSync(record, now)
	} else {
		record.ActiveOrderKey = &record.OrderID
	}

	if err := s.recordRepo.Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrPaymentAlreadyExists) {
			// The unique active-order key caught a concurrent initiation that
			// slipped past the lookup while the gateway call was in flight.
			// Surface the surviving record the same way as the pre-check.
			if existing, findErr := s.recordRepo.FindActiveByOrderID(ctx, orderID); findErr == nil && existing != nil {
				return existing, ErrActivePaymentExists
			}
			return nil, ErrPaymentAlreadyExists
		}
		return nil, err
	}

	_ = s.eventRepo.Create(ctx, &entity.PaymentEvent{
		Reference: record.Reference,
		OrderID:   orderID,
		EventType: "payment_initiated",
		Source:    "api",
		NewStatus: record.Status,
		CreatedAt: now,
	})

	// A provider that rejects synchronously still produces a record; cascade
	// so the order is not stuck waiting for a webhook that never comes.
	if entity.TerminalPaymentStatus(record.Status) {
		s.syncOrder(ctx, record, now)
		s.publishTransition(record, now)
	}

	return record, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, reference string) (*entity.PaymentRecord, error) {
	record, err := s.recordRepo.FindByReference(ctx, strings.TrimSpace(reference))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrPaymentNotFound
	}
	return record, nil
}

type OrderPaymentStatus struct {
	OrderID           string
	PaymentStatus     string
	FulfillmentStatus string
	Reference         string
	RecordStatus      int32
}

// GetOrderPaymentStatus reports the order's payment projection. While the
// latest record is still pending it first triggers an on-demand poll, so a
// client asking "am I paid yet?" gets the reconciled answer.
func (s *PaymentService) GetOrderPaymentStatus(ctx context.Context, orderID string) (*OrderPaymentStatus, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, ErrInvalidRequest
	}

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	record, err := s.recordRepo.FindLatestByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if record != nil && record.Status == entity.PaymentStatusPending {
		outcome, pollErr := s.PollOnce(ctx, record.Reference)
		if pollErr != nil {
			// Transient gateway trouble does not fail the status read; the
			// stored projection is still the best known answer.
			s.logger.WithError(pollErr).WithField("reference", record.Reference).
				Warn("On-demand poll failed")
		} else if outcome.Payment != nil {
			record = outcome.Payment
		}

		if refreshed, err := s.orderRepo.FindByID(ctx, orderID); err == nil && refreshed != nil {
			order = refreshed
		}
	}

	result := &OrderPaymentStatus{
		OrderID:           order.ID,
		PaymentStatus:     order.PaymentStatus,
		FulfillmentStatus: order.FulfillmentStatus,
	}
	if record != nil {
		result.Reference = record.Reference
		result.RecordStatus = record.Status
	}

	return result, nil
}

func (s *PaymentService) providerCode() int32 {
	if s.paymentsCfg.ProviderCode > 0 {
		return s.paymentsCfg.ProviderCode
	}
	return provider.CodeMomo
}

func (s *PaymentService) batchSize() int32 {
	if s.paymentsCfg.JobBatchSize > 0 {
		return s.paymentsCfg.JobBatchSize
	}
	return defaultBatchSize
}

func markForOrderSync(record *entity.PaymentRecord, now time.Time) {
	record.OrderSyncStatus = entity.OrderSyncPending
	record.OrderSyncAttempts = 0
	record.OrderSyncNextAt = &now
	record.OrderSyncLastErr = nil
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
