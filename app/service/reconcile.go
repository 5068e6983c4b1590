package service

import (
	"context"
	"time"

	"github.com/vibast-solutions/ms-go-momo/app/entity"
	"github.com/vibast-solutions/ms-go-momo/app/fanout"
	"github.com/vibast-solutions/ms-go-momo/app/mapper"
)

type StatusSource string

const (
	SourceWebhook StatusSource = "webhook"
	SourcePoll    StatusSource = "poll"
	SourceExpiry  StatusSource = "expiry"
)

type OperatorMetadata struct {
	Operator          *string
	ProviderCode      *string
	OperatorReference *string
	Reason            *string
}

// StatusUpdate is the tagged event both ingestion paths feed into the
// engine. OrderID and AmountCents are advisory payload fields: OrderID
// enables the orphan fallback, AmountCents only drives mismatch warnings.
type StatusUpdate struct {
	Reference   string
	NewStatus   int32
	Metadata    OperatorMetadata
	Source      StatusSource
	OrderID     string
	AmountCents int64
}

type ApplyOutcome struct {
	// Applied reports whether a status transition was committed. Rejected
	// and duplicate updates are valid no-ops, not errors.
	Applied bool
	// StopPolling is true once the reference is terminal.
	StopPolling bool
	Payment     *entity.PaymentRecord
}

// ApplyStatus is the single entry point for every status update regardless
// of source. It applies at most one monotonic transition per call: pending
// records accept a terminal status (or a pending refresh), terminal records
// absorb everything. The store's conditional update decides races; the order
// cascade and fanout publish only follow a transition the store committed.
func (s *PaymentService) ApplyStatus(ctx context.Context, update *StatusUpdate) (*ApplyOutcome, error) {
	if !validPaymentStatus(update.NewStatus) {
		return nil, ErrInvalidStatus
	}

	record, err := s.recordRepo.FindByReference(ctx, update.Reference)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return s.applyOrphan(ctx, update), nil
	}

	if entity.TerminalPaymentStatus(record.Status) {
		logger := s.logger.WithField("reference", record.Reference).
			WithField("source", string(update.Source)).
			WithField("current_status", mapper.PaymentStatusName(record.Status)).
			WithField("incoming_status", mapper.PaymentStatusName(update.NewStatus))
		if update.NewStatus == record.Status {
			logger.Debug("Duplicate terminal update acknowledged")
		} else {
			logger.Info("Stale update ignored, record is terminal")
		}
		return &ApplyOutcome{Applied: false, StopPolling: true, Payment: record}, nil
	}

	s.warnOnAmountMismatch(record, update)

	now := time.Now().UTC()

	if update.NewStatus == entity.PaymentStatusPending {
		// Refresh only: newer operator metadata and a fresh timestamp, no
		// transition, no cascade, no fanout.
		mutated := *record
		applyOperatorMetadata(&mutated, update.Metadata)
		mutated.UpdatedAt = now
		if _, err := s.recordRepo.UpdateStatusIf(ctx, &mutated, entity.PaymentStatusPending); err != nil {
			return nil, err
		}
		return &ApplyOutcome{Applied: false, StopPolling: false, Payment: &mutated}, nil
	}

	mutated := *record
	mutated.Status = update.NewStatus
	applyOperatorMetadata(&mutated, update.Metadata)
	// Clearing the active-order key frees the order for a fresh initiation.
	mutated.ActiveOrderKey = nil
	mutated.NextPollAt = nil
	mutated.UpdatedAt = now
	if update.Source == SourceExpiry && mutated.FailureReason == nil {
		reason := "expired"
		mutated.FailureReason = &reason
	}
	markForOrderSync(&mutated, now)

	updated, err := s.recordRepo.UpdateStatusIf(ctx, &mutated, entity.PaymentStatusPending)
	if err != nil {
		return nil, err
	}
	if !updated {
		// Lost the race; whoever won has already cascaded.
		current, err := s.recordRepo.FindByReference(ctx, update.Reference)
		if err != nil {
			return nil, err
		}
		outcome := &ApplyOutcome{Applied: false, Payment: current}
		if current != nil {
			outcome.StopPolling = entity.TerminalPaymentStatus(current.Status)
		}
		return outcome, nil
	}

	oldStatus := record.Status
	_ = s.eventRepo.Create(ctx, &entity.PaymentEvent{
		Reference: mutated.Reference,
		OrderID:   mutated.OrderID,
		EventType: "status_transition",
		Source:    string(update.Source),
		OldStatus: &oldStatus,
		NewStatus: mutated.Status,
		CreatedAt: now,
	})

	s.syncOrder(ctx, &mutated, now)
	s.publishTransition(&mutated, now)

	return &ApplyOutcome{Applied: true, StopPolling: true, Payment: &mutated}, nil
}

// applyOrphan handles an update whose record is gone (expired and purged, or
// never ours). The update is recorded, and when the payload names the order
// the order projection is still advanced so a late callback is not lost.
func (s *PaymentService) applyOrphan(ctx context.Context, update *StatusUpdate) *ApplyOutcome {
	s.logger.WithField("reference", update.Reference).
		WithField("source", string(update.Source)).
		WithField("order_id", update.OrderID).
		Warn("Orphan status update")

	_ = s.eventRepo.Create(ctx, &entity.PaymentEvent{
		Reference: update.Reference,
		OrderID:   update.OrderID,
		EventType: "orphan_update",
		Source:    string(update.Source),
		NewStatus: update.NewStatus,
		CreatedAt: time.Now().UTC(),
	})

	if update.OrderID != "" && entity.TerminalPaymentStatus(update.NewStatus) {
		paymentStatus, fulfillmentStatus, guard := orderProjection(update.NewStatus)
		if err := s.orderRepo.UpdatePaymentState(ctx, update.OrderID, paymentStatus, fulfillmentStatus, guard, time.Now().UTC()); err != nil {
			s.logger.WithError(err).WithField("order_id", update.OrderID).
				Error("Orphan order update failed")
		}
	}

	return &ApplyOutcome{Applied: false, StopPolling: entity.TerminalPaymentStatus(update.NewStatus)}
}

// syncOrder applies the committed record's projection to the order. Failure
// leaves the order-sync bookkeeping pending so RunOrderSyncBatch retries
// from the record, which is the source of truth once the store committed.
func (s *PaymentService) syncOrder(ctx context.Context, record *entity.PaymentRecord, now time.Time) {
	paymentStatus, fulfillmentStatus, guard := orderProjection(record.Status)

	if err := s.orderRepo.UpdatePaymentState(ctx, record.OrderID, paymentStatus, fulfillmentStatus, guard, now); err != nil {
		s.logger.WithError(err).WithField("reference", record.Reference).
			WithField("order_id", record.OrderID).
			Error("Order update failed, scheduling retry")
		s.recordOrderSyncFailure(ctx, record, now, err)
		return
	}

	record.OrderSyncStatus = entity.OrderSyncSuccess
	record.OrderSyncNextAt = nil
	record.OrderSyncLastErr = nil
	record.UpdatedAt = now
	if err := s.recordRepo.UpdateOrderSync(ctx, record); err != nil {
		s.logger.WithError(err).WithField("reference", record.Reference).
			Warn("Failed to persist order sync state")
	}
}

func (s *PaymentService) recordOrderSyncFailure(ctx context.Context, record *entity.PaymentRecord, now time.Time, syncErr error) {
	record.OrderSyncAttempts++
	trimmed := truncate(syncErr.Error(), 1024)
	record.OrderSyncLastErr = &trimmed

	maxAttempts := s.paymentsCfg.OrderSyncMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	if record.OrderSyncAttempts >= maxAttempts {
		record.OrderSyncStatus = entity.OrderSyncFailed
		record.OrderSyncNextAt = nil
	} else {
		retryInterval := s.paymentsCfg.OrderSyncRetryInterval
		if retryInterval <= 0 {
			retryInterval = time.Minute
		}
		next := now.Add(retryInterval)
		record.OrderSyncStatus = entity.OrderSyncPending
		record.OrderSyncNextAt = &next
	}
	record.UpdatedAt = now

	if err := s.recordRepo.UpdateOrderSync(ctx, record); err != nil {
		s.logger.WithError(err).WithField("reference", record.Reference).
			Warn("Failed to persist order sync failure")
	}
}

func (s *PaymentService) publishTransition(record *entity.PaymentRecord, now time.Time) {
	s.hub.Publish(record.Reference, fanout.Event{
		Reference:         record.Reference,
		Status:            mapper.PaymentStatusName(record.Status),
		AmountCents:       record.AmountCents,
		Timestamp:         now,
		ShouldStopPolling: entity.TerminalPaymentStatus(record.Status),
	})
}

func (s *PaymentService) warnOnAmountMismatch(record *entity.PaymentRecord, update *StatusUpdate) {
	if update.AmountCents <= 0 || update.AmountCents == record.AmountCents {
		return
	}
	// The provider is authoritative for settlement; a mismatch is suspicious
	// but never fatal.
	s.logger.WithField("reference", record.Reference).
		WithField("recorded_amount_cents", record.AmountCents).
		WithField("reported_amount_cents", update.AmountCents).
		Warn("Webhook amount differs from recorded amount")
}

func applyOperatorMetadata(record *entity.PaymentRecord, metadata OperatorMetadata) {
	if metadata.Operator != nil {
		record.Operator = metadata.Operator
	}
	if metadata.ProviderCode != nil {
		record.ProviderCode = metadata.ProviderCode
	}
	if metadata.OperatorReference != nil {
		record.OperatorReference = metadata.OperatorReference
	}
	if metadata.Reason != nil {
		record.FailureReason = metadata.Reason
	}
}

func orderProjection(status int32) (paymentStatus, fulfillmentStatus string, guardNotPaid bool) {
	switch status {
	case entity.PaymentStatusSuccessful:
		return entity.OrderPaymentPaid, entity.OrderFulfillmentAccepted, false
	case entity.PaymentStatusFailed, entity.PaymentStatusCancelled:
		return entity.OrderPaymentFailed, entity.OrderFulfillmentCancelled, true
	default:
		return entity.OrderPaymentPending, entity.OrderFulfillmentPending, true
	}
}

func validPaymentStatus(status int32) bool {
	switch status {
	case entity.PaymentStatusPending,
		entity.PaymentStatusSuccessful,
		entity.PaymentStatusFailed,
		entity.PaymentStatusCancelled:
		return true
	default:
		return false
	}
}
