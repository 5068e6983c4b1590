package service

import (
	"context"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-momo/app/entity"
	"github.com/vibast-solutions/ms-go-momo/app/provider"
)

// PollOnce queries the gateway for one reference and reconciles the result.
// No lock is held across the gateway call; the store's conditional update
// resolves any race with a webhook that lands in the meantime.
func (s *PaymentService) PollOnce(ctx context.Context, reference string) (*ApplyOutcome, error) {
	record, err := s.recordRepo.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrPaymentNotFound
	}
	if entity.TerminalPaymentStatus(record.Status) {
		return &ApplyOutcome{Applied: false, StopPolling: true, Payment: record}, nil
	}

	providerClient, err := s.providerReg.Get(s.providerCode())
	if err != nil {
		return nil, err
	}

	result, err := providerClient.GetPaymentStatus(ctx, reference)
	if err != nil {
		return nil, err
	}
	if result.Status == 0 {
		// Provider has nothing new; keep the stored state.
		return &ApplyOutcome{Applied: false, StopPolling: false, Payment: record}, nil
	}

	return s.ApplyStatus(ctx, &StatusUpdate{
		Reference: reference,
		NewStatus: result.Status,
		Source:    SourcePoll,
		OrderID:   record.OrderID,
		Metadata: OperatorMetadata{
			Operator:          result.Operator,
			ProviderCode:      result.ProviderCode,
			OperatorReference: result.OperatorReference,
			Reason:            result.Reason,
		},
	})
}

// RunPollBatch sweeps pending records past the webhook grace period and
// polls the ones whose schedule is due. Unchanged results back off
// exponentially per reference; terminal results stop the schedule for good.
func (s *PaymentService) RunPollBatch(ctx context.Context) error {
	now := time.Now().UTC()
	createdBefore := now.Add(-s.paymentsCfg.PollGrace)

	items, err := s.recordRepo.ListDuePoll(ctx, now, createdBefore, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, record := range items {
		if record == nil {
			continue
		}

		outcome, err := s.PollOnce(ctx, record.Reference)
		if err != nil {
			if !errors.Is(err, provider.ErrProviderUnavailable) {
				firstErr = keepFirstErr(firstErr, err)
			}
			// Transient or not, the reference stays scheduled with backoff.
			s.schedulePollBackoff(ctx, record, now)
			continue
		}
		if outcome.StopPolling {
			continue
		}

		s.schedulePollBackoff(ctx, record, now)
	}

	return firstErr
}

// RunExpirePendingBatch force-fails pending records whose TTL has elapsed,
// through the same engine entry as every other source, so the order is
// never left in pending-payment limbo.
func (s *PaymentService) RunExpirePendingBatch(ctx context.Context) error {
	now := time.Now().UTC()

	items, err := s.recordRepo.ListExpiredPending(ctx, now, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, record := range items {
		if record == nil {
			continue
		}

		reason := "expired"
		_, err := s.ApplyStatus(ctx, &StatusUpdate{
			Reference: record.Reference,
			NewStatus: entity.PaymentStatusFailed,
			Source:    SourceExpiry,
			OrderID:   record.OrderID,
			Metadata:  OperatorMetadata{Reason: &reason},
		})
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

// RunOrderSyncBatch retries order projections whose cascade failed after the
// record transition had already committed. The record is the source of
// truth; the same terminal projection is applied until it sticks.
func (s *PaymentService) RunOrderSyncBatch(ctx context.Context) error {
	now := time.Now().UTC()

	items, err := s.recordRepo.ListDueOrderSync(ctx, now, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, record := range items {
		if record == nil {
			continue
		}
		s.syncOrder(ctx, record, now)
		if record.OrderSyncStatus != entity.OrderSyncSuccess {
			firstErr = keepFirstErr(firstErr, errors.New("order sync retry failed for "+record.Reference))
		}
	}

	return firstErr
}

// RunPurgeBatch garbage-collects terminal records past the retention
// cutoff. References with live subscribers are skipped; those clients still
// expect to be able to query the record.
func (s *PaymentService) RunPurgeBatch(ctx context.Context) error {
	now := time.Now().UTC()
	cutoff := now.Add(-s.paymentsCfg.PurgeTerminalAfter)

	items, err := s.recordRepo.ListPurgeableTerminal(ctx, cutoff, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, record := range items {
		if record == nil {
			continue
		}
		if s.hub.HasSubscribers(record.Reference) {
			continue
		}
		if err := s.recordRepo.Delete(ctx, record.Reference); err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		s.logger.WithField("reference", record.Reference).Debug("Purged terminal record")
	}

	return firstErr
}

func (s *PaymentService) schedulePollBackoff(ctx context.Context, record *entity.PaymentRecord, now time.Time) {
	attempts := record.PollAttempts + 1

	interval := s.paymentsCfg.PollBaseInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	// An unset max must still cap the doubling, or the interval overflows
	// negative after enough attempts and the sweep polls every batch.
	maxInterval := s.paymentsCfg.PollMaxInterval
	if maxInterval <= 0 {
		maxInterval = time.Hour
	}
	for i := int32(1); i < attempts; i++ {
		interval *= 2
		if interval >= maxInterval {
			interval = maxInterval
			break
		}
	}

	next := now.Add(interval)
	if err := s.recordRepo.SchedulePoll(ctx, record.Reference, attempts, &next, now); err != nil {
		s.logger.WithError(err).WithField("reference", record.Reference).
			Warn("Failed to persist poll schedule")
	}
}
